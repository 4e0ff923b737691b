package draft

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fingerprint(t *testing.T, formData string, images []CapturedImage) string {
	t.Helper()
	fp, err := Fingerprint(json.RawMessage(formData), images)
	require.NoError(t, err)
	return fp
}

func TestFingerprint_IgnoresKeyOrderAndNormalization(t *testing.T) {
	a := fingerprint(t, `{"houseStatus":"Opened","metPerson":"José"}`, nil)
	b := fingerprint(t, `{"metPerson":"José","houseStatus":"Opened"}`, nil)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)

	composed := fingerprint(t, "{\"metPerson\":\"Jos\u00e9\"}", nil)
	decomposed := fingerprint(t, "{\"metPerson\":\"Jose\u0301\"}", nil)
	assert.Equal(t, composed, decomposed)
	assert.NotEqual(t, composed, fingerprint(t, `{"metPerson":"Jose"}`, nil))
}

func TestFingerprint_DetectsChanges(t *testing.T) {
	img := CapturedImage{ID: "img-1", DataURL: "data:image/jpeg;base64,AAAA", Latitude: 1, Longitude: 2, Timestamp: "2026-01-02T09:00:00Z"}

	base := fingerprint(t, `{"houseStatus":"Opened"}`, nil)
	assert.NotEqual(t, base, fingerprint(t, `{"houseStatus":"Closed"}`, nil))
	assert.NotEqual(t, base, fingerprint(t, `{"houseStatus":"Opened"}`, []CapturedImage{img}))

	moved := img
	moved.Latitude = 1.5
	assert.NotEqual(t,
		fingerprint(t, `{}`, []CapturedImage{img}),
		fingerprint(t, `{}`, []CapturedImage{moved}))
}

func TestFingerprint_NilAndEmptyImagesMatch(t *testing.T) {
	assert.Equal(t,
		fingerprint(t, `{"a":1}`, nil),
		fingerprint(t, `{"a":1}`, []CapturedImage{}))
}

func TestFingerprint_EmptyFormDataIsNull(t *testing.T) {
	assert.Equal(t, fingerprint(t, "", nil), fingerprint(t, "null", nil))
}

func TestFingerprint_InvalidJSON(t *testing.T) {
	_, err := Fingerprint(json.RawMessage(`{"a":`), nil)
	require.Error(t, err)
}

func TestHasContent(t *testing.T) {
	tests := []struct {
		name     string
		formData string
		images   []CapturedImage
		want     bool
	}{
		{"empty raw", "", nil, false},
		{"null", "null", nil, false},
		{"empty object", `{}`, nil, false},
		{"blank fields", `{"a":"","b":null,"c":[],"d":{}}`, nil, false},
		{"one value", `{"a":"","b":"x"}`, nil, true},
		{"false counts", `{"consent":false}`, nil, true},
		{"zero counts", `{"floors":0}`, nil, true},
		{"image only", `{}`, []CapturedImage{{ID: "i"}}, true},
		{"scalar", `"text"`, nil, true},
		{"empty string scalar", `""`, nil, false},
		{"invalid", `{`, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HasContent(json.RawMessage(tt.formData), tt.images))
		})
	}
}
