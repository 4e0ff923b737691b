package draft

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Key identifies a draft: one per (case, form type).
type Key struct {
	CaseID   string
	FormType string
}

// NewKey builds a Key.
func NewKey(caseID, formType string) Key {
	return Key{CaseID: caseID, FormType: formType}
}

// String renders the key as "case/form" for logs.
func (k Key) String() string {
	return k.CaseID + "/" + k.FormType
}

// Validate checks that both halves of the key are present and that the case
// id cannot be confused with the storage key separator.
func (k Key) Validate() error {
	if k.CaseID == "" {
		return fmt.Errorf("case id is required")
	}
	if strings.Contains(k.CaseID, KeySeparator) {
		return fmt.Errorf("case id %q must not contain %q", k.CaseID, KeySeparator)
	}
	if k.FormType == "" {
		return fmt.Errorf("form type is required")
	}
	return nil
}

// ComponentType distinguishes regular photos from selfies.
type ComponentType string

const (
	ComponentPhoto  ComponentType = "photo"
	ComponentSelfie ComponentType = "selfie"
)

// CapturedImage is a geotagged photo attached to a draft.
type CapturedImage struct {
	ID            string        `json:"id"`
	DataURL       string        `json:"dataUrl"`
	Latitude      float64       `json:"latitude"`
	Longitude     float64       `json:"longitude"`
	Timestamp     string        `json:"timestamp"`
	ComponentType ComponentType `json:"componentType,omitempty"`
}

// Metadata is diagnostic only; nothing branches on it.
type Metadata struct {
	ClientInfo  string    `json:"clientInfo"`
	CapturedAt  time.Time `json:"capturedAt"`
	FormVersion string    `json:"formVersion"`
}

// Record is the unit of persistence (an AutoSaveRecord).
type Record struct {
	CaseID     string          `json:"caseId"`
	FormType   string          `json:"formType"`
	FormData   json.RawMessage `json:"formData"`
	Images     []CapturedImage `json:"images"`
	LastSaved  time.Time       `json:"lastSaved"`
	Version    int             `json:"version"`
	IsComplete bool            `json:"isComplete"`
	Metadata   Metadata        `json:"metadata"`
}

// Key returns the record's natural key.
func (r *Record) Key() Key {
	return Key{CaseID: r.CaseID, FormType: r.FormType}
}

// Clone returns a deep copy so callers never share slices with the engine.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.FormData = CloneRaw(r.FormData)
	c.Images = CloneImages(r.Images)
	return &c
}

// CloneImages copies images by value. A nil input yields an empty, non-nil slice.
func CloneImages(images []CapturedImage) []CapturedImage {
	out := make([]CapturedImage, len(images))
	copy(out, images)
	return out
}

// CloneRaw copies a raw JSON payload.
func CloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	out := make(json.RawMessage, len(raw))
	copy(out, raw)
	return out
}

// EncodeFormData serializes arbitrary form state to JSON. Values that are
// already raw JSON are validated and compacted instead of re-encoded.
func EncodeFormData(formData any) (json.RawMessage, error) {
	switch v := formData.(type) {
	case nil:
		return json.RawMessage("null"), nil
	case json.RawMessage:
		return compactRaw(v)
	case []byte:
		return compactRaw(v)
	}
	data, err := json.Marshal(formData)
	if err != nil {
		return nil, fmt.Errorf("encode form data: %w", err)
	}
	return json.RawMessage(data), nil
}

func compactRaw(raw []byte) (json.RawMessage, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return json.RawMessage("null"), nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil, fmt.Errorf("encode form data: %w", err)
	}
	return json.RawMessage(buf.Bytes()), nil
}
