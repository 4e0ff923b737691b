package draft

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormTypeFor(t *testing.T) {
	tests := []struct {
		verification, outcome string
		want                  string
	}{
		{"Residence", "Positive", FormResidencePositive},
		{"Residence", "Entry Restricted", FormResidenceEntryRestricted},
		{"  Office ", "NSP", FormOfficeNSP},
		{"Residence cum Office", "Untraceable", FormResiCumOfficeUntraceable},
		{"DSA", "Shifted", FormDSAShifted},
		{"Property APF", "Positive   Negative", FormPropertyAPFPositiveNegative},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			got := FormTypeFor(tt.verification, tt.outcome)
			assert.Equal(t, tt.want, got)
			assert.True(t, IsKnownFormType(got))
		})
	}
}

func TestFormTypeFor_Unknown(t *testing.T) {
	got := FormTypeFor("Vehicle", "Positive")
	assert.Equal(t, "vehicle-positive", got)
	assert.False(t, IsKnownFormType(got))
}

func TestFormTypes(t *testing.T) {
	types := FormTypes()
	assert.Len(t, types, 42)
	assert.Equal(t, FormResidencePositive, types[0])

	seen := make(map[string]bool, len(types))
	for _, ft := range types {
		assert.False(t, seen[ft], "duplicate form type %s", ft)
		seen[ft] = true
	}

	// Callers get a copy.
	types[0] = "mutated"
	assert.Equal(t, FormResidencePositive, FormTypes()[0])
}
