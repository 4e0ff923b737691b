package draft

import (
	"errors"
	"fmt"
)

// ErrUnsupportedVersion marks a record written by a schema this build does not read.
var ErrUnsupportedVersion = errors.New("unsupported record version")

// ErrInvalidRecord marks a record that decoded but is structurally unusable.
var ErrInvalidRecord = errors.New("invalid record")

// Validate checks a decoded record. It fails closed: unknown versions are
// never coerced.
func Validate(r *Record) error {
	if r == nil {
		return fmt.Errorf("%w: nil", ErrInvalidRecord)
	}
	if r.Version != RecordVersion {
		return fmt.Errorf("%w: got %d, want %d", ErrUnsupportedVersion, r.Version, RecordVersion)
	}
	if err := r.Key().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	if r.LastSaved.IsZero() {
		return fmt.Errorf("%w: lastSaved missing", ErrInvalidRecord)
	}
	if r.Images == nil {
		return fmt.Errorf("%w: images missing", ErrInvalidRecord)
	}
	return nil
}
