package securestore

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by GetRaw when no value exists for the key.
var ErrNotFound = errors.New("not found")

// ReadStage identifies where a read failed.
type ReadStage string

const (
	StageBackend ReadStage = "backend"
	StageDecrypt ReadStage = "decrypt"
	StageDecode  ReadStage = "decode"
)

// ReadError reports a stored value that could not be read back.
type ReadError struct {
	Key   string
	Stage ReadStage
	Err   error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read %q: %s: %v", e.Key, e.Stage, e.Err)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}

// WriteError reports a value that could not be persisted.
type WriteError struct {
	Key string
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %q: %v", e.Key, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// IsWriteError reports whether err is (or wraps) a *WriteError.
func IsWriteError(err error) bool {
	var we *WriteError
	return errors.As(err, &we)
}
