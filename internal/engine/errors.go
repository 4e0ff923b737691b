package engine

import (
	"errors"
	"fmt"

	"github.com/caseflow/fieldsave/internal/draft"
)

// ErrNoDraft is returned by Inspect when no record is stored for the key.
var ErrNoDraft = errors.New("no draft")

// DraftError represents a failure reading or writing a draft.
//
// Draft errors include:
//   - Storage write: the backend rejected a write (quota, I/O)
//   - Decryption: ciphertext corrupted or sealed under another key
//   - Deserialization: plaintext is not a record
//   - Version mismatch: record written by an unknown schema version
//   - Invalid record: decoded but structurally unusable
type DraftError struct {
	// Code identifies the error category.
	Code DraftErrorCode

	// Message is a human-readable description.
	Message string

	// Key identifies the affected draft.
	Key draft.Key

	// Err is the underlying cause, if any.
	Err error
}

// DraftErrorCode categorizes draft errors.
type DraftErrorCode string

const (
	// ErrCodeStorageWrite indicates the backend rejected a write or delete.
	ErrCodeStorageWrite DraftErrorCode = "STORAGE_WRITE"

	// ErrCodeStorageRead indicates the backend failed to read.
	ErrCodeStorageRead DraftErrorCode = "STORAGE_READ"

	// ErrCodeDecryption indicates the stored ciphertext could not be opened.
	ErrCodeDecryption DraftErrorCode = "DECRYPTION"

	// ErrCodeDeserialization indicates the plaintext is not a valid record.
	ErrCodeDeserialization DraftErrorCode = "DESERIALIZATION"

	// ErrCodeVersionMismatch indicates an unsupported record version.
	ErrCodeVersionMismatch DraftErrorCode = "VERSION_MISMATCH"

	// ErrCodeInvalidRecord indicates a structurally invalid record.
	ErrCodeInvalidRecord DraftErrorCode = "INVALID_RECORD"

	// ErrCodeInvalidInput indicates a bad key or unserializable form data.
	ErrCodeInvalidInput DraftErrorCode = "INVALID_INPUT"

	// ErrCodeEngineClosed indicates the engine has been closed.
	ErrCodeEngineClosed DraftErrorCode = "ENGINE_CLOSED"
)

// Error implements the error interface.
func (e *DraftError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Key != (draft.Key{}) {
		msg = fmt.Sprintf("%s (draft=%s)", msg, e.Key)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *DraftError) Unwrap() error {
	return e.Err
}

// CodeOf returns the DraftErrorCode of err, or "" if err is not a DraftError.
// Uses errors.As to handle wrapped errors.
func CodeOf(err error) DraftErrorCode {
	var de *DraftError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// IsWriteError returns true if err reports a failed physical write.
func IsWriteError(err error) bool {
	return CodeOf(err) == ErrCodeStorageWrite
}

// IsCorruption returns true if err reports an unreadable stored record.
func IsCorruption(err error) bool {
	switch CodeOf(err) {
	case ErrCodeDecryption, ErrCodeDeserialization, ErrCodeVersionMismatch, ErrCodeInvalidRecord:
		return true
	}
	return false
}

func newWriteError(key draft.Key, err error) *DraftError {
	return &DraftError{
		Code:    ErrCodeStorageWrite,
		Message: "failed to persist draft",
		Key:     key,
		Err:     err,
	}
}

func newClosedError(key draft.Key) *DraftError {
	return &DraftError{
		Code:    ErrCodeEngineClosed,
		Message: "engine is closed",
		Key:     key,
	}
}
