// Package errs holds the error types shared by the upload packages.
//
// A ValidationError is returned before any request is made. A
// TransferError wraps the failure of a remote request and carries the
// detail the server sent back. Cancellation is never reported as an
// error.
package errs

import (
	"errors"
	"fmt"
)

// ValidationError is returned when an input is rejected locally.
//
// The Reason is the whole message shown to the user so it should make
// sense without the Field.
type ValidationError struct {
	Field  string // what was rejected, eg "file" or "folder name"
	Reason string // human readable reason, shown to the user as is
}

// Error satisfies the error interface
func (e *ValidationError) Error() string {
	return e.Reason
}

// NewValidation makes a new ValidationError
func NewValidation(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// TransferError is returned when a chunk or folder request fails
type TransferError struct {
	Op  string // operation which failed, eg "upload chunk 3/7"
	Err error  // underlying error, usually an api.Error
}

// Error satisfies the error interface
func (e *TransferError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error
func (e *TransferError) Unwrap() error {
	return e.Err
}

// NewTransfer wraps err as a TransferError. It returns nil if err is nil.
func NewTransfer(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransferError{Op: op, Err: err}
}

// IsValidation returns true if err is or wraps a ValidationError
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsTransfer returns true if err is or wraps a TransferError
func IsTransfer(err error) bool {
	var t *TransferError
	return errors.As(err, &t)
}
