package utils

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/textproto"
	"strings"
)

// Error categories, usable with errors.Is.
var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrStorage    = errors.New("storage failure")
	ErrTransport  = errors.New("transport failure")
)

// ValidationError is returned for rejected input. Nothing was written.
type ValidationError struct {
	Problems []string
}

func NewValidationError(problems ...string) error {
	return &ValidationError{Problems: problems}
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Problems, ", ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// NotFoundError is returned when a referenced record does not exist.
type NotFoundError struct {
	Resource string
	ID       interface{}
}

func NewNotFoundError(resource string, id interface{}) error {
	return &NotFoundError{Resource: resource, ID: id}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %v not found", e.Resource, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// StorageError wraps a failed read or write against the database.
type StorageError struct {
	Op  string
	Err error
}

func NewStorageError(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// TransportError is a failed delivery attempt. Temporary failures are worth
// another attempt; permanent ones are not.
type TransportError struct {
	Code      int // SMTP reply code, 0 when the failure happened before a reply
	Temporary bool
	Err       error
}

func (e *TransportError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("smtp %d: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("send failed: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// RecipientRejected reports whether the server refused the mailbox itself.
func (e *TransportError) RecipientRejected() bool {
	switch e.Code {
	case 550, 551, 553:
		return true
	}
	return false
}

// ClassifyTransportError turns a mail transport failure into a TransportError.
func ClassifyTransportError(err error) *TransportError {
	if err == nil {
		return nil
	}

	var te *TransportError
	if errors.As(err, &te) {
		return te
	}

	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		return &TransportError{Code: protoErr.Code, Temporary: isTemporaryCode(protoErr.Code), Err: err}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &TransportError{Temporary: true, Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return &TransportError{Temporary: true, Err: err}
	}

	return &TransportError{Temporary: isTemporaryMessage(err.Error()), Err: err}
}

func isTemporaryCode(code int) bool {
	switch {
	case code >= 400 && code < 500:
		return true
	case code == 530, code == 534, code == 535:
		// credentials problems are fixed by an operator, keep the job alive
		return true
	}
	return false
}

func isTemporaryMessage(msg string) bool {
	msg = strings.ToLower(msg)

	permanent := []string{"550", "551", "552", "553", "554", "5.1.", "5.7."}
	for _, p := range permanent {
		if strings.Contains(msg, p) {
			return false
		}
	}

	// unknown failures without a reply code are usually connection problems
	return true
}
