package auth

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation matches every *ValidationError.
	ErrValidation = errors.New("invalid input")

	// ErrAuthRejected matches every *RejectedError.
	ErrAuthRejected = errors.New("authentication rejected")

	// ErrAuthUnavailable means the server could not be reached or answered
	// with something unreadable.
	ErrAuthUnavailable = errors.New("authentication service unavailable, please try again")
)

// ValidationError is a field-level problem found before any request is sent.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// RejectedError is a server refusal. Reason is the server's message and is
// meant to be shown to the user verbatim.
type RejectedError struct {
	Status int
	Reason string
}

func (e *RejectedError) Error() string {
	return e.Reason
}

func (e *RejectedError) Is(target error) bool {
	return target == ErrAuthRejected
}
