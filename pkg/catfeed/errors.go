package catfeed

import (
	"errors"
	"fmt"
)

// InvalidArgumentMessage is the exact text reported for any malformed batch.
const InvalidArgumentMessage = "Invalid arguments. Must include 'messages' JSON array with 'value' field"

var (
	// ErrInvalidArgument is the single error kind returned by validation.
	ErrInvalidArgument = errors.New(InvalidArgumentMessage)

	// ErrMalformedMessage is only produced in ValidateFirst mode, when a message
	// past the first one turns out to be unusable during extraction.
	ErrMalformedMessage = errors.New("malformed message in batch")
)

// ValidationError records where a batch failed validation. Its Error text is
// always InvalidArgumentMessage; the index and reason are for logs.
type ValidationError struct {
	// Index of the offending message, or -1 when the batch itself is unusable.
	Index  int
	Reason string
}

func (e *ValidationError) Error() string { return InvalidArgumentMessage }

// Unwrap lets errors.Is(err, ErrInvalidArgument) match.
func (e *ValidationError) Unwrap() error { return ErrInvalidArgument }

// Detail describes the violation for diagnostics.
func (e *ValidationError) Detail() string {
	if e.Index < 0 {
		return e.Reason
	}
	return fmt.Sprintf("messages[%d]: %s", e.Index, e.Reason)
}

func invalid(index int, reason string) error {
	return &ValidationError{Index: index, Reason: reason}
}
