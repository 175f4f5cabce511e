package suggestion

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyList means the response held no usable suggestion list
	ErrEmptyList = errors.New("no suggestions in response")

	// ErrMissingRequiredField marks an item dropped during normalization
	ErrMissingRequiredField = errors.New("missing required field")

	// ErrTransportFailure is the kind shared by every collaborator call failure
	ErrTransportFailure = errors.New("transport failure")
)

// FieldError describes one response item that could not be normalized
type FieldError struct {
	Index   int    `json:"index" yaml:"index"`
	Field   string `json:"field" yaml:"field"`
	Message string `json:"message" yaml:"message"`
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("item %d: %s: %s", e.Index, e.Field, e.Message)
}

func (e *FieldError) Unwrap() error {
	return ErrMissingRequiredField
}
