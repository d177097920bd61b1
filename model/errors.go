package model

import (
	"errors"
	"strings"
)

// ErrInvalidModel indicates a model definition error.
var ErrInvalidModel = errors.New("model: invalid model")

// SchemaError represents an entity type definition error.
type SchemaError struct {
	Type    string // Entity type name
	Member  string // Property or navigation name (if applicable)
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *SchemaError) Error() string {
	var b strings.Builder
	b.WriteString("model: schema error")
	if e.Type != "" {
		b.WriteString(" on type ")
		b.WriteString(e.Type)
	}
	if e.Member != "" {
		b.WriteString(" member ")
		b.WriteString(e.Member)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error.
func (e *SchemaError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches the sentinel error for SchemaError.
func (e *SchemaError) Is(target error) bool {
	return target == ErrInvalidModel
}

// NewSchemaError creates a new SchemaError.
func NewSchemaError(typeName, member, message string, cause error) *SchemaError {
	return &SchemaError{
		Type:    typeName,
		Member:  member,
		Message: message,
		Cause:   cause,
	}
}
