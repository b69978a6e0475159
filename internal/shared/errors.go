package shared

import (
	"fmt"
	"strings"
)

// ValidationError reports malformed input per field. It is raised before any
// mutation, so a validation failure never leaves partial state behind.
type ValidationError struct {
	Fields map[string]string
}

// NewValidationError builds a single-field validation error.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: message}}
}

// NewValidationErrors wraps a set of collected field failures.
func NewValidationErrors(fields map[string]string) *ValidationError {
	return &ValidationError{Fields: fields}
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	parts := make([]string, 0, len(e.Fields))
	for field, msg := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", field, msg))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}
