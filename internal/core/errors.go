package core

import (
	"errors"
	"fmt"
	"strings"
)

// Error taxonomy for the document engine. Callers are expected to match
// with errors.Is; every service wraps these with operation context.
var (
	// ErrNotFound covers absent rows and rows owned by another company,
	// indistinguishably, so another tenant's ids leak nothing.
	ErrNotFound = errors.New("not found")

	ErrNotEditable  = errors.New("document is not editable")
	ErrNotDeletable = errors.New("document cannot be deleted")
	ErrInvalidState = errors.New("operation not allowed in current document state")

	ErrDuplicatePrefix = errors.New("a series with this prefix already exists for the company")
	ErrNoDefaultSeries = errors.New("no unambiguous active series for this document type")

	ErrInconsistentBulkConversion = errors.New("bulk conversion requires a single client and a single currency")

	ErrScheduleNotDue = errors.New("recurring schedule is not due")
)

// FieldError is a single field-level validation failure, surfaced as data
// rather than prose so an API layer can map it onto form fields.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type ValidationResult struct {
	Valid  bool         `json:"valid"`
	Errors []FieldError `json:"errors,omitempty"`
}

func (r *ValidationResult) add(field, message string) {
	r.Valid = false
	r.Errors = append(r.Errors, FieldError{Field: field, Message: message})
}

// ValidationError carries a ValidationResult through an error return.
// Retrieve it with errors.As.
type ValidationError struct {
	Result ValidationResult
}

func (e *ValidationError) Error() string {
	if len(e.Result.Errors) == 0 {
		return "validation failed"
	}
	parts := make([]string, 0, len(e.Result.Errors))
	for _, fe := range e.Result.Errors {
		parts = append(parts, fmt.Sprintf("%s: %s", fe.Field, fe.Message))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}
