package reviewable

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound         = errors.New("reviewable not found")
	ErrNotEditable      = errors.New("field is not editable")
	ErrInvalidAction    = errors.New("invalid action")
	ErrUpdateConflict   = errors.New("reviewable was modified by someone else")
	ErrValidationFailed = errors.New("validation failed")
	ErrInvalidFilter    = errors.New("invalid filter")
	ErrDuplicateScore   = errors.New("user already scored this reviewable")
	ErrUnknownKind      = errors.New("unknown reviewable type")
	ErrBusinessRule     = errors.New("action rejected by business rule")
)

// Field error codes produced by the engine.
const (
	CodeInvalidType = "invalid_type"
	CodeConstraint  = "constraint"
	CodeEmpty       = "empty"
	// CodeAlreadyPending means another pending item covers the same target.
	CodeAlreadyPending = "already_pending"
)

// FieldError is one per-field failure.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

func (e FieldError) String() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Field, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Code)
}

func joinFieldErrors(errs []FieldError) string {
	parts := make([]string, len(errs))
	for i, e := range errs {
		parts[i] = e.String()
	}
	return strings.Join(parts, "; ")
}

// NotEditableError names the first edit path the viewer may not write.
type NotEditableError struct {
	Field string
}

func (e *NotEditableError) Error() string {
	return fmt.Sprintf("field %q is not editable", e.Field)
}

func (e *NotEditableError) Unwrap() error { return ErrNotEditable }

// ValidationError carries every field failure of an update.
type ValidationError struct {
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	return "validation failed: " + joinFieldErrors(e.Errors)
}

func (e *ValidationError) Unwrap() error { return ErrValidationFailed }

// InvalidFilterError names a query parameter that could not be parsed.
type InvalidFilterError struct {
	Param string
	Value string
}

func (e *InvalidFilterError) Error() string {
	return fmt.Sprintf("invalid %s filter %q", e.Param, e.Value)
}

func (e *InvalidFilterError) Unwrap() error { return ErrInvalidFilter }

// InvalidActionError names an action that is not available to the viewer.
type InvalidActionError struct {
	Action string
	Status Status
}

func (e *InvalidActionError) Error() string {
	return fmt.Sprintf("action %q is not available in status %s", e.Action, e.Status)
}

func (e *InvalidActionError) Unwrap() error { return ErrInvalidAction }

// BusinessRuleError is returned by action handlers to abort the transition.
// The enclosing transaction rolls back and the caller receives an unsuccessful
// ActionResult rather than an error.
type BusinessRuleError struct {
	Errors []FieldError
}

// NewBusinessRuleError builds a single-field business failure.
func NewBusinessRuleError(field, code, message string) *BusinessRuleError {
	return &BusinessRuleError{Errors: []FieldError{{Field: field, Code: code, Message: message}}}
}

func (e *BusinessRuleError) Error() string {
	return "business rule: " + joinFieldErrors(e.Errors)
}

func (e *BusinessRuleError) Unwrap() error { return ErrBusinessRule }
