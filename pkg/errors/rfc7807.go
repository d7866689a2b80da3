// Package errors provides typed domain errors rendered as RFC 7807 Problem Details
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Standard error functions
var (
	Is     = errors.Is
	As     = errors.As
	Join   = errors.Join
	Unwrap = errors.Unwrap
)

// Error kinds
const (
	KindValidation           = "ValidationError"
	KindInsufficientFunds    = "InsufficientFunds"
	KindInsufficientPosition = "InsufficientPosition"
	KindNoPriceAvailable     = "NoPriceAvailable"
	KindInvalidState         = "InvalidState"
	KindNotFound             = "NotFound"
	KindForbidden            = "Forbidden"
	KindInternal             = "InternalError"
)

// Sentinels for errors.Is checks. Use Explain to attach a message.
var (
	Validation           = NewWithKind(KindValidation)
	InsufficientFunds    = NewWithKind(KindInsufficientFunds)
	InsufficientPosition = NewWithKind(KindInsufficientPosition)
	NoPriceAvailable     = NewWithKind(KindNoPriceAvailable)
	InvalidState         = NewWithKind(KindInvalidState)
	NotFound             = NewWithKind(KindNotFound)
	Forbidden            = NewWithKind(KindForbidden)
	Internal             = NewWithKind(KindInternal)
)

// FieldError represents a validation error for a specific field
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (f FieldError) Error() string {
	return fmt.Sprintf("%s: %s", f.Field, f.Message)
}

// Error is a custom error type for passing more information
type Error struct {
	// Kind is the returned error type
	Kind string `json:"kind"`
	// Message is the human readable string that indicate the error
	Message string `json:"message"`
	// Fields used when there's validation error for a field.
	Fields []FieldError `json:"fields,omitempty"`

	cause error
}

var _ error = (*Error)(nil)

func NewWithKind(kind string) *Error {
	return &Error{Kind: kind}
}

// Wrap returns an InternalError carrying err as its cause.
func Wrap(err error) *Error {
	return &Error{Kind: KindInternal, cause: err}
}

// Error implements error
func (e *Error) Error() string {
	str := fmt.Sprintf("[%s]", e.Kind)
	if e.Message != "" {
		str += " " + e.Message
	}
	if e.cause != nil {
		str += fmt.Sprintf(" (%s)", e.cause)
	}
	return str
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Wrap returns a copy of the error with the given cause
func (e *Error) Wrap(cause error) *Error {
	err := *e
	err.cause = cause
	return &err
}

// Explain makes a copy of the error with given message
func (e *Error) Explain(message string, args ...any) *Error {
	err := *e
	err.Message = fmt.Sprintf(message, args...)
	return &err
}

// WithField returns a copy of error with one more field error.
func (e *Error) WithField(field, message string) *Error {
	err := *e
	err.Fields = append(append([]FieldError(nil), e.Fields...), FieldError{Field: field, Message: message})
	return &err
}

// Is implements the needed interface for errors.Is
// It compares kinds
func (e *Error) Is(target error) bool {
	if e == nil {
		return target == nil
	}
	if other, ok := target.(*Error); ok {
		return other.Kind == e.Kind
	}
	return false
}

// KindOf returns the kind of the first *Error in err's chain, or
// InternalError for anything untyped.
func KindOf(err error) string {
	var e *Error
	if As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Problem type URIs
const (
	TypeValidationError      = "https://api.tradecore.io/problems/validation-error"
	TypeInsufficientFunds    = "https://api.tradecore.io/problems/insufficient-funds"
	TypeInsufficientPosition = "https://api.tradecore.io/problems/insufficient-position"
	TypeNoPriceAvailable     = "https://api.tradecore.io/problems/no-price-available"
	TypeInvalidState         = "https://api.tradecore.io/problems/invalid-state"
	TypeNotFound             = "https://api.tradecore.io/problems/not-found"
	TypeForbidden            = "https://api.tradecore.io/problems/forbidden"
	TypeInternalError        = "https://api.tradecore.io/problems/internal-error"
)

type problemKind struct {
	typ    string
	title  string
	status int
}

var problemKinds = map[string]problemKind{
	KindValidation:           {TypeValidationError, "Validation Error", http.StatusBadRequest},
	KindInsufficientFunds:    {TypeInsufficientFunds, "Insufficient Funds", http.StatusUnprocessableEntity},
	KindInsufficientPosition: {TypeInsufficientPosition, "Insufficient Position", http.StatusUnprocessableEntity},
	KindNoPriceAvailable:     {TypeNoPriceAvailable, "No Price Available", http.StatusConflict},
	KindInvalidState:         {TypeInvalidState, "Invalid State", http.StatusConflict},
	KindNotFound:             {TypeNotFound, "Not Found", http.StatusNotFound},
	KindForbidden:            {TypeForbidden, "Forbidden", http.StatusForbidden},
	KindInternal:             {TypeInternalError, "Internal Server Error", http.StatusInternalServerError},
}

// HTTPStatus returns the response status for an error kind.
func HTTPStatus(kind string) int {
	if pk, ok := problemKinds[kind]; ok {
		return pk.status
	}
	return http.StatusInternalServerError
}

// ProblemDetails represents an RFC 7807 Problem Details response
type ProblemDetails struct {
	Type     string                 `json:"type"`
	Title    string                 `json:"title"`
	Status   int                    `json:"status"`
	Detail   string                 `json:"detail,omitempty"`
	Instance string                 `json:"instance,omitempty"`
	TraceID  string                 `json:"trace_id,omitempty"`
	Errors   []FieldError           `json:"errors,omitempty"`
	Extra    map[string]interface{} `json:"-"`
}

// Error implements the error interface
func (p *ProblemDetails) Error() string {
	return p.Detail
}

// WithTraceID adds a trace ID to the problem details
func (p *ProblemDetails) WithTraceID(traceID string) *ProblemDetails {
	p.TraceID = traceID
	return p
}

// WithExtra adds extra fields to the problem details (they will be serialized at the top level)
func (p *ProblemDetails) WithExtra(key string, value interface{}) *ProblemDetails {
	if p.Extra == nil {
		p.Extra = make(map[string]interface{})
	}
	p.Extra[key] = value
	return p
}

// MarshalJSON implements custom JSON marshaling to include extra fields at the top level
func (p *ProblemDetails) MarshalJSON() ([]byte, error) {
	result := make(map[string]interface{})
	result["type"] = p.Type
	result["title"] = p.Title
	result["status"] = p.Status
	if p.Detail != "" {
		result["detail"] = p.Detail
	}
	if p.Instance != "" {
		result["instance"] = p.Instance
	}
	if p.TraceID != "" {
		result["trace_id"] = p.TraceID
	}
	if len(p.Errors) > 0 {
		result["errors"] = p.Errors
	}
	for k, v := range p.Extra {
		result[k] = v
	}
	return json.Marshal(result)
}

// NewProblem builds problem details for the given error. Internal errors
// never expose their cause.
func NewProblem(err error, instance string) *ProblemDetails {
	var e *Error
	if !As(err, &e) {
		e = Wrap(err)
	}
	pk, ok := problemKinds[e.Kind]
	if !ok {
		pk = problemKinds[KindInternal]
	}
	p := &ProblemDetails{
		Type:     pk.typ,
		Title:    pk.title,
		Status:   pk.status,
		Instance: instance,
		Errors:   e.Fields,
	}
	if pk.status == http.StatusInternalServerError {
		p.Detail = "an internal error occurred"
	} else {
		p.Detail = e.Message
	}
	p.WithExtra("kind", e.Kind)
	return p
}
