package scraping

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure for the transport layer.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindCredentialNotConfigured
	KindCredentialUnavailable
	KindExtraction
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindCredentialNotConfigured:
		return "credential_not_configured"
	case KindCredentialUnavailable:
		return "credential_unavailable"
	case KindExtraction:
		return "extraction"
	case KindNotFound:
		return "not_found"
	default:
		return "internal"
	}
}

// HTTPStatus maps the kind to a response status.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation, KindCredentialNotConfigured:
		return http.StatusBadRequest
	case KindCredentialUnavailable, KindExtraction:
		return http.StatusBadGateway
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Error is returned by Service operations. Message is safe to show to
// callers; Err carries the underlying cause for logs.
type Error struct {
	Kind      Kind
	Message   string
	RequestID string
	RunID     string
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("scraping: %s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("scraping: %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of err, or KindInternal when err is not an *Error.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindInternal
}

func validationError(msg string, err error) *Error {
	return &Error{Kind: KindValidation, Message: msg, Err: err}
}

func internalError(msg string, err error) *Error {
	return &Error{Kind: KindInternal, Message: msg, Err: err}
}
