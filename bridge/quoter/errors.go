package quoter

import (
	"errors"
	"fmt"
)

// Kind is the category of a quote failure.
type Kind string

const (
	KindInvalidRequest   Kind = "invalid_request"
	KindPriceUnavailable Kind = "price_unavailable"
	KindUnsupportedRoute Kind = "unsupported_route"
)

// Sentinels for errors.Is checks against *Error.
var (
	ErrInvalidRequest   = errors.New("invalid request")
	ErrPriceUnavailable = errors.New("price unavailable")
	ErrUnsupportedRoute = errors.New("unsupported route")
)

// Error is returned by ComputeQuote. Field names the offending request field for
// InvalidRequest and the symbol for PriceUnavailable.
type Error struct {
	Kind  Kind
	Field string
	Err   error
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Field, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the error's kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrInvalidRequest:
		return e.Kind == KindInvalidRequest
	case ErrPriceUnavailable:
		return e.Kind == KindPriceUnavailable
	case ErrUnsupportedRoute:
		return e.Kind == KindUnsupportedRoute
	}
	return false
}

func invalid(field string, format string, args ...any) *Error {
	return &Error{Kind: KindInvalidRequest, Field: field, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of a quote error, or "" for anything else.
func KindOf(err error) Kind {
	var qe *Error
	if errors.As(err, &qe) {
		return qe.Kind
	}
	return ""
}
