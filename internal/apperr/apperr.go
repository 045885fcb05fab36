// Package apperr classifies failures so that every layer can report them
// consistently: validation problems go back to the caller as 4xx, provider and
// configuration problems as 5xx.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the broad class of a failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindSizeLimit
	KindProvider
	KindConfiguration
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindSizeLimit:
		return "size_limit"
	case KindProvider:
		return "provider"
	case KindConfiguration:
		return "configuration"
	default:
		return "unknown"
	}
}

// Error is a classified failure. Msg is safe to show to end users; Err carries
// the underlying cause for logs.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Msg
	}
	if e.Msg == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Msg, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Validationf reports bad input: missing fields, unsupported media kinds, too many items.
func Validationf(format string, args ...any) error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

// SizeLimitf reports an item or request that is over a byte ceiling.
func SizeLimitf(format string, args ...any) error {
	return &Error{Kind: KindSizeLimit, Msg: fmt.Sprintf(format, args...)}
}

// Configurationf reports a missing or invalid setting discovered at use time.
func Configurationf(format string, args ...any) error {
	return &Error{Kind: KindConfiguration, Msg: fmt.Sprintf(format, args...)}
}

// Provider wraps a failure returned by the storage provider or its auth layer.
// Already-classified errors are returned unchanged.
func Provider(msg string, err error) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return err
	}
	return &Error{Kind: KindProvider, Msg: msg, Err: err}
}

// KindOf returns the kind of the first classified error in err's chain.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindUnknown
}

// Is reports whether err is classified as kind k.
func Is(err error, k Kind) bool {
	return KindOf(err) == k
}

// HTTPStatus maps err to the response status used by the HTTP surface.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindSizeLimit:
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns the message that may be shown to end users. Provider,
// configuration and unclassified failures get fallback instead of their detail.
func PublicMessage(err error, fallback string) string {
	var ae *Error
	if !errors.As(err, &ae) {
		return fallback
	}
	switch ae.Kind {
	case KindValidation, KindSizeLimit:
		return ae.Msg
	default:
		return fallback
	}
}
