package push

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrorKind is the closed set of failure categories. Provider-specific codes are
// mapped onto it once, at the dispatcher boundary.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindInvalidToken
	KindInvalidTopic
	KindInvalidCondition
	KindTooManyRecipients
	KindTokenNotRegistered
	KindProviderError
	KindNoActiveDevices
)

var kindNames = map[ErrorKind]string{
	KindUnknown:            "unknown",
	KindInvalidToken:       "invalid_token",
	KindInvalidTopic:       "invalid_topic",
	KindInvalidCondition:   "invalid_condition",
	KindTooManyRecipients:  "too_many_recipients",
	KindTokenNotRegistered: "token_not_registered",
	KindProviderError:      "provider_error",
	KindNoActiveDevices:    "no_active_devices",
}

func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Terminal reports whether the token involved should never be used again.
func (k ErrorKind) Terminal() bool {
	return k == KindInvalidToken || k == KindTokenNotRegistered
}

// Validation reports whether the kind is produced by local checks.
func (k ErrorKind) Validation() bool {
	switch k {
	case KindInvalidTopic, KindInvalidCondition, KindTooManyRecipients:
		return true
	default:
		return false
	}
}

// Error is the single error type surfaced by the push core.
type Error struct {
	Kind ErrorKind
	// Code is the provider's own code when Kind is provider-derived.
	Code string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Code != "" {
		msg = fmt.Sprintf("%s (code=%s)", msg, e.Code)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrNoActiveDevices)
// works regardless of message or code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// MarshalJSON renders the error as it appears in per-recipient API responses.
func (e *Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Kind    string `json:"kind"`
		Code    string `json:"code,omitempty"`
		Message string `json:"message"`
	}{
		Kind:    e.Kind.String(),
		Code:    e.Code,
		Message: e.Error(),
	})
}

// Kind sentinels for use with errors.Is.
var (
	ErrInvalidToken       = &Error{Kind: KindInvalidToken}
	ErrInvalidTopic       = &Error{Kind: KindInvalidTopic}
	ErrInvalidCondition   = &Error{Kind: KindInvalidCondition}
	ErrTooManyRecipients  = &Error{Kind: KindTooManyRecipients}
	ErrTokenNotRegistered = &Error{Kind: KindTokenNotRegistered}
	ErrProvider           = &Error{Kind: KindProviderError}
	ErrNoActiveDevices    = &Error{Kind: KindNoActiveDevices, Msg: "no active devices found for owner"}
)

// NewError builds a locally-detected error of the given kind.
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// KindOf extracts the ErrorKind carried by err, or KindUnknown.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnknown
}
