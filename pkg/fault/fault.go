// Package fault defines the error taxonomy shared by every domain package.
//
// Domain packages declare sentinel values with New and callers match either the
// exact sentinel or a whole kind:
//
//	errors.Is(err, orderdomain.ErrInvalidStatus) // exact
//	errors.Is(err, fault.ErrInvalidTransition)   // any invalid_transition
package fault

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindNotFound           Kind = "not_found"
	KindInvalidTransition  Kind = "invalid_transition"
	KindInsufficientPoints Kind = "insufficient_points"
	KindConsistency        Kind = "consistency_error"
	KindValidation         Kind = "validation_error"
)

// Error is a classified domain error. Code is a stable snake_case identifier
// surfaced to API clients.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func New(kind Kind, code string) *Error {
	return &Error{Kind: kind, Code: code}
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Code + ": " + e.Message
	}
	if e.Code == "" {
		return string(e.Kind)
	}
	return e.Code
}

// Is reports kind equality when target is a bare kind sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code == "" {
		return e.Kind == t.Kind
	}
	return e.Kind == t.Kind && e.Code == t.Code
}

// WithMessage returns a copy carrying detail for logs and API payloads.
func (e *Error) WithMessage(format string, args ...any) *Error {
	return &Error{Kind: e.Kind, Code: e.Code, Message: fmt.Sprintf(format, args...)}
}

var (
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrInvalidTransition  = &Error{Kind: KindInvalidTransition}
	ErrInsufficientPoints = &Error{Kind: KindInsufficientPoints}
	ErrConsistency        = &Error{Kind: KindConsistency}
	ErrValidation         = &Error{Kind: KindValidation}
)

// KindOf returns the classified kind of err, or "" when err is unclassified.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) && fe != nil {
		return fe.Kind
	}
	return ""
}

// CodeOf returns the classified code of err, or "" when err is unclassified.
func CodeOf(err error) string {
	var fe *Error
	if errors.As(err, &fe) && fe != nil {
		if fe.Code == "" {
			return string(fe.Kind)
		}
		return fe.Code
	}
	return ""
}
