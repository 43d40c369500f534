// Package apperror maps backend failures onto a small, stable taxonomy so that
// callers never have to interpret driver-specific error text.
package apperror

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// Kind classifies an error for display and HTTP mapping.
type Kind string

const (
	KindValidation       Kind = "validation"
	KindNotFound         Kind = "not_found"
	KindConflict         Kind = "conflict"
	KindPermissionDenied Kind = "permission_denied"
	KindUnavailable      Kind = "unavailable"
	KindUnknown          Kind = "unknown"
)

// Error is a classified failure. Message is safe to show to users; Detail keeps
// the backend's own wording for logs.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Detail  string
	Err     error
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Op, e.Message, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds a classified error without an underlying cause.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// KindOf returns the Kind of err, or KindUnknown when err is not classified.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindUnknown
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

var defaultMessages = map[Kind]string{
	KindValidation:       "request rejected by data constraints",
	KindNotFound:         "record not found",
	KindConflict:         "record already exists or was changed concurrently",
	KindPermissionDenied: "permission denied",
	KindUnavailable:      "backend unavailable, try again",
	KindUnknown:          "unexpected error",
}

// FromDB classifies a database error. Already-classified errors pass through.
func FromDB(op string, err error) error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return err
	}

	kind := KindUnknown
	detail := err.Error()

	var pqErr *pq.Error
	switch {
	case errors.Is(err, sql.ErrNoRows):
		kind = KindNotFound
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		kind = KindUnavailable
	case errors.As(err, &pqErr):
		detail = pqErr.Message
		switch pqErr.Code {
		case "23505":
			kind = KindConflict
		case "23503":
			kind = KindNotFound
		case "23514", "23502", "22P02":
			kind = KindValidation
		case "42501":
			kind = KindPermissionDenied
		case "40001", "40P01":
			kind = KindConflict
		}
		if pqErr.Code.Class() == "08" {
			kind = KindUnavailable
		}
	}

	return &Error{Kind: kind, Op: op, Message: defaultMessages[kind], Detail: detail, Err: err}
}

// Message returns the user-facing message for err.
func Message(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		if appErr.Message != "" {
			return appErr.Message
		}
		return defaultMessages[appErr.Kind]
	}
	return defaultMessages[KindUnknown]
}
