package chat

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/npezzotti/go-roomchat/internal/database"
)

type Kind string

const (
	KindValidation  Kind = "VALIDATION"
	KindNotFound    Kind = "NOT_FOUND"
	KindConflict    Kind = "CONFLICT"
	KindPersistence Kind = "PERSISTENCE"
)

// Error is the single error type returned by the chat services. Message is
// safe to show to the requesting client; Cause is not.
type Error struct {
	Kind    Kind   `json:"code"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

func validationError(msg string) error {
	return &Error{Kind: KindValidation, Message: msg}
}

func notFoundError(msg string) error {
	return &Error{Kind: KindNotFound, Message: msg}
}

func conflictError(msg string) error {
	return &Error{Kind: KindConflict, Message: msg}
}

func persistenceError(msg string, cause error) error {
	return &Error{Kind: KindPersistence, Message: msg, Cause: cause}
}

// storeError converts a gateway error, mapping the store sentinels to their
// kinds and anything else to a persistence failure.
func storeError(msg string, err error) error {
	switch {
	case errors.Is(err, database.ErrNotFound):
		return &Error{Kind: KindNotFound, Message: msg + ": not found", Cause: err}
	case errors.Is(err, database.ErrAlreadyMember):
		return &Error{Kind: KindConflict, Message: msg + ": already a member", Cause: err}
	case errors.Is(err, context.DeadlineExceeded):
		return persistenceError(msg+": store timeout", err)
	default:
		return persistenceError(msg, err)
	}
}

func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindPersistence
}

func IsNotFound(err error) bool   { return KindOf(err) == KindNotFound }
func IsConflict(err error) bool   { return KindOf(err) == KindConflict }
func IsValidation(err error) bool { return KindOf(err) == KindValidation }

func StatusCode(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage is the text sent back to a client for err. Persistence
// failures never leak their cause.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Kind == KindPersistence {
			return "internal error"
		}
		return e.Message
	}
	return "internal error"
}

// NewError builds an *Error for callers outside this package, such as
// transport layers rejecting a malformed payload.
func NewError(kind Kind, msg string) error {
	return &Error{Kind: kind, Message: msg}
}
