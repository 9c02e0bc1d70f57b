package chat

import (
	"errors"
	"net/http"
	"strings"
)

// Service error classes. Callers wrap them with fmt.Errorf("%w: detail", ...)
// so transports can map the class while keeping the message.
var (
	ErrValidation       = errors.New("validation failed")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrForbidden        = errors.New("forbidden")
	ErrNotFound         = errors.New("not found")
	ErrInvalidOperation = errors.New("invalid operation")
)

// Code returns the stable wire code for a service error.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "VALIDATION_ERROR"
	case errors.Is(err, ErrUnauthorized):
		return "UNAUTHORIZED"
	case errors.Is(err, ErrForbidden):
		return "FORBIDDEN"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrInvalidOperation):
		return "INVALID_OPERATION"
	default:
		return "INTERNAL_ERROR"
	}
}

// Message returns the user-facing text of a service error with the class
// prefix stripped. Unclassified errors stay opaque.
func Message(err error) string {
	if err == nil {
		return ""
	}
	if Code(err) == "INTERNAL_ERROR" {
		return "internal server error"
	}
	text := err.Error()
	for _, sentinel := range []error{ErrValidation, ErrUnauthorized, ErrForbidden, ErrNotFound, ErrInvalidOperation} {
		prefix := sentinel.Error() + ": "
		if strings.HasPrefix(text, prefix) {
			return strings.TrimPrefix(text, prefix)
		}
	}
	return text
}

// HTTPStatus maps a service error to its REST status code.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, ErrInvalidOperation):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
