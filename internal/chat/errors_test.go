package chat_test

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"messaging-service/internal/chat"
)

func TestErrorCode(t *testing.T) {
	assert.Equal(t, "VALIDATION_ERROR", chat.Code(fmt.Errorf("%w: bad input", chat.ErrValidation)))
	assert.Equal(t, "FORBIDDEN", chat.Code(chat.ErrForbidden))
	assert.Equal(t, "NOT_FOUND", chat.Code(chat.ErrNotFound))
	assert.Equal(t, "INVALID_OPERATION", chat.Code(chat.ErrInvalidOperation))
	assert.Equal(t, "UNAUTHORIZED", chat.Code(chat.ErrUnauthorized))
	assert.Equal(t, "INTERNAL_ERROR", chat.Code(assert.AnError))
}

func TestErrorMessage(t *testing.T) {
	err := fmt.Errorf("%w: group name is required", chat.ErrValidation)
	assert.Equal(t, "group name is required", chat.Message(err))

	assert.Equal(t, "internal server error", chat.Message(assert.AnError))
	assert.Equal(t, "", chat.Message(nil))
}

func TestErrorHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, chat.HTTPStatus(chat.ErrValidation))
	assert.Equal(t, http.StatusBadRequest, chat.HTTPStatus(chat.ErrInvalidOperation))
	assert.Equal(t, http.StatusUnauthorized, chat.HTTPStatus(chat.ErrUnauthorized))
	assert.Equal(t, http.StatusForbidden, chat.HTTPStatus(chat.ErrForbidden))
	assert.Equal(t, http.StatusNotFound, chat.HTTPStatus(chat.ErrNotFound))
	assert.Equal(t, http.StatusInternalServerError, chat.HTTPStatus(assert.AnError))
}
