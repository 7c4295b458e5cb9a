package utils

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppErrorMessageIncludesOrigin(t *testing.T) {
	origin := errors.New("connection refused")
	appErr := NewAppError(ErrDatabase, "failed to load thread", origin)

	assert.Equal(t, "failed to load thread: connection refused", appErr.Error())
	assert.True(t, errors.Is(appErr, origin))
}

func TestAppErrorWithoutOrigin(t *testing.T) {
	appErr := NewThreadNotFoundError("abc-123")

	assert.Equal(t, "thread not found: abc-123", appErr.Error())
	assert.Nil(t, appErr.Unwrap())
}

func TestIsErrorCode(t *testing.T) {
	appErr := NewNotParticipantError("user-1", "thread-1")

	assert.True(t, IsErrorCode(appErr, ErrNotParticipant))
	assert.False(t, IsErrorCode(appErr, ErrThreadNotFound))
	assert.False(t, IsErrorCode(fmt.Errorf("plain error"), ErrNotParticipant))
}

func TestAppErrorToHTTPStatus(t *testing.T) {
	cases := map[string]int{
		ErrUserNotFound:      http.StatusNotFound,
		ErrThreadNotFound:    http.StatusNotFound,
		ErrEmptyMessage:      http.StatusBadRequest,
		ErrSelfThread:        http.StatusBadRequest,
		ErrUnauthorized:      http.StatusUnauthorized,
		ErrNotParticipant:    http.StatusForbidden,
		ErrUserAlreadyExists: http.StatusConflict,
		ErrActorTimeout:      http.StatusInternalServerError,
		"SOMETHING_NEW":      http.StatusInternalServerError,
	}

	for code, want := range cases {
		assert.Equal(t, want, AppErrorToHTTPStatus(code), "code %s", code)
	}
}
