package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorsIs(t *testing.T) {
	err := fmt.Errorf("restore version: %w", InvalidState("file for version %s is missing", "v1"))

	assert.True(t, errors.Is(err, ErrInvalidState))
	assert.False(t, errors.Is(err, ErrConflict))
	assert.Equal(t, KindInvalidState, KindOf(err))
	assert.Equal(t, "file for version v1 is missing", PublicMessage(err))
}

func TestStorageError(t *testing.T) {
	cause := errors.New("disk full")
	err := Storage(cause, "write %s", "documents/a/v1")

	assert.True(t, errors.Is(err, ErrExternalService))
	assert.True(t, errors.Is(err, &Error{Kind: KindExternalService, Service: "storage"}))
	assert.False(t, errors.Is(err, &Error{Kind: KindExternalService, Service: "llm"}))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "storage: write documents/a/v1: disk full", err.Error())
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{NotFound("x"), http.StatusNotFound},
		{Conflict("x"), http.StatusConflict},
		{InvalidStepState("x"), http.StatusConflict},
		{Unauthorized("x"), http.StatusForbidden},
		{Validation("x"), http.StatusBadRequest},
		{External("llm", nil, "timeout"), http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
	assert.Equal(t, "internal error", PublicMessage(errors.New("db password leaked")))
}
