package cerr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/foreman/internal/state"
)

func TestCode_HTTPCode(t *testing.T) {
	tests := []struct {
		code Code
		want int
	}{
		{InvalidArgument, http.StatusBadRequest},
		{NotFound, http.StatusNotFound},
		{Cycle, http.StatusConflict},
		{ResourceExhausted, http.StatusTooManyRequests},
		{Unavailable, http.StatusServiceUnavailable},
		{Aborted, http.StatusConflict},
		{FailedPrecondition, http.StatusPreconditionFailed},
		{Internal, http.StatusInternalServerError},
		{Unauthenticated, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.code.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.code.HTTPCode())
		})
	}
}

func TestCode_StringRoundTrip(t *testing.T) {
	for code := range codeNames {
		assert.Equal(t, code, ParseCode(code.String()))
	}
	assert.Equal(t, Unknown, ParseCode("nonsense"))
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(Capacityf("full")))
	assert.True(t, Retryable(NewError(Unavailable, "down", nil)))
	assert.True(t, Retryable(Conflictf("raced")))
	assert.False(t, Retryable(Validation("bad")))
	assert.False(t, Retryable(Cyclef("loop")))
	assert.False(t, Retryable(errors.New("plain")))
}

func TestIsCode_Wrapped(t *testing.T) {
	err := fmt.Errorf("dispatch: %w", NotFoundf("task %s not found", "t1"))
	assert.True(t, IsCode(err, NotFound))
	assert.False(t, IsCode(err, InvalidArgument))
	assert.Equal(t, OK, CodeOf(nil))
	assert.Equal(t, Unknown, CodeOf(errors.New("x")))
}

func TestNewError_StackOnlyForServerFaults(t *testing.T) {
	assert.NotEmpty(t, NewError(Internal, "boom", nil).Stack)
	assert.Empty(t, NewError(NotFound, "missing", nil).Stack)
}

func TestWrapStoreError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{"not found", fmt.Errorf("get task: %w", state.ErrNotFound), NotFound},
		{"conflict", fmt.Errorf("update task: %w", state.ErrConflict), Aborted},
		{"invalid", fmt.Errorf("upsert: %w", state.ErrInvalid), InvalidArgument},
		{"exists", fmt.Errorf("create: %w", state.ErrExists), AlreadyExists},
		{"deadline", context.DeadlineExceeded, Unavailable},
		{"canceled", context.Canceled, Canceled},
		{"driver error", errors.New("database is locked"), Unavailable},
		{"coded passes through", Validation("bad"), InvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := WrapStoreError("task", tt.err)
			require.Error(t, got)
			assert.Equal(t, tt.want, CodeOf(got))
		})
	}
	assert.NoError(t, WrapStoreError("task", nil))
}

func TestJSONResponseMiddleware(t *testing.T) {
	handler := NewJSONResponseChiMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("fail") != "" {
			SetJSONError(r.Context(), Capacityf("project p1 is at capacity"))
			return
		}
		SetJSONResponseWithStatus(r.Context(), http.StatusCreated, map[string]string{"id": "t1"})
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, `{"id":"t1"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/?fail=1", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.JSONEq(t, `{"code":"resource_exhausted","message":"project p1 is at capacity"}`, rec.Body.String())
}
