package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnnynv/issuesync/pkg/types"
)

func decodeResponse(t *testing.T, recorder *httptest.ResponseRecorder) Response {
	t.Helper()
	assert.Equal(t, "application/json", recorder.Header().Get("Content-Type"))
	var parsed Response
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &parsed))
	return parsed
}

func TestResponse_Constructors(t *testing.T) {
	ok := NewJSONResponse(map[string]string{"project": "web"})
	assert.True(t, ok.Success)
	assert.NotNil(t, ok.Data)
	assert.Empty(t, ok.Error)
	assert.False(t, ok.Timestamp.IsZero())

	msg := NewMessageResponse("issue deleted")
	assert.True(t, msg.Success)
	assert.Nil(t, msg.Data)
	assert.Equal(t, "issue deleted", msg.Message)

	failed := NewErrorResponse("boom")
	assert.False(t, failed.Success)
	assert.Nil(t, failed.Data)
	assert.Equal(t, "boom", failed.Error)
}

func TestResponse_Write(t *testing.T) {
	tests := []struct {
		name     string
		response *Response
		status   int
	}{
		{"success", NewJSONResponse([]int{1, 2}), http.StatusOK},
		{"failure", NewErrorResponse("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			tt.response.Write(recorder)

			assert.Equal(t, tt.status, recorder.Code)
			assert.Equal(t, tt.response.Success, decodeResponse(t, recorder).Success)
		})
	}
}

func TestResponse_WriteWithStatus(t *testing.T) {
	recorder := httptest.NewRecorder()
	NewJSONResponse(map[string]int{"number": 7}).WriteWithStatus(recorder, http.StatusCreated)

	assert.Equal(t, http.StatusCreated, recorder.Code)
	parsed := decodeResponse(t, recorder)
	assert.Equal(t, map[string]interface{}{"number": float64(7)}, parsed.Data)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"configuration", &types.ConfigurationError{Field: "owner", Message: "is required"}, http.StatusBadRequest},
		{"auth", &types.AuthError{Message: "bad credentials"}, http.StatusUnauthorized},
		{"permission", &types.PermissionError{Permission: "push", Message: "read only"}, http.StatusForbidden},
		{"not found", &types.NotFoundError{Resource: "binding", ID: "p1"}, http.StatusNotFound},
		{"sync in progress", types.ErrSyncInProgress, http.StatusConflict},
		{"wrapped sync in progress", fmt.Errorf("run: %w", types.ErrSyncInProgress), http.StatusConflict},
		{"rate limit", &types.RateLimitExceededError{ResetTime: time.Now()}, http.StatusTooManyRequests},
		{"transient", &types.TransientNetworkError{Operation: "list issues", Err: errors.New("connection reset")}, http.StatusBadGateway},
		{"wrapped not found", fmt.Errorf("lookup: %w", &types.NotFoundError{Resource: "issue", ID: "x"}), http.StatusNotFound},
		{"unclassified", errors.New("disk full"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, StatusFor(tt.err))
		})
	}
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		status    int
		wantKind  string
		wantError string
	}{
		{
			name:     "typed error carries its kind",
			err:      &types.NotFoundError{Resource: "binding", ID: "p1"},
			status:   http.StatusNotFound,
			wantKind: string(types.KindNotFound),
		},
		{
			name:      "internal error is not echoed",
			err:       errors.New("open /var/lib/issuesync/db: permission denied"),
			status:    http.StatusInternalServerError,
			wantError: "internal server error",
		},
		{
			name:     "concurrent run",
			err:      fmt.Errorf("web: %w", types.ErrSyncInProgress),
			status:   http.StatusConflict,
			wantKind: "SyncInProgress",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			WriteError(recorder, tt.err)

			assert.Equal(t, tt.status, recorder.Code)
			parsed := decodeResponse(t, recorder)
			assert.False(t, parsed.Success)
			assert.Equal(t, tt.wantKind, parsed.Message)
			if tt.wantError != "" {
				assert.Equal(t, tt.wantError, parsed.Error)
			} else {
				assert.NotEmpty(t, parsed.Error)
			}
		})
	}
}
