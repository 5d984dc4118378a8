package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/netman/internal/api/middleware"
	"github.com/anstrom/netman/internal/errors"
)

func TestGetPaginationParams(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		expected PaginationParams
		wantErr  bool
	}{
		{"defaults", "", PaginationParams{Page: 1, PageSize: 50, Offset: 0}, false},
		{"explicit", "page=3&page_size=20", PaginationParams{Page: 3, PageSize: 20, Offset: 40}, false},
		{"clamped", "page=0&page_size=5000", PaginationParams{Page: 1, PageSize: 1000, Offset: 0}, false},
		{"bad page", "page=x", PaginationParams{}, true},
		{"bad size", "page_size=x", PaginationParams{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params, err := getPaginationParams(httptest.NewRequest(http.MethodGet, "/?"+tt.query, nil))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, params)
		})
	}
}

func TestParseJSON(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}

	t.Run("valid", func(t *testing.T) {
		var p payload
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"core"}`))
		require.NoError(t, parseJSON(httptest.NewRecorder(), req, &p, 0))
		assert.Equal(t, "core", p.Name)
	})

	t.Run("empty", func(t *testing.T) {
		var p payload
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		assert.EqualError(t, parseJSON(httptest.NewRecorder(), req, &p, 0), "request body is empty")
	})

	t.Run("too large", func(t *testing.T) {
		var p payload
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"`+strings.Repeat("a", 64)+`"}`))
		err := parseJSON(httptest.NewRecorder(), req, &p, 16)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "too large")
	})
}

func TestStatusForError(t *testing.T) {
	tests := []struct {
		err      error
		expected int
	}{
		{errors.NewDatabaseError(errors.CodeNotFound, "missing"), http.StatusNotFound},
		{errors.NewDeviceError(errors.CodeValidation, "bad", ""), http.StatusBadRequest},
		{errors.ErrInvalidAddress("x"), http.StatusBadRequest},
		{errors.NewDatabaseError(errors.CodeConflict, "dup"), http.StatusConflict},
		{errors.ErrRecentlyUndiscoverable("10.0.0.1"), http.StatusTooManyRequests},
		{errors.NewDeviceError(errors.CodeQueueFull, "full", ""), http.StatusServiceUnavailable},
		{errors.ErrClassificationExhausted("10.0.0.1"), http.StatusBadGateway},
		{errors.NewDatabaseError(errors.CodeDatabaseTimeout, "slow"), http.StatusGatewayTimeout},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.expected, statusForError(tt.err))
		})
	}
}

func TestWriteErrorIncludesRequestID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(context.WithValue(req.Context(), middleware.RequestIDKey, "req_abc"))

	rr := httptest.NewRecorder()
	writeError(rr, req, http.StatusConflict, errors.ErrDuplicateIdentity("10.0.0.2", "10.0.0.1"))

	resp := decodeError(t, rr)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "req_abc", resp.RequestID)
	assert.Equal(t, "Conflict", resp.Error)
	assert.Equal(t, "DUPLICATE_IDENTITY", resp.Code)
	assert.Equal(t, "Device already exists under another address", resp.Message)
}

func TestWriteErrorPlainError(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rr := httptest.NewRecorder()
	writeError(rr, req, http.StatusBadRequest, fmt.Errorf("request body is empty"))

	resp := decodeError(t, rr)
	assert.Equal(t, "request body is empty", resp.Message)
	assert.Empty(t, resp.Code)
}
