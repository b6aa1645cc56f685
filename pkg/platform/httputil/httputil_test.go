package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"demarches/internal/platform/upstream"
	"demarches/pkg/platform/sentinel"
)

func TestWriteError(t *testing.T) {
	t.Run("internal error omits description", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, errors.New("db failed"))

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		var body map[string]string
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		assert.Equal(t, "internal_error", body["error"])
		_, ok := body["error_description"]
		assert.False(t, ok, "error_description must be omitted for internal errors")
	})

	t.Run("bad request includes description", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, fmt.Errorf("%w: as_of must be a date", sentinel.ErrInvalidInput))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		var body map[string]string
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		assert.Equal(t, "bad_request", body["error"])
		assert.Contains(t, body["error_description"], "as_of must be a date")
	})

	t.Run("unresolvable address prompts for detail", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, fmt.Errorf("resolve: %w: no candidate", sentinel.ErrUnresolvableAddress))

		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		var body ErrorResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		assert.Equal(t, "unresolvable_address", body.Error)
		assert.Equal(t, AddressPrompt, body.ErrorDescription)
	})
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"unsupported jurisdiction", sentinel.ErrUnsupportedJurisdiction, http.StatusUnprocessableEntity, "unsupported_jurisdiction"},
		{"incomplete profile", sentinel.ErrIncompleteProfile, http.StatusBadRequest, "incomplete_profile"},
		{"invalid state", sentinel.ErrInvalidState, http.StatusConflict, "invalid_state"},
		{"simulation failed", sentinel.ErrSimulationFailed, http.StatusBadGateway, "simulation_failed"},
		{"upstream error", upstream.NewError(upstream.CategoryTimeout, "geo", "deadline", nil), http.StatusServiceUnavailable, "upstream_unavailable"},
		{"not found", sentinel.ErrNotFound, http.StatusNotFound, "not_found"},
		{"request budget exceeded", context.DeadlineExceeded, http.StatusGatewayTimeout, "timeout"},
		{"upstream timeout stays unavailable", fmt.Errorf("%w: %w", sentinel.ErrUpstreamUnavailable, context.DeadlineExceeded), http.StatusServiceUnavailable, "upstream_unavailable"},
		{"unresolvable wins over invalid input", fmt.Errorf("%w: %w", sentinel.ErrUnresolvableAddress, sentinel.ErrInvalidInput), http.StatusUnprocessableEntity, "unresolvable_address"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code, _ := Classify(fmt.Errorf("wrapped: %w", tt.err))
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, code)
		})
	}
}

func TestDecodeJSON(t *testing.T) {
	var v struct {
		Address string `json:"address"`
	}

	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"address":"1 rue X"}`))
	require.NoError(t, DecodeJSON(r, &v))
	assert.Equal(t, "1 rue X", v.Address)

	for _, body := range []string{`{"adress":"typo"}`, `{"address":`, `{"address":"a"}{"address":"b"}`} {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		assert.ErrorIs(t, DecodeJSON(r, &v), sentinel.ErrInvalidInput, body)
	}
}
