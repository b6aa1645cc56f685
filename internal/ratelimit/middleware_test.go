package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"demarches/pkg/requestcontext"
)

type failingStore struct{}

func (failingStore) AllowN(context.Context, string, int, int, time.Duration) (Result, error) {
	return Result{}, errors.New("redis: connection refused")
}

func serve(t *testing.T, h http.Handler, ip string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/assessments", nil)
	req = req.WithContext(requestcontext.WithClientIP(req.Context(), ip))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestMiddleware(t *testing.T) {
	now := time.Date(2025, 12, 10, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	class := Class{Name: "assessment", Cost: 1, Limit: 2}

	t.Run("rejects over the limit with retry hints", func(t *testing.T) {
		m := NewMiddleware(NewInMemoryStoreWithClock(clock), time.Minute, nil, WithClock(clock))
		h := m.Limit(class)(ok)

		assert.Equal(t, http.StatusOK, serve(t, h, "203.0.113.7").Code)
		w := serve(t, h, "203.0.113.7")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

		w = serve(t, h, "203.0.113.7")
		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.Equal(t, "60", w.Header().Get("Retry-After"))
		var body exceededResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "rate_limit_exceeded", body.Error)

		assert.Equal(t, http.StatusOK, serve(t, h, "198.51.100.1").Code, "other clients are unaffected")
	})

	t.Run("store failure lets requests through", func(t *testing.T) {
		h := NewMiddleware(failingStore{}, time.Minute, nil).Limit(class)(ok)
		assert.Equal(t, http.StatusOK, serve(t, h, "203.0.113.7").Code)
	})

	t.Run("disabled", func(t *testing.T) {
		h := NewMiddleware(NewInMemoryStoreWithClock(clock), time.Minute, nil, WithDisabled(true)).
			Limit(Class{Name: "assessment", Cost: 1, Limit: 0})(ok)
		assert.Equal(t, http.StatusOK, serve(t, h, "203.0.113.7").Code)
	})
}
