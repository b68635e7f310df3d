package ratelimit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siftlab/sieve/internal/model"
)

func TestNoopLimiter(t *testing.T) {
	var l Limiter = NoopLimiter{}
	ok, err := l.Allow(context.Background(), "anything")
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, l.Close())
}

// errLimiter always fails; the middleware must fail open.
type errLimiter struct{}

func (errLimiter) Allow(context.Context, string) (bool, error) {
	return false, assert.AnError
}
func (errLimiter) Close() error { return nil }

func TestMiddleware_LimitsAndPasses(t *testing.T) {
	m := NewMemoryLimiter(1, 1)
	defer m.Close()

	handler := Middleware(m, IPKeyFunc, nil)(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	var apiErr model.APIError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &apiErr))
	assert.Equal(t, model.ErrCodeRateLimited, apiErr.Error.Code)
}

func TestMiddleware_EmptyKeySkips(t *testing.T) {
	m := NewMemoryLimiter(1, 1)
	defer m.Close()

	handler := Middleware(m, func(*http.Request) string { return "" }, nil)(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestMiddleware_FailsOpenOnLimiterError(t *testing.T) {
	handler := Middleware(errLimiter{}, IPKeyFunc, nil)(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestIPKeyFunc(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.7:55512"
	assert.Equal(t, "192.0.2.7", IPKeyFunc(req))
}
