package handlers_test

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"

	"github.com/scrypster/rapport/internal/config"
	"github.com/scrypster/rapport/web/handlers"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequireAuth_SkipInDevelopmentMode(t *testing.T) {
	handler := handlers.RequireAuth(config.ServerConfig{Mode: "development", APIToken: "secret"})(okHandler())

	req := httptest.NewRequest("GET", "/api/personalities", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequireAuth_RejectMissingToken(t *testing.T) {
	handler := handlers.RequireAuth(config.ServerConfig{Mode: "production", APIToken: "secret"})(okHandler())

	req := httptest.NewRequest("GET", "/api/personalities", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), handlers.CodeUnauthorized)
}

func TestRequireAuth_RejectWrongToken(t *testing.T) {
	handler := handlers.RequireAuth(config.ServerConfig{Mode: "production", APIToken: "secret"})(okHandler())

	req := httptest.NewRequest("GET", "/api/personalities", nil)
	req.Header.Set("Authorization", "Bearer nope")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireAuth_AcceptValidToken(t *testing.T) {
	handler := handlers.RequireAuth(config.ServerConfig{Mode: "production", APIToken: "secret-token"})(okHandler())

	req := httptest.NewRequest("GET", "/api/personalities", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimiter_AllowsNormalRate(t *testing.T) {
	handler := handlers.NewRateLimiter(600, 20).Middleware(okHandler())

	for i := 0; i < 10; i++ {
		req := httptest.NewRequest("GET", "/api/personalities", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	}
}

func TestRateLimiter_RejectsExcessiveRate(t *testing.T) {
	handler := handlers.NewRateLimiter(60, 2).Middleware(okHandler())

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("GET", "/api/personalities", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	}

	req := httptest.NewRequest("GET", "/api/personalities", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), handlers.CodeRateLimited)
}

func TestRateLimiter_IsPerClient(t *testing.T) {
	handler := handlers.NewRateLimiter(60, 1).Middleware(okHandler())

	for _, addr := range []string{"10.0.0.1:1234", "10.0.0.2:1234"} {
		req := httptest.NewRequest("GET", "/api/personalities", nil)
		req.RemoteAddr = addr
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code, addr)
	}

	req := httptest.NewRequest("GET", "/api/personalities", nil)
	req.RemoteAddr = "10.0.0.1:5678"
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := log.NewWithOptions(&buf, log.Options{Level: log.DebugLevel})
	handler := middleware.RequestID(handlers.RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})))

	req := httptest.NewRequest("GET", "/api/personalities", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	out := buf.String()
	assert.Contains(t, out, "WARN")
	assert.Contains(t, out, "/api/personalities")
	assert.Contains(t, out, "status=418")
}
