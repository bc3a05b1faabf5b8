package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/phrazzld/questgen/internal/api/shared"
	"github.com/phrazzld/questgen/internal/platform/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTraceMiddleware(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	var seen string
	h := NewTraceMiddleware(base)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = shared.GetTraceID(r.Context())
		logger.FromContext(r.Context()).Info("inside handler")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/plans", nil)
	req.Header.Set(shared.TraceIDHeader, "upstream-trace-01")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, "upstream-trace-01", seen)
	assert.Equal(t, "upstream-trace-01", w.Header().Get(shared.TraceIDHeader))
	assert.Contains(t, buf.String(), `msg="inside handler" trace_id=upstream-trace-01`)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Len(t, seen, 2*shared.TraceIDLength)
	assert.Equal(t, seen, w.Header().Get(shared.TraceIDHeader))
}

func TestRateLimiterPerClient(t *testing.T) {
	l := NewRateLimiter(1, 2)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("10.0.0.1"))
	assert.True(t, l.Allow("10.0.0.1"))
	assert.False(t, l.Allow("10.0.0.1"))
	assert.True(t, l.Allow("10.0.0.2"), "clients have separate buckets")

	now = now.Add(time.Second)
	assert.True(t, l.Allow("10.0.0.1"), "one token refilled")
	assert.False(t, l.Allow("10.0.0.1"))
}

func TestRateLimiterEvictsIdleClients(t *testing.T) {
	l := NewRateLimiter(1, 1)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	require.True(t, l.Allow("a"))
	require.True(t, l.Allow("b"))
	now = now.Add(l.ttl + time.Second)
	require.True(t, l.Allow("c"))

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.Len(t, l.clients, 1)
	assert.Contains(t, l.clients, "c")
}

func TestRateLimiterMiddleware(t *testing.T) {
	l := NewRateLimiter(0.001, 1)
	h := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	send := func(addr string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/documents", nil)
		req.RemoteAddr = addr
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w.Code
	}
	assert.Equal(t, http.StatusNoContent, send("192.0.2.1:1234"))
	assert.Equal(t, http.StatusTooManyRequests, send("192.0.2.1:5678"), "port does not matter")
	assert.Equal(t, http.StatusNoContent, send("192.0.2.2:1234"))
}
