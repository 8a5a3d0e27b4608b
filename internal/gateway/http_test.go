package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Froom3010/Froom/internal/presence"
	"github.com/Froom3010/Froom/internal/store"
	"github.com/stretchr/testify/require"
)

// fakeStoreForHealth extends the memory store with a controllable ping.
type fakeStoreForHealth struct {
	*store.MemoryStore
	pingFn func(context.Context) error
}

func (f *fakeStoreForHealth) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

func newTestServer(t *testing.T, st store.Store, mutate func(*Config)) *HTTPServer {
	t.Helper()
	registry := store.NewMemoryStore()
	cfg := Config{
		Store:            st,
		Registry:         registry,
		CredentialSecret: []byte("test-secret"),
		CredentialTTL:    time.Hour,
		ClientOptions: []presence.Option{
			presence.WithLogger(log.New(io.Discard, "", 0)),
			presence.WithHeartbeatInterval(time.Hour),
		},
		CORSOrigin: "*",
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return NewHTTPServer(cfg)
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	return response
}

func TestHealthEndpoint(t *testing.T) {
	server := newTestServer(t, store.NewMemoryStore(), nil)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}
	if ok := decodeJSON(t, rr)["ok"]; ok != true {
		t.Errorf("expected ok=true, got %v", ok)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("expected CORS origin *, got %q", got)
	}
}

func TestReadyEndpoint_Success(t *testing.T) {
	st := &fakeStoreForHealth{MemoryStore: store.NewMemoryStore()}
	server := newTestServer(t, st, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/ready", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	response := decodeJSON(t, rr)
	require.Equal(t, true, response["ok"])
	require.Equal(t, "ready", response["status"])
	checks := response["checks"].(map[string]any)
	require.Equal(t, "ok", checks["database"].(map[string]any)["status"])
}

func TestReadyEndpoint_DatabaseFailure(t *testing.T) {
	st := &fakeStoreForHealth{
		MemoryStore: store.NewMemoryStore(),
		pingFn: func(context.Context) error {
			return errors.New("connection refused")
		},
	}
	server := newTestServer(t, st, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/ready", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	response := decodeJSON(t, rr)
	require.Equal(t, false, response["ok"])
	require.Equal(t, "not_ready", response["status"])
	database := response["checks"].(map[string]any)["database"].(map[string]any)
	require.Equal(t, "error", database["status"])
	require.Equal(t, "connection refused", database["error"])
}

func TestReadyEndpoint_ExtraCheckFailure(t *testing.T) {
	server := newTestServer(t, store.NewMemoryStore(), func(cfg *Config) {
		cfg.Checks = map[string]Check{
			"redis": func(context.Context) error { return errors.New("redis down") },
		}
	})

	req := httptest.NewRequest(http.MethodGet, "/api/ready", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	checks := decodeJSON(t, rr)["checks"].(map[string]any)
	require.Equal(t, "ok", checks["database"].(map[string]any)["status"])
	require.Equal(t, "error", checks["redis"].(map[string]any)["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	server := newTestServer(t, store.NewMemoryStore(), nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "froom_presence_active_sessions")
}

func TestUnknownAPIRoute(t *testing.T) {
	server := newTestServer(t, store.NewMemoryStore(), nil)

	req := httptest.NewRequest(http.MethodGet, "/api/nope", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	require.Equal(t, http.StatusNotFound, rr.Code)
	require.Equal(t, "NOT_FOUND", decodeJSON(t, rr)["code"])
	require.True(t, strings.HasPrefix(rr.Header().Get("Content-Type"), "application/json"))
}

func TestPreflight(t *testing.T) {
	server := newTestServer(t, store.NewMemoryStore(), nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/ready", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	require.Equal(t, http.StatusNoContent, rr.Code)
	require.Equal(t, "GET,OPTIONS", rr.Header().Get("Access-Control-Allow-Methods"))
}

func TestMapError(t *testing.T) {
	cases := []struct {
		err  error
		code string
	}{
		{err: &presence.ValidationError{Field: "displayName", Message: "display name is required"}, code: "VALIDATION_ERROR"},
		{err: &presence.AuthError{PracticeCode: "ELM"}, code: "AUTH_ERROR"},
		{err: &presence.StoreError{Op: "get practice", Err: errors.New("down")}, code: "STORE_ERROR"},
		{err: errors.New("boom"), code: "SERVER_ERROR"},
	}
	for _, tc := range cases {
		code, message := mapError(tc.err)
		require.Equal(t, tc.code, code)
		require.NotEmpty(t, message)
	}

	_, message := mapError(&presence.ValidationError{Message: "display name is required"})
	require.Equal(t, "display name is required", message)
}
