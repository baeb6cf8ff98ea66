package server

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/injectcore/internal/infrastructure/config"
)

const greeter = `// ==UserScript==
// @name Greeter
// @match https://example.com/*
// ==/UserScript==
window.greeted = true;
`

func testConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	cfg.Logging.Level = "error"
	cfg.RateLimit.Enabled = false
	cfg.Server.ScriptsDir = t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Server.ScriptsDir, "greeter.user.js"), []byte(greeter), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Server.ScriptsDir, "notes.txt"), []byte("skip"), 0o644))
	return cfg
}

func TestNewLoadsScripts(t *testing.T) {
	srv, err := New(t.Context(), testConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })

	assert.Equal(t, []string{"greeter"}, srv.Manager().Library().IDs())
}

func TestRoutes(t *testing.T) {
	srv, err := New(t.Context(), testConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })

	tests := []struct {
		method, path, body string
		want               int
	}{
		{http.MethodGet, "/", "", http.StatusOK},
		{http.MethodGet, "/health", "", http.StatusOK},
		{http.MethodGet, "/v1/scripts", "", http.StatusOK},
		{http.MethodPost, "/v1/navigations", `{"url":"https://example.com/","html":"<html><body></body></html>"}`, http.StatusCreated},
		{http.MethodGet, "/v1/diagnostics", "", http.StatusOK},
		{http.MethodGet, "/nowhere", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			srv.Handler().ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "injectcore_http_requests_total")
}

func TestNewRejectsBadPlatform(t *testing.T) {
	cfg := testConfig(t)
	cfg.Platform.Generation = "mv9"
	_, err := New(t.Context(), cfg)
	assert.Error(t, err)
}

func TestGlobalRateLimit(t *testing.T) {
	cfg := testConfig(t)
	cfg.RateLimit.Enabled = true
	cfg.RateLimit.GlobalRPS = 1
	srv, err := New(t.Context(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })

	codes := make([]int, 2)
	for i, addr := range []string{"10.0.0.1:1000", "10.0.0.2:1000"} {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.RemoteAddr = addr
		w := httptest.NewRecorder()
		srv.Handler().ServeHTTP(w, req)
		codes[i] = w.Code
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests}, codes)
}
