package http

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/injectcore/internal/app"
	"github.com/GriffinCanCode/injectcore/internal/diagnostics"
	"github.com/GriffinCanCode/injectcore/internal/executor"
	"github.com/GriffinCanCode/injectcore/internal/host"
	"github.com/GriffinCanCode/injectcore/internal/infrastructure/tracing"
)

const (
	testPage   = `<html><head></head><body><p>hi</p></body></html>`
	testScript = `// ==UserScript==
// @name Greeter
// @match https://example.com/*
// @run-at document-start
// ==/UserScript==
window.greeted = true;
`
)

func setupRouter(t *testing.T, p host.Platform) (*gin.Engine, *app.Manager) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	tracer := tracing.New("test", zap.NewNop())
	t.Cleanup(tracer.Close)

	m := app.NewManager(app.Options{Platform: p})
	r := gin.New()
	r.Use(tracing.HTTPMiddleware(tracer))
	NewHandlers(m, tracer, nil, zap.NewNop()).Register(r)
	return r, m
}

func do(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

var permissive = host.Platform{Generation: host.GenerationPermissive, Family: host.FamilyChromium}

func TestRootAndHealth(t *testing.T) {
	r, _ := setupRouter(t, permissive)

	w := do(r, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(tracing.HeaderTraceID))

	w = do(r, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	decode(t, w, &body)
	assert.Equal(t, "healthy", body["status"])
	assert.Contains(t, body, "manager")
}

func TestInstallAndListScripts(t *testing.T) {
	r, m := setupRouter(t, permissive)

	w := do(r, http.MethodPost, "/v1/scripts", InstallRequest{ID: "greeter", Code: testScript})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var s ScriptSummary
	decode(t, w, &s)
	assert.Equal(t, "Greeter", s.Name)
	assert.Equal(t, []string{"https://example.com/*"}, s.Match)
	assert.Equal(t, 1, m.Library().Len())

	w = do(r, http.MethodGet, "/v1/scripts", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Scripts []ScriptSummary `json:"scripts"`
		Count   int             `json:"count"`
	}
	decode(t, w, &list)
	assert.Equal(t, 1, list.Count)

	tests := []struct {
		name string
		req  InstallRequest
	}{
		{"no meta block", InstallRequest{ID: "x", Code: "window.x = 1"}},
		{"bad id", InstallRequest{ID: "a b", Code: testScript}},
		{"missing code", InstallRequest{ID: "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(r, http.MethodPost, "/v1/scripts", tt.req)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestNavigationLifecycle(t *testing.T) {
	r, m := setupRouter(t, permissive)
	_, err := m.Install("greeter", testScript)
	require.NoError(t, err)

	w := do(r, http.MethodPost, "/v1/navigations", app.NavigationRequest{URL: "https://example.com/", HTML: testPage})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var rep app.Report
	decode(t, w, &rep)
	require.NotEmpty(t, rep.NavigationID)
	require.Len(t, rep.Scripts, 1)
	assert.Equal(t, "greeter", rep.Scripts[0].ID)
	assert.Equal(t, "complete", rep.ReadyState)

	path := "/v1/navigations/" + rep.NavigationID
	w = do(r, http.MethodGet, path, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(r, http.MethodPost, path+"/advance?ms=250", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = do(r, http.MethodPost, path+"/advance?ms=-1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPost, path+"/reload", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var reloaded app.Report
	decode(t, w, &reloaded)
	assert.Equal(t, rep.NavigationID, reloaded.NavigationID)
	assert.Equal(t, 1, reloaded.Reloads)
	w = do(r, http.MethodPost, "/v1/navigations/missing/reload", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(r, http.MethodGet, "/v1/navigations", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Navigations []map[string]any `json:"navigations"`
	}
	decode(t, w, &list)
	assert.Len(t, list.Navigations, 1)

	w = do(r, http.MethodDelete, path, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = do(r, http.MethodGet, path, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = do(r, http.MethodDelete, path, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateNavigationValidation(t *testing.T) {
	r, _ := setupRouter(t, permissive)

	tests := []struct {
		name string
		body any
	}{
		{"missing url", map[string]any{"html": testPage}},
		{"relative url", app.NavigationRequest{URL: "/page", HTML: testPage}},
		{"unknown generation", app.NavigationRequest{URL: "https://example.com/", Generation: "mv9"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(r, http.MethodPost, "/v1/navigations", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}
}

func TestExecuteStatuses(t *testing.T) {
	r, m := setupRouter(t, host.Platform{Generation: host.GenerationRestrictive, Family: host.FamilyChromium})

	w := do(r, http.MethodPost, "/v1/navigations", app.NavigationRequest{URL: "https://example.com/", HTML: testPage, UserScripts: true})
	require.Equal(t, http.StatusCreated, w.Code)
	var enabled app.Report
	decode(t, w, &enabled)

	w = do(r, http.MethodPost, "/v1/navigations/"+enabled.NavigationID+"/execute",
		executor.Request{Code: "'hi'", TryUserScripts: true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res executor.Result
	decode(t, w, &res)
	assert.Equal(t, executor.StrategyUserScriptsExecute, res.Strategy)
	assert.Equal(t, []any{"hi"}, res.Values)

	w = do(r, http.MethodGet, "/v1/navigations/"+enabled.NavigationID+"/executor/health?force=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var h executor.Health
	decode(t, w, &h)
	assert.Equal(t, executor.HealthOK, h.State)

	run, err := m.Navigate(t.Context(), app.NavigationRequest{URL: "https://example.com/", HTML: testPage})
	require.NoError(t, err)
	w = do(r, http.MethodPost, "/v1/navigations/"+run.ID+"/execute",
		executor.Request{Code: "1", TryUserScripts: true})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(r, http.MethodPost, "/v1/navigations/"+run.ID+"/execute", executor.Request{Code: "1"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(r, http.MethodPost, "/v1/navigations/missing/execute", executor.Request{Code: "1"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	var body map[string]string
	decode(t, w, &body)
	assert.Equal(t, w.Header().Get(tracing.HeaderTraceID), body["trace_id"])
	assert.NotEmpty(t, body["error"])
}

func TestHints(t *testing.T) {
	r, m := setupRouter(t, permissive)
	_, err := m.Navigate(t.Context(), app.NavigationRequest{
		URL:     "https://example.com/",
		HTML:    testPage,
		Headers: map[string]string{"Content-Security-Policy": "script-src 'self'"},
	})
	require.NoError(t, err)

	w := do(r, http.MethodGet, "/v1/hints?url=https://example.com/next", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var hint map[string]any
	decode(t, w, &hint)
	assert.Contains(t, hint, "csp")

	w = do(r, http.MethodGet, "/v1/hints", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDiagnosticsEndpoints(t *testing.T) {
	r, m := setupRouter(t, permissive)
	m.Diagnostics().Clear()

	issue := map[string]any{"id": "ghost", "url": "https://example.com/", "check_phase": "final"}
	w := do(r, http.MethodPost, "/v1/diagnostics/issues", issue)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var res diagnostics.Result
	decode(t, w, &res)
	assert.True(t, res.Logged)

	w = do(r, http.MethodPost, "/v1/diagnostics/issues", issue)
	require.Equal(t, http.StatusAccepted, w.Code)
	decode(t, w, &res)
	assert.True(t, res.Deduped)

	w = do(r, http.MethodPost, "/v1/diagnostics/issues", map[string]any{"url": "https://example.com/"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodGet, "/v1/diagnostics?type=userscript&limit=10", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var log diagnostics.Log
	decode(t, w, &log)
	require.Len(t, log.Entries, 1)
	assert.Equal(t, "popup", log.Entries[0].Details["source"])

	w = do(r, http.MethodGet, "/v1/diagnostics/export", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "injectcore-diagnostics-")
	zr, err := gzip.NewReader(w.Body)
	require.NoError(t, err)
	var exp diagnostics.Export
	require.NoError(t, json.NewDecoder(zr).Decode(&exp))
	assert.NotEmpty(t, exp.Log.Entries)

	w = do(r, http.MethodDelete, "/v1/diagnostics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var cleared map[string]int
	decode(t, w, &cleared)
	assert.GreaterOrEqual(t, cleared["cleared"], 1)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{app.ErrNotFound, http.StatusNotFound},
		{app.ErrInvalidRequest, http.StatusBadRequest},
		{executor.ErrFallbackDisabled, http.StatusConflict},
		{executor.ErrNoExecuteAPI, http.StatusNotImplemented},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

func TestValidateID(t *testing.T) {
	assert.NoError(t, ValidateID("01HZX3J5", "id"))
	assert.Error(t, ValidateID("", "id"))
	assert.Error(t, ValidateID("a b", "id"))
	assert.Error(t, ValidateID(string(bytes.Repeat([]byte("a"), MaxIDLength+1)), "id"))
}
