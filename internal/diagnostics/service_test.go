package diagnostics

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/injectcore/internal/infrastructure/httpclient"
	"github.com/GriffinCanCode/injectcore/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/injectcore/internal/injection/phase"
	"github.com/GriffinCanCode/injectcore/internal/script"
	"github.com/GriffinCanCode/injectcore/internal/shared/clock"
)

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestService(catalog Catalog) (*Service, *clock.Fake) {
	clk := clock.NewFake(epoch)
	return NewService(Options{Clock: clk, Catalog: catalog, Metrics: monitoring.NewMetrics()}), clk
}

func stallIssue(id string) ScriptIssue {
	return ScriptIssue{
		ScriptID:     id,
		PageURL:      "https://example.com/",
		Realm:        script.RealmPage,
		RunAt:        script.RunEnd,
		CheckPhase:   "post-inject",
		BridgeStatus: 2,
		Elapsed:      2100 * time.Millisecond,
		PhaseTrail: []phase.Point{
			{Phase: phase.Queued, At: epoch},
			{Phase: phase.Injected, At: epoch.Add(time.Millisecond)},
		},
	}
}

func TestFingerprint(t *testing.T) {
	tests := []struct {
		id, url, want string
	}{
		{"7", "https://example.com/", "7|https://example.com/"},
		{"7", "", "7"},
		{"", "https://example.com/", "https://example.com/"},
		{"", "", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Fingerprint(tt.id, tt.url), "%q %q", tt.id, tt.url)
	}
}

func TestLogScriptIssueDedupes(t *testing.T) {
	svc, clk := newTestService(nil)
	ctx := context.Background()

	first := svc.LogScriptIssue(ctx, stallIssue("1"))
	assert.True(t, first.Logged)
	assert.False(t, first.Deduped)

	second := svc.LogScriptIssue(ctx, stallIssue("1"))
	assert.False(t, second.Logged)
	assert.True(t, second.Deduped)

	other := svc.LogScriptIssue(ctx, stallIssue("2"))
	assert.True(t, other.Logged)

	clk.Advance(61 * time.Second)
	again := svc.LogScriptIssue(ctx, stallIssue("1"))
	assert.True(t, again.Logged)

	assert.Equal(t, 3, svc.GetLog(Filter{}).Meta.Stored)
}

func TestRicherSourceReplacesPopupReport(t *testing.T) {
	svc, _ := newTestService(nil)
	ctx := context.Background()

	popup := stallIssue("1")
	popup.FromExtension = true
	require.True(t, svc.LogScriptIssue(ctx, popup).Logged)

	// the page report carries the phase trail the popup could not see
	require.True(t, svc.LogScriptIssue(ctx, stallIssue("1")).Logged)

	// a second popup report is a duplicate of the page one
	assert.True(t, svc.LogScriptIssue(ctx, popup).Deduped)
}

func TestLogScriptIssueClassifies(t *testing.T) {
	catalog := MapCatalog{
		"broken": script.New("broken", script.Meta{Name: "Broken"}, "let x = ;", nil, []byte("s")),
		"fine":   script.New("fine", script.Meta{Name: "Fine"}, "console.log(1)", nil, []byte("s")),
		"badlib": script.New("badlib", script.Meta{Name: "Bad lib", Require: []string{"lib.js"}},
			"main()", map[string]string{"lib.js": "function main( {"}, []byte("s")),
	}
	svc, _ := newTestService(catalog)
	ctx := context.Background()

	tests := []struct {
		id     string
		class  Classification
		level  Level
		reason string
	}{
		{"broken", ClassSyntaxError, LevelError, "Script has a syntax error and could not execute."},
		{"fine", ClassBootstrapBlocked, LevelWarn, "Script passed syntax parsing but was blocked before bootstrap."},
		{"badlib", ClassSyntaxError, LevelError, "Script has a syntax error and could not execute."},
		{"unknown", ClassStartupStalled, LevelWarn, "Script stayed in injecting state and did not report a start signal."},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			res := svc.LogScriptIssue(ctx, stallIssue(tt.id))
			require.True(t, res.Logged)
			assert.Equal(t, tt.class, res.Classification)

			log := svc.GetLog(Filter{Event: tt.class.Event(), Limit: 1})
			require.Len(t, log.Entries, 1)
			e := log.Entries[0]
			assert.Equal(t, tt.level, e.Level)
			assert.Equal(t, TypeUserscript, e.Type)
			assert.Equal(t, tt.reason, e.Details["reason"])
			assert.Equal(t, "page", e.Details["source"])
		})
	}

	log := svc.GetLog(Filter{Event: ClassSyntaxError.Event()})
	require.Len(t, log.Entries, 2)
	syntax := log.Entries[1].Details["syntax"].(map[string]any)
	assert.Equal(t, "lib.js", syntax["source"])
	assert.Equal(t, "Bad lib", log.Entries[1].Details["name"])
}

func TestCheckSyntaxReportsPosition(t *testing.T) {
	d := script.New("x", script.Meta{}, "var a = 1;\nvar b = ;", nil, []byte("s"))
	p := CheckSyntax(d)
	assert.True(t, p.Checked)
	assert.False(t, p.OK)
	assert.Equal(t, "main", p.Source)
	assert.Equal(t, 2, p.Line)
	assert.True(t, p.HasPosition())
	assert.Equal(t, ClassSyntaxError, p.Classify())

	assert.Equal(t, ClassStartupStalled, CheckSyntax(nil).Classify())

	// a top-level return is legal inside the wrapper
	ok := CheckSyntax(script.New("y", script.Meta{}, "if (location.host) return;", nil, []byte("s")))
	assert.True(t, ok.OK)
}

func TestLogSanitizes(t *testing.T) {
	svc, _ := newTestService(nil)

	e := svc.Log(LevelInfo, TypeCommand, "execute", map[string]any{
		"authorization": "Bearer abc",
		"nested":        map[string]any{"api_key": "k", "note": strings.Repeat("x", 500)},
		"err":           errors.New("boom"),
	})
	assert.Equal(t, "[Redacted]", e.Details["authorization"])
	nested := e.Details["nested"].(map[string]any)
	assert.Equal(t, "[Redacted]", nested["api_key"])
	assert.Len(t, nested["note"], 403)
	assert.Equal(t, "boom", e.Details["err"])

	issue := stallIssue("1")
	issue.ScriptName = `<img src=x onerror=alert(1)>Shiny & new`
	svc.LogScriptIssue(context.Background(), issue)
	got := svc.GetLog(Filter{Type: TypeUserscript}).Entries[0]
	assert.Equal(t, "Shiny & new", got.Details["name"])
}

func TestGetLogFilters(t *testing.T) {
	svc, clk := newTestService(nil)

	svc.Log(LevelDebug, TypeRuntime, "a", nil)
	clk.Advance(time.Second)
	svc.Log(LevelInfo, TypeCommand, "b", nil)
	clk.Advance(time.Second)
	svc.Log(LevelWarn, TypeRuntime, "a", nil)
	svc.Log(LevelError, TypeRuntime, "c", nil)

	tests := []struct {
		name   string
		filter Filter
		events []string
	}{
		{"all", Filter{}, []string{"a", "b", "a", "c"}},
		{"event", Filter{Event: "a"}, []string{"a", "a"}},
		{"min level", Filter{Level: LevelWarn}, []string{"a", "c"}},
		{"type", Filter{Type: TypeCommand}, []string{"b"}},
		{"since", Filter{Since: epoch.Add(time.Second)}, []string{"b", "a", "c"}},
		{"limit keeps newest", Filter{Limit: 2}, []string{"a", "c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log := svc.GetLog(tt.filter)
			var events []string
			for _, e := range log.Entries {
				events = append(events, e.Event)
			}
			assert.Equal(t, tt.events, events)
			assert.Equal(t, len(tt.events), log.Stats.Total)
		})
	}

	stats := svc.GetLog(Filter{}).Stats
	assert.Equal(t, 2, stats.ByEvent["a"])
	assert.Equal(t, 3, stats.ByType[TypeRuntime])
	assert.Equal(t, 1, stats.ByLevel[LevelError])
}

func TestEntryCapCountsDropped(t *testing.T) {
	svc := NewService(Options{Clock: clock.NewFake(epoch), MaxEntries: 3})
	for i := 0; i < 5; i++ {
		svc.Log(LevelInfo, TypeRuntime, "tick", nil)
	}
	log := svc.GetLog(Filter{})
	assert.Equal(t, 3, log.Meta.Stored)
	assert.Equal(t, 2, log.Meta.Dropped)
	assert.Equal(t, int64(3), log.Entries[0].ID)

	assert.Equal(t, 3, svc.Clear())
	assert.Empty(t, svc.GetLog(Filter{}).Entries)
}

func TestExport(t *testing.T) {
	svc, _ := newTestService(nil)
	svc.LogScriptIssue(context.Background(), stallIssue("1"))
	svc.Log(LevelInfo, TypeCommand, "execute", nil)

	var buf bytes.Buffer
	name, err := svc.WriteExport(&buf, Filter{}, "api")
	require.NoError(t, err)
	assert.Equal(t, "injectcore-diagnostics-20240501T120000Z.json", name)

	var exp Export
	require.NoError(t, json.Unmarshal(buf.Bytes(), &exp))
	assert.Equal(t, []string{"userscript", "command", "source:api"}, exp.Tags)
	assert.Len(t, exp.Log.Entries, 2)
}

func TestSubscribe(t *testing.T) {
	svc, _ := newTestService(nil)
	ch, cancel := svc.Subscribe()

	svc.Log(LevelInfo, TypeRuntime, "hello", nil)
	select {
	case e := <-ch:
		assert.Equal(t, "hello", e.Event)
	case <-time.After(time.Second):
		t.Fatal("no entry received")
	}

	cancel()
	cancel()
	_, open := <-ch
	assert.False(t, open)
	svc.Log(LevelInfo, TypeRuntime, "after", nil)
}

func TestStartLatency(t *testing.T) {
	svc, _ := newTestService(nil)
	assert.Equal(t, LatencySummary{}, svc.StartLatency())

	for _, ms := range []int{10, 20, 30, 40, 100} {
		svc.ObserveStart(time.Duration(ms) * time.Millisecond)
	}
	s := svc.StartLatency()
	assert.Equal(t, 5, s.Count)
	assert.Equal(t, 40*time.Millisecond, s.Mean)
	assert.Equal(t, 30*time.Millisecond, s.P50)
	assert.Equal(t, 100*time.Millisecond, s.Max)
}

func TestRemoteReporter(t *testing.T) {
	var got ScriptIssue
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	client := httpclient.New(httpclient.Options{})
	client.SetBearerAuth("secret")
	r := NewRemoteReporter(client, srv.URL)
	require.NoError(t, r.ReportScriptIssue(context.Background(), stallIssue("7")))
	assert.Equal(t, "7", got.ScriptID)
	assert.Equal(t, "post-inject", got.CheckPhase)
}
