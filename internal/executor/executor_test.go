package executor

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/injectcore/internal/host"
	"github.com/GriffinCanCode/injectcore/internal/infrastructure/config"
	"github.com/GriffinCanCode/injectcore/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/injectcore/internal/script"
	"github.com/GriffinCanCode/injectcore/internal/shared/clock"
)

var (
	chromeMV2 = host.Platform{Generation: host.GenerationPermissive, Family: host.FamilyChromium}
	chromeMV3 = host.Platform{Generation: host.GenerationRestrictive, Family: host.FamilyChromium}
	firefox3  = host.Platform{Generation: host.GenerationRestrictive, Family: host.FamilyFirefox}
)

type fakeUserScripts struct {
	mu            sync.Mutex
	registered    map[string]host.Registration
	unregistered  []string
	registerErr   error
	unregisterErr error
}

func newFakeUserScripts(ids ...string) *fakeUserScripts {
	f := &fakeUserScripts{registered: make(map[string]host.Registration)}
	for _, id := range ids {
		f.registered[id] = host.Registration{ID: id}
	}
	return f
}

func (f *fakeUserScripts) Register(_ context.Context, regs []host.Registration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.registerErr != nil {
		return f.registerErr
	}
	for _, r := range regs {
		f.registered[r.ID] = r
	}
	return nil
}

func (f *fakeUserScripts) Unregister(_ context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unregisterErr != nil {
		return f.unregisterErr
	}
	for _, id := range ids {
		delete(f.registered, id)
		f.unregistered = append(f.unregistered, id)
	}
	return nil
}

func (f *fakeUserScripts) GetScripts(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.registered))
	for id := range f.registered {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (f *fakeUserScripts) live() []host.Registration {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]host.Registration, 0, len(f.registered))
	for _, r := range f.registered {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type fakeExecute struct {
	calls   int
	target  host.Target
	results []host.FrameResult
	err     error
}

func (f *fakeExecute) Execute(_ context.Context, target host.Target, _ string, _ bool) ([]host.FrameResult, error) {
	f.calls++
	f.target = target
	return f.results, f.err
}

type fakeTabs map[int]string

func (f fakeTabs) TabURL(_ context.Context, tabID int) (string, error) {
	u, ok := f[tabID]
	if !ok {
		return "", errors.New("no tab")
	}
	return u, nil
}

type fakeLegacy struct {
	code, file string
}

func (f *fakeLegacy) ExecuteScript(_ context.Context, _ int, code, file string) ([]any, error) {
	f.code, f.file = code, file
	return []any{"legacy"}, nil
}

type fakeScripting struct {
	last host.ScriptInjection
}

func (f *fakeScripting) ExecuteScript(_ context.Context, inj host.ScriptInjection) ([]host.FrameResult, error) {
	f.last = inj
	return []host.FrameResult{{FrameID: 0, Result: "scripted"}}, nil
}

func newAdapter(caps Capabilities) (*Adapter, *clock.Fake) {
	c := clock.NewFake(time.Unix(1_700_000_000, 0))
	return New(Options{
		Caps:    caps,
		Config:  config.Default().Executor,
		Clock:   c,
		Metrics: monitoring.NewMetrics(),
	}), c
}

func boolPtr(b bool) *bool { return &b }

func TestRestrictiveWithoutUserScriptsRefuses(t *testing.T) {
	a, _ := newAdapter(Capabilities{Platform: chromeMV3})

	_, err := a.ExecuteInTab(context.Background(), 1, Request{Code: "1+1", TryUserScripts: true})
	assert.ErrorIs(t, err, ErrFallbackDisabled)
}

func TestNoExecuteAPI(t *testing.T) {
	a, _ := newAdapter(Capabilities{Platform: chromeMV2})

	_, err := a.ExecuteInTab(context.Background(), 1, Request{Code: "1+1"})
	assert.ErrorIs(t, err, ErrNoExecuteAPI)
}

func TestStrategyOrder(t *testing.T) {
	ctx := context.Background()
	tabs := fakeTabs{7: "https://example.com/path/page?q=1"}

	tests := []struct {
		name     string
		req      Request
		execErr  error
		regErr   error
		strategy string
	}{
		{"execute first", Request{Code: "x", TryUserScripts: true}, nil, nil, StrategyUserScriptsExecute},
		{"prefer register", Request{Code: "x", TryUserScripts: true, PreferRegister: true}, nil, nil, StrategyRegisterPreferred},
		{"register after execute fails", Request{Code: "x", TryUserScripts: true}, errors.New("boom"), nil, StrategyRegisterFallback},
		{"legacy after both fail", Request{Code: "x", TryUserScripts: true}, errors.New("boom"), errors.New("nope"), StrategyLegacy},
		{"subframe skips register", Request{Code: "x", TryUserScripts: true, FrameID: 3}, errors.New("boom"), nil, StrategyLegacy},
		{"register fallback disabled", Request{Code: "x", TryUserScripts: true, DisableRegisterFallback: true}, errors.New("boom"), nil, StrategyLegacy},
		{"user scripts not tried", Request{Code: "x"}, nil, nil, StrategyLegacy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			us := newFakeUserScripts()
			us.registerErr = tt.regErr
			a, _ := newAdapter(Capabilities{
				Platform:    chromeMV2,
				UserScripts: us,
				Execute:     &fakeExecute{results: []host.FrameResult{{Result: 2}}, err: tt.execErr},
				Tabs:        tabs,
				Legacy:      &fakeLegacy{},
			})

			res, err := a.ExecuteInTab(ctx, 7, tt.req)
			require.NoError(t, err)
			assert.Equal(t, tt.strategy, res.Strategy)
			if strings.HasPrefix(tt.strategy, "register") {
				assert.Equal(t, []any{true}, res.Values)
				assert.True(t, a.IsOneShot(res.OneShotID))
			}
		})
	}
}

func TestFrameErrorFallsBack(t *testing.T) {
	exec := &fakeExecute{results: []host.FrameResult{{FrameID: 2, Error: "Uncaught ReferenceError"}}}
	a, _ := newAdapter(Capabilities{Platform: chromeMV2, Execute: exec, Legacy: &fakeLegacy{}})

	res, err := a.ExecuteInTab(context.Background(), 1, Request{Code: "y", FrameID: 2, TryUserScripts: true})
	require.NoError(t, err)
	assert.Equal(t, StrategyLegacy, res.Strategy)
	assert.Equal(t, []int{2}, exec.target.FrameIDs)
}

func TestLegacyOverride(t *testing.T) {
	ctx := context.Background()

	a, _ := newAdapter(Capabilities{Platform: chromeMV2, Legacy: &fakeLegacy{}})
	_, err := a.ExecuteInTab(ctx, 1, Request{Code: "x", TryUserScripts: true, AllowLegacy: boolPtr(false)})
	assert.ErrorIs(t, err, ErrFallbackDisabled)

	// String code stays refused on the restrictive generation; files do not.
	sc := &fakeScripting{}
	a, _ = newAdapter(Capabilities{Platform: chromeMV3, Scripting: sc})
	_, err = a.ExecuteInTab(ctx, 1, Request{Code: "x", TryUserScripts: true, AllowLegacy: boolPtr(true)})
	assert.ErrorIs(t, err, ErrFallbackDisabled)

	res, err := a.ExecuteInTab(ctx, 1, Request{File: "banner.js", RunAt: script.RunStart})
	require.NoError(t, err)
	assert.Equal(t, []any{"scripted"}, res.Values)
	assert.Equal(t, []string{"banner.js"}, sc.last.Files)
	assert.True(t, sc.last.Immediately)
}

func TestOneShotRegistration(t *testing.T) {
	ctx := context.Background()
	us := newFakeUserScripts()
	a, c := newAdapter(Capabilities{
		Platform:    chromeMV3,
		UserScripts: us,
		Tabs:        fakeTabs{4: "https://example.com/a/b?x=1#frag"},
	})

	res, err := a.ExecuteInTab(ctx, 4, Request{Code: "x", RunAt: script.RunBody, TryUserScripts: true})
	require.NoError(t, err)
	assert.Equal(t, StrategyRegisterFallback, res.Strategy)

	live := us.live()
	require.Len(t, live, 1)
	assert.Equal(t, []string{"https://example.com/a/b*"}, live[0].Matches)
	assert.Equal(t, "document_start", live[0].RunAt)
	assert.Equal(t, []string{res.OneShotID}, a.Tracked(4))

	c.Advance(29 * time.Second)
	assert.Len(t, us.live(), 1)
	c.Advance(time.Second)
	assert.Empty(t, us.live())
	assert.Empty(t, a.Tracked(4))
}

func TestOneShotCleanupOnTabEvents(t *testing.T) {
	ctx := context.Background()
	us := newFakeUserScripts()
	a, c := newAdapter(Capabilities{
		Platform:    chromeMV3,
		UserScripts: us,
		Tabs:        fakeTabs{1: "https://a.test/", 2: "http://b.test/x"},
	})
	req := Request{Code: "x", TryUserScripts: true}

	for _, tab := range []int{1, 1, 2} {
		_, err := a.ExecuteInTab(ctx, tab, req)
		require.NoError(t, err)
	}
	require.Len(t, a.Tracked(1), 2)

	a.TabUpdated(ctx, 1, "loading")
	assert.Len(t, a.Tracked(1), 2)
	a.TabUpdated(ctx, 1, "complete")
	assert.Empty(t, a.Tracked(1))

	a.TabRemoved(ctx, 2)
	assert.Empty(t, a.Tracked(2))
	assert.Empty(t, us.live())
	assert.Zero(t, c.Pending())
}

func TestUnregistrableURLFallsThrough(t *testing.T) {
	us := newFakeUserScripts()
	a, _ := newAdapter(Capabilities{
		Platform:    chromeMV3,
		UserScripts: us,
		Tabs:        fakeTabs{1: "chrome://extensions/"},
	})

	_, err := a.ExecuteInTab(context.Background(), 1, Request{Code: "x", TryUserScripts: true})
	assert.ErrorIs(t, err, ErrFallbackDisabled)
	assert.Empty(t, us.live())
}

func TestSweepStale(t *testing.T) {
	ctx := context.Background()
	us := newFakeUserScripts("vm-one-shot-1-1-1", "vm-one-shot-2-5-9", "installed-script")
	a, _ := newAdapter(Capabilities{Platform: chromeMV3, UserScripts: us})

	removed, err := a.SweepStale(ctx, false)
	require.NoError(t, err)
	assert.True(t, removed)
	require.Len(t, us.live(), 1)
	assert.Equal(t, "installed-script", us.live()[0].ID)

	us.registered["vm-one-shot-3-1-1"] = host.Registration{ID: "vm-one-shot-3-1-1"}
	removed, err = a.SweepStale(ctx, false)
	require.NoError(t, err)
	assert.True(t, removed, "cached result")
	assert.Len(t, us.live(), 2)

	removed, err = a.SweepStale(ctx, true)
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Len(t, us.live(), 1)
}

func TestSweepKeepsTrackedOneShots(t *testing.T) {
	ctx := context.Background()
	us := newFakeUserScripts()
	a, _ := newAdapter(Capabilities{Platform: chromeMV3, UserScripts: us, Tabs: fakeTabs{1: "https://a.test/"}})

	res, err := a.ExecuteInTab(ctx, 1, Request{Code: "x", TryUserScripts: true})
	require.NoError(t, err)

	removed, err := a.SweepStale(ctx, true)
	require.NoError(t, err)
	assert.False(t, removed)
	assert.Equal(t, []string{res.OneShotID}, a.Tracked(1))
}

func TestMatchFor(t *testing.T) {
	tests := []struct {
		url   string
		match string
		ok    bool
	}{
		{"https://example.com/a/b?q=1", "https://example.com/a/b*", true},
		{"http://example.com", "http://example.com/*", true},
		{"http://example.com:8080/x", "http://example.com:8080/x*", true},
		{"ftp://files.test/pub/", "ftp://files.test/pub/*", true},
		{"file:///home/user/page.html", "file:///*", true},
		{"chrome://extensions/", "", false},
		{"about:blank", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			match, ok := MatchFor(tt.url)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.match, match)
		})
	}
}

func TestHealth(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		caps    Capabilities
		regErr  error
		state   HealthState
		message bool
		detail  string
	}{
		{"missing on restrictive chromium", Capabilities{Platform: chromeMV3}, nil, HealthDisabled, true, "userScripts.register missing"},
		{"missing on firefox", Capabilities{Platform: firefox3}, nil, HealthUnsupported, false, "userScripts.register missing"},
		{"missing on permissive", Capabilities{Platform: chromeMV2}, nil, HealthUnsupported, false, "userScripts.register missing"},
		{"registers", Capabilities{Platform: chromeMV3}, nil, HealthOK, false, ""},
		{"toggle off", Capabilities{Platform: chromeMV3}, errors.New("User scripts are disabled."), HealthDisabled, true, "User scripts are disabled."},
		{"permission", Capabilities{Platform: chromeMV3}, errors.New("Extension has not been granted permission"), HealthDisabled, true, "Extension has not been granted permission"},
		{"other error", Capabilities{Platform: chromeMV3}, errors.New("quota exceeded"), HealthError, false, "quota exceeded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			caps := tt.caps
			var us *fakeUserScripts
			if strings.HasPrefix(tt.name, "missing") {
				caps.UserScripts = nil
			} else {
				us = newFakeUserScripts()
				us.registerErr = tt.regErr
				caps.UserScripts = us
			}
			a, c := newAdapter(caps)

			h := a.Health(ctx, false)
			assert.Equal(t, tt.state, h.State)
			assert.Equal(t, tt.message, h.Message != "")
			assert.Equal(t, tt.detail, h.Detail)
			assert.Equal(t, c.Now(), h.CheckedAt)
			if us != nil {
				assert.Empty(t, us.live(), "the health check must clean up")
			}
		})
	}
}

func TestHealthCaching(t *testing.T) {
	ctx := context.Background()
	us := newFakeUserScripts()
	a, c := newAdapter(Capabilities{Platform: chromeMV3, UserScripts: us})

	first := a.Health(ctx, false)
	require.Equal(t, HealthOK, first.State)

	us.registerErr = errors.New("Cannot access user scripts")
	c.Advance(30 * time.Second)
	assert.Equal(t, first, a.Health(ctx, false))
	assert.Equal(t, HealthDisabled, a.Health(ctx, true).State)

	us.registerErr = nil
	c.Advance(61 * time.Second)
	assert.Equal(t, HealthOK, a.Health(ctx, false).State)
}

func TestHealthDetailClipped(t *testing.T) {
	us := newFakeUserScripts()
	us.registerErr = errors.New(strings.Repeat("x", 1000))
	a, _ := newAdapter(Capabilities{Platform: chromeMV3, UserScripts: us})

	h := a.Health(context.Background(), false)
	assert.Equal(t, HealthError, h.State)
	assert.Len(t, h.Detail, maxHealthDetail)
}
