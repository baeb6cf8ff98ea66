package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/injectcore/internal/diagnostics"
	"github.com/GriffinCanCode/injectcore/internal/executor"
	"github.com/GriffinCanCode/injectcore/internal/host"
	"github.com/GriffinCanCode/injectcore/internal/host/sandbox"
	"github.com/GriffinCanCode/injectcore/internal/infrastructure/config"
	"github.com/GriffinCanCode/injectcore/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/injectcore/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/injectcore/internal/injection/content"
	"github.com/GriffinCanCode/injectcore/internal/injection/tardy"
	"github.com/GriffinCanCode/injectcore/internal/logging"
	"github.com/GriffinCanCode/injectcore/internal/preinject"
	"github.com/GriffinCanCode/injectcore/internal/script"
)

var (
	ErrNotFound       = errors.New("navigation not found")
	ErrInvalidRequest = errors.New("invalid navigation request")
)

const (
	defaultSettle  = 5 * time.Second
	maxSettle      = 5 * time.Minute
	defaultMaxRuns = 64
)

// Options configures a Manager. Nil collaborators are created with defaults.
type Options struct {
	Platform    host.Platform
	Library     *script.Library
	Hints       *preinject.Service
	Diagnostics *diagnostics.Service
	// Reporter receives stalled-script issues instead of Diagnostics, for
	// a collector in another process
	Reporter  diagnostics.Reporter
	Breaker   *resilience.Breaker
	Tardy     config.TardyConfig
	Executor  config.ExecutorConfig
	HintsSize int
	MaxRuns   int
	Metrics   *monitoring.Metrics
	Logger    *zap.Logger
}

// NavigationRequest describes one response to simulate
type NavigationRequest struct {
	URL         string            `json:"url" yaml:"url" toml:"url" binding:"required"`
	HTML        string            `json:"html" yaml:"html" toml:"html"`
	Headers     map[string]string `json:"headers,omitempty" yaml:"headers,omitempty" toml:"headers"`
	ContentType string            `json:"content_type,omitempty" yaml:"content_type,omitempty" toml:"content_type"`
	// Generation and Family override the manager's platform
	Generation string `json:"generation,omitempty" yaml:"generation,omitempty" toml:"generation"`
	Family     string `json:"family,omitempty" yaml:"family,omitempty" toml:"family"`
	Incognito  bool   `json:"incognito,omitempty" yaml:"incognito,omitempty" toml:"incognito"`
	// UserScripts says whether the user enabled the user scripts API, which
	// decides the routes privileged execution can take in this run
	UserScripts bool `json:"user_scripts,omitempty" yaml:"user_scripts,omitempty" toml:"user_scripts"`
	// SettleMS is the virtual time the document is given to load
	SettleMS int `json:"settle_ms,omitempty" yaml:"settle_ms,omitempty" toml:"settle_ms"`
}

// Run is one simulated navigation and its live tab
type Run struct {
	ID        string
	URL       string
	Platform  host.Platform
	CreatedAt time.Time

	req     NavigationRequest
	headers http.Header

	// mu serializes access to the single-threaded browser
	mu      sync.Mutex
	browser *sandbox.Browser
	page    *sandbox.Page
	tabs    *sandbox.Tabs
	tab     int
	session *content.Session
	exec    *executor.Adapter
	reloads int
}

// Stats summarizes the run table
type Stats struct {
	Runs        int            `json:"runs"`
	Installed   int            `json:"installed"`
	ByHandshake map[string]int `json:"by_handshake"`
	Reports     *ReportStats   `json:"reports,omitempty"`
}

// ReportStats describes the breaker in front of issue reporting
type ReportStats struct {
	State  string            `json:"state"`
	Counts resilience.Counts `json:"counts"`
}

// Manager runs navigations against the installed scripts
type Manager struct {
	platform host.Platform
	library  *script.Library
	hints    *preinject.Service
	diag     *diagnostics.Service
	reporter diagnostics.Reporter
	breaker  *resilience.Breaker
	tardyCfg config.TardyConfig
	execCfg  config.ExecutorConfig
	maxRuns  int
	metrics  *monitoring.Metrics
	logger   *zap.Logger

	mu    sync.RWMutex
	runs  map[string]*Run
	order []string
}

// NewManager creates a manager
func NewManager(opts Options) *Manager {
	logger := logging.OrNop(opts.Logger)
	if opts.Library == nil {
		opts.Library = script.NewLibrary()
	}
	if opts.Hints == nil {
		opts.Hints = preinject.New(opts.Library, opts.HintsSize, logger)
	}
	if opts.Diagnostics == nil {
		opts.Diagnostics = diagnostics.NewService(diagnostics.Options{
			Catalog: opts.Library,
			Metrics: opts.Metrics,
			Logger:  logger,
		})
	}
	if opts.Reporter == nil {
		opts.Reporter = opts.Diagnostics
	}
	if opts.MaxRuns <= 0 {
		opts.MaxRuns = defaultMaxRuns
	}
	if opts.Executor.OneShotPrefix == "" {
		opts.Executor = config.Default().Executor
	}
	return &Manager{
		platform: opts.Platform,
		library:  opts.Library,
		hints:    opts.Hints,
		diag:     opts.Diagnostics,
		reporter: opts.Reporter,
		breaker:  opts.Breaker,
		tardyCfg: opts.Tardy,
		execCfg:  opts.Executor,
		maxRuns:  opts.MaxRuns,
		metrics:  opts.Metrics,
		logger:   logger.Named("app"),
		runs:     make(map[string]*Run),
	}
}

// Library returns the installed scripts
func (m *Manager) Library() *script.Library { return m.library }

// Hints returns the per-origin hint cache
func (m *Manager) Hints() *preinject.Service { return m.hints }

// Diagnostics returns the diagnostics collector
func (m *Manager) Diagnostics() *diagnostics.Service { return m.diag }

// Install parses code and installs it under id, replacing a script with the
// same id
func (m *Manager) Install(id, code string) (*script.Descriptor, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: script id is required", ErrInvalidRequest)
	}
	meta, err := script.ParseMeta(code)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidRequest, id, err)
	}
	d := script.New(id, meta, code, nil, nil)
	m.library.Add(d)
	m.logger.Info("script installed", zap.String(logging.FieldScript, id), zap.String("name", d.DisplayName()))
	return d, nil
}

func (m *Manager) platformFor(req NavigationRequest) (host.Platform, error) {
	p := m.platform
	if req.Generation != "" {
		g, err := host.ParseGeneration(req.Generation)
		if err != nil {
			return p, err
		}
		p.Generation = g
	}
	if req.Family != "" {
		f, err := host.ParseFamily(req.Family)
		if err != nil {
			return p, err
		}
		p.Family = f
	}
	return p, nil
}

func settleFor(req NavigationRequest) time.Duration {
	d := time.Duration(req.SettleMS) * time.Millisecond
	switch {
	case d <= 0:
		return defaultSettle
	case d > maxSettle:
		return maxSettle
	}
	return d
}

// Navigate loads req in a fresh browser, runs the content pipeline on it and
// keeps the result. The oldest run is evicted past the configured limit.
func (m *Manager) Navigate(ctx context.Context, req NavigationRequest) (*Run, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	platform, err := m.platformFor(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	headers := make(http.Header, len(req.Headers)+1)
	for k, v := range req.Headers {
		headers.Set(k, v)
	}
	if req.ContentType != "" {
		headers.Set("Content-Type", req.ContentType)
	}

	b := sandbox.NewBrowser(sandbox.DefaultConfig(platform), m.logger)
	page, err := b.Open(sandbox.PageOptions{URL: req.URL, HTML: []byte(req.HTML), Headers: headers})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	tabs := sandbox.NewTabs(b)
	tab := tabs.Attach(page)
	exec := executor.New(executor.Options{
		Caps:    tabs.Capabilities(req.UserScripts),
		Config:  m.execCfg,
		Clock:   b.Clock(),
		Metrics: m.metrics,
		Logger:  m.logger,
	})
	tabs.OnUpdated(func(tabID int, status string) {
		exec.TabUpdated(context.Background(), tabID, status)
	})
	_, _ = exec.SweepStale(ctx, false)

	session := m.start(page, b, req, platform, headers)

	run := &Run{
		URL:       req.URL,
		Platform:  platform,
		CreatedAt: time.Now(),
		req:       req,
		headers:   headers,
		browser:   b,
		page:      page,
		tabs:      tabs,
		tab:       tab,
		session:   session,
		exec:      exec,
	}
	run.ID = session.Nav().ID.String()
	m.store(ctx, run)

	m.logger.Info("navigation simulated",
		zap.String(logging.FieldNavigation, run.ID),
		zap.String(logging.FieldURL, run.URL),
		zap.Stringer("platform", platform),
		zap.Stringer("handshake", session.Handshake()))
	return run, nil
}

// start runs the content pipeline on page and lets it load and settle
func (m *Manager) start(page *sandbox.Page, b *sandbox.Browser, req NavigationRequest, platform host.Platform, headers http.Header) *content.Session {
	m.hints.ObserveHeaders(req.URL, headers)
	session := content.Start(content.Options{
		Doc:        page,
		Win:        page,
		Platform:   platform,
		Injection:  m.hints.Prepare(req.URL),
		Background: m.hints,
		Clock:      b.Clock(),
		Policy:     tardy.PolicyFor(platform, m.tardyCfg),
		Reporter:   m.reporter,
		Breaker:    m.breaker,
		Observer:   m.diag,
		Metrics:    m.metrics,
		Logger:     m.logger,
		Incognito:  req.Incognito,
	})
	page.Load()
	b.Settle(settleFor(req))
	return session
}

// Reload navigates the run's tab to a fresh copy of its document. The
// content pipeline starts over with what the hint cache learned from the
// previous load, and one-shots registered for the tab run and are removed
// once the new document completes.
func (m *Manager) Reload(ctx context.Context, id string) (*Run, error) {
	r, ok := m.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	page, err := r.browser.Open(sandbox.PageOptions{URL: r.req.URL, HTML: []byte(r.req.HTML), Headers: r.headers})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	r.session.Close()
	if err := r.tabs.Navigate(r.tab, page); err != nil {
		return nil, err
	}
	r.page = page
	r.session = m.start(page, r.browser, r.req, r.Platform, r.headers)
	r.reloads++

	m.logger.Info("navigation reloaded",
		zap.String(logging.FieldNavigation, r.ID),
		zap.Int("reloads", r.reloads),
		zap.Stringer("handshake", r.session.Handshake()))
	return r, nil
}

func (m *Manager) store(ctx context.Context, run *Run) {
	var evicted []*Run
	m.mu.Lock()
	m.runs[run.ID] = run
	m.order = append(m.order, run.ID)
	for len(m.order) > m.maxRuns {
		oldest := m.order[0]
		m.order = m.order[1:]
		evicted = append(evicted, m.runs[oldest])
		delete(m.runs, oldest)
	}
	m.mu.Unlock()

	for _, r := range evicted {
		r.close(ctx)
	}
}

// Get returns the run with id
func (m *Manager) Get(id string) (*Run, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.runs[id]
	return r, ok
}

// List returns every kept run, oldest first
func (m *Manager) List() []*Run {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Run, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.runs[id])
	}
	return out
}

// Close abandons the run with id and closes its tab
func (m *Manager) Close(ctx context.Context, id string) bool {
	m.mu.Lock()
	r, ok := m.runs[id]
	if ok {
		delete(m.runs, id)
		for i, o := range m.order {
			if o == id {
				m.order = append(m.order[:i], m.order[i+1:]...)
				break
			}
		}
	}
	m.mu.Unlock()
	if ok {
		r.close(ctx)
	}
	return ok
}

// Execute runs req in the tab of run id from the privileged side
func (m *Manager) Execute(ctx context.Context, id string, req executor.Request) (executor.Result, error) {
	r, ok := m.Get(id)
	if !ok {
		return executor.Result{}, ErrNotFound
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	res, err := r.exec.ExecuteInTab(ctx, r.tab, req)
	r.browser.Settle(0)
	return res, err
}

// Health checks the registration API as seen by run id
func (m *Manager) Health(ctx context.Context, id string, force bool) (executor.Health, error) {
	r, ok := m.Get(id)
	if !ok {
		return executor.Health{}, ErrNotFound
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.exec.Health(ctx, force), nil
}

// Stats summarizes the kept runs
func (m *Manager) Stats() Stats {
	runs := m.List()
	s := Stats{Runs: len(runs), Installed: m.library.Len(), ByHandshake: make(map[string]int)}
	for _, r := range runs {
		r.mu.Lock()
		s.ByHandshake[r.session.Handshake().String()]++
		r.mu.Unlock()
	}
	if m.breaker != nil {
		s.Reports = &ReportStats{State: m.breaker.State().String(), Counts: m.breaker.Counts()}
	}
	return s
}

func (r *Run) close(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.session.Close()
	r.exec.TabRemoved(ctx, r.tab)
	r.tabs.Close(r.tab)
}

// Advance lets the run's document settle for d more virtual time
func (r *Run) Advance(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.browser.Settle(d)
}

// Tab returns the run's tab id
func (r *Run) Tab() int { return r.tab }
