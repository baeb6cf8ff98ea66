package sandbox

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/injectcore/internal/executor"
	"github.com/GriffinCanCode/injectcore/internal/host"
	"github.com/GriffinCanCode/injectcore/internal/script"
)

var (
	ErrNoTab   = errors.New("no tab with that id")
	ErrNoFile  = errors.New("extension file not found")
	ErrNoFrame = errors.New("no frame with that id")
	// ErrStringCode mirrors the refusal the restrictive generation gives a
	// code string passed to the scripting API
	ErrStringCode = errors.New("refused to evaluate a string as script")
)

// Tabs is the privileged side's view of a Browser. It implements the user
// script, tab and scripting APIs the executor adapter drives. Code run
// through any of them lands in the isolated realm of the targeted frames.
type Tabs struct {
	browser *Browser
	logger  *zap.Logger

	mu          sync.Mutex
	nextTab     int
	tabs        map[int][]*Page
	regs        map[string]host.Registration
	files       map[string]string
	registerErr error
	listeners   []func(tabID int, status string)
}

var (
	_ host.UserScriptsAPI      = (*Tabs)(nil)
	_ host.UserScriptsExecutor = (*Tabs)(nil)
	_ host.TabsAPI             = (*Tabs)(nil)
	_ host.LegacyExecutor      = (*Tabs)(nil)
	_ host.ScriptingAPI        = scriptingAPI{}
)

// NewTabs creates the privileged view of b
func NewTabs(b *Browser) *Tabs {
	return &Tabs{
		browser: b,
		logger:  b.logger.Named("tabs"),
		tabs:    make(map[int][]*Page),
		regs:    make(map[string]host.Registration),
		files:   make(map[string]string),
	}
}

// Capabilities returns the API surface the platform offers. userScripts says
// whether the user has the user scripts API enabled.
func (t *Tabs) Capabilities(userScripts bool) executor.Capabilities {
	p := t.browser.Platform()
	caps := executor.Capabilities{Platform: p, Tabs: t, Scripting: t.Scripting()}
	if userScripts {
		caps.UserScripts = t
		caps.Execute = t
	}
	if !p.Restrictive() {
		caps.Legacy = t
	}
	return caps
}

// Attach makes p the top frame of a new tab and returns the tab id.
// Registrations matching p's URL at this point run in its isolated realm at
// their lifecycle point once p loads.
func (t *Tabs) Attach(p *Page) int {
	t.mu.Lock()
	t.nextTab++
	id := t.nextTab
	t.tabs[id] = []*Page{p}
	t.mu.Unlock()

	t.inject(p)
	t.watch(id, p)
	return id
}

// Navigate loads p as the new top frame of tabID, dropping its frames.
// Listeners see "loading" now and "complete" once p finished loading.
func (t *Tabs) Navigate(tabID int, p *Page) error {
	t.mu.Lock()
	if _, ok := t.tabs[tabID]; !ok {
		t.mu.Unlock()
		return ErrNoTab
	}
	t.tabs[tabID] = []*Page{p}
	t.mu.Unlock()

	t.notify(tabID, "loading")
	t.inject(p)
	t.watch(tabID, p)
	return nil
}

// OnUpdated adds a listener for tab status changes
func (t *Tabs) OnUpdated(fn func(tabID int, status string)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, fn)
}

// watch reports "complete" when p finishes loading, unless the tab moved
// on to another document first
func (t *Tabs) watch(tabID int, p *Page) {
	p.OnIdle(func() {
		t.mu.Lock()
		frames := t.tabs[tabID]
		current := len(frames) > 0 && frames[0] == p
		t.mu.Unlock()
		if current {
			t.notify(tabID, "complete")
		}
	})
}

func (t *Tabs) notify(tabID int, status string) {
	t.mu.Lock()
	fns := append([]func(int, string)(nil), t.listeners...)
	t.mu.Unlock()
	for _, fn := range fns {
		fn(tabID, status)
	}
}

// AttachFrame adds p as a child frame of tabID and returns its frame id
func (t *Tabs) AttachFrame(tabID int, p *Page) (int, error) {
	t.mu.Lock()
	frames, ok := t.tabs[tabID]
	if !ok {
		t.mu.Unlock()
		return 0, ErrNoTab
	}
	t.tabs[tabID] = append(frames, p)
	frameID := len(frames)
	t.mu.Unlock()

	t.inject(p)
	return frameID, nil
}

// Close drops tabID
func (t *Tabs) Close(tabID int) {
	t.mu.Lock()
	delete(t.tabs, tabID)
	t.mu.Unlock()
}

// AddFile makes an extension file available to file-based execution
func (t *Tabs) AddFile(name, code string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.files[name] = code
}

// SetRegisterError makes Register fail with err, nil to recover
func (t *Tabs) SetRegisterError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.registerErr = err
}

func (t *Tabs) inject(p *Page) {
	t.mu.Lock()
	var regs []host.Registration
	for _, r := range t.regs {
		if r.AllFrames || p.IsTop() {
			if (script.Meta{Match: r.Matches}).Matches(p.URL()) {
				regs = append(regs, r)
			}
		}
	}
	t.mu.Unlock()
	sort.Slice(regs, func(i, j int) bool { return regs[i].ID < regs[j].ID })

	for _, r := range regs {
		r := r
		run := func() {
			if _, err := p.evalIsolated(r.ID, r.Code); err != nil {
				t.logger.Debug("registered script failed", zap.String("id", r.ID), zap.Error(err))
			}
		}
		switch r.RunAt {
		case "document_end":
			p.OnContentLoaded(run)
		case "document_idle":
			p.OnIdle(run)
		default:
			p.OnElement("*", run)
		}
	}
}

// Register implements host.UserScriptsAPI
func (t *Tabs) Register(_ context.Context, regs []host.Registration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.registerErr != nil {
		return t.registerErr
	}
	for _, r := range regs {
		if _, dup := t.regs[r.ID]; dup {
			return fmt.Errorf("duplicate script id %q", r.ID)
		}
	}
	for _, r := range regs {
		t.regs[r.ID] = r
	}
	return nil
}

// Unregister implements host.UserScriptsAPI. Unknown ids are an error and
// nothing is removed.
func (t *Tabs) Unregister(_ context.Context, ids []string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range ids {
		if _, ok := t.regs[id]; !ok {
			return fmt.Errorf("nonexistent script id %q", id)
		}
	}
	for _, id := range ids {
		delete(t.regs, id)
	}
	return nil
}

// GetScripts implements host.UserScriptsAPI
func (t *Tabs) GetScripts(context.Context) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, 0, len(t.regs))
	for id := range t.regs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Execute implements host.UserScriptsExecutor
func (t *Tabs) Execute(_ context.Context, target host.Target, code string, _ bool) ([]host.FrameResult, error) {
	return t.each(target, func(p *Page) (any, error) {
		return p.evalIsolated("user-script", code)
	})
}

// TabURL implements host.TabsAPI
func (t *Tabs) TabURL(_ context.Context, tabID int) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	frames, ok := t.tabs[tabID]
	if !ok {
		return "", ErrNoTab
	}
	return frames[0].URL(), nil
}

// ExecuteScript implements host.LegacyExecutor. It runs in the top frame.
func (t *Tabs) ExecuteScript(_ context.Context, tabID int, code, file string) ([]any, error) {
	if file != "" {
		src, err := t.file(file)
		if err != nil {
			return nil, err
		}
		code = src
	}
	results, err := t.each(host.Target{TabID: tabID}, func(p *Page) (any, error) {
		return p.evalIsolated("legacy", code)
	})
	if err != nil {
		return nil, err
	}
	if results[0].Error != "" {
		return nil, errors.New(results[0].Error)
	}
	return []any{results[0].Result}, nil
}

// Scripting returns the scripting API of t
func (t *Tabs) Scripting() host.ScriptingAPI { return scriptingAPI{t} }

func (t *Tabs) scripting(inj host.ScriptInjection) ([]host.FrameResult, error) {
	code := inj.Code
	if len(inj.Files) == 0 && t.browser.Platform().Restrictive() {
		return nil, ErrStringCode
	}
	for _, name := range inj.Files {
		src, err := t.file(name)
		if err != nil {
			return nil, err
		}
		code += src + "\n"
	}
	return t.each(inj.Target, func(p *Page) (any, error) {
		return p.evalIsolated("scripting", code)
	})
}

func (t *Tabs) file(name string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	src, ok := t.files[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNoFile, name)
	}
	return src, nil
}

// each runs fn in every frame target selects. Per-frame failures are
// reported in the frame's result.
func (t *Tabs) each(target host.Target, fn func(*Page) (any, error)) ([]host.FrameResult, error) {
	t.mu.Lock()
	frames, ok := t.tabs[target.TabID]
	frames = append([]*Page(nil), frames...)
	t.mu.Unlock()
	if !ok {
		return nil, ErrNoTab
	}

	ids := []int{0}
	switch {
	case target.AllFrames:
		ids = ids[:0]
		for i := range frames {
			ids = append(ids, i)
		}
	case len(target.FrameIDs) > 0:
		ids = target.FrameIDs
	}

	out := make([]host.FrameResult, 0, len(ids))
	for _, id := range ids {
		if id < 0 || id >= len(frames) {
			return nil, fmt.Errorf("%w: %d", ErrNoFrame, id)
		}
		v, err := fn(frames[id])
		r := host.FrameResult{FrameID: id, Result: v}
		if err != nil {
			r.Error = err.Error()
		}
		out = append(out, r)
	}
	return out, nil
}

// scriptingAPI adapts Tabs to host.ScriptingAPI, whose method name collides
// with the legacy call
type scriptingAPI struct{ t *Tabs }

func (s scriptingAPI) ExecuteScript(_ context.Context, inj host.ScriptInjection) ([]host.FrameResult, error) {
	return s.t.scripting(inj)
}
