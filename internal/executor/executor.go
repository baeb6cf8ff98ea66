// Package executor runs one-shot code in a tab from the privileged side.
//
// It is used when the in-page pipeline cannot be: banners, install-flow
// checks and other code the background side wants run once. The available
// platform APIs are detected once, when the Adapter is built, and tried in a
// fixed order. On the restrictive generation string evaluation is refused
// outright and surfaces as ErrFallbackDisabled.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/injectcore/internal/host"
	"github.com/GriffinCanCode/injectcore/internal/infrastructure/config"
	"github.com/GriffinCanCode/injectcore/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/injectcore/internal/logging"
	"github.com/GriffinCanCode/injectcore/internal/script"
	"github.com/GriffinCanCode/injectcore/internal/shared/clock"
)

var (
	// ErrFallbackDisabled is returned when every allowed route failed and
	// string evaluation is not allowed
	ErrFallbackDisabled = errors.New("string-code fallback is disabled; use user scripts or file-based injection")
	// ErrNoExecuteAPI is returned when neither tab execute API exists
	ErrNoExecuteAPI = errors.New("tabs.executeScript and scripting.executeScript are unavailable")
)

// Strategy names, used as metric and log labels
const (
	StrategyRegisterPreferred  = "register-preferred"
	StrategyUserScriptsExecute = "userscripts-execute"
	StrategyRegisterFallback   = "register-fallback"
	StrategyLegacy             = "legacy"
)

// TopFrame is the frame id of the top-level document
const TopFrame = 0

// Capabilities is the platform API surface. Nil fields are absent APIs.
type Capabilities struct {
	Platform    host.Platform
	UserScripts host.UserScriptsAPI
	Execute     host.UserScriptsExecutor
	Tabs        host.TabsAPI
	Legacy      host.LegacyExecutor
	Scripting   host.ScriptingAPI
}

// Request is one execution request
type Request struct {
	Code  string   `json:"code,omitempty"`
	File  string   `json:"file,omitempty"`
	Files []string `json:"files,omitempty"`
	// FrameID targets one frame. Registration only serves the top frame.
	FrameID   int          `json:"frame_id,omitempty"`
	AllFrames bool         `json:"all_frames,omitempty"`
	RunAt     script.RunAt `json:"run_at"`

	// TryUserScripts enables the user script routes before the legacy one
	TryUserScripts bool `json:"try_user_scripts,omitempty"`
	// PreferRegister tries a one-shot registration before the execute API
	PreferRegister          bool `json:"prefer_register,omitempty"`
	DisableRegisterFallback bool `json:"disable_register_fallback,omitempty"`
	// AllowLegacy overrides the platform default, which allows legacy
	// evaluation on the permissive generation only
	AllowLegacy *bool `json:"allow_legacy,omitempty"`
}

// Result is the outcome of a successful request
type Result struct {
	Strategy string `json:"strategy"`
	Values   []any  `json:"values"`
	// OneShotID is set when the code was delivered by registration
	OneShotID string `json:"one_shot_id,omitempty"`
}

// Options configures an Adapter
type Options struct {
	Caps    Capabilities
	Config  config.ExecutorConfig
	Clock   clock.Clock
	Metrics *monitoring.Metrics
	Logger  *zap.Logger
}

// Adapter executes requests against one platform API surface. It is safe for
// concurrent use.
type Adapter struct {
	caps    Capabilities
	cfg     config.ExecutorConfig
	clock   clock.Clock
	metrics *monitoring.Metrics
	logger  *zap.Logger

	canRegister bool
	canExecute  bool

	mu      sync.Mutex
	seq     int
	byTab   map[int]map[string]clock.Timer
	swept   bool
	sweepOK bool
	health  Health
}

// New creates an Adapter
func New(opts Options) *Adapter {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	cfg := opts.Config
	if cfg.OneShotPrefix == "" {
		cfg = config.Default().Executor
	}
	a := &Adapter{
		caps:        opts.Caps,
		cfg:         cfg,
		clock:       opts.Clock,
		metrics:     opts.Metrics,
		logger:      logging.OrNop(opts.Logger).Named("executor"),
		canRegister: opts.Caps.UserScripts != nil,
		canExecute:  opts.Caps.Execute != nil,
		byTab:       make(map[int]map[string]clock.Timer),
	}
	if !a.canRegister && !a.canExecute {
		a.logger.Warn("user scripts API is unavailable; code injection compatibility is limited",
			zap.Stringer("platform", opts.Caps.Platform))
	}
	return a
}

// ExecuteInTab runs req in tabID. The user script routes are tried first when
// req.TryUserScripts is set: registration (when preferred), the execute API,
// then registration as a fallback. Legacy evaluation follows only when it is
// allowed. A registration reports success without values from the page.
func (a *Adapter) ExecuteInTab(ctx context.Context, tabID int, req Request) (Result, error) {
	if req.TryUserScripts {
		canTryRegister := !req.DisableRegisterFallback && req.FrameID <= TopFrame

		if canTryRegister && req.PreferRegister {
			if id, ok := a.registerOnce(ctx, tabID, req, StrategyRegisterPreferred); ok {
				return Result{Strategy: StrategyRegisterPreferred, Values: []any{true}, OneShotID: id}, nil
			}
		}
		if values, ok := a.executeUserScript(ctx, tabID, req); ok {
			return Result{Strategy: StrategyUserScriptsExecute, Values: values}, nil
		}
		if canTryRegister {
			if id, ok := a.registerOnce(ctx, tabID, req, StrategyRegisterFallback); ok {
				return Result{Strategy: StrategyRegisterFallback, Values: []any{true}, OneShotID: id}, nil
			}
		}
		if !a.legacyAllowed(req) {
			a.metrics.RecordExecutorAttempt(StrategyLegacy, "disabled")
			a.logger.Info("execution refused", zap.Int("tab", tabID), zap.Error(ErrFallbackDisabled))
			return Result{}, ErrFallbackDisabled
		}
	}

	values, err := a.legacy(ctx, tabID, req)
	if err != nil {
		a.metrics.RecordExecutorAttempt(StrategyLegacy, "error")
		return Result{}, err
	}
	a.metrics.RecordExecutorAttempt(StrategyLegacy, "ok")
	return Result{Strategy: StrategyLegacy, Values: values}, nil
}

func (a *Adapter) legacyAllowed(req Request) bool {
	if req.AllowLegacy != nil {
		return *req.AllowLegacy
	}
	return !a.caps.Platform.Restrictive()
}

// executeUserScript runs req through the execute API. It reports false when
// the API is absent, there is no code, or the call failed, so the caller can
// fall back.
func (a *Adapter) executeUserScript(ctx context.Context, tabID int, req Request) ([]any, bool) {
	if !a.canExecute || req.Code == "" {
		return nil, false
	}
	results, err := a.caps.Execute.Execute(ctx, target(tabID, req), req.Code, req.RunAt == script.RunStart)
	if err == nil {
		err = firstFrameError(results)
	}
	if err != nil {
		a.metrics.RecordExecutorAttempt(StrategyUserScriptsExecute, "error")
		a.logger.Debug("user script execute failed, falling back",
			zap.Int("tab", tabID), zap.Error(err))
		return nil, false
	}
	a.metrics.RecordExecutorAttempt(StrategyUserScriptsExecute, "ok")
	return frameValues(results), true
}

// legacy runs req through the tab execute API, or the scripting API when
// that is all there is. The tab execute API does not exist on the
// restrictive generation and the scripting API evaluates a code string only
// on the permissive one.
func (a *Adapter) legacy(ctx context.Context, tabID int, req Request) ([]any, error) {
	if a.caps.Legacy != nil && !a.caps.Platform.Restrictive() {
		file := req.File
		if file == "" && len(req.Files) > 0 {
			file = req.Files[0]
		}
		return a.caps.Legacy.ExecuteScript(ctx, tabID, req.Code, file)
	}
	if a.caps.Scripting == nil {
		return nil, ErrNoExecuteAPI
	}

	inj := host.ScriptInjection{Target: target(tabID, req), Immediately: req.RunAt == script.RunStart}
	switch {
	case req.File != "":
		inj.Files = []string{req.File}
	case len(req.Files) > 0:
		inj.Files = req.Files
	default:
		if a.caps.Platform.Restrictive() {
			return nil, ErrFallbackDisabled
		}
		inj.Code = req.Code
	}
	results, err := a.caps.Scripting.ExecuteScript(ctx, inj)
	if err != nil {
		return nil, fmt.Errorf("scripting execute: %w", err)
	}
	return frameValues(results), nil
}

func target(tabID int, req Request) host.Target {
	t := host.Target{TabID: tabID, AllFrames: req.AllFrames}
	if req.FrameID > TopFrame {
		t.FrameIDs = []int{req.FrameID}
	}
	return t
}

func firstFrameError(results []host.FrameResult) error {
	for _, r := range results {
		if r.Error != "" {
			return errors.New(r.Error)
		}
	}
	return nil
}

func frameValues(results []host.FrameResult) []any {
	values := make([]any, len(results))
	for i, r := range results {
		values[i] = r.Result
	}
	return values
}
