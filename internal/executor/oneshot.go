package executor

import (
	"context"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/injectcore/internal/host"
	"github.com/GriffinCanCode/injectcore/internal/logging"
	"github.com/GriffinCanCode/injectcore/internal/script"
	"github.com/GriffinCanCode/injectcore/internal/shared/clock"
)

// registerOnce registers req's code as a short-lived user script scoped to
// the tab's current URL. The registration is tracked per tab and removed
// after the configured delay, or earlier by TabUpdated or TabRemoved.
func (a *Adapter) registerOnce(ctx context.Context, tabID int, req Request, strategy string) (string, bool) {
	if !a.canRegister || req.Code == "" || req.FrameID > TopFrame {
		return "", false
	}
	_, _ = a.SweepStale(ctx, false)

	var pageURL string
	if a.caps.Tabs != nil {
		pageURL, _ = a.caps.Tabs.TabURL(ctx, tabID)
	}
	match, ok := MatchFor(pageURL)
	if !ok {
		a.logger.Debug("tab url cannot be registered", zap.Int("tab", tabID), zap.String(logging.FieldURL, pageURL))
		return "", false
	}

	a.mu.Lock()
	a.seq++
	id := a.cfg.OneShotPrefix + strconv.FormatInt(a.clock.Now().UnixMilli(), 10) +
		"-" + strconv.Itoa(tabID) + "-" + strconv.Itoa(a.seq)
	a.mu.Unlock()

	runAt := req.RunAt
	if req.RunAt == script.RunBody {
		runAt = script.RunStart
	}
	err := a.caps.UserScripts.Register(ctx, []host.Registration{{
		ID:        id,
		Matches:   []string{match},
		Code:      req.Code,
		RunAt:     "document_" + runAt.String(),
		AllFrames: req.AllFrames,
	}})
	if err != nil {
		a.metrics.RecordExecutorAttempt(strategy, "error")
		a.logger.Debug("one-shot registration failed, falling back",
			zap.Int("tab", tabID), zap.String(logging.FieldStrategy, strategy), zap.Error(err))
		return "", false
	}
	a.metrics.RecordExecutorAttempt(strategy, "ok")

	timer := a.clock.AfterFunc(a.cfg.UnregisterDelay, func() {
		a.Cleanup(context.Background(), tabID, id)
	})
	a.track(tabID, id, timer)
	a.logger.Debug("one-shot registered", zap.Int("tab", tabID), zap.String("id", id), zap.String("match", match))
	return id, true
}

// MatchFor builds the narrow match pattern a one-shot registration uses for
// pageURL. Only http, https, file and ftp pages can be registered.
func MatchFor(pageURL string) (string, bool) {
	u, err := url.Parse(pageURL)
	if err != nil || u.Scheme == "" {
		return "", false
	}
	switch u.Scheme {
	case "http", "https", "ftp":
	case "file":
		return "file:///*", true
	default:
		return "", false
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	return u.Scheme + "://" + u.Host + path + "*", true
}

func (a *Adapter) track(tabID int, id string, timer clock.Timer) {
	a.mu.Lock()
	ids := a.byTab[tabID]
	if ids == nil {
		ids = make(map[string]clock.Timer)
		a.byTab[tabID] = ids
	}
	ids[id] = timer
	n := a.activeLocked()
	a.mu.Unlock()
	a.metrics.SetOneShotsActive(n)
}

func (a *Adapter) activeLocked() int {
	n := 0
	for _, ids := range a.byTab {
		n += len(ids)
	}
	return n
}

// Tracked returns the one-shot ids tracked for tabID, sorted
func (a *Adapter) Tracked(tabID int) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.byTab[tabID]))
	for id := range a.byTab[tabID] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Cleanup unregisters the tracked one-shots of tabID. With no ids every
// tracked id of the tab goes; otherwise only the given ids that are tracked.
// Failures are logged.
func (a *Adapter) Cleanup(ctx context.Context, tabID int, ids ...string) {
	if !a.canRegister {
		return
	}
	a.mu.Lock()
	tracked := a.byTab[tabID]
	var remove []string
	if len(ids) == 0 {
		for id := range tracked {
			remove = append(remove, id)
		}
	} else {
		for _, id := range ids {
			if _, ok := tracked[id]; ok {
				remove = append(remove, id)
			}
		}
	}
	for _, id := range remove {
		if t := tracked[id]; t != nil {
			t.Stop()
		}
		delete(tracked, id)
	}
	if len(tracked) == 0 {
		delete(a.byTab, tabID)
	}
	n := a.activeLocked()
	a.mu.Unlock()

	if len(remove) == 0 {
		return
	}
	sort.Strings(remove)
	a.metrics.SetOneShotsActive(n)
	if err := a.caps.UserScripts.Unregister(ctx, remove); err != nil {
		a.logger.Warn("one-shot cleanup failed", zap.Int("tab", tabID), zap.Strings("ids", remove), zap.Error(err))
	}
}

// TabUpdated is called on tab status changes. A tab that finished loading
// no longer needs its one-shots.
func (a *Adapter) TabUpdated(ctx context.Context, tabID int, status string) {
	if status == "complete" {
		a.Cleanup(ctx, tabID)
	}
}

// TabRemoved is called when a tab closes
func (a *Adapter) TabRemoved(ctx context.Context, tabID int) {
	a.Cleanup(ctx, tabID)
}

// IsOneShot reports whether id follows the one-shot naming convention
func (a *Adapter) IsOneShot(id string) bool {
	return strings.HasPrefix(id, a.cfg.OneShotPrefix)
}

// SweepStale unregisters one-shots left behind by an earlier process. It
// runs once per Adapter unless force is set, and reports whether anything
// was removed.
func (a *Adapter) SweepStale(ctx context.Context, force bool) (bool, error) {
	if !a.canRegister {
		return false, nil
	}
	a.mu.Lock()
	if a.swept && !force {
		ok := a.sweepOK
		a.mu.Unlock()
		return ok, nil
	}
	a.swept = true
	a.mu.Unlock()

	removed, err := a.sweep(ctx)
	a.mu.Lock()
	a.sweepOK = removed
	a.mu.Unlock()
	if err != nil {
		a.logger.Warn("stale one-shot sweep failed", zap.Error(err))
	}
	return removed, err
}

func (a *Adapter) sweep(ctx context.Context) (bool, error) {
	ids, err := a.caps.UserScripts.GetScripts(ctx)
	if err != nil {
		return false, err
	}
	a.mu.Lock()
	live := make(map[string]bool)
	for _, tracked := range a.byTab {
		for id := range tracked {
			live[id] = true
		}
	}
	a.mu.Unlock()

	var stale []string
	for _, id := range ids {
		if a.IsOneShot(id) && !live[id] {
			stale = append(stale, id)
		}
	}
	if len(stale) == 0 {
		return false, nil
	}
	if err := a.caps.UserScripts.Unregister(ctx, stale); err != nil {
		return false, err
	}
	a.logger.Info("stale one-shots removed", zap.Int("count", len(stale)))
	return true, nil
}
