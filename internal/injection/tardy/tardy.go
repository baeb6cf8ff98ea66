// Package tardy watches delivered scripts for their start signal.
//
// Injecting a <script> element gives no feedback on restrictive Chromium: a
// script blocked by policy or broken by a syntax error fails silently. Every
// delivered id is queued, and a check compares the bridge identity table
// against the queue after a grace window. Ids that never report a start are
// marked suspected-stall and reported exactly once.
package tardy

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/injectcore/internal/diagnostics"
	"github.com/GriffinCanCode/injectcore/internal/host"
	"github.com/GriffinCanCode/injectcore/internal/infrastructure/config"
	"github.com/GriffinCanCode/injectcore/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/injectcore/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/injectcore/internal/injection/bridge"
	"github.com/GriffinCanCode/injectcore/internal/injection/navigation"
	"github.com/GriffinCanCode/injectcore/internal/injection/phase"
	"github.com/GriffinCanCode/injectcore/internal/logging"
	"github.com/GriffinCanCode/injectcore/internal/script"
	"github.com/GriffinCanCode/injectcore/internal/shared/clock"
)

// Check phases name the moment a check was scheduled
const (
	CheckPostDispatch = "post-dispatch"
	CheckPostInject   = "post-inject"
	CheckGraceRecheck = "grace-recheck"
)

// StallReason is the reason sent with every suspected-stall report
const StallReason = "Script did not begin execution after injection."

const reportTimeout = 5 * time.Second

// Policy holds the detector timings. A zero MaxWait means an id that has not
// started by its first check is reported right away.
type Policy struct {
	InitialDelay time.Duration
	RecheckDelay time.Duration
	MaxWait      time.Duration
}

// DefaultPolicy returns the grace window for p. Only restrictive Chromium
// needs one: elsewhere a failed script surfaces as an error event and the
// check runs on the next task.
func DefaultPolicy(p host.Platform) Policy {
	if p.SandboxRejectsInline() {
		return Policy{
			InitialDelay: 500 * time.Millisecond,
			RecheckDelay: 750 * time.Millisecond,
			MaxWait:      2000 * time.Millisecond,
		}
	}
	return Policy{}
}

// PolicyFor applies the configured override, if any, over DefaultPolicy
func PolicyFor(p host.Platform, cfg config.TardyConfig) Policy {
	if !cfg.Override {
		return DefaultPolicy(p)
	}
	return Policy{
		InitialDelay: cfg.InitialDelay,
		RecheckDelay: cfg.RecheckDelay,
		MaxWait:      cfg.MaxWait,
	}
}

// Item identifies one script being watched
type Item struct {
	ID    string
	Name  string
	RunAt script.RunAt
}

// ItemsOf converts descriptors to watch items
func ItemsOf(ds []*script.Descriptor) []Item {
	items := make([]Item, len(ds))
	for i, d := range ds {
		items[i] = Item{ID: d.ID, Name: d.DisplayName(), RunAt: d.Meta.RunAt}
	}
	return items
}

// StartObserver receives the time a script took to report its start
type StartObserver interface {
	ObserveStart(elapsed time.Duration)
}

// Options configures a Detector
type Options struct {
	Nav    *navigation.Context
	Policy Policy
	Clock  clock.Clock
	// NextTask queues work on the host loop; used for zero-delay checks
	NextTask func(func())
	Reporter diagnostics.Reporter
	// Breaker guards Reporter; reports rejected by an open breaker are dropped
	Breaker  *resilience.Breaker
	Observer StartObserver
	Metrics  *monitoring.Metrics
}

type entry struct {
	queuedAt    time.Time
	nextCheckAt time.Time
}

// Detector is the per-navigation stall watcher
type Detector struct {
	opts   Options
	nav    *navigation.Context
	logger *zap.Logger

	mu    sync.Mutex
	queue map[string]*entry
}

// New creates a detector for opts.Nav
func New(opts Options) *Detector {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.NextTask == nil {
		c := opts.Clock
		opts.NextTask = func(fn func()) { c.AfterFunc(0, fn) }
	}
	return &Detector{
		opts:   opts,
		nav:    opts.Nav,
		logger: logging.OrNop(opts.Nav.Logger).Named("tardy"),
		queue:  make(map[string]*entry),
	}
}

// Policy returns the active timings
func (d *Detector) Policy() Policy { return d.opts.Policy }

// Enqueue starts watching id. Re-enqueueing restarts the wait.
func (d *Detector) Enqueue(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queue[id] = &entry{queuedAt: d.opts.Clock.Now()}
}

// Pending reports whether id is still watched
func (d *Detector) Pending(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.queue[id] != nil
}

// Len returns the number of watched ids
func (d *Detector) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Schedule runs Check for items after delay, or on the next task when delay is zero
func (d *Detector) Schedule(items []Item, realm script.Realm, checkPhase string, delay time.Duration) {
	run := func() { d.Check(items, realm, checkPhase) }
	if delay > 0 {
		d.opts.Clock.AfterFunc(delay, run)
		return
	}
	d.opts.NextTask(run)
}

// Check resolves each watched item: started and bad-realm ids leave the
// queue, ids inside the grace window get a recheck and the rest are
// reported as suspected stalls.
func (d *Detector) Check(items []Item, realm script.Realm, checkPhase string) {
	table := d.nav.Bridge.Table()

	for _, it := range items {
		d.mu.Lock()
		e := d.queue[it.ID]
		d.mu.Unlock()
		if e == nil {
			continue
		}

		now := d.opts.Clock.Now()
		status := table.Get(it.ID)
		base := phase.Point{Realm: realm, RunAt: it.RunAt, Status: int(status)}

		switch {
		case status.Started():
			d.nav.Phases.Mark(it.ID, phase.Started, base)
			d.dequeue(it.ID)
			if d.opts.Observer != nil {
				d.opts.Observer.ObserveStart(now.Sub(e.queuedAt))
			}
			d.opts.Metrics.RecordTardy(phase.Started.String())
			continue
		case status == bridge.StatusBadRealm:
			d.nav.Phases.Mark(it.ID, phase.BadRealm, base)
			d.dequeue(it.ID)
			d.opts.Metrics.RecordTardy(phase.BadRealm.String())
			continue
		}

		status = table.Advance(it.ID)
		elapsed := now.Sub(e.queuedAt)
		pt := phase.Point{Realm: realm, RunAt: it.RunAt, CheckPhase: checkPhase, Status: int(status), Elapsed: elapsed}

		if p := d.opts.Policy; p.MaxWait > 0 && elapsed < p.MaxWait {
			d.nav.Phases.Mark(it.ID, phase.AwaitingStart, pt)
			d.opts.Metrics.RecordTardy(phase.AwaitingStart.String())
			if d.claimRecheck(e, now) {
				d.Schedule([]Item{it}, realm, CheckGraceRecheck, p.RecheckDelay)
			}
			continue
		}

		rec := d.nav.Phases.Mark(it.ID, phase.SuspectedStall, pt)
		d.dequeue(it.ID)
		d.opts.Metrics.RecordTardy(phase.SuspectedStall.String())
		d.report(diagnostics.ScriptIssue{
			ScriptID:     it.ID,
			ScriptName:   it.Name,
			RunAt:        it.RunAt,
			Realm:        realm,
			Reason:       StallReason,
			Fingerprint:  diagnostics.Fingerprint(it.ID, d.nav.URL),
			PageURL:      d.nav.URL,
			CheckPhase:   checkPhase,
			BridgeStatus: int(status),
			Elapsed:      elapsed,
			PhaseTrail:   rec.History,
		})
	}
}

// claimRecheck reports whether no recheck is outstanding for e and books one
func (d *Detector) claimRecheck(e *entry, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !e.nextCheckAt.IsZero() && e.nextCheckAt.After(now) {
		return false
	}
	e.nextCheckAt = now.Add(d.opts.Policy.RecheckDelay)
	return true
}

func (d *Detector) dequeue(id string) {
	d.mu.Lock()
	delete(d.queue, id)
	d.mu.Unlock()
}

func (d *Detector) report(issue diagnostics.ScriptIssue) {
	d.logger.Warn("script suspected stalled",
		zap.String(logging.FieldScript, issue.ScriptID),
		zap.Stringer(logging.FieldRealm, issue.Realm),
		zap.String("check_phase", issue.CheckPhase),
		zap.Duration("elapsed", issue.Elapsed))

	if d.opts.Reporter == nil {
		return
	}
	send := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), reportTimeout)
		defer cancel()
		return d.opts.Reporter.ReportScriptIssue(ctx, issue)
	}

	var err error
	if d.opts.Breaker != nil {
		err = d.opts.Breaker.Execute(send)
	} else {
		err = send()
	}
	if err == nil {
		return
	}
	if resilience.Rejected(err) {
		d.opts.Metrics.IncReportsDropped()
	}
	d.logger.Debug("script issue report failed",
		zap.String(logging.FieldScript, issue.ScriptID),
		zap.Error(err))
}
