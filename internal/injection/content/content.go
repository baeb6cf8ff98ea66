// Package content runs the injection pipeline for one document: policy
// analysis, the vault handshake, realm triage, scheduling and stall
// detection, wired together over one navigation context.
package content

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/injectcore/internal/csp"
	"github.com/GriffinCanCode/injectcore/internal/diagnostics"
	"github.com/GriffinCanCode/injectcore/internal/host"
	"github.com/GriffinCanCode/injectcore/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/injectcore/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/injectcore/internal/injection/bridge"
	"github.com/GriffinCanCode/injectcore/internal/injection/navigation"
	"github.com/GriffinCanCode/injectcore/internal/injection/scheduler"
	"github.com/GriffinCanCode/injectcore/internal/injection/tardy"
	"github.com/GriffinCanCode/injectcore/internal/injection/triage"
	"github.com/GriffinCanCode/injectcore/internal/injection/vault"
	"github.com/GriffinCanCode/injectcore/internal/logging"
	"github.com/GriffinCanCode/injectcore/internal/preinject"
	"github.com/GriffinCanCode/injectcore/internal/script"
	"github.com/GriffinCanCode/injectcore/internal/shared/clock"
)

// Background is the privileged side the content side reports back to
type Background interface {
	Feedback(fb preinject.Feedback) ([]*script.Descriptor, error)
}

// VaultHost is implemented by windows that let same-origin children reach
// this document's vault
type VaultHost interface {
	SetVaultWriter(w host.VaultWriter)
}

// Options configures Start
type Options struct {
	Doc       host.Document
	Win       host.Window
	Platform  host.Platform
	Injection preinject.Injection
	// Background receives feedback; nil means none is sent
	Background Background
	Clock      clock.Clock
	Policy     tardy.Policy
	Reporter   diagnostics.Reporter
	Breaker    *resilience.Breaker
	Observer   tardy.StartObserver
	Metrics    *monitoring.Metrics
	Logger     *zap.Logger
	Incognito  bool
}

// Session is the running pipeline of one document
type Session struct {
	nav      *navigation.Context
	doc      host.Document
	sched    *scheduler.Scheduler
	det      *tardy.Detector
	bg       Background
	metrics  *monitoring.Metrics
	logger   *zap.Logger
	token    string
	outcome  vault.Outcome
	declared []*script.Descriptor

	mu        sync.Mutex
	feedbacks []preinject.Feedback
}

// Start builds the navigation context for opts.Doc and registers delivery at
// every lifecycle point. Scripts bound to a point that already passed are
// delivered as soon as the host allows.
func Start(opts Options) *Session {
	logger := logging.OrNop(opts.Logger).Named("content")
	now := clockNow(opts.Clock)

	nav := navigation.New(navigation.Options{
		URL:           opts.Doc.URL(),
		Platform:      opts.Platform,
		CSP:           opts.Injection.Hint.CSP,
		ForceIsolated: opts.Injection.Hint.ForceIsolated,
		IsXML:         opts.Doc.IsXML(),
		Now:           now,
		Logger:        logger,
	})
	applyDocumentPolicy(nav, opts.Doc)
	opts.Metrics.RecordNavigation(opts.Platform.String())

	s := &Session{
		nav:     nav,
		doc:     opts.Doc,
		bg:      opts.Background,
		metrics: opts.Metrics,
		logger:  nav.Logger.Named("session"),
		token:   opts.Injection.Token,
	}

	nav.Bridge.Attach(script.RealmContent, opts.Win.Isolated(nav.Bridge))

	scripts := s.keyed(opts.Injection.Scripts)
	if triage.NeedsHandshake(nav, scripts) {
		s.outcome = vault.Handshake(nav, opts.Win)
	}
	opts.Metrics.RecordHandshake(s.outcome.String())
	if vh, ok := opts.Win.(VaultHost); ok && nav.PageInjectable() {
		vh.SetVaultWriter(vault.NewWriter(nav))
	}

	isolated := triage.ClassifyAll(nav, scripts)
	if n := realmChanges(opts.Injection.Hint.Expected, scripts, isolated); n > 0 {
		logger.Debug("expected realms changed since the last navigation", zap.Int("scripts", n))
	}

	s.det = tardy.New(tardy.Options{
		Nav:      nav,
		Policy:   opts.Policy,
		Clock:    opts.Clock,
		NextTask: opts.Doc.NextTask,
		Reporter: opts.Reporter,
		Breaker:  opts.Breaker,
		Observer: opts.Observer,
		Metrics:  opts.Metrics,
	})
	s.sched = scheduler.New(scheduler.Options{
		Nav:      nav,
		Doc:      opts.Doc,
		Page:     opts.Win,
		Detector: s.det,
		Metrics:  opts.Metrics,
		Info: bridge.Info{
			NavigationID: nav.ID.String(),
			URL:          nav.URL,
			Platform:     opts.Platform.String(),
			Incognito:    opts.Incognito,
		},
	})

	first := preinject.Feedback{
		URL:           nav.URL,
		Token:         s.token,
		ForceIsolated: s.forceFlag(),
		Isolated:      isolated,
		More:          opts.Injection.More,
		First:         true,
	}
	// Restrictive Chromium reports after the start point so the feedback
	// round trip does not delay document-start scripts.
	deferFeedback := opts.Platform.SandboxRejectsInline()

	opts.Doc.OnElement("*", func() {
		s.sched.InjectAll(script.RunStart)
		if deferFeedback {
			s.sendFeedback(first)
		}
	})
	opts.Doc.OnElement("body", s.onBody)
	opts.Doc.OnContentLoaded(func() { s.sched.InjectAll(script.RunEnd) })
	opts.Doc.OnIdle(func() { s.sched.InjectAll(script.RunIdle) })

	if !deferFeedback {
		s.sendFeedback(first)
	}

	s.logger.Debug("navigation started",
		zap.Int("scripts", len(scripts)),
		zap.Int("isolated", len(isolated)),
		zap.Stringer("csp", nav.CSP.Kind),
		zap.Stringer("override", triage.Forced(nav)),
		zap.String("handshake", s.outcome.String()))
	return s
}

// realmChanges counts the scripts whose realm differs from the one the
// previous navigation to the origin reported
func realmChanges(expected map[string]script.Realm, scripts []*script.Descriptor, isolated []script.IDKey) int {
	if expected == nil {
		return 0
	}
	got := make(map[string]bool, len(isolated))
	for _, ik := range isolated {
		got[ik.ID] = true
	}
	n := 0
	for _, d := range scripts {
		if got[d.ID] != (expected[d.ID] == script.RealmContent) {
			n++
		}
	}
	return n
}

func clockNow(c clock.Clock) func() time.Time {
	if c == nil {
		return nil
	}
	return c.Now
}

// applyDocumentPolicy fills what the headers did not provide from the
// document: a nonce borrowed from its elements and a meta policy that is
// already visible.
func applyDocumentPolicy(nav *navigation.Context, doc host.Document) {
	meta := doc.MetaPolicy()
	if csp.IsStrict(meta) {
		nav.MetaStrict = true
	}
	if nav.Nonce != "" {
		return
	}
	if d := csp.Analyze(meta); d.Kind == csp.Nonce {
		nav.Nonce = d.Nonce
		return
	}
	nav.Nonce = doc.PageNonce()
}

// keyed gives every descriptor a key salted for this navigation
func (s *Session) keyed(in []*script.Descriptor) []*script.Descriptor {
	out := make([]*script.Descriptor, len(in))
	for i, d := range in {
		c := d.Clone()
		c.Key = script.NewKey(s.nav.Salt, c.Code)
		out[i] = c
	}
	s.mu.Lock()
	s.declared = append(s.declared, out...)
	s.mu.Unlock()
	return out
}

func (s *Session) forceFlag() bool {
	return s.nav.CSP.Strict() || s.nav.MetaStrict
}

// onBody re-reads the document policy, now that a meta element would be
// visible, before the body point
func (s *Session) onBody() {
	meta := s.doc.MetaPolicy()
	if s.nav.Nonce == "" {
		if d := csp.Analyze(meta); d.Kind == csp.Nonce {
			s.nav.Nonce = d.Nonce
		}
	}
	if moved := triage.Retriage(s.nav, meta); len(moved) > 0 {
		s.metrics.AddRetriaged(len(moved))
		s.sendFeedback(preinject.Feedback{URL: s.nav.URL, ForceIsolated: true, Isolated: moved})
	}
	s.sched.InjectAll(script.RunBody)
}

// sendFeedback reports to the background. Scripts it hands back are merged
// into the end and idle points.
func (s *Session) sendFeedback(fb preinject.Feedback) {
	s.mu.Lock()
	s.feedbacks = append(s.feedbacks, fb)
	s.mu.Unlock()

	if s.bg == nil {
		return
	}
	more, err := s.bg.Feedback(fb)
	if err != nil {
		s.logger.Warn("feedback failed", zap.Error(err))
		return
	}
	if len(more) == 0 {
		return
	}
	s.sched.Merge(s.keyed(more), func(isolated []script.IDKey) {
		s.sendFeedback(preinject.Feedback{URL: s.nav.URL, ForceIsolated: s.forceFlag(), Isolated: isolated})
	})
}

// Nav returns the navigation context
func (s *Session) Nav() *navigation.Context { return s.nav }

// Detector returns the stall detector
func (s *Session) Detector() *tardy.Detector { return s.det }

// Handshake returns the vault handshake outcome
func (s *Session) Handshake() vault.Outcome { return s.outcome }

// Feedbacks returns every feedback message sent so far
func (s *Session) Feedbacks() []preinject.Feedback {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]preinject.Feedback(nil), s.feedbacks...)
}

// Close abandons the navigation. Checks already scheduled still run against
// the phase records but deliver nothing.
func (s *Session) Close() {
	s.nav.Close()
}
