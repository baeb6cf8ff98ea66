package diagnostics

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/injectcore/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/injectcore/internal/logging"
	"github.com/GriffinCanCode/injectcore/internal/script"
	"github.com/GriffinCanCode/injectcore/internal/shared/clock"
)

// Catalog looks up the pristine source of an installed script. Descriptors
// that reach the collector from the content side have already dropped their
// code, so the syntax check reads from here.
type Catalog interface {
	Script(id string) (*script.Descriptor, bool)
}

// MapCatalog is a Catalog backed by a map
type MapCatalog map[string]*script.Descriptor

// Script implements Catalog
func (m MapCatalog) Script(id string) (*script.Descriptor, bool) {
	d, ok := m[id]
	return d, ok
}

// Options configures a Service
type Options struct {
	Clock           clock.Clock
	Catalog         Catalog
	DedupeTTL       time.Duration
	MaxEntries      int
	MaxFingerprints int
	Metrics         *monitoring.Metrics
	Logger          *zap.Logger
}

// Result of logging a script issue
type Result struct {
	Logged         bool           `json:"logged"`
	Deduped        bool           `json:"deduped"`
	Classification Classification `json:"classification,omitempty"`
	EntryID        int64          `json:"entry_id,omitempty"`
}

type seen struct {
	at     time.Time
	source Source
}

const subscriberBuffer = 64

// Service is the diagnostics collector.
type Service struct {
	opts    Options
	logger  *zap.Logger
	metrics *monitoring.Metrics

	mu          sync.Mutex
	nextID      int64
	entries     []Entry
	dropped     int
	fingerprint map[string]seen
	subs        map[int]chan Entry
	nextSub     int

	starts *startSummary
}

// NewService creates a collector. Zero options take the collector defaults.
func NewService(opts Options) *Service {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Catalog == nil {
		opts.Catalog = MapCatalog{}
	}
	if opts.DedupeTTL <= 0 {
		opts.DedupeTTL = 60 * time.Second
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = 1500
	}
	if opts.MaxFingerprints <= 0 {
		opts.MaxFingerprints = 500
	}
	return &Service{
		opts:        opts,
		logger:      logging.OrNop(opts.Logger).Named("diagnostics"),
		metrics:     opts.Metrics,
		fingerprint: make(map[string]seen),
		subs:        make(map[int]chan Entry),
		starts:      newStartSummary(),
	}
}

// ReportScriptIssue implements Reporter
func (s *Service) ReportScriptIssue(ctx context.Context, issue ScriptIssue) error {
	s.LogScriptIssue(ctx, issue)
	return nil
}

// LogScriptIssue dedupes, classifies and records one issue.
func (s *Service) LogScriptIssue(_ context.Context, issue ScriptIssue) Result {
	if issue.Fingerprint == "" {
		issue.Fingerprint = Fingerprint(issue.ScriptID, issue.PageURL)
	}
	source := resolveSource(issue)

	if s.duplicate(issue.Fingerprint, source) {
		s.metrics.IncDiagnosticsDeduped()
		s.logger.Debug("script issue deduped",
			zap.String(logging.FieldScript, issue.ScriptID),
			zap.String("fingerprint", issue.Fingerprint),
			zap.String("source", string(source)))
		return Result{Deduped: true}
	}

	var syntax SyntaxCheck
	if d, ok := s.opts.Catalog.Script(issue.ScriptID); ok {
		syntax = CheckSyntax(d)
		if issue.ScriptName == "" {
			issue.ScriptName = d.DisplayName()
		}
	} else {
		syntax = CheckSyntax(nil)
	}
	class := syntax.Classify()

	reason := issue.Reason
	if reason == "" {
		reason = class.DefaultReason()
	}
	level := LevelWarn
	if class == ClassSyntaxError {
		level = LevelError
	}

	trail := make([]any, 0, len(issue.PhaseTrail))
	for _, p := range issue.PhaseTrail {
		trail = append(trail, map[string]any{
			"phase":       p.Phase.String(),
			"ts":          p.At.UnixMilli(),
			"realm":       p.Realm.String(),
			"run_at":      p.RunAt.String(),
			"check_phase": p.CheckPhase,
			"state":       p.Status,
			"elapsed_ms":  p.Elapsed.Milliseconds(),
		})
	}
	details := map[string]any{
		"id":             issue.ScriptID,
		"name":           plainText(issue.ScriptName),
		"reason":         plainText(reason),
		"fingerprint":    issue.Fingerprint,
		"url":            issue.PageURL,
		"realm":          issue.Realm.String(),
		"run_at":         issue.RunAt.String(),
		"check_phase":    issue.CheckPhase,
		"bridge_state":   issue.BridgeStatus,
		"elapsed_ms":     issue.Elapsed.Milliseconds(),
		"phase_trail":    trail,
		"source":         string(source),
		"classification": string(class),
		"syntax":         syntaxDetails(syntax),
	}

	entry := s.Log(level, TypeUserscript, class.Event(), details)
	s.metrics.RecordDiagnostic(string(class))
	s.logger.Warn("script issue",
		zap.String(logging.FieldScript, issue.ScriptID),
		zap.String(logging.FieldURL, issue.PageURL),
		zap.String("classification", string(class)),
		zap.String("check_phase", issue.CheckPhase),
		zap.Duration("elapsed", issue.Elapsed))

	return Result{Logged: true, Classification: class, EntryID: entry.ID}
}

func syntaxDetails(p SyntaxCheck) map[string]any {
	out := map[string]any{
		"checked": p.Checked,
		"ok":      p.OK,
		"summary": plainText(p.Summary),
	}
	if p.Source != "" {
		out["source"] = p.Source
	}
	if p.HasPosition() {
		out["line"] = p.Line
		out["column"] = p.Column
	}
	if p.Message != "" {
		out["message"] = plainText(p.Message)
	}
	return out
}

// duplicate reports whether fingerprint was seen inside the dedupe window.
// A non-popup report replaces an earlier popup one and is not a duplicate.
func (s *Service) duplicate(fingerprint string, source Source) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.opts.Clock.Now()
	if len(s.fingerprint) > s.opts.MaxFingerprints {
		for fp, v := range s.fingerprint {
			if now.Sub(v.at) >= s.opts.DedupeTTL {
				delete(s.fingerprint, fp)
			}
		}
	}

	prev, ok := s.fingerprint[fingerprint]
	if ok && now.Sub(prev.at) < s.opts.DedupeTTL {
		if prev.source == SourcePopup && source != SourcePopup {
			s.fingerprint[fingerprint] = seen{at: now, source: source}
			return false
		}
		return true
	}
	s.fingerprint[fingerprint] = seen{at: now, source: source}
	return false
}

// Log appends an entry and fans it out to subscribers
func (s *Service) Log(level Level, typ, event string, details map[string]any) Entry {
	s.mu.Lock()
	s.nextID++
	e := Entry{
		ID:      s.nextID,
		At:      s.opts.Clock.Now(),
		Level:   level,
		Type:    typ,
		Event:   event,
		Details: sanitizeDetails(details),
	}
	s.entries = append(s.entries, e)
	if over := len(s.entries) - s.opts.MaxEntries; over > 0 {
		s.entries = append([]Entry(nil), s.entries[over:]...)
		s.dropped += over
	}
	for _, ch := range s.subs {
		select {
		case ch <- e:
		default:
		}
	}
	s.mu.Unlock()
	return e
}

// LogError records a runtime error
func (s *Service) LogError(event string, err error, details map[string]any) Entry {
	if details == nil {
		details = map[string]any{}
	}
	details["error"] = err
	return s.Log(LevelError, TypeRuntime, event, details)
}

// GetLog returns the entries matching f with stats over the result
func (s *Service) GetLog(f Filter) Log {
	s.mu.Lock()
	stored, dropped := len(s.entries), s.dropped
	var out []Entry
	for _, e := range s.entries {
		if f.Accepts(e) {
			out = append(out, e)
		}
	}
	s.mu.Unlock()

	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	if out == nil {
		out = []Entry{}
	}
	return Log{
		Meta: Meta{
			GeneratedAt: s.opts.Clock.Now(),
			MaxEntries:  s.opts.MaxEntries,
			Stored:      stored,
			Dropped:     dropped,
			Returned:    len(out),
		},
		Entries: out,
		Stats:   computeStats(out),
	}
}

// Export is the downloadable form of a log
type Export struct {
	FileName string   `json:"file_name"`
	Tags     []string `json:"tags"`
	Log      Log      `json:"log"`
}

// Export builds the export envelope for f. source names the caller for the
// tag list and may be empty.
func (s *Service) Export(f Filter, source string) Export {
	l := s.GetLog(f)
	return Export{
		FileName: fmt.Sprintf("injectcore-diagnostics-%s.json", l.Meta.GeneratedAt.UTC().Format("20060102T150405Z")),
		Tags:     exportTags(l.Entries, source),
		Log:      l,
	}
}

// WriteExport encodes the export for f to w
func (s *Service) WriteExport(w io.Writer, f Filter, source string) (string, error) {
	exp := s.Export(f, source)
	if err := sonic.ConfigDefault.NewEncoder(w).Encode(exp); err != nil {
		return exp.FileName, fmt.Errorf("encode diagnostics export: %w", err)
	}
	return exp.FileName, nil
}

// Clear drops every entry and fingerprint and returns how many entries were removed
func (s *Service) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.entries)
	s.entries = nil
	s.dropped = 0
	s.fingerprint = make(map[string]seen)
	return n
}

// Subscribe streams new entries. Slow subscribers miss entries rather than
// blocking the collector. The returned func unsubscribes and closes the channel.
func (s *Service) Subscribe() (<-chan Entry, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextSub++
	key := s.nextSub
	ch := make(chan Entry, subscriberBuffer)
	s.subs[key] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, key)
			s.mu.Unlock()
			close(ch)
		})
	}
}

// ObserveStart records how long a script took to report its start signal
func (s *Service) ObserveStart(elapsed time.Duration) {
	s.starts.observe(elapsed)
}

// StartLatency summarizes the observed start latencies
func (s *Service) StartLatency() LatencySummary {
	return s.starts.summary()
}
