// Package phase tracks the delivery lifecycle of every script in a navigation.
package phase

import (
	"sync"
	"time"

	"github.com/GriffinCanCode/injectcore/internal/script"
)

// Phase is a point in a script's delivery lifecycle
type Phase int

const (
	Unknown Phase = iota
	Queued
	PlantSent
	Injected
	RunDispatched
	Started
	BadRealm
	AwaitingStart
	SuspectedStall
)

var phaseNames = [...]string{
	Unknown:        "",
	Queued:         "queued",
	PlantSent:      "plant-sent",
	Injected:       "injected",
	RunDispatched:  "run-dispatched",
	Started:        "started",
	BadRealm:       "bad-realm",
	AwaitingStart:  "awaiting-start",
	SuspectedStall: "suspected-stall",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return "unknown"
	}
	return phaseNames[p]
}

// MarshalText implements encoding.TextMarshaler
func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler. Unknown names decode as Unknown.
func (p *Phase) UnmarshalText(b []byte) error {
	*p = Unknown
	for i, name := range phaseNames {
		if name != "" && name == string(b) {
			*p = Phase(i)
			break
		}
	}
	return nil
}

// Terminal reports whether no further transitions are expected
func (p Phase) Terminal() bool {
	return p == Started || p == BadRealm || p == SuspectedStall
}

// HistorySize bounds the transition ring kept per script
const HistorySize = 8

// Point is one recorded transition
type Point struct {
	Phase      Phase         `json:"phase" yaml:"phase"`
	At         time.Time     `json:"ts" yaml:"ts"`
	Realm      script.Realm  `json:"realm" yaml:"realm"`
	RunAt      script.RunAt  `json:"run_at" yaml:"run_at"`
	CheckPhase string        `json:"check_phase,omitempty" yaml:"check_phase,omitempty"`
	Status     int           `json:"state,omitempty" yaml:"state,omitempty"`
	Elapsed    time.Duration `json:"elapsed,omitempty" yaml:"elapsed,omitempty"`
}

// Record is the current phase of one script plus its recent history
type Record struct {
	Current Phase   `json:"phase" yaml:"phase"`
	History []Point `json:"history" yaml:"history"`
}

// Arena holds the phase record of every script id in one navigation.
type Arena struct {
	mu      sync.Mutex
	now     func() time.Time
	records map[string]*Record
}

// NewArena creates an empty arena stamping points with now
func NewArena(now func() time.Time) *Arena {
	if now == nil {
		now = time.Now
	}
	return &Arena{now: now, records: make(map[string]*Record)}
}

// Mark moves id to p and appends pt (stamped with p and the current time)
// to its history. It returns a copy of the updated record.
func (a *Arena) Mark(id string, p Phase, pt Point) Record {
	a.mu.Lock()
	defer a.mu.Unlock()

	rec, ok := a.records[id]
	if !ok {
		rec = &Record{}
		a.records[id] = rec
	}
	pt.Phase = p
	pt.At = a.now()
	rec.Current = p
	rec.History = append(rec.History, pt)
	if n := len(rec.History); n > HistorySize {
		rec.History = append(rec.History[:0:0], rec.History[n-HistorySize:]...)
	}
	return rec.copy()
}

// Get returns a copy of the record for id
func (a *Arena) Get(id string) (Record, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	rec, ok := a.records[id]
	if !ok {
		return Record{}, false
	}
	return rec.copy(), true
}

// Current returns the current phase of id, Unknown if never marked
func (a *Arena) Current(id string) Phase {
	a.mu.Lock()
	defer a.mu.Unlock()

	if rec, ok := a.records[id]; ok {
		return rec.Current
	}
	return Unknown
}

// Snapshot copies every record
func (a *Arena) Snapshot() map[string]Record {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make(map[string]Record, len(a.records))
	for id, rec := range a.records {
		out[id] = rec.copy()
	}
	return out
}

// Reset drops every record
func (a *Arena) Reset() {
	a.mu.Lock()
	a.records = make(map[string]*Record)
	a.mu.Unlock()
}

func (r *Record) copy() Record {
	return Record{
		Current: r.Current,
		History: append([]Point(nil), r.History...),
	}
}
