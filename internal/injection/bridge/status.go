package bridge

import "sync"

// Status is the coarse per-script value shared by both realms. Any value other
// than the named ones is a started sentinel written by the realm that ran the
// script.
type Status int

const (
	StatusNone      Status = 0
	StatusPending   Status = 1
	StatusInjecting Status = 2
	StatusBadRealm  Status = -1
	// StatusStarted is the sentinel the built-in realms write
	StatusStarted Status = 3
)

// Started reports whether s is a started sentinel
func (s Status) Started() bool {
	switch s {
	case StatusNone, StatusPending, StatusInjecting, StatusBadRealm:
		return false
	}
	return true
}

func (s Status) String() string {
	switch s {
	case StatusNone:
		return "none"
	case StatusPending:
		return "pending"
	case StatusInjecting:
		return "injecting"
	case StatusBadRealm:
		return "bad-realm"
	default:
		return "started"
	}
}

// Table maps script ids to their Status. It is the single source of truth for
// whether a script began executing. Bad-realm is sticky: once a script's
// required realm is known unreachable no later write can hide it.
type Table struct {
	mu  sync.RWMutex
	ids map[string]Status
}

// NewTable creates an empty table
func NewTable() *Table {
	return &Table{ids: make(map[string]Status)}
}

// Set writes status for id, ignoring writes over bad-realm
func (t *Table) Set(id string, status Status) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.ids[id] == StatusBadRealm {
		return
	}
	t.ids[id] = status
}

// Get reads the status for id
func (t *Table) Get(id string) Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.ids[id]
}

// Advance moves id from pending to injecting and returns the resulting status
func (t *Table) Advance(id string) Status {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.ids[id]
	if s == StatusPending {
		s = StatusInjecting
		t.ids[id] = s
	}
	return s
}

// Snapshot copies the table
func (t *Table) Snapshot() map[string]Status {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]Status, len(t.ids))
	for id, s := range t.ids {
		out[id] = s
	}
	return out
}
