// Package navigation holds the per-document state shared by every injection
// component. One Context exists per navigation and is passed by reference;
// nothing in it outlives Close.
package navigation

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/injectcore/internal/csp"
	"github.com/GriffinCanCode/injectcore/internal/host"
	"github.com/GriffinCanCode/injectcore/internal/injection/bridge"
	"github.com/GriffinCanCode/injectcore/internal/injection/phase"
	"github.com/GriffinCanCode/injectcore/internal/logging"
	"github.com/GriffinCanCode/injectcore/internal/script"
	"github.com/GriffinCanCode/injectcore/internal/shared/id"
)

// Reachability is whether the page realm can be reached for this document
type Reachability int

const (
	ReachUnknown Reachability = iota
	Reachable
	Unreachable
)

func (r Reachability) String() string {
	switch r {
	case Reachable:
		return "reachable"
	case Unreachable:
		return "unreachable"
	default:
		return "unknown"
	}
}

// Vault holds the one-shot secrets of the realm handshake. The ids are fresh
// per navigation and never reused.
type Vault struct {
	Reachability Reachability
	// Attempted is set once a handshake was started, successful or not
	Attempted   bool
	VaultID     string
	HandshakeID string
	ContentID   string
	WebID       string
}

// Lists are the injection lists keyed by realm then run phase
type Lists map[script.Realm]map[script.RunAt][]*script.Descriptor

// Options configures a new Context
type Options struct {
	URL      string
	Platform host.Platform
	// CSP is the decision computed from the response headers, if any
	CSP csp.Decision
	// ForceIsolated is set when an earlier feedback round asked for isolated delivery
	ForceIsolated bool
	IsXML         bool
	Now           func() time.Time
	Logger        *zap.Logger
}

// Context is the state of one navigation
type Context struct {
	ID       id.NavigationID
	URL      string
	Platform host.Platform

	CSP           csp.Decision
	Nonce         string
	ForceIsolated bool
	IsXML         bool
	// MetaStrict is set once an in-document policy forced the isolated realm
	MetaStrict bool

	Salt   []byte
	Phases *phase.Arena
	Bridge *bridge.Bridge
	Vault  Vault
	Logger *zap.Logger

	mu     sync.Mutex
	lists  Lists
	closed bool
}

// New creates the context for one navigation
func New(opts Options) *Context {
	navID := id.NewNavigationID()
	logger := logging.ForNavigation(opts.Logger, navID.String(), opts.URL)
	c := &Context{
		ID:            navID,
		URL:           opts.URL,
		Platform:      opts.Platform,
		CSP:           opts.CSP,
		Nonce:         opts.CSP.Nonce,
		ForceIsolated: opts.ForceIsolated,
		IsXML:         opts.IsXML,
		Salt:          []byte(id.Token()),
		Phases:        phase.NewArena(opts.Now),
		Bridge:        bridge.New(logger),
		Logger:        logger,
		lists:         make(Lists),
	}
	return c
}

// PageInjectable reports whether the page realm is known reachable
func (c *Context) PageInjectable() bool {
	return c.Vault.Reachability == Reachable
}

// Add appends d to the list for (realm, d.Meta.RunAt)
func (c *Context) Add(realm script.Realm, d *script.Descriptor) {
	c.mu.Lock()
	defer c.mu.Unlock()

	byRunAt := c.lists[realm]
	if byRunAt == nil {
		byRunAt = make(map[script.RunAt][]*script.Descriptor)
		c.lists[realm] = byRunAt
	}
	byRunAt[d.Meta.RunAt] = append(byRunAt[d.Meta.RunAt], d)
}

// List returns the list for (realm, runAt) in insertion order
func (c *Context) List(realm script.Realm, runAt script.RunAt) []*script.Descriptor {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*script.Descriptor(nil), c.lists[realm][runAt]...)
}

// Has reports whether any list for realm is non-empty
func (c *Context) Has(realm script.Realm) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, l := range c.lists[realm] {
		if len(l) > 0 {
			return true
		}
	}
	return false
}

// Move removes the descriptors selected by pick from the page list of runAt
// and appends them to the isolated list of the same phase. It returns the
// moved descriptors.
func (c *Context) Move(runAt script.RunAt, pick func(*script.Descriptor) bool) []*script.Descriptor {
	c.mu.Lock()
	defer c.mu.Unlock()

	page := c.lists[script.RealmPage][runAt]
	var stay, moved []*script.Descriptor
	for _, d := range page {
		if pick(d) {
			moved = append(moved, d)
		} else {
			stay = append(stay, d)
		}
	}
	if len(moved) == 0 {
		return nil
	}
	c.lists[script.RealmPage][runAt] = stay
	if c.lists[script.RealmContent] == nil {
		c.lists[script.RealmContent] = make(map[script.RunAt][]*script.Descriptor)
	}
	c.lists[script.RealmContent][runAt] = append(c.lists[script.RealmContent][runAt], moved...)
	return moved
}

// Closed reports whether Close was called
func (c *Context) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close releases the injection lists and marks the context unusable. Phase
// records survive so checks that were already scheduled can still read them.
func (c *Context) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lists = make(Lists)
	c.closed = true
}
