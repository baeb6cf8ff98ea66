// Package id provides identifier generation for the injection core.
//
// Two families of identifiers are produced here:
//   - Navigation and request ids: prefixed ULIDs, k-sortable so log lines and
//     diagnostics read in time order (nav_*, req_*).
//   - Tokens: unguessable, session-unique values (uuid v4 from crypto/rand) used as
//     handshake event names and vault ids. A hostile page must never be able to
//     predict one, so tokens carry no timestamp and no shared prefix.
package id

import (
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// NavigationID identifies one document lifetime
type NavigationID string

// RequestID identifies one API request and its trace
type RequestID string

const (
	NavigationPrefix = "nav"
	RequestPrefix    = "req"
)

// Generator produces prefixed ULIDs. Ids from one generator are strictly
// increasing, also within the same millisecond.
type Generator struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

var defaultGenerator = NewGenerator()

// NewGenerator creates a generator seeded from crypto/rand
func NewGenerator() *Generator {
	return &Generator{entropy: ulid.Monotonic(rand.Reader, 0)}
}

// Generate creates a new ULID
func (g *Generator) Generate() ulid.ULID {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateWithPrefix creates a prefixed ULID string
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return prefix + "_" + g.Generate().String()
}

// NewNavigationID generates a new navigation ID
func NewNavigationID() NavigationID {
	return NavigationID(defaultGenerator.GenerateWithPrefix(NavigationPrefix))
}

// NewRequestID generates a new request ID
func NewRequestID() RequestID {
	return RequestID(defaultGenerator.GenerateWithPrefix(RequestPrefix))
}

func (id NavigationID) String() string { return string(id) }
func (id RequestID) String() string    { return string(id) }

// Token returns a fresh unguessable identifier. The value is a valid JS
// identifier tail (hex only) so it can be used as a property or event name.
func Token() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Tokens returns n distinct tokens.
func Tokens(n int) []string {
	out := make([]string, 0, n)
	seen := make(map[string]struct{}, n)
	for len(out) < n {
		t := Token()
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// Timestamp extracts the timestamp from a prefixed ULID
func Timestamp(prefixed string) (time.Time, error) {
	raw := prefixed
	if i := strings.LastIndexByte(prefixed, '_'); i >= 0 {
		raw = prefixed[i+1:]
	}
	parsed, err := ulid.Parse(raw)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
