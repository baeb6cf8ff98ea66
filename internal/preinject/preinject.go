// Package preinject is the privileged side of a navigation: it resolves the
// scripts matching a page, keeps the per-origin policy hints the content side
// reads before classifying, and absorbs the feedback the content side sends
// back after each batch.
package preinject

import (
	"errors"
	"net/http"
	"net/url"
	"sync"

	"github.com/golang/groupcache/lru"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/injectcore/internal/csp"
	"github.com/GriffinCanCode/injectcore/internal/logging"
	"github.com/GriffinCanCode/injectcore/internal/script"
	"github.com/GriffinCanCode/injectcore/internal/shared/id"
)

// DefaultCacheSize bounds the number of origins with a cached hint
const DefaultCacheSize = 256

var ErrUnknownToken = errors.New("unknown or expired injection token")

// Hint is what the content side learns about an origin before it classifies
// anything. CSP comes from the last observed response headers. ForceIsolated
// comes from the last feedback round and Expected from the rounds of the
// last navigation that reported; a script missing from Expected went to the
// page realm or was not classified.
type Hint struct {
	CSP           csp.Decision            `json:"csp"`
	ForceIsolated bool                    `json:"force_isolated"`
	Expected      map[string]script.Realm `json:"expected,omitempty"`
}

// Feedback is sent by the content side after a batch was classified
type Feedback struct {
	URL   string `json:"url"`
	Token string `json:"token,omitempty"`
	// ForceIsolated is the most recent policy force flag of the document
	ForceIsolated bool `json:"force_isolated"`
	// Isolated lists the scripts that ended up in the isolated realm
	Isolated []script.IDKey `json:"isolated,omitempty"`
	// More asks for the scripts held back by Prepare
	More bool `json:"more,omitempty"`
	// First marks the first round of a navigation, which replaces the
	// expected realms recorded by earlier navigations
	First bool `json:"first,omitempty"`
}

// Injection is the first payload of a navigation. Scripts that run at end or
// idle are held back and fetched with a More feedback, so start scripts do
// not wait on the whole set.
type Injection struct {
	Token   string               `json:"token,omitempty"`
	Scripts []*script.Descriptor `json:"scripts"`
	More    bool                 `json:"more"`
	Hint    Hint                 `json:"hint"`
}

// Catalog resolves the scripts matching a page
type Catalog interface {
	Matching(pageURL string) []*script.Descriptor
}

// Service caches hints by origin. It is safe for concurrent use.
type Service struct {
	catalog Catalog
	logger  *zap.Logger

	mu      sync.Mutex
	hints   *lru.Cache
	pending *lru.Cache
}

// New creates a service. size <= 0 uses DefaultCacheSize.
func New(catalog Catalog, size int, logger *zap.Logger) *Service {
	if size <= 0 {
		size = DefaultCacheSize
	}
	return &Service{
		catalog: catalog,
		logger:  logging.OrNop(logger).Named("preinject"),
		hints:   lru.New(size),
		pending: lru.New(size),
	}
}

// Origin returns the cache key for pageURL: scheme://host[:port]
func Origin(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil || u.Host == "" {
		return pageURL
	}
	return u.Scheme + "://" + u.Host
}

// ObserveHeaders records the policy of a response for pageURL's origin
func (s *Service) ObserveHeaders(pageURL string, h http.Header) csp.Decision {
	d := csp.FromHeaders(h)

	s.mu.Lock()
	defer s.mu.Unlock()
	hint := s.hintLocked(Origin(pageURL))
	hint.CSP = d
	s.hints.Add(Origin(pageURL), hint)
	return d
}

// Hint returns the cached hint for pageURL's origin. The zero hint means
// nothing is known yet.
func (s *Service) Hint(pageURL string) Hint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hintLocked(Origin(pageURL)).copy()
}

func (s *Service) hintLocked(origin string) Hint {
	if v, ok := s.hints.Get(origin); ok {
		return v.(Hint)
	}
	return Hint{}
}

func (h Hint) copy() Hint {
	if h.Expected != nil {
		m := make(map[string]script.Realm, len(h.Expected))
		for k, v := range h.Expected {
			m[k] = v
		}
		h.Expected = m
	}
	return h
}

// Prepare resolves the scripts for pageURL and splits them into the first
// payload and the held-back remainder.
func (s *Service) Prepare(pageURL string) Injection {
	var early, late []*script.Descriptor
	if s.catalog != nil {
		for _, d := range s.catalog.Matching(pageURL) {
			if d.Meta.RunAt <= script.RunBody {
				early = append(early, d)
			} else {
				late = append(late, d)
			}
		}
	}

	inj := Injection{Scripts: early, Hint: s.Hint(pageURL)}
	if len(late) > 0 {
		inj.Token = id.Token()
		inj.More = true
		s.mu.Lock()
		s.pending.Add(inj.Token, late)
		s.mu.Unlock()
	}
	s.logger.Debug("injection prepared",
		zap.String(logging.FieldURL, pageURL),
		zap.Int("early", len(early)),
		zap.Int("late", len(late)))
	return inj
}

// Feedback updates the origin's hint with what the content side actually
// did. A first round starts the expected realms over; later rounds of the
// same navigation add to them. When fb.More is set the held-back scripts are
// returned.
func (s *Service) Feedback(fb Feedback) ([]*script.Descriptor, error) {
	origin := Origin(fb.URL)

	s.mu.Lock()
	hint := s.hintLocked(origin).copy()
	hint.ForceIsolated = fb.ForceIsolated
	if fb.First {
		hint.Expected = nil
	}
	if len(fb.Isolated) > 0 {
		if hint.Expected == nil {
			hint.Expected = make(map[string]script.Realm)
		}
		for _, ik := range fb.Isolated {
			hint.Expected[ik.ID] = script.RealmContent
		}
	}
	s.hints.Add(origin, hint)

	var more []*script.Descriptor
	var err error
	if fb.More {
		if v, ok := s.pending.Get(fb.Token); ok {
			more = v.([]*script.Descriptor)
			s.pending.Remove(fb.Token)
		} else {
			err = ErrUnknownToken
		}
	}
	s.mu.Unlock()

	s.logger.Debug("feedback received",
		zap.String(logging.FieldURL, fb.URL),
		zap.Bool("force_isolated", fb.ForceIsolated),
		zap.Int("isolated", len(fb.Isolated)),
		zap.Int("more", len(more)))
	return more, err
}

// Len returns the number of cached origins
func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hints.Len()
}
