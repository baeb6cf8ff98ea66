package content

import (
	"github.com/GriffinCanCode/injectcore/internal/csp"
	"github.com/GriffinCanCode/injectcore/internal/injection/bridge"
	"github.com/GriffinCanCode/injectcore/internal/injection/phase"
	"github.com/GriffinCanCode/injectcore/internal/injection/triage"
	"github.com/GriffinCanCode/injectcore/internal/preinject"
	"github.com/GriffinCanCode/injectcore/internal/script"
)

// ScriptReport is the delivery outcome of one script
type ScriptReport struct {
	ID       string        `json:"id" yaml:"id"`
	Name     string        `json:"name" yaml:"name"`
	Declared script.Realm  `json:"declared" yaml:"declared"`
	Realm    script.Realm  `json:"realm" yaml:"realm"`
	RunAt    script.RunAt  `json:"run_at" yaml:"run_at"`
	Phase    phase.Phase   `json:"phase" yaml:"phase"`
	Bridge   string        `json:"bridge" yaml:"bridge"`
	History  []phase.Point `json:"history,omitempty" yaml:"history,omitempty"`
}

// Report summarizes a navigation
type Report struct {
	NavigationID string               `json:"navigation_id" yaml:"navigation_id"`
	URL          string               `json:"url" yaml:"url"`
	Platform     string               `json:"platform" yaml:"platform"`
	CSP          csp.Decision         `json:"csp" yaml:"csp"`
	MetaStrict   bool                 `json:"meta_strict,omitempty" yaml:"meta_strict,omitempty"`
	Nonce        string               `json:"nonce,omitempty" yaml:"nonce,omitempty"`
	Override     string               `json:"override" yaml:"override"`
	Handshake    string               `json:"handshake" yaml:"handshake"`
	Route        string               `json:"route,omitempty" yaml:"route,omitempty"`
	Scripts      []ScriptReport       `json:"scripts" yaml:"scripts"`
	Feedback     []preinject.Feedback `json:"feedback,omitempty" yaml:"feedback,omitempty"`
}

// Report builds the navigation summary. Call it before Close: the realm of
// each script is read from the injection lists.
func (s *Session) Report() Report {
	nav := s.nav
	realms := make(map[string]script.Realm)
	for _, realm := range []script.Realm{script.RealmPage, script.RealmContent} {
		for _, runAt := range script.RunPhases {
			for _, d := range nav.List(realm, runAt) {
				realms[d.ID] = realm
			}
		}
	}

	s.mu.Lock()
	declared := append([]*script.Descriptor(nil), s.declared...)
	s.mu.Unlock()

	r := Report{
		NavigationID: nav.ID.String(),
		URL:          nav.URL,
		Platform:     nav.Platform.String(),
		CSP:          nav.CSP,
		MetaStrict:   nav.MetaStrict,
		Nonce:        nav.Nonce,
		Override:     triage.Forced(nav).String(),
		Handshake:    s.outcome.String(),
		Feedback:     s.Feedbacks(),
	}
	if s.outcome.Attempted {
		r.Route = s.outcome.Route.String()
	}
	for _, d := range declared {
		rec, _ := nav.Phases.Get(d.ID)
		r.Scripts = append(r.Scripts, ScriptReport{
			ID:       d.ID,
			Name:     d.DisplayName(),
			Declared: d.Meta.InjectInto,
			Realm:    realms[d.ID],
			RunAt:    d.Meta.RunAt,
			Phase:    rec.Current,
			Bridge:   nav.Bridge.Table().Get(d.ID).String(),
			History:  rec.History,
		})
	}
	return r
}

// Started reports whether id reported its start
func (s *Session) Started(id string) bool {
	return s.nav.Bridge.Table().Get(id).Started()
}

// BadRealm reports whether id was marked bad-realm
func (s *Session) BadRealm(id string) bool {
	return s.nav.Bridge.Table().Get(id) == bridge.StatusBadRealm
}
