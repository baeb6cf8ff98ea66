// Package triage decides which realm every script of a navigation runs in.
package triage

import (
	"go.uber.org/zap"

	"github.com/GriffinCanCode/injectcore/internal/csp"
	"github.com/GriffinCanCode/injectcore/internal/injection/bridge"
	"github.com/GriffinCanCode/injectcore/internal/injection/navigation"
	"github.com/GriffinCanCode/injectcore/internal/logging"
	"github.com/GriffinCanCode/injectcore/internal/script"
)

// Override is a navigation-wide reason to force the isolated realm
type Override int

const (
	NoOverride Override = iota
	OverrideXML
	OverrideFeedback
	OverrideCSP
	OverrideSandbox
)

func (o Override) String() string {
	switch o {
	case OverrideXML:
		return "xml-document"
	case OverrideFeedback:
		return "feedback"
	case OverrideCSP:
		return "csp"
	case OverrideSandbox:
		return "sandbox-rejects-inline"
	default:
		return "none"
	}
}

// Forced returns the first global override that applies to nav, in priority
// order: non-HTML document, earlier feedback, strict policy, then the static
// platform flag.
func Forced(nav *navigation.Context) Override {
	switch {
	case nav.IsXML:
		return OverrideXML
	case nav.ForceIsolated:
		return OverrideFeedback
	case nav.CSP.Strict() || nav.MetaStrict:
		return OverrideCSP
	case nav.Platform.SandboxRejectsInline():
		return OverrideSandbox
	}
	return NoOverride
}

// WantsPage reports whether d would use the page realm if it were reachable
func WantsPage(d *script.Descriptor) bool {
	return d.Meta.InjectInto != script.RealmContent
}

// NeedsHandshake reports whether the vault handshake should be attempted for
// nav before classifying scripts.
func NeedsHandshake(nav *navigation.Context, scripts []*script.Descriptor) bool {
	if Forced(nav) != NoOverride || nav.Vault.Reachability != navigation.ReachUnknown {
		return false
	}
	for _, d := range scripts {
		if WantsPage(d) {
			return true
		}
	}
	return false
}

// Resolve returns the realm d runs in and whether it must be marked bad-realm
func Resolve(nav *navigation.Context, d *script.Descriptor) (script.Realm, bool) {
	pageOK := nav.PageInjectable() && Forced(nav) == NoOverride

	switch d.Meta.InjectInto {
	case script.RealmContent:
		return script.RealmContent, false
	case script.RealmPage:
		if pageOK {
			return script.RealmPage, false
		}
		return script.RealmContent, true
	default:
		if pageOK {
			return script.RealmPage, false
		}
		failed := nav.Vault.Attempted && nav.Vault.Reachability == navigation.Unreachable
		return script.RealmContent, failed
	}
}

// Classify resolves d, appends it to the matching injection list and writes
// the bad-realm marking when needed. It returns the realm used.
func Classify(nav *navigation.Context, d *script.Descriptor) script.Realm {
	realm, bad := Resolve(nav, d)
	nav.Add(realm, d)
	if bad {
		nav.Bridge.Table().Set(d.ID, bridge.StatusBadRealm)
		nav.Logger.Debug("script cannot reach its realm",
			zap.String(logging.FieldScript, d.ID),
			zap.Stringer("declared", d.Meta.InjectInto),
			zap.Stringer("override", Forced(nav)))
	}
	return realm
}

// ClassifyAll classifies scripts in order and returns the (id, key) pairs that
// ended up in the isolated realm.
func ClassifyAll(nav *navigation.Context, scripts []*script.Descriptor) []script.IDKey {
	var isolated []script.IDKey
	for _, d := range scripts {
		if Classify(nav, d) == script.RealmContent {
			isolated = append(isolated, script.IDKey{ID: d.ID, Key: d.Key})
		}
	}
	return isolated
}

// Retriage applies a policy that appeared in the document after scripts were
// classified. When it is strict, page-list scripts not yet injected move to
// the isolated lists (scripts that required the page realm are marked
// bad-realm) and the moved ids are returned for the feedback message.
// Scripts already injected are left alone.
func Retriage(nav *navigation.Context, metaPolicy string) []script.IDKey {
	if nav.MetaStrict || nav.IsXML || !csp.IsStrict(metaPolicy) {
		return nil
	}
	nav.MetaStrict = true

	var moved []script.IDKey
	for _, runAt := range script.RunPhases {
		for _, d := range nav.Move(runAt, pending) {
			if d.Meta.InjectInto == script.RealmPage {
				nav.Bridge.Table().Set(d.ID, bridge.StatusBadRealm)
			}
			moved = append(moved, script.IDKey{ID: d.ID, Key: d.Key})
		}
	}
	if len(moved) > 0 {
		nav.Logger.Info("late policy moved scripts to the isolated realm", zap.Int("count", len(moved)))
	}
	return moved
}

func pending(d *script.Descriptor) bool { return d.Code != "" }
