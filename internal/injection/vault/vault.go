// Package vault implements the handshake that connects the isolated realm to
// the page realm for one document.
//
// The isolated side registers a one-time listener under a random event name,
// then places a bootstrap script in the page that fires that event. The
// listener is removed right after the bootstrap was placed, so a page script
// racing the bootstrap cannot answer without already knowing the name, and a
// bootstrap refused by the page's policy leaves nothing behind. On success
// both sides bind two fresh ids for the rest of the document's life.
package vault

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/injectcore/internal/host"
	"github.com/GriffinCanCode/injectcore/internal/injection/bridge"
	"github.com/GriffinCanCode/injectcore/internal/injection/navigation"
	"github.com/GriffinCanCode/injectcore/internal/script"
	"github.com/GriffinCanCode/injectcore/internal/shared/id"
)

// Route is how the page realm was reached
type Route int

const (
	RouteNone Route = iota
	RouteOpener
	RouteParent
	RouteTop
	RouteSandboxFrame
)

func (r Route) String() string {
	switch r {
	case RouteOpener:
		return "opener"
	case RouteParent:
		return "parent"
	case RouteTop:
		return "top"
	case RouteSandboxFrame:
		return "sandbox-frame"
	default:
		return "none"
	}
}

// Outcome summarizes one handshake
type Outcome struct {
	Attempted bool
	Reachable bool
	Route     Route
}

// String is the metrics label for the outcome
func (o Outcome) String() string {
	switch {
	case !o.Attempted:
		return "skipped"
	case o.Reachable:
		return "ok"
	default:
		return "unreachable"
	}
}

const bootstrapName = "injected-web"

// Bootstrap is the page-side code the handshake places. It fires the
// handshake event and keeps the ids from the reply.
func Bootstrap(handshakeID string) string {
	return fmt.Sprintf(`(function(h){
  var ids;
  window.addEventListener(h + "*", function(e) { ids = e.detail; }, {once: true});
  window.dispatchEvent(new CustomEvent(h));
})(%q)`, handshakeID)
}

// SandboxCode is run in the disposable sandboxed frame to publish a vault
// reference back to its parent
func SandboxCode(vaultID string) string {
	return fmt.Sprintf(`parent[%q] = [this, 0]`, vaultID)
}

// Handshake connects nav to the page realm of win and records the result in
// nav.Vault. It is skipped entirely on platforms whose sandboxed frame refuses
// inline script, leaving the page unreachable without an attempt.
func Handshake(nav *navigation.Context, win host.Window) Outcome {
	log := nav.Logger.Named("vault")

	if nav.Platform.SandboxRejectsInline() {
		nav.Vault.Reachability = navigation.Unreachable
		log.Debug("handshake skipped", zap.Stringer("platform", nav.Platform))
		return Outcome{}
	}

	tokens := id.Tokens(4)
	nav.Vault = navigation.Vault{
		Reachability: navigation.Unreachable,
		Attempted:    true,
		VaultID:      tokens[0],
		HandshakeID:  tokens[1],
		ContentID:    tokens[2],
		WebID:        tokens[3],
	}

	route := reach(nav, win)
	if route == RouteNone {
		log.Info("page realm unreachable", zap.String("reason", "no vault route"))
		return Outcome{Attempted: true}
	}

	v := &nav.Vault
	listener := win.AddListener(v.HandshakeID, func(any) {
		v.Reachability = navigation.Reachable
		nav.Bridge.Attach(script.RealmPage, win.BindPage(v.WebID, v.ContentID, nav.Bridge))
		win.Dispatch(v.HandshakeID+"*", []string{v.WebID, v.ContentID})
	}, true)
	win.InjectScript(host.ScriptElement{
		Text:        Bootstrap(v.HandshakeID),
		Nonce:       nav.Nonce,
		DisplayName: bootstrapName,
	})
	// The listener is once-only; removing it here covers a refused bootstrap.
	win.RemoveListener(v.HandshakeID, listener)

	out := Outcome{Attempted: true, Reachable: nav.PageInjectable(), Route: route}
	if out.Reachable {
		log.Debug("page realm bound", zap.Stringer("route", route))
	} else {
		log.Info("page realm unreachable", zap.Stringer("route", route), zap.String("reason", "bootstrap did not answer"))
	}
	return out
}

func reach(nav *navigation.Context, win host.Window) Route {
	vaultID := nav.Vault.VaultID
	if opener := win.Opener(); opener != nil && opener.WriteVault(vaultID) {
		return RouteOpener
	}
	if !win.IsTop() {
		if parent := win.Parent(); parent != nil && parent.WriteVault(vaultID) {
			return RouteParent
		}
	}
	if win.IsTop() {
		// Nothing above a top-level page to protect a hand-off from
		return RouteTop
	}
	if win.SandboxFrame(SandboxCode(vaultID), nav.Nonce, vaultID) {
		return RouteSandboxFrame
	}
	return RouteNone
}

// Writer lets a same-origin child frame ask this document to hand over its
// vault. It implements host.VaultWriter.
type Writer struct {
	nav *navigation.Context
}

// NewWriter creates the vault writer of nav
func NewWriter(nav *navigation.Context) *Writer {
	return &Writer{nav: nav}
}

// WriteVault posts the request to this document's page realm. It fails when
// this document has no page realm connection of its own.
func (w *Writer) WriteVault(vaultID string) bool {
	if w == nil || w.nav == nil || w.nav.Closed() || !w.nav.Bridge.Attached(script.RealmPage) {
		return false
	}
	return w.nav.Bridge.Post(bridge.CmdWriteVault, bridge.WriteVault{VaultID: vaultID}, script.RealmPage)
}
