package host

// ReadyState mirrors document.readyState
type ReadyState int

const (
	ReadyLoading ReadyState = iota
	ReadyInteractive
	ReadyComplete
)

func (r ReadyState) String() string {
	switch r {
	case ReadyLoading:
		return "loading"
	case ReadyInteractive:
		return "interactive"
	case ReadyComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// Document is the content side's view of the page document.
type Document interface {
	URL() string
	IsXML() bool
	ReadyState() ReadyState

	// MetaPolicy returns the content of a <meta http-equiv="Content-Security-Policy">
	// tag, or "" when none is present yet.
	MetaPolicy() string
	// PageNonce returns a nonce borrowed from an existing script/style/link element.
	PageNonce() string

	// OnElement runs fn once an element matching tag exists ("*" for the
	// document element, "body" for the body). It runs synchronously when the
	// element already exists.
	OnElement(tag string, fn func())
	// OnContentLoaded runs fn after DOMContentLoaded, or as the next task when
	// the document is no longer loading.
	OnContentLoaded(fn func())
	// OnIdle runs fn once the document has finished loading and the loop is idle.
	OnIdle(fn func())
	// NextTask queues fn as a separate task on the host loop.
	NextTask(fn func())
}

// ScriptElement is a <script> element built for page-realm delivery.
type ScriptElement struct {
	Text        string
	Nonce       string
	DisplayName string
}

// PageRealm places code into the hosting page's own realm.
type PageRealm interface {
	// InjectScript appends el under an opaque wrapper (a closed shadow root)
	// and removes both right after. The page's policy decides whether the code
	// runs; the caller is deliberately not told.
	InjectScript(el ScriptElement)
}

// Listener receives an event detail
type Listener func(detail any)

// ListenerID identifies a registered listener for removal
type ListenerID uint64

// EventTarget is the window event surface. Both realms and the page's own
// scripts can dispatch on it, which is why handshake event names are secret.
type EventTarget interface {
	// AddListener registers fn for name. A once listener is removed before it
	// is invoked so re-entrant dispatches cannot reach it.
	AddListener(name string, fn Listener, once bool) ListenerID
	RemoveListener(name string, id ListenerID)
	// Dispatch fires name synchronously and reports whether any listener ran.
	Dispatch(name string, detail any) bool
}

// VaultWriter is a same-origin window that accepts a vault hand-off
type VaultWriter interface {
	WriteVault(vaultID string) bool
}

// Window is the isolated realm's view of the window it runs in.
type Window interface {
	EventTarget
	PageRealm

	IsTop() bool
	// Opener returns the opener if it is same-origin reachable, else nil.
	Opener() VaultWriter
	// Parent returns the parent frame if it is same-origin reachable, else nil.
	// Always nil for the top frame.
	Parent() VaultWriter
	// SandboxFrame creates a disposable sandboxed same-origin child frame, runs
	// code in it and removes the frame. It reports whether the frame produced
	// the vault reference named vaultID.
	SandboxFrame(code, nonce, vaultID string) bool

	// BindPage connects the page-realm bridge using the handshake ids.
	BindPage(webID, contentID string, peer Peer) Endpoint
	// Isolated connects the isolated-realm bridge.
	Isolated(peer Peer) Endpoint
}
