package sandbox

import (
	"net/url"
	"strings"
	"sync"

	"github.com/antchfx/htmlquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/GriffinCanCode/injectcore/internal/csp"
	"github.com/GriffinCanCode/injectcore/internal/host"
)

const headerPolicy = "Content-Security-Policy"

// Page is one document in one frame. It implements host.Document and
// host.Window.
type Page struct {
	browser *Browser
	u       *url.URL
	root    *html.Node
	xml     bool
	policy  string
	opener  *Page
	parent  *Page
	logger  *zap.Logger

	events   *events
	page     *Runtime
	isolated *Runtime

	mu          sync.Mutex
	state       host.ReadyState
	started     bool
	metaActive  bool
	bodySeen    bool
	waiters     map[string][]func()
	loaded      []func()
	idle        []func()
	attempts    []Attempt
	ran         map[string]bool
	violations  []Violation
	vaults      map[string]bool
	vaultWriter host.VaultWriter
	webID       string
	contentID   string
}

var (
	_ host.Document = (*Page)(nil)
	_ host.Window   = (*Page)(nil)
)

func newPage(b *Browser, u *url.URL, root *html.Node, opts PageOptions) *Page {
	p := &Page{
		browser: b,
		u:       u,
		root:    root,
		opener:  opts.Opener,
		parent:  opts.Parent,
		logger:  b.logger.With(zap.String("page", u.String())),
		events:  newEvents(),
		waiters: make(map[string][]func()),
		ran:     make(map[string]bool),
		vaults:  make(map[string]bool),
	}
	if opts.Headers != nil {
		p.policy = strings.Join(opts.Headers.Values(headerPolicy), ",")
	}
	now := b.Clock().Now
	p.page = newRuntime("page", b.config, now, p.logger)
	p.isolated = newRuntime("isolated", b.config, now, p.logger)
	for _, r := range []*Runtime{p.page, p.isolated} {
		installEvents(r, p.events)
		installDocument(r, p)
	}
	return p
}

// URL implements host.Document
func (p *Page) URL() string { return p.u.String() }

// IsXML implements host.Document
func (p *Page) IsXML() bool { return p.xml }

// ReadyState implements host.Document
func (p *Page) ReadyState() host.ReadyState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// MetaPolicy implements host.Document. The meta element is only observable
// once the body exists.
func (p *Page) MetaPolicy() string {
	p.mu.Lock()
	seen := p.bodySeen
	p.mu.Unlock()
	if !seen {
		return ""
	}
	return csp.MetaPolicy(p.root)
}

// PageNonce implements host.Document
func (p *Page) PageNonce() string { return csp.PageNonce(p.root) }

// OnElement implements host.Document. "*" is the document element; any
// other tag is treated as available once the body exists.
func (p *Page) OnElement(tag string, fn func()) {
	p.mu.Lock()
	ready := p.started && (tag == "*" || p.bodySeen)
	if !ready {
		key := tag
		if key != "*" {
			key = "body"
		}
		p.waiters[key] = append(p.waiters[key], fn)
	}
	p.mu.Unlock()
	if ready {
		fn()
	}
}

// OnContentLoaded implements host.Document
func (p *Page) OnContentLoaded(fn func()) {
	p.mu.Lock()
	loading := p.state == host.ReadyLoading
	if loading {
		p.loaded = append(p.loaded, fn)
	}
	p.mu.Unlock()
	if !loading {
		p.NextTask(fn)
	}
}

// OnIdle implements host.Document
func (p *Page) OnIdle(fn func()) {
	p.mu.Lock()
	complete := p.state == host.ReadyComplete
	if !complete {
		p.idle = append(p.idle, fn)
	}
	p.mu.Unlock()
	if complete {
		p.NextTask(fn)
	}
}

// NextTask implements host.Document
func (p *Page) NextTask(fn func()) { p.browser.loop.Post(fn) }

// Load starts the document lifecycle. Each step runs as its own task and
// queues the next, so work a step queues runs before the following step.
func (p *Page) Load() {
	p.NextTask(p.stepStart)
}

func (p *Page) stepStart() {
	p.mu.Lock()
	p.started = true
	fns := p.takeWaiters("*")
	p.mu.Unlock()
	run(fns)
	p.NextTask(p.stepBody)
}

func (p *Page) stepBody() {
	p.mu.Lock()
	p.metaActive = true
	p.mu.Unlock()
	p.runOwnScripts("//head//script")

	p.mu.Lock()
	p.bodySeen = true
	fns := p.takeWaiters("body")
	p.mu.Unlock()
	run(fns)

	p.runOwnScripts("//body//script")
	p.NextTask(p.stepParsed)
}

func (p *Page) stepParsed() {
	p.mu.Lock()
	p.state = host.ReadyInteractive
	fns := p.loaded
	p.loaded = nil
	p.mu.Unlock()
	run(fns)
	p.NextTask(p.stepComplete)
}

func (p *Page) stepComplete() {
	p.mu.Lock()
	p.state = host.ReadyComplete
	fns := p.idle
	p.idle = nil
	p.mu.Unlock()
	run(fns)
}

func (p *Page) takeWaiters(key string) []func() {
	fns := p.waiters[key]
	delete(p.waiters, key)
	return fns
}

func run(fns []func()) {
	for _, fn := range fns {
		fn()
	}
}

// runOwnScripts runs the page's inline scripts under its own policy.
// External scripts are not fetched.
func (p *Page) runOwnScripts(xpath string) {
	if p.xml {
		return
	}
	for _, n := range htmlquery.Find(p.root, xpath) {
		if htmlquery.SelectAttr(n, "src") != "" || !isScriptType(htmlquery.SelectAttr(n, "type")) {
			continue
		}
		nonce := htmlquery.SelectAttr(n, "nonce")
		if ok, reason := p.allowInline(nonce); !ok {
			p.violate(reason, "page inline script")
			continue
		}
		_, _ = p.page.Run("inline", htmlquery.InnerText(n))
	}
}

func isScriptType(t string) bool {
	t = strings.ToLower(strings.TrimSpace(t))
	return t == "" || t == "module" || strings.Contains(t, "javascript")
}

// policies returns the policies in force: the header policy, and the meta
// policy once the parser passed it
func (p *Page) policies() []string {
	var out []string
	if p.policy != "" {
		out = append(out, p.policy)
	}
	p.mu.Lock()
	active := p.metaActive
	p.mu.Unlock()
	if active {
		if meta := csp.MetaPolicy(p.root); meta != "" {
			out = append(out, meta)
		}
	}
	return out
}

// allowInline decides whether an inline script carrying nonce may run. Every
// policy in force must allow it.
func (p *Page) allowInline(nonce string) (bool, string) {
	if p.xml {
		return false, "xml-document"
	}
	for _, policy := range p.policies() {
		d := csp.Analyze(policy)
		switch d.Kind {
		case csp.ForceIsolated:
			return false, "script-src"
		case csp.Nonce:
			if nonce != d.Nonce {
				return false, "script-src nonce mismatch"
			}
		}
	}
	return true, ""
}

func (p *Page) violate(directive, detail string) {
	v := Violation{Directive: directive, Detail: detail, Time: p.browser.Clock().Now()}
	p.mu.Lock()
	p.violations = append(p.violations, v)
	p.mu.Unlock()
	p.logger.Debug("policy violation", zap.String("directive", directive), zap.String("detail", detail))
}

// InjectScript implements host.PageRealm. The element is attached under a
// closed shadow root and removed right away, so nothing is added to the
// parsed tree.
func (p *Page) InjectScript(el host.ScriptElement) {
	ok, reason := p.allowInline(el.Nonce)

	p.mu.Lock()
	p.attempts = append(p.attempts, Attempt{Name: el.DisplayName, Nonce: el.Nonce, Allowed: ok, Reason: reason})
	p.mu.Unlock()

	if !ok {
		p.violate(reason, el.DisplayName)
		return
	}
	prog, err := p.page.Compile(el.DisplayName, el.Text)
	if err != nil {
		p.page.record("error", err.Error())
		return
	}
	p.mu.Lock()
	p.ran[el.DisplayName] = true
	p.mu.Unlock()
	_, _ = p.page.RunProgram(prog)
}

// AddListener implements host.EventTarget
func (p *Page) AddListener(name string, fn host.Listener, once bool) host.ListenerID {
	return p.events.AddListener(name, fn, once)
}

// RemoveListener implements host.EventTarget
func (p *Page) RemoveListener(name string, id host.ListenerID) {
	p.events.RemoveListener(name, id)
}

// Dispatch implements host.EventTarget
func (p *Page) Dispatch(name string, detail any) bool {
	return p.events.Dispatch(name, detail)
}

// IsTop implements host.Window
func (p *Page) IsTop() bool { return p.parent == nil }

// Opener implements host.Window
func (p *Page) Opener() host.VaultWriter { return p.reachable(p.opener) }

// Parent implements host.Window
func (p *Page) Parent() host.VaultWriter {
	if p.parent == nil {
		return nil
	}
	return p.reachable(p.parent)
}

func (p *Page) reachable(other *Page) host.VaultWriter {
	if other == nil || !sameOrigin(p.u, other.u) {
		return nil
	}
	other.mu.Lock()
	defer other.mu.Unlock()
	if other.vaultWriter == nil {
		return nil
	}
	return other.vaultWriter
}

// SetVaultWriter installs the content side's vault writer so same-origin
// child windows can ask this document for a vault
func (p *Page) SetVaultWriter(w host.VaultWriter) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.vaultWriter = w
}

// SandboxFrame implements host.Window. The frame is same-origin and inherits
// the policies in force.
func (p *Page) SandboxFrame(code, nonce, vaultID string) bool {
	if p.browser.config.Platform.SandboxRejectsInline() {
		p.violate("sandbox", "inline script refused in sandboxed frame")
		return false
	}
	if ok, reason := p.allowInline(nonce); !ok {
		p.violate(reason, "sandbox frame bootstrap")
		return false
	}

	frame := newRuntime("sandbox-frame", p.browser.config, p.browser.Clock().Now, p.logger)
	parent := frame.vm.NewObject()
	frame.vm.Set("parent", parent)
	if _, err := frame.Run("sandbox-frame", code); err != nil {
		return false
	}
	v := parent.Get(vaultID)
	return v != nil && !isNullish(v)
}

// BindPage implements host.Window
func (p *Page) BindPage(webID, contentID string, peer host.Peer) host.Endpoint {
	p.mu.Lock()
	p.webID, p.contentID = webID, contentID
	p.mu.Unlock()
	return &pageEndpoint{page: p, peer: peer, names: make(map[string]string)}
}

// Isolated implements host.Window
func (p *Page) Isolated(peer host.Peer) host.Endpoint {
	return &isolatedEndpoint{page: p, peer: peer}
}

// Eval runs code in the page realm as one of the page's own external
// scripts, which the policy does not restrict
func (p *Page) Eval(code string) (any, error) {
	v, err := p.page.Run("page-script", code)
	if err != nil || v == nil {
		return nil, err
	}
	return v.Export(), nil
}

func (p *Page) evalIsolated(name, code string) (any, error) {
	v, err := p.isolated.Run(name, code)
	if err != nil || v == nil {
		return nil, err
	}
	return v.Export(), nil
}

// PageGlobal reads a page realm global
func (p *Page) PageGlobal(name string) any { return p.page.Global(name) }

// IsolatedGlobal reads an isolated realm global
func (p *Page) IsolatedGlobal(name string) any { return p.isolated.Global(name) }

// Attempts returns the page realm <script> elements placed so far
func (p *Page) Attempts() []Attempt {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Attempt(nil), p.attempts...)
}

// Violations returns the refusals recorded so far
func (p *Page) Violations() []Violation {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Violation(nil), p.violations...)
}

// Console returns page realm output followed by isolated realm output
func (p *Page) Console() []LogEntry {
	return append(p.page.Console(), p.isolated.Console()...)
}

// HasVault reports whether this document's page realm handed vaultID out
func (p *Page) HasVault(vaultID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.vaults[vaultID]
}

// Bound reports whether a handshake bound this page and returns the ids
func (p *Page) Bound() (webID, contentID string, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.webID, p.contentID, p.webID != ""
}

// ListenerCount returns the listeners registered for an event name
func (p *Page) ListenerCount(name string) int { return p.events.count(name) }

func (p *Page) ranScript(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ran[name]
}
