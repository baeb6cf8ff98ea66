package sandbox

import (
	"bytes"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/antchfx/htmlquery"
	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/injectcore/internal/host"
	"github.com/GriffinCanCode/injectcore/internal/logging"
	"github.com/GriffinCanCode/injectcore/internal/shared/clock"
)

var ErrBadURL = errors.New("page url must be absolute")

// Browser owns the task loop and every page opened on it
type Browser struct {
	config Config
	loop   *Loop
	logger *zap.Logger

	mu    sync.Mutex
	pages []*Page
}

// NewBrowser creates a host for config.Platform
func NewBrowser(config Config, logger *zap.Logger) *Browser {
	start := config.Start
	if start.IsZero() {
		start = time.Unix(0, 0).UTC()
	}
	return &Browser{
		config: config,
		loop:   NewLoop(clock.NewFake(start)),
		logger: logging.OrNop(logger).Named("sandbox"),
	}
}

// Platform returns the simulated platform
func (b *Browser) Platform() host.Platform { return b.config.Platform }

// Clock returns the loop clock
func (b *Browser) Clock() *clock.Fake { return b.loop.Clock() }

// Loop returns the task loop
func (b *Browser) Loop() *Loop { return b.loop }

// Settle runs the loop for d of virtual time
func (b *Browser) Settle(d time.Duration) { b.loop.RunFor(d) }

// Pages returns every page opened so far
func (b *Browser) Pages() []*Page {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Page(nil), b.pages...)
}

// PageOptions describes a response to load
type PageOptions struct {
	URL     string
	HTML    []byte
	Headers http.Header
	// ContentType overrides the Content-Type header
	ContentType string
	Opener      *Page
	Parent      *Page
}

// Open parses a response into a page. The page does not start its lifecycle
// until Load is called, so the content side can register first.
func (b *Browser) Open(opts PageOptions) (*Page, error) {
	u, err := url.Parse(opts.URL)
	if err != nil || !u.IsAbs() {
		return nil, fmt.Errorf("%w: %q", ErrBadURL, opts.URL)
	}
	root, err := htmlquery.Parse(bytes.NewReader(opts.HTML))
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}

	contentType := opts.ContentType
	if contentType == "" && opts.Headers != nil {
		contentType = opts.Headers.Get("Content-Type")
	}

	p := newPage(b, u, root, opts)
	p.xml = isXML(contentType, opts.HTML)

	b.mu.Lock()
	b.pages = append(b.pages, p)
	b.mu.Unlock()

	b.logger.Debug("page opened",
		zap.String(logging.FieldURL, opts.URL),
		zap.Bool("xml", p.xml),
		zap.Bool("top", p.IsTop()))
	return p, nil
}

// isXML reports whether the response is a non-HTML XML document. A declared
// type wins; otherwise the body is sniffed.
func isXML(contentType string, body []byte) bool {
	if contentType != "" {
		mt, _, err := mime.ParseMediaType(contentType)
		if err == nil {
			return mt != "application/xhtml+xml" && (mt == "text/xml" || mt == "application/xml" || strings.HasSuffix(mt, "+xml"))
		}
	}
	for m := mimetype.Detect(body); m != nil; m = m.Parent() {
		if m.Is("text/html") {
			return false
		}
		if m.Is("text/xml") {
			return true
		}
	}
	return false
}

func sameOrigin(a, b *url.URL) bool {
	return a.Scheme == b.Scheme && a.Host == b.Host
}
