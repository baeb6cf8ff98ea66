/*
Package sandbox is a simulated browser host for the injection core.

# Overview

Nothing in the injection core talks to a real browser. This package provides
the document and window the content side needs, backed by goja runtimes, so
the whole pipeline can run in tests, in the API server and in the CLI. Each
page has:

  - A page realm: a goja runtime holding the page's own scripts and every
    script delivered through a <script> element
  - An isolated realm: a separate runtime for isolated deliveries, sharing
    only the window event surface with the page
  - A parsed document (x/net/html) whose lifecycle is stepped on a task loop
  - Policy enforcement on inline scripts, from the response headers and from
    a <meta> policy once the body exists

# Task Loop

The host is single threaded. Lifecycle steps, NextTask callbacks and timers
all run on one Loop driven by a fake clock, so a test can settle a page for a
virtual duration and observe every timer the stall detector scheduled:

	b := sandbox.NewBrowser(sandbox.DefaultConfig(platform))
	page, _ := b.Open(sandbox.PageOptions{URL: u, HTML: body, Headers: h})
	session := content.Start(...)
	page.Load()
	b.Settle(5 * time.Second)

# Frames

Pages opened with an Opener or Parent are reachable from that window when
they share its origin. A sandboxed child frame is refused inline script on
platforms that reject it, and otherwise inherits the parent's policy.
*/
package sandbox
