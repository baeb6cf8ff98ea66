/*
Package tracing provides lightweight request tracing for the API server.

# Overview

Every request gets a span whose ids travel in X-Trace-ID and X-Span-ID, so
a client driving several simulated navigations can tie the server's log
lines back to its own calls. Handlers start child spans for the expensive
work (a navigation simulation, an execution) from the request context.
Error responses repeat the trace id in their body.

# Usage

	tracer := tracing.New("injectcore", logger)
	defer tracer.Close()

	router.Use(tracing.HTTPMiddleware(tracer))

	span, ctx := tracer.StartSpan(c.Request.Context(), "navigation.simulate")
	run, err := manager.Navigate(ctx, req)
	span.End(0, err)

# Performance

Spans are handed to a buffered collector (1000 spans) and logged off the
request path. A full buffer drops spans rather than blocking.
*/
package tracing
