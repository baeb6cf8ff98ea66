package tracing

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/injectcore/internal/shared/id"
)

const (
	HeaderTraceID = "X-Trace-ID"
	HeaderSpanID  = "X-Span-ID"
)

// TraceID groups the spans of one request chain
type TraceID string

// SpanID identifies a single span
type SpanID string

// Span is one timed operation. It is owned by the goroutine that started it
// until End.
type Span struct {
	TraceID  TraceID
	SpanID   SpanID
	ParentID SpanID
	Name     string
	Start    time.Time
	Duration time.Duration
	Status   int
	Err      error

	tracer *Tracer
	attrs  []zap.Field
}

// Tag attaches a string attribute that is logged with the span
func (s *Span) Tag(key, value string) {
	s.attrs = append(s.attrs, zap.String(key, value))
}

// End stamps the duration and hands the span to its tracer. A zero status
// with a non-nil err is recorded as 500.
func (s *Span) End(status int, err error) {
	s.Duration = time.Since(s.Start)
	s.Status = status
	s.Err = err
	if err != nil && status == 0 {
		s.Status = http.StatusInternalServerError
	}
	s.tracer.submit(s)
}

const spanBuffer = 1000

// Tracer logs ended spans from a background collector
type Tracer struct {
	logger *zap.Logger
	queue  chan *Span
	done   chan struct{}

	mu     sync.RWMutex
	closed bool
}

// New creates a tracer for service and starts its collector
func New(service string, logger *zap.Logger) *Tracer {
	t := &Tracer{
		logger: logger.With(zap.String("service", service)),
		queue:  make(chan *Span, spanBuffer),
		done:   make(chan struct{}),
	}
	go t.collect()
	return t
}

// StartSpan opens a span under the one carried by ctx, or a new trace
func (t *Tracer) StartSpan(ctx context.Context, name string) (*Span, context.Context) {
	parent, _ := ctx.Value(spanContextKey{}).(spanContext)
	if parent.trace == "" {
		parent.trace = TraceID(id.NewRequestID())
	}
	s := &Span{
		TraceID:  parent.trace,
		SpanID:   SpanID(id.NewRequestID()),
		ParentID: parent.span,
		Name:     name,
		Start:    time.Now(),
		tracer:   t,
	}
	return s, withSpan(ctx, s.TraceID, s.SpanID)
}

func (t *Tracer) submit(s *Span) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return
	}
	select {
	case t.queue <- s:
	default:
		t.logger.Warn("span buffer full, dropping span", zap.String("span", s.Name))
	}
}

func (t *Tracer) collect() {
	defer close(t.done)
	for s := range t.queue {
		fields := append([]zap.Field{
			zap.String("trace_id", string(s.TraceID)),
			zap.String("span_id", string(s.SpanID)),
			zap.String("span", s.Name),
			zap.Duration("took", s.Duration),
		}, s.attrs...)
		if s.ParentID != "" {
			fields = append(fields, zap.String("parent_id", string(s.ParentID)))
		}
		if s.Status != 0 {
			fields = append(fields, zap.Int("status", s.Status))
		}
		if s.Err != nil {
			t.logger.Error("span failed", append(fields, zap.Error(s.Err))...)
			continue
		}
		t.logger.Debug("span ended", fields...)
	}
}

// Close logs what is still queued and stops the collector. Spans ended
// afterwards are discarded.
func (t *Tracer) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	close(t.queue)
	t.mu.Unlock()
	<-t.done
}

type spanContext struct {
	trace TraceID
	span  SpanID
}

type spanContextKey struct{}

func withSpan(ctx context.Context, trace TraceID, span SpanID) context.Context {
	return context.WithValue(ctx, spanContextKey{}, spanContext{trace: trace, span: span})
}

// TraceIDFrom returns the trace ctx belongs to, empty outside a trace
func TraceIDFrom(ctx context.Context) TraceID {
	sc, _ := ctx.Value(spanContextKey{}).(spanContext)
	return sc.trace
}
