package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/injectcore/internal/app"
	"github.com/GriffinCanCode/injectcore/internal/executor"
	"github.com/GriffinCanCode/injectcore/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/injectcore/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/injectcore/internal/logging"
)

const (
	serviceName = "injectcore"
	version     = "0.3.0"
)

// Handlers contains all HTTP handlers
type Handlers struct {
	manager *app.Manager
	tracer  *tracing.Tracer
	metrics *monitoring.Metrics
	logger  *zap.Logger
	started time.Time
}

// NewHandlers creates a new handler set. tracer and metrics may be nil.
func NewHandlers(manager *app.Manager, tracer *tracing.Tracer, metrics *monitoring.Metrics, logger *zap.Logger) *Handlers {
	return &Handlers{
		manager: manager,
		tracer:  tracer,
		metrics: metrics,
		logger:  logging.OrNop(logger).Named("http"),
		started: time.Now(),
	}
}

// Register mounts every route on r
func (h *Handlers) Register(r gin.IRouter) {
	r.GET("/", h.Root)
	r.GET("/health", h.Health)

	v1 := r.Group("/v1")
	v1.POST("/scripts", h.InstallScript)
	v1.GET("/scripts", h.ListScripts)
	v1.GET("/hints", h.GetHint)

	v1.POST("/navigations", h.CreateNavigation)
	v1.GET("/navigations", h.ListNavigations)
	v1.GET("/navigations/:id", h.GetNavigation)
	v1.POST("/navigations/:id/advance", h.AdvanceNavigation)
	v1.POST("/navigations/:id/reload", h.ReloadNavigation)
	v1.DELETE("/navigations/:id", h.CloseNavigation)
	v1.POST("/navigations/:id/execute", h.Execute)
	v1.GET("/navigations/:id/executor/health", h.ExecutorHealth)

	v1.GET("/diagnostics", h.GetDiagnostics)
	v1.GET("/diagnostics/export", h.ExportDiagnostics)
	v1.POST("/diagnostics/issues", h.ReportIssue)
	v1.DELETE("/diagnostics", h.ClearDiagnostics)
}

// Root handles the service banner
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": serviceName,
		"version": version,
	})
}

// Health handles detailed health check
func (h *Handlers) Health(c *gin.Context) {
	diag := h.manager.Diagnostics()
	c.JSON(http.StatusOK, gin.H{
		"status":        "healthy",
		"uptime":        time.Since(h.started).Round(time.Second).String(),
		"manager":       h.manager.Stats(),
		"hints":         h.manager.Hints().Len(),
		"start_latency": diag.StartLatency(),
	})
}

// span starts a child span of the request span. The returned func ends it.
func (h *Handlers) span(c *gin.Context, name string) (context.Context, func(error)) {
	if h.tracer == nil {
		return c.Request.Context(), func(error) {}
	}
	span, ctx := h.tracer.StartSpan(c.Request.Context(), name)
	return ctx, func(err error) { span.End(statusOf(err), err) }
}

// statusFor maps a domain error to its HTTP status
func statusFor(err error) int {
	switch {
	case errors.Is(err, app.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, app.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, executor.ErrFallbackDisabled):
		return http.StatusConflict
	case errors.Is(err, executor.ErrNoExecuteAPI):
		return http.StatusNotImplemented
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	}
	return http.StatusInternalServerError
}

func statusOf(err error) int {
	if err == nil {
		return http.StatusOK
	}
	return statusFor(err)
}

func (h *Handlers) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	_ = c.Error(err)
	body := gin.H{"error": err.Error()}
	if traceID := tracing.TraceIDFrom(c.Request.Context()); traceID != "" {
		body["trace_id"] = traceID
	}
	c.JSON(status, body)
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}
