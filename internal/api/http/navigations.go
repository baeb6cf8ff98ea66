package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/injectcore/internal/app"
	"github.com/GriffinCanCode/injectcore/internal/executor"
)

const maxAdvance = 5 * time.Minute

// CreateNavigation simulates a navigation and returns its report
func (h *Handlers) CreateNavigation(c *gin.Context) {
	var req app.NavigationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := ValidatePageURL(req.URL); err != nil {
		badRequest(c, err)
		return
	}
	if err := ValidateSize("html", req.HTML, MaxHTMLSize); err != nil {
		badRequest(c, err)
		return
	}

	ctx, finish := h.span(c, "app.navigate")
	run, err := h.manager.Navigate(ctx, req)
	finish(err)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, run.Report())
}

// ListNavigations lists the kept navigations, oldest first
func (h *Handlers) ListNavigations(c *gin.Context) {
	runs := h.manager.List()
	out := make([]gin.H, 0, len(runs))
	for _, r := range runs {
		out = append(out, gin.H{
			"id":         r.ID,
			"url":        r.URL,
			"platform":   r.Platform.String(),
			"tab":        r.Tab(),
			"created_at": r.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"navigations": out,
		"stats":       h.manager.Stats(),
	})
}

func (h *Handlers) run(c *gin.Context) (*app.Run, bool) {
	id := c.Param("id")
	if err := ValidateID(id, "navigation_id"); err != nil {
		badRequest(c, err)
		return nil, false
	}
	r, ok := h.manager.Get(id)
	if !ok {
		h.fail(c, app.ErrNotFound)
		return nil, false
	}
	return r, true
}

// GetNavigation returns the current report of a navigation
func (h *Handlers) GetNavigation(c *gin.Context) {
	r, ok := h.run(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, r.Report())
}

// AdvanceNavigation lets a navigation's virtual clock run for ?ms=
// milliseconds, firing due stall checks and lifecycle events
func (h *Handlers) AdvanceNavigation(c *gin.Context) {
	r, ok := h.run(c)
	if !ok {
		return
	}
	ms, err := strconv.Atoi(c.DefaultQuery("ms", "1000"))
	if err != nil || ms < 0 {
		badRequest(c, errInvalidAdvance)
		return
	}
	d := time.Duration(ms) * time.Millisecond
	if d > maxAdvance {
		d = maxAdvance
	}
	r.Advance(d)
	c.JSON(http.StatusOK, r.Report())
}

// ReloadNavigation loads a navigation's document again in the same tab
func (h *Handlers) ReloadNavigation(c *gin.Context) {
	id := c.Param("id")
	if err := ValidateID(id, "navigation_id"); err != nil {
		badRequest(c, err)
		return
	}
	ctx, finish := h.span(c, "app.reload")
	r, err := h.manager.Reload(ctx, id)
	finish(err)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, r.Report())
}

// CloseNavigation abandons a navigation
func (h *Handlers) CloseNavigation(c *gin.Context) {
	id := c.Param("id")
	if err := ValidateID(id, "navigation_id"); err != nil {
		badRequest(c, err)
		return
	}
	ctx, finish := h.span(c, "app.close")
	closed := h.manager.Close(ctx, id)
	finish(nil)
	if !closed {
		h.fail(c, app.ErrNotFound)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "navigation_id": id})
}

// Execute runs code in a navigation's tab from the privileged side
func (h *Handlers) Execute(c *gin.Context) {
	id := c.Param("id")
	if err := ValidateID(id, "navigation_id"); err != nil {
		badRequest(c, err)
		return
	}
	var req executor.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := ValidateSize("code", req.Code, MaxCodeSize); err != nil {
		badRequest(c, err)
		return
	}

	ctx, finish := h.span(c, "executor.execute")
	res, err := h.manager.Execute(ctx, id, req)
	finish(err)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// ExecutorHealth checks the registration API of a navigation's tab.
// ?force=true bypasses the cached result.
func (h *Handlers) ExecutorHealth(c *gin.Context) {
	id := c.Param("id")
	if err := ValidateID(id, "navigation_id"); err != nil {
		badRequest(c, err)
		return
	}
	force, _ := strconv.ParseBool(c.Query("force"))

	ctx, finish := h.span(c, "executor.health")
	health, err := h.manager.Health(ctx, id, force)
	finish(err)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, health)
}
