package http

import (
	"bytes"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/injectcore/internal/diagnostics"
)

const exportSource = "http"

// GetDiagnostics returns the filtered diagnostics log
func (h *Handlers) GetDiagnostics(c *gin.Context) {
	var f diagnostics.Filter
	if err := c.ShouldBindQuery(&f); err != nil {
		badRequest(c, err)
		return
	}
	c.JSON(http.StatusOK, h.manager.Diagnostics().GetLog(f))
}

// ExportDiagnostics streams the filtered log as a gzip attachment
func (h *Handlers) ExportDiagnostics(c *gin.Context) {
	var f diagnostics.Filter
	if err := c.ShouldBindQuery(&f); err != nil {
		badRequest(c, err)
		return
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	name, err := h.manager.Diagnostics().WriteExport(zw, f, exportSource)
	if err == nil {
		err = zw.Close()
	}
	if err != nil {
		h.fail(c, err)
		return
	}

	h.logger.Info("diagnostics exported", zap.String("file", name), zap.Int("bytes", buf.Len()))
	c.Header("Content-Disposition", `attachment; filename="`+name+`.gz"`)
	c.Data(http.StatusOK, "application/gzip", buf.Bytes())
}

// ReportIssue accepts a script issue from the extension side
func (h *Handlers) ReportIssue(c *gin.Context) {
	var issue diagnostics.ScriptIssue
	if err := c.ShouldBindJSON(&issue); err != nil {
		badRequest(c, err)
		return
	}
	if issue.ScriptID == "" {
		badRequest(c, errMissingScriptID)
		return
	}
	issue.FromExtension = true

	ctx, finish := h.span(c, "diagnostics.issue")
	res := h.manager.Diagnostics().LogScriptIssue(ctx, issue)
	finish(nil)

	status := http.StatusAccepted
	if res.Logged {
		status = http.StatusCreated
	}
	c.JSON(status, res)
}

// ClearDiagnostics empties the log
func (h *Handlers) ClearDiagnostics(c *gin.Context) {
	n := h.manager.Diagnostics().Clear()
	c.JSON(http.StatusOK, gin.H{"cleared": n})
}
