package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/injectcore/internal/script"
)

var (
	errInvalidAdvance  = errors.New("ms must be a non-negative integer")
	errMissingScriptID = errors.New("issue id is required")
)

// InstallRequest carries one userscript source
type InstallRequest struct {
	ID   string `json:"id" binding:"required"`
	Code string `json:"code" binding:"required"`
}

// ScriptSummary is the listing view of an installed script
type ScriptSummary struct {
	ID         string       `json:"id"`
	Name       string       `json:"name"`
	InjectInto script.Realm `json:"inject_into"`
	RunAt      script.RunAt `json:"run_at"`
	Match      []string     `json:"match,omitempty"`
	Include    []string     `json:"include,omitempty"`
	Exclude    []string     `json:"exclude,omitempty"`
	Grantless  bool         `json:"grantless"`
}

func summarize(d *script.Descriptor) ScriptSummary {
	return ScriptSummary{
		ID:         d.ID,
		Name:       d.DisplayName(),
		InjectInto: d.Meta.InjectInto,
		RunAt:      d.Meta.RunAt,
		Match:      d.Meta.Match,
		Include:    d.Meta.Include,
		Exclude:    d.Meta.Exclude,
		Grantless:  d.Meta.Grantless(),
	}
}

// InstallScript parses and installs a userscript
func (h *Handlers) InstallScript(c *gin.Context) {
	var req InstallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := ValidateID(req.ID, "id"); err != nil {
		badRequest(c, err)
		return
	}
	if err := ValidateSize("code", req.Code, MaxCodeSize); err != nil {
		badRequest(c, err)
		return
	}

	d, err := h.manager.Install(req.ID, req.Code)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, summarize(d))
}

// ListScripts lists the installed scripts in installation order
func (h *Handlers) ListScripts(c *gin.Context) {
	all := h.manager.Library().All()
	out := make([]ScriptSummary, 0, len(all))
	for _, d := range all {
		out = append(out, summarize(d))
	}
	c.JSON(http.StatusOK, gin.H{"scripts": out, "count": len(out)})
}

// GetHint returns what the next navigation to ?url= would start from
func (h *Handlers) GetHint(c *gin.Context) {
	pageURL := c.Query("url")
	if err := ValidatePageURL(pageURL); err != nil {
		badRequest(c, err)
		return
	}
	c.JSON(http.StatusOK, h.manager.Hints().Hint(pageURL))
}
