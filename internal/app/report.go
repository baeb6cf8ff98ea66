package app

import (
	"time"

	"github.com/GriffinCanCode/injectcore/internal/host/sandbox"
	"github.com/GriffinCanCode/injectcore/internal/injection/content"
	"github.com/GriffinCanCode/injectcore/internal/shared/id"
)

// Report is the serializable view of a run: the navigation summary of its
// current document plus what the simulated host observed
type Report struct {
	content.Report `yaml:",inline"`

	DocumentID string              `json:"document_id" yaml:"document_id"`
	Tab        int                 `json:"tab" yaml:"tab"`
	Reloads    int                 `json:"reloads,omitempty" yaml:"reloads,omitempty"`
	CreatedAt  time.Time           `json:"created_at" yaml:"created_at"`
	LoadedAt   time.Time           `json:"loaded_at" yaml:"loaded_at"`
	ReadyState string              `json:"ready_state" yaml:"ready_state"`
	Pending    int                 `json:"pending_checks" yaml:"pending_checks"`
	Attempts   []sandbox.Attempt   `json:"attempts,omitempty" yaml:"attempts,omitempty"`
	Violations []sandbox.Violation `json:"violations,omitempty" yaml:"violations,omitempty"`
	Console    []sandbox.LogEntry  `json:"console,omitempty" yaml:"console,omitempty"`
}

// Report builds the current view of r
func (r *Run) Report() Report {
	r.mu.Lock()
	defer r.mu.Unlock()

	rep := Report{
		Report:     r.session.Report(),
		Tab:        r.tab,
		Reloads:    r.reloads,
		CreatedAt:  r.CreatedAt,
		ReadyState: r.page.ReadyState().String(),
		Pending:    r.session.Detector().Len(),
		Attempts:   r.page.Attempts(),
		Violations: r.page.Violations(),
		Console:    r.page.Console(),
	}
	// a reload starts a new document under the same run id
	rep.DocumentID = rep.NavigationID
	rep.NavigationID = r.ID
	if ts, err := id.Timestamp(rep.DocumentID); err == nil {
		rep.LoadedAt = ts
	}
	return rep
}
