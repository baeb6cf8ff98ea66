// Package diagnostics collects script issues reported by the injection core.
//
// The content side reports a ScriptIssue when a delivered script never sends
// its start signal. The collector deduplicates reports per fingerprint,
// classifies them with a syntax check of the script source and keeps a
// bounded, sanitized log that the API can filter, export and stream.
package diagnostics

import (
	"context"
	"time"

	"github.com/GriffinCanCode/injectcore/internal/injection/phase"
	"github.com/GriffinCanCode/injectcore/internal/script"
)

// Source is where a report came from. Richer sources replace popup reports
// inside the dedupe window.
type Source string

const (
	SourcePopup   Source = "popup"
	SourcePage    Source = "page"
	SourceContent Source = "content"
)

// ScriptIssue describes a script that was delivered but never started.
type ScriptIssue struct {
	ScriptID     string        `json:"id"`
	ScriptName   string        `json:"name"`
	RunAt        script.RunAt  `json:"run_at"`
	Realm        script.Realm  `json:"realm"`
	Reason       string        `json:"reason"`
	Fingerprint  string        `json:"fingerprint"`
	PageURL      string        `json:"url"`
	CheckPhase   string        `json:"check_phase"`
	BridgeStatus int           `json:"bridge_state"`
	Elapsed      time.Duration `json:"elapsed"`
	PhaseTrail   []phase.Point `json:"phase_trail,omitempty"`
	// Source is filled by the collector when empty
	Source Source `json:"source,omitempty"`
	// FromExtension marks reports relayed by extension UI pages
	FromExtension bool `json:"-"`
}

// Fingerprint is the dedupe key of a script on a page. Empty parts are
// left out.
func Fingerprint(scriptID, pageURL string) string {
	switch {
	case scriptID == "":
		return pageURL
	case pageURL == "":
		return scriptID
	}
	return scriptID + "|" + pageURL
}

// Reporter receives script issues. Implementations must not block the
// injection path for long; the content side never waits on the outcome.
type Reporter interface {
	ReportScriptIssue(ctx context.Context, issue ScriptIssue) error
}

// ReporterFunc adapts a function to Reporter
type ReporterFunc func(ctx context.Context, issue ScriptIssue) error

// ReportScriptIssue calls f
func (f ReporterFunc) ReportScriptIssue(ctx context.Context, issue ScriptIssue) error {
	return f(ctx, issue)
}

// resolveSource mirrors how the collector attributes a report: extension
// pages are the popup, otherwise the realm that noticed the stall.
func resolveSource(issue ScriptIssue) Source {
	switch {
	case issue.Source != "":
		return issue.Source
	case issue.FromExtension:
		return SourcePopup
	case issue.Realm == script.RealmPage:
		return SourcePage
	default:
		return SourceContent
	}
}
