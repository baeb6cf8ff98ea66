package host

import "context"

// The privileged side reaches tabs through whatever subset of these APIs the
// platform offers. A nil implementation means the API is absent.

// Registration is a user script registered with the platform
type Registration struct {
	ID        string   `json:"id"`
	Matches   []string `json:"matches"`
	Code      string   `json:"code"`
	RunAt     string   `json:"run_at"`
	AllFrames bool     `json:"all_frames,omitempty"`
}

// Target selects the frames of a tab
type Target struct {
	TabID     int   `json:"tab_id"`
	FrameIDs  []int `json:"frame_ids,omitempty"`
	AllFrames bool  `json:"all_frames,omitempty"`
}

// FrameResult is the outcome of running code in one frame
type FrameResult struct {
	FrameID int    `json:"frame_id"`
	Result  any    `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

// UserScriptsAPI registers scripts that run on matching navigations
type UserScriptsAPI interface {
	Register(ctx context.Context, regs []Registration) error
	Unregister(ctx context.Context, ids []string) error
	// GetScripts returns the ids of every registered script
	GetScripts(ctx context.Context) ([]string, error)
}

// UserScriptsExecutor runs code once in the user script world of a tab
type UserScriptsExecutor interface {
	Execute(ctx context.Context, target Target, code string, immediately bool) ([]FrameResult, error)
}

// TabsAPI looks tabs up
type TabsAPI interface {
	TabURL(ctx context.Context, tabID int) (string, error)
}

// LegacyExecutor is the permissive generation's tab execute call, which
// accepts a code string or an extension file
type LegacyExecutor interface {
	ExecuteScript(ctx context.Context, tabID int, code, file string) ([]any, error)
}

// ScriptInjection describes one scripting API call. Exactly one of Files and
// Code is set.
type ScriptInjection struct {
	Target      Target
	Files       []string
	Code        string
	Immediately bool
}

// ScriptingAPI is the scripting namespace execute call
type ScriptingAPI interface {
	ExecuteScript(ctx context.Context, inj ScriptInjection) ([]FrameResult, error)
}
