package bridge

import (
	"github.com/GriffinCanCode/injectcore/internal/script"
)

// Bridge commands
const (
	// CmdScriptData delivers a batch of descriptors to a realm
	CmdScriptData = "ScriptData"
	// CmdPlant pre-announces the one-shot key a wrapped script calls back through
	CmdPlant = "Plant"
	// CmdWriteVault asks the page side to hand its vault to a child frame
	CmdWriteVault = "WriteVault"
	// CmdInjectList asks the content side to deliver a page list (Firefox)
	CmdInjectList = "InjectList"
	// CmdRun starts an unwrapped script that was already placed in the page
	CmdRun = "Run"
)

// Info is navigation context sent with the first batch for each realm
type Info struct {
	NavigationID string `json:"navigation_id"`
	URL          string `json:"url"`
	Platform     string `json:"platform"`
	Incognito    bool   `json:"is_incognito"`
}

// ScriptData is the batch message. Info is nil after the first batch so the
// receiver keeps the one it already has.
type ScriptData struct {
	Items []*script.Descriptor `json:"items"`
	Info  *Info                `json:"info,omitempty"`
	RunAt script.RunAt         `json:"run_at"`
}

// Plant carries the id and key of a wrapped script about to be placed
type Plant struct {
	ID  string `json:"id"`
	Key string `json:"key"`
}

// WriteVault carries the vault id a child frame published
type WriteVault struct {
	VaultID string `json:"vault_id"`
}

// InjectList names the page list the content side should deliver
type InjectList struct {
	RunAt script.RunAt `json:"run_at"`
}

// Run names an unwrapped script to start
type Run struct {
	ID string `json:"id"`
}
