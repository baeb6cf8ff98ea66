package sandbox

import (
	"time"

	"github.com/GriffinCanCode/injectcore/internal/host"
)

// Config defines host configuration
type Config struct {
	Platform      host.Platform
	Timeout       time.Duration // Per-script execution timeout
	MaxCallStack  int           // goja call stack limit
	EnableConsole bool          // Capture console.log/warn/error
	// Start is the virtual time the loop clock starts at
	Start time.Time
}

// DefaultConfig returns the configuration used by the server and the CLI
func DefaultConfig(p host.Platform) Config {
	return Config{
		Platform:      p,
		Timeout:       2 * time.Second,
		MaxCallStack:  1024,
		EnableConsole: true,
		Start:         time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// LogEntry represents console output
type LogEntry struct {
	Realm   string    `json:"realm"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// Attempt records one <script> element placed in the page realm
type Attempt struct {
	Name    string `json:"name"`
	Nonce   string `json:"nonce,omitempty"`
	Allowed bool   `json:"allowed"`
	// Reason names the refusing policy when Allowed is false
	Reason string `json:"reason,omitempty"`
}

// Violation records something the page's policy or the platform refused
type Violation struct {
	Directive string    `json:"directive"`
	Detail    string    `json:"detail"`
	Time      time.Time `json:"time"`
}
