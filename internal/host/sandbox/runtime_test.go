package sandbox

import (
	"errors"
	"testing"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/injectcore/internal/host"
)

var permissive = host.Platform{Generation: host.GenerationPermissive, Family: host.FamilyChromium}

func testRuntime(config Config) *Runtime {
	start := config.Start
	return newRuntime("page", config, func() time.Time { return start }, zap.NewNop())
}

func TestRuntimeExecution(t *testing.T) {
	runtime := testRuntime(DefaultConfig(permissive))

	tests := []struct {
		name    string
		script  string
		wantErr bool
	}{
		{
			name:   "simple return",
			script: "42",
		},
		{
			name:   "console log",
			script: "console.log('hello'); 'test'",
		},
		{
			name:   "window is the global",
			script: "window.x = 1; x === 1 && self === window",
		},
		{
			name:    "syntax error",
			script:  "let x = ;",
			wantErr: true,
		},
		{
			name:    "thrown error",
			script:  "throw new Error('boom')",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := runtime.Run(tt.name, tt.script)

			if (err != nil) != tt.wantErr {
				t.Errorf("Run() error = %v, wantErr %v", err, tt.wantErr)
				return
			}

			if !tt.wantErr && result == nil {
				t.Error("Run() returned nil result")
			}
		})
	}
}

func TestRuntimeSecurity(t *testing.T) {
	runtime := testRuntime(DefaultConfig(permissive))

	dangerousScripts := []struct {
		name   string
		script string
	}{
		{
			name:   "require blocked",
			script: "require('fs')",
		},
		{
			name:   "process blocked",
			script: "process.exit(1)",
		},
		{
			name:   "module blocked",
			script: "module.exports = {}",
		},
	}

	for _, tt := range dangerousScripts {
		t.Run(tt.name, func(t *testing.T) {
			result, err := runtime.Run(tt.name, tt.script)
			if err == nil {
				t.Errorf("Dangerous script executed successfully: %v", result)
			}
		})
	}
}

func TestRuntimeTimeout(t *testing.T) {
	config := DefaultConfig(permissive)
	config.Timeout = 100 * time.Millisecond
	runtime := testRuntime(config)

	script := `
		let i = 0;
		while(true) {
			i++;
		}
	`

	_, err := runtime.Run("loop", script)
	if err == nil {
		t.Fatal("Expected timeout error, got nil")
	}

	var interrupted *goja.InterruptedError
	if !errors.As(err, &interrupted) || interrupted.Value() != ErrTimeout {
		t.Errorf("Expected timeout interrupt, got %v", err)
	}

	// the realm stays usable after an interrupt
	if _, err := runtime.Run("after", "1 + 1"); err != nil {
		t.Errorf("Run() after timeout error = %v", err)
	}
}

func TestRuntimeConsoleCapture(t *testing.T) {
	runtime := testRuntime(DefaultConfig(permissive))

	script := `
		console.log('info message');
		console.warn('warning message');
		console.error('error message');
		'done'
	`

	if _, err := runtime.Run("console", script); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	entries := runtime.Console()
	if len(entries) != 3 {
		t.Fatalf("Expected 3 console entries, got %d", len(entries))
	}

	levels := []string{"log", "warn", "error"}
	for i, entry := range entries {
		if entry.Level != levels[i] {
			t.Errorf("Console entry %d: expected level %s, got %s", i, levels[i], entry.Level)
		}
		if entry.Realm != "page" {
			t.Errorf("Console entry %d: expected realm page, got %s", i, entry.Realm)
		}
	}
}

func TestRuntimeGlobal(t *testing.T) {
	runtime := testRuntime(DefaultConfig(permissive))

	if _, err := runtime.Run("set", "var answer = 42; var nothing = null;"); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := runtime.Global("answer"); got != int64(42) {
		t.Errorf("Global(answer) = %v", got)
	}
	if got := runtime.Global("nothing"); got != nil {
		t.Errorf("Global(nothing) = %v, want nil", got)
	}
	if got := runtime.Global("missing"); got != nil {
		t.Errorf("Global(missing) = %v, want nil", got)
	}
}
