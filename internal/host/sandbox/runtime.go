package sandbox

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"
)

var ErrTimeout = errors.New("script execution timeout exceeded")

// Runtime wraps one goja VM as a browser realm
type Runtime struct {
	vm     *goja.Runtime
	name   string
	config Config
	now    func() time.Time
	logger *zap.Logger

	consoleMu sync.Mutex
	console   []LogEntry
}

// newRuntime creates a realm named name. The dangerous host globals goja
// never provides are still cleared so a script probing for them sees
// undefined.
func newRuntime(name string, config Config, now func() time.Time, logger *zap.Logger) *Runtime {
	vm := goja.New()
	if config.MaxCallStack > 0 {
		vm.SetMaxCallStackSize(config.MaxCallStack)
	}
	r := &Runtime{
		vm:     vm,
		name:   name,
		config: config,
		now:    now,
		logger: logger,
	}
	r.setupGlobals()
	return r
}

func (r *Runtime) setupGlobals() {
	r.vm.Set("require", goja.Undefined())
	r.vm.Set("process", goja.Undefined())
	r.vm.Set("module", goja.Undefined())
	r.vm.Set("exports", goja.Undefined())

	global := r.vm.GlobalObject()
	r.vm.Set("window", global)
	r.vm.Set("self", global)

	if r.config.EnableConsole {
		console := r.vm.NewObject()
		for _, level := range []string{"log", "info", "warn", "error", "debug"} {
			_ = console.Set(level, r.makeConsoleFunc(level))
		}
		r.vm.Set("console", console)
	}
}

func (r *Runtime) makeConsoleFunc(level string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		r.record(level, strings.Join(parts, " "))
		return goja.Undefined()
	}
}

func (r *Runtime) record(level, msg string) {
	r.consoleMu.Lock()
	r.console = append(r.console, LogEntry{Realm: r.name, Level: level, Message: msg, Time: r.now()})
	r.consoleMu.Unlock()
}

// Console returns the captured console output
func (r *Runtime) Console() []LogEntry {
	r.consoleMu.Lock()
	defer r.consoleMu.Unlock()
	return append([]LogEntry(nil), r.console...)
}

// Compile parses code without running it
func (r *Runtime) Compile(name, code string) (*goja.Program, error) {
	return goja.Compile(name, code, false)
}

// Run compiles and runs code. Syntax and runtime errors are written to the
// realm console the way a browser reports them, and returned.
func (r *Runtime) Run(name, code string) (goja.Value, error) {
	prog, err := r.Compile(name, code)
	if err != nil {
		r.record("error", err.Error())
		return nil, err
	}
	return r.RunProgram(prog)
}

// RunProgram runs a compiled program under the configured timeout
func (r *Runtime) RunProgram(prog *goja.Program) (goja.Value, error) {
	if r.config.Timeout > 0 {
		timer := time.AfterFunc(r.config.Timeout, func() {
			r.vm.Interrupt(ErrTimeout)
		})
		defer timer.Stop()
	}
	defer r.vm.ClearInterrupt()

	val, err := r.vm.RunProgram(prog)
	if err != nil {
		r.record("error", err.Error())
		r.logger.Debug("script failed", zap.String("realm", r.name), zap.Error(err))
		return nil, err
	}
	return val, nil
}

// Call invokes fn with args, recording a thrown exception on the console
func (r *Runtime) Call(fn goja.Callable, args ...goja.Value) {
	if _, err := fn(goja.Undefined(), args...); err != nil {
		r.record("error", err.Error())
	}
}

// Global reads a global as a Go value, nil when undefined
func (r *Runtime) Global(name string) any {
	v := r.vm.Get(name)
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	return v.Export()
}
