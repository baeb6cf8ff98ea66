package sim

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/bytedance/sonic"
	"github.com/goccy/go-yaml"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/injectcore/internal/app"
	"github.com/GriffinCanCode/injectcore/internal/diagnostics"
	"github.com/GriffinCanCode/injectcore/internal/executor"
	"github.com/GriffinCanCode/injectcore/internal/host"
	"github.com/GriffinCanCode/injectcore/internal/infrastructure/httpclient"
	"github.com/GriffinCanCode/injectcore/internal/logging"
	"github.com/GriffinCanCode/injectcore/internal/script"
	"github.com/GriffinCanCode/injectcore/internal/script/loader"
)

const (
	defaultGeneration = "restrictive"
	defaultFamily     = "chromium"
)

// Options configures a Runner
type Options struct {
	// Client fetches live documents; a default client is built when nil
	Client *httpclient.Client
	// Reporter replaces the local collector for stalled-script issues
	Reporter diagnostics.Reporter
	Logger   *zap.Logger
}

// ExecResult is one privileged execution outcome
type ExecResult struct {
	Result executor.Result `json:"result" yaml:"result"`
	Error  string          `json:"error,omitempty" yaml:"error,omitempty"`
}

// StepResult is the outcome of one navigation step
type StepResult struct {
	Report  app.Report   `json:"report" yaml:"report"`
	Charset string       `json:"charset,omitempty" yaml:"charset,omitempty"`
	Execute []ExecResult `json:"execute,omitempty" yaml:"execute,omitempty"`
}

// Output is the full replay result
type Output struct {
	Platform    string                     `json:"platform" yaml:"platform"`
	Installed   []string                   `json:"installed" yaml:"installed"`
	Skipped     []string                   `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	Steps       []StepResult               `json:"navigations" yaml:"navigations"`
	Diagnostics diagnostics.Log            `json:"diagnostics" yaml:"diagnostics"`
	Latency     diagnostics.LatencySummary `json:"start_latency" yaml:"start_latency"`
}

// Runner replays scenarios
type Runner struct {
	opts   Options
	logger *zap.Logger
}

// NewRunner creates a runner
func NewRunner(opts Options) *Runner {
	if opts.Client == nil {
		opts.Client = httpclient.New(httpclient.Options{Name: "injectsim-fetch", MaxRetries: 1, Timeout: 20 * time.Second})
	}
	return &Runner{opts: opts, logger: logging.OrNop(opts.Logger).Named("sim")}
}

// Run loads the scenario's scripts and replays every step in order. Step
// failures are recorded in the output rather than aborting the replay, except
// for navigation errors.
func (r *Runner) Run(ctx context.Context, sc *Scenario) (*Output, error) {
	generation, family := sc.Generation, sc.Family
	if generation == "" {
		generation = defaultGeneration
	}
	if family == "" {
		family = defaultFamily
	}
	platform, err := host.ParsePlatform(generation, family)
	if err != nil {
		return nil, err
	}

	out := &Output{Platform: platform.String()}
	library := script.NewLibrary()
	if sc.Scripts != "" {
		res, err := loader.Load(ctx, sc.Scripts, loader.Options{Pattern: sc.Pattern, Logger: r.logger})
		if err != nil {
			return nil, fmt.Errorf("load scripts: %w", err)
		}
		library = res.Library
		for _, s := range res.Skipped {
			out.Skipped = append(out.Skipped, s.Error())
		}
	}
	out.Installed = library.IDs()

	m := app.NewManager(app.Options{
		Platform: platform,
		Library:  library,
		Reporter: r.opts.Reporter,
		MaxRuns:  len(sc.Steps),
		Logger:   r.logger,
	})

	for i, st := range sc.Steps {
		req := st.NavigationRequest
		var cs string
		if st.Fetch {
			doc, err := Fetch(ctx, r.opts.Client, req.URL)
			if err != nil {
				return nil, fmt.Errorf("navigation %d: %w", i, err)
			}
			req.HTML, req.ContentType, cs = doc.HTML, "text/html; charset=utf-8", doc.Charset
			if req.Headers == nil {
				req.Headers = doc.Headers
			}
		}

		run, err := m.Navigate(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("navigation %d: %w", i, err)
		}
		if st.AdvanceMS > 0 {
			run.Advance(time.Duration(st.AdvanceMS) * time.Millisecond)
		}

		res := StepResult{Charset: cs}
		for _, ex := range st.Execute {
			er, err := m.Execute(ctx, run.ID, ex.Request())
			item := ExecResult{Result: er}
			if err != nil {
				item.Error = err.Error()
			}
			res.Execute = append(res.Execute, item)
		}
		for n := 0; n < st.Reloads; n++ {
			if _, err := m.Reload(ctx, run.ID); err != nil {
				return nil, fmt.Errorf("navigation %d reload: %w", i, err)
			}
		}
		res.Report = run.Report()
		out.Steps = append(out.Steps, res)
	}

	out.Diagnostics = m.Diagnostics().GetLog(diagnostics.Filter{})
	out.Latency = m.Diagnostics().StartLatency()
	return out, nil
}

// Write encodes out to w as "json" or "yaml"
func Write(w io.Writer, format string, out *Output) error {
	switch format {
	case "", "json":
		enc := sonic.ConfigStd.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	case "yaml", "yml":
		data, err := yaml.Marshal(out)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	}
	return fmt.Errorf("unsupported output format %q", format)
}
