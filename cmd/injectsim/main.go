// Command injectsim replays a scenario file against the injection pipeline
// and prints what happened to every script.
//
// Usage:
//
//	injectsim -scenario run.toml
//	injectsim -scripts ./scripts -url https://example.com/ -generation mv3 -format yaml
//	injectsim -scenario run.yaml -collector http://localhost:8000/v1/diagnostics/issues
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/injectcore/internal/app"
	"github.com/GriffinCanCode/injectcore/internal/diagnostics"
	"github.com/GriffinCanCode/injectcore/internal/infrastructure/httpclient"
	"github.com/GriffinCanCode/injectcore/internal/logging"
	"github.com/GriffinCanCode/injectcore/internal/sim"
)

func main() {
	scenario := flag.String("scenario", "", "Scenario file (.toml, .yaml, .json)")
	scripts := flag.String("scripts", "", "Scripts directory, used without -scenario")
	pageURL := flag.String("url", "", "Fetch and simulate this page, used without -scenario")
	generation := flag.String("generation", "restrictive", "Platform generation (mv2, mv3)")
	family := flag.String("family", "chromium", "Browser family (chromium, firefox)")
	userScripts := flag.Bool("user-scripts", false, "Simulate the user scripts API as enabled")
	format := flag.String("format", "json", "Output format (json, yaml)")
	collector := flag.String("collector", "", "Post script issues to this collector endpoint")
	collectorToken := flag.String("collector-token", os.Getenv("INJECTSIM_COLLECTOR_TOKEN"), "Bearer token for the collector")
	dev := flag.Bool("dev", false, "Development logging")
	flag.Parse()

	logCfg := logging.Config{Level: "warn", OutputPaths: []string{"stderr"}}
	if *dev {
		logCfg = logging.Config{Level: "debug", Development: true, OutputPaths: []string{"stderr"}}
	}
	logger, err := logging.New(logCfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var sc *sim.Scenario
	switch {
	case *scenario != "":
		if sc, err = sim.LoadScenario(*scenario); err != nil {
			fatal(logger, err)
		}
	case *pageURL != "":
		sc = &sim.Scenario{
			Scripts:    *scripts,
			Generation: *generation,
			Family:     *family,
			Steps: []sim.Step{{
				NavigationRequest: app.NavigationRequest{URL: *pageURL, UserScripts: *userScripts},
				Fetch:             true,
			}},
		}
	default:
		flag.Usage()
		os.Exit(2)
	}

	client := httpclient.New(httpclient.Options{Name: "injectsim", UserAgent: userAgent})
	opts := sim.Options{Client: client, Logger: logger.Logger}
	if *collector != "" {
		reports := httpclient.New(httpclient.Options{Name: "injectsim-collector", UserAgent: userAgent})
		if *collectorToken != "" {
			reports.SetBearerAuth(*collectorToken)
		}
		opts.Reporter = diagnostics.NewRemoteReporter(reports, *collector)
	}

	out, err := sim.NewRunner(opts).Run(ctx, sc)
	if err != nil {
		fatal(logger, err)
	}
	if err := sim.Write(os.Stdout, *format, out); err != nil {
		fatal(logger, err)
	}
}

const userAgent = "injectsim/0.3"

func fatal(logger *logging.Logger, err error) {
	logger.Error("injectsim failed", zap.Error(err))
	_ = logger.Sync()
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
