// Command stardim runs a star-schema pipeline: it builds the shared date
// dimension, rewrites each source's date columns into foreign keys, builds
// the configured key indexes and optionally loads everything into a
// warehouse.
//
// Usage:
//
//	stardim --config pipeline.json [--env-file .env] [--validate]
//	        [--metrics-backend none|datadog|pushgateway] [--pushgateway-url URL] [-v]
//
// Progress logs go to stderr; stdout carries one summary line on success.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"stardim/internal/config"
	"stardim/internal/logger"
	"stardim/internal/metrics"
	"stardim/internal/metrics/datadog"
	"stardim/internal/metrics/prompush"
	"stardim/internal/pipeline"

	// register all backends with the storage factory.
	_ "stardim/internal/storage/all"
)

const usage = "usage: stardim --config path/to/pipeline.json"

type runner interface {
	Run(ctx context.Context, p config.Pipeline) (*pipeline.Report, error)
}

// appDeps are the side effects of runMain.
type appDeps struct {
	loadEnv     func(files ...string) error
	readFile    func(string) ([]byte, error)
	decode      func([]byte) (config.Pipeline, error)
	initMetrics func(ctx context.Context, jobName, backendName, pushURL string) (func(), error)
	newRunner   func(log *slog.Logger) runner
}

func defaultDeps() appDeps {
	return appDeps{
		loadEnv:     godotenv.Load,
		readFile:    os.ReadFile,
		decode:      config.Decode,
		initMetrics: initMetrics,
		newRunner:   func(log *slog.Logger) runner { return pipeline.NewDefaultRunner(log) },
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := runMain(ctx, os.Args[1:], os.Stdout, os.Stderr, defaultDeps())
	stop()
	os.Exit(code)
}

// runMain returns the process exit code: 0 on success, 1 on failure and 2 on
// usage errors.
func runMain(ctx context.Context, args []string, stdout, stderr io.Writer, deps appDeps) int {
	fs := pflag.NewFlagSet("stardim", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		cfgPath        = fs.StringP("config", "c", "", "pipeline config JSON path")
		envFile        = fs.String("env-file", "", "dotenv file loaded before the config is read")
		validate       = fs.Bool("validate", false, "validate the configuration and exit")
		metricsBackend = fs.String("metrics-backend", "", "metrics backend: none|datadog|pushgateway (default $METRICS_BACKEND or none)")
		pushURL        = fs.String("pushgateway-url", "", "Pushgateway base URL (default $PUSHGATEWAY_URL)")
		verbose        = fs.BoolP("verbose", "v", false, "enable debug logs")
	)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}
	if strings.TrimSpace(*cfgPath) == "" {
		fmt.Fprintln(stderr, usage)
		return 2
	}

	if *envFile != "" {
		if err := deps.loadEnv(*envFile); err != nil {
			fmt.Fprintf(stderr, "load env: %v\n", err)
			return 1
		}
	}

	raw, err := deps.readFile(*cfgPath)
	if err != nil {
		fmt.Fprintf(stderr, "read config: %v\n", err)
		return 1
	}
	p, err := deps.decode(raw)
	if err != nil {
		fmt.Fprintf(stderr, "parse config: %v\n", err)
		return 1
	}

	issues := config.ValidatePipeline(p)
	for _, iss := range issues {
		fmt.Fprintf(stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
	}
	if config.HasErrors(issues) {
		fmt.Fprintf(stderr, "configuration is invalid: %s\n", *cfgPath)
		return 1
	}
	if *validate {
		fmt.Fprintf(stdout, "configuration is valid: %s\n", *cfgPath)
		return 0
	}

	backend := *metricsBackend
	if backend == "" {
		backend = os.Getenv("METRICS_BACKEND")
	}
	cleanup, err := deps.initMetrics(ctx, p.Job, backend, *pushURL)
	if err != nil {
		fmt.Fprintf(stderr, "init metrics: %v\n", err)
		return 1
	}
	defer cleanup()

	rep, err := deps.newRunner(logger.NewWriter(stderr, *verbose)).Run(ctx, p)
	if err != nil {
		fmt.Fprintf(stderr, "run: %v\n", err)
		return 1
	}
	if rep == nil {
		fmt.Fprintln(stdout, "ok")
		return 0
	}
	fmt.Fprintf(stdout, "ok run_id=%s date_dimension=%d outputs=%d loaded=%d\n",
		rep.RunID, rep.DateDimension, len(rep.Outputs), rep.Loaded)
	return 0
}

// metricsBackend is a backend that owns a background flush loop.
type metricsBackend interface {
	metrics.Backend
	Close() error
}

// Seams for tests.
var (
	newDatadogBackend = func(ctx context.Context, opts datadog.Options) (metricsBackend, error) {
		return datadog.NewBackend(ctx, opts)
	}
	newPushBackend = func(jobName, url string) (metrics.Backend, error) {
		return prompush.NewBackend(jobName, url)
	}
	setMetricsBackend = func(b metrics.Backend) { metrics.SetBackend(b) }
	logPrintf         = log.Printf
)

// initMetrics installs the named backend. The returned cleanup is never nil
// and flushes whatever was installed.
func initMetrics(ctx context.Context, jobName, backendName, pushURL string) (func(), error) {
	nop := func() {}
	if jobName == "" {
		jobName = "stardim"
	}

	switch strings.ToLower(strings.TrimSpace(backendName)) {
	case "", "none", "noop":
		return nop, nil

	case "datadog", "dd":
		b, err := newDatadogBackend(ctx, datadog.Options{
			JobName:    jobName,
			Tags:       datadog.ParseTagsCSV(os.Getenv("METRICS_TAGS")),
			FlushEvery: 60 * time.Second,
		})
		if err != nil {
			return nop, fmt.Errorf("datadog: %w", err)
		}
		setMetricsBackend(b)
		return func() {
			if err := b.Close(); err != nil {
				logPrintf("metrics: datadog close error: %v", err)
			}
		}, nil

	case "pushgateway", "prom":
		url := pushURL
		if url == "" {
			url = os.Getenv("PUSHGATEWAY_URL")
		}
		if url == "" {
			url = "http://localhost:9091"
		}
		b, err := newPushBackend(jobName, url)
		if err != nil {
			return nop, fmt.Errorf("pushgateway: %w", err)
		}
		setMetricsBackend(b)
		return func() {
			if err := b.Flush(); err != nil {
				logPrintf("metrics: pushgateway flush error: %v", err)
			}
		}, nil

	default:
		return nop, fmt.Errorf("unknown metrics backend %q (want none|datadog|pushgateway)", backendName)
	}
}
