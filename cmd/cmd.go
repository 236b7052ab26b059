package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"time"

	"github.com/go-logr/zapr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/metal-toolbox/tracked-reader/internal/follow"
	"github.com/metal-toolbox/tracked-reader/internal/health"
	"github.com/metal-toolbox/tracked-reader/internal/metrics"
	"github.com/metal-toolbox/tracked-reader/internal/probe"
	"github.com/metal-toolbox/tracked-reader/tracker"
)

const usage = `tracked-reader

DESCRIPTION
  tracked-reader opens a file, runs a script of reads and seeks against
  it and reports which byte ranges were accessed, which errors occurred
  and what the file's size turned out to be.

  Script steps are comma separated: read:N, readall, seek:start:N,
  seek:current:N and seek:end:N.

OPTIONS
`

// InspectorComponentName is the health component name of the script runner.
const InspectorComponentName = "inspector"

var logger *zap.SugaredLogger

const (
	// DefaultHTTPServerReadTimeout is the default HTTP server read timeout.
	DefaultHTTPServerReadTimeout = 1 * time.Second
	// DefaultHTTPServerReadHeaderTimeout is the default HTTP server read header timeout.
	DefaultHTTPServerReadHeaderTimeout = 5 * time.Second
	// DefaultOpenMaxElapsed is how long opening the target file is retried.
	DefaultOpenMaxElapsed = 10 * time.Second

	formatYAML = "yaml"
	formatJSON = "json"
)

type metricsConfig struct {
	enableMetrics               bool
	enableHealthz               bool
	httpAddress                 string
	httpServerReadTimeout       time.Duration
	httpServerReadHeaderTimeout time.Duration
}

type appConfig struct {
	filePath       string
	script         string
	chunk          uint64
	format         string
	follow         bool
	openMaxElapsed time.Duration
	metricsConfig  metricsConfig
	logLevel       zapcore.Level
}

func parseFlags(osArgs []string) (*appConfig, error) {
	flagSet := flag.NewFlagSet(osArgs[0], flag.ContinueOnError)

	config := &appConfig{
		logLevel: zapcore.InfoLevel,
	}

	flagSet.StringVar(&config.filePath, "file", "/etc/os-release", "Path to the file to inspect")
	flagSet.StringVar(&config.script, "script", probe.DefaultScript, "Comma separated reads and seeks to run")
	flagSet.Uint64Var(&config.chunk, "chunk", tracker.DefaultChunk, "Report chunk size in bytes")
	flagSet.StringVar(&config.format, "format", formatYAML, "Report format (yaml or json)")
	flagSet.BoolVar(&config.follow, "follow", false, "Keep reading data appended to the file after the script")
	flagSet.DurationVar(&config.openMaxElapsed, "open-max-elapsed", DefaultOpenMaxElapsed,
		"How long to retry opening the file (0 retries forever)")
	flagSet.Var(&config.logLevel, "log-level", "Set the log level according to zapcore.Level")
	flagSet.BoolVar(&config.metricsConfig.enableMetrics, "metrics", false, "Enable Prometheus HTTP /metrics server")
	flagSet.BoolVar(&config.metricsConfig.enableHealthz, "healthz", false, "Enable HTTP health endpoints server")
	flagSet.StringVar(&config.metricsConfig.httpAddress, "http-address", ":2112",
		"Listen address of the metrics and health HTTP server")
	flagSet.DurationVar(&config.metricsConfig.httpServerReadTimeout, "http-server-read-timeout",
		DefaultHTTPServerReadTimeout, "HTTP server read timeout")
	flagSet.DurationVar(&config.metricsConfig.httpServerReadHeaderTimeout, "http-server-read-header-timeout",
		DefaultHTTPServerReadHeaderTimeout, "HTTP server read header timeout")

	flagSet.Usage = func() {
		_, _ = flagSet.Output().Write([]byte(usage))
		flagSet.PrintDefaults()
	}

	if err := flagSet.Parse(osArgs[1:]); err != nil {
		return nil, err
	}

	if config.format != formatYAML && config.format != formatJSON {
		return nil, fmt.Errorf("unsupported report format '%s'", config.format)
	}

	if config.chunk == 0 {
		return nil, errors.New("chunk size must be positive")
	}

	return config, nil
}

// Run parses osArgs, inspects the configured file and logs the
// resulting report. With -follow it keeps running until ctx is done.
func Run(ctx context.Context, osArgs []string, h *health.Health, optLoggerConfig *zap.Config) error {
	appCfg, err := parseFlags(osArgs)
	if err != nil {
		return fmt.Errorf("failed to parse flags: %w", err)
	}

	steps, err := probe.Parse(appCfg.script)
	if err != nil {
		return fmt.Errorf("failed to parse script: %w", err)
	}

	if optLoggerConfig == nil {
		cfg := zap.NewProductionConfig()
		optLoggerConfig = &cfg
	}

	optLoggerConfig.Level = zap.NewAtomicLevelAt(appCfg.logLevel)

	l, err := optLoggerConfig.Build()
	if err != nil {
		return err
	}

	defer func() {
		_ = l.Sync() //nolint
	}()

	logger = l.Sugar()

	eg, groupCtx := errgroup.WithContext(ctx)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	pprov := metrics.NewPrometheusMetricsProviderForRegisterer(registry)

	f, err := openFileUntilSuccess(groupCtx, appCfg.filePath, appCfg.openMaxElapsed)
	if err != nil {
		return fmt.Errorf("failed to open '%s': %w", appCfg.filePath, err)
	}

	r, err := tracker.NewReader(f, tracker.WithLogger(logger), tracker.WithObserver(pprov))
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to rewind '%s': %w", appCfg.filePath, err)
	}

	addReadiness(h, appCfg)

	handleMetricsAndHealth(groupCtx, appCfg.metricsConfig, eg, h, registry)

	logger.Infof("inspecting '%s'...", appCfg.filePath)

	eg.Go(func() error {
		defer r.Close()

		err := runScript(groupCtx, r, steps, appCfg, pprov)
		if err != nil {
			return err
		}

		h.OnReady(InspectorComponentName)

		if !appCfg.follow {
			return nil
		}

		follower, err := follow.Start(groupCtx, appCfg.filePath, r, zapr.NewLogger(l),
			func(t *tracker.Tracker) {
				logReport(tracker.NewReportWithChunk(t, appCfg.chunk), appCfg.format, pprov)
			})
		if err != nil {
			return fmt.Errorf("failed to follow '%s': %w", appCfg.filePath, err)
		}

		h.OnReady(follow.FollowerComponentName)

		err = follower.Wait()
		logger.Infof("follower exited (%v)", err)
		return err
	})

	if err := eg.Wait(); err != nil {
		// Only a cancelled parent context counts as a graceful
		// shutdown. The errgroup cancels groupCtx itself when one
		// of its Go routines fails.
		if ctx.Err() != nil && errors.Is(err, context.Canceled) {
			logger.Infoln("stopped")
			return nil
		}

		return fmt.Errorf("workers finished with error: %w", err)
	}

	logger.Infoln("all workers finished without error")

	return nil
}

// addReadiness registers the components Run waits for. It must run
// before /readyz is served.
func addReadiness(h *health.Health, appCfg *appConfig) {
	h.AddReadiness(InspectorComponentName)
	if appCfg.follow {
		h.AddReadiness(follow.FollowerComponentName)
	}
}

func runScript(ctx context.Context, r *tracker.Reader, steps []probe.Step, appCfg *appConfig, pprov *metrics.PrometheusMetricsProvider) error {
	err := probe.Run(ctx, r, steps, func(step probe.Step, res probe.Result) {
		logger.Debugw("ran step",
			"step", step.String(),
			"bytes", res.N,
			"position", res.Pos,
			"data", string(res.Data),
			"error", res.Err)

		if logger.Desugar().Core().Enabled(zapcore.DebugLevel) {
			logger.Debugf("report:\n%s", tracker.NewReportWithChunk(r.Tracker(), appCfg.chunk))
		}
	})

	// Log the report for failed scripts too.
	logReport(tracker.NewReportWithChunk(r.Tracker(), appCfg.chunk), appCfg.format, pprov)

	return err
}

func logReport(rep *tracker.Report, format string, pprov *metrics.PrometheusMetricsProvider) {
	pprov.SetReport(rep.Serialize())

	text, err := renderReport(rep, format)
	if err != nil {
		logger.Errorf("failed to render report - %v", err)
		return
	}

	logger.Infof("report:\n%s", text)
}

func renderReport(rep *tracker.Report, format string) (string, error) {
	if format == formatJSON {
		b, err := rep.JSON()
		if err != nil {
			return "", err
		}

		return string(b), nil
	}

	return rep.Render(), nil
}

// handleMetricsAndHealth starts a HTTP server to serve metrics and
// health endpoints.
//
// If metrics are disabled, the /metrics endpoint will return 404.
// If health is disabled, the /readyz endpoint will return 404.
// If both are disabled, the HTTP server will not be started.
func handleMetricsAndHealth(ctx context.Context, mc metricsConfig, eg *errgroup.Group, h *health.Health, g prometheus.Gatherer) {
	if !mc.enableMetrics && !mc.enableHealthz {
		return
	}

	mux := http.NewServeMux()

	if mc.enableMetrics {
		mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	}

	if mc.enableHealthz {
		mux.Handle("/readyz", h.ReadyzHandler())
	}

	server := &http.Server{
		Addr:              mc.httpAddress,
		Handler:           mux,
		ReadTimeout:       mc.httpServerReadTimeout,
		ReadHeaderTimeout: mc.httpServerReadHeaderTimeout,
	}

	eg.Go(func() error {
		logger.Infof("starting HTTP server on address '%s'...", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	eg.Go(func() error {
		<-ctx.Done()
		logger.Infoln("stopping HTTP server...")
		//nolint:contextcheck // ctx is already done at this point.
		return server.Shutdown(context.Background())
	})
}
