// Command agentchat runs a configured conversation and prints it to stdout.
//
// Usage:
//
//	agentchat -preset weather
//	agentchat -config team.yaml -task "What is the weather in Paris?" -max-turns 6
//	agentchat -presets
//
// Logs go to stderr. Any failure exits with status 1.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hupe1980/agentchat"
	"github.com/hupe1980/agentchat/config"
	"github.com/hupe1980/agentchat/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

type cliFlags struct {
	configPath  string
	preset      string
	task        string
	maxTurns    int
	stream      bool
	logLevel    string
	metricsAddr string
	timeout     time.Duration
	listPresets bool
}

func parseFlags(args []string, stderr io.Writer) (*cliFlags, map[string]bool, error) {
	f := &cliFlags{}
	fs := flag.NewFlagSet("agentchat", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&f.configPath, "config", "", "Path to a YAML configuration file")
	fs.StringVar(&f.preset, "preset", "", "Built-in configuration: "+strings.Join(config.Presets(), ", "))
	fs.StringVar(&f.task, "task", "", "Task text (default: the configured task)")
	fs.IntVar(&f.maxTurns, "max-turns", 0, "Override the team turn budget")
	fs.BoolVar(&f.stream, "stream", false, "Stream partial model output for every agent")
	fs.StringVar(&f.logLevel, "log-level", "", "Log level: debug, info, warn or error")
	fs.StringVar(&f.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
	fs.DurationVar(&f.timeout, "timeout", 0, "Abort the run after this duration (0 disables)")
	fs.BoolVar(&f.listPresets, "presets", false, "List the built-in configurations and exit")

	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	if fs.NArg() > 0 {
		return nil, nil, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}

	set := make(map[string]bool)
	fs.Visit(func(fl *flag.Flag) { set[fl.Name] = true })
	return f, set, nil
}

func loadConfig(f *cliFlags, set map[string]bool) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	switch {
	case f.configPath != "" && f.preset != "":
		return nil, errors.New("-config and -preset are mutually exclusive")
	case f.configPath != "":
		cfg, err = config.Load(f.configPath)
	case f.preset != "":
		cfg, err = config.Preset(f.preset)
	default:
		cfg, err = config.Preset("basic")
	}
	if err != nil {
		return nil, err
	}

	if f.maxTurns > 0 {
		if cfg.Team == nil {
			return nil, errors.New("-max-turns needs a configuration with a team")
		}
		cfg.Team.MaxTurns = f.maxTurns
	}
	if set["stream"] {
		for i := range cfg.Agents {
			cfg.Agents[i].Stream = f.stream
		}
	}
	if f.logLevel != "" {
		cfg.Logging.Level = f.logLevel
	}
	return cfg, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	f, set, err := parseFlags(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if f.listPresets {
		for _, name := range config.Presets() {
			fmt.Fprintln(stdout, name)
		}
		return 0
	}

	cfg, err := loadConfig(f, set)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	logger := logging.NewLogger(&logging.LoggerConfig{
		Level:     level,
		Format:    cfg.Logging.Format,
		Output:    stderr,
		Component: "cli",
	})

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	var reg prometheus.Registerer
	if f.metricsAddr != "" {
		registry := prometheus.NewRegistry()
		shutdown, err := serveMetrics(f.metricsAddr, registry, logger)
		if err != nil {
			logger.Error("cli.metrics.failed", "addr", f.metricsAddr, "error", err.Error())
			return 1
		}
		defer shutdown()
		reg = registry
	}

	app, err := agentchat.New(cfg, func(o *agentchat.Options) {
		o.Registerer = reg
		o.Logger = logger
	})
	if err != nil {
		logger.Error("cli.setup.failed", "error", err.Error())
		return 1
	}
	defer app.Close()

	if _, err := app.RunConsole(ctx, stdout, f.task); err != nil {
		logger.Error("cli.run.failed", "error", err.Error())
		return 1
	}
	return 0
}

// serveMetrics binds addr before returning so a busy port fails the run.
func serveMetrics(addr string, reg *prometheus.Registry, logger logging.Logger) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("cli.metrics.serve_failed", "error", err.Error())
		}
	}()
	logger.Info("cli.metrics.listening", "addr", ln.Addr().String())

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
