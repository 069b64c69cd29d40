// Command anywhere serves a directory tree over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"

	"example.com/anywhere/internal/app"
	"example.com/anywhere/internal/config"
	"example.com/anywhere/internal/logger"
	"example.com/anywhere/internal/server"
)

var version = "dev"

// options holds the parsed command line. Only flags the user actually set
// override the configuration file.
type options struct {
	configPath  string
	root        string
	host        string
	port        int
	maxAge      int
	metrics     bool
	showVersion bool

	set map[string]bool
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	opts := &options{set: make(map[string]bool)}
	fs := flag.NewFlagSet("anywhere", flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVar(&opts.configPath, "config", "", "Path to a configuration file (JSON, TOML or YAML)")
	fs.StringVar(&opts.root, "root", "", "Directory to serve (default: current directory)")
	fs.StringVar(&opts.root, "d", "", "Shorthand for -root")
	fs.StringVar(&opts.host, "host", config.DefaultHost, "Address to bind")
	fs.IntVar(&opts.port, "port", config.DefaultPort, "Port to listen on")
	fs.IntVar(&opts.port, "p", config.DefaultPort, "Shorthand for -port")
	fs.IntVar(&opts.maxAge, "max-age", config.DefaultMaxAge, "Cache-Control max-age in seconds")
	fs.BoolVar(&opts.metrics, "metrics", false, "Expose Prometheus metrics at "+config.DefaultMetricsPath)
	fs.BoolVar(&opts.showVersion, "version", false, "Print the version and exit")
	fs.BoolVar(&opts.showVersion, "v", false, "Shorthand for -version")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "d":
			opts.set["root"] = true
		case "p":
			opts.set["port"] = true
		default:
			opts.set[f.Name] = true
		}
	})
	return opts, nil
}

// buildConfig loads the optional file, layers flags on top and applies
// defaults and validation.
func buildConfig(opts *options) (*config.Config, error) {
	cfg := &config.Config{}
	if opts.configPath != "" {
		parsed, err := config.ParseFile(opts.configPath)
		if err != nil {
			return nil, err
		}
		cfg = parsed
	}

	if cfg.Server == nil {
		cfg.Server = &config.ServerConfig{}
	}
	if cfg.Static == nil {
		cfg.Static = &config.StaticConfig{}
	}
	if opts.set["root"] {
		cfg.Static.Root = opts.root
	}
	if opts.set["host"] {
		cfg.Server.Host = opts.host
	}
	if opts.set["port"] {
		port := opts.port
		cfg.Server.Port = &port
	}
	if opts.set["max-age"] {
		maxAge := opts.maxAge
		cfg.Static.MaxAge = &maxAge
	}
	if opts.set["metrics"] {
		if cfg.Metrics == nil {
			cfg.Metrics = &config.MetricsConfig{}
		}
		enabled := opts.metrics
		cfg.Metrics.Enabled = &enabled
	}

	if err := config.ApplyDefaults(cfg); err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(stderr, "Error:", err)
		return 2
	}
	if opts.showVersion {
		fmt.Fprintln(stdout, version)
		return 0
	}

	cfg, err := buildConfig(opts)
	if err != nil {
		fmt.Fprintln(stderr, "Error:", err)
		return 1
	}

	appLogger, err := logger.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintln(stderr, "Failed to initialize logger:", err)
		return 1
	}
	defer func() {
		if err := appLogger.CloseLogFiles(); err != nil {
			fmt.Fprintln(stderr, "Error closing log files during shutdown:", err)
		}
	}()

	a, err := app.New(cfg, appLogger)
	if err != nil {
		appLogger.Error("Failed to initialize application", logger.LogFields{"error": err.Error()})
		return 1
	}

	if _, err := a.Server.Listen(ctx); err != nil {
		appLogger.Error("Failed to listen", logger.LogFields{"address": cfg.Address(), "error": err.Error()})
		return 1
	}
	appLogger.Info("Serving directory", logger.LogFields{
		"root":    cfg.Static.Root,
		"metrics": cfg.MetricsEnabled(),
	})
	banner := color.New(color.FgGreen)
	banner.Fprintln(stdout, "Server running at "+server.BaseURL(a.Server.Addr(), cfg.Server.Host))

	if err := a.Server.Run(ctx); err != nil {
		appLogger.Error("Server exited with an error", logger.LogFields{"error": err.Error()})
		return 1
	}
	appLogger.Info("Server has shut down gracefully", logger.LogFields{})
	return 0
}

func main() {
	os.Exit(run(context.Background(), os.Args[1:], color.Output, os.Stderr))
}
