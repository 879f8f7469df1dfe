// Package main is the entry point for the lumen plugin daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dshills/lumen/internal/app"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// shutdownTimeout bounds the final shutdown after Run has returned.
const shutdownTimeout = 10 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	opts := parseFlags()

	application, err := app.New(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to initialize: %v\n", err)
		return 1
	}

	// Ensure cleanup on all exit paths
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = application.Shutdown(ctx)
	}()

	// Handle signals for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func parseFlags() app.Options {
	var opts app.Options
	var showVersion bool

	flag.StringVar(&opts.ConfigPath, "config", "", "Path to configuration file (.toml, .yaml)")
	flag.StringVar(&opts.ConfigPath, "c", "", "Path to configuration file (shorthand)")
	flag.StringVar(&opts.PluginsDir, "plugins", "", "Plugins directory")
	flag.StringVar(&opts.Database, "db", "", "Plugin database path")
	flag.StringVar(&opts.LogLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&showVersion, "v", false, "Show version information (shorthand)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "lumend - scripting plugin host\n\n")
		fmt.Fprintf(os.Stderr, "Usage: lumend [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment variables prefixed with LUMEN_ override the configuration file.\n")
	}

	flag.Parse()

	if showVersion {
		fmt.Printf("lumend %s\n", version)
		fmt.Printf("Commit: %s\n", commit)
		fmt.Printf("Built: %s\n", date)
		os.Exit(0)
	}

	// Validate log level
	switch opts.LogLevel {
	case "", "trace", "debug", "info", "warn", "error":
		// Valid
	default:
		fmt.Fprintf(os.Stderr, "Error: invalid log level %q (must be trace, debug, info, warn, or error)\n", opts.LogLevel)
		os.Exit(1)
	}

	return opts
}
