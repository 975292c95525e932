package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"aecm/internal/config"
)

// Version is injected at build time with -ldflags.
var Version = "0.1.0-dev"

func main() {
	dbPath := flag.String("db", "", "SQLite database path (defaults to the config directory)")
	debug := flag.Bool("debug", false, "Enable debug logging (auto-enabled for dev builds)")
	flag.Usage = func() { usage(flag.CommandLine.Output()) }
	flag.Parse()

	// Auto-enable debug logging for dev builds; override with -debug flag.
	level := slog.LevelInfo
	if *debug || strings.Contains(Version, "dev") {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		slog.Info("received interrupt, stopping")
		cancel()
	}()

	prefs := config.Load()
	handled, err := RunCLI(ctx, flag.Args(), prefs, *dbPath, os.Stdout)
	if !handled {
		usage(os.Stderr)
		os.Exit(2)
	}
	if err != nil {
		slog.Error("command failed", "cmd", flag.Arg(0), "err", err)
		os.Exit(1)
	}
}

func usage(w io.Writer) {
	fmt.Fprintf(w, `aecm %s: acoustic echo cancellation for 8/16 kHz PCM

Usage: aecm [-db path] [-debug] <command> [flags]

Commands:
  process   cancel echo in a near-end WAV given the far-end WAV
  simulate  render a synthetic far-end/near-end pair
  profiles  list, delete, export or import stored echo paths
  runs      show the history of processed files
  config    show or change saved preferences
  version   print the version
`, Version)
}
