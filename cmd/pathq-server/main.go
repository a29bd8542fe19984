package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"
	"github.com/tkjaer/pathq/internal/config"
	"github.com/tkjaer/pathq/internal/server"
	"github.com/tkjaer/pathq/internal/version"
)

const (
	exitError       = 1
	exitConfigError = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	args, err := config.ParseServerArgs(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitConfigError
	}
	if args.ShowVersion {
		fmt.Println(version.FullVersion())
		return 0
	}

	// Setup logging
	logFile, err := config.SetupLogging(args.LogArgs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to setup logging: %v\n", err)
		return exitConfigError
	}
	if logFile != nil {
		defer logFile.Close()
	}

	// Set up signal handling for Ctrl+C
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := server.New(ctx, args)
	if err != nil {
		slog.Error("Failed to start server", "error", err)
		fmt.Fprintf(os.Stderr, "Failed to start server: %v\n", err)
		return exitError
	}
	defer s.Close()

	if err := s.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitError
	}

	slog.Debug("pathq server stopped", "state", s.State())
	return 0
}
