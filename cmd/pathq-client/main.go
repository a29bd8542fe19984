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
	"github.com/tkjaer/pathq/internal/client"
	"github.com/tkjaer/pathq/internal/config"
	"github.com/tkjaer/pathq/internal/shared"
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
	args, err := config.ParseClientArgs(os.Args[1:])
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

	cfg := args.RunConfig()
	slog.Debug("Starting pathq client",
		"server", cfg.ServerAddress,
		"port", cfg.ServerPort,
		"packets", cfg.PacketCount,
		"transport", cfg.Transport,
	)

	// Ctrl+C stops pacing and sends END early
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := client.NewController(cfg)
	out, err := c.Run(ctx)
	if err != nil {
		if errors.Is(err, shared.ErrInterrupted) {
			slog.Warn("Run interrupted", "sent", out.Sent)
		} else {
			slog.Error("Run failed", "state", c.State(), "error", err)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitError
	}

	fmt.Println(out.Summary())
	if out.Gateway != "" {
		fmt.Printf("default gateway %s\n", out.Gateway)
	}
	slog.Debug("pathq client completed", "state", c.State())
	return 0
}
