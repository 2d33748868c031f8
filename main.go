/*
file-transfer is a LAN file transfer client. It locates a file server with a
UDP broadcast handshake (or takes its address on the command line) and sends
files and directory trees to it over TCP.

Three transfer modes are available:

1. Sequential: one connection, resumable from the server's partial copy

2. Parallel: the file is split into chunks sent over concurrent connections

3. Directory: a whole tree, item by item, over one connection

Without -mode the client runs an interactive menu.
*/
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AK1OS/file-transfer/internal/client"
	"github.com/AK1OS/file-transfer/internal/config"
	"github.com/AK1OS/file-transfer/internal/console"
	"github.com/AK1OS/file-transfer/internal/discovery"
	"github.com/AK1OS/file-transfer/internal/errors"
	"github.com/AK1OS/file-transfer/internal/logging"
	"github.com/AK1OS/file-transfer/internal/network"
	"github.com/AK1OS/file-transfer/internal/progress"
)

func main() {
	// Setup structured logging first
	if err := logging.SetupLogger(); err != nil {
		slog.Error("Failed to setup logging", "error", err)
		os.Exit(1)
	}

	// Parse command line arguments
	cfg, err := config.ParseFlags()
	if err != nil {
		slog.Error("Configuration error", "error", err)
		os.Exit(1)
	}

	// Log configuration
	logging.LogConfig(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Set up signal handling for graceful shutdown
	setupSignalHandling(cancel)

	if cfg.Mode == "" && !console.IsTerminal(os.Stdin) {
		slog.Warn("Standard input is not a terminal, menu choices are read from it as lines")
	}

	if err := run(ctx, cfg, os.Stdin, os.Stdout); err != nil {
		logging.LogError(err, "client")
		os.Exit(1)
	}
}

// run locates the server and either performs the transfer named by the
// configuration or hands control to the interactive menu
func run(ctx context.Context, cfg *config.Config, stdin io.Reader, stdout io.Writer) error {
	server, err := resolveServer(ctx, cfg)
	if err != nil {
		return err
	}

	out := progress.NewConsole(stdout)
	prompter := console.NewPrompter(stdin, stdout)
	c := client.New(server.IP, server.Port, cfg, prompter, out)

	if cfg.Mode == "" {
		return console.NewMenu(c, prompter, out, c.Address()).Run(ctx)
	}
	return runOnce(ctx, c, cfg)
}

// resolveServer returns the configured server, or discovers one
func resolveServer(ctx context.Context, cfg *config.Config) (discovery.Server, error) {
	if cfg.ServerAddress != "" {
		ip, port, err := network.SplitAddress(cfg.ServerAddress)
		if err != nil {
			return discovery.Server{}, err
		}
		return discovery.Server{IP: ip, Port: port}, nil
	}

	return discovery.New(cfg.DiscoveryPort, cfg.DiscoveryTimeout).Discover(ctx)
}

func runOnce(ctx context.Context, c *client.Client, cfg *config.Config) error {
	switch cfg.Mode {
	case config.ModeSequential:
		result, err := c.SendFile(ctx, cfg.Path)
		if err != nil {
			return err
		}
		slog.Info("Transfer complete", "file", result.FileName, "bytes_sent", result.BytesSent,
			"resumed_from", result.StartOffset, "duration", result.Duration)

	case config.ModeParallel:
		result, err := c.SendFileParallel(ctx, cfg.Path, cfg.Threads)
		if err != nil {
			return err
		}
		slog.Info("Transfer complete", "session_id", result.Session.SessionID,
			"chunks", len(result.Chunks), "duration", result.Duration)

	case config.ModeDirectory:
		result, err := c.SendDirectory(ctx, cfg.Path)
		if err != nil {
			return err
		}
		if result.FailCount > 0 {
			return errors.NewFileSystemError("send_directory", cfg.Path,
				fmt.Errorf("%d of %d items failed", result.FailCount, result.Total))
		}

	default:
		return errors.NewValidationError("mode", cfg.Mode, "unknown transfer mode")
	}
	return nil
}

// setupSignalHandling sets up handlers for OS signals to ensure clean shutdown
func setupSignalHandling(cancel context.CancelFunc) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-signals
		slog.Info("Received shutdown signal", "signal", sig)
		cancel()

		// Allow some time for cleanup
		time.Sleep(500 * time.Millisecond)

		slog.Info("Application shutting down gracefully")
		os.Exit(0)
	}()
}
