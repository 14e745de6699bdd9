package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/andy6609/friends-chat-server/internal/chat"
	"github.com/andy6609/friends-chat-server/internal/config"
	"github.com/andy6609/friends-chat-server/internal/store"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Unable to start server:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath, metricsAddr string

	cmd := &cobra.Command{
		Use:   "chatserver [port]",
		Short: "Friends chat server",
		Long:  "Runs the chat server. Type \"stop\" on standard input or send SIGINT/SIGTERM to shut down and save the registry.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if len(args) == 1 {
				if err := cfg.SetPort(args[0]); err != nil {
					return err
				}
			}
			if metricsAddr != "" {
				cfg.MetricsAddr = metricsAddr
			}
			return run(cfg, cmd.InOrStdin())
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to a YAML config file")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "metrics listen address, e.g. :9090")
	return cmd
}

func run(cfg *config.Config, stdin io.Reader) error {
	level, _ := cfg.Level()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))

	reg := chat.NewRegistry(logger)
	opts := chat.Options{
		OutboundBuffer:   cfg.OutboundBuffer,
		CommandRate:      cfg.CommandRate,
		CommandBurst:     cfg.CommandBurst,
		SnapshotInterval: cfg.SnapshotInterval,
	}

	db, err := store.Open(cfg.SnapshotPath)
	if err != nil {
		logger.Error("snapshot store unavailable, registry will not be saved", "path", cfg.SnapshotPath, "error", err)
	} else {
		defer db.Close()
		opts.Snapshotter = db
		loadSnapshot(db, reg, logger)
	}

	srv := chat.NewServer(cfg.Addr(), reg, opts, logger)
	if err := srv.Start(); err != nil {
		logger.Error("failed to start server", "error", err)
		return err
	}

	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr, logger)
	}

	stopCh := make(chan string, 1)
	go watchStdin(stdin, stopCh)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("signal received", "signal", sig.String())
	case <-stopCh:
		logger.Info("stop command received")
	}

	srv.Stop()
	return nil
}

// loadSnapshot restores the registry from db. A missing, unreadable or
// inconsistent snapshot leaves the registry empty.
func loadSnapshot(db *store.DB, reg *chat.Registry, logger *slog.Logger) {
	snap, err := db.Load()
	if err != nil {
		logger.Warn("could not load snapshot, starting empty", "path", db.Path(), "error", err)
		return
	}
	if err := reg.Restore(snap); err != nil {
		logger.Warn("snapshot rejected, starting empty", "path", db.Path(), "error", err)
	}
}

func serveMetrics(addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	logger.Info("metrics listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics server", "error", err)
	}
}

// watchStdin signals stopCh when a "stop" line is read. End of input is not a
// stop request, so the server keeps running when started without a terminal.
func watchStdin(r io.Reader, stopCh chan<- string) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) == "stop" {
			stopCh <- "stop"
			return
		}
	}
}
