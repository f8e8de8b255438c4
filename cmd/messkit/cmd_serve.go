package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"messkit/internal/browser"
	"messkit/internal/harness"
	"messkit/internal/logging"
	"messkit/internal/mangle"
	mcpserver "messkit/internal/mcp"
	"messkit/internal/recorder"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var ssePort int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP editor harness (stdio, or SSE with --sse-port)",
		Long: `Starts the MCP server that hosts creative units.

Over stdio (the default) logs must go to a file; set logging.file in the
config. With --sse-port the server listens on HTTP instead.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if ssePort != 0 {
				opts.cfg.MCP.SSEPort = ssePort
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts)
		},
	}
	cmd.Flags().IntVar(&ssePort, "sse-port", 0, "Optional SSE port override (falls back to config)")
	return cmd
}

func runServe(ctx context.Context, opts *rootOptions) error {
	cfg := opts.cfg
	logger := opts.logger

	engine, err := mangle.NewEngine(cfg.Mangle, logging.Named(logger, "mangle"))
	if err != nil {
		return fmt.Errorf("initialize mangle engine: %w", err)
	}

	harnessOpts := []harness.Option{
		harness.WithLogger(logging.Named(logger, "harness")),
		harness.WithFactSink(engine),
		harness.WithDoer(&http.Client{Timeout: cfg.Creative.GetBeaconTimeout()}),
	}

	if cfg.Recorder.Enable {
		rec, err := recorder.NewRecorder(cfg.Recorder.TraceDir)
		if err != nil {
			return fmt.Errorf("initialize recorder: %w", err)
		}
		if err := rec.Start(strconv.FormatInt(time.Now().Unix(), 10)); err != nil {
			return fmt.Errorf("start trace: %w", err)
		}
		defer rec.Close()
		harnessOpts = append(harnessOpts, harness.WithEventLog(rec))
		logger.Info("recording traces", zap.String("path", rec.Path()))
	}

	sessions := browser.NewSessionManager(cfg.Browser, engine, logging.Named(logger, "browser"))
	if cfg.Browser.AutoStart {
		if err := sessions.Start(ctx); err != nil {
			return fmt.Errorf("initialize preview browser: %w", err)
		}
	} else {
		logger.Info("browser auto-start disabled; use launch-browser to attach later")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := sessions.Shutdown(shutdownCtx); err != nil {
			logger.Warn("browser shutdown failed", zap.Error(err))
		}
	}()
	harnessOpts = append(harnessOpts, harness.WithPreviewer(sessions))

	h := harness.New(cfg.Creative, harnessOpts...)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.Close(closeCtx); err != nil {
			logger.Warn("harness close failed", zap.Error(err))
		}
	}()

	server, err := mcpserver.NewServer(cfg, h, sessions, engine, logging.Named(logger, "mcp"))
	if err != nil {
		return fmt.Errorf("initialize MCP server: %w", err)
	}

	var startErr error
	if cfg.MCP.SSEPort > 0 {
		logger.Info("starting messkit MCP SSE server", zap.Int("port", cfg.MCP.SSEPort), zap.String("workspace", opts.wsDir))
		startErr = server.StartSSE(ctx, cfg.MCP.SSEPort)
	} else {
		logger.Info("starting messkit MCP stdio server", zap.String("workspace", opts.wsDir))
		startErr = server.Start(ctx)
	}

	if startErr != nil && !errors.Is(startErr, context.Canceled) {
		return fmt.Errorf("server exited with error: %w", startErr)
	}
	return nil
}
