package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"ollama-chat-bridge/internal/config"
	"ollama-chat-bridge/internal/logging"
	"ollama-chat-bridge/internal/server"
	"ollama-chat-bridge/internal/telemetry"
)

const shutdownTimeout = 10 * time.Second

var (
	flagPort       string
	flagOllamaHost string
	flagModels     string
	flagStatic     string
)

func init() {
	rootCmd.Flags().StringVar(&flagPort, "port", "", "Port to listen on (overrides PORT)")
	rootCmd.Flags().StringVar(&flagOllamaHost, "ollama-host", "", "Ollama base URL (overrides OLLAMA_HOST)")
	rootCmd.Flags().StringVar(&flagModels, "models", "", "Path to the model catalog (overrides MODELS_FILE)")
	rootCmd.Flags().StringVar(&flagStatic, "static", "", "Directory with the web client (overrides STATIC_DIR)")
}

var rootCmd = &cobra.Command{
	Use:   "bridge-server",
	Short: "Relay browser chat sessions to a local Ollama server",
	Long: `bridge-server serves the web chat client and streams replies from a
local Ollama server over WebSocket.

Examples:
  bridge-server
  bridge-server --port 9000 --ollama-host http://gpu-box:11434
  bridge-server --models ./models.yaml --static ./web`,
	CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
	SilenceUsage:      true,
	RunE:              runServer,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	applyFlags(cmd, &cfg)

	logger, logCloser, err := logging.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	defer logCloser.Close()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.TelemetryEnabled {
		shutdownTelemetry, err := telemetry.Init(ctx, cfg.TelemetryDir)
		if err != nil {
			return fmt.Errorf("failed to initialize telemetry: %w", err)
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := shutdownTelemetry(sctx); err != nil {
				logger.Warn("telemetry shutdown failed", "error", err)
			}
		}()
	}

	s, err := server.NewServer(cfg)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("bridge server listening", "addr", httpServer.Addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		_ = s.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	// Hijacked WebSocket connections are not tracked by Shutdown.
	if err := s.Close(); err != nil {
		logger.Warn("failed to close server resources", "error", err)
	}
	if err := httpServer.Shutdown(sctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// applyFlags overrides environment configuration with explicitly set flags.
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("port") {
		cfg.Port = flagPort
	}
	if cmd.Flags().Changed("ollama-host") {
		cfg.OllamaHost = config.NormalizeHost(flagOllamaHost)
	}
	if cmd.Flags().Changed("models") {
		cfg.ModelsFile = flagModels
	}
	if cmd.Flags().Changed("static") {
		cfg.StaticDir = flagStatic
	}
}
