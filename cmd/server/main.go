package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/diegoasua/dubbing/internal/config"
	"github.com/diegoasua/dubbing/internal/metrics"
	"github.com/diegoasua/dubbing/internal/server"
	"github.com/diegoasua/dubbing/internal/session"
	"github.com/diegoasua/dubbing/internal/synthesis"
	"github.com/diegoasua/dubbing/internal/transcription"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "voice-relay"
	serviceVersion    = "1.0.0"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "voicerelay",
	Short: "Live voice relay: speech-to-text and text-to-speech over websockets",
	Long: "Accepts client microphone audio over a websocket, streams it to a live " +
		"transcription provider and sends synthesized speech for every final transcript back to the client.",
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the relay server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return serve(cfg)
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration with secrets masked",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		out, err := yaml.Marshal(maskSecrets(*cfg))
		if err != nil {
			return fmt.Errorf("failed to encode configuration: %w", err)
		}

		fmt.Fprint(cmd.OutOrStdout(), string(out))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath, "Path to configuration file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads .env when present, then the config file
func loadConfig() (*config.Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Ignoring unreadable .env file: %v\n", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

func maskSecrets(cfg config.Config) config.Config {
	if cfg.Transcription.APIKey != "" {
		cfg.Transcription.APIKey = "***"
	}
	if cfg.Synthesis.APIKey != "" {
		cfg.Synthesis.APIKey = "***"
	}
	return cfg
}

func serve(cfg *config.Config) error {
	// Initialize logger based on configuration
	logger := initLogger(cfg.Logging)

	// Log service startup
	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", configPath),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.String("address", fmt.Sprintf("%s:%d", cfg.Server.Address, cfg.Server.Port)),
		slog.String("ws_path", cfg.Server.WSPath),
		slog.Int("max_sessions", cfg.Server.MaxSessions),
		slog.Int("aggregation_window_ms", cfg.Session.AggregationWindowMs),
		slog.String("transcription_endpoint", cfg.Transcription.Endpoint),
		slog.String("transcription_model", cfg.Transcription.Model),
		slog.String("synthesis_provider", cfg.Synthesis.Provider),
		slog.String("synthesis_voice", cfg.Synthesis.Voice),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Initialize Prometheus metrics
	var appMetrics *metrics.Metrics
	if cfg.Metrics.Enabled {
		appMetrics = metrics.NewMetrics(prometheus.DefaultRegisterer)
		logger.Info("Prometheus metrics initialized")
	}

	// Synthesis provider and the shared client
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	provider, err := synthesis.NewProvider(ctx, cfg.Synthesis)
	if err != nil {
		logger.Error("Failed to create synthesis provider", slog.String("error", err.Error()))
		return err
	}

	synthClient, err := synthesis.NewClient(provider, synthesis.ClientConfig{
		Timeout:       cfg.Synthesis.GetTimeoutDuration(),
		MaxRetries:    cfg.Synthesis.MaxRetries,
		MaxConcurrent: cfg.Synthesis.MaxConcurrent,
	}, logger, appMetrics)
	if err != nil {
		logger.Error("Failed to create synthesis client", slog.String("error", err.Error()))
		return err
	}
	logger.Info("Synthesis client initialized",
		slog.String("provider", synthClient.Name()),
		slog.Int("max_concurrent", cfg.Synthesis.MaxConcurrent),
	)

	// Live transcription dialer
	dialer := transcription.NewDeepgramDialer(cfg.Transcription.Endpoint, cfg.Transcription.APIKey,
		cfg.Transcription.GetDialTimeoutDuration(), logger)

	// Initialize session manager
	sessionMgr := session.NewManager(dialer, synthClient, session.ManagerConfigFrom(cfg), logger, appMetrics)
	logger.Info("Session manager initialized",
		slog.Duration("idle_timeout", cfg.Session.GetIdleTimeout()),
		slog.Duration("heartbeat_interval", cfg.Session.GetHeartbeatInterval()),
	)

	// Initialize HTTP and websocket server
	httpServer := server.NewHTTPServer(cfg, logger, sessionMgr, synthClient, appMetrics, nil)

	if err := httpServer.Start(); err != nil {
		logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
		return err
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...")

	sig := <-sigChan
	logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	logger.Info("Starting graceful shutdown...")

	// Stop HTTP server first (stop accepting new connections)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
	}

	// Tear down sessions, which closes the hijacked client websockets
	sessionMgr.Stop()

	// Wait for in-flight synthesis and release provider resources
	if err := synthClient.Close(); err != nil {
		logger.Error("Error closing synthesis client", slog.String("error", err.Error()))
	}

	// Get final statistics
	stats := synthClient.GetStats()
	logger.Info("Final synthesis statistics",
		slog.Uint64("total_requests", stats.TotalRequests),
		slog.Uint64("success_requests", stats.SuccessRequests),
		slog.Uint64("failed_requests", stats.FailedRequests),
		slog.Uint64("total_retries", stats.TotalRetries),
	)

	logger.Info("Service stopped")
	return nil
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	// Parse log level
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	// Determine output destination
	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
