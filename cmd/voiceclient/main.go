package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/diegoasua/dubbing/internal/client"
	"github.com/diegoasua/dubbing/internal/playback"
	"github.com/diegoasua/dubbing/internal/playback/speaker"
)

var v = viper.New()

var rootCmd = &cobra.Command{
	Use:   "voiceclient",
	Short: "Talk to the voice relay from a microphone or a WAV file",
	Long: "Streams microphone or WAV file audio to the relay server, prints live captions " +
		"and plays the synthesized replies in order.",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := client.LoadConfig(v)
		if err != nil {
			return err
		}
		return run(cmd, cfg)
	},
}

func init() {
	client.SetDefaults(v)

	flags := rootCmd.Flags()
	flags.String("server-url", v.GetString("server_url"), "Relay websocket URL")
	flags.String("input", v.GetString("input"), `Audio input: "mic" or a mono 16-bit WAV file`)
	flags.Int("sample-rate", v.GetInt("sample_rate"), "Microphone capture rate in Hz")
	flags.Int("frame-ms", v.GetInt("frame_ms"), "Capture frame length in milliseconds")
	flags.Bool("realtime", v.GetBool("realtime"), "Pace file input at capture speed")
	flags.Duration("linger", v.GetDuration("linger"), "Time to wait for replies after file input ends")
	flags.Bool("mute", v.GetBool("mute"), "Do not open the speaker; clips are timed silently")
	flags.Int("output-rate", v.GetInt("output_rate"), "Speaker sample rate in Hz")
	flags.String("log-level", v.GetString("log_level"), "Log level (debug, info, warn, error)")

	for _, name := range []string{"server-url", "input", "sample-rate", "frame-ms", "realtime",
		"linger", "mute", "output-rate", "log-level"} {
		v.BindPFlag(flagKey(name), flags.Lookup(name))
	}
}

// flagKey maps a dashed flag name to its settings key
func flagKey(name string) string {
	return strings.ReplaceAll(name, "-", "_")
}

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Ignoring unreadable .env file: %v\n", err)
	}

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, cfg *client.Config) error {
	logger := newLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var source client.Source
	if cfg.UsesMicrophone() {
		source = client.NewMicSource(cfg.SampleRate, cfg.FrameDuration(), logger)
	} else {
		fileSource, err := client.NewFileSource(cfg.Input, cfg.FrameDuration(), cfg.Realtime)
		if err != nil {
			return err
		}
		logger.Info("Streaming file",
			slog.String("path", cfg.Input),
			slog.Int("sample_rate", fileSource.SampleRate()),
		)
		source = fileSource
	}

	var player playback.Player
	if cfg.Mute {
		player = playback.NewSilentPlayer(logger)
	} else {
		player = speaker.NewPlayer(cfg.OutputRate, logger)
	}

	c, err := client.Dial(ctx, cfg.ServerURL, player, cmd.OutOrStdout(), logger)
	if err != nil {
		return err
	}

	logger.Info("Connected", slog.String("server_url", cfg.ServerURL))

	runErr := c.Run(ctx, source, cfg.Linger)

	stats := c.GetStats()
	logger.Info("Client finished",
		slog.String("session_id", stats.SessionID),
		slog.Uint64("frames_sent", stats.FramesSent),
		slog.Uint64("captions", stats.Captions),
		slog.Uint64("clips_received", stats.ClipsReceived),
		slog.Uint64("clips_played", stats.ClipsPlayed),
	)

	return runErr
}

// newLogger writes text logs to stderr so captions on stdout stay readable
func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
