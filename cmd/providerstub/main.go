package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var (
	listenAddr string
	phrases    []string
	sampleRate int
	msPerChar  int
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "providerstub",
	Short: "Local stand-in for the transcription and speech providers",
	Long: "Serves a Deepgram-style live transcription websocket on /v1/listen and an " +
		"OpenAI-style speech endpoint on /v1/audio/speech for running the relay without provider accounts.",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&listenAddr, "addr", "127.0.0.1:8081", "Listen address")
	flags.StringSliceVar(&phrases, "phrase", []string{"hello there", "how are you today"}, "Transcripts returned in turn, one per audio chunk")
	flags.IntVar(&sampleRate, "sample-rate", 24000, "Sample rate of synthesized WAV clips")
	flags.IntVar(&msPerChar, "ms-per-char", 60, "Synthesized clip length per input character")
	flags.BoolVar(&verbose, "verbose", false, "Log every chunk")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	if len(phrases) == 0 {
		phrases = []string{"hello"}
	}

	s := newStub(phrases, sampleRate, msPerChar, logger)
	server := &http.Server{
		Addr:              listenAddr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	logger.Info("Provider stub listening",
		slog.String("transcription", "ws://"+listenAddr+"/v1/listen"),
		slog.String("synthesis", "http://"+listenAddr+"/v1"),
	)

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	logger.Info("Provider stub stopped",
		slog.Uint64("transcripts", s.results.Load()),
		slog.Uint64("speeches", s.speeches.Load()),
	)
	return nil
}
