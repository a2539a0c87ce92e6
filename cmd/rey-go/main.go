package main

import (
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/chriscow/rey-go/internal/config"
	"github.com/chriscow/rey-go/internal/conn"
	"github.com/chriscow/rey-go/internal/device"
	"github.com/chriscow/rey-go/pkg/audio"
	"github.com/chriscow/rey-go/pkg/session"
	"github.com/chriscow/rey-go/pkg/transcript"
	"github.com/chriscow/rey-go/pkg/version"
)

var rootCmd = &cobra.Command{
	Use:   "rey-go",
	Short: "Rey voice assistant client",
	Long: `rey-go connects to a Rey voice server, streams microphone audio to it and
plays back the assistant's spoken replies.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.GetVersionInfo())
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start a voice session against the Rey server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		logger := setupLogger()
		logger.Info("Starting session",
			slog.String("service", "rey-go"),
			slog.String("version", version.Version),
			slog.String("commit", version.GitCommit),
			slog.String("url", cfg.ServerURL),
			slog.String("store", cfg.TranscriptStore))

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		return runSession(ctx, cfg, logger)
	},
}

var healthzCmd = &cobra.Command{
	Use:   "healthz",
	Short: "Quick connectivity check against the server's /health endpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		timeout, _ := cmd.Flags().GetDuration("timeout")

		logger := setupLogger()
		target, err := cfg.HealthURL()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		health, err := probeHealth(ctx, http.DefaultClient, target)
		if err != nil {
			logger.Error("Health check failed", slog.String("url", target), slog.String("error", err.Error()))
			return err
		}
		logger.Info("Health check passed",
			slog.String("url", target),
			slog.String("status", health.Status),
			slog.Int("clients", health.Clients))
		return nil
	},
}

var transcriptCmd = &cobra.Command{
	Use:   "transcript",
	Short: "Inspect the persisted conversation history",
}

var transcriptShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the persisted transcript",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		store, err := openTranscript(cfg, setupLogger())
		if err != nil {
			return err
		}
		defer store.Close()

		printTranscript(cmd.OutOrStdout(), store.Entries())
		return nil
	},
}

var transcriptClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete the persisted transcript",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logger := setupLogger()
		store, err := openTranscript(cfg, logger)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.Clear(); err != nil {
			return fmt.Errorf("clear transcript: %w", err)
		}
		logger.Info("Transcript cleared", slog.String("store", cfg.TranscriptStore))
		return nil
	},
}

func setupLogger() *slog.Logger {
	logFormat := os.Getenv("REY_LOG_FORMAT")
	logLevel := os.Getenv("REY_LOG_LEVEL")

	var handler slog.Handler
	opts := &slog.HandlerOptions{}

	switch logLevel {
	case "debug":
		opts.Level = slog.LevelDebug
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	default:
		opts.Level = slog.LevelInfo
	}

	// Logs go to stderr so stdout stays free for the transcript and prompts.
	if logFormat == "console" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// loadConfig reads the environment and applies any flags the user set
// explicitly on cmd.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}

	flags := cmd.Flags()
	if flags.Changed("url") {
		cfg.ServerURL, _ = flags.GetString("url")
	}
	if flags.Changed("token") {
		cfg.AuthToken, _ = flags.GetString("token")
	}
	if flags.Changed("wake-word") {
		cfg.WakeWordEnabled, _ = flags.GetBool("wake-word")
	}
	if flags.Changed("store") {
		cfg.TranscriptStore, _ = flags.GetString("store")
	}
	if flags.Changed("data-dir") {
		cfg.DataDir, _ = flags.GetString("data-dir")
	}
	if flags.Changed("dump") {
		cfg.CaptureDump, _ = flags.GetString("dump")
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr, _ = flags.GetString("metrics-addr")
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func openTranscript(cfg config.Config, logger *slog.Logger) (*transcript.Store, error) {
	var p transcript.Persistence
	switch cfg.TranscriptStore {
	case config.StoreBadger:
		b, err := transcript.OpenBadger(cfg.BadgerDir())
		if err != nil {
			return nil, err
		}
		p = b
	case config.StoreFile:
		p = transcript.NewFilePersistence(cfg.TranscriptPath())
	default:
		p = transcript.NewMemoryPersistence()
	}
	return transcript.Open(transcript.Config{Persistence: p, Logger: logger}), nil
}

func runSession(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	store, err := openTranscript(cfg, logger)
	if err != nil {
		return err
	}

	var (
		input    audio.InputDevice
		output   audio.OutputDevice
		inputErr error
	)
	pa, err := device.Init(logger)
	if err != nil {
		// Keep going without audio; the session still handles text and
		// control traffic and reports the device failure to the host.
		logger.Warn("Audio devices unavailable", slog.String("error", err.Error()))
		inputErr = fmt.Errorf("%w: %v", audio.ErrDeviceUnavailable, err)
	} else {
		defer pa.Terminate()
		input, output = pa, pa
	}

	backoff := conn.DefaultBackoff()
	backoff.MaxAttempts = cfg.MaxReconnects

	s, err := session.New(session.Config{
		URL:               cfg.ServerURL,
		Token:             cfg.AuthToken,
		WakeWordEnabled:   cfg.WakeWordEnabled,
		KeepaliveInterval: cfg.KeepaliveInterval,
		Backoff:           backoff,
		Transcript:        store,
		Input:             input,
		InputError:        inputErr,
		Output:            output,
		Processing: audio.NewProcessorConfig().
			WithEchoCancellation(cfg.EchoCancellation).
			WithNoiseSuppression(cfg.NoiseSuppression),
		CaptureDumpPath: cfg.CaptureDump,
		Sink:            newLogSink(os.Stdout, logger),
		Logger:          logger,
	})
	if err != nil {
		store.Close()
		return err
	}

	if cfg.MetricsAddr != "" {
		expvar.Publish("rey", s.Metrics())
		go serveMetrics(ctx, cfg.MetricsAddr, logger)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if readCommands(ctx, os.Stdin, s, logger) {
			cancel()
		}
	}()

	return s.Run(ctx)
}

func serveMetrics(ctx context.Context, addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/debug/vars", expvar.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	logger.Info("Metrics server listening", slog.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Metrics server failed", slog.String("error", err.Error()))
	}
}

// Health is the body of the server's /health response.
type Health struct {
	Status  string `json:"status"`
	Clients int    `json:"clients"`
}

func probeHealth(ctx context.Context, client *http.Client, target string) (Health, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return Health{}, err
	}
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := client.Do(req)
	if err != nil {
		return Health{}, fmt.Errorf("request %s: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Health{}, fmt.Errorf("unexpected status: %s", resp.Status)
	}
	var h Health
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return Health{}, fmt.Errorf("decode health: %w", err)
	}
	return h, nil
}

func init() {
	for _, c := range []*cobra.Command{runCmd, healthzCmd, transcriptShowCmd, transcriptClearCmd} {
		c.Flags().String("url", "", "Rey server WebSocket URL (overrides REY_SERVER_URL)")
		c.Flags().String("data-dir", "", "Directory for persisted state (overrides REY_DATA_DIR)")
		c.Flags().String("store", "", "Transcript store: badger, file or memory")
	}

	runCmd.Flags().String("token", "", "Auth token (overrides REY_AUTH_TOKEN)")
	runCmd.Flags().Bool("wake-word", true, "Enable wake word detection on the server")
	runCmd.Flags().String("dump", "", "Write captured microphone audio to this WAV file")
	runCmd.Flags().String("metrics-addr", "", "Serve expvar metrics on this address")

	healthzCmd.Flags().Duration("timeout", 5*time.Second, "Request timeout")

	transcriptCmd.AddCommand(transcriptShowCmd)
	transcriptCmd.AddCommand(transcriptClearCmd)

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(healthzCmd)
	rootCmd.AddCommand(transcriptCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
