package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/d1nch8g/theranotes/audio"
	"github.com/d1nch8g/theranotes/config"
	"github.com/d1nch8g/theranotes/engine"
	"github.com/d1nch8g/theranotes/logging"
	"github.com/d1nch8g/theranotes/metrics"
	"github.com/d1nch8g/theranotes/recorder"
	"github.com/d1nch8g/theranotes/sound"
	"github.com/d1nch8g/theranotes/stt"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "theranotes",
	Short: "Record session notes and send them for transcription",
	Long: `theranotes records audio from the default microphone, lets you play back
and download the take, and submits it to a transcription service.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("theranotes %s\n", version)
	},
}

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Start an interactive recording session",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			return runRecorder(ctx, a, os.Stdin, os.Stdout)
		})
	},
}

var transcribeCmd = &cobra.Command{
	Use:   "transcribe [file]",
	Short: "Submit an existing audio file for transcription",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			entry, err := a.engine.SubmitFile(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Println(entry.Transcript)
			return nil
		})
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check that the transcription service is reachable",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup(cmd)
		if err != nil {
			return err
		}
		defer logger.Sync()

		client, err := stt.NewHTTPClient(stt.HTTPConfig{
			Endpoint: cfg.Transcription.Endpoint,
			Timeout:  10 * time.Second,
		}, logger)
		if err != nil {
			return err
		}
		defer client.Close()

		status, err := client.Health(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("%s: %s\n", status.Service, status.Status)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(transcribeCmd)
	rootCmd.AddCommand(healthCmd)

	recordCmd.Flags().String("format", "", "Recording format (auto|wav)")
	recordCmd.Flags().String("download-dir", "", "Directory for downloaded recordings")

	rootCmd.PersistentFlags().StringP("config", "c", "", "Config file path")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type app struct {
	config  *config.Config
	logger  *zap.Logger
	engine  *engine.Engine
	metrics *metrics.Recorder
	out     io.Writer
}

func setup(cmd *cobra.Command) (*config.Config, *zap.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cmd.Flags().Lookup("format") != nil {
		if format, _ := cmd.Flags().GetString("format"); format != "" {
			cfg.Audio.Format = format
		}
		if dir, _ := cmd.Flags().GetString("download-dir"); dir != "" {
			cfg.DownloadDir = dir
		}
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Development)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// withApp wires the configured components, runs fn and tears everything down
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()
	ctx := cmd.Context()

	provider, handler, err := metrics.Setup(ctx, "theranotes")
	if err != nil {
		return fmt.Errorf("failed to set up metrics: %w", err)
	}
	defer provider.Shutdown(context.Background())

	rec, err := metrics.New(metrics.Meter(provider))
	if err != nil {
		return fmt.Errorf("failed to create instruments: %w", err)
	}

	if cfg.Metrics.Bind != "" {
		server := &http.Server{Addr: cfg.Metrics.Bind, Handler: metricsMux(handler)}
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server stopped", zap.Error(err))
			}
		}()
		defer server.Close()
	}

	transcriber, err := newTranscriber(cfg, logger)
	if err != nil {
		return err
	}

	a := &app{config: cfg, logger: logger, metrics: rec, out: os.Stdout}
	session, err := recorder.NewSession(recorder.Options{
		Source:          audio.NewPortaudioSource(logger),
		Constraints:     cfg.Audio.Constraints(),
		Format:          recorder.Format(cfg.Audio.Format),
		TimerResolution: cfg.Audio.TimerResolutionDuration(),
		Player:          sound.NewPortaudioPlayer(sound.PlayerConfig{FramesPerBuffer: cfg.Playback.FramesPerBuffer}, logger),
		Saver:           recorder.DirSaver{Dir: cfg.DownloadDir},
		Logger:          logger,
		Metrics:         rec,
		OnTick:          a.showElapsed,
	})
	if err != nil {
		transcriber.Close()
		return err
	}

	a.engine = engine.NewEngine(engine.EngineConfig{
		MaxHistorySize: cfg.HistorySize,
		Backend:        cfg.Transcription.Backend,
	}, session, transcriber, logger, rec)
	defer a.engine.Close()

	return fn(ctx, a)
}

func newTranscriber(cfg *config.Config, logger *zap.Logger) (stt.Transcriber, error) {
	switch cfg.Transcription.Backend {
	case "yandex":
		return stt.NewYandexSTTClient(stt.YandexConfig{
			IamToken: cfg.Yandex.IamToken,
			FolderID: cfg.Yandex.FolderID,
			Language: cfg.Yandex.Language,
		}, logger)
	default:
		return stt.NewHTTPClient(stt.HTTPConfig{
			Endpoint:       cfg.Transcription.Endpoint,
			Timeout:        cfg.Transcription.TimeoutDuration(),
			MaxUploadBytes: cfg.Transcription.MaxUploadBytes(),
		}, logger)
	}
}

func metricsMux(handler http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	return mux
}
