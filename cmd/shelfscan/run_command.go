package main

import (
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"shelfscan/internal/config"
	"shelfscan/internal/drivers"
	"shelfscan/internal/drivers/jsonfeed"
	"shelfscan/internal/handlers"
	"shelfscan/internal/jobstore"
	"shelfscan/internal/llm"
	"shelfscan/internal/logging"
	"shelfscan/internal/match"
	"shelfscan/internal/media/barcode"
	"shelfscan/internal/media/ffprobe"
	"shelfscan/internal/media/frames"
	"shelfscan/internal/media/scenes"
	"shelfscan/internal/recognition"
	"shelfscan/internal/retry"
	"shelfscan/internal/sentiment"
	"shelfscan/internal/transcribe"
	"shelfscan/internal/visioncache"
	"shelfscan/internal/worker"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var logLevel string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the worker dispatcher loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if logLevel != "" {
				cfg.Logging.Level = logLevel
			}

			signalCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			dispatcher, cleanup, err := buildDispatcher(cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			return dispatcher.Run(signalCtx)
		},
	}

	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override the configured log level")
	return cmd
}

// buildDispatcher wires the full pipeline from configuration. The returned
// cleanup closes resources the dispatcher holds open.
func buildDispatcher(cfg *config.Config) (*worker.Dispatcher, func(), error) {
	cleanup := func() {}

	logger, err := logging.New(logging.Options{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout", filepath.Join(cfg.Paths.LogDir, workerLogName)},
	})
	if err != nil {
		return nil, cleanup, fmt.Errorf("build logger: %w", err)
	}

	store := jobstore.NewClient(
		cfg.JobStore.BaseURL,
		cfg.JobStore.AuthToken,
		time.Duration(cfg.JobStore.TimeoutSeconds)*time.Second,
	)

	model := llm.NewClient(llm.Config{
		APIKey:         cfg.LLM.APIKey,
		BaseURL:        cfg.LLM.BaseURL,
		Model:          cfg.LLM.Model,
		Referer:        cfg.LLM.Referer,
		Title:          cfg.LLM.Title,
		TimeoutSeconds: cfg.LLM.TimeoutSeconds,
	})

	var cache *visioncache.Cache
	if cfg.Cache.Enabled {
		cache, err = visioncache.Open(cfg.Cache.Path)
		if err != nil {
			return nil, cleanup, fmt.Errorf("open vision cache: %w", err)
		}
		cleanup = func() { _ = cache.Close() }
	}

	registry := drivers.NewRegistry()
	registry.Register(jsonfeed.New(jsonfeed.WithRetryPolicy(retry.Default())))

	matcher := match.New(store, model, logger)

	scanner := barcode.NewScanner(cfg.Media.BarcodeBinary)
	analyzer, err := recognition.NewAnalyzer(scanner, model, cfg.LLM.Model, cache, cfg.Media.ClusterThreshold, logger)
	if err != nil {
		return nil, cleanup, fmt.Errorf("build recognition analyzer: %w", err)
	}

	detector, err := scenes.NewDetector(cfg.Media.FFmpegBinary, cfg.Media.SceneThreshold)
	if err != nil {
		return nil, cleanup, fmt.Errorf("build scene detector: %w", err)
	}

	videoHandler := handlers.NewVideoHandler(handlers.VideoHandlerConfig{
		Store:       store,
		Prober:      ffprobe.NewProber(cfg.Media.FFprobeBinary),
		Detector:    detector,
		Frames:      frames.NewExtractor(cfg.Media.FFmpegBinary),
		Analyzer:    analyzer,
		Transcriber: transcribe.NewTranscriber(cfg.Media.WhisperBinary, cfg.Media.WhisperModel, logger),
		Corrector:   transcribe.NewCorrector(model, logger),
		Sentiments:  sentiment.NewAnalyzer(model, logger),
		WorkDir:     cfg.Paths.WorkDir,
		Retry:       retry.Default(),
		Logger:      logger,
	})

	handlerRegistry, err := handlers.NewRegistry(
		handlers.NewDiscoverHandler(store, registry, logger),
		handlers.NewCrawlHandler(store, registry, matcher, logger),
		videoHandler,
		handlers.NewIngredientsHandler(matcher, logger),
	)
	if err != nil {
		return nil, cleanup, fmt.Errorf("build handler registry: %w", err)
	}

	dispatcher, err := worker.New(worker.NewStore(store), handlerRegistry, worker.Options{
		WorkerID:          cfg.Worker.ID,
		LeaseSeconds:      cfg.Worker.HeartbeatInterval * 4,
		PollInterval:      time.Duration(cfg.Worker.PollInterval) * time.Second,
		HeartbeatInterval: time.Duration(cfg.Worker.HeartbeatInterval) * time.Second,
		ErrorBackoff:      time.Duration(cfg.Worker.ErrorRetryInterval) * time.Second,
		ErrorBackoffMax:   time.Duration(cfg.Worker.ErrorRetryMax) * time.Second,
		LockPath:          filepath.Join(cfg.Paths.WorkDir, "shelfscan.lock"),
		Logger:            logger,
	})
	if err != nil {
		return nil, cleanup, fmt.Errorf("build dispatcher: %w", err)
	}
	return dispatcher, cleanup, nil
}
