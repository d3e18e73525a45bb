package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/snarg/scribe/internal/api"
	"github.com/snarg/scribe/internal/config"
	"github.com/snarg/scribe/internal/media"
	"github.com/snarg/scribe/internal/metrics"
	"github.com/snarg/scribe/internal/pipeline"
	"github.com/snarg/scribe/internal/segment"
	"github.com/snarg/scribe/internal/transcribe"
)

var version = "dev"

func main() {
	startTime := time.Now()

	// Flags; non-empty values override env vars.
	var ov config.Overrides
	flag.StringVar(&ov.EnvFile, "env", "", "path to .env file")
	flag.StringVar(&ov.HTTPAddr, "addr", "", "listen address (overrides HTTP_ADDR)")
	flag.StringVar(&ov.LogLevel, "log-level", "", "log level (overrides LOG_LEVEL)")
	flag.StringVar(&ov.DefaultBackend, "backend", "", "default backend (overrides DEFAULT_BACKEND)")
	flag.StringVar(&ov.ScratchDir, "scratch", "", "scratch directory (overrides SCRATCH_DIR)")
	flag.StringVar(&ov.WhisperURL, "whisper-url", "", "whisper endpoint (overrides WHISPER_URL)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("scribed", version)
		return
	}

	// Config
	cfg, err := config.Load(ov)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	// Logger
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().Str("version", version).Msg("scribed starting")

	// Context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Media normalizer
	mediaLog := log.With().Str("component", "media").Logger()
	normalizer := media.NewNormalizer(cfg.FFmpegPath, mediaLog)
	if !normalizer.Available() {
		log.Warn().Msg("ffmpeg not found; only wav uploads will decode")
	}

	// Backends
	backends, err := buildBackends(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to configure backends")
	}

	// Engine
	engineLog := log.With().Str("component", "engine").Logger()
	engine, err := pipeline.NewEngine(pipeline.EngineOptions{
		Backends:        backends,
		DefaultBackend:  cfg.DefaultBackend,
		DefaultLanguage: cfg.DefaultLanguage,
		Normalizer:      normalizer,
		Segmentation:    segmentOptions(cfg),
		Workers:         cfg.Workers,
		ScratchDir:      cfg.ScratchDir,
		MaxTrackedRuns:  cfg.MaxTrackedRuns,
		Log:             engineLog,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build engine")
	}
	log.Info().Strs("backends", engine.BackendNames()).Str("default", engine.DefaultBackend()).Msg("engine ready")

	prometheus.MustRegister(metrics.NewCollector(engine.Stats()))

	// HTTP Server
	httpLog := log.With().Str("component", "http").Logger()
	srv := api.NewServer(cfg, engine, version, startTime, httpLog)

	// Start HTTP server in background
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	// Wait for shutdown signal or server error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}

	// Graceful shutdown with 10s timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}
	if err := engine.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("engine shutdown error")
	}

	log.Info().Msg("scribed stopped")
}

// buildBackends constructs every backend the config enables. Google and
// sphinx are always available; whisper needs an endpoint URL.
func buildBackends(cfg *config.Config) ([]transcribe.Backend, error) {
	google, err := transcribe.NewGoogleBackend(transcribe.GoogleConfig{
		Endpoint:    cfg.GoogleEndpoint,
		Key:         cfg.GoogleAPIKey,
		Timeout:     cfg.GoogleTimeout,
		Concurrency: cfg.GoogleConcurrency,
	})
	if err != nil {
		return nil, fmt.Errorf("google: %w", err)
	}

	sphinx, err := transcribe.NewSphinxBackend(transcribe.SphinxConfig{
		Bin:         cfg.SphinxBin,
		ModelDir:    cfg.SphinxModelDir,
		Timeout:     cfg.SphinxTimeout,
		Concurrency: cfg.SphinxConcurrency,
	})
	if err != nil {
		return nil, fmt.Errorf("sphinx: %w", err)
	}

	backends := []transcribe.Backend{google, sphinx}

	if cfg.WhisperURL != "" {
		whisper, err := transcribe.NewWhisperBackend(transcribe.WhisperConfig{
			URL:         cfg.WhisperURL,
			Model:       cfg.WhisperModel,
			Timeout:     cfg.WhisperTimeout,
			Concurrency: cfg.WhisperConcurrency,
		})
		if err != nil {
			return nil, fmt.Errorf("whisper: %w", err)
		}
		backends = append(backends, whisper)
	}

	return backends, nil
}

func segmentOptions(cfg *config.Config) segment.Options {
	return segment.Options{
		Strategy:        segment.Strategy(cfg.SegmentStrategy),
		ChunkLength:     segment.ClampChunkLength(cfg.ChunkLength),
		MinSilence:      cfg.MinSilence,
		KeepSilence:     cfg.KeepSilence,
		SilenceOffsetDB: cfg.SilenceOffsetDB,
	}
}
