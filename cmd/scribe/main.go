// Command scribe transcribes a local audio or video file and writes the
// plain, timestamped, and SubRip renderings next to it.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"
	"github.com/snarg/scribe/internal/config"
	"github.com/snarg/scribe/internal/media"
	"github.com/snarg/scribe/internal/pipeline"
	"github.com/snarg/scribe/internal/segment"
	"github.com/snarg/scribe/internal/transcribe"
	"github.com/snarg/scribe/internal/transcript"
)

var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	var ov config.Overrides
	flag.StringVar(&ov.EnvFile, "env", "", "path to .env file")
	flag.StringVar(&ov.DefaultBackend, "backend", "", "backend: google, sphinx, or whisper (overrides DEFAULT_BACKEND)")
	flag.StringVar(&ov.ScratchDir, "scratch", "", "scratch directory (overrides SCRATCH_DIR)")
	flag.StringVar(&ov.WhisperURL, "whisper-url", "", "whisper endpoint (overrides WHISPER_URL)")
	flag.StringVar(&ov.LogLevel, "log-level", "", "log level (overrides LOG_LEVEL)")
	language := flag.String("language", "", "language tag, or auto where the backend detects it")
	task := flag.String("task", "", "transcribe or translate")
	chunk := flag.Float64("chunk", 0, "chunk length in seconds (10-60)")
	strategy := flag.String("strategy", "", "segmentation strategy: auto, silence, or fixed")
	outDir := flag.String("o", "", "output directory (default: alongside the input)")
	workers := flag.Int("workers", 0, "parallel segment workers")
	ffmpegPath := flag.String("ffmpeg", "", "ffmpeg binary path")
	listBackends := flag.Bool("backends", false, "list configured backends and exit")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("scribe", version)
		return 0
	}

	cfg, err := config.Load(ov)
	if err != nil {
		fmt.Fprintf(os.Stderr, "scribe: %v\n", err)
		return 1
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger().Level(level)

	if *listBackends {
		return printBackends(cfg)
	}

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: scribe [flags] <audio or video file>")
		flag.PrintDefaults()
		return 2
	}
	input := flag.Arg(0)

	if *chunk != 0 {
		min := segment.MinChunkLength.Seconds()
		max := segment.MaxChunkLength.Seconds()
		if *chunk < min || *chunk > max {
			fmt.Fprintf(os.Stderr, "scribe: -chunk must be between %.0f and %.0f seconds\n", min, max)
			return 2
		}
		cfg.ChunkLength = time.Duration(*chunk * float64(time.Second))
	}
	if *strategy != "" {
		switch segment.Strategy(*strategy) {
		case segment.StrategyAuto, segment.StrategySilence, segment.StrategyFixed:
			cfg.SegmentStrategy = *strategy
		default:
			fmt.Fprintf(os.Stderr, "scribe: unknown strategy %q (want auto, silence, or fixed)\n", *strategy)
			return 2
		}
	}
	if *workers > 0 {
		cfg.Workers = *workers
	}
	if *ffmpegPath != "" {
		cfg.FFmpegPath = *ffmpegPath
	}

	backend, err := buildBackend(cfg, cfg.DefaultBackend)
	if err != nil {
		fmt.Fprintf(os.Stderr, "scribe: %v\n", err)
		return 1
	}

	lang := *language
	if lang == "" {
		lang = cfg.DefaultLanguage
	}
	taskVal := transcribe.Task(*task)
	if taskVal == "" {
		taskVal = transcribe.TaskTranscribe
	}

	raw, err := os.ReadFile(input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "scribe: %v\n", err)
		return 1
	}
	detected := mimetype.Detect(raw)

	var bar *progressbar.ProgressBar
	orch, err := pipeline.New(pipeline.Options{
		Backend: backend,
		Opts: transcribe.Opts{
			Language: lang,
			Task:     taskVal,
		},
		Segmentation: segment.Options{
			Strategy:        segment.Strategy(cfg.SegmentStrategy),
			ChunkLength:     segment.ClampChunkLength(cfg.ChunkLength),
			MinSilence:      cfg.MinSilence,
			KeepSilence:     cfg.KeepSilence,
			SilenceOffsetDB: cfg.SilenceOffsetDB,
		},
		Workers:    cfg.Workers,
		ScratchDir: cfg.ScratchDir,
		Normalizer: media.NewNormalizer(cfg.FFmpegPath, log),
		OnProgress: func(completed, total int) {
			if bar == nil {
				bar = progressbar.NewOptions(
					total,
					progressbar.OptionSetDescription(fmt.Sprintf("transcribing %s", filepath.Base(input))),
					progressbar.OptionShowBytes(false),
					progressbar.OptionClearOnFinish(),
				)
			}
			if err := bar.Set(completed); err != nil {
				log.Debug().Err(err).Int("completed", completed).Msg("progress bar update failed")
			}
		},
		Log: log,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "scribe: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	t, err := orch.RunBytes(ctx, raw, input)
	if bar != nil {
		_ = bar.Finish()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "scribe: %s stage failed: %v\n", pipeline.FailureStage(err), err)
		return 1
	}

	fmt.Printf("file:      %s (%s, %s)\n", filepath.Base(input), detected.String(), byteSize(int64(len(raw))))
	fmt.Printf("backend:   %s\n", t.Backend)
	if t.Language != "" {
		fmt.Printf("language:  %s\n", t.Language)
	}
	fmt.Printf("duration:  %s\n", transcript.FormatTimestamp(t.Duration))
	fmt.Printf("chunks:    %d\n", len(t.Units))
	fmt.Printf("words:     %d\n", t.WordCount())
	fmt.Printf("elapsed:   %s\n", t.Elapsed.Round(time.Millisecond))

	dir := filepath.Dir(input)
	if *outDir != "" {
		dir = *outDir
		if err := os.MkdirAll(dir, 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "scribe: %v\n", err)
			return 1
		}
	}
	base := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))

	outputs := []struct {
		path string
		body string
	}{
		{filepath.Join(dir, base+".txt"), t.Plain()},
		{filepath.Join(dir, base+".timestamps.txt"), t.Timestamped()},
		{filepath.Join(dir, base+".srt"), t.SRT()},
	}
	for _, o := range outputs {
		if err := os.WriteFile(o.path, []byte(o.body), 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "scribe: %v\n", err)
			return 1
		}
		fmt.Printf("wrote %s\n", o.path)
	}
	return 0
}

// buildBackend constructs the one backend this invocation uses.
func buildBackend(cfg *config.Config, name string) (transcribe.Backend, error) {
	switch name {
	case "google":
		return transcribe.NewGoogleBackend(transcribe.GoogleConfig{
			Endpoint:    cfg.GoogleEndpoint,
			Key:         cfg.GoogleAPIKey,
			Timeout:     cfg.GoogleTimeout,
			Concurrency: cfg.GoogleConcurrency,
		})
	case "sphinx":
		return transcribe.NewSphinxBackend(transcribe.SphinxConfig{
			Bin:         cfg.SphinxBin,
			ModelDir:    cfg.SphinxModelDir,
			Timeout:     cfg.SphinxTimeout,
			Concurrency: cfg.SphinxConcurrency,
		})
	case "whisper":
		if cfg.WhisperURL == "" {
			return nil, fmt.Errorf("whisper backend needs -whisper-url or WHISPER_URL")
		}
		return transcribe.NewWhisperBackend(transcribe.WhisperConfig{
			URL:         cfg.WhisperURL,
			Model:       cfg.WhisperModel,
			Timeout:     cfg.WhisperTimeout,
			Concurrency: cfg.WhisperConcurrency,
		})
	default:
		return nil, fmt.Errorf("unknown backend %q (available: google, sphinx, whisper)", name)
	}
}

func printBackends(cfg *config.Config) int {
	names := []string{"google", "sphinx"}
	if cfg.WhisperURL != "" {
		names = append(names, "whisper")
	}
	for _, name := range names {
		b, err := buildBackend(cfg, name)
		if err != nil {
			fmt.Fprintf(os.Stderr, "scribe: %v\n", err)
			return 1
		}
		caps := b.Capabilities()
		langs := "any"
		if len(caps.Languages) > 0 {
			langs = strings.Join(caps.Languages, ",")
		}
		marker := " "
		if name == cfg.DefaultBackend {
			marker = "*"
		}
		fmt.Printf("%s %-8s languages=%-8s auto-detect=%-5t translate=%-5t concurrency=%d",
			marker, name, langs, caps.AutoDetect, caps.Translate, caps.Concurrency)
		if caps.Note != "" {
			fmt.Printf("  (%s)", caps.Note)
		}
		fmt.Println()
	}
	if cfg.WhisperURL == "" {
		fmt.Println("  whisper  disabled (set -whisper-url or WHISPER_URL)")
	}
	return 0
}

func byteSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
