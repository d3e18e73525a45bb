package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"5m"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"0"` // 0: SSE streams must outlive any fixed deadline
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`

	AuthToken   string   `env:"AUTH_TOKEN"`
	LogLevel    string   `env:"LOG_LEVEL" envDefault:"info"`
	CORSOrigins []string `env:"CORS_ORIGINS"` // empty: allow all origins

	// RateLimitRPS of 0 disables per-IP rate limiting.
	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS" envDefault:"0"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST" envDefault:"10"`

	MaxUploadMB    int    `env:"MAX_UPLOAD_MB" envDefault:"256"`
	ScratchDir     string `env:"SCRATCH_DIR"` // empty: system temp
	FFmpegPath     string `env:"FFMPEG_PATH"`
	Workers        int    `env:"WORKERS" envDefault:"4"`
	MaxTrackedRuns int    `env:"MAX_TRACKED_RUNS" envDefault:"100"`

	DefaultBackend  string `env:"DEFAULT_BACKEND" envDefault:"google"`
	DefaultLanguage string `env:"DEFAULT_LANGUAGE" envDefault:"en-US"`

	ChunkLength     time.Duration `env:"CHUNK_LENGTH" envDefault:"30s"`
	SegmentStrategy string        `env:"SEGMENT_STRATEGY" envDefault:"auto"`
	MinSilence      time.Duration `env:"MIN_SILENCE" envDefault:"1s"`
	KeepSilence     time.Duration `env:"KEEP_SILENCE" envDefault:"500ms"`
	SilenceOffsetDB float64       `env:"SILENCE_OFFSET_DB" envDefault:"14"`

	// Backend settings. Zero values fall back to each adapter's defaults.
	GoogleEndpoint    string        `env:"GOOGLE_ENDPOINT"`
	GoogleAPIKey      string        `env:"GOOGLE_API_KEY"`
	GoogleTimeout     time.Duration `env:"GOOGLE_TIMEOUT"`
	GoogleConcurrency int           `env:"GOOGLE_CONCURRENCY"`

	SphinxBin         string        `env:"SPHINX_BIN"`
	SphinxModelDir    string        `env:"SPHINX_MODEL_DIR"`
	SphinxTimeout     time.Duration `env:"SPHINX_TIMEOUT"`
	SphinxConcurrency int           `env:"SPHINX_CONCURRENCY"`

	// Whisper is enabled only when WHISPER_URL is set.
	WhisperURL         string        `env:"WHISPER_URL"`
	WhisperModel       string        `env:"WHISPER_MODEL"`
	WhisperTimeout     time.Duration `env:"WHISPER_TIMEOUT"`
	WhisperConcurrency int           `env:"WHISPER_CONCURRENCY"`
}

// MaxUploadBytes returns the upload limit in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) << 20
}

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile        string
	HTTPAddr       string
	LogLevel       string
	DefaultBackend string
	ScratchDir     string
	WhisperURL     string
}

// Load reads configuration from .env file, environment variables, and CLI
// overrides. Priority: CLI flags > environment variables > .env file >
// struct defaults.
func Load(overrides Overrides) (*Config, error) {
	// Load .env file (silent if missing)
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	// Apply CLI overrides (non-empty values win)
	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.DefaultBackend != "" {
		cfg.DefaultBackend = overrides.DefaultBackend
	}
	if overrides.ScratchDir != "" {
		cfg.ScratchDir = overrides.ScratchDir
	}
	if overrides.WhisperURL != "" {
		cfg.WhisperURL = overrides.WhisperURL
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.SegmentStrategy {
	case "auto", "silence", "fixed":
	default:
		return fmt.Errorf("invalid SEGMENT_STRATEGY %q: want auto, silence, or fixed", c.SegmentStrategy)
	}
	if c.MaxUploadMB < 1 {
		return fmt.Errorf("invalid MAX_UPLOAD_MB %d: must be >= 1", c.MaxUploadMB)
	}
	if c.Workers < 1 {
		return fmt.Errorf("invalid WORKERS %d: must be >= 1", c.Workers)
	}
	if c.RateLimitRPS > 0 && c.RateLimitBurst < 1 {
		return fmt.Errorf("invalid RATE_LIMIT_BURST %d: must be >= 1 when rate limiting is on", c.RateLimitBurst)
	}
	return nil
}
