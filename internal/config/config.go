package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL     string `env:"DB_URL,required"`
	UpstreamBaseURL string `env:"UPSTREAM_BASE_URL,required"`

	// SERVICE_KEY guards the HTTP API (bearer token). Empty disables auth —
	// only sensible behind a trusted proxy.
	ServiceKey string `env:"SERVICE_KEY"`

	// ENCRYPTION_KEY is 32 bytes, hex encoded: AES-256-GCM for upstream
	// credential secrets.
	EncryptionKey string `env:"ENCRYPTION_KEY,required"`

	UploadDir string `env:"UPLOAD_DIR" envDefault:"./uploads"`

	LaughterThreshold float64       `env:"LAUGHTER_THRESHOLD" envDefault:"0.3"`
	ClipDuration      time.Duration `env:"CLIP_DURATION" envDefault:"4s"`
	ChunkMinutes      int           `env:"CHUNK_MINUTES" envDefault:"30"`
	NightlyUTC        string        `env:"NIGHTLY_UTC" envDefault:"09:00"`
	VerboseLogs       bool          `env:"VERBOSE_LOGS" envDefault:"false"`

	ClassifierURL     string        `env:"CLASSIFIER_URL" envDefault:"http://127.0.0.1:9977"`
	ClassifierTimeout time.Duration `env:"CLASSIFIER_TIMEOUT" envDefault:"120s"`
	FFmpegPath        string        `env:"FFMPEG_PATH" envDefault:"ffmpeg"`

	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	S3 S3Config
}

// S3Config enables optional clip archival to an S3-compatible store.
// Disabled unless Bucket is set; local disk stays the source of truth.
type S3Config struct {
	Endpoint      string        `env:"S3_ENDPOINT"`
	Region        string        `env:"S3_REGION" envDefault:"us-east-1"`
	Bucket        string        `env:"S3_BUCKET"`
	Prefix        string        `env:"S3_PREFIX" envDefault:"clips"`
	AccessKey     string        `env:"S3_ACCESS_KEY"`
	SecretKey     string        `env:"S3_SECRET_KEY"`
	PresignExpiry time.Duration `env:"S3_PRESIGN_EXPIRY" envDefault:"1h"`
}

func (s S3Config) Enabled() bool { return s.Bucket != "" }

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile     string
	HTTPAddr    string
	LogLevel    string
	DatabaseURL string
	UploadDir   string
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

	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.DatabaseURL != "" {
		cfg.DatabaseURL = overrides.DatabaseURL
	}
	if overrides.UploadDir != "" {
		cfg.UploadDir = overrides.UploadDir
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	// All stored file paths are absolute; anchor the upload root once here
	// instead of resolving per call site.
	abs, err := filepath.Abs(cfg.UploadDir)
	if err != nil {
		return nil, fmt.Errorf("resolve upload dir: %w", err)
	}
	cfg.UploadDir = abs

	return cfg, nil
}

func (c *Config) validate() error {
	key, err := hex.DecodeString(c.EncryptionKey)
	if err != nil {
		return fmt.Errorf("ENCRYPTION_KEY is not valid hex: %w", err)
	}
	if len(key) != 32 {
		return fmt.Errorf("ENCRYPTION_KEY must decode to 32 bytes, got %d", len(key))
	}
	if c.ChunkMinutes <= 0 {
		return fmt.Errorf("CHUNK_MINUTES must be positive, got %d", c.ChunkMinutes)
	}
	if c.LaughterThreshold <= 0 || c.LaughterThreshold > 1 {
		return fmt.Errorf("LAUGHTER_THRESHOLD must be in (0, 1], got %v", c.LaughterThreshold)
	}
	if _, err := ParseNightly(c.NightlyUTC); err != nil {
		return err
	}
	return nil
}

// EncryptionKeyBytes returns the decoded 32-byte key. Call after Load.
func (c *Config) EncryptionKeyBytes() []byte {
	key, _ := hex.DecodeString(c.EncryptionKey)
	return key
}

// ChunkSize returns the chunk duration for the time chunker.
func (c *Config) ChunkSize() time.Duration {
	return time.Duration(c.ChunkMinutes) * time.Minute
}

// ParseNightly parses an "HH:MM" UTC wall-clock time.
func ParseNightly(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("NIGHTLY_UTC must be HH:MM, got %q", s)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}
