package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/glebk/draw-bot/internal/audio"
	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	TelegramToken string `env:"TELEGRAM_BOT_TOKEN"`
	DatabasePath  string `env:"DATABASE_PATH" envDefault:"./draw_bot.db"`
	// DatabaseURL selects PostgreSQL instead of the SQLite file when set
	DatabaseURL string `env:"DATABASE_URL"`
	HTTPAddr    string `env:"HTTP_ADDR" envDefault:":8080"`

	GlobalLedger bool `env:"GLOBAL_LEDGER" envDefault:"true"`
	// LedgerPruneInterval of 0 disables pruning of expired global cooldowns
	LedgerPruneInterval time.Duration `env:"LEDGER_PRUNE_INTERVAL" envDefault:"1h"`

	Audio AudioConfig
}

// AudioConfig locates participant sounds in an S3-compatible bucket
type AudioConfig struct {
	Bucket          string        `env:"AUDIO_BUCKET"`
	Endpoint        string        `env:"AUDIO_ENDPOINT"`
	Region          string        `env:"AUDIO_REGION" envDefault:"auto"`
	AccessKeyID     string        `env:"AUDIO_ACCESS_KEY_ID"`
	SecretAccessKey string        `env:"AUDIO_SECRET_ACCESS_KEY"`
	URLTTL          time.Duration `env:"AUDIO_URL_TTL" envDefault:"15m"`
}

// Load loads configuration from the environment, reading a .env file first if present
func Load() (*Config, error) {
	// Try to load .env file (ignore error if not exists)
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that the configuration can start at least one transport
func (c *Config) Validate() error {
	if c.TelegramToken == "" && c.HTTPAddr == "" {
		return errors.New("either TELEGRAM_BOT_TOKEN or HTTP_ADDR must be set")
	}
	if c.DatabaseURL == "" && c.DatabasePath == "" {
		return errors.New("either DATABASE_URL or DATABASE_PATH must be set")
	}
	if c.LedgerPruneInterval < 0 {
		return fmt.Errorf("LEDGER_PRUNE_INTERVAL must not be negative, got %s", c.LedgerPruneInterval)
	}
	if c.Audio.Enabled() && (c.Audio.AccessKeyID == "" || c.Audio.SecretAccessKey == "") {
		return errors.New("AUDIO_BUCKET requires AUDIO_ACCESS_KEY_ID and AUDIO_SECRET_ACCESS_KEY")
	}
	return nil
}

// UsePostgres reports whether DATABASE_URL selects the PostgreSQL store
func (c *Config) UsePostgres() bool {
	return c.DatabaseURL != ""
}

// Enabled reports whether audio references should be presigned
func (a AudioConfig) Enabled() bool {
	return a.Bucket != ""
}

// Presigner converts the settings for the audio package
func (a AudioConfig) Presigner() audio.Config {
	return audio.Config{
		Bucket:          a.Bucket,
		Endpoint:        a.Endpoint,
		Region:          a.Region,
		AccessKeyID:     a.AccessKeyID,
		SecretAccessKey: a.SecretAccessKey,
		URLTTL:          a.URLTTL,
	}
}
