// Package config loads the settings of the example program from the
// environment, optionally seeded by a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"

	"github.com/derektruong/rxfer/internal/integrity"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const prefix = "RXFER"

// Config struct for environment variables.
type Config struct {
	// Identity is the identity the transfers are scoped to
	Identity string `envconfig:"IDENTITY" required:"true"`

	// Endpoint is one of local or s3
	Endpoint  string `envconfig:"ENDPOINT" default:"local"`
	LocalRoot string `envconfig:"LOCAL_ROOT" default:"./remote"`

	S3 struct {
		Endpoint     string `split_words:"true"`
		BucketName   string `split_words:"true"`
		Region       string `split_words:"true" default:"us-east-1"`
		AccessKey    string `split_words:"true"`
		SecretKey    string `split_words:"true"`
		UsePathStyle bool   `split_words:"true" default:"true"`
	}

	// Store is one of badger, sqlite or file
	Store    string `envconfig:"STORE" default:"badger"`
	StateDir string `envconfig:"STATE_DIR" default:"./state"`

	ChunkSize uint32  `envconfig:"CHUNK_SIZE" default:"5242880"`
	Checksum  string  `envconfig:"CHECKSUM" default:"crc32"`
	RateLimit float64 `envconfig:"RATE_LIMIT" default:"0"`
	LogLevel  string  `envconfig:"LOG_LEVEL" default:"INFO"`
}

// LoadConfig reads the .env files, if any, then the RXFER_ prefixed
// environment variables.
func LoadConfig(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error loading env file: %w", err)
	}

	var cfg Config
	if err := envconfig.Process(prefix, &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}
	cfg.Endpoint = strings.ToLower(cfg.Endpoint)
	cfg.Store = strings.ToLower(cfg.Store)
	if _, err := cfg.ChecksumAlgorithm(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ChecksumAlgorithm parses Checksum.
func (c *Config) ChecksumAlgorithm() (integrity.Algorithm, error) {
	switch strings.ToLower(c.Checksum) {
	case "crc32", "":
		return integrity.CRC32, nil
	case "md5":
		return integrity.MD5, nil
	case "sha256":
		return integrity.SHA256, nil
	case "xxhash64", "xxh64":
		return integrity.XXHash64, nil
	}
	return 0, fmt.Errorf("unknown checksum algorithm %q", c.Checksum)
}
