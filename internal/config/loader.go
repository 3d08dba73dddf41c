package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/inkvoice/inkvoice/pkg/types"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Load reads and parses the configuration file.
// A .env file next to the working directory is loaded first (if present),
// then IV_-prefixed environment variables override individual fields.
func Load(configPath string) (*types.Config, error) {
	// Best effort; a missing .env is not an error
	_ = godotenv.Load()

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg types.Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyEnvOverrides(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate checks the configuration and fills in pipeline defaults
func Validate(cfg *types.Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}

	if cfg.Storage.Adapter != "local" && cfg.Storage.Adapter != "s3" {
		return fmt.Errorf("invalid storage adapter: %s (must be 'local' or 's3')", cfg.Storage.Adapter)
	}

	if cfg.Storage.Adapter == "local" {
		if cfg.Storage.Local.BasePath == "" {
			return fmt.Errorf("local storage base_path is required")
		}
		if !filepath.IsAbs(cfg.Storage.Local.BasePath) {
			return fmt.Errorf("local storage base_path must be absolute: %s", cfg.Storage.Local.BasePath)
		}
	}

	if cfg.Storage.Adapter == "s3" {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("s3 bucket is required")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("s3 region is required")
		}
	}

	if cfg.TTS.DefaultProvider == "" && len(cfg.TTS.Providers) > 0 {
		cfg.TTS.DefaultProvider = cfg.TTS.Providers[0].Name
	}

	applyPipelineDefaults(&cfg.Pipeline)

	return nil
}

func applyPipelineDefaults(p *types.PipelineConfig) {
	if p.WorkerPoolSize <= 0 {
		p.WorkerPoolSize = 4
	}
	if p.MaxRetries <= 0 {
		p.MaxRetries = 3
	}
	if p.RetryBackoffMs <= 0 {
		p.RetryBackoffMs = 1000
	}
	if p.SynthesisTimeoutSec <= 0 {
		p.SynthesisTimeoutSec = 120
	}
	if p.MaxChunkChars <= 0 {
		p.MaxChunkChars = 1000
	}
	if p.MaxTextChars <= 0 {
		p.MaxTextChars = 2_000_000
	}
	if p.ChapterMinutes <= 0 {
		p.ChapterMinutes = 8.0
	}
	if p.DriftEpsilonMs <= 0 {
		p.DriftEpsilonMs = 50
	}
	if p.TempDir == "" {
		p.TempDir = filepath.Join(os.TempDir(), "inkvoice")
	}
}

// applyEnvOverrides applies environment variable overrides.
// Environment variables are prefixed with IV_.
func applyEnvOverrides(cfg *types.Config) {
	if val := os.Getenv("IV_SERVER_HOST"); val != "" {
		cfg.Server.Host = val
	}
	if val := os.Getenv("IV_SERVER_PORT"); val != "" {
		fmt.Sscanf(val, "%d", &cfg.Server.Port)
	}

	if val := os.Getenv("IV_STORAGE_ADAPTER"); val != "" {
		cfg.Storage.Adapter = val
	}
	if val := os.Getenv("IV_STORAGE_LOCAL_BASE_PATH"); val != "" {
		cfg.Storage.Local.BasePath = val
	}
	if val := os.Getenv("IV_STORAGE_S3_BUCKET"); val != "" {
		cfg.Storage.S3.Bucket = val
	}
	if val := os.Getenv("IV_STORAGE_S3_REGION"); val != "" {
		cfg.Storage.S3.Region = val
	}
	if val := os.Getenv("IV_STORAGE_S3_ENDPOINT"); val != "" {
		cfg.Storage.S3.Endpoint = val
	}
	if val := os.Getenv("IV_STORAGE_S3_ACCESS_KEY_ID"); val != "" {
		cfg.Storage.S3.AccessKeyID = val
	}
	if val := os.Getenv("IV_STORAGE_S3_SECRET_ACCESS_KEY"); val != "" {
		cfg.Storage.S3.SecretAccessKey = val
	}

	// Per-provider API key / endpoint overrides, e.g. IV_TTS_OPENAI_API_KEY
	for i := range cfg.TTS.Providers {
		prefix := fmt.Sprintf("IV_TTS_%s_", strings.ToUpper(cfg.TTS.Providers[i].Name))
		if val := os.Getenv(prefix + "API_KEY"); val != "" {
			cfg.TTS.Providers[i].APIKey = val
		}
		if val := os.Getenv(prefix + "ENDPOINT"); val != "" {
			cfg.TTS.Providers[i].Endpoint = val
		}
	}
}

// GetDefault returns a default configuration
func GetDefault() *types.Config {
	cfg := &types.Config{
		Server: types.ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  15,
			WriteTimeout: 15,
		},
		Storage: types.StorageConfig{
			Adapter: "local",
			Local: types.LocalStorageOpts{
				BasePath: "/var/lib/inkvoice/storage",
			},
		},
		Logging: types.LoggingConfig{
			Level: "info",
		},
	}
	applyPipelineDefaults(&cfg.Pipeline)
	return cfg
}
