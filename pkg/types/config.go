package types

// Config represents the overall application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server" json:"server"`
	Storage  StorageConfig  `yaml:"storage" json:"storage"`
	TTS      TTSConfig      `yaml:"tts" json:"tts"`
	Pipeline PipelineConfig `yaml:"pipeline" json:"pipeline"`
	Logging  LoggingConfig  `yaml:"logging" json:"logging"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host         string `yaml:"host" json:"host"`
	Port         int    `yaml:"port" json:"port"`
	ReadTimeout  int    `yaml:"read_timeout" json:"read_timeout"`   // seconds
	WriteTimeout int    `yaml:"write_timeout" json:"write_timeout"` // seconds
}

// StorageConfig defines storage adapter settings
type StorageConfig struct {
	Adapter string           `yaml:"adapter" json:"adapter"` // "local" or "s3"
	Local   LocalStorageOpts `yaml:"local" json:"local"`
	S3      S3StorageOpts    `yaml:"s3" json:"s3"`
}

// LocalStorageOpts holds local filesystem storage settings
type LocalStorageOpts struct {
	BasePath string `yaml:"base_path" json:"base_path"`
}

// S3StorageOpts holds S3-compatible storage settings
type S3StorageOpts struct {
	Endpoint        string `yaml:"endpoint" json:"endpoint"`
	Region          string `yaml:"region" json:"region"`
	Bucket          string `yaml:"bucket" json:"bucket"`
	AccessKeyID     string `yaml:"access_key_id" json:"-"`
	SecretAccessKey string `yaml:"secret_access_key" json:"-"`
	UseSSL          bool   `yaml:"use_ssl" json:"use_ssl"`
}

// TTSConfig selects and configures the synthesis providers
type TTSConfig struct {
	DefaultProvider string              `yaml:"default_provider" json:"default_provider"`
	DefaultVoice    string              `yaml:"default_voice" json:"default_voice"`
	Providers       []TTSProviderConfig `yaml:"providers" json:"providers"`
}

// TTSProviderConfig holds settings for a single TTS provider
type TTSProviderConfig struct {
	Name     string            `yaml:"name" json:"name"`
	Type     string            `yaml:"type" json:"type"` // "openai", "edge", "stub"
	Enabled  bool              `yaml:"enabled" json:"enabled"`
	Endpoint string            `yaml:"endpoint" json:"endpoint"`
	APIKey   string            `yaml:"api_key" json:"-"`
	Format   string            `yaml:"format" json:"format"` // audio container the provider emits
	Options  map[string]string `yaml:"options" json:"options"`
}

// PipelineConfig tunes the generation pipeline
type PipelineConfig struct {
	WorkerPoolSize      int     `yaml:"worker_pool_size" json:"worker_pool_size"`
	MaxRetries          int     `yaml:"max_retries" json:"max_retries"`
	RetryBackoffMs      int     `yaml:"retry_backoff_ms" json:"retry_backoff_ms"`
	SynthesisTimeoutSec int     `yaml:"synthesis_timeout_sec" json:"synthesis_timeout_sec"`
	MaxChunkChars       int     `yaml:"max_chunk_chars" json:"max_chunk_chars"`
	MaxTextChars        int     `yaml:"max_text_chars" json:"max_text_chars"`
	ChapterMinutes      float64 `yaml:"chapter_minutes" json:"chapter_minutes"`
	DriftEpsilonMs      int     `yaml:"drift_epsilon_ms" json:"drift_epsilon_ms"`
	TempDir             string  `yaml:"temp_dir" json:"temp_dir"`
}

// LoggingConfig holds structured logging settings
type LoggingConfig struct {
	Level      string `yaml:"level" json:"level"` // debug, info, warn, error
	File       string `yaml:"file" json:"file"`   // empty disables file output
	MaxSizeMB  int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" json:"max_age_days"`
	Compress   bool   `yaml:"compress" json:"compress"`
}
