// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	LLM      LLMConfig      `mapstructure:"llm" yaml:"llm"`
	Remote   RemoteConfig   `mapstructure:"remote" yaml:"remote"`
	Analysis AnalysisConfig `mapstructure:"analysis" yaml:"analysis"`
	Image    ImageConfig    `mapstructure:"image" yaml:"image"`
	History  HistoryConfig  `mapstructure:"history" yaml:"history"`
	Storage  StorageConfig  `mapstructure:"storage" yaml:"storage"`
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Telegram TelegramConfig `mapstructure:"telegram" yaml:"telegram"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig names the terminal color used for each log level.
type ColorConfig struct {
	Debug string `mapstructure:"debug" yaml:"debug"`
	Info  string `mapstructure:"info" yaml:"info"`
	Warn  string `mapstructure:"warn" yaml:"warn"`
	Error string `mapstructure:"error" yaml:"error"`
	Fatal string `mapstructure:"fatal" yaml:"fatal"`
}

// LLMProvider defines the supported model providers.
type LLMProvider string

const (
	ProviderGemini LLMProvider = "gemini"
	ProviderOpenAI LLMProvider = "openai"
)

// LLMConfig configures the generation session backend.
type LLMConfig struct {
	Provider    LLMProvider   `mapstructure:"provider" yaml:"provider"`
	Model       string        `mapstructure:"model" yaml:"model"`
	APIKey      string        `mapstructure:"api_key" yaml:"api_key"`
	Endpoint    string        `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout  time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature float32       `mapstructure:"temperature" yaml:"temperature"`
	TopP        float32       `mapstructure:"top_p" yaml:"top_p"`
	TopK        int           `mapstructure:"top_k" yaml:"top_k"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
}

// RemoteConfig configures the remote prediction endpoint used by the network backend.
type RemoteConfig struct {
	Endpoint          string        `mapstructure:"endpoint" yaml:"endpoint"`
	Timeout           time.Duration `mapstructure:"timeout" yaml:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	Burst             int           `mapstructure:"burst" yaml:"burst"`
}

// Mode selects where insect detection runs.
type Mode string

const (
	ModeLocal   Mode = "local"
	ModeNetwork Mode = "network"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeLocal, ModeNetwork:
		return m, nil
	default:
		return "", fmt.Errorf("unknown analysis mode %q (expected %q or %q)", s, ModeLocal, ModeNetwork)
	}
}

// AnalysisConfig controls the two-phase analysis run. The detection pauses are
// applied between detection and elaboration, per mode.
type AnalysisConfig struct {
	DefaultMode           Mode          `mapstructure:"default_mode" yaml:"default_mode"`
	Streaming             bool          `mapstructure:"streaming" yaml:"streaming"`
	LocalDetectionPause   time.Duration `mapstructure:"local_detection_pause" yaml:"local_detection_pause"`
	NetworkDetectionPause time.Duration `mapstructure:"network_detection_pause" yaml:"network_detection_pause"`
	RunTimeout            time.Duration `mapstructure:"run_timeout" yaml:"run_timeout"`
}

// DetectionPause returns the pacing delay for a mode.
func (a AnalysisConfig) DetectionPause(m Mode) time.Duration {
	if m == ModeNetwork {
		return a.NetworkDetectionPause
	}
	return a.LocalDetectionPause
}

// ImageConfig bounds images before they are sent anywhere.
type ImageConfig struct {
	MaxWidth    int `mapstructure:"max_width" yaml:"max_width"`
	MaxHeight   int `mapstructure:"max_height" yaml:"max_height"`
	JPEGQuality int `mapstructure:"jpeg_quality" yaml:"jpeg_quality"`
}

// HistoryConfig selects and configures the bite history store.
type HistoryConfig struct {
	Backend  string         `mapstructure:"backend" yaml:"backend"`
	Redis    RedisConfig    `mapstructure:"redis" yaml:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres" yaml:"postgres"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite" yaml:"sqlite"`
}

// RedisConfig holds redis connection details.
type RedisConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
	Key      string `mapstructure:"key" yaml:"key"`
}

// PostgresConfig holds the postgres connection string.
type PostgresConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// SQLiteConfig holds the sqlite database path.
type SQLiteConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// StorageConfig selects where captured images are kept.
type StorageConfig struct {
	Backend  string      `mapstructure:"backend" yaml:"backend"`
	LocalDir string      `mapstructure:"local_dir" yaml:"local_dir"`
	MinIO    MinIOConfig `mapstructure:"minio" yaml:"minio"`
}

// MinIOConfig holds S3-compatible object storage settings.
type MinIOConfig struct {
	Endpoint  string `mapstructure:"endpoint" yaml:"endpoint"`
	AccessKey string `mapstructure:"access_key" yaml:"access_key"`
	SecretKey string `mapstructure:"secret_key" yaml:"secret_key"`
	Bucket    string `mapstructure:"bucket" yaml:"bucket"`
	UseSSL    bool   `mapstructure:"use_ssl" yaml:"use_ssl"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Address           string        `mapstructure:"address" yaml:"address"`
	AllowedOrigins    []string      `mapstructure:"allowed_origins" yaml:"allowed_origins"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	MaxUploadBytes    int64         `mapstructure:"max_upload_bytes" yaml:"max_upload_bytes"`
}

// TelegramConfig configures the optional Telegram bot.
type TelegramConfig struct {
	Enabled      bool          `mapstructure:"enabled" yaml:"enabled"`
	Token        string        `mapstructure:"token" yaml:"token"`
	EditInterval time.Duration `mapstructure:"edit_interval" yaml:"edit_interval"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	// Defaults always decode.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// SetDefaults registers every default value on v.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "bitesense")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- LLM --
	v.SetDefault("llm.provider", string(ProviderGemini))
	v.SetDefault("llm.model", "gemini-2.5-flash")
	v.SetDefault("llm.api_timeout", "90s")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.top_p", 0.95)
	v.SetDefault("llm.top_k", 40)
	v.SetDefault("llm.max_tokens", 1024)

	// -- Remote --
	v.SetDefault("remote.endpoint", "")
	v.SetDefault("remote.timeout", "30s")
	v.SetDefault("remote.requests_per_second", 2.0)
	v.SetDefault("remote.burst", 2)

	// -- Analysis --
	v.SetDefault("analysis.default_mode", string(ModeLocal))
	v.SetDefault("analysis.streaming", true)
	v.SetDefault("analysis.local_detection_pause", "1500ms")
	v.SetDefault("analysis.network_detection_pause", "500ms")
	v.SetDefault("analysis.run_timeout", "3m")

	// -- Image --
	v.SetDefault("image.max_width", 1024)
	v.SetDefault("image.max_height", 1024)
	v.SetDefault("image.jpeg_quality", 85)

	// -- History --
	v.SetDefault("history.backend", "memory")
	v.SetDefault("history.redis.addr", "localhost:6379")
	v.SetDefault("history.redis.db", 0)
	v.SetDefault("history.redis.key", "bite_history")
	v.SetDefault("history.sqlite.path", "bitesense.db")

	// -- Storage --
	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.local_dir", "images")
	v.SetDefault("storage.minio.bucket", "bitesense")
	v.SetDefault("storage.minio.use_ssl", true)

	// -- Server --
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.read_header_timeout", "10s")
	v.SetDefault("server.max_upload_bytes", 16<<20)

	// -- Telegram --
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.edit_interval", "1s")
}

// NewConfigFromViper unmarshals and validates the configuration held by v.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Secrets are usually provided through the environment.
	_ = v.BindEnv("llm.api_key", "BITESENSE_LLM_API_KEY")
	_ = v.BindEnv("telegram.token", "BITESENSE_TELEGRAM_TOKEN")
	_ = v.BindEnv("history.postgres.url", "BITESENSE_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if cfg.LLM.APIKey == "" {
		switch cfg.LLM.Provider {
		case ProviderGemini:
			cfg.LLM.APIKey = os.Getenv("GEMINI_API_KEY")
		case ProviderOpenAI:
			cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	return errors.Join(
		c.LLM.Validate(),
		c.Analysis.Validate(),
		c.Image.Validate(),
		c.History.Validate(),
		c.Storage.Validate(),
		c.Telegram.Validate(),
	)
}

// Validate checks the LLM configuration.
func (l *LLMConfig) Validate() error {
	switch l.Provider {
	case ProviderGemini, ProviderOpenAI:
	default:
		return fmt.Errorf("llm.provider %q is not supported (expected %q or %q)", l.Provider, ProviderGemini, ProviderOpenAI)
	}
	if l.Model == "" {
		return fmt.Errorf("llm.model is required")
	}
	if l.APITimeout < 0 {
		return fmt.Errorf("llm.api_timeout must not be negative")
	}
	return nil
}

// Validate checks the analysis configuration.
func (a *AnalysisConfig) Validate() error {
	if _, err := ParseMode(string(a.DefaultMode)); err != nil {
		return fmt.Errorf("analysis.default_mode: %w", err)
	}
	if a.LocalDetectionPause < 0 || a.NetworkDetectionPause < 0 {
		return fmt.Errorf("analysis detection pauses must not be negative")
	}
	return nil
}

// Validate checks the image configuration.
func (i *ImageConfig) Validate() error {
	if i.MaxWidth <= 0 || i.MaxHeight <= 0 {
		return fmt.Errorf("image.max_width and image.max_height must be positive")
	}
	if i.JPEGQuality < 1 || i.JPEGQuality > 100 {
		return fmt.Errorf("image.jpeg_quality must be between 1 and 100")
	}
	return nil
}

// Validate checks the history configuration.
func (h *HistoryConfig) Validate() error {
	switch h.Backend {
	case "memory":
	case "redis":
		if h.Redis.Addr == "" || h.Redis.Key == "" {
			return fmt.Errorf("history.redis.addr and history.redis.key are required")
		}
	case "postgres":
		if h.Postgres.URL == "" {
			return fmt.Errorf("history.postgres.url is required. Ensure BITESENSE_DATABASE_URL is set")
		}
	case "sqlite":
		if h.SQLite.Path == "" {
			return fmt.Errorf("history.sqlite.path is required")
		}
	default:
		return fmt.Errorf("history.backend %q is not supported", h.Backend)
	}
	return nil
}

// Validate checks the image storage configuration.
func (s *StorageConfig) Validate() error {
	switch s.Backend {
	case "local":
		if s.LocalDir == "" {
			return fmt.Errorf("storage.local_dir is required")
		}
	case "minio":
		if s.MinIO.Endpoint == "" || s.MinIO.Bucket == "" {
			return fmt.Errorf("storage.minio.endpoint and storage.minio.bucket are required")
		}
	case "none":
	default:
		return fmt.Errorf("storage.backend %q is not supported", s.Backend)
	}
	return nil
}

// Validate checks the Telegram configuration.
func (t *TelegramConfig) Validate() error {
	if t.Enabled && t.Token == "" {
		return fmt.Errorf("telegram.token is required when the bot is enabled. Ensure BITESENSE_TELEGRAM_TOKEN is set")
	}
	return nil
}
