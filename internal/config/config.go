package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents the complete policylens configuration
// The structure matches the config.yaml file and can be overridden by environment variables
// (POLICYLENS_APP_SERVER_ADDR overrides app.server.addr)

type Config struct {
	App AppConfig `json:"app" mapstructure:"app"`
}

// AppConfig contains the main application configuration

type AppConfig struct {
	Server    ServerConfig    `json:"server" mapstructure:"server"`
	Auth      AuthConfig      `json:"auth" mapstructure:"auth"`
	Log       LogConfig       `json:"log" mapstructure:"log"`
	Database  DatabaseConfig  `json:"database" mapstructure:"database"`
	Storage   StorageConfig   `json:"storage" mapstructure:"storage"`
	Analyzer  AnalyzerConfig  `json:"analyzer" mapstructure:"analyzer"`
	Search    SearchConfig    `json:"search" mapstructure:"search"`
	Dashboard DashboardConfig `json:"dashboard" mapstructure:"dashboard"`
	Audit     AuditConfig     `json:"audit" mapstructure:"audit"`
	Metrics   MetricsConfig   `json:"metrics" mapstructure:"metrics"`
}

// ServerConfig contains server-specific configuration

type ServerConfig struct {
	Addr           string   `json:"addr" mapstructure:"addr"`
	ReadTimeout    string   `json:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout   string   `json:"write_timeout" mapstructure:"write_timeout"`
	MaxUploadBytes int64    `json:"max_upload_bytes" mapstructure:"max_upload_bytes"`
	AllowedOrigins []string `json:"allowed_origins" mapstructure:"allowed_origins"`
}

// AuthConfig maps user ids to bearer tokens (viper lower-cases map keys, so
// tokens live in the values). With no tokens configured any bearer token is
// accepted as DefaultUser.

type AuthConfig struct {
	Tokens      map[string]string `json:"tokens" mapstructure:"tokens"`
	DefaultUser string            `json:"default_user" mapstructure:"default_user"`
	MCPUser     string            `json:"mcp_user" mapstructure:"mcp_user"`
}

type LogConfig struct {
	Level  string `json:"level" mapstructure:"level"`
	Pretty bool   `json:"pretty" mapstructure:"pretty"`
}

// DatabaseConfig selects the document store driver (sqlite3 or postgres)

type DatabaseConfig struct {
	Driver string `json:"driver" mapstructure:"driver"`
	DSN    string `json:"dsn" mapstructure:"dsn"`
}

// StorageConfig contains MinIO configuration for original uploads

type StorageConfig struct {
	Enabled   bool   `json:"enabled" mapstructure:"enabled"`
	Endpoint  string `json:"endpoint" mapstructure:"endpoint"`
	AccessKey string `json:"access_key" mapstructure:"access_key"`
	SecretKey string `json:"secret_key" mapstructure:"secret_key"`
	UseSSL    bool   `json:"use_ssl" mapstructure:"use_ssl"`
	Bucket    string `json:"bucket" mapstructure:"bucket"`
}

// AnalyzerConfig contains the external analysis service configuration

type AnalyzerConfig struct {
	Provider    string `json:"provider" mapstructure:"provider"`
	Endpoint    string `json:"endpoint" mapstructure:"endpoint"`
	APIKey      string `json:"api_key" mapstructure:"api_key"`
	Timeout     string `json:"timeout" mapstructure:"timeout"`
	MaxRetries  int    `json:"max_retries" mapstructure:"max_retries"`
	ChunkWords  int    `json:"chunk_words" mapstructure:"chunk_words"`
	Workers     int    `json:"workers" mapstructure:"workers"`
	QueueSize   int    `json:"queue_size" mapstructure:"queue_size"`
	AutoAnalyze bool   `json:"auto_analyze" mapstructure:"auto_analyze"`
	Heuristics  bool   `json:"heuristics" mapstructure:"heuristics"`
}

type SearchConfig struct {
	Limit        int `json:"limit" mapstructure:"limit"`
	SnippetRunes int `json:"snippet_runes" mapstructure:"snippet_runes"`
}

type DashboardConfig struct {
	RecentDocuments int `json:"recent_documents" mapstructure:"recent_documents"`
}

type AuditConfig struct {
	Path string `json:"path" mapstructure:"path"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Path    string `json:"path" mapstructure:"path"`
}

// Load loads the configuration from file and environment variables
func Load() (*Config, error) {
	// Load .env first (ignore error if not present)
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.policylens")
	v.SetEnvPrefix("POLICYLENS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			log.Println("No config file found, using defaults")
		} else {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.App.Audit.Path = resolvePath(cfg.App.Audit.Path)
	if cfg.App.Database.Driver == "sqlite3" {
		cfg.App.Database.DSN = resolvePath(cfg.App.Database.DSN)
	}
	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("app.server.addr", ":8080")
	v.SetDefault("app.server.read_timeout", "30s")
	v.SetDefault("app.server.write_timeout", "60s")
	v.SetDefault("app.server.max_upload_bytes", 20<<20)
	v.SetDefault("app.server.allowed_origins", []string{"*"})

	v.SetDefault("app.auth.tokens", map[string]string{})
	v.SetDefault("app.auth.default_user", "default")
	v.SetDefault("app.auth.mcp_user", "default")

	v.SetDefault("app.log.level", "info")
	v.SetDefault("app.log.pretty", false)

	v.SetDefault("app.database.driver", "sqlite3")
	v.SetDefault("app.database.dsn", "~/.policylens/policylens.db")

	// MinIO defaults
	v.SetDefault("app.storage.enabled", false)
	v.SetDefault("app.storage.endpoint", "127.0.0.1:9000")
	v.SetDefault("app.storage.access_key", "minioadmin")
	v.SetDefault("app.storage.secret_key", "minioadmin")
	v.SetDefault("app.storage.use_ssl", false)
	v.SetDefault("app.storage.bucket", "policylens-uploads")

	// Analyzer defaults
	v.SetDefault("app.analyzer.provider", "heuristic")
	v.SetDefault("app.analyzer.endpoint", "http://localhost:8000")
	v.SetDefault("app.analyzer.timeout", "120s")
	v.SetDefault("app.analyzer.max_retries", 3)
	v.SetDefault("app.analyzer.chunk_words", 1200)
	v.SetDefault("app.analyzer.workers", 4)
	v.SetDefault("app.analyzer.queue_size", 64)
	v.SetDefault("app.analyzer.auto_analyze", true)
	v.SetDefault("app.analyzer.heuristics", true)

	v.SetDefault("app.search.limit", 20)
	v.SetDefault("app.search.snippet_runes", 300)

	v.SetDefault("app.dashboard.recent_documents", 5)

	v.SetDefault("app.audit.path", "~/.policylens/audit.db")

	v.SetDefault("app.metrics.enabled", true)
	v.SetDefault("app.metrics.path", "/metrics")
}

// Default returns the configuration built from defaults alone, ignoring
// config files and the environment.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("config defaults do not decode: %v", err))
	}
	return &cfg
}

// Duration parses a duration setting, falling back when it is empty or invalid.
func Duration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// resolvePath resolves ~ to home directory and cleans the path
func resolvePath(p string) string {
	if p == "" || p == ":memory:" {
		return p
	}
	if p[0] == '~' {
		home, err := os.UserHomeDir()
		if err == nil {
			p = filepath.Join(home, p[1:])
		}
	}
	return filepath.Clean(p)
}
