// Package config loads settings from defaults, a YAML file and MEMORY_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Store               StoreConfig     `yaml:"store" mapstructure:"store"`
	Embed               EmbedConfig     `yaml:"embed" mapstructure:"embed"`
	API                 APIConfig       `yaml:"api" mapstructure:"api"`
	Log                 LogConfig       `yaml:"log" mapstructure:"log"`
	Telemetry           TelemetryConfig `yaml:"telemetry" mapstructure:"telemetry"`
	MaxTextLength       int             `yaml:"max_text_length" mapstructure:"max_text_length"`
	SimilarityThreshold float64         `yaml:"similarity_threshold" mapstructure:"similarity_threshold"`
	DefaultLimit        int             `yaml:"default_limit" mapstructure:"default_limit"`
}

type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	Path        string `yaml:"path" mapstructure:"path"`
	DSN         string `yaml:"dsn" mapstructure:"dsn"`
	BusyTimeout int    `yaml:"busy_timeout" mapstructure:"busy_timeout"`
}

type EmbedConfig struct {
	Provider      string `yaml:"provider" mapstructure:"provider"`
	Model         string `yaml:"model" mapstructure:"model"`
	Device        string `yaml:"device" mapstructure:"device"`
	URL           string `yaml:"url" mapstructure:"url"`
	APIKey        string `yaml:"api_key" mapstructure:"api_key"`
	Dims          int    `yaml:"dims" mapstructure:"dims"`
	ModelPath     string `yaml:"model_path" mapstructure:"model_path"`
	TokenizerPath string `yaml:"tokenizer_path" mapstructure:"tokenizer_path"`
	ChunkSize     int    `yaml:"chunk_size" mapstructure:"chunk_size"`
}

type APIConfig struct {
	Host            string        `yaml:"host" mapstructure:"host"`
	Port            int           `yaml:"port" mapstructure:"port"`
	RateLimitRPM    int           `yaml:"rate_limit_rpm" mapstructure:"rate_limit_rpm"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

type TelemetryConfig struct {
	Endpoint    string `yaml:"endpoint" mapstructure:"endpoint"`
	Insecure    bool   `yaml:"insecure" mapstructure:"insecure"`
	ServiceName string `yaml:"service_name" mapstructure:"service_name"`
}

// Addr returns host:port for the HTTP listener.
func (a APIConfig) Addr() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Driver:      "sqlite",
			Path:        "./data/memory.db",
			BusyTimeout: 5000,
		},
		Embed: EmbedConfig{
			Provider: "hash",
			Model:    "paraphrase-multilingual-mpnet-base-v2",
			Device:   "cpu",
			Dims:     384,
		},
		API: APIConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ShutdownTimeout: 5 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "semantic-memory",
		},
		MaxTextLength:       10000,
		SimilarityThreshold: 0.7,
		DefaultLimit:        5,
	}
}

// DefaultPath is where `config init` writes when no path is given.
func DefaultPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "semantic-memory", "config.yaml")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "semantic-memory", "config.yaml")
}

var envVarRe = regexp.MustCompile(`\$([A-Z_][A-Z0-9_]*)`)

func expandEnv(s string) string {
	return envVarRe.ReplaceAllStringFunc(s, func(match string) string {
		name := strings.TrimPrefix(match, "$")
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return match
	})
}

// Load reads configuration. An explicit path must exist; otherwise config.yaml
// is searched in the working directory and the user config directories.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			v.AddConfigPath(filepath.Join(xdg, "semantic-memory"))
		}
		home, _ := os.UserHomeDir()
		v.AddConfigPath(filepath.Join(home, ".config", "semantic-memory"))
	}

	v.SetEnvPrefix("MEMORY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Store.DSN = expandEnv(cfg.Store.DSN)
	cfg.Embed.APIKey = expandEnv(cfg.Embed.APIKey)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can resolve it on Unmarshal.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("store.driver", d.Store.Driver)
	v.SetDefault("store.path", d.Store.Path)
	v.SetDefault("store.dsn", d.Store.DSN)
	v.SetDefault("store.busy_timeout", d.Store.BusyTimeout)

	v.SetDefault("embed.provider", d.Embed.Provider)
	v.SetDefault("embed.model", d.Embed.Model)
	v.SetDefault("embed.device", d.Embed.Device)
	v.SetDefault("embed.url", d.Embed.URL)
	v.SetDefault("embed.api_key", d.Embed.APIKey)
	v.SetDefault("embed.dims", d.Embed.Dims)
	v.SetDefault("embed.model_path", d.Embed.ModelPath)
	v.SetDefault("embed.tokenizer_path", d.Embed.TokenizerPath)
	v.SetDefault("embed.chunk_size", d.Embed.ChunkSize)

	v.SetDefault("api.host", d.API.Host)
	v.SetDefault("api.port", d.API.Port)
	v.SetDefault("api.rate_limit_rpm", d.API.RateLimitRPM)
	v.SetDefault("api.shutdown_timeout", d.API.ShutdownTimeout)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)

	v.SetDefault("telemetry.endpoint", d.Telemetry.Endpoint)
	v.SetDefault("telemetry.insecure", d.Telemetry.Insecure)
	v.SetDefault("telemetry.service_name", d.Telemetry.ServiceName)

	v.SetDefault("max_text_length", d.MaxTextLength)
	v.SetDefault("similarity_threshold", d.SimilarityThreshold)
	v.SetDefault("default_limit", d.DefaultLimit)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("config: store.path is required for sqlite")
		}
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("config: store.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("config: store.driver %q is invalid (must be sqlite or postgres)", c.Store.Driver)
	}

	switch c.Embed.Provider {
	case "hash", "ollama", "openai", "onnx":
	default:
		return fmt.Errorf("config: embed.provider %q is invalid (must be hash, ollama, openai, or onnx)", c.Embed.Provider)
	}
	if c.Embed.Device != "cpu" && c.Embed.Device != "cuda" {
		return fmt.Errorf("config: embed.device %q is invalid (must be cpu or cuda)", c.Embed.Device)
	}
	if c.Embed.Dims < 0 {
		return fmt.Errorf("config: embed.dims must not be negative")
	}
	if c.Embed.ChunkSize < 0 {
		return fmt.Errorf("config: embed.chunk_size must not be negative")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		return fmt.Errorf("config: api.port %d is out of range", c.API.Port)
	}
	if c.API.RateLimitRPM < 0 {
		return fmt.Errorf("config: api.rate_limit_rpm must not be negative")
	}
	if c.API.ShutdownTimeout <= 0 {
		return fmt.Errorf("config: api.shutdown_timeout must be positive")
	}

	if c.MaxTextLength < 1 {
		return fmt.Errorf("config: max_text_length must be at least 1")
	}
	if c.SimilarityThreshold < -1 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("config: similarity_threshold %v is outside [-1, 1]", c.SimilarityThreshold)
	}
	if c.DefaultLimit < 1 {
		return fmt.Errorf("config: default_limit must be at least 1")
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: log.level %q is invalid", c.Log.Level)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("config: log.format %q is invalid (must be text or json)", c.Log.Format)
	}
	return nil
}

// YAML renders the configuration as a config file.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// Write saves the configuration to path, creating parent directories. It
// refuses to overwrite an existing file unless force is set.
func (c *Config) Write(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file %s already exists", path)
		}
	}
	b, err := c.YAML()
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	return os.WriteFile(path, b, 0o600)
}
