// Package config provides configuration types and defaults for dagflow.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration options.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Log          LogConfig          `mapstructure:"log"`
	OpenAI       OpenAIConfig       `mapstructure:"openai"`
	FeatureStore FeatureStoreConfig `mapstructure:"feature_store"`
	Tracing      TracingConfig      `mapstructure:"tracing"`
	Lineage      LineageConfig      `mapstructure:"lineage"`
	// Driver is the configuration mapping used for variant selection,
	// e.g. file_type or batch_scoring.
	Driver map[string]any `mapstructure:"driver"`
}

type ServerConfig struct {
	Addr           string        `mapstructure:"addr"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // trace, debug, info, warn, error
	Format string `mapstructure:"format"` // "text" or "json"
}

type OpenAIConfig struct {
	// APIKey empty means mock completions.
	APIKey            string  `mapstructure:"api_key"`
	BaseURL           string  `mapstructure:"base_url"`
	Model             string  `mapstructure:"model"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	// Retries reruns a failed completion node; Timeout bounds each attempt.
	Retries    int           `mapstructure:"retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type FeatureStoreConfig struct {
	RepoPath string `mapstructure:"repo_path"`
	// ServerURL switches the store to a remote feature server.
	ServerURL string `mapstructure:"server_url"`
}

type TracingConfig struct {
	Exporter   string  `mapstructure:"exporter"` // "none" or "stdout"
	SampleRate float64 `mapstructure:"sample_rate"`
}

type LineageConfig struct {
	// Path of the JSON file runs are recorded in; empty keeps them in memory.
	Path string `mapstructure:"path"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Addr:           ":8080",
			RequestTimeout: 5 * time.Minute,
		},
		Log: LogConfig{Level: "info", Format: "text"},
		OpenAI: OpenAIConfig{
			Model:             "gpt-3.5-turbo-0613",
			RequestsPerSecond: 3,
			Retries:           2,
			RetryDelay:        time.Second,
			Timeout:           2 * time.Minute,
		},
		FeatureStore: FeatureStoreConfig{RepoPath: "feature_repo"},
		Tracing:      TracingConfig{Exporter: "none", SampleRate: 1},
		Driver:       map[string]any{"file_type": "pdf"},
	}
}

// SetDefaults registers Defaults on v so unset keys and environment
// variables resolve.
func SetDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.request_timeout", d.Server.RequestTimeout)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.base_url", "")
	v.SetDefault("openai.model", d.OpenAI.Model)
	v.SetDefault("openai.requests_per_second", d.OpenAI.RequestsPerSecond)
	v.SetDefault("openai.retries", d.OpenAI.Retries)
	v.SetDefault("openai.retry_delay", d.OpenAI.RetryDelay)
	v.SetDefault("openai.timeout", d.OpenAI.Timeout)
	v.SetDefault("feature_store.repo_path", d.FeatureStore.RepoPath)
	v.SetDefault("feature_store.server_url", "")
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("lineage.path", "")
	v.SetDefault("driver", d.Driver)

	v.SetEnvPrefix("dagflow")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load reads file (if set) into v and decodes the result. A missing file
// is an error only when it was named explicitly.
func Load(v *viper.Viper, file string) (Config, error) {
	SetDefaults(v)
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("dagflow")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate checks enumerated settings.
func (c Config) Validate() error {
	var errs []error
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	switch c.Tracing.Exporter {
	case "", "none", "stdout":
	default:
		errs = append(errs, fmt.Errorf("tracing.exporter must be none or stdout, got %q", c.Tracing.Exporter))
	}
	if c.OpenAI.Retries < 0 {
		errs = append(errs, fmt.Errorf("openai.retries must not be negative"))
	}
	if c.Server.RequestTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.request_timeout must not be negative"))
	}
	return errors.Join(errs...)
}
