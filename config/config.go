// Package config loads service configuration from an optional YAML file
// with environment variable overrides. Environment always wins, so
// deployments can ship a checked-in base file and inject secrets at
// runtime.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full service configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Webhook  WebhookConfig  `yaml:"webhook"`
	Database DatabaseConfig `yaml:"database"`
	LLM      LLMConfig      `yaml:"llm"`
	TTS      TTSConfig      `yaml:"tts"`
	Assets   AssetsConfig   `yaml:"assets"`
	Platform PlatformConfig `yaml:"platform"`
	Notify   NotifyConfig   `yaml:"notify"`
	Obs      ObsConfig      `yaml:"obs"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type WebhookConfig struct {
	Secret string `yaml:"secret"`
	APIKey string `yaml:"api_key"`
}

type DatabaseConfig struct {
	// DSN is a Postgres connection string. Empty selects the in-memory
	// meeting store (dev mode).
	DSN string `yaml:"dsn"`
}

type LLMConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

type TTSConfig struct {
	// APIKey empty disables synthesis entirely; the pipeline runs
	// text-only.
	APIKey string `yaml:"api_key"`
	Voice  string `yaml:"voice"`
	Model  string `yaml:"model"`
}

type AssetsConfig struct {
	Bucket        string `yaml:"bucket"`
	Region        string `yaml:"region"`
	PublicBaseURL string `yaml:"public_base_url"`
}

type PlatformConfig struct {
	BaseURL   string `yaml:"base_url"`
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
}

type NotifyConfig struct {
	Endpoint string `yaml:"endpoint"`
}

type ObsConfig struct {
	ServiceName string `yaml:"service_name"`
	Exporter    string `yaml:"exporter"` // otlp, stdout, none
	Endpoint    string `yaml:"endpoint"`
}

// Default returns the baseline configuration before file and env layers
// are applied.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 15 * time.Second,
		},
		LLM: LLMConfig{Model: "gpt-4o-mini"},
		Obs: ObsConfig{ServiceName: "voiceloop", Exporter: "none"},
	}
}

// Load builds the configuration: defaults, then the YAML file at path
// (skipped when path is empty or the file does not exist), then
// environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	return cfg, cfg.validate()
}

func applyEnv(cfg *Config) {
	setString(&cfg.Server.Addr, "VOICELOOP_ADDR")
	setDuration(&cfg.Server.ShutdownTimeout, "VOICELOOP_SHUTDOWN_TIMEOUT")

	setString(&cfg.Webhook.Secret, "VOICELOOP_WEBHOOK_SECRET")
	setString(&cfg.Webhook.APIKey, "VOICELOOP_WEBHOOK_API_KEY")

	setString(&cfg.Database.DSN, "DATABASE_URL")

	setString(&cfg.LLM.APIKey, "OPENAI_API_KEY")
	setString(&cfg.LLM.BaseURL, "OPENAI_BASE_URL")
	setString(&cfg.LLM.Model, "OPENAI_MODEL")

	setString(&cfg.TTS.APIKey, "ELEVENLABS_API_KEY")
	setString(&cfg.TTS.Voice, "ELEVENLABS_VOICE")
	setString(&cfg.TTS.Model, "ELEVENLABS_MODEL")

	setString(&cfg.Assets.Bucket, "VOICELOOP_ASSETS_BUCKET")
	setString(&cfg.Assets.Region, "VOICELOOP_ASSETS_REGION")
	setString(&cfg.Assets.PublicBaseURL, "VOICELOOP_ASSETS_BASE_URL")

	setString(&cfg.Platform.BaseURL, "STREAM_BASE_URL")
	setString(&cfg.Platform.APIKey, "STREAM_API_KEY")
	setString(&cfg.Platform.APISecret, "STREAM_API_SECRET")

	setString(&cfg.Notify.Endpoint, "VOICELOOP_NOTIFY_ENDPOINT")

	setString(&cfg.Obs.ServiceName, "OTEL_SERVICE_NAME")
	setString(&cfg.Obs.Exporter, "VOICELOOP_OTEL_EXPORTER")
	setString(&cfg.Obs.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
}

func (c Config) validate() error {
	if c.Webhook.Secret == "" {
		return fmt.Errorf("config: webhook secret is required")
	}
	if c.Webhook.APIKey == "" {
		return fmt.Errorf("config: webhook api key is required")
	}
	if c.LLM.APIKey == "" {
		return fmt.Errorf("config: llm api key is required")
	}
	switch c.Obs.Exporter {
	case "", "none", "stdout", "otlp":
	default:
		return fmt.Errorf("config: unknown obs exporter %q", c.Obs.Exporter)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
		return
	}
	if secs, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(secs) * time.Second
	}
}
