// Package config loads the proxy's process-scoped configuration from an
// optional TOML file with environment-variable overrides, following the
// same toml-plus-env pattern the Mike-Gemutly-ArmorClaw/bridge pack member
// uses for its own configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// RoutingMode selects the DispatchRouter strategy.
type RoutingMode string

const (
	RoutingSession   RoutingMode = "session"
	RoutingShared    RoutingMode = "shared"
	RoutingPool      RoutingMode = "pool"
	RoutingAutoscale RoutingMode = "autoscale"
)

// Provider selects the upstream speech-AI provider.
type Provider string

const (
	ProviderOpenAI Provider = "openai"
	ProviderGemini Provider = "gemini"
)

// Config mirrors every enumerated setting in spec.md §6.
type Config struct {
	RoutingMode              RoutingMode   `toml:"routing_mode" env:"ROUTING_MODE"`
	ContainerPoolSize        int           `toml:"container_pool_size" env:"CONTAINER_POOL_SIZE"`
	MaxConnectionsPerWorker  int           `toml:"max_connections_per_container" env:"MAX_CONNECTIONS_PER_CONTAINER"`
	MinContainers            int           `toml:"min_containers" env:"MIN_CONTAINERS"`
	ScaleDownIdleTime        time.Duration `toml:"-" env:"-"`
	ScaleDownIdleTimeMillis  int64         `toml:"scale_down_idle_time_ms" env:"SCALE_DOWN_IDLE_TIME"`
	TranslationProvider      Provider      `toml:"translation_provider" env:"TRANSLATION_PROVIDER"`
	ForceCommitTimeoutSecs   int           `toml:"force_commit_timeout" env:"FORCE_COMMIT_TIMEOUT"`

	HTTPAddr string `toml:"http_addr" env:"HTTP_ADDR"`
	StateDB  string `toml:"state_db" env:"STATE_DB"`

	LogLevel string `toml:"log_level" env:"LOG_LEVEL"`
	LogFile  string `toml:"log_file" env:"LOG_FILE"`

	// Upstream provider credentials and wire settings. Not part of
	// spec.md §6's enumerated list (that list covers routing/scaling
	// knobs only) but still process-scoped configuration a real deployment
	// needs to actually dial a provider.
	OpenAIAPIKey       string `toml:"openai_api_key" env:"OPENAI_API_KEY"`
	OpenAIModel        string `toml:"openai_model" env:"OPENAI_MODEL"`
	GeminiAPIKey       string `toml:"gemini_api_key" env:"GEMINI_API_KEY"`
	GeminiModel        string `toml:"gemini_model" env:"GEMINI_MODEL"`
	ProviderSampleRate int    `toml:"provider_sample_rate" env:"PROVIDER_SAMPLE_RATE"`

	DockerImage string `toml:"docker_image" env:"WORKER_IMAGE"`
}

// Default returns the configuration with every spec.md-mandated default applied.
func Default() *Config {
	return &Config{
		RoutingMode:             RoutingSession,
		ContainerPoolSize:       5,
		MaxConnectionsPerWorker: 10,
		MinContainers:           2,
		ScaleDownIdleTimeMillis: 600_000,
		ScaleDownIdleTime:       600_000 * time.Millisecond,
		TranslationProvider:     ProviderOpenAI,
		ForceCommitTimeoutSecs:  2,
		HTTPAddr:                ":8080",
		StateDB:                 "proxy_state.db",
		LogLevel:                "info",
		OpenAIModel:             "gpt-4o-realtime-preview",
		GeminiModel:             "gemini-2.0-flash-exp",
		ProviderSampleRate:      24000,
		DockerImage:             "vstream/relay-worker:latest",
	}
}

// Load reads path (if non-empty and present), then applies environment
// overrides, then validates.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("read config file: %w", err)
			}
			if err := toml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	applyEnvOverrides(cfg)
	cfg.ScaleDownIdleTime = time.Duration(cfg.ScaleDownIdleTimeMillis) * time.Millisecond

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ROUTING_MODE"); v != "" {
		cfg.RoutingMode = RoutingMode(v)
	}
	if v := os.Getenv("CONTAINER_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ContainerPoolSize = n
		}
	}
	if v := os.Getenv("MAX_CONNECTIONS_PER_CONTAINER"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxConnectionsPerWorker = n
		}
	}
	if v := os.Getenv("MIN_CONTAINERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MinContainers = n
		}
	}
	if v := os.Getenv("SCALE_DOWN_IDLE_TIME"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.ScaleDownIdleTimeMillis = n
		}
	}
	if v := os.Getenv("TRANSLATION_PROVIDER"); v != "" {
		cfg.TranslationProvider = Provider(v)
	}
	if v := os.Getenv("FORCE_COMMIT_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ForceCommitTimeoutSecs = n
		}
	}
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := os.Getenv("STATE_DB"); v != "" {
		cfg.StateDB = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		cfg.LogFile = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.OpenAIAPIKey = v
	}
	if v := os.Getenv("OPENAI_MODEL"); v != "" {
		cfg.OpenAIModel = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		cfg.GeminiAPIKey = v
	}
	if v := os.Getenv("GEMINI_MODEL"); v != "" {
		cfg.GeminiModel = v
	}
	if v := os.Getenv("PROVIDER_SAMPLE_RATE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ProviderSampleRate = n
		}
	}
	if v := os.Getenv("WORKER_IMAGE"); v != "" {
		cfg.DockerImage = v
	}
}

// Validate rejects configurations that can't satisfy the coordinator's invariants.
func (c *Config) Validate() error {
	switch c.RoutingMode {
	case RoutingSession, RoutingShared, RoutingPool, RoutingAutoscale:
	default:
		return fmt.Errorf("invalid routing_mode: %q", c.RoutingMode)
	}
	switch c.TranslationProvider {
	case ProviderOpenAI, ProviderGemini:
	default:
		return fmt.Errorf("invalid translation_provider: %q", c.TranslationProvider)
	}
	if c.ContainerPoolSize <= 0 {
		return fmt.Errorf("container_pool_size must be positive")
	}
	if c.MinContainers <= 0 {
		return fmt.Errorf("min_containers must be positive")
	}
	if c.MaxConnectionsPerWorker <= 0 {
		return fmt.Errorf("max_connections_per_container must be positive")
	}
	return nil
}
