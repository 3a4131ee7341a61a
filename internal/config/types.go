package config

import "time"

// ProviderType identifies an LLM provider.
type ProviderType string

const (
	ProviderOpenAI    ProviderType = "openai"
	ProviderAnthropic ProviderType = "anthropic"
	ProviderOllama    ProviderType = "ollama"
)

// Config is the top-level router configuration, corresponding to router.yml.
type Config struct {
	Provider ProviderType `yaml:"provider" koanf:"provider"`
	Model    string       `yaml:"model" koanf:"model"`

	ListenAddr string `yaml:"listen_addr" koanf:"listen_addr"`
	DBPath     string `yaml:"db_path" koanf:"db_path"`

	// Session handling.
	SessionIdleTimeout time.Duration `yaml:"session_idle_timeout" koanf:"session_idle_timeout"`
	SessionCleanupCron string        `yaml:"session_cleanup_cron" koanf:"session_cleanup_cron"`
	MaxContextMessages int           `yaml:"max_context_messages" koanf:"max_context_messages"`

	// Classification result cache.
	CacheTTL           time.Duration `yaml:"cache_ttl" koanf:"cache_ttl"`
	CacheCapacity      int           `yaml:"cache_capacity" koanf:"cache_capacity"`
	CacheSweepInterval time.Duration `yaml:"cache_sweep_interval" koanf:"cache_sweep_interval"`

	// Provider call budget.
	ProviderTimeout time.Duration `yaml:"provider_timeout" koanf:"provider_timeout"`
	ProviderRPM     int           `yaml:"provider_rpm" koanf:"provider_rpm"`

	LogLevel string `yaml:"log_level" koanf:"log_level"`
}
