package config

import "time"

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Provider: ProviderOpenAI,
		Model:    "gpt-4o-mini",

		ListenAddr: ":8090",
		DBPath:     "data/router.db",

		SessionIdleTimeout: 30 * time.Minute,
		SessionCleanupCron: "@every 5m",
		MaxContextMessages: 10,

		CacheTTL:           5 * time.Minute,
		CacheCapacity:      1000,
		CacheSweepInterval: time.Minute,

		ProviderTimeout: 5 * time.Second,
		ProviderRPM:     120,

		LogLevel: "info",
	}
}
