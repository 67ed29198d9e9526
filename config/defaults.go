package config

import (
	"github.com/spf13/viper"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.path", "tempo.db")

	// Server defaults
	v.SetDefault("server.port", DefaultServerPort)

	// Engine defaults
	v.SetDefault("engine.poll_interval_ms", 60000)
	v.SetDefault("engine.batch_size", 50)
	v.SetDefault("engine.autostart", true)
	v.SetDefault("engine.dispatch_timeout_seconds", 30)

	// Worker pool defaults
	v.SetDefault("workers.count", 1)
	v.SetDefault("workers.poll_interval_seconds", 5)
	v.SetDefault("workers.rate_per_second", 0.0) // unlimited
}
