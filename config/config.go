// Package config owns the tempo core configuration: a TOML file loaded
// through Viper with TEMPO_* environment overrides.
package config

// Config represents the core tempo configuration
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Server   ServerConfig   `mapstructure:"server"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Workers  WorkersConfig  `mapstructure:"workers"`
}

// DatabaseConfig configures the SQLite database
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// ServerConfig configures the tempo HTTP server
type ServerConfig struct {
	Port *int `mapstructure:"port"` // nil = default 8720, 0 is invalid (omit for default)
}

// DefaultServerPort is used when server.port is omitted.
const DefaultServerPort = 8720

// EngineConfig configures the schedule polling engine
type EngineConfig struct {
	PollIntervalMS         int  `mapstructure:"poll_interval_ms"`         // How often the engine checks for due schedules (default: 60000)
	BatchSize              int  `mapstructure:"batch_size"`               // Max due schedules processed per tick (default: 50)
	Autostart              bool `mapstructure:"autostart"`                // Start the engine with the server (default: true)
	DispatchTimeoutSeconds int  `mapstructure:"dispatch_timeout_seconds"` // Per-dispatch deadline (default: 30)
}

// WorkersConfig configures the async job worker pool
type WorkersConfig struct {
	Count               int     `mapstructure:"count"`                 // Number of concurrent job workers (default: 1)
	PollIntervalSeconds int     `mapstructure:"poll_interval_seconds"` // How often workers poll the queue (default: 5)
	RatePerSecond       float64 `mapstructure:"rate_per_second"`       // Job execution rate limit, 0 = unlimited
}
