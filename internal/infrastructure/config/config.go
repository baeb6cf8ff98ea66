package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server      ServerConfig
	Platform    PlatformConfig
	Tardy       TardyConfig
	Diagnostics DiagnosticsConfig
	Executor    ExecutorConfig
	Hints       HintsConfig
	Logging     LogConfig
	RateLimit   RateLimitConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port         string   `envconfig:"PORT" default:"8000"`
	Host         string   `envconfig:"HOST" default:"0.0.0.0"`
	AllowOrigins []string `envconfig:"CORS_ORIGINS" default:"*"`
	// ScriptsDir is scanned for *.user.js files at startup when set
	ScriptsDir     string `envconfig:"SCRIPTS_DIR"`
	MaxNavigations int    `envconfig:"MAX_NAVIGATIONS" default:"64"`
}

// PlatformConfig selects the simulated extension platform.
type PlatformConfig struct {
	Generation string `envconfig:"INJECT_GENERATION" default:"restrictive"`
	Family     string `envconfig:"INJECT_FAMILY" default:"chromium"`
}

// TardyConfig overrides the stall detector policy. When Override is false
// the per-platform defaults apply.
type TardyConfig struct {
	Override     bool          `envconfig:"TARDY_OVERRIDE" default:"false"`
	InitialDelay time.Duration `envconfig:"TARDY_INITIAL_DELAY" default:"500ms"`
	RecheckDelay time.Duration `envconfig:"TARDY_RECHECK_DELAY" default:"750ms"`
	MaxWait      time.Duration `envconfig:"TARDY_MAX_WAIT" default:"2s"`
}

// DiagnosticsConfig holds the script issue collector settings.
type DiagnosticsConfig struct {
	DedupeTTL       time.Duration `envconfig:"DIAG_DEDUPE_TTL" default:"60s"`
	MaxEntries      int           `envconfig:"DIAG_MAX_ENTRIES" default:"1500"`
	MaxFingerprints int           `envconfig:"DIAG_MAX_FINGERPRINTS" default:"500"`
}

// ExecutorConfig holds the privileged-side execution adapter settings.
type ExecutorConfig struct {
	UnregisterDelay time.Duration `envconfig:"EXEC_UNREGISTER_DELAY" default:"30s"`
	HealthTTL       time.Duration `envconfig:"EXEC_HEALTH_TTL" default:"60s"`
	OneShotPrefix   string        `envconfig:"EXEC_ONE_SHOT_PREFIX" default:"vm-one-shot-"`
}

// HintsConfig holds the per-origin hint cache settings.
type HintsConfig struct {
	CacheSize int `envconfig:"HINT_CACHE_SIZE" default:"256"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
	// GlobalRPS caps all clients together; 0 leaves it off
	GlobalRPS int `envconfig:"RATE_LIMIT_GLOBAL_RPS" default:"0"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           "8000",
			Host:           "0.0.0.0",
			AllowOrigins:   []string{"*"},
			MaxNavigations: 64,
		},
		Platform: PlatformConfig{
			Generation: "restrictive",
			Family:     "chromium",
		},
		Tardy: TardyConfig{
			InitialDelay: 500 * time.Millisecond,
			RecheckDelay: 750 * time.Millisecond,
			MaxWait:      2 * time.Second,
		},
		Diagnostics: DiagnosticsConfig{
			DedupeTTL:       60 * time.Second,
			MaxEntries:      1500,
			MaxFingerprints: 500,
		},
		Executor: ExecutorConfig{
			UnregisterDelay: 30 * time.Second,
			HealthTTL:       60 * time.Second,
			OneShotPrefix:   "vm-one-shot-",
		},
		Hints: HintsConfig{
			CacheSize: 256,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}
