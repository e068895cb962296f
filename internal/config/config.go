package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config stores environment-driven settings for the execution engine.
type Config struct {
	// CatalogPath is the path to the YAML tool catalog.
	CatalogPath string `env:"TOOLEXEC_CATALOG" envDefault:"catalog.yaml"`
	// LogLevel sets the logger level.
	LogLevel string `env:"TOOLEXEC_LOG_LEVEL" envDefault:"info"`
	// Lang selects message language for templates.
	Lang string `env:"TOOLEXEC_LANG" envDefault:"en"`
	// DatabasePath is the SQLite file backing the execution ledger.
	DatabasePath string `env:"TOOLEXEC_DB_PATH" envDefault:"toolexec.db"`
	// DefaultTimeout is the execution deadline for tools without an override.
	DefaultTimeout time.Duration `env:"TOOLEXEC_DEFAULT_TIMEOUT" envDefault:"30s"`
	// MaxConcurrent bounds how many executions may run at once.
	MaxConcurrent int `env:"TOOLEXEC_MAX_CONCURRENT" envDefault:"10"`
	// QueueDepth bounds how many admitted requests may wait for a slot.
	// Zero rejects over-capacity requests immediately.
	QueueDepth int `env:"TOOLEXEC_QUEUE_DEPTH" envDefault:"0"`
	// TerminationGrace is the pause between the graceful and forceful
	// process-group signals on timeout or cancellation.
	TerminationGrace time.Duration `env:"TOOLEXEC_TERMINATION_GRACE" envDefault:"3s"`
	// MaxOutputBytes caps captured stdout and stderr per stream.
	MaxOutputBytes int64 `env:"TOOLEXEC_MAX_OUTPUT_BYTES" envDefault:"1048576"`
	// EnvPassthrough lists extra environment variable names passed to tools.
	EnvPassthrough []string `env:"TOOLEXEC_ENV_PASSTHROUGH" envSeparator:","`
	// WorkDir is the base directory for per-execution working directories.
	// Empty selects the system temp directory.
	WorkDir string `env:"TOOLEXEC_WORK_DIR"`
	// ShutdownTimeout controls graceful shutdown duration.
	ShutdownTimeout time.Duration `env:"TOOLEXEC_SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// Load parses environment variables into Config and checks ranges.
func Load() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.DefaultTimeout <= 0 {
		return fmt.Errorf("TOOLEXEC_DEFAULT_TIMEOUT must be positive")
	}
	if c.MaxConcurrent < 1 {
		return fmt.Errorf("TOOLEXEC_MAX_CONCURRENT must be at least 1")
	}
	if c.QueueDepth < 0 {
		return fmt.Errorf("TOOLEXEC_QUEUE_DEPTH must be >= 0")
	}
	if c.TerminationGrace <= 0 {
		return fmt.Errorf("TOOLEXEC_TERMINATION_GRACE must be positive")
	}
	if c.MaxOutputBytes < 1024 {
		return fmt.Errorf("TOOLEXEC_MAX_OUTPUT_BYTES must be at least 1024")
	}
	return nil
}
