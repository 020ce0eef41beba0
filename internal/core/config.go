package core

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// Config holds runtime configuration for the bridge.
type Config struct {
	MemoryLimitMB int    `toml:"memory_limit_mb"` // per-runtime heap limit, 0 = engine default
	GCThresholdKB int    `toml:"gc_threshold_kb"` // allocation threshold between GC cycles, 0 = engine default
	ModuleRoot    string `toml:"module_root"`     // directory served by the filesystem module loader
	ModuleDB      string `toml:"module_db"`       // sqlite file backing the SQL module loader
	Transpile     bool   `toml:"transpile"`       // run .ts/.tsx/.jsx modules through esbuild
	Console       bool   `toml:"console"`         // install console.* on new contexts
	Timers        bool   `toml:"timers"`          // install setTimeout/setInterval on new contexts
	LogLevel      string `toml:"log_level"`       // debug, info, warn, error
}

// DefaultConfig returns the configuration used when none is supplied.
func DefaultConfig() Config {
	return Config{
		MemoryLimitMB: 128,
		ModuleRoot:    ".",
		Console:       true,
		Timers:        true,
		LogLevel:      "info",
	}
}

// LoadConfig reads a TOML file on top of DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects values the runtime cannot honour.
func (c Config) Validate() error {
	if c.MemoryLimitMB < 0 {
		return fmt.Errorf("memory_limit_mb must not be negative, got %d", c.MemoryLimitMB)
	}
	if c.GCThresholdKB < 0 {
		return fmt.Errorf("gc_threshold_kb must not be negative, got %d", c.GCThresholdKB)
	}
	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log_level %q", c.LogLevel)
	}
	return nil
}
