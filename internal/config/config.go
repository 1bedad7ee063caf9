// Package config defines the configuration structure for the harness.
//
// Defaults are declared on the struct tags and applied with
// creasty/defaults; the CLI overrides them through viper-bound flags.
package config

import (
	"fmt"
	"time"

	"github.com/creasty/defaults"
	"github.com/spf13/viper"
)

type Configuration struct {
	Harness   Harness `mapstructure:"harness"`
	Server    Server  `mapstructure:"server"`
	LogLevel  string  `mapstructure:"log-level" default:"info"`
	LogFormat string  `mapstructure:"log-format" default:"console"`
}

// Harness configures how cases are executed.
type Harness struct {
	// QemuBinary is the system emulator under test.
	QemuBinary string `mapstructure:"qemu" default:"qemu-system-x86_64"`
	// QemuImgBinary creates, converts and compares images.
	QemuImgBinary string `mapstructure:"qemu-img" default:"qemu-img"`
	// QemuIOBinary seeds byte patterns into offline images.
	QemuIOBinary string `mapstructure:"qemu-io" default:"qemu-io"`
	// WorkDir hosts the per-case scratch directories. Empty means the
	// system temp directory.
	WorkDir string `mapstructure:"work-dir"`
	// DataFolder holds the DuckDB run history. Empty disables persistence.
	DataFolder string `mapstructure:"data-folder"`
	// Workers bounds how many VMs run concurrently.
	Workers int `mapstructure:"workers" default:"2"`
	// CaseTimeout bounds a single case execution.
	CaseTimeout time.Duration `mapstructure:"case-timeout" default:"5m"`
}

// Server configures the report API.
type Server struct {
	HTTPPort int    `mapstructure:"http-port" default:"8000"`
	Mode     string `mapstructure:"mode" default:"dev"`
}

// Load materializes the configuration from viper state with defaults
// applied underneath.
func Load(v *viper.Viper) (*Configuration, error) {
	var cfg Configuration
	if err := defaults.Set(&cfg); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Configuration) Validate() error {
	if c.Harness.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", c.Harness.Workers)
	}
	if c.Harness.CaseTimeout <= 0 {
		return fmt.Errorf("case-timeout must be positive, got %s", c.Harness.CaseTimeout)
	}
	if c.Harness.QemuBinary == "" || c.Harness.QemuImgBinary == "" || c.Harness.QemuIOBinary == "" {
		return fmt.Errorf("qemu, qemu-img and qemu-io binaries must all be set")
	}
	switch c.Server.Mode {
	case "dev", "prod":
	default:
		return fmt.Errorf("invalid server mode %q: must be 'prod' or 'dev'", c.Server.Mode)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q", c.LogLevel)
	}
	return nil
}
