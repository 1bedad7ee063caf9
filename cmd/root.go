// Package cmd wires the harness command line.
package cmd

import (
	"fmt"
	"time"

	"github.com/jzelinskie/cobrautil/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/kubev2v/qemu-backup-harness/internal/config"
)

var rootCmd = &cobra.Command{
	Use:               "qemu-backup-harness",
	Short:             "Functional test harness for QEMU incremental backups",
	SilenceUsage:      true,
	PersistentPreRunE: cobrautil.CommandStack(bindConfiguration, setupLogging),
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("qemu", "qemu-system-x86_64", "QEMU system emulator binary")
	flags.String("qemu-img", "qemu-img", "qemu-img binary")
	flags.String("qemu-io", "qemu-io", "qemu-io binary")
	flags.String("work-dir", "", "directory for per-case workspaces (default: system temp)")
	flags.String("data-folder", "", "directory for the run history database (empty disables persistence)")
	flags.Int("workers", 2, "number of cases to run concurrently")
	flags.Duration("case-timeout", 5*time.Minute, "timeout for a single case")
	flags.Int("http-port", 8000, "report API port")
	flags.String("mode", "dev", "server mode (dev or prod)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "console", "log format (console or json)")
}

func Execute() error {
	return rootCmd.Execute()
}

func bindConfiguration(cmd *cobra.Command, _ []string) error {
	return bindFlags(cmd.Flags())
}

func bindFlags(flags *pflag.FlagSet) error {
	for flag, key := range map[string]string{
		"qemu":         "harness.qemu",
		"qemu-img":     "harness.qemu-img",
		"qemu-io":      "harness.qemu-io",
		"work-dir":     "harness.work-dir",
		"data-folder":  "harness.data-folder",
		"workers":      "harness.workers",
		"case-timeout": "harness.case-timeout",
		"http-port":    "server.http-port",
		"mode":         "server.mode",
		"log-level":    "log-level",
		"log-format":   "log-format",
	} {
		f := flags.Lookup(flag)
		if f == nil {
			continue
		}
		if err := viper.BindPFlag(key, f); err != nil {
			return err
		}
	}
	return nil
}

func setupLogging(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfiguration()
	if err != nil {
		return err
	}

	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}

	zapCfg := zap.NewProductionConfig()
	if cfg.LogFormat == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	}
	zapCfg.Level = level

	logger, err := zapCfg.Build()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return nil
}

func loadConfiguration() (*config.Configuration, error) {
	return config.Load(viper.GetViper())
}
