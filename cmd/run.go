package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/kubev2v/qemu-backup-harness/internal/services"
	"github.com/kubev2v/qemu-backup-harness/internal/store"
	"github.com/kubev2v/qemu-backup-harness/internal/store/migrations"
	"github.com/kubev2v/qemu-backup-harness/pkg/scheduler"
)

var runCmd = &cobra.Command{
	Use:   "run [case...]",
	Short: "Execute cases (all registered cases when none are named)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfiguration()
		if err != nil {
			return err
		}

		var st *store.Store
		if cfg.Harness.DataFolder != "" {
			st, err = openStore(cmd.Context(), cfg.Harness.DataFolder)
			if err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck
		}

		sched := scheduler.NewScheduler(cfg.Harness.Workers)
		defer sched.Close()

		runner := services.NewRunnerService(cfg.Harness, sched, st)
		run, err := runner.Run(cmd.Context(), args)
		if err != nil {
			return err
		}
		if run.Failed() > 0 {
			return fmt.Errorf("%d of %d cases failed", run.Failed(), len(run.Results))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func openStore(ctx context.Context, dataFolder string) (*store.Store, error) {
	if err := os.MkdirAll(dataFolder, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data folder: %w", err)
	}
	db, err := store.NewDB(filepath.Join(dataFolder, "harness.duckdb"))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := migrations.Run(ctx, db); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return store.NewStore(db), nil
}
