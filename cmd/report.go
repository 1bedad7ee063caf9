package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kubev2v/qemu-backup-harness/internal/report"
)

var reportOutput string

var reportCmd = &cobra.Command{
	Use:   "report <run-id>",
	Short: "Export a recorded run as an xlsx workbook",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfiguration()
		if err != nil {
			return err
		}
		if cfg.Harness.DataFolder == "" {
			return fmt.Errorf("report requires --data-folder")
		}

		st, err := openStore(cmd.Context(), cfg.Harness.DataFolder)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := st.Runs().Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if err := report.WriteExcel(run, reportOutput); err != nil {
			return err
		}
		fmt.Printf("report written to %s\n", reportOutput)
		return nil
	},
}

func init() {
	reportCmd.Flags().StringVarP(&reportOutput, "output", "o", "report.xlsx", "output file path")
	rootCmd.AddCommand(reportCmd)
}
