package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kubev2v/qemu-backup-harness/internal/cases"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the registered cases",
	RunE: func(cmd *cobra.Command, args []string) error {
		name := color.New(color.Bold).SprintFunc()
		for _, c := range cases.All() {
			fmt.Printf("%s\n    %s\n", name(c.Name), c.Description)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}
