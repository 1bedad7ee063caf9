package main

import (
	"os"

	"github.com/kubev2v/qemu-backup-harness/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
