// Package e2e runs the functional cases against a real QEMU installation.
// The suite skips itself when the binaries are not on PATH, so it is safe
// to run everywhere; CI images with QEMU installed get full coverage.
package e2e

import (
	"context"
	"os"
	"os/exec"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/kubev2v/qemu-backup-harness/internal/cases"
	"github.com/kubev2v/qemu-backup-harness/internal/harness"
	"github.com/kubev2v/qemu-backup-harness/internal/image"
	"github.com/kubev2v/qemu-backup-harness/internal/qemu"
)

const caseTimeout = 5 * time.Minute

var binaries = struct {
	qemu    string
	qemuImg string
	qemuIO  string
}{
	qemu:    envOr("HARNESS_QEMU", "qemu-system-x86_64"),
	qemuImg: envOr("HARNESS_QEMU_IMG", "qemu-img"),
	qemuIO:  envOr("HARNESS_QEMU_IO", "qemu-io"),
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func TestE2E(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "E2E Suite")
}

var _ = BeforeSuite(func() {
	for _, bin := range []string{binaries.qemu, binaries.qemuImg, binaries.qemuIO} {
		if _, err := exec.LookPath(bin); err != nil {
			Skip("QEMU binaries not installed: " + bin)
		}
	}
})

var _ = Describe("Functional cases", func() {
	for _, c := range cases.All() {
		c := c
		It("should pass "+c.Name, func() {
			ctx, cancel := context.WithTimeout(context.Background(), caseTimeout)
			defer cancel()

			dir, err := os.MkdirTemp("", "harness-e2e-*")
			Expect(err).NotTo(HaveOccurred())

			tool := image.NewTool(binaries.qemuImg, binaries.qemuIO, image.NewExecRunner())
			vm := qemu.New(binaries.qemu, dir)
			h := harness.New(dir, tool, vm)
			defer h.Teardown()

			Expect(c.Run(ctx, h)).To(Succeed())
		})
	}
})
