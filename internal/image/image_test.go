package image_test

import (
	"context"
	"errors"
	"os/exec"
	"strconv"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/kubev2v/qemu-backup-harness/internal/image"
)

func TestImage(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Image Suite")
}

// recordingRunner captures argv and replays a scripted outcome.
type recordingRunner struct {
	calls  [][]string
	stderr []byte
	err    error
}

func (r *recordingRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	r.calls = append(r.calls, append([]string{name}, args...))
	return nil, r.stderr, r.err
}

// exitError produces a real *exec.ExitError with the given code.
func exitError(code int) error {
	cmd := exec.Command("sh", "-c", "exit "+strconv.Itoa(code))
	err := cmd.Run()
	var exitErr *exec.ExitError
	Expect(errors.As(err, &exitErr)).To(BeTrue())
	Expect(exitErr.ExitCode()).To(Equal(code))
	return err
}

var _ = Describe("Tool", func() {
	var (
		ctx    context.Context
		runner *recordingRunner
		tool   *image.Tool
	)

	BeforeEach(func() {
		ctx = context.Background()
		runner = &recordingRunner{}
		tool = image.NewTool("qemu-img", "qemu-io", runner)
	})

	Describe("Create", func() {
		It("should build the expected argv", func() {
			Expect(tool.Create(ctx, "/tmp/disk.qcow2", "qcow2", 64*1024*1024)).To(Succeed())

			Expect(runner.calls).To(HaveLen(1))
			Expect(runner.calls[0]).To(Equal([]string{
				"qemu-img", "create", "-f", "qcow2", "/tmp/disk.qcow2", "67108864",
			}))
		})

		It("should surface stderr on failure", func() {
			runner.err = exitError(1)
			runner.stderr = []byte("no space left")

			err := tool.Create(ctx, "/tmp/disk.qcow2", "qcow2", 1024)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("no space left"))
		})
	})

	Describe("CreateOverlay", func() {
		It("should set the backing file and its format", func() {
			Expect(tool.CreateOverlay(ctx, "/tmp/inc.qcow2", "qcow2", "/tmp/full.qcow2", "qcow2")).To(Succeed())

			Expect(runner.calls[0]).To(Equal([]string{
				"qemu-img", "create", "-f", "qcow2", "-b", "/tmp/full.qcow2", "-F", "qcow2", "/tmp/inc.qcow2",
			}))
		})
	})

	Describe("Convert", func() {
		It("should copy src into dst", func() {
			Expect(tool.Convert(ctx, "/tmp/a.qcow2", "/tmp/b.qcow2", "qcow2")).To(Succeed())

			Expect(runner.calls[0]).To(Equal([]string{
				"qemu-img", "convert", "-f", "qcow2", "-O", "qcow2", "/tmp/a.qcow2", "/tmp/b.qcow2",
			}))
		})
	})

	Describe("Compare", func() {
		It("should report identical images on exit 0", func() {
			same, err := tool.Compare(ctx, "/tmp/a.qcow2", "/tmp/b.qcow2", "qcow2")
			Expect(err).NotTo(HaveOccurred())
			Expect(same).To(BeTrue())
		})

		It("should report differing images on exit 1", func() {
			runner.err = exitError(1)

			same, err := tool.Compare(ctx, "/tmp/a.qcow2", "/tmp/b.qcow2", "qcow2")
			Expect(err).NotTo(HaveOccurred())
			Expect(same).To(BeFalse())
		})

		It("should fail on any other exit code", func() {
			runner.err = exitError(2)
			runner.stderr = []byte("could not open image")

			_, err := tool.Compare(ctx, "/tmp/a.qcow2", "/tmp/b.qcow2", "qcow2")
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("could not open image"))
		})
	})

	Describe("WritePattern", func() {
		It("should render the qemu-io write command", func() {
			Expect(tool.WritePattern(ctx, "/tmp/disk.qcow2", "qcow2", 0xa7, 1048576, 65536)).To(Succeed())

			Expect(runner.calls[0]).To(Equal([]string{
				"qemu-io", "-f", "qcow2", "-c", "write -P 0xa7 1048576 65536", "/tmp/disk.qcow2",
			}))
		})
	})
})
