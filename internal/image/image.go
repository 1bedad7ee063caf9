// Package image wraps the qemu-img and qemu-io utilities. Every invocation
// goes through the Runner interface so the wrappers can be exercised without
// the binaries installed.
package image

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"

	"go.uber.org/zap"
)

// Runner executes an external command and returns its stdout, stderr and
// exit error.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

type execRunner struct{}

// NewExecRunner returns a Runner backed by os/exec.
func NewExecRunner() Runner {
	return &execRunner{}
}

func (r *execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	err := cmd.Run()
	return stdoutBuf.Bytes(), stderrBuf.Bytes(), err
}

// Tool drives qemu-img and qemu-io.
type Tool struct {
	qemuImg string
	qemuIO  string
	runner  Runner
	log     *zap.SugaredLogger
}

func NewTool(qemuImg, qemuIO string, runner Runner) *Tool {
	return &Tool{
		qemuImg: qemuImg,
		qemuIO:  qemuIO,
		runner:  runner,
		log:     zap.S().Named("image"),
	}
}

// Create makes a new image of the given virtual size.
func (t *Tool) Create(ctx context.Context, path, format string, size int64) error {
	args := []string{"create", "-f", format, path, strconv.FormatInt(size, 10)}
	_, stderr, err := t.runner.Run(ctx, t.qemuImg, args...)
	if err != nil {
		return fmt.Errorf("qemu-img create %s failed: %s: %w", path, stderr, err)
	}
	t.log.Debugw("created image", "path", path, "format", format, "size", size)
	return nil
}

// CreateOverlay makes a differencing image backed by parent. The virtual
// size is inherited from the backing file.
func (t *Tool) CreateOverlay(ctx context.Context, path, format, parent, parentFormat string) error {
	args := []string{"create", "-f", format, "-b", parent, "-F", parentFormat, path}
	_, stderr, err := t.runner.Run(ctx, t.qemuImg, args...)
	if err != nil {
		return fmt.Errorf("qemu-img create overlay %s (parent %s) failed: %s: %w", path, parent, stderr, err)
	}
	t.log.Debugw("created overlay", "path", path, "parent", parent)
	return nil
}

// Convert copies the guest-visible content of src into a new image dst.
func (t *Tool) Convert(ctx context.Context, src, dst, format string) error {
	args := []string{"convert", "-f", format, "-O", format, src, dst}
	_, stderr, err := t.runner.Run(ctx, t.qemuImg, args...)
	if err != nil {
		return fmt.Errorf("qemu-img convert %s -> %s failed: %s: %w", src, dst, stderr, err)
	}
	return nil
}

// Compare returns true when the two images have identical guest-visible
// content. qemu-img compare exits 0 for identical images, 1 for differing
// ones and anything else for an operational failure.
func (t *Tool) Compare(ctx context.Context, a, b, format string) (bool, error) {
	args := []string{"compare", "-f", format, "-F", format, a, b}
	_, stderr, err := t.runner.Run(ctx, t.qemuImg, args...)
	if err == nil {
		return true, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return false, nil
	}
	return false, fmt.Errorf("qemu-img compare %s %s failed: %s: %w", a, b, stderr, err)
}

// WritePattern fills [offset, offset+length) of an offline image with the
// given byte pattern. Writes against a live drive must go through the VM
// monitor instead; the image file is locked while QEMU runs.
func (t *Tool) WritePattern(ctx context.Context, path, format string, pattern byte, offset, length int64) error {
	ioCmd := fmt.Sprintf("write -P 0x%02x %d %d", pattern, offset, length)
	args := []string{"-f", format, "-c", ioCmd, path}
	_, stderr, err := t.runner.Run(ctx, t.qemuIO, args...)
	if err != nil {
		return fmt.Errorf("qemu-io write on %s failed: %s: %w", path, stderr, err)
	}
	return nil
}
