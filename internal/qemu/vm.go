// Package qemu manages the lifecycle of the QEMU process under test: it
// renders the command line for the attached drives, launches the binary and
// establishes the QMP monitor connection.
package qemu

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/kubev2v/qemu-backup-harness/internal/models"
	"github.com/kubev2v/qemu-backup-harness/internal/qmp"
)

const (
	socketPollInterval = 50 * time.Millisecond
	socketPollTimeout  = 10 * time.Second
	connectMaxElapsed  = 10 * time.Second
	shutdownGrace      = 5 * time.Second
)

// VM is a single QEMU process. One VM is launched per functional case and
// torn down with it; drives must be attached before Start.
type VM struct {
	binary     string
	workDir    string
	drives     []models.Drive
	socketPath string

	cmd     *exec.Cmd
	monitor *qmp.Client
	log     *zap.SugaredLogger
}

func New(binary, workDir string) *VM {
	return &VM{
		binary:     binary,
		workDir:    workDir,
		socketPath: filepath.Join(workDir, "qmp.sock"),
		log:        zap.S().Named("qemu"),
	}
}

// AttachDrive registers a drive for the next Start.
func (v *VM) AttachDrive(d models.Drive) {
	v.drives = append(v.drives, d)
}

// SocketPath returns the QMP unix socket path for this VM.
func (v *VM) SocketPath() string {
	return v.socketPath
}

// Args renders the full QEMU command line.
func (v *VM) Args() []string {
	args := []string{
		"-nodefaults",
		"-display", "none",
		"-machine", "accel=kvm:tcg",
		"-qmp", fmt.Sprintf("unix:%s,server,nowait", v.socketPath),
	}
	for _, d := range v.drives {
		args = append(args, "-drive", driveSpec(d))
	}
	return args
}

// driveSpec renders one -drive value. A drive with a fault config is opened
// through a blkdebug node so the injected errno surfaces inside the backup
// job instead of at open time.
func driveSpec(d models.Drive) string {
	if d.Fault == nil {
		return fmt.Sprintf("file=%s,format=%s,if=none,id=%s", d.Path, d.Format, d.ID)
	}

	parts := []string{
		fmt.Sprintf("driver=%s", d.Format),
		"file.driver=blkdebug",
		"file.image.driver=file",
		fmt.Sprintf("file.image.filename=%s", d.Path),
		fmt.Sprintf("file.inject-error.0.event=%s", d.Fault.Event),
		fmt.Sprintf("file.inject-error.0.errno=%d", d.Fault.Errno),
	}
	if d.Fault.Once {
		parts = append(parts, "file.inject-error.0.once=on")
	}
	parts = append(parts, "if=none", fmt.Sprintf("id=%s", d.ID))
	return strings.Join(parts, ",")
}

// Start launches the process, waits for the QMP socket to appear and
// connects the monitor.
func (v *VM) Start(ctx context.Context) error {
	v.cmd = exec.Command(v.binary, v.Args()...)
	v.cmd.Dir = v.workDir

	if err := v.cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", v.binary, err)
	}
	v.log.Debugw("started VM", "binary", v.binary, "pid", v.cmd.Process.Pid)

	err := wait.PollUntilContextTimeout(ctx, socketPollInterval, socketPollTimeout, true,
		func(context.Context) (bool, error) {
			if _, err := os.Stat(v.socketPath); err != nil {
				return false, nil
			}
			return true, nil
		})
	if err != nil {
		v.Kill()
		return fmt.Errorf("QMP socket %s never appeared: %w", v.socketPath, err)
	}

	// The socket file shows up slightly before QEMU accepts connections,
	// so retry the dial until the handshake succeeds.
	monitor, err := backoff.Retry(ctx, func() (*qmp.Client, error) {
		return qmp.NewClient(ctx, v.socketPath)
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxElapsedTime(connectMaxElapsed))
	if err != nil {
		v.Kill()
		return fmt.Errorf("failed to connect QMP monitor: %w", err)
	}

	v.monitor = monitor
	return nil
}

// Monitor returns the QMP client. Only valid after a successful Start.
func (v *VM) Monitor() *qmp.Client {
	return v.monitor
}

// Shutdown quits the VM through the monitor and reaps the process, falling
// back to SIGKILL when it does not exit within the grace period.
func (v *VM) Shutdown(ctx context.Context) error {
	if v.monitor != nil {
		// The connection drops as the process exits; that is not a failure.
		_, _ = v.monitor.Execute(ctx, "quit", nil)
		_ = v.monitor.Close()
		v.monitor = nil
	}

	if v.cmd == nil || v.cmd.Process == nil {
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- v.cmd.Wait() }()

	select {
	case <-done:
		return nil
	case <-time.After(shutdownGrace):
		v.log.Warnw("VM did not exit after quit, killing", "pid", v.cmd.Process.Pid)
		return v.Kill()
	case <-ctx.Done():
		_ = v.Kill()
		return ctx.Err()
	}
}

// Kill terminates the process without ceremony.
func (v *VM) Kill() error {
	if v.monitor != nil {
		_ = v.monitor.Close()
		v.monitor = nil
	}
	if v.cmd != nil && v.cmd.Process != nil {
		return v.cmd.Process.Kill()
	}
	return nil
}
