// Package harness orchestrates one functional backup case: it owns the
// case workspace, the images, the VM process and the QMP monitor, and it
// maintains the bookkeeping for incremental backup chains.
package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/kubev2v/qemu-backup-harness/internal/image"
	"github.com/kubev2v/qemu-backup-harness/internal/models"
	"github.com/kubev2v/qemu-backup-harness/internal/qmp"
)

const defaultEventTimeout = 60 * time.Second

// Monitor is the slice of the QMP client the harness needs. The concrete
// *qmp.Client satisfies it; tests substitute a scripted fake.
type Monitor interface {
	Execute(ctx context.Context, command string, args qmp.Args) (json.RawMessage, error)
	WaitForEvent(ctx context.Context, name string, match func(qmp.Event) bool, timeout time.Duration) (qmp.Event, error)
}

// VMControl is the process-lifecycle surface of the VM under test.
type VMControl interface {
	AttachDrive(d models.Drive)
	Start(ctx context.Context) error
	Monitor() *qmp.Client
	Shutdown(ctx context.Context) error
	Kill() error
}

// Harness drives a single case. Not safe for concurrent use; every case
// gets its own instance with a fresh workspace.
type Harness struct {
	dir          string
	tool         *image.Tool
	vm           VMControl
	mon          Monitor
	eventTimeout time.Duration

	drives  map[string]*models.Drive
	bitmaps map[string]*models.Bitmap
	running bool

	log *zap.SugaredLogger
}

// Option adjusts harness construction.
type Option func(*Harness)

// WithEventTimeout overrides how long backup completion events are awaited.
func WithEventTimeout(d time.Duration) Option {
	return func(h *Harness) { h.eventTimeout = d }
}

// WithMonitor injects a monitor directly, bypassing the VM. Used by tests.
func WithMonitor(m Monitor) Option {
	return func(h *Harness) { h.mon = m }
}

func New(dir string, tool *image.Tool, vm VMControl, opts ...Option) *Harness {
	h := &Harness{
		dir:          dir,
		tool:         tool,
		vm:           vm,
		eventTimeout: defaultEventTimeout,
		drives:       make(map[string]*models.Drive),
		bitmaps:      make(map[string]*models.Bitmap),
		log:          zap.S().Named("harness"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// AddDrive creates a fresh image of the given size and attaches it to the
// VM. Must be called before Start.
func (h *Harness) AddDrive(ctx context.Context, id string, size int64) (*models.Drive, error) {
	return h.addDrive(ctx, id, size, nil)
}

// AddFaultyDrive is AddDrive with a blkdebug error injection rule wrapped
// around the live image.
func (h *Harness) AddFaultyDrive(ctx context.Context, id string, size int64, fault models.FaultConfig) (*models.Drive, error) {
	return h.addDrive(ctx, id, size, &fault)
}

func (h *Harness) addDrive(ctx context.Context, id string, size int64, fault *models.FaultConfig) (*models.Drive, error) {
	if h.running {
		return nil, fmt.Errorf("cannot add drive %s: VM already started", id)
	}
	if _, ok := h.drives[id]; ok {
		return nil, fmt.Errorf("drive %s already exists", id)
	}

	d := &models.Drive{
		ID:         id,
		Path:       filepath.Join(h.dir, id+".qcow2"),
		BackupPath: filepath.Join(h.dir, id+".full.qcow2"),
		Format:     "qcow2",
		Fault:      fault,
	}
	if err := h.tool.Create(ctx, d.Path, d.Format, size); err != nil {
		return nil, err
	}

	h.drives[id] = d
	if h.vm != nil {
		h.vm.AttachDrive(*d)
	}
	return d, nil
}

// SeedPattern writes a byte pattern into a drive's offline image. Only
// valid before Start; live writes go through WriteLive.
func (h *Harness) SeedPattern(ctx context.Context, driveID string, pattern byte, offset, length int64) error {
	if h.running {
		return fmt.Errorf("cannot seed drive %s: VM already started", driveID)
	}
	d, err := h.drive(driveID)
	if err != nil {
		return err
	}
	return h.tool.WritePattern(ctx, d.Path, d.Format, pattern, offset, length)
}

// Start boots the VM and connects the monitor.
func (h *Harness) Start(ctx context.Context) error {
	if h.running {
		return fmt.Errorf("VM already started")
	}
	if h.vm != nil {
		if err := h.vm.Start(ctx); err != nil {
			return err
		}
		h.mon = h.vm.Monitor()
	}
	if h.mon == nil {
		return fmt.Errorf("no monitor available")
	}
	h.running = true
	return nil
}

// Stop shuts the VM down so image files are quiescent for verification.
func (h *Harness) Stop(ctx context.Context) error {
	if !h.running {
		return nil
	}
	h.running = false
	h.mon = nil
	if h.vm != nil {
		return h.vm.Shutdown(ctx)
	}
	return nil
}

// Teardown kills the VM if needed and removes the workspace.
func (h *Harness) Teardown() {
	if h.running && h.vm != nil {
		_ = h.vm.Kill()
		h.running = false
	}
	if h.dir != "" {
		_ = os.RemoveAll(h.dir)
	}
}

// WriteLive injects a byte pattern into a running drive through the VM
// monitor.
func (h *Harness) WriteLive(ctx context.Context, driveID string, pattern byte, offset, length int64) error {
	if _, err := h.drive(driveID); err != nil {
		return err
	}
	if !h.running {
		return fmt.Errorf("cannot write to drive %s: VM not running", driveID)
	}
	cmdLine := fmt.Sprintf("qemu-io %s \"write -P 0x%02x %d %d\"", driveID, pattern, offset, length)
	_, err := h.mon.Execute(ctx, "human-monitor-command", qmp.HumanMonitorCommandArgs{CommandLine: cmdLine})
	if err != nil {
		return fmt.Errorf("live write on %s failed: %w", driveID, err)
	}
	return nil
}

// OfflineFullBackup copies a drive's offline image into its BackupPath,
// producing the chain root without a running VM. Used when the drive's
// first online read must be left to a later job (fault injection).
func (h *Harness) OfflineFullBackup(ctx context.Context, driveID string) error {
	if h.running {
		return fmt.Errorf("cannot take offline backup of %s: VM already started", driveID)
	}
	d, err := h.drive(driveID)
	if err != nil {
		return err
	}
	return h.tool.Convert(ctx, d.Path, d.BackupPath, d.Format)
}

// Workspace returns the case's scratch directory.
func (h *Harness) Workspace() string {
	return h.dir
}

// Bitmap returns a previously created bitmap record.
func (h *Harness) Bitmap(name string) (*models.Bitmap, error) {
	b, ok := h.bitmaps[name]
	if !ok {
		return nil, fmt.Errorf("unknown bitmap %s", name)
	}
	return b, nil
}

func (h *Harness) drive(id string) (*models.Drive, error) {
	d, ok := h.drives[id]
	if !ok {
		return nil, fmt.Errorf("unknown drive %s", id)
	}
	return d, nil
}
