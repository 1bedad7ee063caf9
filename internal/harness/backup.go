package harness

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/kubev2v/qemu-backup-harness/internal/models"
	"github.com/kubev2v/qemu-backup-harness/internal/qmp"
	srvErrors "github.com/kubev2v/qemu-backup-harness/pkg/errors"
)

// CreateBitmap adds a dirty bitmap to a drive. A granularity that is not a
// power of two is a caller-side contract violation and is rejected here,
// before any protocol round-trip. granularity 0 leaves the choice to QEMU.
func (h *Harness) CreateBitmap(ctx context.Context, driveID, name string, granularity uint64) (*models.Bitmap, error) {
	d, err := h.drive(driveID)
	if err != nil {
		return nil, err
	}
	if granularity != 0 && granularity&(granularity-1) != 0 {
		return nil, srvErrors.NewBadGranularityError(granularity)
	}

	_, err = h.mon.Execute(ctx, "block-dirty-bitmap-add", qmp.BlockDirtyBitmapAddArgs{
		Node:        d.ID,
		Name:        name,
		Granularity: granularity,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add bitmap %s on %s: %w", name, driveID, err)
	}

	b := models.NewBitmap(name, driveID)
	h.bitmaps[name] = b
	h.log.Debugw("created bitmap", "drive", driveID, "bitmap", name, "granularity", granularity)
	return b, nil
}

// FullBackup takes a full backup of the drive into its BackupPath, the
// root every incremental chain against this drive hangs off.
func (h *Harness) FullBackup(ctx context.Context, driveID string) error {
	d, err := h.drive(driveID)
	if err != nil {
		return err
	}
	return h.backup(ctx, qmp.DriveBackupArgs{
		Device: d.ID,
		Target: d.BackupPath,
		Format: d.Format,
		Sync:   "full",
	})
}

// FullBackupTo takes a full backup of the drive into an arbitrary target.
func (h *Harness) FullBackupTo(ctx context.Context, driveID, target string) error {
	d, err := h.drive(driveID)
	if err != nil {
		return err
	}
	return h.backup(ctx, qmp.DriveBackupArgs{
		Device: d.ID,
		Target: target,
		Format: d.Format,
		Sync:   "full",
	})
}

// IncrementalBackup extends the bitmap's chain by one link. The target is a
// differencing image whose backing file is the previous link (or the
// initial full backup), so restoring any link replays the whole chain.
//
// On a mid-job failure the just-created target is removed and the sequence
// counter rolled back: the next attempt re-parents onto the last good
// image and the chain stays consistent. On success a same-content full
// "reference" backup of the live drive is also taken for later comparison.
func (h *Harness) IncrementalBackup(ctx context.Context, bitmapName string) error {
	b, err := h.Bitmap(bitmapName)
	if err != nil {
		return err
	}
	d, err := h.drive(b.Drive)
	if err != nil {
		return err
	}

	parent, ok := b.Last()
	if !ok {
		parent = d.BackupPath
	}

	target, reference := b.NextTarget(h.dir)
	if err := h.tool.CreateOverlay(ctx, target, d.Format, parent, d.Format); err != nil {
		b.Rollback()
		return err
	}

	err = h.backup(ctx, qmp.DriveBackupArgs{
		Device: d.ID,
		Target: target,
		Format: d.Format,
		Sync:   "incremental",
		Bitmap: b.Name,
		Mode:   "existing",
	})
	if err != nil {
		b.Rollback()
		if rmErr := os.Remove(target); rmErr != nil && !os.IsNotExist(rmErr) {
			h.log.Warnw("failed to remove discarded target", "target", target, "error", rmErr)
		}
		return err
	}

	if err := h.FullBackupTo(ctx, d.ID, reference); err != nil {
		return fmt.Errorf("reference backup for link %d failed: %w", b.Len()+1, err)
	}

	b.Commit(target, reference)
	h.log.Debugw("incremental backup completed", "bitmap", b.Name, "link", b.Len(), "target", target)
	return nil
}

// backup submits a drive-backup request and blocks until the completion
// event for that device arrives. A rejected submission surfaces as
// *qmp.Error; an accepted job that fails mid-execution surfaces as
// *BackupFailedError carrying the event's error text.
func (h *Harness) backup(ctx context.Context, args qmp.DriveBackupArgs) error {
	if !h.running {
		return fmt.Errorf("cannot back up %s: VM not running", args.Device)
	}

	if _, err := h.mon.Execute(ctx, "drive-backup", args); err != nil {
		return err
	}

	ev, err := h.mon.WaitForEvent(ctx, qmp.EventBlockJobCompleted, func(ev qmp.Event) bool {
		parsed, perr := qmp.ParseBlockJobCompleted(ev.Data)
		return perr == nil && parsed.Device == args.Device
	}, h.eventTimeout)
	if err != nil {
		return fmt.Errorf("waiting for backup completion on %s: %w", args.Device, err)
	}

	parsed, err := qmp.ParseBlockJobCompleted(ev.Data)
	if err != nil {
		return fmt.Errorf("malformed completion event for %s: %w", args.Device, err)
	}
	if parsed.Error != "" {
		return srvErrors.NewBackupFailedError(args.Device, parsed.Error)
	}
	return nil
}

// ExpectBackupRejected submits a drive-backup request that must be turned
// away at submission time with the given error class.
func (h *Harness) ExpectBackupRejected(ctx context.Context, args qmp.DriveBackupArgs, class string) error {
	if !h.running {
		return fmt.Errorf("cannot back up %s: VM not running", args.Device)
	}

	_, err := h.mon.Execute(ctx, "drive-backup", args)
	if err == nil {
		return fmt.Errorf("drive-backup on %s was unexpectedly accepted", args.Device)
	}

	var qmpErr *qmp.Error
	if !errors.As(err, &qmpErr) {
		return fmt.Errorf("drive-backup on %s failed outside the protocol: %w", args.Device, err)
	}
	if qmpErr.Class != class {
		return fmt.Errorf("drive-backup on %s rejected with class %s, want %s (%s)",
			args.Device, qmpErr.Class, class, qmpErr.Desc)
	}
	return nil
}

// Verify asserts, for a shut-down VM, that every (incremental, reference)
// pair of the bitmap's chain is byte-identical and that the final link
// matches the live drive content.
func (h *Harness) Verify(ctx context.Context, bitmapName string) error {
	if h.running {
		return fmt.Errorf("cannot verify while the VM is running")
	}
	b, err := h.Bitmap(bitmapName)
	if err != nil {
		return err
	}
	d, err := h.drive(b.Drive)
	if err != nil {
		return err
	}
	if b.Len() == 0 {
		return fmt.Errorf("bitmap %s has no completed backups to verify", bitmapName)
	}

	for i, pair := range b.Pairs {
		same, err := h.tool.Compare(ctx, pair.Target, pair.Reference, d.Format)
		if err != nil {
			return fmt.Errorf("comparing link %d of %s: %w", i+1, bitmapName, err)
		}
		if !same {
			return srvErrors.NewVerificationError(pair.Target, pair.Reference)
		}
	}

	final := b.Pairs[b.Len()-1].Target
	same, err := h.tool.Compare(ctx, final, d.Path, d.Format)
	if err != nil {
		return fmt.Errorf("comparing final link of %s against live image: %w", bitmapName, err)
	}
	if !same {
		return srvErrors.NewVerificationError(final, d.Path)
	}
	return nil
}

// VerifyFullBackup asserts that a drive's initial full backup matches the
// live image of the shut-down VM.
func (h *Harness) VerifyFullBackup(ctx context.Context, driveID string) error {
	if h.running {
		return fmt.Errorf("cannot verify while the VM is running")
	}
	d, err := h.drive(driveID)
	if err != nil {
		return err
	}
	same, err := h.tool.Compare(ctx, d.BackupPath, d.Path, d.Format)
	if err != nil {
		return err
	}
	if !same {
		return srvErrors.NewVerificationError(d.BackupPath, d.Path)
	}
	return nil
}
