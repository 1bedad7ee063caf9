package cases

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/kubev2v/qemu-backup-harness/internal/harness"
	"github.com/kubev2v/qemu-backup-harness/internal/qmp"
	srvErrors "github.com/kubev2v/qemu-backup-harness/pkg/errors"
)

// genericError is the class QEMU uses for malformed or unresolvable
// requests.
const genericError = "GenericError"

func init() {
	Register(Case{
		Name:        "bitmap/granularity",
		Description: "power-of-two granularities pass, others fail before the wire",
		Run:         runGranularity,
	})
	Register(Case{
		Name:        "bitmap/not-found",
		Description: "backing up through an unknown bitmap is rejected",
		Run:         runBitmapNotFound,
	})
	Register(Case{
		Name:        "bitmap/sync-without-name",
		Description: "sync=incremental without a bitmap name is rejected",
		Run:         runSyncWithoutName,
	})
	Register(Case{
		Name:        "backup/full-then-verify",
		Description: "a plain full backup matches the live image",
		Run:         runFullThenVerify,
	})
}

func runGranularity(ctx context.Context, h *harness.Harness) error {
	if _, err := h.AddDrive(ctx, "drive0", driveSize); err != nil {
		return err
	}
	if err := h.Start(ctx); err != nil {
		return err
	}

	for _, g := range []uint64{32768, 65536, 131072} {
		if _, err := h.CreateBitmap(ctx, "drive0", fmt.Sprintf("bitmap-g%d", g), g); err != nil {
			return fmt.Errorf("granularity %d should be accepted: %w", g, err)
		}
	}

	for _, g := range []uint64{4097, 65535, 1000000} {
		_, err := h.CreateBitmap(ctx, "drive0", "bitmap-bad", g)
		if err == nil {
			return fmt.Errorf("granularity %d was not rejected", g)
		}
		if !srvErrors.IsBadGranularityError(err) {
			return fmt.Errorf("granularity %d rejected with the wrong error: %w", g, err)
		}
	}

	return h.Stop(ctx)
}

func runBitmapNotFound(ctx context.Context, h *harness.Harness) error {
	if _, err := h.AddDrive(ctx, "drive0", driveSize); err != nil {
		return err
	}
	if err := h.Start(ctx); err != nil {
		return err
	}

	err := h.ExpectBackupRejected(ctx, qmp.DriveBackupArgs{
		Device: "drive0",
		Target: filepath.Join(h.Workspace(), "never-created.qcow2"),
		Format: "qcow2",
		Sync:   "incremental",
		Bitmap: "no-such-bitmap",
	}, genericError)
	if err != nil {
		return err
	}
	return h.Stop(ctx)
}

func runSyncWithoutName(ctx context.Context, h *harness.Harness) error {
	if _, err := h.AddDrive(ctx, "drive0", driveSize); err != nil {
		return err
	}
	if err := h.Start(ctx); err != nil {
		return err
	}

	err := h.ExpectBackupRejected(ctx, qmp.DriveBackupArgs{
		Device: "drive0",
		Target: filepath.Join(h.Workspace(), "never-created.qcow2"),
		Format: "qcow2",
		Sync:   "incremental",
	}, genericError)
	if err != nil {
		return err
	}
	return h.Stop(ctx)
}

func runFullThenVerify(ctx context.Context, h *harness.Harness) error {
	if _, err := h.AddDrive(ctx, "drive0", driveSize); err != nil {
		return err
	}
	if err := h.SeedPattern(ctx, "drive0", 0x42, 0, 8*mib); err != nil {
		return err
	}
	if err := h.Start(ctx); err != nil {
		return err
	}

	if err := h.WriteLive(ctx, "drive0", 0x43, 12*mib, 2*mib); err != nil {
		return err
	}
	if err := h.FullBackup(ctx, "drive0"); err != nil {
		return err
	}
	if err := h.Stop(ctx); err != nil {
		return err
	}
	return h.VerifyFullBackup(ctx, "drive0")
}
