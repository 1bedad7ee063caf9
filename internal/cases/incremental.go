package cases

import (
	"context"
	"errors"
	"fmt"

	"github.com/kubev2v/qemu-backup-harness/internal/harness"
	"github.com/kubev2v/qemu-backup-harness/internal/models"
	srvErrors "github.com/kubev2v/qemu-backup-harness/pkg/errors"
)

const (
	driveSize   = 64 * 1024 * 1024
	granularity = 65536
	mib         = 1024 * 1024

	// errno 5 through blkdebug surfaces as this text on the completion event.
	expectedFaultText = "Input/output error"
)

func init() {
	Register(Case{
		Name:        "incremental/simple",
		Description: "two write rounds produce a two-link chain that verifies",
		Run:         runIncrementalSimple,
	})
	Register(Case{
		Name:        "incremental/chain",
		Description: "four write rounds produce a four-link chain that verifies",
		Run:         runIncrementalChain,
	})
	Register(Case{
		Name:        "incremental/failure-rollback",
		Description: "an injected I/O fault discards the link and the chain recovers",
		Run:         runIncrementalFailure,
	})
}

// writeRound is one batch of live writes between two incremental backups.
type writeRound struct {
	pattern byte
	offset  int64
	length  int64
}

func runIncrementalChain(ctx context.Context, h *harness.Harness) error {
	return incrementalChain(ctx, h, []writeRound{
		{0xa7, 0, mib},
		{0x5d, 8 * mib, 2 * mib},
		{0xc3, 3 * mib, mib},
		{0x1e, 30 * mib, 4 * mib},
	})
}

func runIncrementalSimple(ctx context.Context, h *harness.Harness) error {
	return incrementalChain(ctx, h, []writeRound{
		{0x66, 0, 2 * mib},
		{0x99, 16 * mib, mib},
	})
}

func incrementalChain(ctx context.Context, h *harness.Harness, rounds []writeRound) error {
	if _, err := h.AddDrive(ctx, "drive0", driveSize); err != nil {
		return err
	}
	if err := h.SeedPattern(ctx, "drive0", 0x11, 0, 4*mib); err != nil {
		return err
	}
	if err := h.Start(ctx); err != nil {
		return err
	}

	// The bitmap goes in before the chain root so every later write is
	// tracked relative to that root.
	if _, err := h.CreateBitmap(ctx, "drive0", "bitmap0", granularity); err != nil {
		return err
	}
	if err := h.FullBackup(ctx, "drive0"); err != nil {
		return err
	}

	for i, round := range rounds {
		if err := h.WriteLive(ctx, "drive0", round.pattern, round.offset, round.length); err != nil {
			return fmt.Errorf("write round %d: %w", i+1, err)
		}
		if err := h.IncrementalBackup(ctx, "bitmap0"); err != nil {
			return fmt.Errorf("incremental backup %d: %w", i+1, err)
		}
	}

	if err := h.Stop(ctx); err != nil {
		return err
	}
	return h.Verify(ctx, "bitmap0")
}

func runIncrementalFailure(ctx context.Context, h *harness.Harness) error {
	// The first read from the live image fails exactly once, so the first
	// backup job that reads it dies mid-execution. The chain root is taken
	// offline to keep that first read for the incremental job.
	_, err := h.AddFaultyDrive(ctx, "drive0", driveSize, models.FaultConfig{
		Event: "read_aio",
		Errno: 5,
		Once:  true,
	})
	if err != nil {
		return err
	}
	if err := h.SeedPattern(ctx, "drive0", 0x2b, 0, 4*mib); err != nil {
		return err
	}
	if err := h.OfflineFullBackup(ctx, "drive0"); err != nil {
		return err
	}
	if err := h.Start(ctx); err != nil {
		return err
	}

	if _, err := h.CreateBitmap(ctx, "drive0", "bitmap0", granularity); err != nil {
		return err
	}
	if err := h.WriteLive(ctx, "drive0", 0x77, 10*mib, 2*mib); err != nil {
		return err
	}

	err = h.IncrementalBackup(ctx, "bitmap0")
	if err == nil {
		return errors.New("incremental backup succeeded despite injected fault")
	}
	if !srvErrors.IsBackupFailedError(err) {
		return fmt.Errorf("expected a mid-job backup failure, got: %w", err)
	}
	var failed *srvErrors.BackupFailedError
	errors.As(err, &failed)
	if failed.Message != expectedFaultText {
		return fmt.Errorf("fault reported %q, want %q", failed.Message, expectedFaultText)
	}

	b, err := h.Bitmap("bitmap0")
	if err != nil {
		return err
	}
	if b.Len() != 0 {
		return fmt.Errorf("failed link was committed: chain has %d entries", b.Len())
	}

	// The fault was one-shot; the retry must re-parent onto the chain root
	// and still capture every write since the bitmap was created.
	if err := h.IncrementalBackup(ctx, "bitmap0"); err != nil {
		return fmt.Errorf("retry after fault: %w", err)
	}

	if err := h.WriteLive(ctx, "drive0", 0x88, 20*mib, mib); err != nil {
		return err
	}
	if err := h.IncrementalBackup(ctx, "bitmap0"); err != nil {
		return fmt.Errorf("incremental backup after recovery: %w", err)
	}

	if err := h.Stop(ctx); err != nil {
		return err
	}
	return h.Verify(ctx, "bitmap0")
}
