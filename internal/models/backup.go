package models

import (
	"fmt"
	"path/filepath"
)

// Drive describes a disk attached to the VM under test. It is created once
// per case and never mutated by the harness afterwards; only the external
// process writes to the live image.
type Drive struct {
	// ID is the QEMU device identifier (e.g. "drive0").
	ID string
	// Path is the live image the VM writes to.
	Path string
	// BackupPath is where the initial full backup of this drive goes. It is
	// the root of every incremental chain built against the drive.
	BackupPath string
	// Format is the image format tag ("qcow2" or "raw").
	Format string
	// Fault, when set, wraps the live image in a blkdebug node so that a
	// backup job reading from it fails mid-execution.
	Fault *FaultConfig
}

// FaultConfig describes a blkdebug error injection rule.
type FaultConfig struct {
	// Event is the blkdebug event to trip on (e.g. "read_aio").
	Event string
	// Errno is the errno reported to the job. 5 yields "Input/output error".
	Errno int
	// Once limits the injection to a single occurrence.
	Once bool
}

// BackupPair is one link of an incremental chain: the incremental target and
// the independently taken full "reference" backup at the same position.
type BackupPair struct {
	Target    string
	Reference string
}

// Bitmap tracks a dirty bitmap and the ordered backups taken through it.
// The invariant maintained by the harness: Pairs[n] is the nth incremental
// backup, and the backing file of incremental n+1 is Pairs[n].Target (or the
// drive's initial full backup when n == 0).
type Bitmap struct {
	Name  string
	Drive string

	seq   int
	Pairs []BackupPair
}

func NewBitmap(name, drive string) *Bitmap {
	return &Bitmap{Name: name, Drive: drive}
}

// NextTarget reserves the next sequence number and returns the paths for the
// incremental target and its reference backup inside dir.
func (b *Bitmap) NextTarget(dir string) (target, reference string) {
	b.seq++
	target = filepath.Join(dir, fmt.Sprintf("%s.%s.inc.%d.qcow2", b.Drive, b.Name, b.seq))
	reference = filepath.Join(dir, fmt.Sprintf("%s.%s.ref.%d.qcow2", b.Drive, b.Name, b.seq))
	return target, reference
}

// Rollback undoes the last NextTarget reservation after a failed backup so
// that the following attempt re-parents onto the last successful image.
func (b *Bitmap) Rollback() {
	if b.seq > 0 {
		b.seq--
	}
}

// Commit records a successfully completed pair.
func (b *Bitmap) Commit(target, reference string) {
	b.Pairs = append(b.Pairs, BackupPair{Target: target, Reference: reference})
}

// Last returns the most recent successful incremental target, or ok=false
// when the chain is empty and the parent must be the initial full backup.
func (b *Bitmap) Last() (string, bool) {
	if len(b.Pairs) == 0 {
		return "", false
	}
	return b.Pairs[len(b.Pairs)-1].Target, true
}

// Len returns the number of completed links in the chain.
func (b *Bitmap) Len() int {
	return len(b.Pairs)
}
