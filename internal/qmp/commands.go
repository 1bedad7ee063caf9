package qmp

import "encoding/json"

// Args is the sealed interface implemented by all typed command arguments.
type Args interface {
	qmpArgs()
}

// BlockDirtyBitmapAddArgs creates a dirty bitmap on a block node.
type BlockDirtyBitmapAddArgs struct {
	Node        string `json:"node"`
	Name        string `json:"name"`
	Granularity uint64 `json:"granularity,omitempty"`
}

func (BlockDirtyBitmapAddArgs) qmpArgs() {}

// BlockDirtyBitmapClearArgs resets a dirty bitmap to all-clean.
type BlockDirtyBitmapClearArgs struct {
	Node string `json:"node"`
	Name string `json:"name"`
}

func (BlockDirtyBitmapClearArgs) qmpArgs() {}

// DriveBackupArgs starts a backup job for a drive. Sync is "full" or
// "incremental"; incremental jobs additionally name the bitmap to copy
// dirty clusters from. Mode "existing" writes into a pre-created target,
// which is how differencing images keep their backing link.
type DriveBackupArgs struct {
	Device string `json:"device"`
	Target string `json:"target"`
	Format string `json:"format,omitempty"`
	Sync   string `json:"sync"`
	Bitmap string `json:"bitmap,omitempty"`
	Mode   string `json:"mode,omitempty"`
}

func (DriveBackupArgs) qmpArgs() {}

// HumanMonitorCommandArgs tunnels an HMP command, used for qemu-io writes
// against a drive of the running VM.
type HumanMonitorCommandArgs struct {
	CommandLine string `json:"command-line"`
}

func (HumanMonitorCommandArgs) qmpArgs() {}

// BlockJobCompletedEvent is the payload of a BLOCK_JOB_COMPLETED event.
// Error is only present when the job failed.
type BlockJobCompletedEvent struct {
	Device string `json:"device"`
	Type   string `json:"type"`
	Len    int64  `json:"len"`
	Offset int64  `json:"offset"`
	Speed  int64  `json:"speed"`
	Error  string `json:"error,omitempty"`
}

// ParseBlockJobCompleted decodes a BLOCK_JOB_COMPLETED event payload.
func ParseBlockJobCompleted(data json.RawMessage) (BlockJobCompletedEvent, error) {
	var ev BlockJobCompletedEvent
	err := json.Unmarshal(data, &ev)
	return ev, err
}

// EventBlockJobCompleted is the event name emitted when a block job ends.
const EventBlockJobCompleted = "BLOCK_JOB_COMPLETED"
