package errors

import (
	"errors"
	"fmt"
)

// ResourceNotFoundError is returned when a stored resource cannot be found.
type ResourceNotFoundError struct {
	resource string
	id       string
}

func (e *ResourceNotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.resource, e.id)
}

func NewRunNotFoundError(id string) error {
	return &ResourceNotFoundError{resource: "run", id: id}
}

func NewCaseNotFoundError(name string) error {
	return &ResourceNotFoundError{resource: "case", id: name}
}

func IsResourceNotFoundError(err error) bool {
	var e *ResourceNotFoundError
	return errors.As(err, &e)
}

// BackupFailedError is returned when a backup job was accepted by QEMU but
// failed mid-execution. Message carries the error text from the completion
// event verbatim.
type BackupFailedError struct {
	Device  string
	Message string
}

func (e *BackupFailedError) Error() string {
	return fmt.Sprintf("backup job on device %q failed: %s", e.Device, e.Message)
}

func NewBackupFailedError(device, message string) error {
	return &BackupFailedError{Device: device, Message: message}
}

func IsBackupFailedError(err error) bool {
	var e *BackupFailedError
	return errors.As(err, &e)
}

// BadGranularityError is returned for bitmap granularities that violate the
// caller-side contract. It is raised before any protocol round-trip.
type BadGranularityError struct {
	granularity uint64
}

func (e *BadGranularityError) Error() string {
	return fmt.Sprintf("granularity %d is not a power of two", e.granularity)
}

func NewBadGranularityError(granularity uint64) error {
	return &BadGranularityError{granularity: granularity}
}

func IsBadGranularityError(err error) bool {
	var e *BadGranularityError
	return errors.As(err, &e)
}

// VerificationError is returned when two images that must be byte-identical
// are not.
type VerificationError struct {
	A string
	B string
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("images differ: %s vs %s", e.A, e.B)
}

func NewVerificationError(a, b string) error {
	return &VerificationError{A: a, B: b}
}

func IsVerificationError(err error) bool {
	var e *VerificationError
	return errors.As(err, &e)
}
