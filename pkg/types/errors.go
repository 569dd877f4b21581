package types

import (
	"errors"

	"github.com/zeebo/errs"
)

// Error classes for failures that cross the volume-open boundary. Callers
// match with the class's Has method so observability collaborators can react
// per category.
var (
	// MigrationError is fatal: the open operation aborts and no partially
	// migrated state is exposed.
	MigrationError = errs.Class("migration")

	// BackupWriteError is non-fatal: the failed batch is retried on the
	// following maintenance pass.
	BackupWriteError = errs.Class("backup write")

	// BackupUnavailableError means the backup log could not be opened or
	// healed; the volume degrades to no-backup mode.
	BackupUnavailableError = errs.Class("backup store unavailable")

	// RecoveryCollisionError is per-row: the row keeps its original id or
	// is not recovered at all, and the collision is counted in the summary.
	RecoveryCollisionError = errs.Class("recovery collision")

	// CounterUnsupportedError means the durable counter node does not
	// support extended attributes; stable-id mode degrades off for the
	// affected volume.
	CounterUnsupportedError = errs.Class("durable counter unsupported")
)

// Sentinel errors for per-call conditions.
var (
	ErrNotFound      = errors.New("not found")
	ErrClosed        = errors.New("store closed")
	ErrInvalidPath   = errors.New("invalid path")
	ErrUnknownVolume = errors.New("unknown volume")
	ErrRowExists     = errors.New("row id already occupied")
	ErrPathExists    = errors.New("path already indexed")
)

// Config validation errors.
var (
	ErrDataDirEmpty      = errors.New("data dir must not be empty")
	ErrNoVolumes         = errors.New("at least one volume must be configured")
	ErrVolumeNameEmpty   = errors.New("volume name must not be empty")
	ErrVolumeRootEmpty   = errors.New("volume root must not be empty")
	ErrVolumeNameRepeats = errors.New("volume names must be unique")
)
