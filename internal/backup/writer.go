package backup

import (
	"context"

	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/mediadex/internal/store"
	"github.com/mesh-intelligence/mediadex/pkg/types"
)

// defaultBatchSize bounds how many rows one backup batch serializes. The
// cancellation signal is checked between batches, so this is also the
// cancellation latency in rows.
const defaultBatchSize = 200

// Writer keeps the backup logs eventually consistent with the relational
// store's backup-eligible rows. It runs on a dedicated maintenance path
// driven by an external idle scheduler, never on a caller's request thread.
type Writer struct {
	log       *zap.Logger
	store     *store.Store
	logs      *Logs
	batchSize int
}

// NewWriter returns a maintenance writer over the given store and logs.
func NewWriter(log *zap.Logger, st *store.Store, logs *Logs) *Writer {
	return &Writer{log: log, store: st, logs: logs, batchSize: defaultBatchSize}
}

// RunPass executes one maintenance pass over every mounted stable-id volume.
// Each volume advances its checkpoint only after its batches committed to
// the log, so a crash mid-pass re-backs-up rows instead of losing them.
// Volume failures are collected; one bad volume does not stop the others.
func (w *Writer) RunPass(ctx context.Context) error {
	var group errs.Group
	for _, volume := range w.store.MountedVolumes() {
		if !w.store.StableIDsEnabled(volume) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.syncVolume(ctx, volume); err != nil {
			w.log.Warn("backup pass failed for volume",
				zap.String("volume", volume), zap.Error(err))
			group.Add(err)
		}
	}
	return group.Err()
}

// syncVolume copies rows modified past the checkpoint into the volume's
// backup log and removes entries for hard-deleted rows.
func (w *Writer) syncVolume(ctx context.Context, volume string) error {
	l, err := w.logs.For(volume)
	if err != nil {
		return err
	}

	checkpoint, err := w.store.BackupCheckpoint(volume)
	if err != nil {
		return types.BackupWriteError.Wrap(err)
	}
	if l.Wiped() {
		// The log lost its contents while opening; restart from zero
		// so the full store is resynced.
		checkpoint = 0
		if err := w.store.SetBackupCheckpoint(volume, 0); err != nil {
			return types.BackupWriteError.Wrap(err)
		}
		l.ClearWiped()
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		rows, err := w.store.RowsModifiedSince(volume, checkpoint, w.batchSize)
		if err != nil {
			return types.BackupWriteError.Wrap(err)
		}
		if len(rows) == 0 {
			break
		}

		batch := make(map[string]types.BackupEntry, len(rows))
		var stale []string
		for _, r := range rows {
			if r.BackupEligible() {
				batch[r.Path] = EntryFromRow(r)
			} else {
				// A row that slid out of eligibility must not
				// leave a resurrectable entry behind.
				stale = append(stale, r.Path)
			}
		}
		if err := w.writeBatch(l, batch); err != nil {
			return err
		}
		for _, path := range stale {
			if err := l.Delete(path); err != nil {
				return err
			}
		}

		// The checkpoint advances only past committed work.
		checkpoint = rows[len(rows)-1].GenerationModified
		if err := w.store.SetBackupCheckpoint(volume, checkpoint); err != nil {
			return types.BackupWriteError.Wrap(err)
		}
	}

	return w.processTombstones(volume, l)
}

// writeBatch commits one batch, retrying once within the pass for transient
// failures. A second failure is reported and retried on the next pass.
func (w *Writer) writeBatch(l *Log, batch map[string]types.BackupEntry) error {
	if len(batch) == 0 {
		return nil
	}
	if err := l.BulkInsert(batch); err != nil {
		w.log.Debug("batch insert failed, retrying once", zap.Error(err))
		if err := l.BulkInsert(batch); err != nil {
			return err
		}
	}
	return nil
}

// processTombstones removes backup entries for hard-deleted rows, keyed by
// the row's last known path, then clears the processed tombstones.
func (w *Writer) processTombstones(volume string, l *Log) error {
	tombstones, err := w.store.Tombstones(volume)
	if err != nil {
		return types.BackupWriteError.Wrap(err)
	}
	if len(tombstones) == 0 {
		return nil
	}
	var maxID int64
	for _, t := range tombstones {
		if err := l.Delete(t.Path); err != nil {
			return err
		}
		maxID = t.ID
	}
	if err := w.store.ClearTombstones(volume, maxID); err != nil {
		return types.BackupWriteError.Wrap(err)
	}
	w.log.Debug("processed delete tombstones",
		zap.String("volume", volume), zap.Int("count", len(tombstones)))
	return nil
}
