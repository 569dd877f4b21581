package backup

import (
	"go.uber.org/zap"

	"github.com/mesh-intelligence/mediadex/internal/store"
	"github.com/mesh-intelligence/mediadex/pkg/types"
)

// recoveryPageSize bounds one page of the paginated key scan during replay.
const recoveryPageSize = 500

// Recovery replays a volume's backup log into a freshly created store so
// externally held row references keep resolving. It is invoked from the
// store's downgrade path or from an explicit repair request, and runs to
// completion before the volume is opened for general queries.
type Recovery struct {
	log  *zap.Logger
	logs *Logs
}

// NewRecovery returns a coordinator reading from the given backup logs.
func NewRecovery(log *zap.Logger, logs *Logs) *Recovery {
	return &Recovery{log: log, logs: logs}
}

// Recover satisfies store.RecoverFunc. It replays every non-dirty entry,
// preserving original row ids; a row whose id is already occupied is counted
// and logged, never silently renumbered. Afterwards the volume's durable
// counter is advanced past every id seen in the log, dirty and collided
// entries included, so no future allocation can reuse one.
func (r *Recovery) Recover(st *store.Store, volume string) (types.RecoveryStats, error) {
	var stats types.RecoveryStats

	l, err := r.logs.For(volume)
	if err != nil {
		// Backup unavailable: the caller keeps the empty store.
		return stats, err
	}

	var (
		lastPath string
		maxSeen  int64
	)
	for {
		keys, err := l.Scan(lastPath, recoveryPageSize)
		if err != nil {
			return stats, types.BackupUnavailableError.Wrap(err)
		}
		if len(keys) == 0 {
			break
		}
		for _, path := range keys {
			entry, err := l.Query(path)
			if err == types.ErrNotFound {
				continue // deleted between scan and read
			}
			if err != nil {
				r.log.Warn("unreadable backup entry skipped",
					zap.String("path", path), zap.Error(err))
				continue
			}
			if entry.RowID > maxSeen {
				maxSeen = entry.RowID
			}
			if entry.Dirty {
				// A dirty snapshot may not reflect the row's
				// true final state; omitting the row beats
				// resurrecting a stale one.
				stats.SkippedDirty++
				continue
			}

			row := RowFromEntry(volume, path, entry)
			switch err := st.InsertRowWithID(&row); err {
			case nil:
				stats.Recovered++
			case types.ErrRowExists:
				stats.Collisions++
				r.log.Warn("recovery collision, row not restored",
					zap.String("path", path),
					zap.Int64("row_id", entry.RowID),
					zap.Error(types.RecoveryCollisionError.New("id %d occupied", entry.RowID)))
			default:
				stats.Collisions++
				r.log.Warn("row not recovered",
					zap.String("path", path),
					zap.Int64("row_id", entry.RowID),
					zap.Error(err))
			}
		}
		lastPath = keys[len(keys)-1]
	}

	if maxSeen > 0 {
		alloc, err := st.Allocator(volume)
		if err == nil {
			if err := alloc.Advance(volume, st.UserID(), maxSeen+1); err != nil {
				r.log.Warn("counter advance after recovery failed",
					zap.String("volume", volume), zap.Error(err))
			}
		}
	}
	return stats, nil
}
