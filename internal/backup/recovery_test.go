package backup

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mesh-intelligence/mediadex/internal/durable"
	"github.com/mesh-intelligence/mediadex/internal/store"
	"github.com/mesh-intelligence/mediadex/pkg/types"
)

func TestDowngradeRecoveryPreservesIDsAndSkipsDirty(t *testing.T) {
	h := newHarness(t)
	st := h.open(store.LatestVersion)

	var rows []types.Row
	for _, path := range []string{"/a.jpg", "/b.jpg", "/c.jpg", "/d.jpg", "/e.jpg"} {
		rows = append(rows, h.insert(st, path))
	}
	h.runPass(st)

	// The last row was caught mid-write; its snapshot cannot be trusted.
	require.NoError(t, h.volumeLog().MarkDirty(rows[4].Path))

	// Downgrade destroys the store, then recovery replays the log.
	st = h.open(store.LatestVersion - 1)

	stats, ok := st.RecoveryStats(types.VolumeInternal)
	require.True(t, ok)
	assert.Equal(t, 4, stats.Recovered)
	assert.Equal(t, 1, stats.SkippedDirty)
	assert.Zero(t, stats.Collisions)

	for _, row := range rows[:4] {
		got, err := st.GetRow(row.ID)
		require.NoError(t, err)
		assert.Equal(t, row.Path, got.Path, "recovered rows keep their pre-loss ids")
		assert.Equal(t, types.ModifierMediaScan, got.Modifier)
	}
	_, err := st.GetRow(rows[4].ID)
	assert.ErrorIs(t, err, types.ErrNotFound, "dirty entries are omitted, not resurrected")

	// The dirty row's id stays burned even though the row is gone.
	fresh := h.insert(st, "/f.jpg")
	assert.Equal(t, rows[4].ID+1, fresh.ID)
}

func TestRepeatedLossNeverReusesIDs(t *testing.T) {
	h := newHarness(t)
	seen := make(map[int64]string)
	record := func(r types.Row) {
		prev, dup := seen[r.ID]
		require.False(t, dup, "id %d handed out twice: %s then %s", r.ID, prev, r.Path)
		seen[r.ID] = r.Path
	}

	st := h.open(store.LatestVersion)
	record(h.insert(st, "/a.jpg"))
	record(h.insert(st, "/b.jpg"))
	h.runPass(st)

	// First loss: downgrade, recover, then lose the backup log too and
	// resync it from the recovered store.
	st = h.open(store.LatestVersion - 1)
	stats, ok := st.RecoveryStats(types.VolumeInternal)
	require.True(t, ok)
	assert.Equal(t, 2, stats.Recovered)

	l := h.volumeLog()
	require.NoError(t, l.Wipe())
	l.wiped = true
	h.runPass(st)

	record(h.insert(st, "/c.jpg"))
	h.runPass(st)

	// Second loss.
	st = h.open(store.LatestVersion - 2)
	stats, ok = st.RecoveryStats(types.VolumeInternal)
	require.True(t, ok)
	assert.Equal(t, 3, stats.Recovered)

	record(h.insert(st, "/d.jpg"))

	total, err := st.CountRows(types.VolumeInternal)
	require.NoError(t, err)
	assert.Equal(t, int64(4), total)
}

func TestStoreLossDetectedByDurableCounter(t *testing.T) {
	h := newHarness(t)
	st := h.open(store.LatestVersion)

	row := h.insert(st, "/a.jpg")
	h.runPass(st)
	require.NoError(t, st.Close())

	// The database file vanishes; the volume, its counters, and its backup
	// log are all still there.
	for _, suffix := range []string{"", "-wal", "-shm"} {
		_ = os.Remove(filepath.Join(h.dir, "index.db"+suffix))
	}
	h.store = nil

	st = h.open(store.LatestVersion)
	stats, ok := st.RecoveryStats(types.VolumeInternal)
	require.True(t, ok, "a fresh file with a nonzero counter is a loss, not a first run")
	assert.Equal(t, 1, stats.Recovered)

	got, err := st.GetRow(row.ID)
	require.NoError(t, err)
	assert.Equal(t, row.Path, got.Path)
}

func TestRecoveryCountsCollisionsWithoutRenumbering(t *testing.T) {
	h := newHarness(t)
	st := h.open(store.LatestVersion)

	// The log claims id 1 for a path the live store has already reassigned.
	l := h.volumeLog()
	require.NoError(t, l.Insert("/stale.jpg", types.BackupEntry{RowID: 1, MimeType: "image/jpeg"}))
	require.NoError(t, l.Insert("/new.jpg", types.BackupEntry{RowID: 7, MimeType: "image/jpeg"}))

	live := h.insert(st, "/live.jpg")
	require.Equal(t, int64(1), live.ID)

	rec := NewRecovery(zaptest.NewLogger(t), h.logs)
	stats, err := rec.Recover(st, types.VolumeInternal)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Recovered)
	assert.Equal(t, 1, stats.Collisions)

	got, err := st.GetRow(1)
	require.NoError(t, err)
	assert.Equal(t, "/live.jpg", got.Path, "the occupant wins, the log entry is never forced in")

	// The counter moved past every id seen in the log, collision included.
	next := h.insert(st, "/after.jpg")
	assert.Greater(t, next.ID, int64(7))
}

func TestRecoveryUnavailableDegradesToEmptyStore(t *testing.T) {
	dir := t.TempDir()
	counters := durable.NewMapStore()
	cfg := types.Config{
		DataDir: dir,
		Volumes: []types.VolumeConfig{{Name: types.VolumeInternal, Root: dir, StableIDs: true}},
	}
	opts := store.Options{
		Logger:   zaptest.NewLogger(t),
		Counters: func(types.VolumeConfig) durable.Store { return counters },
		Recover: func(*store.Store, string) (types.RecoveryStats, error) {
			return types.RecoveryStats{}, types.BackupUnavailableError.New("log gone")
		},
	}

	st, err := store.Open(cfg, opts)
	require.NoError(t, err)
	r := types.Row{Path: "/a.jpg", Volume: types.VolumeInternal, MimeType: "image/jpeg"}
	require.NoError(t, st.InsertRow(&r))
	require.NoError(t, st.Close())

	opts.TargetVersion = store.LatestVersion - 1
	st, err = store.Open(cfg, opts)
	require.NoError(t, err, "total backup unavailability must not fail the open")
	defer st.Close()

	_, ok := st.RecoveryStats(types.VolumeInternal)
	assert.False(t, ok)
	count, err := st.CountRows(types.VolumeInternal)
	require.NoError(t, err)
	assert.Zero(t, count, "no backup means the store comes back empty")
}
