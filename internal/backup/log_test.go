package backup

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mesh-intelligence/mediadex/pkg/types"
)

func openTestLog(t *testing.T) *Log {
	t.Helper()
	l, err := openLog(zaptest.NewLogger(t), t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestLogInsertQueryDelete(t *testing.T) {
	l := openTestLog(t)

	e := types.BackupEntry{RowID: 1, MimeType: "image/png", Size: 77}
	require.NoError(t, l.Insert("/pics/a.png", e))

	got, err := l.Query("/pics/a.png")
	require.NoError(t, err)
	assert.Equal(t, e, got)

	// Re-insert replaces.
	e.Size = 99
	require.NoError(t, l.Insert("/pics/a.png", e))
	got, err = l.Query("/pics/a.png")
	require.NoError(t, err)
	assert.Equal(t, int64(99), got.Size)

	require.NoError(t, l.Delete("/pics/a.png"))
	_, err = l.Query("/pics/a.png")
	assert.ErrorIs(t, err, types.ErrNotFound)

	assert.NoError(t, l.Delete("/pics/a.png"), "deleting a missing path is fine")
}

func TestLogBulkInsert(t *testing.T) {
	l := openTestLog(t)

	batch := map[string]types.BackupEntry{
		"/a.jpg": {RowID: 1},
		"/b.jpg": {RowID: 2},
		"/c.jpg": {RowID: 3},
	}
	require.NoError(t, l.BulkInsert(batch))
	for path, want := range batch {
		got, err := l.Query(path)
		require.NoError(t, err)
		assert.Equal(t, want.RowID, got.RowID)
	}
}

func TestLogScanPaginates(t *testing.T) {
	l := openTestLog(t)

	paths := []string{"/a.jpg", "/b.jpg", "/c.jpg", "/d.jpg", "/e.jpg"}
	for i, path := range paths {
		require.NoError(t, l.Insert(path, types.BackupEntry{RowID: int64(i + 1)}))
	}

	var seen []string
	last := ""
	for {
		keys, err := l.Scan(last, 2)
		require.NoError(t, err)
		if len(keys) == 0 {
			break
		}
		assert.LessOrEqual(t, len(keys), 2)
		seen = append(seen, keys...)
		last = keys[len(keys)-1]
	}
	assert.Equal(t, paths, seen, "pagination covers every key exactly once, in order")
}

func TestLogMarkDirty(t *testing.T) {
	l := openTestLog(t)

	require.NoError(t, l.Insert("/a.jpg", types.BackupEntry{RowID: 1}))
	require.NoError(t, l.MarkDirty("/a.jpg"))

	got, err := l.Query("/a.jpg")
	require.NoError(t, err)
	assert.True(t, got.Dirty)

	assert.NoError(t, l.MarkDirty("/missing.jpg"), "dirtying an unbacked path is a no-op")
}

func TestLogWipe(t *testing.T) {
	l := openTestLog(t)

	require.NoError(t, l.Insert("/a.jpg", types.BackupEntry{RowID: 1}))
	require.NoError(t, l.Wipe())

	_, err := l.Query("/a.jpg")
	assert.ErrorIs(t, err, types.ErrNotFound)
	keys, err := l.Scan("", 10)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestLogsManagerCachesPerVolume(t *testing.T) {
	logs := NewLogs(zaptest.NewLogger(t), t.TempDir())
	defer logs.Close()

	a, err := logs.For(types.VolumeInternal)
	require.NoError(t, err)
	b, err := logs.For(types.VolumeExternalPrimary)
	require.NoError(t, err)
	assert.NotSame(t, a, b, "volumes get isolated logs")

	again, err := logs.For(types.VolumeInternal)
	require.NoError(t, err)
	assert.Same(t, a, again)

	require.NoError(t, a.Insert("/a.jpg", types.BackupEntry{RowID: 1}))
	_, err = b.Query("/a.jpg")
	assert.ErrorIs(t, err, types.ErrNotFound)
}
