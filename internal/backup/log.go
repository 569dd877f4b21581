package backup

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/mediadex/pkg/types"
)

// Log is one volume's backup store: an ordered, path-keyed, crash-tolerant
// key-value log. Writes are serialized through the maintenance writer;
// recovery scans tolerate a log that is simultaneously being written by the
// next pass (last-writer-wins per key, badger never exposes partial values).
type Log struct {
	log *zap.Logger
	db  *badger.DB
	dir string

	// wiped is set when the log failed to open and was recreated empty.
	// The next maintenance pass sees it, resets its checkpoint, and does
	// a full resync from the relational store.
	wiped bool
}

// openLog opens the badger database under dir. A corrupt store is wiped and
// reopened once; backup is best-effort and self-heals by full resync.
func openLog(log *zap.Logger, dir string) (*Log, error) {
	db, err := openBadger(log, dir)
	if err != nil {
		log.Warn("backup log unreadable, wiping", zap.String("dir", dir), zap.Error(err))
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			return nil, types.BackupUnavailableError.Wrap(rmErr)
		}
		db, err = openBadger(log, dir)
		if err != nil {
			return nil, types.BackupUnavailableError.Wrap(err)
		}
		return &Log{log: log, db: db, dir: dir, wiped: true}, nil
	}
	return &Log{log: log, db: db, dir: dir}, nil
}

func openBadger(log *zap.Logger, dir string) (*badger.DB, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	opts := badger.DefaultOptions(dir)
	opts.Logger = badgerLogger{log: log}
	return badger.Open(opts)
}

// Wiped reports whether the log lost its contents while opening.
func (l *Log) Wiped() bool { return l.wiped }

// ClearWiped acknowledges a wipe after the full resync completed.
func (l *Log) ClearWiped() { l.wiped = false }

// Close releases the underlying database.
func (l *Log) Close() error {
	return l.db.Close()
}

// Insert writes one entry keyed by canonical path, replacing any previous
// value.
func (l *Log) Insert(path string, e types.BackupEntry) error {
	err := l.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(path), EncodeEntry(e))
	})
	if err != nil {
		return types.BackupWriteError.Wrap(err)
	}
	return nil
}

// BulkInsert writes a batch of entries atomically.
func (l *Log) BulkInsert(entries map[string]types.BackupEntry) error {
	err := l.db.Update(func(txn *badger.Txn) error {
		for path, e := range entries {
			if err := txn.Set([]byte(path), EncodeEntry(e)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return types.BackupWriteError.Wrap(err)
	}
	return nil
}

// Delete removes the entry for path. Deleting a missing path is not an
// error.
func (l *Log) Delete(path string) error {
	err := l.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(path))
	})
	if err != nil {
		return types.BackupWriteError.Wrap(err)
	}
	return nil
}

// Query reads and decodes the entry for path, or types.ErrNotFound.
func (l *Log) Query(path string) (types.BackupEntry, error) {
	var entry types.BackupEntry
	err := l.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(path))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			entry, err = DecodeEntry(val)
			return err
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return types.BackupEntry{}, types.ErrNotFound
	}
	if err != nil {
		return types.BackupEntry{}, fmt.Errorf("query %s: %w", path, err)
	}
	return entry, nil
}

// MarkDirty flags the entry for path as captured mid-write. The filesystem
// proxy calls this before letting a raw write through; recovery will not
// resurrect the row from a dirty snapshot. Missing entries are ignored.
func (l *Log) MarkDirty(path string) error {
	entry, err := l.Query(path)
	if err == types.ErrNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	entry.Dirty = true
	return l.Insert(path, entry)
}

// Scan returns up to limit path keys strictly after lastPath, in key order.
// An empty lastPath starts from the beginning; an empty result ends the
// pagination.
func (l *Log) Scan(lastPath string, limit int) ([]string, error) {
	var keys []string
	err := l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		if lastPath == "" {
			it.Rewind()
		} else {
			it.Seek(append([]byte(lastPath), 0))
		}
		for ; it.Valid() && len(keys) < limit; it.Next() {
			keys = append(keys, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan after %q: %w", lastPath, err)
	}
	return keys, nil
}

// Wipe drops every entry. Used when the relational store needs a full
// resync to rebuild the log from scratch.
func (l *Log) Wipe() error {
	if err := l.db.DropAll(); err != nil {
		return types.BackupWriteError.Wrap(err)
	}
	return nil
}

// Logs manages the per-volume backup logs under a data directory, opened
// lazily and cached.
type Logs struct {
	log *zap.Logger
	dir string

	mu   sync.Mutex
	open map[string]*Log
}

// NewLogs returns a manager rooted at dataDir; volume logs live under
// dataDir/backup/<volume>.
func NewLogs(log *zap.Logger, dataDir string) *Logs {
	return &Logs{
		log:  log,
		dir:  filepath.Join(dataDir, "backup"),
		open: make(map[string]*Log),
	}
}

// For returns the backup log for a volume, opening it on first use. Failure
// to open surfaces as BackupUnavailableError; callers degrade to no-backup
// mode for the volume and may retry on a later pass.
func (s *Logs) For(volume string) (*Log, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.open[volume]; ok {
		return l, nil
	}
	l, err := openLog(s.log.With(zap.String("volume", volume)), filepath.Join(s.dir, volume))
	if err != nil {
		return nil, err
	}
	s.open[volume] = l
	return l, nil
}

// Close closes every open volume log.
func (s *Logs) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for volume, l := range s.open {
		if err := l.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.open, volume)
	}
	return firstErr
}

// badgerLogger adapts badger's logger to zap. Badger's info chatter is
// demoted to debug.
type badgerLogger struct {
	log *zap.Logger
}

func (b badgerLogger) Errorf(format string, args ...interface{}) {
	b.log.Error(fmt.Sprintf(format, args...))
}

func (b badgerLogger) Warningf(format string, args ...interface{}) {
	b.log.Warn(fmt.Sprintf(format, args...))
}

func (b badgerLogger) Infof(format string, args ...interface{}) {
	b.log.Debug(fmt.Sprintf(format, args...))
}

func (b badgerLogger) Debugf(format string, args ...interface{}) {
	b.log.Debug(fmt.Sprintf(format, args...))
}
