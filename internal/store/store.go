package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/mesh-intelligence/mediadex/internal/durable"
	"github.com/mesh-intelligence/mediadex/pkg/types"
)

// dbFileName is the relational store file under the data directory.
const dbFileName = "index.db"

// media_store key layout.
const (
	metaKeyUUID             = "uuid"
	metaKeyGenerationPrefix = "generation."
	metaKeyCheckpointPrefix = "backup_checkpoint."
)

// RecoverFunc repopulates one volume of a freshly created store from its
// backup log. It is supplied by the recovery coordinator; the store itself
// only knows when recovery is due (downgrade or detected loss).
type RecoverFunc func(s *Store, volume string) (types.RecoveryStats, error)

// Options configures Open. Zero values select production defaults; tests
// inject fakes through Counters and lower target versions through
// TargetVersion.
type Options struct {
	Logger *zap.Logger

	// Flags decides stable-id participation per volume. Defaults to the
	// static volume configuration.
	Flags types.FeatureFlags

	// TargetVersion is the schema version to open at. Defaults to
	// LatestVersion. Opening an existing store at a lower version is a
	// destructive downgrade.
	TargetVersion int

	// Counters returns the durability store holding a volume's row id
	// counters. Defaults to extended attributes on the volume root.
	Counters func(types.VolumeConfig) durable.Store

	// Recover is invoked per stable-id volume after a destructive
	// downgrade or detected store loss. Nil means the store comes back
	// empty.
	Recover RecoverFunc
}

// Store is one open media index: a SQLite database plus the per-volume
// durable allocators and the mounted-volume filter. Schema mutation and row
// writes are serialized through an internal mutex (single-writer discipline).
type Store struct {
	log     *zap.Logger
	cfg     types.Config
	flags   types.FeatureFlags
	db      *sql.DB
	path    string
	version int
	uid     int

	mu         sync.Mutex
	closed     bool
	allocators map[string]*durable.Allocator
	stableIDs  map[string]bool // effective mode, after counter probing
	mounted    map[string]bool

	recoveries map[string]types.RecoveryStats
}

// Open opens or creates the media index described by cfg, migrating the
// schema to the target version. A failed migration aborts the whole open; no
// partially migrated store is ever returned. Downgrades destroy the store
// and, for stable-id volumes, replay the backup log before Open returns.
func Open(cfg types.Config, opts Options) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Flags == nil {
		opts.Flags = cfg
	}
	if opts.TargetVersion == 0 {
		opts.TargetVersion = LatestVersion
	}
	if opts.TargetVersion < 1 || opts.TargetVersion > LatestVersion {
		return nil, types.MigrationError.New("unknown schema version %d", opts.TargetVersion)
	}
	if opts.Counters == nil {
		opts.Counters = func(v types.VolumeConfig) durable.Store {
			return durable.NewXattrStore(v.Root)
		}
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	s := &Store{
		log:        opts.Logger,
		cfg:        cfg,
		flags:      opts.Flags,
		path:       filepath.Join(cfg.DataDir, dbFileName),
		version:    opts.TargetVersion,
		uid:        currentUserID(),
		allocators: make(map[string]*durable.Allocator),
		stableIDs:  make(map[string]bool),
		mounted:    make(map[string]bool),
		recoveries: make(map[string]types.RecoveryStats),
	}
	for _, v := range cfg.Volumes {
		s.mounted[v.Name] = true
		s.allocators[v.Name] = durable.NewAllocator(s.log, opts.Counters(v))
	}
	s.probeStableIDs()

	existed := fileExists(s.path)
	if err := s.openDatabase(); err != nil {
		return nil, err
	}

	needRecovery, err := s.migrate(existed)
	if err != nil {
		_ = s.db.Close()
		return nil, err
	}

	// Recovery runs to completion before the store is handed back; no
	// reader observes a partially recovered volume.
	if needRecovery && opts.Recover != nil {
		for _, v := range cfg.Volumes {
			if !s.stableIDs[v.Name] {
				continue
			}
			stats, err := opts.Recover(s, v.Name)
			if err != nil {
				// Total backup unavailability degrades to an
				// empty store rather than failing the open.
				s.log.Warn("recovery unavailable, volume starts empty",
					zap.String("volume", v.Name), zap.Error(err))
				continue
			}
			s.recoveries[v.Name] = stats
			s.log.Info("volume recovered",
				zap.String("volume", v.Name),
				zap.Int("recovered", stats.Recovered),
				zap.Int("skipped_dirty", stats.SkippedDirty),
				zap.Int("collisions", stats.Collisions))
		}
	}
	return s, nil
}

// openDatabase opens the SQLite file with WAL journaling and a busy timeout,
// so concurrent opens block briefly instead of erroring.
func (s *Store) openDatabase() error {
	dsn := "file:" + s.path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	s.db = db
	return nil
}

// probeStableIDs determines the effective stable-id mode per volume: the
// feature flag must be on and the volume root must accept durable counters.
// Counter failure degrades the volume, logged, never fatal.
func (s *Store) probeStableIDs() {
	for _, v := range s.cfg.Volumes {
		if !s.flags.StableIDsEnabled(v.Name) {
			continue
		}
		if _, err := s.allocators[v.Name].NextRowID(v.Name, s.uid); err != nil {
			s.log.Warn("durable counters unsupported, stable ids disabled",
				zap.String("volume", v.Name), zap.Error(err))
			continue
		}
		s.stableIDs[v.Name] = true
	}
}

// Close releases the database. Further operations return ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Version returns the schema version the store was opened at.
func (s *Store) Version() int {
	return s.version
}

// RecoveryStats returns the result of the recovery run for a volume during
// Open, if one happened.
func (s *Store) RecoveryStats(volume string) (types.RecoveryStats, bool) {
	stats, ok := s.recoveries[volume]
	return stats, ok
}

// StableIDsEnabled reports the effective stable-id mode for a volume: the
// configured flag, degraded off when the volume's durable counters are
// unusable.
func (s *Store) StableIDsEnabled(volume string) bool {
	return s.stableIDs[volume]
}

// Allocator returns the durable row id allocator for a volume.
func (s *Store) Allocator(volume string) (*durable.Allocator, error) {
	a, ok := s.allocators[volume]
	if !ok {
		return nil, types.ErrUnknownVolume
	}
	return a, nil
}

// UserID returns the process user id rows are owned by.
func (s *Store) UserID() int {
	return s.uid
}

// SetMountedVolumes replaces the volume-name filter controlling which volumes
// participate in aggregate views.
func (s *Store) SetMountedVolumes(names []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mounted = make(map[string]bool, len(names))
	for _, n := range names {
		s.mounted[n] = true
	}
}

// MountedVolumes returns the names currently passing the volume filter.
func (s *Store) MountedVolumes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.mounted))
	for _, v := range s.cfg.Volumes {
		if s.mounted[v.Name] {
			names = append(names, v.Name)
		}
	}
	return names
}

// GetOrCreateUUID returns the store's uuid version stamp, generating and
// persisting one if the store has none. The stamp survives upgrades and is
// regenerated on every destructive downgrade, so collaborators holding
// derived artifacts can detect that they are looking at a different logical
// database.
func (s *Store) GetOrCreateUUID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", types.ErrClosed
	}
	var val string
	err := s.db.QueryRow("SELECT value FROM media_store WHERE key = ?", metaKeyUUID).Scan(&val)
	if err == nil {
		return val, nil
	}
	if err != sql.ErrNoRows {
		return "", fmt.Errorf("read uuid stamp: %w", err)
	}
	val = uuid.New().String()
	if _, err := s.db.Exec("INSERT INTO media_store (key, value) VALUES (?, ?)", metaKeyUUID, val); err != nil {
		return "", fmt.Errorf("persist uuid stamp: %w", err)
	}
	return val, nil
}

// Tx is a scoped transaction for callers needing atomic multi-statement
// access to the store.
type Tx struct {
	tx *sql.Tx
}

// Begin starts a write transaction. The caller must Commit or Rollback.
func (s *Store) Begin() (*Tx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, types.ErrClosed
	}
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &Tx{tx: tx}, nil
}

// Commit commits the transaction.
func (t *Tx) Commit() error { return t.tx.Commit() }

// Rollback aborts the transaction. Safe to call after Commit.
func (t *Tx) Rollback() error {
	err := t.tx.Rollback()
	if err == sql.ErrTxDone {
		return nil
	}
	return err
}

// Exec runs a statement inside the transaction.
func (t *Tx) Exec(query string, args ...any) (sql.Result, error) {
	return t.tx.Exec(query, args...)
}

// QueryRow runs a single-row query inside the transaction.
func (t *Tx) QueryRow(query string, args ...any) *sql.Row {
	return t.tx.QueryRow(query, args...)
}

// nextGeneration bumps and returns the per-volume generation counter inside
// the given transaction. Every committed mutation observes a strictly larger
// generation than any earlier one on the same volume.
func (s *Store) nextGeneration(tx *sql.Tx, volume string) (int64, error) {
	key := metaKeyGenerationPrefix + volume
	current, err := readMetaInt(tx, key)
	if err != nil {
		return 0, err
	}
	next := current + 1
	if err := writeMetaInt(tx, key, next); err != nil {
		return 0, err
	}
	return next, nil
}

// Generation returns the current generation counter for a volume.
func (s *Store) Generation(volume string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, types.ErrClosed
	}
	var raw string
	err := s.db.QueryRow("SELECT value FROM media_store WHERE key = ?", metaKeyGenerationPrefix+volume).Scan(&raw)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read generation: %w", err)
	}
	return strconv.ParseInt(raw, 10, 64)
}

// BackupCheckpoint returns the generation up to which a volume's rows are
// known to be present in the backup log.
func (s *Store) BackupCheckpoint(volume string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, types.ErrClosed
	}
	var raw string
	err := s.db.QueryRow("SELECT value FROM media_store WHERE key = ?", metaKeyCheckpointPrefix+volume).Scan(&raw)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read backup checkpoint: %w", err)
	}
	return strconv.ParseInt(raw, 10, 64)
}

// SetBackupCheckpoint advances the backup checkpoint for a volume. The writer
// calls this only after a batch has committed to the backup log, which keeps
// the pipeline at-least-once.
func (s *Store) SetBackupCheckpoint(volume string, generation int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return types.ErrClosed
	}
	_, err := s.db.Exec(
		"INSERT INTO media_store (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		metaKeyCheckpointPrefix+volume, strconv.FormatInt(generation, 10),
	)
	if err != nil {
		return fmt.Errorf("write backup checkpoint: %w", err)
	}
	return nil
}

// readMetaInt reads an integer media_store value inside a transaction,
// defaulting to zero when the key is absent.
func readMetaInt(tx *sql.Tx, key string) (int64, error) {
	var raw string
	err := tx.QueryRow("SELECT value FROM media_store WHERE key = ?", key).Scan(&raw)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", key, err)
	}
	return strconv.ParseInt(raw, 10, 64)
}

// writeMetaInt upserts an integer media_store value inside a transaction.
func writeMetaInt(tx *sql.Tx, key string, val int64) error {
	_, err := tx.Exec(
		"INSERT INTO media_store (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, strconv.FormatInt(val, 10),
	)
	if err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

// currentUserID returns the process uid, used both for counter key suffixes
// and for backfilling the owning-user column on upgrade.
func currentUserID() int {
	uid := os.Getuid()
	if uid < 0 {
		return 0
	}
	return uid
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
