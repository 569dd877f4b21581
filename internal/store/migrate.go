package store

import (
	"database/sql"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/mediadex/pkg/types"
)

// migration is one versioned schema transformation. Steps are idempotent:
// re-applying one against a store that already has its columns is a no-op, so
// a crash between the transform and the version bump cannot wedge the store.
type migration struct {
	From, To int
	Apply    func(s *Store, tx *sql.Tx) error
}

// migrations is the ordered upgrade table. There is exactly one step per
// version hop; downgrades never appear here because a downgrade destroys the
// store instead of transforming it.
var migrations = []migration{
	{From: 1, To: 2, Apply: migrateV1toV2},
	{From: 2, To: 3, Apply: migrateV2toV3},
	{From: 3, To: 4, Apply: migrateV3toV4},
}

// migrate brings the open database to the target version. The returned flag
// says whether the store was (re)created destructively and recovery from the
// backup log is due.
func (s *Store) migrate(existed bool) (bool, error) {
	version, err := s.userVersion()
	if err != nil {
		return false, types.MigrationError.Wrap(err)
	}
	target := s.version
	switch {
	case version == 0:
		if err := s.createFresh(target); err != nil {
			return false, err
		}
		return s.lossDetected(existed), nil
	case version == target:
		return false, nil
	case version < target:
		return false, s.upgrade(version, target)
	default:
		s.log.Warn("schema downgrade requested, destroying store",
			zap.Int("stored_version", version), zap.Int("target_version", target))
		if err := s.reset(target); err != nil {
			return false, err
		}
		return true, nil
	}
}

// lossDetected reports whether a fresh creation actually replaces a lost
// store: the database file was absent, but a stable-id volume's durable
// counter proves rows were allocated by an earlier generation of the store.
func (s *Store) lossDetected(existed bool) bool {
	if existed {
		return false
	}
	for _, v := range s.cfg.Volumes {
		if !s.stableIDs[v.Name] {
			continue
		}
		if next, err := s.allocators[v.Name].NextRowID(v.Name, s.uid); err == nil && next > 0 {
			return true
		}
	}
	return false
}

// createFresh creates the pristine schema at the given version in one
// transaction.
func (s *Store) createFresh(version int) error {
	tx, err := s.db.Begin()
	if err != nil {
		return types.MigrationError.Wrap(err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range schemaStatements(version) {
		if _, err := tx.Exec(stmt); err != nil {
			return types.MigrationError.New("create schema v%d: %v", version, err)
		}
	}
	if err := setUserVersion(tx, version); err != nil {
		return types.MigrationError.Wrap(err)
	}
	if err := tx.Commit(); err != nil {
		return types.MigrationError.Wrap(err)
	}
	return nil
}

// upgrade applies the ordered migration steps from the stored version to the
// target, one transaction per step. Any failure aborts the whole open; the
// last committed step is where a retry resumes.
func (s *Store) upgrade(from, to int) error {
	for _, m := range migrations {
		if m.From < from || m.To > to {
			continue
		}
		tx, err := s.db.Begin()
		if err != nil {
			return types.MigrationError.Wrap(err)
		}
		if err := m.Apply(s, tx); err != nil {
			_ = tx.Rollback()
			return types.MigrationError.New("step v%d to v%d: %v", m.From, m.To, err)
		}
		if err := setUserVersion(tx, m.To); err != nil {
			_ = tx.Rollback()
			return types.MigrationError.Wrap(err)
		}
		if err := tx.Commit(); err != nil {
			return types.MigrationError.Wrap(err)
		}
		s.log.Info("schema upgraded", zap.Int("from", m.From), zap.Int("to", m.To))
	}
	return nil
}

// reset destroys the database file and recreates the schema at the given
// version. This is never a data migration; the backup log is the only way
// rows come back.
func (s *Store) reset(version int) error {
	if err := s.db.Close(); err != nil {
		return types.MigrationError.Wrap(err)
	}
	for _, suffix := range []string{"", "-wal", "-shm"} {
		if err := os.Remove(s.path + suffix); err != nil && !os.IsNotExist(err) {
			return types.MigrationError.Wrap(err)
		}
	}
	if err := s.openDatabase(); err != nil {
		return types.MigrationError.Wrap(err)
	}
	return s.createFresh(version)
}

// migrateV1toV2 adds the favorite flag and its index.
func migrateV1toV2(s *Store, tx *sql.Tx) error {
	ok, err := hasColumn(tx, "files", "is_favorite")
	if err != nil || ok {
		return err
	}
	if _, err := tx.Exec("ALTER TABLE files ADD COLUMN " + colIsFavorite); err != nil {
		return err
	}
	_, err = tx.Exec(idxFilesFavorite)
	return err
}

// migrateV2toV3 adds the modifier column. Pre-existing rows are backfilled
// with the media-scan sentinel: a static NULL would be wrong, every row that
// predates the column was produced by the scanner.
func migrateV2toV3(s *Store, tx *sql.Tx) error {
	ok, err := hasColumn(tx, "files", "modifier")
	if err != nil || ok {
		return err
	}
	if _, err := tx.Exec("ALTER TABLE files ADD COLUMN " + colModifier); err != nil {
		return err
	}
	_, err = tx.Exec("UPDATE files SET modifier = ?", types.ModifierMediaScan)
	return err
}

// migrateV3toV4 adds the owning-user column, backfilled with the current
// process uid rather than a placeholder.
func migrateV3toV4(s *Store, tx *sql.Tx) error {
	ok, err := hasColumn(tx, "files", "owner_user_id")
	if err != nil || ok {
		return err
	}
	if _, err := tx.Exec("ALTER TABLE files ADD COLUMN " + colOwnerUserID); err != nil {
		return err
	}
	_, err = tx.Exec("UPDATE files SET owner_user_id = ?", s.uid)
	return err
}

// hasColumn reports whether a table already carries the named column.
func hasColumn(tx *sql.Tx, table, column string) (bool, error) {
	rows, err := tx.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			cid        int
			name, typ  string
			notNull    int
			dfltValue  sql.NullString
			primaryKey int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dfltValue, &primaryKey); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

// userVersion reads the schema version stored in the database header.
func (s *Store) userVersion() (int, error) {
	var v int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("read user_version: %w", err)
	}
	return v, nil
}

// setUserVersion stamps the schema version inside a transaction.
func setUserVersion(tx *sql.Tx, version int) error {
	_, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", version))
	return err
}

// SchemaText dumps the live schema in a normalized, deterministic form. A
// store migrated stepwise to version N must produce the same text as one
// created fresh at N; this dump is the regression oracle for every upgrade
// path.
func (s *Store) SchemaText() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", types.ErrClosed
	}
	rows, err := s.db.Query(
		"SELECT type, name, sql FROM sqlite_master WHERE sql IS NOT NULL AND name NOT LIKE 'sqlite_%' ORDER BY type, name")
	if err != nil {
		return "", fmt.Errorf("dump schema: %w", err)
	}
	defer rows.Close()

	var b strings.Builder
	for rows.Next() {
		var typ, name, ddl string
		if err := rows.Scan(&typ, &name, &ddl); err != nil {
			return "", fmt.Errorf("scan schema row: %w", err)
		}
		fmt.Fprintf(&b, "%s %s: %s\n", typ, name, normalizeSchemaText(ddl))
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	return b.String(), nil
}
