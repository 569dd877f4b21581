package store

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/mediadex/pkg/types"
)

// CanonicalPath normalizes a row path: cleaned and absolute. Uniqueness per
// volume is case-insensitive, enforced by the path index.
func CanonicalPath(p string) (string, error) {
	if p == "" {
		return "", types.ErrInvalidPath
	}
	p = filepath.Clean(p)
	if !filepath.IsAbs(p) {
		return "", types.ErrInvalidPath
	}
	return p, nil
}

// rowColumns lists the files columns present at the store's schema version,
// in select/insert order.
func (s *Store) rowColumns() []string {
	cols := []string{
		"id", "path", "volume", "owner_package", "media_type", "mime_type",
		"size", "is_pending", "is_trashed", "generation_added", "generation_modified",
	}
	if s.version >= 2 {
		cols = append(cols, "is_favorite")
	}
	if s.version >= 3 {
		cols = append(cols, "modifier")
	}
	if s.version >= 4 {
		cols = append(cols, "owner_user_id")
	}
	return cols
}

// scanner abstracts sql.Row and sql.Rows for row hydration.
type scanner interface {
	Scan(dest ...any) error
}

// scanRow hydrates one files row at the store's schema version.
func (s *Store) scanRow(sc scanner) (types.Row, error) {
	var (
		r        types.Row
		ownerPkg sql.NullString
		mime     sql.NullString
		modifier sql.NullString
		ownerUID sql.NullInt64
	)
	dest := []any{
		&r.ID, &r.Path, &r.Volume, &ownerPkg, &r.MediaType, &mime,
		&r.Size, &r.IsPending, &r.IsTrashed, &r.GenerationAdded, &r.GenerationModified,
	}
	if s.version >= 2 {
		dest = append(dest, &r.IsFavorite)
	}
	if s.version >= 3 {
		dest = append(dest, &modifier)
	}
	if s.version >= 4 {
		dest = append(dest, &ownerUID)
	}
	if err := sc.Scan(dest...); err != nil {
		return types.Row{}, err
	}
	r.OwnerPackage = ownerPkg.String
	r.MimeType = mime.String
	r.Modifier = modifier.String
	r.OwnerUserID = int(ownerUID.Int64)
	return r, nil
}

// rowValues collects the insert values matching rowColumns, with the id
// supplied separately.
func (s *Store) rowValues(id int64, r *types.Row) []any {
	vals := []any{
		id, r.Path, r.Volume, nullable(r.OwnerPackage), r.MediaType, nullable(r.MimeType),
		r.Size, r.IsPending, r.IsTrashed, r.GenerationAdded, r.GenerationModified,
	}
	if s.version >= 2 {
		vals = append(vals, r.IsFavorite)
	}
	if s.version >= 3 {
		vals = append(vals, nullable(r.Modifier))
	}
	if s.version >= 4 {
		vals = append(vals, r.OwnerUserID)
	}
	return vals
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

// InsertRow inserts a new media row. On stable-id volumes the id comes from
// the durable counter so it can never collide with an id handed out before a
// store loss; elsewhere SQLite assigns it. The committed generation is
// stamped on the row.
func (s *Store) InsertRow(r *types.Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return types.ErrClosed
	}
	path, err := CanonicalPath(r.Path)
	if err != nil {
		return err
	}
	r.Path = path
	if _, ok := s.cfg.Volume(r.Volume); !ok {
		return types.ErrUnknownVolume
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin insert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool
	err = tx.QueryRow("SELECT 1 FROM files WHERE volume = ? AND path = ? COLLATE NOCASE", r.Volume, path).Scan(&exists)
	if err == nil {
		return types.ErrPathExists
	}
	if err != sql.ErrNoRows {
		return fmt.Errorf("check path: %w", err)
	}

	gen, err := s.nextGeneration(tx, r.Volume)
	if err != nil {
		return err
	}
	r.GenerationAdded = gen
	r.GenerationModified = gen

	var id int64
	if s.stableIDs[r.Volume] {
		id, err = s.stableRowID(tx, r.Volume)
		if err != nil {
			return err
		}
		if _, err := s.execInsert(tx, id, r); err != nil {
			return fmt.Errorf("insert row: %w", err)
		}
	} else {
		res, err := s.execInsert(tx, 0, r)
		if err != nil {
			return fmt.Errorf("insert row: %w", err)
		}
		if id, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("read inserted id: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert: %w", err)
	}
	r.ID = id

	if s.stableIDs[r.Volume] {
		// A failed advance is not fatal: the next insert recomputes
		// from max(counter, table max), but it is worth a warning
		// because store loss before the counter catches up could
		// reuse ids.
		if err := s.allocators[r.Volume].Advance(r.Volume, s.uid, id+1); err != nil {
			s.log.Warn("durable counter advance failed",
				zap.String("volume", r.Volume), zap.Error(err))
		}
	}
	return nil
}

// stableRowID picks the next id on a stable-id volume: never below the
// durable counter, never below the live table's maximum.
func (s *Store) stableRowID(tx *sql.Tx, volume string) (int64, error) {
	next, err := s.allocators[volume].NextRowID(volume, s.uid)
	if err != nil {
		return 0, err
	}
	var maxID sql.NullInt64
	if err := tx.QueryRow("SELECT MAX(id) FROM files WHERE volume = ?", volume).Scan(&maxID); err != nil {
		return 0, fmt.Errorf("read max row id: %w", err)
	}
	if maxID.Int64+1 > next {
		next = maxID.Int64 + 1
	}
	if next < 1 {
		next = 1
	}
	return next, nil
}

// execInsert writes the files row. id zero means let SQLite assign one.
func (s *Store) execInsert(tx *sql.Tx, id int64, r *types.Row) (sql.Result, error) {
	cols := s.rowColumns()
	vals := s.rowValues(id, r)
	if id == 0 {
		cols = cols[1:]
		vals = vals[1:]
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	query := fmt.Sprintf("INSERT INTO files (%s) VALUES (%s)", strings.Join(cols, ", "), placeholders)
	return tx.Exec(query, vals...)
}

// InsertRowWithID inserts a row preserving an explicit id. This is the
// recovery path: a recovered row keeps its pre-loss identity or is not
// inserted at all. An occupied id returns ErrRowExists, never a silent
// renumber.
func (s *Store) InsertRowWithID(r *types.Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return types.ErrClosed
	}
	if r.ID < 1 {
		return fmt.Errorf("row id %d must be positive", r.ID)
	}
	path, err := CanonicalPath(r.Path)
	if err != nil {
		return err
	}
	r.Path = path

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin insert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var occupied bool
	err = tx.QueryRow("SELECT 1 FROM files WHERE id = ?", r.ID).Scan(&occupied)
	if err == nil {
		return types.ErrRowExists
	}
	if err != sql.ErrNoRows {
		return fmt.Errorf("check row id: %w", err)
	}

	gen, err := s.nextGeneration(tx, r.Volume)
	if err != nil {
		return err
	}
	r.GenerationAdded = gen
	r.GenerationModified = gen

	if _, err := s.execInsert(tx, r.ID, r); err != nil {
		if isUniqueViolation(err) {
			return types.ErrPathExists
		}
		return fmt.Errorf("insert row: %w", err)
	}
	return tx.Commit()
}

// UpdateRow rewrites a row's mutable columns and bumps its modification
// generation. The caller observes the committed generation on the row.
func (s *Store) UpdateRow(r *types.Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return types.ErrClosed
	}
	path, err := CanonicalPath(r.Path)
	if err != nil {
		return err
	}
	r.Path = path

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	gen, err := s.nextGeneration(tx, r.Volume)
	if err != nil {
		return err
	}

	set := []string{
		"path = ?", "owner_package = ?", "media_type = ?", "mime_type = ?",
		"size = ?", "is_pending = ?", "is_trashed = ?", "generation_modified = ?",
	}
	args := []any{
		r.Path, nullable(r.OwnerPackage), r.MediaType, nullable(r.MimeType),
		r.Size, r.IsPending, r.IsTrashed, gen,
	}
	if s.version >= 2 {
		set = append(set, "is_favorite = ?")
		args = append(args, r.IsFavorite)
	}
	if s.version >= 3 {
		set = append(set, "modifier = ?")
		args = append(args, nullable(r.Modifier))
	}
	if s.version >= 4 {
		set = append(set, "owner_user_id = ?")
		args = append(args, r.OwnerUserID)
	}
	args = append(args, r.ID)

	res, err := tx.Exec("UPDATE files SET "+strings.Join(set, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("update row: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update row: %w", err)
	}
	if n == 0 {
		return types.ErrNotFound
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit update: %w", err)
	}
	r.GenerationModified = gen
	return nil
}

// DeleteRow hard-deletes a row and records a tombstone with its last known
// path, so the next maintenance pass removes the matching backup entry.
func (s *Store) DeleteRow(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return types.ErrClosed
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var volume, path string
	err = tx.QueryRow("SELECT volume, path FROM files WHERE id = ?", id).Scan(&volume, &path)
	if err == sql.ErrNoRows {
		return types.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read row: %w", err)
	}

	gen, err := s.nextGeneration(tx, volume)
	if err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM files WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete row: %w", err)
	}
	if _, err := tx.Exec(
		"INSERT INTO deleted_rows (volume, path, generation) VALUES (?, ?, ?)",
		volume, path, gen,
	); err != nil {
		return fmt.Errorf("record tombstone: %w", err)
	}
	return tx.Commit()
}

// GetRow returns a row by id.
func (s *Store) GetRow(id int64) (types.Row, error) {
	row := s.db.QueryRow(
		fmt.Sprintf("SELECT %s FROM files WHERE id = ?", strings.Join(s.rowColumns(), ", ")), id)
	r, err := s.scanRow(row)
	if err == sql.ErrNoRows {
		return types.Row{}, types.ErrNotFound
	}
	if err != nil {
		return types.Row{}, fmt.Errorf("get row %d: %w", id, err)
	}
	return r, nil
}

// GetRowByPath returns a row by volume and canonical path, matched
// case-insensitively.
func (s *Store) GetRowByPath(volume, path string) (types.Row, error) {
	path, err := CanonicalPath(path)
	if err != nil {
		return types.Row{}, err
	}
	row := s.db.QueryRow(
		fmt.Sprintf("SELECT %s FROM files WHERE volume = ? AND path = ? COLLATE NOCASE",
			strings.Join(s.rowColumns(), ", ")), volume, path)
	r, err := s.scanRow(row)
	if err == sql.ErrNoRows {
		return types.Row{}, types.ErrNotFound
	}
	if err != nil {
		return types.Row{}, fmt.Errorf("get row %s: %w", path, err)
	}
	return r, nil
}

// RowsModifiedSince returns up to limit rows on a volume whose modification
// generation exceeds gen, in generation order. The backup writer drives its
// incremental passes with this.
func (s *Store) RowsModifiedSince(volume string, gen int64, limit int) ([]types.Row, error) {
	rows, err := s.db.Query(
		fmt.Sprintf("SELECT %s FROM files WHERE volume = ? AND generation_modified > ? ORDER BY generation_modified LIMIT ?",
			strings.Join(s.rowColumns(), ", ")), volume, gen, limit)
	if err != nil {
		return nil, fmt.Errorf("select modified rows: %w", err)
	}
	defer rows.Close()

	var out []types.Row
	for rows.Next() {
		r, err := s.scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan modified row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Tombstone is a recorded hard delete awaiting backup cleanup.
type Tombstone struct {
	ID         int64
	Volume     string
	Path       string
	Generation int64
}

// Tombstones returns the pending delete records for a volume in insertion
// order.
func (s *Store) Tombstones(volume string) ([]Tombstone, error) {
	rows, err := s.db.Query(
		"SELECT id, volume, path, generation FROM deleted_rows WHERE volume = ? ORDER BY id", volume)
	if err != nil {
		return nil, fmt.Errorf("select tombstones: %w", err)
	}
	defer rows.Close()

	var out []Tombstone
	for rows.Next() {
		var t Tombstone
		if err := rows.Scan(&t.ID, &t.Volume, &t.Path, &t.Generation); err != nil {
			return nil, fmt.Errorf("scan tombstone: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ClearTombstones removes processed delete records up to and including maxID.
func (s *Store) ClearTombstones(volume string, maxID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return types.ErrClosed
	}
	_, err := s.db.Exec("DELETE FROM deleted_rows WHERE volume = ? AND id <= ?", volume, maxID)
	if err != nil {
		return fmt.Errorf("clear tombstones: %w", err)
	}
	return nil
}

// MaxRowID returns the largest row id on a volume, zero when empty.
func (s *Store) MaxRowID(volume string) (int64, error) {
	var maxID sql.NullInt64
	if err := s.db.QueryRow("SELECT MAX(id) FROM files WHERE volume = ?", volume).Scan(&maxID); err != nil {
		return 0, fmt.Errorf("read max row id: %w", err)
	}
	return maxID.Int64, nil
}

// CountRows returns the row count for one volume.
func (s *Store) CountRows(volume string) (int64, error) {
	var n int64
	if err := s.db.QueryRow("SELECT COUNT(*) FROM files WHERE volume = ?", volume).Scan(&n); err != nil {
		return 0, fmt.Errorf("count rows: %w", err)
	}
	return n, nil
}

// TotalRows counts rows across the volumes passing the mounted filter;
// unmounted volumes do not participate in aggregate views.
func (s *Store) TotalRows() (int64, error) {
	volumes := s.MountedVolumes()
	if len(volumes) == 0 {
		return 0, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(volumes)), ", ")
	args := make([]any, len(volumes))
	for i, v := range volumes {
		args[i] = v
	}
	var n int64
	err := s.db.QueryRow(
		fmt.Sprintf("SELECT COUNT(*) FROM files WHERE volume IN (%s)", placeholders), args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count rows: %w", err)
	}
	return n, nil
}

// isUniqueViolation reports whether err is a SQLite unique constraint
// failure.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
