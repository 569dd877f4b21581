// Package store implements the relational media index on SQLite: versioned
// schema creation and migration, the uuid version stamp, explicit generation
// counters, and row mutation with tombstones for the backup writer.
package store

import (
	"strings"
)

// LatestVersion is the schema version a fresh store is created at.
const LatestVersion = 4

// Column definitions added after v1. Each is spelled exactly once so that a
// fresh CREATE TABLE and an ALTER TABLE ADD COLUMN produce the same schema
// text; the normalized sqlite_master dump is the upgrade regression oracle.
const (
	colIsFavorite  = "is_favorite INTEGER NOT NULL DEFAULT 0"
	colModifier    = "modifier TEXT"
	colOwnerUserID = "owner_user_id INTEGER"
)

// filesBaseColumns is the v1 shape of the files table. Append-only: new
// columns are introduced by later versions, never inserted in the middle.
var filesBaseColumns = []string{
	"id INTEGER PRIMARY KEY AUTOINCREMENT",
	"path TEXT NOT NULL",
	"volume TEXT NOT NULL",
	"owner_package TEXT",
	"media_type INTEGER NOT NULL DEFAULT 0",
	"mime_type TEXT",
	"size INTEGER NOT NULL DEFAULT 0",
	"is_pending INTEGER NOT NULL DEFAULT 0",
	"is_trashed INTEGER NOT NULL DEFAULT 0",
	"generation_added INTEGER NOT NULL DEFAULT 0",
	"generation_modified INTEGER NOT NULL DEFAULT 0",
}

// filesTableDDL returns the CREATE TABLE statement for the files table as it
// looks at the given schema version.
func filesTableDDL(version int) string {
	cols := make([]string, 0, len(filesBaseColumns)+3)
	cols = append(cols, filesBaseColumns...)
	if version >= 2 {
		cols = append(cols, colIsFavorite)
	}
	if version >= 3 {
		cols = append(cols, colModifier)
	}
	if version >= 4 {
		cols = append(cols, colOwnerUserID)
	}
	return "CREATE TABLE files (\n    " + strings.Join(cols, ",\n    ") + "\n)"
}

// Auxiliary tables, unchanged since v1.
const (
	// media_store holds small store-scoped metadata: the uuid version
	// stamp, per-volume generation counters, and backup checkpoints.
	createMediaStore = `CREATE TABLE media_store (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
)`

	// deleted_rows records hard deletes by last known path so the backup
	// writer can drop the matching backup entries on its next pass.
	createDeletedRows = `CREATE TABLE deleted_rows (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    volume TEXT NOT NULL,
    path TEXT NOT NULL,
    generation INTEGER NOT NULL DEFAULT 0
)`
)

// Index DDL. Path uniqueness is case-insensitive per volume.
const (
	idxFilesPath       = `CREATE UNIQUE INDEX idx_files_path ON files(volume, path COLLATE NOCASE)`
	idxFilesGeneration = `CREATE INDEX idx_files_generation ON files(volume, generation_modified)`
	idxFilesMediaType  = `CREATE INDEX idx_files_media_type ON files(media_type)`
	idxFilesFavorite   = `CREATE INDEX idx_files_favorite ON files(is_favorite)`
	idxDeletedVolume   = `CREATE INDEX idx_deleted_rows_volume ON deleted_rows(volume)`
)

// schemaStatements returns the full ordered DDL for a fresh store at the
// given version. Statement text is shared with the migration steps, which is
// what makes a stepwise-migrated store textually identical to a fresh one.
func schemaStatements(version int) []string {
	stmts := []string{
		filesTableDDL(version),
		createMediaStore,
		createDeletedRows,
		idxFilesPath,
		idxFilesGeneration,
		idxFilesMediaType,
	}
	if version >= 2 {
		stmts = append(stmts, idxFilesFavorite)
	}
	stmts = append(stmts, idxDeletedVolume)
	return stmts
}

// normalizeSchemaText collapses formatting differences so that schema dumps
// can be compared byte-for-byte modulo whitespace: runs of whitespace become
// one space, and spacing around commas and parentheses is canonicalized.
func normalizeSchemaText(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	s = strings.ReplaceAll(s, " ,", ",")
	s = strings.ReplaceAll(s, "( ", "(")
	s = strings.ReplaceAll(s, " )", ")")
	return s
}
