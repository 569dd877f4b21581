// Package backup shadows the media index's critical columns into a
// crash-tolerant key-value log, one per volume, and replays that log into a
// fresh store after a destructive downgrade or store loss.
package backup

import (
	"errors"
	"net/url"
	"strconv"
	"strings"

	"github.com/mesh-intelligence/mediadex/pkg/types"
)

// errInvalidEntry marks a backup value that cannot identify its row.
var errInvalidEntry = errors.New("backup entry missing row id")

// Numeric column dictionary for the backup value format. Fixed and
// append-only: ids are never reassigned, new columns get new ids. Readers
// ignore unknown ids (forward compatibility) and treat missing ids as absent
// (backward compatibility).
const (
	fieldRowID        = 0
	fieldIsFavorite   = 1
	fieldIsPending    = 2
	fieldIsTrashed    = 3
	fieldMediaType    = 4
	fieldMimeType     = 5
	fieldSize         = 6
	fieldOwnerPackage = 7
	fieldOwnerUserID  = 8
	fieldGeneration   = 9
	fieldDirty        = 10
)

// pairSeparator joins id=value pairs. String values are query-escaped so the
// separator can never appear inside a value.
const pairSeparator = ":::"

// EntryFromRow projects a row onto its backup-eligible columns.
func EntryFromRow(r types.Row) types.BackupEntry {
	return types.BackupEntry{
		RowID:              r.ID,
		IsFavorite:         r.IsFavorite,
		IsPending:          r.IsPending,
		IsTrashed:          r.IsTrashed,
		MediaType:          r.MediaType,
		MimeType:           r.MimeType,
		Size:               r.Size,
		OwnerPackage:       r.OwnerPackage,
		OwnerUserID:        r.OwnerUserID,
		GenerationModified: r.GenerationModified,
	}
}

// RowFromEntry rebuilds a row from a backup entry during recovery. The
// modifier is stamped with the media-scan sentinel: the backup format
// predates the column and recovered rows are indistinguishable from scanner
// output.
func RowFromEntry(volume, path string, e types.BackupEntry) types.Row {
	return types.Row{
		ID:                 e.RowID,
		Path:               path,
		Volume:             volume,
		OwnerPackage:       e.OwnerPackage,
		MediaType:          e.MediaType,
		MimeType:           e.MimeType,
		Size:               e.Size,
		IsPending:          e.IsPending,
		IsTrashed:          e.IsTrashed,
		IsFavorite:         e.IsFavorite,
		Modifier:           types.ModifierMediaScan,
		OwnerUserID:        e.OwnerUserID,
		GenerationModified: e.GenerationModified,
	}
}

// EncodeEntry serializes an entry as id=value pairs in ascending id order.
// False booleans, zero numbers, and empty strings are omitted; absence on
// read means the same thing.
func EncodeEntry(e types.BackupEntry) []byte {
	var pairs []string
	add := func(id int, value string) {
		pairs = append(pairs, strconv.Itoa(id)+"="+value)
	}
	add(fieldRowID, strconv.FormatInt(e.RowID, 10))
	if e.IsFavorite {
		add(fieldIsFavorite, "1")
	}
	if e.IsPending {
		add(fieldIsPending, "1")
	}
	if e.IsTrashed {
		add(fieldIsTrashed, "1")
	}
	if e.MediaType != 0 {
		add(fieldMediaType, strconv.Itoa(e.MediaType))
	}
	if e.MimeType != "" {
		add(fieldMimeType, url.QueryEscape(e.MimeType))
	}
	if e.Size != 0 {
		add(fieldSize, strconv.FormatInt(e.Size, 10))
	}
	if e.OwnerPackage != "" {
		add(fieldOwnerPackage, url.QueryEscape(e.OwnerPackage))
	}
	if e.OwnerUserID != 0 {
		add(fieldOwnerUserID, strconv.Itoa(e.OwnerUserID))
	}
	if e.GenerationModified != 0 {
		add(fieldGeneration, strconv.FormatInt(e.GenerationModified, 10))
	}
	if e.Dirty {
		add(fieldDirty, "1")
	}
	return []byte(strings.Join(pairs, pairSeparator))
}

// DecodeEntry parses the id=value format. Unknown ids and malformed pairs
// are skipped; an entry without a row id is unusable and reported as such.
func DecodeEntry(data []byte) (types.BackupEntry, error) {
	var (
		e        types.BackupEntry
		sawRowID bool
	)
	for _, pair := range strings.Split(string(data), pairSeparator) {
		id, value, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		fieldID, err := strconv.Atoi(id)
		if err != nil {
			continue
		}
		switch fieldID {
		case fieldRowID:
			if e.RowID, err = strconv.ParseInt(value, 10, 64); err == nil {
				sawRowID = true
			}
		case fieldIsFavorite:
			e.IsFavorite = value == "1"
		case fieldIsPending:
			e.IsPending = value == "1"
		case fieldIsTrashed:
			e.IsTrashed = value == "1"
		case fieldMediaType:
			e.MediaType, _ = strconv.Atoi(value)
		case fieldMimeType:
			e.MimeType, _ = url.QueryUnescape(value)
		case fieldSize:
			e.Size, _ = strconv.ParseInt(value, 10, 64)
		case fieldOwnerPackage:
			e.OwnerPackage, _ = url.QueryUnescape(value)
		case fieldOwnerUserID:
			e.OwnerUserID, _ = strconv.Atoi(value)
		case fieldGeneration:
			e.GenerationModified, _ = strconv.ParseInt(value, 10, 64)
		case fieldDirty:
			e.Dirty = value == "1"
		default:
			// Unknown id written by a newer store: ignore.
		}
	}
	if !sawRowID {
		return types.BackupEntry{}, errInvalidEntry
	}
	return e, nil
}
