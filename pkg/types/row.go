package types

// Media type discriminators for indexed rows.
const (
	MediaTypeNone     = 0
	MediaTypeImage    = 1
	MediaTypeAudio    = 2
	MediaTypeVideo    = 3
	MediaTypePlaylist = 4
	MediaTypeSubtitle = 5
	MediaTypeDocument = 6
)

// Modifier values recording which actor last touched a row. ModifierMediaScan
// doubles as the backfill sentinel for rows that predate the modifier column.
const (
	ModifierMediaScan = "media_scan"
	ModifierCaller    = "caller"
	ModifierFileProxy = "file_proxy"
)

// Row is a media metadata record. The numeric ID is the stable identity
// embedded in externally held references; it is never reused within a volume,
// including across loss/recovery cycles.
type Row struct {
	ID           int64
	Path         string // canonical path, unique per volume (case-insensitive)
	Volume       string
	OwnerPackage string
	MediaType    int
	MimeType     string
	Size         int64
	IsPending    bool
	IsTrashed    bool
	IsFavorite   bool
	Modifier     string
	OwnerUserID  int

	// GenerationAdded and GenerationModified are per-volume monotonic
	// counters stamped by the store on each committed mutation.
	GenerationAdded    int64
	GenerationModified int64
}

// BackupEligible reports whether the row's critical columns should be
// shadowed into the backup log: committed (not pending) with a known mime
// type. Trashed and favorite rows stay eligible; their identity must survive
// store loss like any other row's.
func (r Row) BackupEligible() bool {
	return !r.IsPending && r.MimeType != ""
}

// BackupEntry is the decoded external shadow of a row's backup-eligible
// columns, keyed in the backup log by canonical path.
type BackupEntry struct {
	RowID              int64
	IsFavorite         bool
	IsPending          bool
	IsTrashed          bool
	MediaType          int
	MimeType           string
	Size               int64
	OwnerPackage       string
	OwnerUserID        int
	GenerationModified int64

	// Dirty marks a snapshot captured while a write to the source row was
	// still in flight. Dirty entries are never used to resurrect a row.
	Dirty bool
}

// RecoveryStats summarizes one recovery run over a volume's backup log.
type RecoveryStats struct {
	Recovered    int // rows reinserted with their original ids
	SkippedDirty int // entries excluded because the dirty flag was set
	Collisions   int // entries whose original id was already occupied
}
