package backup

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/mediadex/pkg/types"
)

func TestEncodeDecodeEntry(t *testing.T) {
	e := types.BackupEntry{
		RowID:              17,
		IsFavorite:         true,
		IsTrashed:          true,
		MediaType:          types.MediaTypeImage,
		MimeType:           "image/jpeg",
		Size:               4096,
		OwnerPackage:       "com.example.camera",
		OwnerUserID:        1000,
		GenerationModified: 88,
	}
	got, err := DecodeEntry(EncodeEntry(e))
	require.NoError(t, err)
	assert.Equal(t, e, got)
}

func TestEncodeEntryOmitsZeroValues(t *testing.T) {
	e := types.BackupEntry{RowID: 3}
	encoded := string(EncodeEntry(e))
	assert.Equal(t, "0=3", encoded, "false booleans and empty strings carry no pair at all")

	got, err := DecodeEntry([]byte(encoded))
	require.NoError(t, err)
	assert.Equal(t, e, got)
}

func TestEncodeEntryEscapesSeparatorInValues(t *testing.T) {
	e := types.BackupEntry{RowID: 5, OwnerPackage: "weird:::package=name"}
	got, err := DecodeEntry(EncodeEntry(e))
	require.NoError(t, err)
	assert.Equal(t, "weird:::package=name", got.OwnerPackage)
}

func TestDecodeEntrySkipsUnknownAndMalformedPairs(t *testing.T) {
	// A value written by a newer store with extra columns, plus junk.
	raw := "0=9:::99=future-column:::garbage:::5=audio%2Fmpeg"
	got, err := DecodeEntry([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, int64(9), got.RowID)
	assert.Equal(t, "audio/mpeg", got.MimeType)
}

func TestDecodeEntryWithoutRowIDFails(t *testing.T) {
	_, err := DecodeEntry([]byte("5=image%2Fpng:::6=100"))
	assert.Error(t, err)
}

func TestRowEntryRoundTripStampsScanModifier(t *testing.T) {
	r := types.Row{
		ID:                 12,
		Path:               "/dcim/x.jpg",
		Volume:             types.VolumeInternal,
		MediaType:          types.MediaTypeImage,
		MimeType:           "image/jpeg",
		Size:               10,
		Modifier:           types.ModifierCaller,
		GenerationModified: 3,
	}
	back := RowFromEntry(r.Volume, r.Path, EntryFromRow(r))
	assert.Equal(t, r.ID, back.ID)
	assert.Equal(t, r.Path, back.Path)
	assert.Equal(t, r.MimeType, back.MimeType)
	assert.Equal(t, types.ModifierMediaScan, back.Modifier,
		"the wire format has no modifier column, recovered rows read as scanner output")
}
