package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRowBackupEligible(t *testing.T) {
	tests := []struct {
		name string
		row  Row
		want bool
	}{
		{
			name: "committed row with mime type is eligible",
			row:  Row{MimeType: "image/jpeg"},
			want: true,
		},
		{
			name: "pending row is not eligible",
			row:  Row{MimeType: "image/jpeg", IsPending: true},
			want: false,
		},
		{
			name: "missing mime type is not eligible",
			row:  Row{MimeType: ""},
			want: false,
		},
		{
			name: "trashed row stays eligible",
			row:  Row{MimeType: "video/mp4", IsTrashed: true},
			want: true,
		},
		{
			name: "favorite row stays eligible",
			row:  Row{MimeType: "audio/mpeg", IsFavorite: true},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.row.BackupEligible())
		})
	}
}
