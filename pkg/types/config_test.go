package types

import (
	"errors"
	"testing"
)

func TestConfigValidate(t *testing.T) {
	internal := VolumeConfig{Name: VolumeInternal, Root: "/data/media", StableIDs: true}

	tests := []struct {
		name    string
		config  Config
		wantErr error
	}{
		{
			name:    "empty data dir returns ErrDataDirEmpty",
			config:  Config{DataDir: "", Volumes: []VolumeConfig{internal}},
			wantErr: ErrDataDirEmpty,
		},
		{
			name:    "no volumes returns ErrNoVolumes",
			config:  Config{DataDir: "/tmp/data"},
			wantErr: ErrNoVolumes,
		},
		{
			name: "empty volume name rejected",
			config: Config{DataDir: "/tmp/data", Volumes: []VolumeConfig{
				{Name: "", Root: "/mnt"},
			}},
			wantErr: ErrVolumeNameEmpty,
		},
		{
			name: "empty volume root rejected",
			config: Config{DataDir: "/tmp/data", Volumes: []VolumeConfig{
				{Name: "sdcard", Root: ""},
			}},
			wantErr: ErrVolumeRootEmpty,
		},
		{
			name: "duplicate volume names rejected",
			config: Config{DataDir: "/tmp/data", Volumes: []VolumeConfig{
				internal,
				{Name: VolumeInternal, Root: "/other"},
			}},
			wantErr: ErrVolumeNameRepeats,
		},
		{
			name:    "valid single-volume config",
			config:  Config{DataDir: "/tmp/data", Volumes: []VolumeConfig{internal}},
			wantErr: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("expected nil error, got %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error %v, got nil", tt.wantErr)
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected error %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestConfigFlagAndEnumeratorViews(t *testing.T) {
	cfg := Config{
		DataDir: "/tmp/data",
		Volumes: []VolumeConfig{
			{Name: VolumeInternal, Root: "/data/media", StableIDs: true},
			{Name: "sdcard", Root: "/mnt/sdcard"},
		},
	}

	if !cfg.StableIDsEnabled(VolumeInternal) {
		t.Fatal("internal volume should have stable ids enabled")
	}
	if cfg.StableIDsEnabled("sdcard") {
		t.Fatal("sdcard should not have stable ids enabled")
	}
	if cfg.StableIDsEnabled("missing") {
		t.Fatal("unknown volume should not have stable ids enabled")
	}

	mounted := cfg.MountedVolumes()
	if len(mounted) != 2 {
		t.Fatalf("expected 2 mounted volumes, got %d", len(mounted))
	}
	if _, ok := cfg.Volume("sdcard"); !ok {
		t.Fatal("expected to find sdcard volume")
	}
}
