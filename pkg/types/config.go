package types

// Well-known volume names.
const (
	VolumeInternal        = "internal"
	VolumeExternalPrimary = "external_primary"
)

// VolumeConfig describes one mounted storage area. Root is the filesystem
// node that outlives the relational store file; durable counters are stored
// as extended attributes on it.
type VolumeConfig struct {
	Name      string `json:"name" yaml:"name" mapstructure:"name"`
	Root      string `json:"root" yaml:"root" mapstructure:"root"`
	StableIDs bool   `json:"stable_ids" yaml:"stable_ids" mapstructure:"stable_ids"`
}

// Config holds the data directory and the set of volumes the index manages.
type Config struct {
	DataDir string         `json:"data_dir" yaml:"data_dir" mapstructure:"data_dir"`
	Volumes []VolumeConfig `json:"volumes" yaml:"volumes" mapstructure:"volumes"`
}

// Validate checks that the Config is well-formed. It returns a sentinel
// error from this package on failure.
func (c Config) Validate() error {
	if c.DataDir == "" {
		return ErrDataDirEmpty
	}
	if len(c.Volumes) == 0 {
		return ErrNoVolumes
	}
	seen := make(map[string]bool, len(c.Volumes))
	for _, v := range c.Volumes {
		if v.Name == "" {
			return ErrVolumeNameEmpty
		}
		if v.Root == "" {
			return ErrVolumeRootEmpty
		}
		if seen[v.Name] {
			return ErrVolumeNameRepeats
		}
		seen[v.Name] = true
	}
	return nil
}

// Volume returns the configuration for the named volume.
func (c Config) Volume(name string) (VolumeConfig, bool) {
	for _, v := range c.Volumes {
		if v.Name == name {
			return v, true
		}
	}
	return VolumeConfig{}, false
}

// StableIDsEnabled implements FeatureFlags over the static configuration.
func (c Config) StableIDsEnabled(volume string) bool {
	v, ok := c.Volume(volume)
	return ok && v.StableIDs
}

// MountedVolumes implements VolumeEnumerator over the static configuration.
func (c Config) MountedVolumes() []VolumeConfig {
	return c.Volumes
}

// FeatureFlags answers whether stable-id (and therefore backup) support is
// enabled for a volume. Implemented by Config for static deployments and by
// device feature-flag stores elsewhere.
type FeatureFlags interface {
	StableIDsEnabled(volume string) bool
}

// VolumeEnumerator lists the volumes currently mounted on the device.
type VolumeEnumerator interface {
	MountedVolumes() []VolumeConfig
}
