// Package preset acquires preset sources, parses their TOML, orders
// them, aggregates package sets, and runs their scripts inside the
// chroot. Remote sources are fetched into scoped
// scratch directories; git clones are shallow, archives may be zip,
// tar.gz, tar.zst, or tar.xz.
package preset

// Preset is parsed from TOML.
type Preset struct {
	// Path is the absolute path of the source .toml file; it is the
	// preset's identity.
	Path string `toml:"-" json:"-"`

	Packages             []string `toml:"packages" json:"packages,omitempty"`
	AURPackages          []string `toml:"aur_packages" json:"aur_packages,omitempty"`
	Script               string   `toml:"script" json:"script,omitempty"`
	EnvironmentVariables []string `toml:"environment_variables" json:"environment_variables,omitempty"`
	SharedDirectories    []string `toml:"shared_directories" json:"shared_directories,omitempty"`
}

// Name derives the basename used for the materialized chroot script,
// /tmp/<name>.sh inside the target.
func (p Preset) Name() string {
	base := p.Path
	for i := len(base) - 1; i >= 0; i-- {
		if base[i] == '/' {
			base = base[i+1:]
			break
		}
	}
	if len(base) > 5 && base[len(base)-5:] == ".toml" {
		base = base[:len(base)-5]
	}
	return base
}

// Set is the aggregate of every discovered preset, in execution order.
type Set struct {
	Presets               []Preset
	BaseDirectory         string
	AggregatedPackages    []string
	AggregatedAURPackages []string
	RequiredEnvironment   []string
}
