// Package manifest persists the record of a create invocation to
// /etc/alma/manifest.toml inside the installed system, so `alma install`
// can reproduce the build on another disk. The document is TOML,
// versioned by a top-level schema key.
package manifest

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"alma/internal/almaerr"
)

// RelPath is the manifest location relative to the installed root.
const RelPath = "etc/alma/manifest.toml"

// CurrentSchema is the manifest format version this build reads and
// writes.
const CurrentSchema = 1

// Manifest captures the exact create invocation.
type Manifest struct {
	Schema        int      `toml:"schema"`
	System        string   `toml:"system"`
	Filesystem    string   `toml:"filesystem"`
	Encrypted     bool     `toml:"encrypted"`
	ExtraPackages []string `toml:"extra_packages"`
	AURPackages   []string `toml:"aur_packages"`
	AURHelper     string   `toml:"aur_helper"`
	Presets       []string `toml:"presets"`
	BootSizeMiB   uint64   `toml:"boot_size"`
}

// New returns a Manifest stamped with the current schema version.
func New() Manifest {
	return Manifest{Schema: CurrentSchema, System: "alma"}
}

// Write persists m under root, creating /etc/alma if needed.
func Write(root string, m Manifest) error {
	if m.Schema == 0 {
		m.Schema = CurrentSchema
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(m); err != nil {
		return &almaerr.Internal{Err: fmt.Errorf("encoding manifest: %w", err)}
	}

	path := filepath.Join(root, RelPath)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return &almaerr.Internal{Err: err}
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return &almaerr.Internal{Err: fmt.Errorf("writing manifest: %w", err)}
	}
	return nil
}

// Load reads the manifest persisted under root.
func Load(root string) (Manifest, error) {
	path := filepath.Join(root, RelPath)
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, &almaerr.ManifestRead{Path: path, Err: err}
	}

	var m Manifest
	md, err := toml.NewDecoder(bytes.NewReader(data)).Decode(&m)
	if err != nil {
		return Manifest{}, &almaerr.ManifestRead{Path: path, Err: err}
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return Manifest{}, &almaerr.ManifestRead{Path: path, Err: fmt.Errorf("unknown key(s): %v", undecoded)}
	}
	if m.Schema != CurrentSchema {
		return Manifest{}, &almaerr.ManifestRead{Path: path, Err: fmt.Errorf("unsupported schema %d (want %d)", m.Schema, CurrentSchema)}
	}
	return m, nil
}
