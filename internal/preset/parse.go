package preset

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"alma/internal/almaerr"
)

// Parse decodes a single preset TOML file with strict unknown-key
// rejection and validates shared_directories entries.
func Parse(path string) (Preset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Preset{}, &almaerr.PresetParse{Path: path, Err: err}
	}

	var p Preset
	md, err := toml.NewDecoder(bytes.NewReader(data)).Decode(&p)
	if err != nil {
		return Preset{}, &almaerr.PresetParse{Path: path, Err: err}
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return Preset{}, &almaerr.PresetParse{
			Path: path,
			Err:  fmt.Errorf("unknown key(s): %v", undecoded),
		}
	}

	p.Path = path

	dir := filepath.Dir(path)
	for _, shared := range p.SharedDirectories {
		if filepath.IsAbs(shared) {
			return Preset{}, &almaerr.PresetParse{Path: path, Err: fmt.Errorf("shared_directories entry %q must be relative", shared)}
		}
		if strings.Contains(shared, "..") {
			return Preset{}, &almaerr.PresetParse{Path: path, Err: fmt.Errorf("shared_directories entry %q must not traverse upward", shared)}
		}
		sharedPath := filepath.Join(dir, shared)
		info, err := os.Stat(sharedPath)
		if err != nil || !info.IsDir() {
			return Preset{}, &almaerr.PresetParse{Path: path, Err: fmt.Errorf("shared_directories entry %q does not name an existing directory next to the preset", shared)}
		}
	}

	return p, nil
}
