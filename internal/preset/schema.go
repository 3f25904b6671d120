package preset

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/invopop/jsonschema"
	"github.com/xeipuuv/gojsonschema"

	"alma/internal/almaerr"
)

// Schema derives a JSON schema from the Preset struct, documenting the
// exact shape the TOML decoder accepts. Additional properties are
// disallowed, matching the strict decode in Parse.
func Schema() *jsonschema.Schema {
	r := jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	return r.Reflect(&Preset{})
}

// Lint validates a preset file against the derived schema, surfacing
// every violation at once instead of Parse's first-error behavior. Used
// by the read-only `presets lint` driver.
func Lint(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return &almaerr.PresetParse{Path: path, Err: err}
	}

	var doc map[string]interface{}
	if _, err := toml.NewDecoder(bytes.NewReader(data)).Decode(&doc); err != nil {
		return &almaerr.PresetParse{Path: path, Err: err}
	}

	schemaLoader := gojsonschema.NewGoLoader(Schema())
	docLoader := gojsonschema.NewGoLoader(doc)

	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return &almaerr.Internal{Err: err}
	}
	if !result.Valid() {
		var problems []string
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}
		return &almaerr.PresetParse{Path: path, Err: fmt.Errorf("%s", strings.Join(problems, "; "))}
	}
	return nil
}
