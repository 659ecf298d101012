// -----------------------------------------------------------------------
// Template loading - built-in grade templates plus YAML overrides
// -----------------------------------------------------------------------

package forms

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ternarybob/metior/internal/models"
)

// templateFile is the YAML shape of a template override file
type templateFile struct {
	Templates []models.FormTemplate `yaml:"templates"`
}

// LoadTemplates returns the built-in templates merged with the override
// file: same-name entries replace built-ins, new names are appended. An
// empty path or a missing file means built-ins only; a malformed file is
// an error, not a silent fallback.
func LoadTemplates(path string) ([]models.FormTemplate, error) {
	builtins := models.BuiltinTemplates()
	if path == "" {
		return builtins, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return builtins, nil
		}
		return nil, fmt.Errorf("read template file %s: %w", path, err)
	}

	var file templateFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse template file %s: %w", path, err)
	}

	for i, t := range file.Templates {
		if t.Name == "" {
			return nil, fmt.Errorf("template file %s: entry %d has no name", path, i)
		}
		if len(t.Grades) == 0 {
			return nil, fmt.Errorf("template file %s: template %q has no grades", path, t.Name)
		}
	}

	merged := make([]models.FormTemplate, 0, len(builtins)+len(file.Templates))
	overridden := make(map[models.TemplateName]models.FormTemplate, len(file.Templates))
	for _, t := range file.Templates {
		overridden[t.Name] = t
	}
	for _, b := range builtins {
		if o, ok := overridden[b.Name]; ok {
			merged = append(merged, o)
			delete(overridden, b.Name)
		} else {
			merged = append(merged, b)
		}
	}
	for _, t := range file.Templates {
		if _, stillNew := overridden[t.Name]; stillNew {
			merged = append(merged, t)
		}
	}
	return merged, nil
}
