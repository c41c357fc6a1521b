package forms

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed builtin.yaml
var builtinYAML []byte

// Builtins parses the bundled templates. Each one is validated like a user-supplied template.
func Builtins() ([]TemplateRequest, error) {
	return parseBuiltins(builtinYAML)
}

func parseBuiltins(raw []byte) ([]TemplateRequest, error) {
	var out []TemplateRequest
	if err := yaml.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("forms: parse built-in templates: %w", err)
	}
	for i := range out {
		out[i].normalize()
		if errs := out[i].Validate(); errs != nil {
			return nil, fmt.Errorf("forms: built-in template %q is invalid: %v", out[i].Name, errs)
		}
	}
	return out, nil
}
