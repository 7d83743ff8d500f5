package tools

import (
	"errors"
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
)

// ErrMissingID is returned when a tool definition has no ID.
var ErrMissingID = errors.New("tool definition missing id")

// toolFile is the on-disk shape of a custom tool definitions file.
type toolFile struct {
	Tools []Tool `yaml:"tools"`
}

// LoadFile reads extra tool definitions from a YAML file and registers them.
// Loaded tools are appended after existing ones, so builtins keep tie-break
// priority; a loaded tool with a builtin's ID overrides that builtin in
// place instead.
func LoadFile(r *Registry, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read tool definitions: %w", err)
	}

	var f toolFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse tool definitions: %w", err)
	}

	for _, t := range f.Tools {
		if err := r.Register(t); err != nil {
			return fmt.Errorf("register tool %q: %w", t.ID, err)
		}
	}
	return nil
}
