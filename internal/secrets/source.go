package secrets

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Source resolves secret values by name.
type Source interface {
	Lookup(name string) (string, bool)
}

// EnvSource reads secrets from the process environment, which is how the CI
// platform injects them.
type EnvSource struct{}

func (EnvSource) Lookup(name string) (string, bool) {
	return os.LookupEnv(name)
}

// MapSource serves secrets from an in-memory map.
type MapSource map[string]string

func (m MapSource) Lookup(name string) (string, bool) {
	v, ok := m[name]
	return v, ok
}

// FileSource serves secrets from a flat YAML mapping, for local runs outside
// the CI platform.
type FileSource struct {
	values map[string]string
}

// ReadFile parses a YAML file of NAME: value pairs. Scalar values of any type
// are kept in their textual form, so `DB_PORT: 5432` reads as "5432".
func ReadFile(path string) (*FileSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read secrets file: %w", err)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse secrets file %s: %w", path, err)
	}

	values := map[string]string{}
	if len(doc.Content) == 0 {
		return &FileSource{values: values}, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("parse secrets file %s: expected a mapping, got %s", path, kindName(root.Kind))
	}
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, val := root.Content[i], root.Content[i+1]
		if val.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("parse secrets file %s: %s (line %d) must be a scalar", path, key.Value, val.Line)
		}
		values[strings.TrimSpace(key.Value)] = val.Value
	}
	return &FileSource{values: values}, nil
}

func (f *FileSource) Lookup(name string) (string, bool) {
	v, ok := f.values[name]
	return v, ok
}

func kindName(k yaml.Kind) string {
	switch k {
	case yaml.SequenceNode:
		return "sequence"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	case yaml.DocumentNode:
		return "document"
	default:
		return "mapping"
	}
}
