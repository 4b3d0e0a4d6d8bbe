package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// coerceToJSONBytes turns a YAML config file into JSON bytes. config.yaml is
// the primary format, but routing everything through JSON lets one strict
// decoder (DisallowUnknownFields) cover both, so a typoed key like
// "schduler" fails the same way regardless of which format the file uses.
// Non-YAML extensions are passed through untouched.
func coerceToJSONBytes(path string, data []byte) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
	default:
		return data, nil
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("yaml unmarshal: %w", err)
	}
	out, err := json.Marshal(stringifyKeys(doc))
	if err != nil {
		return nil, fmt.Errorf("yaml->json marshal: %w", err)
	}
	return out, nil
}

// stringifyKeys rewrites nested YAML maps so every key is a string, which
// json.Marshal requires.
func stringifyKeys(in any) any {
	switch x := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[fmt.Sprint(k)] = stringifyKeys(v)
		}
		return m
	case map[string]any:
		for k, v := range x {
			x[k] = stringifyKeys(v)
		}
		return x
	case []any:
		for i := range x {
			x[i] = stringifyKeys(x[i])
		}
		return x
	default:
		return in
	}
}
