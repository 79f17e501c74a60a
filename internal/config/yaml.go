package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// coerceToJSONBytes funnels both config formats through one strict decoder:
// .yaml/.yml files are unmarshalled and re-marshalled as JSON, everything
// else is passed through as-is. The returned format tag ("json" or "yaml")
// only matters for error messages.
func coerceToJSONBytes(path string, data []byte) ([]byte, string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
	default:
		return data, "json", nil
	}

	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, "yaml", fmt.Errorf("yaml unmarshal: %w", err)
	}
	j, err := json.Marshal(stringKeyed(v))
	if err != nil {
		return nil, "yaml", fmt.Errorf("yaml->json marshal: %w", err)
	}
	return j, "yaml", nil
}

// stringKeyed rewrites YAML's map[any]any nodes with string keys so the
// tree survives json.Marshal.
func stringKeyed(in any) any {
	switch x := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[fmt.Sprint(k)] = stringKeyed(v)
		}
		return m
	case map[string]any:
		for k, v := range x {
			x[k] = stringKeyed(v)
		}
		return x
	case []any:
		for i := range x {
			x[i] = stringKeyed(x[i])
		}
		return x
	default:
		return in
	}
}
