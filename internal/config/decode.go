package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// decode fills cfg from data. YAML files are first rewritten as JSON so both
// formats go through the same strict decoder.
func decode(path string, data []byte, cfg *Config) error {
	format := "json"
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		format = "yaml"
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("yaml config %s: %w", path, err)
		}
		j, err := json.Marshal(stringKeys(doc))
		if err != nil {
			return fmt.Errorf("yaml config %s: %w", path, err)
		}
		data = j
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("%s config %s: %w", format, path, err)
	}
	switch err := dec.Decode(&struct{}{}); {
	case err == nil:
		return fmt.Errorf("%s config %s: trailing data", format, path)
	case !errors.Is(err, io.EOF):
		return fmt.Errorf("%s config %s: %w", format, path, err)
	}
	return nil
}

// stringKeys turns map[any]any nodes (non-string YAML keys) into
// map[string]any so encoding/json accepts them.
func stringKeys(v any) any {
	switch n := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(n))
		for k, e := range n {
			out[fmt.Sprint(k)] = stringKeys(e)
		}
		return out
	case map[string]any:
		for k, e := range n {
			n[k] = stringKeys(e)
		}
	case []any:
		for i, e := range n {
			n[i] = stringKeys(e)
		}
	}
	return v
}
