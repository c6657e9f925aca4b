package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads the file at path into v. Files ending in .yaml or .yml are decoded
// as YAML, everything else as JSON.
func Load(path string, v interface{}) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return Decode(filepath.Ext(path), raw, v)
}

// Decode unmarshals raw into v using the format implied by ext.
func Decode(ext string, raw []byte, v interface{}) error {
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(raw, v); err != nil {
			return fmt.Errorf("config: yaml: %w", err)
		}
	default:
		if err := json.Unmarshal(raw, v); err != nil {
			return fmt.Errorf("config: json: %w", err)
		}
	}
	return nil
}
