package config

import (
	"fmt"
	"os"
	"path/filepath"

	yaml "github.com/goccy/go-yaml"
)

// YAML renders the resolved configuration.
func (c Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// WriteSnapshot writes the resolved configuration to path, creating parent
// directories.
func WriteSnapshot(path string, c Config) error {
	data, err := c.YAML()
	if err != nil {
		return fmt.Errorf("encode config snapshot: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config snapshot: %w", err)
	}
	return nil
}
