package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FromFile reads the configuration at the given path on top of the defaults.
func FromFile(path string) (Configuration, error) {
	cfg := Defaults()

	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}

	err = decode(b, &cfg)
	if err != nil {
		return cfg, fmt.Errorf("read config at %s: %w", path, err)
	}

	return cfg, nil
}

func decode(b []byte, cfg *Configuration) error {
	m := map[string]any{}

	err := yaml.Unmarshal(b, &m)
	if err != nil {
		return err
	}

	b, err = json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	d := json.NewDecoder(bytes.NewReader(b))
	d.DisallowUnknownFields()

	return d.Decode(cfg)
}
