package config

import (
	"fmt"
	"sort"
	"strings"
)

type Flag struct {
	File   string
	Config *Configuration
	IsSet  bool
}

func (f *Flag) Set(path string) error {
	f.File = path

	cfg, err := FromFile(path)
	if err != nil {
		return err
	}

	*f.Config = cfg
	f.IsSet = true

	return nil
}

func (f *Flag) String() string {
	return f.File
}

// KeysFlag sets a single provider credential using the form provider=key.
type KeysFlag struct {
	Config *Configuration
}

func (f *KeysFlag) Set(s string) error {
	provider, key, ok := strings.Cut(s, "=")
	if !ok || provider == "" {
		return fmt.Errorf("invalid key %q provided, expected PROVIDER=KEY", s)
	}

	if f.Config.Keys == nil {
		f.Config.Keys = map[string]string{}
	}

	f.Config.Keys[provider] = key

	return nil
}

func (f *KeysFlag) String() string {
	if f.Config == nil {
		return ""
	}

	providers := make([]string, 0, len(f.Config.Keys))
	for p := range f.Config.Keys {
		providers = append(providers, p)
	}

	sort.Strings(providers)

	return strings.Join(providers, ",")
}
