package config

import (
	"fmt"
	"time"
)

// Providers lists the backend credential names sent with every handshake.
var Providers = []string{"murf", "assemblyai", "gemini", "serpapi", "newsapi"}

type Configuration struct {
	ServerURL     string            `json:"serverURL"`
	Keys          map[string]string `json:"keys,omitempty"`
	Persona       string            `json:"persona,omitempty"`
	InputDevice   string            `json:"inputDevice,omitempty"`
	OutputDevice  string            `json:"outputDevice,omitempty"`
	SampleRate    int               `json:"sampleRate,omitempty"`
	FrameSize     int               `json:"frameSize,omitempty"`
	FlushOnStop   bool              `json:"flushOnStop,omitempty"`
	DecodeTimeout Duration          `json:"decodeTimeout,omitempty"`
	Prefetch      int               `json:"prefetch,omitempty"`
	MetricsListen string            `json:"metricsListen,omitempty"`
}

func Defaults() Configuration {
	return Configuration{
		ServerURL:     "http://localhost:8000",
		Keys:          map[string]string{},
		Persona:       "me",
		SampleRate:    16000,
		FrameSize:     4096,
		DecodeTimeout: Duration(10 * time.Second),
		Prefetch:      2,
	}
}

// HandshakeKeys returns a credential map containing every known provider,
// using an empty string when no key is configured.
func (c *Configuration) HandshakeKeys() map[string]string {
	keys := make(map[string]string, len(Providers)+len(c.Keys))
	for _, p := range Providers {
		keys[p] = ""
	}
	for k, v := range c.Keys {
		keys[k] = v
	}
	return keys
}

func (c *Configuration) Validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("no server URL configured")
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate %d", c.SampleRate)
	}
	if c.FrameSize <= 0 {
		return fmt.Errorf("invalid frame size %d", c.FrameSize)
	}
	if c.Prefetch < 1 {
		return fmt.Errorf("prefetch must be at least 1 but was %d", c.Prefetch)
	}
	if c.DecodeTimeout < 0 {
		return fmt.Errorf("decode timeout must not be negative")
	}
	return nil
}
