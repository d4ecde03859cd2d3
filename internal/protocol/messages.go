// Package protocol implements the JSON messages exchanged with the
// conversational backend over the duplex channel.
//
// The client sends one Config handshake followed by binary PCM frames.
// The backend replies with tagged envelopes that carry either text or
// base64-encoded audio.
package protocol

import "errors"

// Type is the value of the type field every message carries.
type Type string

const (
	TypeConfig    Type = "config"
	TypeAssistant Type = "assistant"
	TypeFinal     Type = "final"
	TypeAudio     Type = "audio"
	TypeError     Type = "error"
	TypeLLMError  Type = "llm_error"
)

var (
	ErrMalformed   = errors.New("malformed message")
	ErrUnknownType = errors.New("unknown message type")
)

// DefaultErrorText is shown for error messages that come without text.
const DefaultErrorText = "An error occurred."

// Envelope is an inbound message. It is one of Assistant, Final, Audio or Error.
type Envelope interface {
	Type() Type
}

// Assistant carries text authored by the assistant.
type Assistant struct {
	Text string
}

// Final carries the recognized transcript of the user's speech.
type Final struct {
	Text string
}

// Audio carries an encoded (WAV) speech chunk.
type Audio struct {
	Payload []byte
}

// Error carries a diagnostic message of type error or llm_error.
type Error struct {
	Kind Type
	Text string
}

func (Assistant) Type() Type { return TypeAssistant }
func (Final) Type() Type     { return TypeFinal }
func (Audio) Type() Type     { return TypeAudio }
func (e Error) Type() Type {
	if e.Kind == "" {
		return TypeError
	}
	return e.Kind
}

// Config is the handshake the client sends right after the connection has been established.
type Config struct {
	Type    Type              `json:"type"`
	Keys    map[string]string `json:"keys"`
	Persona string            `json:"persona"`
}

func NewConfig(keys map[string]string, persona string) Config {
	if keys == nil {
		keys = map[string]string{}
	}
	return Config{
		Type:    TypeConfig,
		Keys:    keys,
		Persona: persona,
	}
}
