package protocol

import (
	"encoding/base64"
	"fmt"

	"github.com/bytedance/sonic"
)

var api = sonic.ConfigStd

type wireMessage struct {
	Type Type    `json:"type"`
	Text *string `json:"text,omitempty"`
	B64  *string `json:"b64,omitempty"`
}

// Parse decodes an inbound message into its envelope.
// It fails closed: anything that is not a well-formed message of a known type
// results in an error wrapping ErrMalformed or ErrUnknownType.
func Parse(data []byte) (Envelope, error) {
	var msg wireMessage

	err := api.Unmarshal(data, &msg)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformed, err)
	}

	switch msg.Type {
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	case TypeAssistant:
		if msg.Text == nil {
			return nil, fmt.Errorf("%w: %s message without text", ErrMalformed, msg.Type)
		}
		return Assistant{Text: *msg.Text}, nil
	case TypeFinal:
		if msg.Text == nil {
			return nil, fmt.Errorf("%w: %s message without text", ErrMalformed, msg.Type)
		}
		return Final{Text: *msg.Text}, nil
	case TypeError, TypeLLMError:
		text := DefaultErrorText
		if msg.Text != nil && *msg.Text != "" {
			text = *msg.Text
		}
		return Error{Kind: msg.Type, Text: text}, nil
	case TypeAudio:
		if msg.B64 == nil || *msg.B64 == "" {
			return nil, fmt.Errorf("%w: audio message without payload", ErrMalformed)
		}
		payload, err := base64.StdEncoding.DecodeString(*msg.B64)
		if err != nil {
			return nil, fmt.Errorf("%w: decode audio payload: %s", ErrMalformed, err)
		}
		return Audio{Payload: payload}, nil
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownType, msg.Type)
	}
}

// Marshal encodes an envelope the way the backend sends it.
func Marshal(e Envelope) ([]byte, error) {
	msg := wireMessage{Type: e.Type()}

	switch v := e.(type) {
	case Assistant:
		msg.Text = &v.Text
	case Final:
		msg.Text = &v.Text
	case Error:
		msg.Text = &v.Text
	case Audio:
		b64 := base64.StdEncoding.EncodeToString(v.Payload)
		msg.B64 = &b64
	default:
		return nil, fmt.Errorf("marshal envelope: unsupported type %T", e)
	}

	return api.Marshal(msg)
}

func (c Config) Marshal() ([]byte, error) {
	b, err := api.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return b, nil
}

// ParseConfig decodes a handshake message.
func ParseConfig(data []byte) (Config, error) {
	var c Config

	err := api.Unmarshal(data, &c)
	if err != nil {
		return c, fmt.Errorf("%w: %s", ErrMalformed, err)
	}

	if c.Type != TypeConfig {
		return c, fmt.Errorf("%w: expected %s message but received %q", ErrMalformed, TypeConfig, c.Type)
	}

	if c.Keys == nil {
		c.Keys = map[string]string{}
	}

	return c, nil
}
