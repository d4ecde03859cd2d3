package router

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mgoltzsche/voice-chat/internal/model"
	"github.com/mgoltzsche/voice-chat/internal/observe"
	"github.com/mgoltzsche/voice-chat/internal/protocol"
	"github.com/mgoltzsche/voice-chat/internal/pubsub"
)

// AudioQueue accepts encoded audio payloads for playback.
type AudioQueue interface {
	Enqueue(data []byte) int64
}

// Router dispatches inbound messages to the chat log or the playback queue.
type Router struct {
	Messages pubsub.Publisher[model.ChatMessage]
	Audio    AudioQueue
	Metrics  *observe.Metrics
}

// Route handles a single inbound message.
// Malformed messages and messages of an unknown type are logged and discarded.
func (r *Router) Route(ctx context.Context, data []byte) {
	metrics := observe.OrDefault(r.Metrics)

	env, err := protocol.Parse(data)
	if err != nil {
		if errors.Is(err, protocol.ErrUnknownType) {
			slog.Debug("ignoring inbound message", "err", err)
			metrics.RecordMessageDiscarded(ctx, "unknown_type")
			return
		}
		slog.Warn("discarding malformed inbound message", "err", err)
		metrics.RecordMessageDiscarded(ctx, "malformed")
		return
	}

	metrics.RecordMessageReceived(ctx, string(env.Type()))

	switch msg := env.(type) {
	case protocol.Assistant:
		r.publish(model.RoleAssistant, msg.Text)
	case protocol.Final:
		r.publish(model.RoleUser, msg.Text)
	case protocol.Error:
		slog.Warn("backend reported an error", "type", msg.Kind, "text", msg.Text)
		r.publish(model.RoleAssistant, msg.Text)
	case protocol.Audio:
		seq := r.Audio.Enqueue(msg.Payload)
		slog.Debug("queued audio payload", "seq", seq, "bytes", len(msg.Payload))
	}
}

func (r *Router) publish(role model.Role, text string) {
	r.Messages.Publish(model.ChatMessage{
		Role: role,
		Text: text,
		Time: time.Now(),
	})
}
