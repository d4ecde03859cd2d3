package router

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mgoltzsche/voice-chat/internal/model"
	"github.com/mgoltzsche/voice-chat/internal/pubsub"
)

type fakeQueue struct {
	payloads [][]byte
}

func (q *fakeQueue) Enqueue(data []byte) int64 {
	q.payloads = append(q.payloads, data)
	return int64(len(q.payloads))
}

type chatLine struct {
	Role model.Role
	Text string
}

func newTestRouter() (*Router, *[]chatLine, *fakeQueue) {
	var lines []chatLine
	queue := &fakeQueue{}
	r := &Router{
		Messages: pubsub.PublisherFunc[model.ChatMessage](func(m model.ChatMessage) {
			lines = append(lines, chatLine{Role: m.Role, Text: m.Text})
		}),
		Audio: queue,
	}
	return r, &lines, queue
}

func TestRoute(t *testing.T) {
	testee, lines, queue := newTestRouter()
	ctx := context.Background()

	for _, msg := range []string{
		`{"type":"final","text":"tell me a joke"}`,
		`{"type":"assistant","text":"why did the chicken..."}`,
		`{"type":"audio","b64":"AQID"}`,
		`{"type":"audio","b64":"BAU="}`,
		`{"type":"llm_error","text":"Sorry, I hit a snag."}`,
		`{"type":"error"}`,
	} {
		testee.Route(ctx, []byte(msg))
	}

	require.Equal(t, []chatLine{
		{model.RoleUser, "tell me a joke"},
		{model.RoleAssistant, "why did the chicken..."},
		{model.RoleAssistant, "Sorry, I hit a snag."},
		{model.RoleAssistant, "An error occurred."},
	}, *lines)
	require.Equal(t, [][]byte{{1, 2, 3}, {4, 5}}, queue.payloads)
}

func TestRouteDiscardsMalformedAndUnknownMessages(t *testing.T) {
	testee, lines, queue := newTestRouter()
	ctx := context.Background()

	for _, msg := range []string{
		``,
		`not json`,
		`{"type":"audio"}`,
		`{"type":"audio","b64":"%%%"}`,
		`{"type":"audio","b64":42}`,
		`{"type":"partial","text":"hel"}`,
		`{"type":"config","keys":{}}`,
		`{"text":"no type"}`,
		`["audio"]`,
	} {
		testee.Route(ctx, []byte(msg))
	}

	require.Empty(t, *lines, "chat messages")
	require.Empty(t, queue.payloads, "queued payloads")
}
