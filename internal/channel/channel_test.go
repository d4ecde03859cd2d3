package channel

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"

	"github.com/mgoltzsche/voice-chat/internal/audio"
	"github.com/mgoltzsche/voice-chat/internal/model"
	"github.com/mgoltzsche/voice-chat/internal/protocol"
)

type message struct {
	Type websocket.MessageType
	Data string
}

type fakeBackend struct {
	mutex    sync.Mutex
	received []message
	conns    int
	// reply is sent right after the handshake was received.
	reply []string
	// closeStatus closes the connection after the reply when set, -1 drops it.
	closeStatus websocket.StatusCode
}

func (b *fakeBackend) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	c, err := websocket.Accept(w, req, nil)
	if err != nil {
		return
	}
	defer c.CloseNow()

	b.mutex.Lock()
	b.conns++
	b.mutex.Unlock()

	ctx := req.Context()
	first := true

	for {
		typ, data, err := c.Read(ctx)
		if err != nil {
			return
		}

		b.mutex.Lock()
		b.received = append(b.received, message{typ, string(data)})
		b.mutex.Unlock()

		if first {
			first = false
			for _, msg := range b.reply {
				if err := c.Write(ctx, websocket.MessageText, []byte(msg)); err != nil {
					return
				}
			}
			switch {
			case b.closeStatus == -1:
				return
			case b.closeStatus > 0:
				_ = c.Close(b.closeStatus, "bye")
				return
			}
		}
	}
}

func (b *fakeBackend) Received() []message {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return append([]message(nil), b.received...)
}

func (b *fakeBackend) Conns() int {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.conns
}

type fakeHandler struct {
	mutex    sync.Mutex
	messages []string
}

func (h *fakeHandler) Route(ctx context.Context, data []byte) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.messages = append(h.messages, string(data))
}

func (h *fakeHandler) Messages() []string {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return append([]string(nil), h.messages...)
}

func newTestManager(t *testing.T, backend *fakeBackend) (*Manager, *fakeHandler, chan error) {
	t.Helper()
	srv := httptest.NewServer(backend)
	t.Cleanup(srv.Close)

	url, err := WebsocketURL(srv.URL)
	require.NoError(t, err)

	handler := &fakeHandler{}
	closed := make(chan error, 1)
	m := &Manager{
		URL:     url,
		Dialer:  &WebsocketDialer{},
		Handler: handler,
		OnClose: func(err error) { closed <- err },
	}
	t.Cleanup(func() { _ = m.Close() })

	return m, handler, closed
}

var testHandshake = protocol.NewConfig(map[string]string{"murf": "", "gemini": "secret"}, "me")

func TestManagerSendsHandshakeBeforeFramesInOrder(t *testing.T) {
	backend := &fakeBackend{reply: []string{
		`{"type":"final","text":"hello"}`,
		`{"type":"assistant","text":"hi there"}`,
		`{"type":"audio","b64":"AQI="}`,
	}}
	testee, handler, closed := newTestManager(t, backend)
	ctx := context.Background()

	testee.SendFrame(audio.NewFrame([]int16{42}))

	err := testee.Open(ctx, testHandshake)
	require.NoError(t, err)
	require.Equal(t, model.Open, testee.State())

	for i := int16(0); i < 5; i++ {
		testee.SendFrame(audio.NewFrame([]int16{i, -i}))
	}

	require.Eventually(t, func() bool {
		return len(backend.Received()) == 6
	}, 5*time.Second, 10*time.Millisecond, "backend should receive handshake and frames")

	received := backend.Received()
	require.Equal(t, websocket.MessageText, received[0].Type)
	require.JSONEq(t, `{"type":"config","keys":{"murf":"","gemini":"secret"},"persona":"me"}`, received[0].Data)
	for i, msg := range received[1:] {
		require.Equal(t, websocket.MessageBinary, msg.Type)
		require.Equal(t, string(audio.NewFrame([]int16{int16(i), -int16(i)}).Bytes()), msg.Data, "frame %d", i)
	}

	require.Eventually(t, func() bool {
		return len(handler.Messages()) == 3
	}, 5*time.Second, 10*time.Millisecond, "inbound messages")
	require.Equal(t, backend.reply, handler.Messages())

	require.NoError(t, testee.Close())
	require.Equal(t, model.Closed, testee.State())
	select {
	case err := <-closed:
		t.Fatalf("OnClose called after Close: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestManagerDropsFramesWhenNotOpen(t *testing.T) {
	backend := &fakeBackend{}
	testee, _, _ := newTestManager(t, backend)

	testee.SendFrame(audio.NewFrame([]int16{1}))
	require.NoError(t, testee.Open(context.Background(), testHandshake))
	require.NoError(t, testee.Close())
	testee.SendFrame(audio.NewFrame([]int16{2}))

	time.Sleep(50 * time.Millisecond)
	require.Len(t, backend.Received(), 1, "only the handshake should be received")
}

func TestManagerReportsUnexpectedClosure(t *testing.T) {
	for _, tc := range []struct {
		name     string
		status   websocket.StatusCode
		expected model.ConnectionState
	}{
		{"normal closure", websocket.StatusNormalClosure, model.Closed},
		{"going away", websocket.StatusGoingAway, model.Closed},
		{"internal error", websocket.StatusInternalError, model.Error},
		{"dropped connection", -1, model.Error},
	} {
		t.Run(tc.name, func(t *testing.T) {
			backend := &fakeBackend{closeStatus: tc.status}
			testee, _, closed := newTestManager(t, backend)

			require.NoError(t, testee.Open(context.Background(), testHandshake))

			select {
			case err := <-closed:
				require.Error(t, err)
			case <-time.After(5 * time.Second):
				t.Fatal("timed out waiting for OnClose")
			}
			require.Equal(t, tc.expected, testee.State())

			testee.SendFrame(audio.NewFrame([]int16{1}))
			require.NoError(t, testee.Close())
			require.Equal(t, model.Closed, testee.State())
		})
	}
}

func TestManagerCanBeReopened(t *testing.T) {
	backend := &fakeBackend{}
	testee, _, _ := newTestManager(t, backend)
	ctx := context.Background()

	require.NoError(t, testee.Open(ctx, testHandshake))
	require.ErrorIs(t, testee.Open(ctx, testHandshake), ErrAlreadyOpen)
	require.NoError(t, testee.Close())
	require.NoError(t, testee.Open(ctx, testHandshake))

	require.Eventually(t, func() bool {
		return backend.Conns() == 2 && len(backend.Received()) == 2
	}, 5*time.Second, 10*time.Millisecond)
}

type fakeConn struct {
	mutex    sync.Mutex
	written  [][]byte
	failNext int
	closed   chan struct{}
	once     sync.Once
}

func newFakeConn(failNext int) *fakeConn {
	return &fakeConn{failNext: failNext, closed: make(chan struct{})}
}

func (c *fakeConn) Read(ctx context.Context) (websocket.MessageType, []byte, error) {
	select {
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	case <-c.closed:
		return 0, nil, errors.New("closed")
	}
}

func (c *fakeConn) Write(ctx context.Context, typ websocket.MessageType, p []byte) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if typ == websocket.MessageBinary && c.failNext > 0 {
		c.failNext--
		return errors.New("fake write failure")
	}
	c.written = append(c.written, p)
	return nil
}

func (c *fakeConn) Close(code websocket.StatusCode, reason string) error {
	return c.CloseNow()
}

func (c *fakeConn) CloseNow() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) Written() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return len(c.written)
}

type fakeDialer struct {
	conn Conn
	err  error
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Conn, error) {
	return d.conn, d.err
}

func TestManagerSwallowsFrameSendFailures(t *testing.T) {
	conn := newFakeConn(2)
	closed := false
	testee := &Manager{
		URL:     "ws://fake/ws",
		Dialer:  &fakeDialer{conn: conn},
		Handler: &fakeHandler{},
		OnClose: func(error) { closed = true },
	}

	require.NoError(t, testee.Open(context.Background(), testHandshake))

	for i := int16(0); i < 5; i++ {
		testee.SendFrame(audio.NewFrame([]int16{i}))
	}

	require.Eventually(t, func() bool {
		return conn.Written() == 4
	}, 5*time.Second, 5*time.Millisecond, "handshake and the 3 frames that did not fail")
	require.Equal(t, model.Open, testee.State())
	require.NoError(t, testee.Close())
	require.False(t, closed, "OnClose called")
}

func TestManagerOpenFailure(t *testing.T) {
	testee := &Manager{
		URL:     "ws://fake/ws",
		Dialer:  &fakeDialer{err: errors.New("connection refused")},
		Handler: &fakeHandler{},
	}

	err := testee.Open(context.Background(), testHandshake)

	require.Error(t, err)
	require.Equal(t, model.Closed, testee.State())
}

func TestWebsocketURL(t *testing.T) {
	for _, tc := range []struct {
		input    string
		expected string
	}{
		{"http://localhost:8000", "ws://localhost:8000/ws"},
		{"https://chat.example.org", "wss://chat.example.org/ws"},
		{"https://chat.example.org/", "wss://chat.example.org/ws"},
		{"https://example.org/voice", "wss://example.org/voice/ws"},
		{"wss://example.org/ws", "wss://example.org/ws"},
	} {
		t.Run(tc.input, func(t *testing.T) {
			url, err := WebsocketURL(tc.input)
			require.NoError(t, err)
			require.Equal(t, tc.expected, url)
		})
	}

	for _, input := range []string{"ftp://example.org", "localhost:8000", "http://"} {
		_, err := WebsocketURL(input)
		require.Errorf(t, err, "input %q", input)
	}

}
