package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/coder/websocket"

	"github.com/mgoltzsche/voice-chat/internal/audio"
	"github.com/mgoltzsche/voice-chat/internal/model"
	"github.com/mgoltzsche/voice-chat/internal/observe"
	"github.com/mgoltzsche/voice-chat/internal/protocol"
)

var ErrAlreadyOpen = errors.New("channel is already open")

// Conn is a message oriented bidirectional connection.
// It is implemented by *websocket.Conn.
type Conn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
	CloseNow() error
}

type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// Handler receives inbound text messages in the order they arrived.
type Handler interface {
	Route(ctx context.Context, data []byte)
}

// Manager owns the connection of a recording session.
// It sends the handshake, forwards audio frames in order and delivers inbound messages to the Handler.
// A closed Manager can be opened again.
type Manager struct {
	URL     string
	Dialer  Dialer
	Handler Handler
	// OnClose is called when the connection was closed by the peer or failed.
	// It is not called when the connection is closed using Close.
	OnClose    func(err error)
	SendBuffer int
	Metrics    *observe.Metrics

	mutex  sync.Mutex
	state  model.ConnectionState
	conn   Conn
	out    chan []byte
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ audio.FrameSink = &Manager{}

// Open connects to the backend and sends the handshake before any frame.
func (m *Manager) Open(ctx context.Context, handshake protocol.Config) error {
	m.mutex.Lock()
	if m.state == model.Open {
		m.mutex.Unlock()
		return ErrAlreadyOpen
	}
	m.mutex.Unlock()

	// wait for the loops of a previous connection
	m.wg.Wait()

	hs, err := handshake.Marshal()
	if err != nil {
		return err
	}

	conn, err := m.Dialer.Dial(ctx, m.URL)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", m.URL, err)
	}

	err = conn.Write(ctx, websocket.MessageText, hs)
	if err != nil {
		_ = conn.CloseNow()
		return fmt.Errorf("send handshake: %w", err)
	}

	bufferSize := m.SendBuffer
	if bufferSize <= 0 {
		bufferSize = 64
	}

	connCtx, cancel := context.WithCancel(context.Background())
	out := make(chan []byte, bufferSize)

	m.mutex.Lock()
	m.conn = conn
	m.out = out
	m.cancel = cancel
	m.state = model.Open
	m.mutex.Unlock()

	slog.Info(fmt.Sprintf("connected to %s", m.URL), "persona", handshake.Persona)

	m.wg.Add(2)
	go m.writeLoop(connCtx, conn, out)
	go m.readLoop(connCtx, conn)

	return nil
}

// SendFrame queues a frame for transmission.
// Frames are dropped when the channel is not open or the send buffer is full.
func (m *Manager) SendFrame(f audio.Frame) {
	metrics := observe.OrDefault(m.Metrics)

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.state != model.Open {
		slog.Debug("dropping audio frame since the channel is not open", "state", m.state)
		metrics.RecordFrameDropped(context.Background(), "not_open")
		return
	}

	select {
	case m.out <- f.Bytes():
	default:
		slog.Warn("dropping audio frame since the send buffer is full")
		metrics.RecordFrameDropped(context.Background(), "backpressure")
	}
}

func (m *Manager) writeLoop(ctx context.Context, conn Conn, out <-chan []byte) {
	defer m.wg.Done()

	metrics := observe.OrDefault(m.Metrics)

	for {
		select {
		case <-ctx.Done():
			return
		case b := <-out:
			err := conn.Write(ctx, websocket.MessageBinary, b)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Warn("failed to send audio frame", "err", err)
				metrics.RecordFrameDropped(ctx, "send_failed")
				continue
			}
			metrics.FramesSent.Add(ctx, 1)
		}
	}
}

func (m *Manager) readLoop(ctx context.Context, conn Conn) {
	defer m.wg.Done()

	metrics := observe.OrDefault(m.Metrics)

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			m.handleReadError(conn, err)
			return
		}

		if typ != websocket.MessageText {
			slog.Warn("discarding binary message received from backend", "bytes", len(data))
			metrics.RecordMessageDiscarded(ctx, "binary")
			continue
		}

		m.Handler.Route(ctx, data)
	}
}

func (m *Manager) handleReadError(conn Conn, err error) {
	m.mutex.Lock()
	if m.conn != conn {
		// closed by the client
		m.mutex.Unlock()
		return
	}

	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		m.state = model.Closed
		slog.Info("connection closed by backend")
	default:
		m.state = model.Error
		slog.Warn("connection failed", "err", err)
	}

	m.conn = nil
	m.cancel()
	m.mutex.Unlock()

	_ = conn.CloseNow()

	if m.OnClose != nil {
		m.OnClose(err)
	}
}

// Close closes the connection gracefully.
func (m *Manager) Close() error {
	m.mutex.Lock()
	conn := m.conn
	cancel := m.cancel
	m.conn = nil
	m.state = model.Closed
	m.mutex.Unlock()

	if conn == nil {
		return nil
	}

	err := conn.Close(websocket.StatusNormalClosure, "")
	cancel()

	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("close connection: %w", err)
	}

	return nil
}

func (m *Manager) State() model.ConnectionState {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.state
}
