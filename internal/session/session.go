// Package session couples microphone capture, the duplex channel and playback
// into a recording session that the user starts and stops.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mgoltzsche/voice-chat/internal/audio"
	"github.com/mgoltzsche/voice-chat/internal/model"
	"github.com/mgoltzsche/voice-chat/internal/protocol"
	"github.com/mgoltzsche/voice-chat/internal/pubsub"
)

var (
	ErrAlreadyRecording = errors.New("already recording")
	ErrNotRecording     = errors.New("not recording")
)

const (
	StatusListening        = "Listening..."
	StatusReady            = "Ready to chat!"
	StatusConnectionClosed = "Connection closed"
)

// captureStopTimeout bounds how long Stop waits for a pending device read.
const captureStopTimeout = 2 * time.Second

// Channel is the duplex connection to the backend.
type Channel interface {
	audio.FrameSink
	Open(ctx context.Context, handshake protocol.Config) error
	Close() error
}

// Playback is the queue of received speech.
type Playback interface {
	Flush() int
}

// Session is the recording state machine.
// While recording it owns the input device and the channel connection.
// Playback continues independently of the session state.
type Session struct {
	Input     audio.InputDevice
	Encoder   *audio.Encoder
	Channel   Channel
	Playback  Playback
	Handshake protocol.Config
	// FlushOnStop drops queued speech when recording stops.
	FlushOnStop bool
	Status      pubsub.Publisher[model.Status]

	mutex sync.Mutex
	rec   *recording
}

type recording struct {
	id     string
	stream audio.InputStream
	cancel context.CancelFunc
	done   chan struct{}
}

func (s *Session) State() model.SessionState {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.rec == nil {
		return model.Idle
	}
	return model.Recording
}

// Toggle starts recording when idle and stops it otherwise.
func (s *Session) Toggle(ctx context.Context) error {
	if s.State() == model.Recording {
		return s.Stop()
	}
	return s.Start(ctx)
}

// Start acquires the input device, connects to the backend and starts streaming audio.
// When any of it fails, everything acquired so far is released and the session stays idle.
func (s *Session) Start(ctx context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.rec != nil {
		return ErrAlreadyRecording
	}

	id := uuid.NewString()
	logger := slog.With("session", id)

	stream, err := s.Input.Open()
	if err != nil {
		err = fmt.Errorf("open microphone: %w", err)
		s.publish(model.Idle, "Microphone unavailable", err)
		return err
	}

	err = s.Channel.Open(ctx, s.Handshake)
	if err != nil {
		if e := stream.Close(); e != nil {
			logger.Warn("failed to close input stream", "err", e)
		}
		err = fmt.Errorf("open channel: %w", err)
		s.publish(model.Idle, "Connection failed", err)
		return err
	}

	captureCtx, cancel := context.WithCancel(context.Background())
	rec := &recording{
		id:     id,
		stream: stream,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.rec = rec

	go s.capture(captureCtx, rec)

	logger.Info("recording started")
	s.publish(model.Recording, StatusListening, nil)

	return nil
}

func (s *Session) capture(ctx context.Context, rec *recording) {
	defer close(rec.done)

	err := s.Encoder.Run(ctx, rec.stream, s.Channel)
	if ctx.Err() != nil {
		return
	}

	if err != nil {
		slog.Error("audio capture failed", "session", rec.id, "err", err)
	}

	// the stream ended while recording
	go func() {
		_ = s.stop(rec, "Microphone stopped", err)
	}()
}

// Stop stops streaming and releases the input device and the connection.
// Queued speech keeps playing unless FlushOnStop is set.
func (s *Session) Stop() error {
	s.mutex.Lock()
	rec := s.rec
	s.mutex.Unlock()

	if rec == nil {
		return ErrNotRecording
	}

	return s.stop(rec, StatusReady, nil)
}

// ConnectionClosed stops the session after the backend closed the connection.
func (s *Session) ConnectionClosed(err error) {
	s.mutex.Lock()
	rec := s.rec
	s.mutex.Unlock()

	if rec == nil {
		return
	}

	go func() {
		_ = s.stop(rec, StatusConnectionClosed, err)
	}()
}

func (s *Session) stop(rec *recording, status string, cause error) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.rec != rec {
		return ErrNotRecording
	}

	s.rec = nil
	logger := slog.With("session", rec.id)

	rec.cancel()

	select {
	case <-rec.done:
	case <-time.After(captureStopTimeout):
		logger.Warn("audio capture did not stop in time, closing input stream")
	}

	var errs []error

	if err := rec.stream.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close input stream: %w", err))
	}

	if err := s.Channel.Close(); err != nil {
		errs = append(errs, err)
	}

	if s.FlushOnStop && s.Playback != nil {
		if n := s.Playback.Flush(); n > 0 {
			logger.Debug("dropped queued speech", "items", n)
		}
	}

	err := errors.Join(errs...)
	if err != nil {
		logger.Warn("failed to release recording resources", "err", err)
	}

	logger.Info("recording stopped", "status", status)
	s.publish(model.Idle, status, cause)

	return err
}

func (s *Session) publish(state model.SessionState, text string, err error) {
	if s.Status == nil {
		return
	}
	s.Status.Publish(model.Status{State: state, Text: text, Err: err})
}
