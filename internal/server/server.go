// Package server implements a development backend that speaks the voice chat protocol.
// It echoes every utterance it receives back to the client as speech audio.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/mgoltzsche/voice-chat/internal/audio"
	"github.com/mgoltzsche/voice-chat/internal/protocol"
	"github.com/mgoltzsche/voice-chat/internal/soundgen"
)

const defaultPersona = "me"

type Options struct {
	SampleRate    int
	MinVolume     float64
	MinSilence    time.Duration
	MaxUtterance  time.Duration
	ChunkDuration time.Duration
	// AckFrequency is the frequency of the tone played before each echo. Zero disables it.
	AckFrequency float64
}

func DefaultOptions() Options {
	return Options{
		SampleRate:    16000,
		MinVolume:     450,
		MinSilence:    time.Second,
		MaxUtterance:  25 * time.Second,
		ChunkDuration: time.Second,
		AckFrequency:  500,
	}
}

func AddRoutes(mux *http.ServeMux, opts Options) {
	mux.Handle("/ws", &Handler{Options: opts})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

// Handler serves the /ws endpoint.
type Handler struct {
	Options Options
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	connID := uuid.NewString()
	logger := slog.With("conn", connID)

	conn, err := websocket.Accept(w, req, nil)
	if err != nil {
		logger.Warn("failed to accept websocket connection", "err", err)
		return
	}
	defer conn.CloseNow()

	logger.Info("accepted websocket connection", "remote", req.RemoteAddr)

	s := &session{
		Options: h.Options,
		conn:    conn,
		logger:  logger,
		sound:   &soundgen.Generator{SampleRate: h.Options.SampleRate, Volume: 0.3},
	}

	err = s.run(req.Context())
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		logger.Info("websocket connection closed by client")
		return
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("websocket connection terminated", "err", err)
		return
	}

	_ = conn.Close(websocket.StatusNormalClosure, "")
}

type session struct {
	Options
	conn       *websocket.Conn
	logger     *slog.Logger
	sound      *soundgen.Generator
	persona    string
	utterances int
}

func (s *session) run(ctx context.Context) error {
	err := s.handshake(ctx)
	if err != nil {
		return err
	}

	seg := &Segmenter{
		SampleRate:  s.SampleRate,
		MinVolume:   s.MinVolume,
		MinSilence:  s.MinSilence,
		MaxDuration: s.MaxUtterance,
	}

	for {
		typ, data, err := s.conn.Read(ctx)
		if err != nil {
			if u := seg.Flush(); len(u) > 0 {
				s.logger.Debug("discarding incomplete utterance", "samples", len(u))
			}
			return err
		}

		if typ != websocket.MessageBinary {
			s.logger.Warn("ignoring text message received after handshake", "bytes", len(data))
			continue
		}

		for _, u := range seg.Push(audio.FrameFromBytes(data).Samples()) {
			err = s.echo(ctx, u)
			if err != nil {
				return err
			}
		}
	}
}

func (s *session) handshake(ctx context.Context) error {
	s.persona = defaultPersona

	typ, data, err := s.conn.Read(ctx)
	if err != nil {
		return fmt.Errorf("read handshake: %w", err)
	}

	if typ != websocket.MessageText {
		err = fmt.Errorf("%w: received binary message instead of config handshake", protocol.ErrMalformed)
	} else {
		var cfg protocol.Config
		cfg, err = protocol.ParseConfig(data)
		if err == nil {
			if cfg.Persona != "" {
				s.persona = cfg.Persona
			}
			s.logger.Info("received handshake", "persona", s.persona, "keys", configuredKeys(cfg.Keys))
			return nil
		}
	}

	s.logger.Warn("continuing with defaults", "err", err)

	return s.send(ctx, protocol.Error{Text: "Invalid config handshake, using defaults."})
}

func configuredKeys(keys map[string]string) []string {
	names := make([]string, 0, len(keys))
	for k, v := range keys {
		if v != "" {
			names = append(names, k)
		}
	}
	sort.Strings(names)
	return names
}

func (s *session) echo(ctx context.Context, utterance []int16) error {
	s.utterances++
	buf := audio.PCM16Buffer(utterance, s.SampleRate)
	d := audio.Duration(buf).Round(100 * time.Millisecond)

	s.logger.Info("echoing utterance", "n", s.utterances, "duration", d)

	err := s.send(ctx, protocol.Final{Text: fmt.Sprintf("(utterance %d, %s)", s.utterances, d)})
	if err != nil {
		return err
	}

	err = s.send(ctx, protocol.Assistant{Text: fmt.Sprintf("Hey %s, this is what you said.", s.persona)})
	if err != nil {
		return err
	}

	if s.AckFrequency > 0 {
		tone, err := s.sound.ToneWAV(s.AckFrequency, 200*time.Millisecond)
		if err != nil {
			return err
		}
		err = s.send(ctx, protocol.Audio{Payload: tone})
		if err != nil {
			return err
		}
	}

	for _, chunk := range splitSamples(utterance, s.chunkSize()) {
		wav, err := audio.EncodeWAV(audio.PCM16Buffer(chunk, s.SampleRate))
		if err != nil {
			return fmt.Errorf("encode echo chunk: %w", err)
		}
		err = s.send(ctx, protocol.Audio{Payload: wav})
		if err != nil {
			return err
		}
	}

	return nil
}

func (s *session) chunkSize() int {
	n := int(int64(s.ChunkDuration) * int64(s.SampleRate) / int64(time.Second))
	if n <= 0 {
		return s.SampleRate
	}
	return n
}

func (s *session) send(ctx context.Context, msg protocol.Envelope) error {
	b, err := protocol.Marshal(msg)
	if err != nil {
		return err
	}

	err = s.conn.Write(ctx, websocket.MessageText, b)
	if err != nil {
		return fmt.Errorf("send %s message: %w", msg.Type(), err)
	}

	return nil
}

func splitSamples(samples []int16, size int) [][]int16 {
	chunks := make([][]int16, 0, (len(samples)+size-1)/size)
	for len(samples) > 0 {
		n := min(size, len(samples))
		chunks = append(chunks, samples[:n])
		samples = samples[n:]
	}
	return chunks
}
