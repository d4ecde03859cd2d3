package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
)

// ErrStreamClosed is returned by an InputStream that was closed.
var ErrStreamClosed = errors.New("audio stream closed")

const maxConsecutiveReadErrors = 50

// FrameSink receives encoded frames. It must not block.
type FrameSink interface {
	SendFrame(f Frame)
}

// FrameSinkFunc adapts a function to the FrameSink interface.
type FrameSinkFunc func(f Frame)

func (fn FrameSinkFunc) SendFrame(f Frame) {
	fn(f)
}

// Encoder turns captured float samples into fixed-size PCM frames.
type Encoder struct {
	SampleRate int
	FrameSize  int
}

// Run reads the stream until the context is cancelled or the stream ends
// and hands every completed frame to the sink right away.
func (e *Encoder) Run(ctx context.Context, stream InputStream, sink FrameSink) error {
	framer := NewFramer(e.FrameSize)
	resampler := newStreamResampler(stream.SampleRate(), e.SampleRate)
	errCount := 0

	for {
		if ctx.Err() != nil {
			return nil
		}

		samples, err := stream.Read()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, ErrStreamClosed) {
				return nil
			}

			errCount++
			if errCount >= maxConsecutiveReadErrors {
				return fmt.Errorf("read audio input stream: %w", err)
			}

			slog.Warn("failed to read audio input stream", "err", err)

			continue
		}

		errCount = 0

		if ctx.Err() != nil {
			return nil
		}

		samples = resampler.Push(samples)

		for _, f := range framer.Push(samples) {
			sink.SendFrame(f)
		}
	}
}
