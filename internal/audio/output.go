package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-audio/audio"
	"github.com/gordonklaus/portaudio"
)

const defaultOutputFramesPerBuffer = 256

// outputStream is a started blocking output stream that plays the contents of buf on every Write.
type outputStream interface {
	Write() error
	Close() error
}

type openedStream struct {
	stream outputStream
	buf    []int16
	rate   int
}

// Output plays decoded buffers on a portaudio output device.
// The device stream is kept open between buffers so that consecutive buffers play without a gap.
type Output struct {
	Device          string
	FramesPerBuffer int

	mutex    sync.Mutex
	device   *portaudio.DeviceInfo
	open     func(channels int) (openedStream, error)
	current  *openedStream
	channels int
}

// Init resolves the output device.
func (o *Output) Init() error {
	o.mutex.Lock()
	defer o.mutex.Unlock()

	return o.init()
}

func (o *Output) init() error {
	if o.device != nil || o.open != nil {
		return nil
	}

	device, err := outputDevice(o.Device)
	if err != nil {
		return err
	}

	o.device = device

	return nil
}

// Play blocks until all samples of the buffer have been handed to the device
// or the context is cancelled.
// The blocking writes pace the call with the playback.
func (o *Output) Play(ctx context.Context, buf *audio.IntBuffer) error {
	o.mutex.Lock()
	defer o.mutex.Unlock()

	err := o.init()
	if err != nil {
		return err
	}

	format := buf.PCMFormat()
	if format == nil || format.NumChannels < 1 {
		return fmt.Errorf("play audio: buffer without channels")
	}
	channels := format.NumChannels

	s, err := o.stream(channels)
	if err != nil {
		return err
	}

	samples := make([]int16, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = int16(v)
	}
	samples = resample(samples, channels, format.SampleRate, s.rate)

	for offset := 0; offset < len(samples); offset += len(s.buf) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n := copy(s.buf, samples[offset:])
		clear(s.buf[n:]) // zero-pad the last chunk, at most one device buffer

		err = s.stream.Write()
		if err != nil {
			if errors.Is(err, portaudio.OutputUnderflowed) {
				// expected after the device was idle between buffers
				slog.Debug("play audio: output underflowed")
				continue
			}
			slog.Warn("play audio: write chunk", "err", err)
		}
	}

	return nil
}

// stream returns the open stream, reopening it when the channel count changed.
func (o *Output) stream(channels int) (*openedStream, error) {
	if o.current != nil && o.channels == channels {
		return o.current, nil
	}

	o.closeStream()

	open := o.open
	if open == nil {
		open = o.openPortaudio
	}

	s, err := open(channels)
	if err != nil {
		return nil, err
	}

	o.current = &s
	o.channels = channels

	return o.current, nil
}

func (o *Output) openPortaudio(channels int) (openedStream, error) {
	framesPerBuffer := o.FramesPerBuffer
	if framesPerBuffer <= 0 {
		framesPerBuffer = defaultOutputFramesPerBuffer
	}

	buf := make([]int16, framesPerBuffer*channels)
	stream, err := portaudio.OpenStream(portaudio.StreamParameters{
		Output: portaudio.StreamDeviceParameters{
			Device:   o.device,
			Channels: channels,
			Latency:  o.device.DefaultLowOutputLatency,
		},
		SampleRate:      o.device.DefaultSampleRate,
		FramesPerBuffer: framesPerBuffer,
	}, &buf)
	if err != nil {
		return openedStream{}, fmt.Errorf("open audio output stream: %w", err)
	}

	err = stream.Start()
	if err != nil {
		_ = stream.Close()
		return openedStream{}, fmt.Errorf("start audio output stream: %w", err)
	}

	return openedStream{
		stream: stream,
		buf:    buf,
		rate:   int(o.device.DefaultSampleRate),
	}, nil
}

func (o *Output) closeStream() {
	if o.current == nil {
		return
	}

	if err := o.current.stream.Close(); err != nil {
		slog.Warn("failed to close audio output stream", "err", err)
	}

	o.current = nil
}

// Close releases the output stream.
func (o *Output) Close() {
	o.mutex.Lock()
	defer o.mutex.Unlock()

	o.closeStream()
}
