package audio

import (
	"errors"
	"fmt"

	"github.com/gordonklaus/portaudio"
)

// InputDevice provides access to a microphone.
type InputDevice interface {
	Open() (InputStream, error)
}

// InputStream delivers mono float samples within [-1, 1].
type InputStream interface {
	// Read blocks until the next buffer of samples has been captured.
	Read() ([]float32, error)
	SampleRate() int
	Close() error
}

// Input is a portaudio input device.
type Input struct {
	Device          string
	FramesPerBuffer int
}

var _ InputDevice = &Input{}

// Open acquires the configured device and starts capturing mono audio at its default sample rate.
func (i *Input) Open() (InputStream, error) {
	device, err := inputDevice(i.Device)
	if err != nil {
		return nil, err
	}

	n := i.FramesPerBuffer
	if n <= 0 {
		n = 1024
	}

	s := &inputStream{
		buffer:     make([]float32, n),
		sampleRate: int(device.DefaultSampleRate),
	}

	s.stream, err = portaudio.OpenStream(portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: 1,
			Latency:  device.DefaultLowInputLatency,
		},
		SampleRate:      device.DefaultSampleRate,
		FramesPerBuffer: n,
	}, &s.buffer)
	if err != nil {
		return nil, fmt.Errorf("opening audio input stream: %w", err)
	}

	err = s.stream.Start()
	if err != nil {
		_ = s.stream.Close()
		return nil, fmt.Errorf("starting audio input stream: %w", err)
	}

	return s, nil
}

type inputStream struct {
	stream     *portaudio.Stream
	buffer     []float32
	sampleRate int
}

func (s *inputStream) Read() ([]float32, error) {
	err := s.stream.Read()
	if err != nil {
		if errors.Is(err, portaudio.StreamIsStopped) {
			return nil, ErrStreamClosed
		}
		return nil, err
	}

	return append([]float32(nil), s.buffer...), nil
}

func (s *inputStream) SampleRate() int {
	return s.sampleRate
}

func (s *inputStream) Close() error {
	return errors.Join(s.stream.Stop(), s.stream.Close())
}
