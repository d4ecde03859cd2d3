package audio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/orcaman/writerseeker"
)

// WAVDecoder decodes RIFF WAVE payloads with 16-bit samples.
type WAVDecoder struct{}

func (WAVDecoder) Decode(ctx context.Context, data []byte) (*audio.IntBuffer, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty audio payload")
	}

	decoder := wav.NewDecoder(bytes.NewReader(data))

	decoder.ReadInfo()
	if err := decoder.Err(); err != nil {
		return nil, fmt.Errorf("read wave file headers: %w", err)
	}

	if decoder.NumChans < 1 || decoder.SampleRate == 0 {
		return nil, fmt.Errorf("wave data without channels or sample rate provided")
	}

	if decoder.SampleBitDepth() != 16 {
		return nil, fmt.Errorf("wave data with unsupported bit depth of %d provided, expected 16", decoder.SampleBitDepth())
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	buffer, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("read full pcm buffer: %w", err)
	}

	if len(buffer.Data) == 0 {
		return nil, fmt.Errorf("wave data does not contain any samples")
	}

	return buffer, nil
}

// EncodeWAV encodes the given buffer as 16-bit RIFF WAVE data.
func EncodeWAV(buffer *audio.IntBuffer) ([]byte, error) {
	wavFile := &writerseeker.WriterSeeker{}
	f := buffer.PCMFormat()
	encoder := wav.NewEncoder(wavFile, f.SampleRate, 16, f.NumChannels, 1)

	if err := encoder.Write(buffer); err != nil {
		return nil, fmt.Errorf("encoder write buffer: %w", err)
	}

	if err := encoder.Close(); err != nil {
		return nil, fmt.Errorf("encoder close: %w", err)
	}

	riffWav, err := io.ReadAll(wavFile.Reader())
	if err != nil {
		return nil, fmt.Errorf("reading wav into memory: %w", err)
	}

	return riffWav, nil
}

// Duration returns the play time of the given buffer.
func Duration(buffer *audio.IntBuffer) time.Duration {
	f := buffer.PCMFormat()
	if f == nil || f.SampleRate == 0 || f.NumChannels == 0 {
		return 0
	}

	frames := len(buffer.Data) / f.NumChannels

	return time.Duration(frames) * time.Second / time.Duration(f.SampleRate)
}

// PCM16Buffer wraps mono 16-bit samples into a buffer.
func PCM16Buffer(samples []int16, sampleRate int) *audio.IntBuffer {
	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}

	return &audio.IntBuffer{
		Format:         &audio.Format{SampleRate: sampleRate, NumChannels: 1},
		Data:           data,
		SourceBitDepth: 16,
	}
}
