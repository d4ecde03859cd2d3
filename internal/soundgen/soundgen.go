package soundgen

import (
	"fmt"
	"math"
	"time"

	"github.com/mgoltzsche/voice-chat/internal/audio"
)

// Generator synthesizes short notification sounds.
type Generator struct {
	SampleRate int
	// Volume is the amplitude relative to full scale within (0, 1].
	Volume float64
}

// Tone returns a mono sine wave of the given frequency and duration.
// The last few milliseconds fade out to avoid a click.
func (g *Generator) Tone(frequency float64, duration time.Duration) []int16 {
	volume := g.Volume
	if volume <= 0 || volume > 1 {
		volume = 1
	}

	n := int(math.Ceil(float64(duration) * float64(g.SampleRate) / float64(time.Second)))
	fade := g.SampleRate / 100
	data := make([]int16, n)

	for i := range data {
		phase := frequency * float64(i) / float64(g.SampleRate)
		amp := volume
		if remaining := n - i; remaining < fade {
			amp *= float64(remaining) / float64(fade)
		}

		data[i] = int16(math.Sin(2*math.Pi*phase) * 32767 * amp)
	}

	return data
}

// ToneWAV returns Tone encoded as WAV data.
func (g *Generator) ToneWAV(frequency float64, duration time.Duration) ([]byte, error) {
	if g.SampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", g.SampleRate)
	}

	data, err := audio.EncodeWAV(audio.PCM16Buffer(g.Tone(frequency, duration), g.SampleRate))
	if err != nil {
		return nil, fmt.Errorf("generate sound: %w", err)
	}

	return data, nil
}
