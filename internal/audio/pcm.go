package audio

import (
	"encoding/binary"
	"math"
)

// Float32ToPCM16 converts a floating point sample to a signed 16-bit PCM sample.
// The sample is clamped to [-1, 1] and scaled asymmetrically
// so that -1 maps to -32768 and 1 maps to 32767.
func Float32ToPCM16(s float32) int16 {
	if s != s { // NaN
		return 0
	}

	v := math.Max(-1, math.Min(1, float64(s)))
	if v < 0 {
		return int16(v * 32768)
	}

	return int16(v * 32767)
}

// Frame is an immutable chunk of signed 16-bit mono PCM samples.
type Frame struct {
	samples []int16
}

func NewFrame(samples []int16) Frame {
	return Frame{samples: append([]int16(nil), samples...)}
}

func (f Frame) Len() int {
	return len(f.samples)
}

// Sample returns the i-th sample.
func (f Frame) Sample(i int) int16 {
	return f.samples[i]
}

// Samples returns a copy of the frame's samples.
func (f Frame) Samples() []int16 {
	return append([]int16(nil), f.samples...)
}

// Bytes returns the little-endian wire representation of the frame.
func (f Frame) Bytes() []byte {
	b := make([]byte, 2*len(f.samples))
	for i, s := range f.samples {
		binary.LittleEndian.PutUint16(b[2*i:], uint16(s))
	}
	return b
}

// FrameFromBytes parses the little-endian wire representation of a frame.
// A trailing odd byte is ignored.
func FrameFromBytes(b []byte) Frame {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[2*i:]))
	}
	return Frame{samples: samples}
}

// Framer converts float samples into PCM frames of a fixed size.
type Framer struct {
	size    int
	pending []int16
}

func NewFramer(size int) *Framer {
	return &Framer{
		size:    size,
		pending: make([]int16, 0, size),
	}
}

// Push converts the given samples and returns all frames that were completed by them.
// Remaining samples are kept until the next call.
func (f *Framer) Push(samples []float32) []Frame {
	var frames []Frame

	for _, s := range samples {
		f.pending = append(f.pending, Float32ToPCM16(s))

		if len(f.pending) == f.size {
			frames = append(frames, NewFrame(f.pending))
			f.pending = f.pending[:0]
		}
	}

	return frames
}

// Pending returns the number of buffered samples that do not yet form a frame.
func (f *Framer) Pending() int {
	return len(f.pending)
}
