package server

import (
	"math"
	"time"
)

// Segmenter splits a continuous PCM stream into utterances using the volume of each pushed frame.
// Frames are collected from the first loud frame on until MinSilence of quiet audio
// followed or MaxDuration was reached.
type Segmenter struct {
	SampleRate  int
	MinVolume   float64
	MinSilence  time.Duration
	MaxDuration time.Duration

	buffer  []int16
	silence int
}

// Push adds a frame and returns the utterances it completed.
func (s *Segmenter) Push(frame []int16) [][]int16 {
	if len(frame) == 0 {
		return nil
	}

	loud := calculateRMS16(frame) > s.MinVolume

	if len(s.buffer) == 0 && !loud {
		return nil
	}

	s.buffer = append(s.buffer, frame...)

	if loud {
		s.silence = 0
	} else {
		s.silence += len(frame)
	}

	if s.silence >= s.samples(s.MinSilence) || (s.MaxDuration > 0 && len(s.buffer) >= s.samples(s.MaxDuration)) {
		return [][]int16{s.Flush()}
	}

	return nil
}

// Flush returns the pending utterance, if any, and resets the segmenter.
func (s *Segmenter) Flush() []int16 {
	u := s.buffer
	s.buffer = nil
	s.silence = 0
	return u
}

func (s *Segmenter) samples(d time.Duration) int {
	return int(int64(d) * int64(s.SampleRate) / int64(time.Second))
}

// calculateRMS16 calculates the root mean square of the audio buffer for int16 samples.
func calculateRMS16(buffer []int16) float64 {
	var sumSquares float64
	for _, sample := range buffer {
		val := float64(sample)
		sumSquares += val * val
	}
	meanSquares := sumSquares / float64(len(buffer))
	return math.Sqrt(meanSquares)
}
