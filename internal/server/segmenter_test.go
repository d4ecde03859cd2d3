package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func constFrame(n int, v int16) []int16 {
	f := make([]int16, n)
	for i := range f {
		if i%2 == 0 {
			f[i] = v
		} else {
			f[i] = -v
		}
	}
	return f
}

func TestSegmenter(t *testing.T) {
	testee := &Segmenter{
		SampleRate:  1000,
		MinVolume:   100,
		MinSilence:  200 * time.Millisecond,
		MaxDuration: time.Second,
	}

	require.Empty(t, testee.Push(constFrame(100, 10)), "quiet frame before speech")
	require.Empty(t, testee.Push(constFrame(100, 500)))
	require.Empty(t, testee.Push(constFrame(100, 500)))
	require.Empty(t, testee.Push(constFrame(100, 0)), "short pause")
	require.Empty(t, testee.Push(constFrame(100, 500)))
	require.Empty(t, testee.Push(constFrame(100, 0)))

	utterances := testee.Push(constFrame(100, 0))
	require.Len(t, utterances, 1)
	require.Len(t, utterances[0], 600)
	require.Equal(t, int16(500), utterances[0][0])

	require.Empty(t, testee.Push(constFrame(100, 0)), "silence after utterance")
	require.Nil(t, testee.Flush())
}

func TestSegmenterMaxDuration(t *testing.T) {
	testee := &Segmenter{
		SampleRate:  1000,
		MinVolume:   100,
		MinSilence:  time.Second,
		MaxDuration: 300 * time.Millisecond,
	}

	var utterances [][]int16
	for range 7 {
		utterances = append(utterances, testee.Push(constFrame(100, 1000))...)
	}

	require.Len(t, utterances, 2)
	require.Len(t, utterances[0], 300)
	require.Len(t, utterances[1], 300)
	require.Len(t, testee.Flush(), 100)
}

func TestSplitSamples(t *testing.T) {
	chunks := splitSamples(make([]int16, 25), 10)
	require.Len(t, chunks, 3)
	require.Len(t, chunks[0], 10)
	require.Len(t, chunks[2], 5)
	require.Empty(t, splitSamples(nil, 10))
}
