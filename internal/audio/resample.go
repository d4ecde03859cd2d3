package audio

type sample interface {
	~int16 | ~int | ~float32
}

// resample converts interleaved samples from one sample rate to another using linear interpolation.
func resample[S sample](in []S, channels, fromRate, toRate int) []S {
	if fromRate == toRate || len(in) == 0 || channels < 1 {
		return in
	}

	frames := len(in) / channels
	outFrames := int(int64(frames) * int64(toRate) / int64(fromRate))
	out := make([]S, outFrames*channels)
	ratio := float64(fromRate) / float64(toRate)

	for i := 0; i < outFrames; i++ {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)

		for c := 0; c < channels; c++ {
			a := float64(in[idx*channels+c])
			b := a
			if idx+1 < frames {
				b = float64(in[(idx+1)*channels+c])
			}
			out[i*channels+c] = S(a + (b-a)*frac)
		}
	}

	return out
}

// streamResampler resamples a continuous mono stream that arrives in chunks.
// Positions are derived from the total number of samples so that no fraction
// is lost at chunk boundaries, and the last sample of the previous chunk is
// kept to interpolate across them.
type streamResampler struct {
	fromRate int64
	toRate   int64
	// n is the index of the next output sample.
	n int64
	// offset is the number of input samples consumed by previous chunks.
	offset int64
	prev   float32
}

func newStreamResampler(fromRate, toRate int) *streamResampler {
	return &streamResampler{fromRate: int64(fromRate), toRate: int64(toRate)}
}

func (r *streamResampler) Push(in []float32) []float32 {
	if r.fromRate == r.toRate {
		return in
	}

	if len(in) == 0 {
		return nil
	}

	end := r.offset + int64(len(in))
	out := make([]float32, 0, int64(len(in))*r.toRate/r.fromRate+1)

	at := func(i int64) float32 {
		if i < r.offset {
			return r.prev
		}
		return in[i-r.offset]
	}

	for {
		p := r.n * r.fromRate
		idx := p / r.toRate
		if idx+1 >= end && !(idx == end-1 && p%r.toRate == 0) {
			break
		}

		frac := float32(p%r.toRate) / float32(r.toRate)
		a := at(idx)
		b := a
		if frac > 0 {
			b = at(idx + 1)
		}

		out = append(out, a+(b-a)*frac)
		r.n++
	}

	r.prev = in[len(in)-1]
	r.offset = end

	return out
}
