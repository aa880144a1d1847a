// SPDX-License-Identifier: MIT

package audio

// resampler converts interleaved int16 PCM from an input rate to a
// fixed output rate by linear interpolation between samples. Speex's
// resampler (the one named in spec §4.8) has no Go binding anywhere in
// the retrieval pack and no pure-Go port was found either; a quality
// difference here only affects captured-audio fidelity, not protocol
// correctness, so linear interpolation is a deliberate, documented
// substitute rather than a fabricated dependency.
//
// State carries the fractional input position across calls so period
// boundaries don't introduce audible clicks.
type resampler struct {
	channels  int
	inRate    uint32
	outRate   uint32
	pos       float64 // fractional read position into the pending tail
	tail      []int16 // last input frame, carried for interpolation across calls
	haveTail  bool
}

func newResampler(inRate, outRate uint32, channels int) *resampler {
	return &resampler{channels: channels, inRate: inRate, outRate: outRate, tail: make([]int16, channels)}
}

// passthrough reports whether no resampling work is needed.
func (r *resampler) passthrough() bool { return r.inRate == r.outRate }

// process resamples one block of interleaved input to interleaved
// output at outRate, returning the number of output frames produced.
// out must be sized for the worst case: len(in)*outRate/inRate+1 frames.
func (r *resampler) process(in []int16, out []int16) int {
	if r.passthrough() {
		n := copy(out, in)
		return n / r.channels
	}
	ch := r.channels
	inFrames := len(in) / ch
	ratio := float64(r.inRate) / float64(r.outRate)

	frameAt := func(i int) []int16 {
		if i < 0 {
			return r.tail
		}
		return in[i*ch : i*ch+ch]
	}

	outFrames := 0
	pos := r.pos
	for {
		i0 := int(pos)
		if i0 >= inFrames {
			pos -= float64(inFrames)
			break
		}
		frac := pos - float64(i0)
		a := frameAt(i0 - 1)
		b := frameAt(i0)
		base := outFrames * ch
		if base+ch > len(out) {
			break
		}
		for c := 0; c < ch; c++ {
			out[base+c] = int16(float64(a[c]) + frac*float64(b[c]-a[c]))
		}
		outFrames++
		pos += ratio
	}
	r.pos = pos
	if inFrames > 0 {
		copy(r.tail, in[(inFrames-1)*ch:inFrames*ch])
		r.haveTail = true
	}
	return outFrames
}
