// SPDX-License-Identifier: MIT

package audio

import (
	"math"
	"sync"
)

// FakeSource is a deterministic pcmSource used by pipeline tests. It
// generates a synthetic tone instead of reading silence, so encoder
// output is non-trivial to assert against.
type FakeSource struct {
	mu sync.Mutex

	rate         uint32
	channels     uint32
	periodFrames uint32

	started bool
	closed  bool
	phase   float64

	// ReadErr, when non-nil, is returned once by the next Read call
	// and then cleared — used to exercise the xrun-recovery path.
	ReadErr error
	Recovered int
}

// NewFakeSource builds a fake capture source at the given format.
func NewFakeSource(rate, channels, periodFrames uint32) *FakeSource {
	return &FakeSource{rate: rate, channels: channels, periodFrames: periodFrames}
}

func (f *FakeSource) Rate() uint32         { return f.rate }
func (f *FakeSource) Channels() uint32     { return f.channels }
func (f *FakeSource) PeriodFrames() uint32 { return f.periodFrames }

func (f *FakeSource) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
	return nil
}

func (f *FakeSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *FakeSource) Recover() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Recovered++
	return nil
}

// Read fills out with one period of a 440Hz tone, or returns ReadErr
// once if it was set.
func (f *FakeSource) Read(out []int16) error {
	f.mu.Lock()
	if f.ReadErr != nil {
		err := f.ReadErr
		f.ReadErr = nil
		f.mu.Unlock()
		return err
	}
	rate := f.rate
	channels := int(f.channels)
	phase := f.phase
	f.mu.Unlock()

	const freq = 440.0
	frames := len(out) / channels
	step := 2 * math.Pi * freq / float64(rate)
	for i := 0; i < frames; i++ {
		v := int16(math.Sin(phase) * 8000)
		for c := 0; c < channels; c++ {
			out[i*channels+c] = v
		}
		phase += step
	}

	f.mu.Lock()
	f.phase = phase
	f.mu.Unlock()
	return nil
}

// RecoveredCount reports how many times Recover has been called.
func (f *FakeSource) RecoveredCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Recovered
}

// IsStarted and IsClosed let tests assert lifecycle without exposing
// the mutex.
func (f *FakeSource) IsStarted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started
}

func (f *FakeSource) IsClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
