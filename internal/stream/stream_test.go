// SPDX-License-Identifier: MIT

package stream

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pikvm/ustreamer-go/internal/blank"
	"github.com/pikvm/ustreamer-go/internal/device"
	"github.com/pikvm/ustreamer-go/internal/encoder"
	"github.com/pikvm/ustreamer-go/internal/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ErrorDelay = 20 * time.Millisecond
	cfg.ReleaserGetTimeout = 20 * time.Millisecond
	cfg.JPEGRingAcquireWait = 50 * time.Millisecond
	return cfg
}

func newTestLoop(t *testing.T) (*Loop, *device.Fake, *encoder.Fake) {
	t.Helper()
	dev := device.NewFake("/dev/video0", 8, 4, 30, frame.FormatRGB24, 2)
	enc := encoder.NewFake(encoder.Config{Workers: 2, JobTimeout: time.Second, InitialCap: 256}, encoder.TypeCPUImage)
	l := New(testConfig(), nil, dev, enc, nil, nil, nil, 8, 4)
	return l, dev, enc
}

// fakeSink is a minimal in-memory sink.Sink used to exercise fan-out in
// isolation from the ring/HTTP path.
type fakeSink struct {
	mu      sync.Mutex
	puts    int
	lastLen int
}

func (s *fakeSink) Check(f *frame.Frame) bool { return true }

func (s *fakeSink) Put(f *frame.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts++
	s.lastLen = f.Used
	return nil
}

func (s *fakeSink) HasClients() bool { return false }

func (s *fakeSink) Puts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.puts
}

func TestRunPublishesDeadFrameOnMissingAccess(t *testing.T) {
	dev := device.NewFake("/nonexistent/path/for/test", 8, 4, 30, frame.FormatRGB24, 2)
	enc := encoder.NewFake(encoder.Config{Workers: 1, JobTimeout: time.Second, InitialCap: 256}, encoder.TypeCPUImage)
	l := New(testConfig(), nil, dev, enc, nil, nil, nil, 8, 4)

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()
	_ = l.Run(ctx)

	idx, f, err := l.JPEGRing().ConsumerAcquire(time.Second)
	require.NoError(t, err)
	assert.False(t, f.Online)
	assert.Equal(t, 0, f.Used)
	l.JPEGRing().ConsumerRelease(idx)
	assert.Equal(t, StateStopped, l.State())
}

func TestRunTransitionsToRunningAndExposesFrames(t *testing.T) {
	l, dev, _ := newTestLoop(t)
	_ = dev

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	require.Eventually(t, func() bool {
		return l.State() == StateRunning
	}, time.Second, 5*time.Millisecond)

	idx, f, err := l.JPEGRing().ConsumerAcquire(2 * time.Second)
	require.NoError(t, err)
	assert.True(t, f.Online)
	assert.Greater(t, f.Used, 0)
	l.JPEGRing().ConsumerRelease(idx)

	l.Break()
	cancel()
	<-done
}

func TestNoOutstandingLeaseAfterRelease(t *testing.T) {
	l, dev, _ := newTestLoop(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	require.Eventually(t, func() bool { return l.State() == StateRunning }, time.Second, 5*time.Millisecond)

	// Drain a couple of frames so buffers cycle through grab→encode→release.
	for i := 0; i < 2; i++ {
		idx, _, err := l.JPEGRing().ConsumerAcquire(2 * time.Second)
		require.NoError(t, err)
		l.JPEGRing().ConsumerRelease(idx)
	}

	time.Sleep(50 * time.Millisecond)
	assert.LessOrEqual(t, dev.OutstandingLeases(), dev.NBufs())

	l.Break()
	cancel()
	<-done
}

func TestExitOnNoClientsFires(t *testing.T) {
	dev := device.NewFake("/dev/video0", 8, 4, 30, frame.FormatRGB24, 2)
	enc := encoder.NewFake(encoder.Config{Workers: 1, JobTimeout: time.Second, InitialCap: 256}, encoder.TypeCPUImage)
	cfg := testConfig()
	cfg.ExitOnNoClients = 30 * time.Millisecond
	l := New(cfg, nil, dev, enc, nil, nil, nil, 8, 4)

	fired := make(chan struct{}, 1)
	l.OnExitOnNoClients = func() {
		select {
		case fired <- struct{}{}:
		default:
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("exit-on-no-clients never fired")
	}

	l.Break()
	cancel()
	<-done
}

func TestBlankFallbackImmediateWhenLastAsBlankNegative(t *testing.T) {
	l, _, _ := newTestLoop(t)
	l.cfg.LastAsBlank = -1

	l.mu.Lock()
	l.width, l.height = 8, 4
	l.mu.Unlock()

	live := &frame.Frame{Online: true, Used: 3, Data: []byte{1, 2, 3}}
	l.exposeFrame(live)
	idx, f, err := l.JPEGRing().ConsumerAcquire(time.Second)
	require.NoError(t, err)
	assert.True(t, f.Online)
	l.JPEGRing().ConsumerRelease(idx)

	// Need a blank pair generated before the offline transition can publish it.
	pair, err := blank.Generate(8, 4, 80)
	require.NoError(t, err)
	l.mu.Lock()
	l.blankPair = pair
	l.mu.Unlock()

	l.exposeFrame(nil)
	idx2, f2, err := l.JPEGRing().ConsumerAcquire(time.Second)
	require.NoError(t, err)
	assert.Equal(t, frame.FormatJPEG, f2.Format)
	l.JPEGRing().ConsumerRelease(idx2)
}

func TestExposeFrameFansOutToJPEGSink(t *testing.T) {
	dev := device.NewFake("/dev/video0", 8, 4, 30, frame.FormatRGB24, 2)
	enc := encoder.NewFake(encoder.Config{Workers: 1, JobTimeout: time.Second, InitialCap: 256}, encoder.TypeCPUImage)
	js := &fakeSink{}
	l := New(testConfig(), nil, dev, enc, nil, js, nil, 8, 4)

	live := &frame.Frame{Online: true, Used: 3, Data: []byte{1, 2, 3}}
	l.exposeFrame(live)

	idx, _, err := l.JPEGRing().ConsumerAcquire(time.Second)
	require.NoError(t, err)
	l.JPEGRing().ConsumerRelease(idx)

	assert.Equal(t, 1, js.Puts())
}
