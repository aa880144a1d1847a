// SPDX-License-Identifier: MIT

// Package stream implements the stream loop orchestrator (C7): the
// STOPPED/INIT/RUNNING/TEARDOWN state machine that drives the device
// and encoder collaborators, paces capture against encode throughput,
// falls back to a blank frame when offline, and fans exposed frames out
// to the JPEG ring and the raw/H.264 sinks.
package stream

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pikvm/ustreamer-go/internal/blank"
	"github.com/pikvm/ustreamer-go/internal/device"
	"github.com/pikvm/ustreamer-go/internal/encoder"
	"github.com/pikvm/ustreamer-go/internal/ring"
	"github.com/pikvm/ustreamer-go/internal/sink"
)

// Loop is the stream runtime (§3 "Stream runtime"): the JPEG ring,
// releaser table, stop flags, blank-fallback timer, and FPS/client
// counters, tied to a device+encoder pair and three optional sinks.
type Loop struct {
	cfg Config
	log *slog.Logger

	dev device.Device
	enc encoder.Encoder

	jpegRing     *ring.Ring
	httpRingSink *sink.RingSink

	// rawSink, jpegSink, and h264Sink are the three optional memsink
	// fan-out targets (§6): independent companion processes, any/all of
	// which may be nil when disabled. jpegSink is distinct from the
	// always-on jpegRing/httpRingSink pair above — it receives the same
	// encoded frame but is its own _SINK_PUT, not a client-count wrapper
	// around the HTTP ring.
	rawSink  sink.Sink
	jpegSink sink.Sink
	h264Sink sink.Sink

	// OnExitOnNoClients is invoked when exit_on_no_clients fires; the
	// host CLI installs the actual process-suicide behavior (§6 "Exit
	// codes are imposed by the host CLI").
	OnExitOnNoClients func()

	state      atomic.Int32 // State
	stop       atomic.Bool  // user-initiated stream_loop_break
	lastOnline atomic.Bool

	mu                  sync.Mutex
	width, height       uint
	lastAsBlankDeadline float64 // monotonic seconds; 0 == inactive
	blankPair           *blank.Pair
	lastAccessErr       string // for errno-transition log suppression
	noClientsSince      time.Time

	capturedFPSMu  sync.Mutex
	capturedFPS    int
	capturedFPSCur int
	capturedSecond int64

	grabAfter     float64
	fluencyPassed int64

	releaser *releaserFanOut
}

// New builds a Loop over dev/enc with the given sinks. rawSink, jpegSink,
// and h264Sink are all optional (nil disables that fan-out target, per
// §3/§6). initialWidth/Height seed the blank geometry before the device
// has ever successfully opened.
func New(cfg Config, log *slog.Logger, dev device.Device, enc encoder.Encoder, rawSink, jpegSink, h264Sink sink.Sink, initialWidth, initialHeight uint) *Loop {
	l := &Loop{
		cfg:      cfg,
		log:      log,
		dev:      dev,
		enc:      enc,
		rawSink:  rawSink,
		jpegSink: jpegSink,
		h264Sink: h264Sink,
		width:    initialWidth,
		height:   initialHeight,
	}
	l.jpegRing = ring.New(cfg.JPEGRingSlots, 64*1024)
	l.httpRingSink = sink.NewRingSink(l.jpegRing, cfg.JPEGRingAcquireWait)
	l.state.Store(int32(StateStopped))
	return l
}

// JPEGRing exposes the ring an HTTP server reads exposed frames from.
func (l *Loop) JPEGRing() *ring.Ring { return l.jpegRing }

// HTTPRingSink exposes the sink wrapper over the JPEG ring, so an HTTP
// handler can track viewers via AddClient/RemoveClient.
func (l *Loop) HTTPRingSink() *sink.RingSink { return l.httpRingSink }

// State returns the current lifecycle state.
func (l *Loop) State() State { return State(l.state.Load()) }

// Break sets the user stop flag (stream_loop_break). Idempotent.
func (l *Loop) Break() { l.stop.Store(true) }

func (l *Loop) isStopped() bool { return l.stop.Load() }

// CapturedFPS reports the most recently completed whole-second capture
// rate (monotonic-second window; §8 "monotonicity").
func (l *Loop) CapturedFPS() int {
	l.capturedFPSMu.Lock()
	defer l.capturedFPSMu.Unlock()
	return l.capturedFPS
}

func (l *Loop) tickCapturedFPS(nowSec int64) {
	l.capturedFPSMu.Lock()
	defer l.capturedFPSMu.Unlock()
	if nowSec != l.capturedSecond {
		l.capturedFPS = l.capturedFPSCur
		l.capturedFPSCur = 0
		l.capturedSecond = nowSec
	}
	l.capturedFPSCur++
}

// HasAnyClients is the exact has_any_clients boolean grounded on
// stream.c:287-295: HTTP ring clients, OR any configured memsink
// (raw/jpeg/h264) reporting clients of its own.
func (l *Loop) HasAnyClients() bool {
	if l.httpRingSink.HasClients() {
		return true
	}
	if l.rawSink != nil && l.rawSink.HasClients() {
		return true
	}
	if l.jpegSink != nil && l.jpegSink.HasClients() {
		return true
	}
	if l.h264Sink != nil && l.h264Sink.HasClients() {
		return true
	}
	return false
}

// Run drives the state machine until ctx is cancelled or Break is
// called from within TEARDOWN→STOPPED. It is meant to be run by a
// supervisor as a long-lived service.
func (l *Loop) Run(ctx context.Context) error {
	l.state.Store(int32(StateInit))
	for {
		if ctx.Err() != nil {
			l.state.Store(int32(StateStopped))
			return ctx.Err()
		}
		switch l.State() {
		case StateInit:
			l.runInit(ctx)
		case StateRunning:
			l.runRunning(ctx)
		case StateTeardown:
			l.runTeardown()
		case StateStopped:
			return nil
		}
	}
}
