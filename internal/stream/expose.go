// SPDX-License-Identifier: MIT

package stream

import (
	"time"

	"github.com/pikvm/ustreamer-go/internal/frame"
)

// publishDead publishes the INIT-time "online=false, used=0" marker
// frame directly to the JPEG ring, bypassing the blank-fallback state
// machine (this is not an online→offline transition, just the initial
// dead placeholder before a device has ever opened).
func (l *Loop) publishDead() {
	dead := &frame.Frame{Online: false, Used: 0}
	l.publishJPEGRetrying(dead)
}

// fanOutRaw fans f out to the raw-sink and (optionally) the H.264
// pipeline. forceKey only matters to the H.264 collaborator, which
// ignores it on a plain sink.Sink — the stream loop has no way to
// request a keyframe from a generic Sink; H.264-aware sinks may use a
// VideoSink to honor it (see VideoSink below).
func (l *Loop) fanOutRaw(f *frame.Frame, forceKey bool) {
	if l.rawSink != nil && l.rawSink.Check(f) {
		_ = l.rawSink.Put(f)
	}
	if l.h264Sink != nil && l.h264Sink.Check(f) {
		if vs, ok := l.h264Sink.(VideoSink); ok {
			_ = vs.PutWithKeyHint(f, forceKey)
		} else {
			_ = l.h264Sink.Put(f)
		}
	}
}

// VideoSink is a Sink that additionally accepts an explicit keyframe
// hint — the H.264 pipeline's own extension of the memory-sink
// contract, needed so a post-slowdown exposure can force an IDR frame
// for a newly arrived subscriber (§4.4 RUNNING step 2).
type VideoSink interface {
	PutWithKeyHint(f *frame.Frame, forceKey bool) error
}

// exposeFrame implements §4.6: publish a live frame, or run the blank
// fallback state machine on an online→offline transition, then always
// fan out to the JPEG-sink using whichever frame is the current truth.
func (l *Loop) exposeFrame(f *frame.Frame) {
	now := monotonicSeconds()

	if f != nil {
		l.lastOnline.Store(true)
		l.mu.Lock()
		l.lastAsBlankDeadline = 0
		l.mu.Unlock()
		l.publishJPEGRetrying(f)
		return
	}

	wasOnline := l.lastOnline.CompareAndSwap(true, false)
	l.mu.Lock()
	deadline := l.lastAsBlankDeadline
	blankPair := l.blankPair
	if wasOnline {
		switch {
		case l.cfg.LastAsBlank < 0:
			deadline = 0 // immediate
		case l.cfg.LastAsBlank > 0:
			deadline = now + l.cfg.LastAsBlank.Seconds()
			l.lastAsBlankDeadline = deadline
		default:
			deadline = -1 // freeze forever: never publish blank
			l.lastAsBlankDeadline = deadline
		}
	}
	l.mu.Unlock()

	if wasOnline && l.cfg.LastAsBlank < 0 && blankPair != nil {
		l.publishJPEGRetrying(blankPair.JPEG)
		return
	}
	if !wasOnline && deadline > 0 && now >= deadline && blankPair != nil {
		l.mu.Lock()
		l.lastAsBlankDeadline = 0
		l.mu.Unlock()
		l.publishJPEGRetrying(blankPair.JPEG)
	}
	// deadline == -1 (freeze forever) or deadline in the future: no-op,
	// the JPEG ring keeps showing whatever was last published.
}

// publishJPEGRetrying leases a producer slot, re-trying on RingFull
// (§4.1/§7) while logging each retry, until stop is observed or a slot
// is obtained. It also fans the same encoded frame out to the optional
// JPEG memsink (§6) — a second, independent _SINK_PUT alongside the
// ring publish, not a consumer of the ring itself.
func (l *Loop) publishJPEGRetrying(f *frame.Frame) {
	if l.jpegSink != nil && l.jpegSink.Check(f) {
		_ = l.jpegSink.Put(f)
	}

	for {
		if l.isStopped() {
			return
		}
		idx, dest, err := l.jpegRing.ProducerAcquire(50 * time.Millisecond)
		if err != nil {
			if l.log != nil {
				l.log.Error("jpeg ring full, retrying", "error", err)
			}
			continue
		}
		dest.SetPayload(f.Data[:f.Used])
		dest.Width, dest.Height = f.Width, f.Height
		dest.Format = f.Format
		dest.GrabTS = f.GrabTS
		dest.Online = f.Online
		dest.Key = f.Key
		l.jpegRing.ProducerRelease(idx)
		return
	}
}

var processStart = time.Now()

// monotonicSeconds returns seconds elapsed since process start. time.Since
// on a time.Time captured via time.Now() uses the runtime's monotonic
// clock reading, so this is immune to wall-clock adjustments, matching
// the "monotonic seconds" timestamps the spec's data model calls for.
func monotonicSeconds() float64 {
	return time.Since(processStart).Seconds()
}
