// SPDX-License-Identifier: MIT

package stream

import (
	"context"
	"errors"
	"time"

	"github.com/pikvm/ustreamer-go/internal/device"
	"github.com/pikvm/ustreamer-go/internal/frame"
)

// runRunning executes one RUNNING iteration per call (§4.4 RUNNING);
// Run's outer switch re-enters it every time State() == StateRunning,
// so the per-iteration sleep/blocking calls below naturally pace the
// loop without an explicit for{} here.
func (l *Loop) runRunning(ctx context.Context) {
	if l.isStopped() || l.releaser.ReleaseStopped() {
		l.teardown()
		return
	}

	l.checkExitOnNoClients()

	// Step 1: wait() on the worker pool. A 200ms poll interval lets the
	// loop notice Break()/ctx cancellation promptly; the real pacing
	// comes from fluency_delay below, not from this timeout.
	st, ok := l.enc.Pool().Wait(200 * time.Millisecond)
	if !ok {
		return
	}
	if st.HW != nil {
		l.releaser.Release(st.HW)
		switch {
		case st.JobFailed:
			// suppress
		case !st.JobTimely:
			// drop
		default:
			l.exposeFrame(st.Dest)
		}
	}

	if l.isStopped() {
		l.teardown()
		return
	}

	// Step 2: slowdown.
	forceKey := l.slowdown(ctx)
	if l.isStopped() {
		l.teardown()
		return
	}

	// Step 3: grab a buffer.
	hw, err := l.dev.GrabBuffer()
	if err != nil {
		switch {
		case errors.Is(err, device.ErrBroken):
			return
		default: // PersistentTimeout or any other device error
			l.teardown()
			return
		}
	}

	// Step 4: fluency smoother — match capture cadence to what the
	// worker pool can absorb.
	now := monotonicSeconds()
	if now < l.grabAfter {
		l.fluencyPassed++
		l.releaser.Release(hw)
		return
	}

	// Step 5: dispatch.
	nowSec := int64(now)
	l.tickCapturedFPS(nowSec)
	l.grabAfter = now + l.enc.Pool().FluencyDelay(st.Worker).Seconds()

	raw := hwToFrame(hw, forceKey)
	l.fanOutRaw(raw, forceKey)
	l.enc.Pool().Assign(st.Worker, hw)
}

// hwToFrame copies an HW buffer's raw view into a throwaway Frame for
// fan-out to raw-sink/H.264 (those sinks own their own copies; the hw
// itself stays leased to the worker until Assign's job completes).
func hwToFrame(hw *device.HWBuffer, key bool) *frame.Frame {
	f := &frame.Frame{
		Width:  hw.Width,
		Height: hw.Height,
		Stride: hw.Stride,
		Format: hw.Format,
		GrabTS: monotonicSeconds(),
		Online: true,
		Key:    key,
	}
	f.SetPayload(hw.Data)
	return f
}
