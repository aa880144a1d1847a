// SPDX-License-Identifier: MIT

package stream

// teardown transitions RUNNING → TEARDOWN (§4.4). Called from within
// runRunning on a device error or stop request.
func (l *Loop) teardown() {
	l.state.Store(int32(StateTeardown))
}

// runTeardown implements §4.5's teardown half: release_stop=true, join
// all releasers, destroy their queues, close encoder+device (failures
// here are logged but not re-raised — teardown is best-effort per §7),
// then retry into INIT unless the user stop flag is set, in which case
// go to STOPPED.
func (l *Loop) runTeardown() {
	if l.releaser != nil {
		l.releaser.Shutdown()
		l.releaser = nil
	}

	if err := l.enc.Close(); err != nil && l.log != nil {
		l.log.Error("encoder close failed during teardown", "error", err)
	}
	if err := l.dev.Close(); err != nil && l.log != nil {
		l.log.Error("device close failed during teardown", "error", err)
	}

	// An offline transition on teardown runs the blank-fallback state
	// machine exactly like a mid-run device error would.
	l.exposeFrame(nil)
	l.mu.Lock()
	pair := l.blankPair
	l.mu.Unlock()
	if pair != nil {
		l.fanOutRaw(pair.RGB, false)
	}

	if l.isStopped() {
		l.state.Store(int32(StateStopped))
		return
	}
	l.state.Store(int32(StateInit))
}
