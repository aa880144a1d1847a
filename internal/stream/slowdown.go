// SPDX-License-Identifier: MIT

package stream

import (
	"context"
	"time"
)

// slowdown implements §4.4 step 2: when Slowdown is enabled and no
// downstream client is connected anywhere, sleep in fixed steps (up to
// SlowdownMaxSteps × SlowdownStep, 1s total by default) re-checking
// stop/clients between steps. Returning true means the loop actually
// slept at least one step, so the next H.264 frame should carry a
// forced keyframe for a late-arriving subscriber.
func (l *Loop) slowdown(ctx context.Context) bool {
	if !l.cfg.Slowdown || l.HasAnyClients() {
		return false
	}

	slept := false
	for i := 0; i < l.cfg.SlowdownMaxSteps; i++ {
		if l.isStopped() || ctx.Err() != nil || l.HasAnyClients() {
			break
		}
		t := time.NewTimer(l.cfg.SlowdownStep)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return slept
		}
		slept = true
		if l.HasAnyClients() {
			break
		}
	}
	return slept
}
