// SPDX-License-Identifier: MIT

package stream

import (
	"context"
	"time"

	"github.com/pikvm/ustreamer-go/internal/blank"
	"golang.org/x/sys/unix"
)

// runInit implements §4.4 INIT: regenerate the blank pair at the
// current geometry, publish a dead frame and fan the blank out, check
// device access, and on success open the device+encoder and move to
// RUNNING. On any failure it sleeps ErrorDelay and stays in INIT.
func (l *Loop) runInit(ctx context.Context) {
	if l.isStopped() {
		l.state.Store(int32(StateStopped))
		return
	}

	l.mu.Lock()
	width, height := l.width, l.height
	if l.blankPair == nil || l.blankPair.Width != width || l.blankPair.Height != height {
		if pair, err := blank.Generate(width, height, l.cfg.JPEGQuality); err == nil {
			l.blankPair = pair
		}
	}
	pair := l.blankPair
	l.mu.Unlock()

	l.publishDead()
	if pair != nil {
		l.fanOutRaw(pair.RGB, false)
	}

	if err := unix.Access(l.dev.Path(), unix.R_OK|unix.W_OK); err != nil {
		l.logAccessErrorOnce(err)
		l.sleepOrStop(ctx, l.cfg.ErrorDelay)
		return
	}
	l.clearAccessError()

	dmaExport := l.enc.Type().IsM2M() || l.h264Sink != nil
	if err := l.dev.Open(dmaExport); err != nil {
		if l.log != nil {
			l.log.Error("device open failed", "error", err)
		}
		l.sleepOrStop(ctx, l.cfg.ErrorDelay)
		return
	}
	if err := l.enc.Open(l.dev); err != nil {
		if l.log != nil {
			l.log.Error("encoder open failed", "error", err)
		}
		_ = l.dev.Close()
		l.sleepOrStop(ctx, l.cfg.ErrorDelay)
		return
	}

	l.mu.Lock()
	l.width, l.height = l.dev.Width(), l.dev.Height()
	l.mu.Unlock()

	l.releaser = newReleaserFanOut(l.dev, l.dev.NBufs(), l.log, l.cfg.ReleaserGetTimeout)
	l.releaser.Start()

	l.state.Store(int32(StateRunning))
}

func (l *Loop) logAccessErrorOnce(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	msg := err.Error()
	if msg == l.lastAccessErr {
		return
	}
	l.lastAccessErr = msg
	if l.log != nil {
		l.log.Error("device access denied", "path", l.dev.Path(), "error", err)
	}
}

func (l *Loop) clearAccessError() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastAccessErr = ""
}

// sleepOrStop sleeps d, waking early on ctx cancellation. A Break during
// the sleep is observed only when the sleep ends.
func (l *Loop) sleepOrStop(ctx context.Context, d time.Duration) {
	if l.isStopped() {
		l.state.Store(int32(StateStopped))
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
	if l.isStopped() {
		l.state.Store(int32(StateStopped))
	}
}
