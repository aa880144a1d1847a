// SPDX-License-Identifier: MIT

package stream

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pikvm/ustreamer-go/internal/device"
	"github.com/pikvm/ustreamer-go/internal/queue"
	"github.com/pikvm/ustreamer-go/internal/util"
)

// releaserFanOut owns one depth-1 mailbox queue per device buffer
// index (§4.5/§9 "releaser fan-out"). Release enqueues into the queue
// for hw.Index; a dedicated goroutine per index dequeues, calls the
// device release ioctl under the shared mutex, and signals a
// collective stop on failure.
type releaserFanOut struct {
	dev funcReleaser
	log *slog.Logger

	queues  []*queue.Queue[*device.HWBuffer]
	mu      sync.Mutex // serializes device.ReleaseBuffer across indices
	stop    atomic.Bool
	wg      sync.WaitGroup
	timeout time.Duration
}

// funcReleaser is the narrow slice of device.Device the releaser needs,
// kept separate so tests can substitute a release-only fake.
type funcReleaser interface {
	ReleaseBuffer(hw *device.HWBuffer) error
}

func newReleaserFanOut(dev funcReleaser, nBufs int, log *slog.Logger, timeout time.Duration) *releaserFanOut {
	r := &releaserFanOut{
		dev:     dev,
		log:     log,
		queues:  make([]*queue.Queue[*device.HWBuffer], nBufs),
		timeout: timeout,
	}
	for i := range r.queues {
		r.queues[i] = queue.New[*device.HWBuffer](1)
	}
	return r
}

// Start launches one goroutine per buffer index, panic-safe per the
// ambient SafeGo convention.
func (r *releaserFanOut) Start() {
	for i, q := range r.queues {
		idx, qq := i, q
		r.wg.Add(1)
		util.SafeGo("stream-releaser", nil, func() {
			defer r.wg.Done()
			r.loop(idx, qq)
		}, nil)
	}
}

func (r *releaserFanOut) loop(index int, q *queue.Queue[*device.HWBuffer]) {
	for {
		hw, err := q.Get(r.timeout)
		if err == queue.ErrStopped {
			return
		}
		if err != nil {
			if r.stop.Load() {
				return
			}
			continue
		}
		r.mu.Lock()
		releaseErr := r.dev.ReleaseBuffer(hw)
		r.mu.Unlock()
		if releaseErr != nil {
			if r.log != nil {
				r.log.Error("device release failed, signalling collective stop", "index", index, "error", releaseErr)
			}
			r.stop.Store(true)
		}
	}
}

// Release submits hw to its index's mailbox. The depth-1 invariant
// means Put cannot legitimately fail with ErrFull while the releaser
// goroutine for that index is draining it (Open Question (b)): a
// failure here is treated as an assertion violation, not a recoverable
// condition.
func (r *releaserFanOut) Release(hw *device.HWBuffer) {
	err := r.queues[hw.Index].Put(hw, r.timeout)
	if err == queue.ErrFull {
		panic("stream: releaser mailbox held two in-flight releases for the same index")
	}
}

// ReleaseStopped reports whether a releaser has signalled collective
// stop after a failed device release.
func (r *releaserFanOut) ReleaseStopped() bool { return r.stop.Load() }

// Shutdown sets release_stop, stops every mailbox (unblocking any Get),
// and joins all releaser goroutines.
func (r *releaserFanOut) Shutdown() {
	r.stop.Store(true)
	for _, q := range r.queues {
		q.Stop()
	}
	r.wg.Wait()
}
