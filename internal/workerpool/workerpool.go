// SPDX-License-Identifier: MIT

// Package workerpool implements the worker-pool engine (C3): N identical
// encoder workers, a dispatcher that blocks until one is idle, and a
// per-worker fluency statistic used to pace the next grab.
package workerpool

import (
	"sync"
	"time"

	"github.com/pikvm/ustreamer-go/internal/device"
	"github.com/pikvm/ustreamer-go/internal/frame"
)

// EncodeFunc performs one hw→dest encode. It is supplied by the encoder
// collaborator (C6); workerpool itself is encoding-agnostic.
type EncodeFunc func(hw *device.HWBuffer, dest *frame.Frame) error

// Worker is one pool slot: a single reused destination Frame plus the
// bookkeeping from its most recently completed job.
type Worker struct {
	Name string

	pool   *Pool
	jobCh  chan *device.HWBuffer
	dest   *frame.Frame

	mu         sync.Mutex
	prevHW     *device.HWBuffer
	jobFailed  bool
	jobTimely  bool
	latency    time.Duration
}

// Status is the snapshot Wait returns: the outcome of the job this
// worker just finished, the hw it consumed (needs releasing), and the
// Frame it produced (valid until the next Assign to this worker).
type Status struct {
	Worker    *Worker
	JobFailed bool
	JobTimely bool
	HW        *device.HWBuffer
	Dest      *frame.Frame
}

// Pool dispatches encode jobs across a fixed set of Workers.
type Pool struct {
	workers    []*Worker
	ready      chan *Worker
	encode     EncodeFunc
	jobTimeout time.Duration
	minDelay   time.Duration
}

// New builds a pool of n workers, each holding its own destination
// frame preallocated to initialCap bytes. jobTimeout is the latency
// threshold above which a completed job is considered not "timely".
// minDelay floors FluencyDelay (typically 1/desired_fps).
func New(n int, initialCap int, encode EncodeFunc, jobTimeout, minDelay time.Duration) *Pool {
	p := &Pool{
		encode:     encode,
		jobTimeout: jobTimeout,
		minDelay:   minDelay,
	}
	p.workers = make([]*Worker, n)
	p.ready = make(chan *Worker, n)
	for i := 0; i < n; i++ {
		w := &Worker{
			pool:  p,
			jobCh: make(chan *device.HWBuffer, 1),
			dest:  &frame.Frame{Data: make([]byte, 0, initialCap)},
		}
		p.workers[i] = w
		go w.run()
		// All workers start idle.
		p.ready <- w
	}
	return p
}

func (w *Worker) run() {
	for hw := range w.jobCh {
		start := time.Now()
		err := w.pool.encode(hw, w.dest)
		latency := time.Since(start)

		w.mu.Lock()
		w.prevHW = hw
		w.jobFailed = err != nil
		w.jobTimely = latency <= w.pool.jobTimeout
		w.latency = latency
		w.mu.Unlock()

		w.pool.ready <- w
	}
}

// Wait blocks until a worker is idle (newly started, or just finished a
// job) and returns its status. When the worker has never run a job,
// JobFailed/JobTimely are false and HW/Dest are nil.
func (p *Pool) Wait(timeout time.Duration) (*Status, bool) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case w := <-p.ready:
		w.mu.Lock()
		st := &Status{
			Worker:    w,
			JobFailed: w.jobFailed,
			JobTimely: w.jobTimely,
		}
		if w.prevHW != nil {
			st.HW = w.prevHW
			st.Dest = w.dest
		}
		w.mu.Unlock()
		return st, true
	case <-t.C:
		return nil, false
	}
}

// Assign publishes hw as worker's next job. The caller must have
// already consumed the worker's previous Dest (it will be overwritten).
func (p *Pool) Assign(w *Worker, hw *device.HWBuffer) {
	w.jobCh <- hw
}

// FluencyDelay returns the dispatcher's pacing hint for the next grab:
// the worker's most recent encode latency, floored at minDelay so the
// loop never spins faster than the configured capture rate.
func (p *Pool) FluencyDelay(w *Worker) time.Duration {
	w.mu.Lock()
	latency := w.latency
	w.mu.Unlock()
	if latency < p.minDelay {
		return p.minDelay
	}
	return latency
}

// Close stops all worker goroutines. Outstanding jobs are not awaited;
// callers must ensure no Assign races this call.
func (p *Pool) Close() {
	for _, w := range p.workers {
		close(w.jobCh)
	}
}

// Len reports the number of workers in the pool.
func (p *Pool) Len() int {
	return len(p.workers)
}
