// SPDX-License-Identifier: MIT

// Package ring implements the bounded, preallocated single-producer/
// single-consumer ring used to hand Frames from the stream loop to a
// downstream sink consumer (e.g. the HTTP JPEG server).
//
// The ring is lossy at the producer: when every slot is already leased
// to the consumer (or mid-flight), ProducerAcquire times out and the
// caller is expected to drop the frame rather than block indefinitely.
package ring

import (
	"errors"
	"time"

	"github.com/pikvm/ustreamer-go/internal/frame"
)

// Acquire outcomes.
var (
	// ErrFull is returned by ProducerAcquire when no slot became free
	// before timeout elapsed — the stream loop drops the frame.
	ErrFull = errors.New("ring: full")
	// ErrEmpty is returned by ConsumerAcquire when no slot became ready
	// before timeout elapsed.
	ErrEmpty = errors.New("ring: empty")
	// ErrStopped is returned by either acquire call once Stop has been
	// called; it takes precedence over timeout semantics.
	ErrStopped = errors.New("ring: stopped")
)

// Ring is a bounded SPSC ring of preallocated frame.Frame slots.
//
// Invariant (IP-2): at most one of {producer, consumer} holds a lease on
// a given slot index at any instant. The free/ready channels enforce
// this — a slot index lives in exactly one of them, or in neither while
// leased, never in both.
type Ring struct {
	pool  *frame.Pool
	free  chan int
	ready chan int
	stop  chan struct{}
}

// New builds a ring with n preallocated slots of initialCap bytes.
func New(n, initialCap int) *Ring {
	r := &Ring{
		pool:  frame.NewPool(n, initialCap),
		free:  make(chan int, n),
		ready: make(chan int, n),
		stop:  make(chan struct{}),
	}
	for i := 0; i < n; i++ {
		r.free <- i
	}
	return r
}

// Stop unblocks any pending acquire calls and causes future ones to
// return ErrStopped immediately. Idempotent.
func (r *Ring) Stop() {
	select {
	case <-r.stop:
	default:
		close(r.stop)
	}
}

// ProducerAcquire leases a free slot for the producer to fill, blocking
// up to timeout. On success the caller owns the returned Frame
// exclusively until ProducerRelease.
func (r *Ring) ProducerAcquire(timeout time.Duration) (int, *frame.Frame, error) {
	select {
	case <-r.stop:
		return -1, nil, ErrStopped
	default:
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case idx := <-r.free:
		return idx, r.pool.At(idx), nil
	case <-r.stop:
		return -1, nil, ErrStopped
	case <-t.C:
		return -1, nil, ErrFull
	}
}

// ProducerRelease publishes slot idx to the consumer side. Must only be
// called by whoever currently holds the producer lease on idx.
func (r *Ring) ProducerRelease(idx int) {
	select {
	case r.ready <- idx:
	case <-r.stop:
	}
}

// ConsumerAcquire leases the next ready slot, blocking up to timeout.
func (r *Ring) ConsumerAcquire(timeout time.Duration) (int, *frame.Frame, error) {
	select {
	case <-r.stop:
		return -1, nil, ErrStopped
	default:
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case idx := <-r.ready:
		return idx, r.pool.At(idx), nil
	case <-r.stop:
		return -1, nil, ErrStopped
	case <-t.C:
		return -1, nil, ErrEmpty
	}
}

// ConsumerRelease returns slot idx to the producer's free pool.
func (r *Ring) ConsumerRelease(idx int) {
	select {
	case r.free <- idx:
	case <-r.stop:
	}
}

// Len reports the number of preallocated slots.
func (r *Ring) Len() int {
	return r.pool.Len()
}
