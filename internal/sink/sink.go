// SPDX-License-Identifier: MIT

// Package sink fixes the memory-sink contract (§6): check(frame) → bool,
// put(frame, &key_requested), has_clients. The real shared-memory IPC
// transport is out of scope (spec.md §2); this package defines the Go
// interface plus two concrete sinks that exercise it: RingSink (the
// in-process JPEG ring feeding an HTTP server) and StatusClient (an
// HTTP-polled status client standing in for the raw/H.264 memsink
// companion processes).
package sink

import (
	"sync/atomic"
	"time"

	"github.com/pikvm/ustreamer-go/internal/frame"
	"github.com/pikvm/ustreamer-go/internal/ring"
)

// Sink is the memory-sink contract every downstream fan-out target
// implements. Put failures are the sink's own concern and are never
// surfaced to the stream loop (§7).
type Sink interface {
	Check(f *frame.Frame) bool
	Put(f *frame.Frame) error
	HasClients() bool
}

// RingSink adapts a bounded ring.Ring to the Sink contract: Put leases a
// producer slot (with a short timeout, dropping the frame on overflow
// per §4.1), Check always accepts, HasClients is driven externally by
// whatever server front-end is consuming the ring (e.g. the HTTP
// snapshot/stream handlers incrementing/decrementing a client count).
type RingSink struct {
	ring        *ring.Ring
	acquireWait time.Duration
	clients     int64
}

// NewRingSink wraps an existing ring as a Sink.
func NewRingSink(r *ring.Ring, acquireWait time.Duration) *RingSink {
	return &RingSink{ring: r, acquireWait: acquireWait}
}

func (s *RingSink) Check(f *frame.Frame) bool { return true }

// Put copies f's payload into the next free ring slot. On overflow
// (ring.ErrFull) it returns the error so the caller can log-and-retry
// per §4.1/§7 (RingFull is produce-side, lossy by design).
func (s *RingSink) Put(f *frame.Frame) error {
	idx, dest, err := s.ring.ProducerAcquire(s.acquireWait)
	if err != nil {
		return err
	}
	dest.SetPayload(f.Data[:f.Used])
	dest.Width, dest.Height = f.Width, f.Height
	dest.Format = f.Format
	dest.GrabTS = f.GrabTS
	dest.Online = f.Online
	dest.Key = f.Key
	s.ring.ProducerRelease(idx)
	return nil
}

func (s *RingSink) HasClients() bool { return atomic.LoadInt64(&s.clients) > 0 }

// AddClient/RemoveClient let an HTTP handler track active viewers.
func (s *RingSink) AddClient()    { atomic.AddInt64(&s.clients, 1) }
func (s *RingSink) RemoveClient() { atomic.AddInt64(&s.clients, -1) }

// ClientCount reports the current viewer count, for metrics/health.
func (s *RingSink) ClientCount() int64 { return atomic.LoadInt64(&s.clients) }
