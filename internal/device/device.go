// SPDX-License-Identifier: MIT

// Package device fixes the external contract of the V4L2 device
// collaborator (C5). The real V4L2 plumbing (ioctls, mmap, buffer
// queueing) is out of scope for this module — spec.md treats it as an
// external collaborator and only the interface is defined here, plus a
// deterministic Fake used by stream-loop tests.
package device

import (
	"errors"

	"github.com/pikvm/ustreamer-go/internal/frame"
)

// Sentinel grab errors, matching the three negative grab_buffer outcomes
// named by the contract (§6): broken frame (skip), persistent timeout
// (teardown), and any other error (teardown).
var (
	ErrBroken           = errors.New("device: broken frame")
	ErrPersistentTimeout = errors.New("device: persistent timeout")
	ErrDevice            = errors.New("device: error")
)

// HWBuffer is the opaque handle a grab returns: an index into the
// device's buffer table, a DMA-BUF fd (valid only when DMAExport was
// requested), and a raw-frame view. Exactly one lease exists per index
// at any instant (IP-1): held by a worker, a releaser mailbox, or the
// driver, never two at once.
type HWBuffer struct {
	Index  int
	DMAFd  int
	Data   []byte
	Width  uint
	Height uint
	Stride uint
	Format frame.Format
	Hz     float64
	GrabTS float64
}

// Device is the collaborator contract: opens/closes the V4L2 device,
// exposes the current run's geometry and buffer table, and grabs/
// releases HW buffers. On each re-init, Width/Height/Hz/Format/Stride
// are the authoritative capture geometry (§6: "on each re-init the
// device's run geometry is the authoritative source").
type Device interface {
	// Path is the device node path (e.g. /dev/video0), used for access()
	// checks during INIT.
	Path() string
	// DesiredFPS is the configured capture rate used by fluency pacing.
	DesiredFPS() uint

	// Open opens the device at its current geometry. dmaExport controls
	// whether HW buffers carry a valid DMAFd (set by the stream loop iff
	// the encoder is M2M or H.264 is active).
	Open(dmaExport bool) error
	Close() error

	Width() uint
	Height() uint
	Hz() float64
	Format() frame.Format
	Stride() uint
	NBufs() int
	// DMAFd returns the persistent DMA-BUF fd for buffer index, valid
	// only after Open(dmaExport=true); -1 otherwise. This is the static
	// hw_bufs[].dma_fd table the DRM output engine imports from, distinct
	// from the per-grab HWBuffer.DMAFd a worker briefly holds.
	DMAFd(index int) int

	// GrabBuffer blocks for at most one capture period and returns the
	// next HW buffer, or one of ErrBroken/ErrPersistentTimeout/ErrDevice.
	GrabBuffer() (*HWBuffer, error)
	// ReleaseBuffer returns ownership of hw to the driver.
	ReleaseBuffer(hw *HWBuffer) error
}
