// SPDX-License-Identifier: MIT

// Package encoder fixes the encoder collaborator contract (C6): opening
// a worker pool against a device+format and exposing which buffer
// export mode it needs. The worker pool mechanics themselves live in
// internal/workerpool; this package only decides *what* gets encoded.
package encoder

import (
	"time"

	"github.com/pikvm/ustreamer-go/internal/device"
	"github.com/pikvm/ustreamer-go/internal/workerpool"
)

// Type distinguishes software encoders from memory-to-memory hardware
// encoders. The stream loop sets the device's dma_export flag iff the
// active encoder IsM2M (§4.4 INIT) or an H.264 pipeline is active.
type Type int

const (
	TypeCPUImage Type = iota
	TypeM2MImage
	TypeM2MVideo
)

// IsM2M reports whether this encoder type consumes buffers via DMA
// import rather than a CPU-mapped copy.
func (t Type) IsM2M() bool {
	return t == TypeM2MImage || t == TypeM2MVideo
}

// Encoder is the collaborator contract (§6): open against a device,
// expose a worker pool, and report its type for dma_export decisions.
type Encoder interface {
	Open(dev device.Device) error
	Close() error
	Pool() *workerpool.Pool
	Type() Type
}

// Config tunes the worker pool an Encoder builds.
type Config struct {
	Workers    int
	JobTimeout time.Duration
	MinDelay   time.Duration
	InitialCap int
}

// DefaultConfig returns sane defaults for a small embedded device: two
// workers, a generous job timeout, and a 64 KiB initial JPEG buffer.
func DefaultConfig() Config {
	return Config{
		Workers:    2,
		JobTimeout: 200 * time.Millisecond,
		MinDelay:   0,
		InitialCap: 64 * 1024,
	}
}
