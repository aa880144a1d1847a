// SPDX-License-Identifier: MIT

package device

import (
	"sync"
	"sync/atomic"

	"github.com/pikvm/ustreamer-go/internal/frame"
)

// Fake is a deterministic in-memory Device used by stream-loop and
// releaser-fan-out tests. It never touches real hardware.
type Fake struct {
	mu sync.Mutex

	path       string
	desiredFPS uint
	width      uint
	height     uint
	hz         float64
	format     frame.Format
	stride     uint
	nBufs      int

	opened    bool
	dmaExport bool

	// GrabScript, when non-nil, is consumed front-to-back by GrabBuffer:
	// each call pops one entry and returns it verbatim. When the script
	// is exhausted, GrabBuffer returns a synthetic buffer cycling through
	// indices 0..NBufs-1.
	GrabScript []GrabOutcome

	grabN int64

	leased      map[int]bool
	releaseErrs map[int]error
}

// GrabOutcome is one scripted result for Fake.GrabBuffer.
type GrabOutcome struct {
	HW  *HWBuffer
	Err error
}

// NewFake builds a fake device with the given run geometry.
func NewFake(path string, width, height uint, hz float64, format frame.Format, nBufs int) *Fake {
	return &Fake{
		path:        path,
		desiredFPS:  uint(hz),
		width:       width,
		height:      height,
		hz:          hz,
		format:      format,
		stride:      width * 3,
		nBufs:       nBufs,
		leased:      make(map[int]bool),
		releaseErrs: make(map[int]error),
	}
}

func (f *Fake) Path() string      { return f.path }
func (f *Fake) DesiredFPS() uint  { return f.desiredFPS }
func (f *Fake) Width() uint       { return f.width }
func (f *Fake) Height() uint      { return f.height }
func (f *Fake) Hz() float64       { return f.hz }
func (f *Fake) Format() frame.Format { return f.format }
func (f *Fake) Stride() uint      { return f.stride }
func (f *Fake) NBufs() int        { return f.nBufs }

// DMAFd returns a deterministic synthetic fd per index when the last
// Open requested DMA export, -1 otherwise — mirrors GrabBuffer's own
// dmaFd synthesis for the non-scripted path.
func (f *Fake) DMAFd(index int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.dmaExport {
		return -1
	}
	return 100 + index
}

// Open marks the device opened and records whether DMA export was
// requested; real implementations would set this on the driver before
// queueing buffers.
func (f *Fake) Open(dmaExport bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened = true
	f.dmaExport = dmaExport
	return nil
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened = false
	return nil
}

// IsOpen reports whether Open has been called without a matching Close.
func (f *Fake) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opened
}

// DMAExportRequested reports the dmaExport flag passed to the last Open.
func (f *Fake) DMAExportRequested() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dmaExport
}

func (f *Fake) GrabBuffer() (*HWBuffer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := atomic.AddInt64(&f.grabN, 1) - 1
	var hw *HWBuffer
	var err error
	if int(n) < len(f.GrabScript) {
		outcome := f.GrabScript[n]
		hw, err = outcome.HW, outcome.Err
	} else {
		idx := int(n) % f.nBufs
		dmaFd := -1
		if f.dmaExport {
			dmaFd = 100 + idx
		}
		hw = &HWBuffer{
			Index:  idx,
			DMAFd:  dmaFd,
			Data:   make([]byte, f.stride*f.height),
			Width:  f.width,
			Height: f.height,
			Stride: f.stride,
			Format: f.format,
			Hz:     f.hz,
		}
	}
	if err != nil {
		return nil, err
	}
	if f.leased[hw.Index] {
		panic("device: fake grabbed an already-leased index")
	}
	f.leased[hw.Index] = true
	return hw, nil
}

func (f *Fake) ReleaseBuffer(hw *HWBuffer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.leased[hw.Index] {
		panic("device: fake released a non-leased index")
	}
	delete(f.leased, hw.Index)
	if err, ok := f.releaseErrs[hw.Index]; ok {
		return err
	}
	return nil
}

// SetReleaseError makes the next release of index fail with err.
func (f *Fake) SetReleaseError(index int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releaseErrs[index] = err
}

// OutstandingLeases reports how many HW indices are currently leased out
// (not yet released back to the driver).
func (f *Fake) OutstandingLeases() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.leased)
}
