// SPDX-License-Identifier: MIT

package encoder

import (
	"github.com/pikvm/ustreamer-go/internal/device"
	"github.com/pikvm/ustreamer-go/internal/frame"
	"github.com/pikvm/ustreamer-go/internal/workerpool"
)

// Fake is a deterministic test encoder: it copies the HW payload into
// the destination frame unchanged (no real JPEG codec), marking the
// frame online. FailNext makes the next N jobs return an error.
type Fake struct {
	cfg      Config
	typ      Type
	pool     *workerpool.Pool
	failNext int
}

// NewFake builds a fake encoder of the given collaborator type.
func NewFake(cfg Config, typ Type) *Fake {
	return &Fake{cfg: cfg, typ: typ}
}

func (e *Fake) Type() Type { return e.typ }

func (e *Fake) Open(dev device.Device) error {
	e.pool = workerpool.New(e.cfg.Workers, e.cfg.InitialCap, e.encodeOne, e.cfg.JobTimeout, e.cfg.MinDelay)
	return nil
}

func (e *Fake) encodeOne(hw *device.HWBuffer, dest *frame.Frame) error {
	if e.failNext > 0 {
		e.failNext--
		return errFakeEncode
	}
	dest.SetPayload(hw.Data)
	dest.Width = hw.Width
	dest.Height = hw.Height
	dest.Format = frame.FormatJPEG
	dest.Online = true
	return nil
}

// FailNext makes the next n encode jobs fail.
func (e *Fake) FailNext(n int) { e.failNext = n }

func (e *Fake) Close() error {
	if e.pool != nil {
		e.pool.Close()
	}
	return nil
}

func (e *Fake) Pool() *workerpool.Pool { return e.pool }

var errFakeEncode = fakeEncodeError{}

type fakeEncodeError struct{}

func (fakeEncodeError) Error() string { return "encoder: fake job failure" }
