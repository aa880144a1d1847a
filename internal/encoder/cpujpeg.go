// SPDX-License-Identifier: MIT

package encoder

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/pikvm/ustreamer-go/internal/device"
	"github.com/pikvm/ustreamer-go/internal/frame"
	"github.com/pikvm/ustreamer-go/internal/workerpool"
)

// CPUJPEG is a software fallback encoder: it reads RGB24 HW buffers and
// produces baseline JPEG Frames via the pool's worker goroutines. It
// stands in for the out-of-scope hardware M2M JPEG encoder when no
// accelerator is present (spec.md §2 names the M2M encoder as an
// external collaborator; this is the CPU-only implementation of the
// same contract).
type CPUJPEG struct {
	cfg     Config
	quality int
	pool    *workerpool.Pool
}

// NewCPUJPEG builds a CPU-JPEG encoder at the given quality (1-100).
func NewCPUJPEG(cfg Config, quality int) *CPUJPEG {
	return &CPUJPEG{cfg: cfg, quality: quality}
}

func (e *CPUJPEG) Type() Type { return TypeCPUImage }

func (e *CPUJPEG) Open(dev device.Device) error {
	w, h := int(dev.Width()), int(dev.Height())
	stride := int(dev.Stride())
	e.pool = workerpool.New(e.cfg.Workers, e.cfg.InitialCap, func(hw *device.HWBuffer, dest *frame.Frame) error {
		return e.encodeOne(hw, dest, w, h, stride)
	}, e.cfg.JobTimeout, e.cfg.MinDelay)
	return nil
}

func (e *CPUJPEG) encodeOne(hw *device.HWBuffer, dest *frame.Frame, w, h, stride int) error {
	if hw.Format != frame.FormatRGB24 {
		return fmt.Errorf("encoder: unsupported source format %v", hw.Format)
	}
	if len(hw.Data) < stride*h {
		return fmt.Errorf("encoder: short buffer: have %d want %d", len(hw.Data), stride*h)
	}

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		row := hw.Data[y*stride : y*stride+w*3]
		for x := 0; x < w; x++ {
			o := x * 3
			img.Set(x, y, rgbColor{row[o], row[o+1], row[o+2]})
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: e.quality}); err != nil {
		return fmt.Errorf("encoder: jpeg encode: %w", err)
	}

	dest.SetPayload(buf.Bytes())
	dest.Width = uint(w)
	dest.Height = uint(h)
	dest.Format = frame.FormatJPEG
	dest.Online = true
	return nil
}

func (e *CPUJPEG) Close() error {
	if e.pool != nil {
		e.pool.Close()
	}
	return nil
}

func (e *CPUJPEG) Pool() *workerpool.Pool { return e.pool }

type rgbColor struct{ r, g, b uint8 }

func (c rgbColor) RGBA() (r, g, b, a uint32) {
	return uint32(c.r) * 0x101, uint32(c.g) * 0x101, uint32(c.b) * 0x101, 0xffff
}
