// SPDX-License-Identifier: MIT

// Package blank implements the blank-frame source (C4): a fixed
// "<NO SIGNAL>" RGB+JPEG pair, regenerated whenever the stream loop's
// geometry changes.
package blank

import (
	"bytes"
	"image/jpeg"

	"github.com/pikvm/ustreamer-go/internal/frame"
	"github.com/pikvm/ustreamer-go/internal/frametext"
)

// Pair holds the two representations of the current blank image: a raw
// RGB24 frame (fanned out to raw-sink/DRM stub) and its JPEG encoding
// (published to the JPEG ring / JPEG-sink).
type Pair struct {
	Width, Height uint
	RGB           *frame.Frame
	JPEG          *frame.Frame
}

// Generate renders the NO_SIGNAL stub at width×height and returns both
// representations. quality controls the JPEG encoding (1-100).
func Generate(width, height uint, quality int) (*Pair, error) {
	stride := width * 3
	img := frametext.Draw(width, height, frametext.Message(frametext.KindNoSignal, width, height, 0))
	rgbBytes := frametext.ToRGB24(img, stride)

	rgb := &frame.Frame{Width: width, Height: height, Stride: stride, Format: frame.FormatRGB24}
	rgb.SetPayload(rgbBytes)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	jpg := &frame.Frame{Width: width, Height: height, Format: frame.FormatJPEG}
	jpg.SetPayload(buf.Bytes())

	return &Pair{Width: width, Height: height, RGB: rgb, JPEG: jpg}, nil
}
