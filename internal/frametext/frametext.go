// SPDX-License-Identifier: MIT

// Package frametext rasterizes the fixed, multi-line stub text catalog
// (§6) centered on an RGB canvas of arbitrary geometry. It backs both
// the blank-frame source (C4) and the DRM stub buffers (C8) — the two
// places the spec shows the exact same strings being drawn.
package frametext

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Kind enumerates the fixed stub variants named by §6.
type Kind int

const (
	KindNoSignal Kind = iota
	KindBadResolution
	KindBadFormat
	KindBusy
)

// Message renders kind's fixed template, substituting {W}/{H}/{Hz} for
// BadResolution (the only variant with placeholders).
func Message(kind Kind, width, height uint, hz float64) string {
	switch kind {
	case KindBadResolution:
		return fmt.Sprintf("=== PiKVM ===\n \n< UNSUPPORTED RESOLUTION >\n \n< %dx%dp%.02f >\n \nby this display", width, height, hz)
	case KindBadFormat:
		return "=== PiKVM ===\n \n< UNSUPPORTED CAPTURE FORMAT >\n \nIt shouldn't happen ever.\n \nPlease check the logs and report a bug:\n \n- https://github.com/pikvm/pikvm -"
	case KindBusy:
		return "=== PiKVM ===\n \n< ONLINE IS ACTIVE >"
	default:
		return "=== PiKVM ===\n \n< NO SIGNAL >"
	}
}

var (
	bg = color.RGBA{R: 0x10, G: 0x10, B: 0x10, A: 0xff}
	fg = color.RGBA{R: 0xe0, G: 0xe0, B: 0xe0, A: 0xff}
)

// Draw rasterizes msg, line by line, horizontally and vertically
// centered, onto a fresh RGBA canvas sized width×height.
func Draw(width, height uint, msg string) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, int(width), int(height)))
	draw.Draw(img, img.Bounds(), image.NewUniform(bg), image.Point{}, draw.Src)

	face := basicfont.Face7x13
	lines := strings.Split(msg, "\n")
	lineHeight := face.Metrics().Height.Ceil()
	totalHeight := lineHeight * len(lines)
	startY := (int(height)-totalHeight)/2 + face.Metrics().Ascent.Ceil()

	for i, line := range lines {
		lineWidth := font.MeasureString(face, line).Ceil()
		x := (int(width) - lineWidth) / 2
		if x < 0 {
			x = 0
		}
		y := startY + i*lineHeight
		d := &font.Drawer{
			Dst:  img,
			Src:  image.NewUniform(fg),
			Face: face,
			Dot:  fixed.P(x, y),
		}
		d.DrawString(line)
	}
	return img
}

// ToRGB24 packs an RGBA image into a tightly row-padded RGB24 byte
// buffer at the given stride, matching the raw-frame layout the blank
// source and DRM dumb buffers both expect.
func ToRGB24(img *image.RGBA, stride uint) []byte {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := make([]byte, int(stride)*h)
	for y := 0; y < h; y++ {
		row := out[y*int(stride) : y*int(stride)+w*3]
		for x := 0; x < w; x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			o := x * 3
			row[o] = byte(r >> 8)
			row[o+1] = byte(g >> 8)
			row[o+2] = byte(bl >> 8)
		}
	}
	return out
}
