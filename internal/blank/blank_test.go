// SPDX-License-Identifier: MIT

package blank

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateProducesRGBAndJPEGPair(t *testing.T) {
	p, err := Generate(320, 240, 80)
	require.NoError(t, err)
	assert.Equal(t, uint(320), p.Width)
	assert.Equal(t, uint(240), p.Height)
	assert.Equal(t, int(320*3*240), p.RGB.Used)
	assert.Greater(t, p.JPEG.Used, 0)
	assert.Equal(t, byte(0xFF), p.JPEG.Data[0])
	assert.Equal(t, byte(0xD8), p.JPEG.Data[1])
}

func TestGenerateResizesOnGeometryChange(t *testing.T) {
	p1, err := Generate(640, 480, 80)
	require.NoError(t, err)
	p2, err := Generate(320, 240, 80)
	require.NoError(t, err)
	assert.NotEqual(t, p1.RGB.Used, p2.RGB.Used)
}
