// SPDX-License-Identifier: MIT

package device

import (
	"testing"

	"github.com/pikvm/ustreamer-go/internal/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeGrabReleaseRoundTrip(t *testing.T) {
	dev := NewFake("/dev/video0", 4, 2, 30, frame.FormatRGB24, 2)
	require.NoError(t, dev.Open(false))

	hw, err := dev.GrabBuffer()
	require.NoError(t, err)
	assert.Equal(t, 1, dev.OutstandingLeases())

	require.NoError(t, dev.ReleaseBuffer(hw))
	assert.Equal(t, 0, dev.OutstandingLeases())
}

func TestFakeGrabScriptReturnsScriptedErrors(t *testing.T) {
	dev := NewFake("/dev/video0", 4, 2, 30, frame.FormatRGB24, 2)
	dev.GrabScript = []GrabOutcome{
		{Err: ErrBroken},
		{Err: ErrPersistentTimeout},
	}
	require.NoError(t, dev.Open(false))

	_, err := dev.GrabBuffer()
	assert.ErrorIs(t, err, ErrBroken)

	_, err = dev.GrabBuffer()
	assert.ErrorIs(t, err, ErrPersistentTimeout)

	hw, err := dev.GrabBuffer()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, hw.Index, 0)
}

func TestFakeDoubleGrabOfSameIndexPanics(t *testing.T) {
	dev := NewFake("/dev/video0", 4, 2, 30, frame.FormatRGB24, 1)
	require.NoError(t, dev.Open(false))
	_, err := dev.GrabBuffer()
	require.NoError(t, err)

	assert.Panics(t, func() {
		_, _ = dev.GrabBuffer()
	})
}

func TestFakeDMAExportSetsDMAFd(t *testing.T) {
	dev := NewFake("/dev/video0", 4, 2, 30, frame.FormatRGB24, 2)
	require.NoError(t, dev.Open(true))
	assert.True(t, dev.DMAExportRequested())
	hw, err := dev.GrabBuffer()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, hw.DMAFd, 0)
}
