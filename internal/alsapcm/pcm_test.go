// SPDX-License-Identifier: MIT

package alsapcm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPathFormatsCaptureNode(t *testing.T) {
	assert.Equal(t, "/dev/snd/pcmC1D0c", Path(1, 0))
	assert.Equal(t, "/dev/snd/pcmC0D2c", Path(0, 2))
}

func TestMaskSetBitIsIsolatedToOneWord(t *testing.T) {
	var m alsaMask
	m.setBit(2) // S16_LE
	assert.Equal(t, uint32(1<<2), m.Bits[0])
	for i := 1; i < len(m.Bits); i++ {
		assert.Equal(t, uint32(0), m.Bits[i])
	}

	var m2 alsaMask
	m2.setBit(40)
	assert.Equal(t, uint32(1<<(40-32)), m2.Bits[1])
}

func TestExactIntervalPinsMinMaxAndSetsIntegerFlag(t *testing.T) {
	iv := exactInterval(48000)
	assert.Equal(t, uint32(48000), iv.Min)
	assert.Equal(t, uint32(48000), iv.Max)
	assert.Equal(t, uint32(intervalIntegerFlag), iv.Flags&intervalIntegerFlag)
}

func TestNewHwParamsStartsFromAnythingGoes(t *testing.T) {
	p := newHwParams()
	assert.Equal(t, uint32(0xffffffff), p.Masks[hwParamAccess].Bits[0])
	assert.Equal(t, uint32(0xffffffff), p.Intervals[hwParamRate].Max)
}

func TestHwParamsSettersPinExactValues(t *testing.T) {
	p := newHwParams()
	p.setAccessRWInterleaved()
	p.setFormatS16LE()
	p.setSubformatStd()
	p.setChannels(1)
	p.setRate(48000)
	p.setPeriodSize(960)
	p.setPeriods(4)

	assert.Equal(t, uint32(1<<accessRWInterleaved), p.Masks[hwParamAccess].Bits[0])
	assert.Equal(t, uint32(1<<formatS16LE), p.Masks[hwParamFormat].Bits[0])
	assert.Equal(t, uint32(1), p.Intervals[hwParamChannels].Min)
	assert.Equal(t, uint32(48000), p.Intervals[hwParamRate].Min)
	assert.Equal(t, uint32(960), p.periodSizeFrames())
}

func TestDefaultParamsMatchOpusNativeRate(t *testing.T) {
	p := DefaultParams()
	assert.Equal(t, uint32(48000), p.Rate)
	assert.Equal(t, uint32(1), p.Channels)
}

func TestOpenUnknownPathReturnsErrNoDevice(t *testing.T) {
	_, err := Open("/dev/snd/pcmC99D0c", DefaultParams())
	assert.ErrorIs(t, err, ErrNoDevice)
}
