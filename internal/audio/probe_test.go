// SPDX-License-Identifier: MIT

package audio

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func testdataAsoundPath() string {
	return filepath.Join("..", "..", "testdata", "proc", "asound")
}

func TestFindDeviceMatchesByRawName(t *testing.T) {
	dev, err := FindDevice(testdataAsoundPath(), "YetiStereoMicrophone")
	assert.NoError(t, err)
	assert.Equal(t, 0, dev.CardNumber)
}

func TestFindDeviceMatchesByFriendlyName(t *testing.T) {
	dev, err := FindDevice(testdataAsoundPath(), "USB_Audio_Device")
	assert.NoError(t, err)
	assert.Equal(t, 1, dev.CardNumber)
}

func TestFindDeviceUnknownNameReturnsNotFound(t *testing.T) {
	_, err := FindDevice(testdataAsoundPath(), "no-such-mic")
	assert.ErrorIs(t, err, ErrDeviceNotFound)
}

func TestDeviceALSAPathUsesSubdeviceZero(t *testing.T) {
	dev, err := FindDevice(testdataAsoundPath(), "YetiStereoMicrophone")
	assert.NoError(t, err)
	assert.Equal(t, "/dev/snd/pcmC0D0c", dev.ALSAPath())
}
