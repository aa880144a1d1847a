// SPDX-License-Identifier: MIT

package audio

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/pikvm/ustreamer-go/internal/alsapcm"
)

// ErrDeviceNotFound is returned when name matches no detected card.
var ErrDeviceNotFound = errors.New("audio: capture device not found")

// FindDevice resolves a configured name (friendly name, full USB ID,
// or raw ALSA id string) to a detected capture card.
func FindDevice(asoundPath, name string) (*Device, error) {
	devices, err := DetectDevices(asoundPath)
	if err != nil {
		return nil, err
	}
	for _, d := range devices {
		if d.FriendlyName() == name || d.FullDeviceID() == name || d.Name == name {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrDeviceNotFound, name)
}

// Probe verifies name can be opened at params without capturing,
// mirroring us_audio_probe: open, negotiate, close, no side effect.
func Probe(asoundPath, name string, params alsapcm.Params) error {
	dev, err := FindDevice(asoundPath, name)
	if err != nil {
		return err
	}
	return alsapcm.Probe(dev.ALSAPath(), params)
}

// Open resolves name, opens its ALSA PCM capture node at params, and
// wraps it in a Pipeline ready for Start.
func Open(asoundPath, name string, params alsapcm.Params, cfg Config, log *slog.Logger) (*Pipeline, error) {
	dev, err := FindDevice(asoundPath, name)
	if err != nil {
		return nil, err
	}
	pcm, err := alsapcm.Open(dev.ALSAPath(), params)
	if err != nil {
		return nil, err
	}
	p, err := New(pcm, cfg, log)
	if err != nil {
		_ = pcm.Close()
		return nil, err
	}
	return p, nil
}
