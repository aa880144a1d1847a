// SPDX-License-Identifier: MIT

package alsapcm

import (
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ErrNoDevice is returned when the requested card/device node does not
// exist under /dev/snd.
var ErrNoDevice = errors.New("alsapcm: no such device")

// Params describes the exact capture format the stream pipeline needs.
// Every field is pinned exact during HW_PARAMS negotiation — there is
// no fallback search, matching us_audio_probe's all-or-nothing shape.
type Params struct {
	Rate       uint32 // sample rate, Hz
	Channels   uint32
	PeriodSize uint32 // frames per period
	Periods    uint32 // period count (ring depth inside the kernel buffer)
}

// DefaultParams matches the rate Opus wants directly (48kHz mono),
// avoiding a resample step when the capture hardware supports it; the
// resampler in internal/audio still runs for hardware that doesn't.
func DefaultParams() Params {
	return Params{Rate: 48000, Channels: 1, PeriodSize: 960, Periods: 4}
}

// PCM is an open ALSA capture handle.
type PCM struct {
	fd         int
	path       string
	params     Params
	frameBytes uint32
	started    bool
}

// Path builds the capture-device node path for a card/device pair,
// e.g. "hw:1,0" -> "/dev/snd/pcmC1D0c".
func Path(card, device int) string {
	return fmt.Sprintf("/dev/snd/pcmC%dD%dc", card, device)
}

// Open opens the PCM capture node and negotiates hw/sw params. On
// success the handle is in SETUP state; call Start before Read.
func Open(path string, p Params) (*PCM, error) {
	fd, err := unix.Open(path, unix.O_RDONLY, 0)
	if err != nil {
		if errors.Is(err, unix.ENOENT) {
			return nil, fmt.Errorf("%w: %s", ErrNoDevice, path)
		}
		return nil, fmt.Errorf("alsapcm: open %s: %w", path, err)
	}

	pcm := &PCM{fd: fd, path: path, params: p, frameBytes: 2 * p.Channels}

	hw := newHwParams()
	hw.setAccessRWInterleaved()
	hw.setFormatS16LE()
	hw.setSubformatStd()
	hw.setChannels(p.Channels)
	hw.setRate(p.Rate)
	hw.setPeriodSize(p.PeriodSize)
	hw.setPeriods(p.Periods)
	if err := ioctl(fd, pcmIoctlHwParams, unsafe.Pointer(hw)); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("alsapcm: set hw params on %s: %w", path, err)
	}
	pcm.params.PeriodSize = hw.periodSizeFrames()

	sw := &alsaSwParams{
		StartThreshold: uint64(pcm.params.PeriodSize),
		StopThreshold:  uint64(pcm.params.PeriodSize) * uint64(p.Periods),
		AvailMin:       uint64(pcm.params.PeriodSize),
	}
	if err := ioctl(fd, pcmIoctlSwParams, unsafe.Pointer(sw)); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("alsapcm: set sw params on %s: %w", path, err)
	}

	if err := ioctl(fd, pcmIoctlPrepare, nil); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("alsapcm: prepare %s: %w", path, err)
	}
	return pcm, nil
}

// Params reports the negotiated format (PeriodSize may differ from
// what was requested if the kernel rounded it).
func (p *PCM) Params() Params { return p.params }

// Rate, Channels, and PeriodFrames satisfy internal/audio's pcmSource
// interface without that package needing to import alsapcm.Params.
func (p *PCM) Rate() uint32         { return p.params.Rate }
func (p *PCM) Channels() uint32     { return p.params.Channels }
func (p *PCM) PeriodFrames() uint32 { return p.params.PeriodSize }

// Start arms the stream so Read begins returning captured frames.
func (p *PCM) Start() error {
	if p.started {
		return nil
	}
	if err := ioctl(p.fd, pcmIoctlStart, nil); err != nil {
		return fmt.Errorf("alsapcm: start %s: %w", p.path, err)
	}
	p.started = true
	return nil
}

// Read blocks for exactly one period and returns interleaved S16_LE
// samples (len(out) must equal PeriodSize*Channels). An EPIPE (xrun)
// is recovered transparently by the caller via Recover; Read itself
// returns the raw ioctl error so the capture loop can distinguish
// xrun from a fatal device loss.
func (p *PCM) Read(out []int16) error {
	xfer := alsaXferi{
		Buf:    unsafe.Pointer(&out[0]),
		Frames: uint64(len(out)) / uint64(p.params.Channels),
	}
	return ioctl(p.fd, pcmIoctlReadiFrames, unsafe.Pointer(&xfer))
}

// Recover clears an xrun (buffer under-run) by re-preparing and
// restarting the stream, matching the minimal recovery alsa-lib's
// snd_pcm_recover performs for EPIPE.
func (p *PCM) Recover() error {
	if err := ioctl(p.fd, pcmIoctlPrepare, nil); err != nil {
		return fmt.Errorf("alsapcm: recover-prepare %s: %w", p.path, err)
	}
	p.started = false
	return p.Start()
}

// State returns the kernel's current PCM state (one of the
// pcmState* constants) — used by internal/diagnostics to tell a
// stalled stream apart from one that was simply never started.
func (p *PCM) State() (int32, error) {
	var st alsaPCMStatus
	if err := ioctl(p.fd, pcmIoctlStatus, unsafe.Pointer(&st)); err != nil {
		return 0, fmt.Errorf("alsapcm: status %s: %w", p.path, err)
	}
	return st.State, nil
}

// Close drops any pending capture and releases the fd.
func (p *PCM) Close() error {
	_ = ioctl(p.fd, pcmIoctlDrop, nil)
	if err := unix.Close(p.fd); err != nil {
		return fmt.Errorf("alsapcm: close %s: %w", p.path, err)
	}
	return nil
}

// Probe opens the node, negotiates params, and closes again without
// ever starting or reading — verifying the device accepts the target
// format with no side effect on its state.
func Probe(path string, p Params) error {
	pcm, err := Open(path, p)
	if err != nil {
		return err
	}
	return pcm.Close()
}
