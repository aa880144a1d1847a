// SPDX-License-Identifier: MIT

// Package alsapcm implements minimal ALSA PCM capture over raw ioctl
// calls against /dev/snd/pcmC{card}D{device}c, the same level the
// kernel's uapi presents below alsa-lib.
//
// There is no ALSA example in the retrieval pack; the ioctl-encoding
// idiom is the one already used for V4L2 (go4vl) and DRM
// (internal/drmout) — the generic Linux _IOC layout is identical
// across ioctl families, only the type byte differs ('A' for sound).
// hw_params negotiation here sets exact single values rather than
// alsa-lib's full mask/interval refinement protocol: the stream's
// required rate/format/channels are known up front (the config named
// them), so there is nothing to negotiate down from.
package alsapcm

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

const alsaIoctlBase = 'A'

const (
	iocNone  = 0
	iocWrite = 1
	iocRead  = 2
)

func iocEnc(dir, nr, size uintptr) uintptr {
	const (
		nrBits   = 8
		typeBits = 8
		sizeBits = 14
		dirShift = nrBits + typeBits + sizeBits
	)
	return (dir << dirShift) | (uintptr(alsaIoctlBase) << nrBits) | (nr << 0) | (size << (nrBits + typeBits))
}

func iowr(nr uintptr, size uintptr) uintptr {
	return iocEnc(iocWrite|iocRead, nr, size)
}

func iow(nr uintptr, size uintptr) uintptr {
	return iocEnc(iocWrite, nr, size)
}

func ior(nr uintptr, size uintptr) uintptr {
	return iocEnc(iocRead, nr, size)
}

func io(nr uintptr) uintptr {
	return iocEnc(iocNone, nr, 0)
}

var (
	pcmIoctlHwParams = iowr(0x11, unsafe.Sizeof(alsaHwParams{}))
	pcmIoctlSwParams = iowr(0x13, unsafe.Sizeof(alsaSwParams{}))
	pcmIoctlPrepare  = io(0x40)
	pcmIoctlReset    = io(0x41)
	pcmIoctlStart    = io(0x42)
	pcmIoctlDrop     = io(0x43)
	pcmIoctlDrain    = io(0x44)
	pcmIoctlReadiFrames = ior(0x51, unsafe.Sizeof(alsaXferi{}))
	pcmIoctlStatus   = ior(0x20, unsafe.Sizeof(alsaPCMStatus{}))
)

// ALSA format enum values (subset — S16_LE is the only one the stream
// pipeline needs, kept distinct anyway for format-mask clarity).
const (
	formatS16LE uint32 = 2
)

const (
	accessRWInterleaved uint32 = 3
	subformatStd        uint32 = 0
)

// snd_mask: a 256-bit set, one bit per enum value.
type alsaMask struct {
	Bits [8]uint32
}

func (m *alsaMask) setBit(bit uint32) {
	m.Bits[bit>>5] = 1 << (bit & 31)
}

// snd_interval: a closed numeric range plus refinement flags. Setting
// Min==Max and Integer pins it to one exact value, which is all this
// package ever needs.
type alsaInterval struct {
	Min, Max uint32
	Flags    uint32 // bit0 openmin, bit1 openmax, bit2 integer, bit3 empty
}

const intervalIntegerFlag = 1 << 2

func exactInterval(v uint32) alsaInterval {
	return alsaInterval{Min: v, Max: v, Flags: intervalIntegerFlag}
}

// Mask/interval parameter indices, per <sound/asound.h>.
const (
	hwParamAccess    = 0
	hwParamFormat    = 1
	hwParamSubformat = 2

	hwParamSampleBits  = 0
	hwParamFrameBits   = 1
	hwParamChannels    = 2
	hwParamRate        = 3
	hwParamPeriodTime  = 4
	hwParamPeriodSize  = 5
	hwParamPeriodBytes = 6
	hwParamPeriods     = 7
	hwParamBufferTime  = 8
	hwParamBufferSize  = 9
	hwParamBufferBytes = 10
	hwParamTickTime    = 11
)

// alsaHwParams mirrors struct snd_pcm_hw_params. Field order and sizes
// match the kernel uapi layout; Go's array-of-fixed-size-struct layout
// needs no extra padding here since every element is a multiple of 4
// bytes wide.
type alsaHwParams struct {
	Flags     uint32
	Masks     [3]alsaMask
	MRes      [5]alsaMask
	Intervals [12]alsaInterval
	IRes      [9]alsaInterval
	RMask     uint32
	CMask     uint32
	Info      uint32
	Msbits    uint32
	RateNum   uint32
	RateDen   uint32
	FifoSize  uint64
	Reserved  [64]byte
}

func newHwParams() *alsaHwParams {
	p := &alsaHwParams{}
	// Start from "anything goes" (all bits set) then narrow to exact
	// values below, matching alsa-lib's _snd_pcm_hw_params_any default.
	for i := range p.Masks {
		for j := range p.Masks[i].Bits {
			p.Masks[i].Bits[j] = 0xffffffff
		}
	}
	for i := range p.Intervals {
		p.Intervals[i] = alsaInterval{Min: 0, Max: 0xffffffff}
	}
	return p
}

func (p *alsaHwParams) setAccessRWInterleaved() {
	p.Masks[hwParamAccess] = alsaMask{}
	p.Masks[hwParamAccess].setBit(accessRWInterleaved)
}

func (p *alsaHwParams) setFormatS16LE() {
	p.Masks[hwParamFormat] = alsaMask{}
	p.Masks[hwParamFormat].setBit(formatS16LE)
}

func (p *alsaHwParams) setSubformatStd() {
	p.Masks[hwParamSubformat] = alsaMask{}
	p.Masks[hwParamSubformat].setBit(subformatStd)
}

func (p *alsaHwParams) setChannels(n uint32) {
	p.Intervals[hwParamChannels] = exactInterval(n)
}

func (p *alsaHwParams) setRate(hz uint32) {
	p.Intervals[hwParamRate] = exactInterval(hz)
}

func (p *alsaHwParams) setPeriodSize(frames uint32) {
	p.Intervals[hwParamPeriodSize] = exactInterval(frames)
}

func (p *alsaHwParams) setPeriods(n uint32) {
	p.Intervals[hwParamPeriods] = exactInterval(n)
}

// periodSizeFrames reads back the frames-per-period the kernel
// settled on after HW_PARAMS (it should equal what we asked for since
// every interval was pinned exact, but reading it back keeps the
// capture loop honest about buffer sizing).
func (p *alsaHwParams) periodSizeFrames() uint32 {
	return p.Intervals[hwParamPeriodSize].Min
}

// alsaSwParams mirrors struct snd_pcm_sw_params, trimmed to the fields
// this package actually sets (the rest the kernel defaults sanely).
type alsaSwParams struct {
	TstampMode      uint32
	PeriodStep      uint32
	SleepMin        uint32
	_               uint32 // alignment pad to the uframes_t fields below
	AvailMin        uint64
	XferAlignNoOp   uint64
	StartThreshold  uint64
	StopThreshold   uint64
	SilenceThreshold uint64
	SilenceSize     uint64
	Boundary        uint64
	ProcessAvail    [2]uint64 // reserved
	Reserved        [56]byte
}

// alsaXferi mirrors struct snd_xferi, the READI_FRAMES argument.
type alsaXferi struct {
	Result uintptr
	Buf    unsafe.Pointer
	Frames uint64
}

// alsaPCMStatus mirrors the leading, stable fields of struct
// snd_pcm_status; only State is read by this package.
type alsaPCMStatus struct {
	State    int32
	_        int32
	TriggerTimestampSec  int64
	TriggerTimestampNsec int64
	TimestampSec         int64
	TimestampNsec        int64
	AppPtr   uint64
	HwPtr    uint64
}

const (
	pcmStateOpen     = 0
	pcmStateSetup    = 1
	pcmStatePrepared = 2
	pcmStateRunning  = 3
	pcmStateXRun     = 4
)

func ioctl(fd int, req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
	if errno != 0 {
		return fmt.Errorf("alsapcm: ioctl 0x%x: %w", req, errno)
	}
	return nil
}
