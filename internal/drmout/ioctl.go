// SPDX-License-Identifier: MIT

// Package drmout implements the DRM/KMS direct-render output engine
// (C8): connector status supervision, mode selection, dumb and
// DMA-imported framebuffer lifecycle, page-flip/vsync, and DPMS power
// control. There is no maintained Go DRM/KMS binding at the fidelity
// this needs (PRIME import, page-flip event parsing, dumb-buffer mmap),
// so ioctl requests are hand-encoded over golang.org/x/sys/unix, the
// same idiom used for V4L2 ioctls elsewhere in this codebase's sibling
// packages.
package drmout

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

const drmIoctlBase = 'd'

const (
	iocNoneDir  = 0
	iocWriteDir = 1
	iocReadDir  = 2

	iocNumberBits = 8
	iocTypeBits   = 8
	iocSizeBits   = 14

	iocNumberPos = 0
	iocTypePos   = iocNumberPos + iocNumberBits
	iocSizePos   = iocTypePos + iocTypeBits
	iocDirPos    = iocSizePos + iocSizeBits
)

func iocEnc(dir, typ, nr, size uintptr) uintptr {
	return (dir << iocDirPos) | (typ << iocTypePos) | (nr << iocNumberPos) | (size << iocSizePos)
}

func iowr(nr, size uintptr) uintptr {
	return iocEnc(iocReadDir|iocWriteDir, drmIoctlBase, nr, size)
}

// DRM mode-object ioctl command numbers (linux/drm.h / drm_mode.h).
var (
	ioctlGetCap             = iowr(0x0c, unsafe.Sizeof(drmGetCap{}))
	ioctlModeGetResources   = iowr(0xA0, unsafe.Sizeof(drmModeCardRes{}))
	ioctlModeGetCrtc        = iowr(0xA1, unsafe.Sizeof(drmModeCrtc{}))
	ioctlModeSetCrtc        = iowr(0xA2, unsafe.Sizeof(drmModeCrtc{}))
	ioctlModeGetEncoder     = iowr(0xA6, unsafe.Sizeof(drmModeGetEncoder{}))
	ioctlModeGetConnector   = iowr(0xA7, unsafe.Sizeof(drmModeGetConnector{}))
	ioctlModeGetProperty    = iowr(0xAA, unsafe.Sizeof(drmModeGetProperty{}))
	ioctlModeConnSetProp    = iowr(0xAC, unsafe.Sizeof(drmModeConnectorSetProperty{}))
	ioctlModeRmFB           = iowr(0xAF, unsafe.Sizeof(uint32(0)))
	ioctlModePageFlip       = iowr(0xB0, unsafe.Sizeof(drmModePageFlip{}))
	ioctlModeCreateDumb     = iowr(0xB2, unsafe.Sizeof(drmModeCreateDumb{}))
	ioctlModeMapDumb        = iowr(0xB3, unsafe.Sizeof(drmModeMapDumb{}))
	ioctlModeDestroyDumb    = iowr(0xB4, unsafe.Sizeof(drmModeDestroyDumb{}))
	ioctlModeAddFB2         = iowr(0xB8, unsafe.Sizeof(drmModeFBCmd2{}))
	ioctlPrimeFDToHandle    = iowr(0x2e, unsafe.Sizeof(drmPrimeHandle{}))
)

const (
	drmCapDumbBuffer = 0x1
	drmCapPrime      = 0x5
	drmPrimeCapImport = 0x2

	drmModeConnected    = 1
	drmModeFlagInterlace = 1 << 4
	drmModeFlagDblScan   = 1 << 5
	drmModeTypePreferred = 1 << 3

	drmModePageFlipEvent = 0x01
	drmModePageFlipAsync = 0x02

	drmFormatRGB888 = 0x34324752 // 'RG24' little-endian fourcc, matches DRM_FORMAT_RGB888

	drmModeDPMSOff = 3
	drmModeDPMSOn  = 0
)

type drmGetCap struct {
	Capability uint64
	Value      uint64
}

type drmModeCardRes struct {
	FBIDPtr         uint64
	CrtcIDPtr       uint64
	ConnectorIDPtr  uint64
	EncoderIDPtr    uint64
	CountFBs        uint32
	CountCrtcs      uint32
	CountConnectors uint32
	CountEncoders   uint32
	MinWidth        uint32
	MaxWidth        uint32
	MinHeight       uint32
	MaxHeight       uint32
}

// drmModeModeInfo mirrors struct drm_mode_modeinfo exactly (32-byte name).
type drmModeModeInfo struct {
	Clock      uint32
	HDisplay   uint16
	HSyncStart uint16
	HSyncEnd   uint16
	HTotal     uint16
	HSkew      uint16
	VDisplay   uint16
	VSyncStart uint16
	VSyncEnd   uint16
	VTotal     uint16
	VScan      uint16
	VRefresh   uint32
	Flags      uint32
	Type       uint32
	Name       [32]byte
}

type drmModeGetConnector struct {
	EncodersPtr    uint64
	ModesPtr       uint64
	PropsPtr       uint64
	PropValuesPtr  uint64
	CountModes     uint32
	CountProps     uint32
	CountEncoders  uint32
	EncoderID      uint32
	ConnectorID    uint32
	ConnectorType  uint32
	ConnTypeID     uint32
	Connection     uint32
	MMWidth        uint32
	MMHeight       uint32
	Subpixel       uint32
	Pad            uint32
}

type drmModeGetEncoder struct {
	EncoderID      uint32
	EncoderType    uint32
	CrtcID         uint32
	PossibleCrtcs  uint32
	PossibleClones uint32
}

type drmModeCrtc struct {
	SetConnectorsPtr uint64
	CountConnectors  uint32
	CrtcID           uint32
	FBID             uint32
	X                uint32
	Y                uint32
	GammaSize        uint32
	ModeValid        uint32
	Mode             drmModeModeInfo
}

type drmModeCreateDumb struct {
	Height uint32
	Width  uint32
	BPP    uint32
	Flags  uint32
	Handle uint32
	Pitch  uint32
	Size   uint64
}

type drmModeMapDumb struct {
	Handle uint32
	Pad    uint32
	Offset uint64
}

type drmModeDestroyDumb struct {
	Handle uint32
}

type drmModeFBCmd2 struct {
	FBID        uint32
	Width       uint32
	Height      uint32
	PixelFormat uint32
	Flags       uint32
	Handles     [4]uint32
	Pitches     [4]uint32
	Offsets     [4]uint32
	Modifier    [4]uint64
}

type drmModePageFlip struct {
	CrtcID   uint32
	FBID     uint32
	Flags    uint32
	Reserved uint32
	UserData uint64
}

type drmModeGetProperty struct {
	ValuesPtr     uint64
	EnumBlobPtr   uint64
	PropID        uint32
	Flags         uint32
	Name          [32]byte
	CountValues   uint32
	CountEnumBlobs uint32
}

type drmModeConnectorSetProperty struct {
	Value       uint64
	PropID      uint32
	ConnectorID uint32
}

type drmPrimeHandle struct {
	Handle uint32
	Flags  uint32
	FD     int32
}

// drmEvent/drmEventVBlank mirror struct drm_event / drm_event_vblank, read
// off the DRM fd after select() reports it readable (page-flip completion).
type drmEvent struct {
	Type   uint32
	Length uint32
}

type drmEventVBlank struct {
	Base     drmEvent
	UserData uint64
	TVSec    uint32
	TVUsec   uint32
	Sequence uint32
	CrtcID   uint32
}

const drmEventFlipComplete = 0x01

func ioctl(fd int, req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}
