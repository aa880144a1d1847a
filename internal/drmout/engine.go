// SPDX-License-Identifier: MIT

package drmout

import (
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unsafe"

	"github.com/pikvm/ustreamer-go/internal/device"
	"github.com/pikvm/ustreamer-go/internal/frame"
	"github.com/pikvm/ustreamer-go/internal/frametext"
	"golang.org/x/sys/unix"
)

// StubKind selects which fixed stub text Engine.ExposeStub draws. User
// is the "no device at all" case used when the engine is driven purely
// as a standalone test pattern generator; it has no dedicated message
// and falls back to the generic placeholder, matching the reference
// implementation's own unhandled-case behavior.
type StubKind int

const (
	StubUser StubKind = iota
	StubBadResolution
	StubBadFormat
	StubNoSignal
	StubBusy
)

func stubMessage(kind StubKind, width, height uint, hz float64) string {
	switch kind {
	case StubBadResolution:
		return frametext.Message(frametext.KindBadResolution, width, height, hz)
	case StubBadFormat:
		return frametext.Message(frametext.KindBadFormat, 0, 0, 0)
	case StubNoSignal:
		return frametext.Message(frametext.KindNoSignal, 0, 0, 0)
	case StubBusy:
		return frametext.Message(frametext.KindBusy, 0, 0, 0)
	default:
		return "=== PiKVM ===\n \n< ??? >"
	}
}

// ErrUnplugged is returned by Open/WaitForVsync/ExposeStub/ExposeDMA
// when the connector's sysfs status reports "disconnected".
var ErrUnplugged = errUnplugged

// Config names the connector and access-timeout knobs (§6).
type Config struct {
	Path    string        // DRM device node, e.g. /dev/dri/card0
	Port    string        // connector port name, e.g. HDMI-A-1
	Timeout time.Duration // vsync select() timeout
}

// DefaultConfig matches the defaults the reference engine ships with.
func DefaultConfig() Config {
	return Config{Path: "/dev/dri/by-path/platform-gpu-card", Port: "HDMI-A-1", Timeout: 5 * time.Second}
}

// Engine is the DRM/KMS output runtime: one open DRM fd driving one
// CRTC/connector pair, a ring of scanout buffers (stub dumb buffers or
// DMA imports), and the has_vsync/exposing_dma_fd flags that gate
// page-flip pacing (IP-4/IP-5).
type Engine struct {
	cfg    Config
	log    *slog.Logger
	status *statusChecker

	fd       int
	crtcID   uint32
	connID   uint32
	dpmsID   uint32
	mode     drmModeModeInfo
	bufs     []*buffer
	savedCrtc *drmModeCrtc

	dpmsState         int // -1 unknown, 0 off, 1 on
	openedForStub     bool
	hasVsync          bool
	exposingDMAFd     int
	stubNBuf          uint
	unpluggedReported bool
}

// New builds an unopened Engine.
func New(cfg Config, log *slog.Logger) *Engine {
	return &Engine{
		cfg:           cfg,
		log:           log,
		status:        newStatusChecker(cfg.Path, cfg.Port),
		fd:            -1,
		dpmsState:     -1,
		hasVsync:      true,
		exposingDMAFd: -1,
	}
}

// checkStatus reports the connector status, collapsing the "logged
// exactly once per unplug episode" behavior from IP-6 into the
// unpluggedReported flag (cleared again by a successful re-Open).
func (e *Engine) checkStatus() error {
	err := e.status.check()
	if err == nil {
		return nil
	}
	if errors.Is(err, errUnplugged) {
		if !e.unpluggedReported {
			if e.log != nil {
				e.log.Error("display is not plugged", "port", e.cfg.Port)
			}
			e.unpluggedReported = true
		}
		return ErrUnplugged
	}
	return err
}

// Open configures the DRM device for either stub output (dev == nil) or
// live DMA-imported output (dev != nil, already open with dma_export
// set), returning the StubKind actually used — which may not be the one
// requested, e.g. a live dev whose format isn't RGB24 forces StubBadFormat.
func (e *Engine) Open(dev device.Device) (StubKind, error) {
	if e.fd >= 0 {
		return 0, fmt.Errorf("drmout: already open")
	}

	if err := e.checkStatus(); err != nil {
		return 0, err
	}

	fd, err := unix.Open(e.cfg.Path, unix.O_RDWR|unix.O_CLOEXEC|unix.O_NONBLOCK, 0)
	if err != nil {
		return 0, fmt.Errorf("drmout: open %s: %w", e.cfg.Path, err)
	}
	e.fd = fd

	stub := StubUser
	liveDev := dev
	if dev != nil {
		if dev.Format() != frame.FormatRGB24 {
			stub = StubBadFormat
			liveDev = nil
		}
	}

	if err := e.checkCap(drmCapDumbBuffer); err != nil {
		e.Close()
		return 0, err
	}
	if liveDev != nil {
		if err := e.checkCap(drmCapPrime); err != nil {
			e.Close()
			return 0, err
		}
	}

	width, height, hz := uint32(0), uint32(0), 0.0
	if liveDev != nil {
		width, height, hz = uint32(liveDev.Width()), uint32(liveDev.Height()), liveDev.Hz()
	}
	if err := e.findSink(width, height, hz); err != nil {
		e.Close()
		return 0, err
	}
	if liveDev != nil && (width != uint32(e.mode.HDisplay) || height < uint32(e.mode.VDisplay)) {
		stub = StubBadResolution
		liveDev = nil
	}

	if err := e.initBuffers(liveDev); err != nil {
		e.Close()
		return 0, err
	}

	var getCrtc drmModeCrtc
	getCrtc.CrtcID = e.crtcID
	if err := ioctl(e.fd, ioctlModeGetCrtc, unsafe.Pointer(&getCrtc)); err == nil {
		saved := getCrtc
		e.savedCrtc = &saved
	}

	setCrtc := drmModeCrtc{
		CrtcID:          e.crtcID,
		FBID:            e.bufs[0].id,
		Mode:            e.mode,
		ModeValid:       1,
		CountConnectors: 1,
	}
	connIDs := [1]uint32{e.connID}
	setCrtc.SetConnectorsPtr = uint64(uintptr(unsafe.Pointer(&connIDs[0])))
	if err := ioctl(e.fd, ioctlModeSetCrtc, unsafe.Pointer(&setCrtc)); err != nil {
		e.Close()
		return 0, fmt.Errorf("drmout: set crtc: %w", err)
	}

	e.openedForStub = liveDev == nil
	e.exposingDMAFd = -1
	e.unpluggedReported = false
	return stub, nil
}

func (e *Engine) checkCap(capability uint64) error {
	var gc drmGetCap
	gc.Capability = capability
	if err := ioctl(e.fd, ioctlGetCap, unsafe.Pointer(&gc)); err != nil {
		return fmt.Errorf("drmout: get_cap(%d): %w", capability, err)
	}
	if gc.Value == 0 {
		return fmt.Errorf("drmout: capability %d not supported", capability)
	}
	return nil
}

func (e *Engine) findSink(width, height uint32, hz float64) error {
	connectors, crtcs, _, err := getResources(e.fd)
	if err != nil {
		return err
	}
	if len(connectors) == 0 {
		return fmt.Errorf("drmout: no connectors")
	}

	for _, cid := range connectors {
		conn, err := getConnector(e.fd, cid)
		if err != nil {
			return err
		}
		if connectorPortName(conn.Type, conn.TypeID) != e.cfg.Port {
			continue
		}
		if conn.Connection != drmModeConnected {
			return ErrUnplugged
		}

		best := findBestMode(conn.Modes, width, height, hz)
		if best == nil {
			return ErrUnplugged
		}

		e.dpmsID = findDPMSProperty(e.fd, conn)

		var taken uint32
		crtcID, err := findCrtc(e.fd, crtcs, conn, &taken)
		if err != nil {
			return fmt.Errorf("drmout: %w", err)
		}

		e.crtcID = crtcID
		e.connID = conn.ID
		e.mode = *best
		return nil
	}
	return fmt.Errorf("drmout: connector %s not found", e.cfg.Port)
}

// initBuffers builds the scanout buffer ring: four dumb buffers for
// stub output, or one DMA import per HW buffer index (using the
// device's static dma_fd table) for live output.
func (e *Engine) initBuffers(liveDev device.Device) error {
	if liveDev == nil {
		e.bufs = make([]*buffer, 0, 4)
		for i := 0; i < 4; i++ {
			buf, err := createDumbBuffer(e.fd, e.mode.HDisplay, e.mode.VDisplay)
			if err != nil {
				return err
			}
			e.bufs = append(e.bufs, buf)
		}
		return nil
	}

	n := liveDev.NBufs()
	e.bufs = make([]*buffer, 0, n)
	for i := 0; i < n; i++ {
		dmaFd := liveDev.DMAFd(i)
		if dmaFd < 0 {
			return fmt.Errorf("drmout: device buffer %d has no DMA export", i)
		}
		buf, err := importDMABuffer(e.fd, dmaFd, e.mode.HDisplay, e.mode.VDisplay, uint32(liveDev.Stride()))
		if err != nil {
			return err
		}
		e.bufs = append(e.bufs, buf)
	}
	return nil
}

// Close restores the saved CRTC, destroys all buffers, and closes the
// DRM fd. Best-effort: every step is attempted even if an earlier one
// failed, errors are logged rather than propagated, matching the stream
// loop's own teardown posture.
func (e *Engine) Close() {
	if e.exposingDMAFd >= 0 {
		_ = e.WaitForVsync()
		e.exposingDMAFd = -1
	}

	if e.savedCrtc != nil && e.fd >= 0 {
		restore := *e.savedCrtc
		connIDs := [1]uint32{e.connID}
		restore.SetConnectorsPtr = uint64(uintptr(unsafe.Pointer(&connIDs[0])))
		restore.CountConnectors = 1
		restore.ModeValid = 1
		if err := ioctl(e.fd, ioctlModeSetCrtc, unsafe.Pointer(&restore)); err != nil && e.log != nil {
			e.log.Error("restore crtc failed", "error", err)
		}
		e.savedCrtc = nil
	}

	for i, buf := range e.bufs {
		if err := buf.destroy(e.fd); err != nil && e.log != nil {
			e.log.Error("destroy buffer failed", "index", i, "error", err)
		}
	}
	e.bufs = nil

	e.status.close()
	if e.fd >= 0 {
		_ = unix.Close(e.fd)
		e.fd = -1
	}

	e.crtcID = 0
	e.dpmsState = -1
	e.hasVsync = true
	e.stubNBuf = 0
}

// ensureDPMSPower sets the connector's DPMS property iff it differs from
// the last-applied state, and only when the connector exposes one.
func (e *Engine) ensureDPMSPower(on bool) {
	wantState := 0
	if on {
		wantState = 1
	}
	if e.dpmsID > 0 && e.dpmsState != wantState {
		prop := drmModeConnectorSetProperty{ConnectorID: e.connID, PropID: e.dpmsID}
		if on {
			prop.Value = drmModeDPMSOn
		} else {
			prop.Value = drmModeDPMSOff
		}
		if err := ioctl(e.fd, ioctlModeConnSetProp, unsafe.Pointer(&prop)); err != nil && e.log != nil {
			e.log.Error("set DPMS power failed (ignored)", "on", on, "error", err)
		}
	}
	e.dpmsState = wantState
}

// DPMSPowerOff idempotently turns connector power off. Returns nil both
// on success and when the display is unplugged (nothing to power off).
func (e *Engine) DPMSPowerOff() error {
	if err := e.checkStatus(); err != nil {
		if errors.Is(err, ErrUnplugged) {
			return nil
		}
		return err
	}
	e.ensureDPMSPower(false)
	return nil
}

// WaitForVsync blocks until the previously exposed page flip completes
// (has_vsync becomes true, IP-4), or returns immediately if no flip is
// outstanding.
func (e *Engine) WaitForVsync() error {
	if err := e.checkStatus(); err != nil {
		return err
	}
	e.ensureDPMSPower(true)

	if e.hasVsync {
		return nil
	}

	var rfds unix.FdSet
	rfds.Set(e.fd)
	tv := unix.NsecToTimeval(e.cfg.Timeout.Nanoseconds())
	n, err := unix.Select(e.fd+1, &rfds, nil, nil, &tv)
	if err != nil {
		return fmt.Errorf("drmout: select for vsync: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("drmout: timeout waiting for vsync")
	}

	return e.handleEvent()
}

// handleEvent reads one DRM event off the fd, clearing has_vsync and
// exposing_dma_fd on a flip-complete event (mirrors the reference
// implementation's page_flip_handler callback).
func (e *Engine) handleEvent() error {
	buf := make([]byte, 1024)
	n, err := unix.Read(e.fd, buf)
	if err != nil {
		return fmt.Errorf("drmout: read DRM event: %w", err)
	}
	off := 0
	for off+int(unsafe.Sizeof(drmEvent{})) <= n {
		ev := (*drmEvent)(unsafe.Pointer(&buf[off]))
		if ev.Type == drmEventFlipComplete {
			e.hasVsync = true
			e.exposingDMAFd = -1
		}
		if ev.Length == 0 {
			break
		}
		off += int(ev.Length)
	}
	return nil
}

// ExposeStub draws kind's stub text into the current stub buffer and
// flips to it.
func (e *Engine) ExposeStub(kind StubKind, width, height uint, hz float64) error {
	if err := e.checkStatus(); err != nil {
		return err
	}
	e.ensureDPMSPower(true)

	msg := stubMessage(kind, width, height, hz)
	img := frametext.Draw(uint(e.mode.HDisplay), uint(e.mode.VDisplay), msg)
	rgb := frametext.ToRGB24(img, uint(e.mode.HDisplay)*3)

	buf := e.bufs[e.stubNBuf]
	e.hasVsync = false
	copy(buf.data, rgb)

	if err := e.pageFlip(buf); err != nil {
		return err
	}
	e.stubNBuf = (e.stubNBuf + 1) % uint(len(e.bufs))
	return nil
}

// ExposeDMA flips to the scanout buffer imported for hw.Index.
func (e *Engine) ExposeDMA(hw *device.HWBuffer) error {
	if err := e.checkStatus(); err != nil {
		return err
	}
	e.ensureDPMSPower(true)

	buf := e.bufs[hw.Index]
	e.hasVsync = false
	if err := e.pageFlip(buf); err != nil {
		return err
	}
	e.exposingDMAFd = hw.DMAFd
	return nil
}

func (e *Engine) pageFlip(buf *buffer) error {
	flip := drmModePageFlip{
		CrtcID: e.crtcID,
		FBID:   buf.id,
		Flags:  drmModePageFlipEvent | drmModePageFlipAsync,
	}
	if err := ioctl(e.fd, ioctlModePageFlip, unsafe.Pointer(&flip)); err != nil {
		return fmt.Errorf("drmout: page flip: %w", err)
	}
	return nil
}
