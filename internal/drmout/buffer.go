// SPDX-License-Identifier: MIT

package drmout

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// buffer is one scanout framebuffer: either a CPU-mapped dumb buffer
// (stub mode) or a DMA-BUF imported from the capture device (live mode).
// It holds no vsync state; the hasVsync/exposingDMAFd flags live on the
// Engine and are cleared by Engine.handleEvent on a flip-complete event.
type buffer struct {
	id          uint32
	handle      uint32
	data        []byte
	dumbCreated bool
	fbAdded     bool
}

func createDumbBuffer(fd int, width, height uint16) (*buffer, error) {
	create := drmModeCreateDumb{
		Height: uint32(height),
		Width:  uint32(width),
		BPP:    24,
	}
	if err := ioctl(fd, ioctlModeCreateDumb, unsafe.Pointer(&create)); err != nil {
		return nil, fmt.Errorf("drmout: create dumb buffer: %w", err)
	}
	buf := &buffer{handle: create.Handle, dumbCreated: true}

	mapReq := drmModeMapDumb{Handle: create.Handle}
	if err := ioctl(fd, ioctlModeMapDumb, unsafe.Pointer(&mapReq)); err != nil {
		return nil, fmt.Errorf("drmout: map dumb buffer: %w", err)
	}
	data, err := unix.Mmap(fd, int64(mapReq.Offset), int(create.Size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("drmout: mmap dumb buffer: %w", err)
	}
	buf.data = data

	if err := addFB2(fd, width, height, create.Handle, create.Pitch, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func importDMABuffer(fd int, dmaFD int, width, height uint16, stride uint32) (*buffer, error) {
	prime := drmPrimeHandle{FD: int32(dmaFD)}
	if err := ioctl(fd, ioctlPrimeFDToHandle, unsafe.Pointer(&prime)); err != nil {
		return nil, fmt.Errorf("drmout: prime fd_to_handle: %w", err)
	}
	buf := &buffer{handle: prime.Handle}
	if err := addFB2(fd, width, height, prime.Handle, stride, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func addFB2(fd int, width, height uint16, handle, pitch uint32, buf *buffer) error {
	cmd := drmModeFBCmd2{
		Width:       uint32(width),
		Height:      uint32(height),
		PixelFormat: drmFormatRGB888,
	}
	cmd.Handles[0] = handle
	cmd.Pitches[0] = pitch
	if err := ioctl(fd, ioctlModeAddFB2, unsafe.Pointer(&cmd)); err != nil {
		return fmt.Errorf("drmout: addfb2: %w", err)
	}
	buf.id = cmd.FBID
	buf.fbAdded = true
	return nil
}

// destroy tears buf down: removes its framebuffer, destroys the dumb
// handle (skipped for imported buffers, which only ever hold a PRIME
// handle owned by the capture device), and unmaps any CPU mapping.
// Errors are accumulated but every step still runs — teardown is
// best-effort, matching the stream loop's own close semantics.
func (b *buffer) destroy(fd int) error {
	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if b.fbAdded {
		record(ioctl(fd, ioctlModeRmFB, unsafe.Pointer(&b.id)))
	}
	if b.dumbCreated {
		destroy := drmModeDestroyDumb{Handle: b.handle}
		record(ioctl(fd, ioctlModeDestroyDumb, unsafe.Pointer(&destroy)))
	}
	if b.data != nil {
		record(unix.Munmap(b.data))
		b.data = nil
	}
	return firstErr
}
