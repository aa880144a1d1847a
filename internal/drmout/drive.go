// SPDX-License-Identifier: MIT

package drmout

import (
	"context"
	"errors"
	"log/slog"

	"github.com/pikvm/ustreamer-go/internal/device"
)

// Drive runs the DRM output as its own capture client (§2: "Independent:
// stream loop (or a dedicated client) → DRM output"): it opens dev for
// live DMA scanout, then loops grab → ExposeDMA → WaitForVsync → release
// until ctx is cancelled or the connector reports Unplugged. A grab
// error or an unplug tears the engine down and returns; the caller
// (cmd/ustreamer's drmService) re-invokes Drive to retry, the same
// outer-retry shape internal/stream.Loop's Run gives INIT/RUNNING.
//
// dev must already be open with dmaExport requested (the caller owns
// that lifecycle, matching stream.Loop setting dma_export before
// device_open per §4.4 INIT) so DMAFd(index) returns valid descriptors
// for initBuffers to import.
func Drive(ctx context.Context, e *Engine, dev device.Device, log *slog.Logger) error {
	if _, err := e.Open(dev); err != nil {
		return err
	}
	defer e.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		hw, err := dev.GrabBuffer()
		if err != nil {
			if errors.Is(err, device.ErrBroken) {
				continue
			}
			return err
		}

		if err := e.ExposeDMA(hw); err != nil {
			_ = dev.ReleaseBuffer(hw)
			if errors.Is(err, ErrUnplugged) {
				return err
			}
			if log != nil {
				log.Error("drm expose failed", "error", err)
			}
			continue
		}

		if err := e.WaitForVsync(); err != nil && log != nil {
			log.Error("drm wait for vsync failed", "error", err)
		}

		if err := dev.ReleaseBuffer(hw); err != nil && log != nil {
			log.Error("drm release buffer failed", "error", err)
		}
	}
}
