// SPDX-License-Identifier: MIT

package drmout

import (
	"fmt"
	"unsafe"
)

// getResources returns the connector/crtc/encoder ID arrays for fd,
// doing the standard two-pass DRM ioctl dance: the first call (zeroed
// pointers) returns counts, the second fills caller-allocated arrays.
func getResources(fd int) (connectors, crtcs, encoders []uint32, err error) {
	var res drmModeCardRes
	if err = ioctl(fd, ioctlModeGetResources, unsafe.Pointer(&res)); err != nil {
		return nil, nil, nil, fmt.Errorf("drmout: get resources (pass 1): %w", err)
	}

	connectors = make([]uint32, res.CountConnectors)
	crtcs = make([]uint32, res.CountCrtcs)
	encoders = make([]uint32, res.CountEncoders)
	if len(connectors) > 0 {
		res.ConnectorIDPtr = uint64(uintptr(unsafe.Pointer(&connectors[0])))
	}
	if len(crtcs) > 0 {
		res.CrtcIDPtr = uint64(uintptr(unsafe.Pointer(&crtcs[0])))
	}
	if len(encoders) > 0 {
		res.EncoderIDPtr = uint64(uintptr(unsafe.Pointer(&encoders[0])))
	}
	if err = ioctl(fd, ioctlModeGetResources, unsafe.Pointer(&res)); err != nil {
		return nil, nil, nil, fmt.Errorf("drmout: get resources (pass 2): %w", err)
	}
	return connectors, crtcs, encoders, nil
}

// connectorInfo is the subset of drmModeGetConnector a sink search needs.
type connectorInfo struct {
	ID         uint32
	Type       uint32
	TypeID     uint32
	Connection uint32
	Modes      []drmModeModeInfo
	Encoders   []uint32
	props      []uint32
}

func getConnector(fd int, id uint32) (*connectorInfo, error) {
	var gc drmModeGetConnector
	gc.ConnectorID = id
	if err := ioctl(fd, ioctlModeGetConnector, unsafe.Pointer(&gc)); err != nil {
		return nil, fmt.Errorf("drmout: get connector (pass 1): %w", err)
	}

	modes := make([]drmModeModeInfo, gc.CountModes)
	encoders := make([]uint32, gc.CountEncoders)
	props := make([]uint32, gc.CountProps)
	propValues := make([]uint64, gc.CountProps)
	if len(modes) > 0 {
		gc.ModesPtr = uint64(uintptr(unsafe.Pointer(&modes[0])))
	}
	if len(encoders) > 0 {
		gc.EncodersPtr = uint64(uintptr(unsafe.Pointer(&encoders[0])))
	}
	if len(props) > 0 {
		gc.PropsPtr = uint64(uintptr(unsafe.Pointer(&props[0])))
		gc.PropValuesPtr = uint64(uintptr(unsafe.Pointer(&propValues[0])))
	}
	gc.ConnectorID = id
	if err := ioctl(fd, ioctlModeGetConnector, unsafe.Pointer(&gc)); err != nil {
		return nil, fmt.Errorf("drmout: get connector (pass 2): %w", err)
	}

	return &connectorInfo{
		ID:         gc.ConnectorID,
		Type:       gc.ConnectorType,
		TypeID:     gc.ConnTypeID,
		Connection: gc.Connection,
		Modes:      modes,
		Encoders:   encoders,
		props:      props,
	}, nil
}

func getEncoder(fd int, id uint32) (*drmModeGetEncoder, error) {
	var ge drmModeGetEncoder
	ge.EncoderID = id
	if err := ioctl(fd, ioctlModeGetEncoder, unsafe.Pointer(&ge)); err != nil {
		return nil, fmt.Errorf("drmout: get encoder: %w", err)
	}
	return &ge, nil
}

// findDPMSProperty walks a connector's property IDs looking for the one
// named "DPMS", returning 0 if the connector has none.
func findDPMSProperty(fd int, conn *connectorInfo) uint32 {
	for _, propID := range conn.props {
		var gp drmModeGetProperty
		gp.PropID = propID
		if err := ioctl(fd, ioctlModeGetProperty, unsafe.Pointer(&gp)); err != nil {
			continue
		}
		name := cString(gp.Name[:])
		if name == "DPMS" {
			return propID
		}
	}
	return 0
}

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// findCrtc locates a CRTC compatible with one of the connector's
// encoders that isn't already claimed by an earlier connector in the
// same open() call (taken tracks claimed CRTC bitmask positions).
func findCrtc(fd int, crtcs []uint32, conn *connectorInfo, taken *uint32) (uint32, error) {
	for _, encID := range conn.Encoders {
		enc, err := getEncoder(fd, encID)
		if err != nil {
			continue
		}
		for ci := range crtcs {
			bit := uint32(1) << uint(ci)
			if enc.PossibleCrtcs&bit == 0 {
				continue
			}
			if *taken&bit != 0 {
				continue
			}
			*taken |= bit
			return crtcs[ci], nil
		}
	}
	return 0, fmt.Errorf("drmout: no compatible CRTC found")
}
