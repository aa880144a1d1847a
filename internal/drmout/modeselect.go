// SPDX-License-Identifier: MIT

package drmout

import "fmt"

// refreshRate computes a mode's vertical refresh rate in Hz using the
// exact integer-rounding formula the kernel's own modeline code uses:
// (clock*1e6/htotal + vtotal/2) / vtotal, adjusted for interlace,
// doublescan and vscan, then divided back down to Hz (the intermediate
// is computed in mHz to match the reference integer arithmetic exactly).
func refreshRate(mode *drmModeModeInfo) float64 {
	if mode.HTotal == 0 || mode.VTotal == 0 {
		return 0
	}
	mhz := (int64(mode.Clock)*1000000/int64(mode.HTotal) + int64(mode.VTotal)/2) / int64(mode.VTotal)
	if mode.Flags&drmModeFlagInterlace != 0 {
		mhz *= 2
	}
	if mode.Flags&drmModeFlagDblScan != 0 {
		mhz /= 2
	}
	if mode.VScan > 1 {
		mhz /= int64(mode.VScan)
	}
	return float64(mhz) / 1000
}

// findBestMode picks the connector mode to drive, in priority order:
// exact WxH with exact Hz; any exact WxH; a same-width smaller-height
// mode (for sources taller than the display can show); the connector's
// preferred mode; finally its first mode. Interlaced modes are always
// discarded. Returns nil if the connector has no modes at all.
func findBestMode(modes []drmModeModeInfo, width, height uint32, hz float64) *drmModeModeInfo {
	var best, closest, pref *drmModeModeInfo

	for i := range modes {
		mode := &modes[i]
		if mode.Flags&drmModeFlagInterlace != 0 {
			continue
		}
		modeHz := refreshRate(mode)
		if uint32(mode.HDisplay) == width && uint32(mode.VDisplay) == height {
			best = mode
			if hz > 0 && modeHz == hz {
				break
			}
		}
		if uint32(mode.HDisplay) == width && uint32(mode.VDisplay) < height {
			if closest == nil || refreshRate(closest) != hz {
				closest = mode
			}
		}
		if pref == nil && mode.Type&drmModeTypePreferred != 0 {
			pref = mode
		}
	}

	if best == nil {
		best = closest
	}
	if best == nil {
		best = pref
	}
	if best == nil && len(modes) > 0 {
		best = &modes[0]
	}
	return best
}

// connectorTypeName renders a DRM connector type constant the way the
// port-naming convention expects it (e.g. connector_type=11 -> "HDMI-A"),
// matching drm_mode.h's DRM_MODE_CONNECTOR_* constants.
func connectorTypeName(t uint32) string {
	switch t {
	case 1:
		return "VGA"
	case 2:
		return "DVI-I"
	case 3:
		return "DVI-D"
	case 4:
		return "DVI-A"
	case 5:
		return "Composite"
	case 6:
		return "SVIDEO"
	case 7:
		return "LVDS"
	case 8:
		return "Component"
	case 9:
		return "DIN"
	case 10:
		return "DP"
	case 11:
		return "HDMI-A"
	case 12:
		return "HDMI-B"
	case 13:
		return "TV"
	case 14:
		return "eDP"
	case 15:
		return "Virtual"
	case 16:
		return "DSI"
	case 17:
		return "DPI"
	case 18:
		return "Writeback"
	case 19:
		return "SPI"
	case 20:
		return "USB"
	default:
		return "Unknown"
	}
}

func connectorPortName(t, typeID uint32) string {
	return fmt.Sprintf("%s-%d", connectorTypeName(t), typeID)
}
