// SPDX-License-Identifier: MIT

package udev

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// RulesFilePath is where persistent USB-audio-capture symlink rules are
// installed. The audio side-pipeline (§4.8) names a capture device by a
// configured name that GetUSBPhysicalPort/FindDevice resolve to a card
// number at runtime; these rules give that same physical port a
// /dev/snd/by-usb-port/* symlink named after the port. Each rule matches
// the bus/dev numbers the device had when the rules were generated, so
// a reconnect that assigns new numbers is not matched until the rules
// are generated again.
const RulesFilePath = "/etc/udev/rules.d/99-usb-soundcards.rules"

// DeviceInfo names one USB audio device's physical port and USB
// bus/device numbers, as produced by GetUSBPhysicalPort.
type DeviceInfo struct {
	PortPath string
	BusNum   int
	DevNum   int
	Product  string
	Serial   string
}

// GenerateRule formats d's udev rule using its own fields.
func (d DeviceInfo) GenerateRule() string {
	return GenerateRule(d.PortPath, d.BusNum, d.DevNum)
}

// GenerateRule formats the udev rule matching a sound card at portPath
// by its current bus/dev numbers and symlinking it under a port-stable
// path, independent of the kernel's current controlCN assignment.
func GenerateRule(portPath string, busNum, devNum int) string {
	return fmt.Sprintf(
		`SUBSYSTEM=="sound", KERNEL=="controlC[0-9]*", ATTRS{busnum}=="%d", ATTRS{devnum}=="%d", SYMLINK+="snd/by-usb-port/%s"`,
		busNum, devNum, portPath,
	)
}

// GenerateRuleWithValidation is GenerateRule with input validation,
// rejecting port paths that don't match IsValidUSBPortPath and
// non-positive bus/device numbers.
func GenerateRuleWithValidation(portPath string, busNum, devNum int) (string, error) {
	if !IsValidUSBPortPath(portPath) {
		return "", fmt.Errorf("invalid USB port path: %s", portPath)
	}
	if busNum <= 0 {
		return "", fmt.Errorf("invalid bus number: %d (must be positive)", busNum)
	}
	if devNum <= 0 {
		return "", fmt.Errorf("invalid dev number: %d (must be positive)", devNum)
	}
	return GenerateRule(portPath, busNum, devNum), nil
}

// GenerateRulesFile renders the full rules-file content: a header
// comment followed by one rule per device, one per line. Devices are
// not validated here — WriteRulesFileToPath validates before calling
// this so a bad entry never reaches disk.
func GenerateRulesFile(devices []*DeviceInfo) string {
	var b strings.Builder
	b.WriteString("# Persistent USB audio capture port mappings\n")
	b.WriteString("# Generated: " + time.Now().UTC().Format(time.RFC3339) + "\n")
	b.WriteString("# Do not edit by hand; regenerate via the diagnostics CLI's udev-map command.\n")
	for _, d := range devices {
		b.WriteString(d.GenerateRule())
		b.WriteString("\n")
	}
	return b.String()
}

// commandRunner abstracts exec.Command for testability.
type commandRunner func(name string, args ...string) ([]byte, error)

func runCommand(name string, args ...string) ([]byte, error) {
	// #nosec G204 -- name/args are fixed udevadm subcommands, not user input
	return exec.Command(name, args...).CombinedOutput()
}

// reloadUdevRulesWith reloads udev's rule database and re-triggers
// device events via runner, so newly written rules apply to already-
// connected hardware without a reboot.
func reloadUdevRulesWith(runner commandRunner) error {
	if out, err := runner("udevadm", "control", "--reload-rules"); err != nil {
		return fmt.Errorf("udevadm control --reload-rules: %w (%s)", err, strings.TrimSpace(string(out)))
	}
	if out, err := runner("udevadm", "trigger"); err != nil {
		return fmt.Errorf("udevadm trigger: %w (%s)", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// WriteRulesFileToPath validates devices, writes the rendered rules
// file to path (mode 0644), and optionally reloads udev.
func WriteRulesFileToPath(devices []*DeviceInfo, path string, reload bool) error {
	return writeRulesFileToPathWithRunner(devices, path, reload, runCommand)
}

func writeRulesFileToPathWithRunner(devices []*DeviceInfo, path string, reload bool, runner commandRunner) error {
	for i, d := range devices {
		if _, err := GenerateRuleWithValidation(d.PortPath, d.BusNum, d.DevNum); err != nil {
			return fmt.Errorf("invalid device %d: %w", i, err)
		}
	}

	content := GenerateRulesFile(devices)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil { //nolint:gosec // udev rules must be world-readable
		return fmt.Errorf("failed to write rules file: %w", err)
	}

	if reload {
		if err := reloadUdevRulesWith(runner); err != nil {
			return fmt.Errorf("failed to reload udev rules: %w", err)
		}
	}
	return nil
}

// WriteRulesFile writes devices' rules to the standard system location
// (RulesFilePath), requiring root in practice.
func WriteRulesFile(devices []*DeviceInfo, reload bool) error {
	return WriteRulesFileToPath(devices, RulesFilePath, reload)
}
