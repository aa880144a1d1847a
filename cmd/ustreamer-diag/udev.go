package main

import (
	"flag"
	"fmt"

	"github.com/pikvm/ustreamer-go/internal/udev"
)

// runUdevMap writes a persistent /dev/snd/by-usb-port/* symlink rule
// for one USB audio card, the same port-stable mapping GetUSBPhysicalPort
// resolves against at runtime (C9). Bus/dev numbers come from
// `lsusb` or /sys/bus/usb/devices/*/busnum,devnum for the target card.
func runUdevMap(args []string) error {
	fs := flag.NewFlagSet("udev-map", flag.ExitOnError)
	portPath := fs.String("port", "", "USB physical port path, e.g. 1-1.4")
	busNum := fs.Int("bus", 0, "USB bus number")
	devNum := fs.Int("dev", 0, "USB device number")
	product := fs.String("product", "", "device product name (informational)")
	serial := fs.String("serial", "", "device serial number (informational)")
	path := fs.String("rules-path", udev.RulesFilePath, "rules file destination")
	reload := fs.Bool("reload", true, "reload udev rules via udevadm after writing")
	dryRun := fs.Bool("dry-run", false, "print the generated rule without writing it")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *portPath == "" || *busNum == 0 || *devNum == 0 {
		return fmt.Errorf("--port, --bus, and --dev are all required")
	}

	dev := &udev.DeviceInfo{
		PortPath: *portPath,
		BusNum:   *busNum,
		DevNum:   *devNum,
		Product:  *product,
		Serial:   *serial,
	}

	if *dryRun {
		rule, err := udev.GenerateRuleWithValidation(dev.PortPath, dev.BusNum, dev.DevNum)
		if err != nil {
			return err
		}
		fmt.Println(rule)
		return nil
	}

	if err := udev.WriteRulesFileToPath([]*udev.DeviceInfo{dev}, *path, *reload); err != nil {
		return fmt.Errorf("write rules file: %w", err)
	}
	fmt.Printf("wrote %s (reload=%v)\n", *path, *reload)
	return nil
}
