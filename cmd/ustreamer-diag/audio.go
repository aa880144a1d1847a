package main

import (
	"flag"
	"fmt"

	"github.com/pikvm/ustreamer-go/internal/alsapcm"
	"github.com/pikvm/ustreamer-go/internal/audio"
)

const defaultAsoundPath = "/proc/asound"

func runAudioList(args []string) error {
	fs := flag.NewFlagSet("audio-list", flag.ExitOnError)
	asoundPath := fs.String("asound-path", defaultAsoundPath, "path to /proc/asound")
	if err := fs.Parse(args); err != nil {
		return err
	}

	devices, err := audio.DetectDevices(*asoundPath)
	if err != nil {
		return fmt.Errorf("detect devices: %w", err)
	}
	if len(devices) == 0 {
		fmt.Println("no ALSA capture devices detected")
		return nil
	}

	for _, d := range devices {
		fmt.Printf("card %d: %s (usb %s) friendly=%s path=%s\n",
			d.CardNumber, d.Name, d.USBID, d.FriendlyName(), d.ALSAPath())

		caps, err := audio.DetectCapabilities(*asoundPath, d.CardNumber)
		if err != nil {
			fmt.Printf("  capabilities: unavailable (%v)\n", err)
			continue
		}
		fmt.Printf("  %s\n", caps.CapabilitiesSummary())
	}
	return nil
}

func runAudioProbe(args []string) error {
	fs := flag.NewFlagSet("audio-probe", flag.ExitOnError)
	asoundPath := fs.String("asound-path", defaultAsoundPath, "path to /proc/asound")
	device := fs.String("device", "", "configured device name (friendly name, full USB ID, or ALSA id)")
	rate := fs.Uint("rate", 48000, "sample rate, Hz")
	channels := fs.Uint("channels", 1, "channel count")
	periodSize := fs.Uint("period-size", 960, "frames per period")
	periods := fs.Uint("periods", 4, "period count")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *device == "" {
		return fmt.Errorf("--device is required")
	}

	params := alsapcm.Params{
		Rate:       uint32(*rate),
		Channels:   uint32(*channels),
		PeriodSize: uint32(*periodSize),
		Periods:    uint32(*periods),
	}

	if err := audio.Probe(*asoundPath, *device, params); err != nil {
		return fmt.Errorf("probe %q: %w", *device, err)
	}
	fmt.Printf("%s: capture params negotiated OK (%d Hz, %d ch, period %d x%d)\n",
		*device, params.Rate, params.Channels, params.PeriodSize, params.Periods)
	return nil
}
