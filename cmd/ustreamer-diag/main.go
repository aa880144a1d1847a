// Package main implements ustreamer-diag, a plain-flag command-line
// tool wrapping internal/diagnostics' health checks and internal/audio's
// device detection, replacing the dropped huh-based TUI (cmd/lyrebird).
//
// Usage:
//
//	ustreamer-diag check [--mode=quick|full|debug] [--json]
//	ustreamer-diag audio-list
//	ustreamer-diag audio-probe --device=NAME
//	ustreamer-diag udev-map
package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "check":
		err = runCheck(args)
	case "audio-list":
		err = runAudioList(args)
	case "audio-probe":
		err = runAudioProbe(args)
	case "udev-map":
		err = runUdevMap(args)
	case "-h", "--help", "help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("ustreamer-diag - diagnostics for the capture/DRM/audio pipeline")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  ustreamer-diag check [--mode=quick|full|debug] [--json]")
	fmt.Println("  ustreamer-diag audio-list")
	fmt.Println("  ustreamer-diag audio-probe --device=NAME")
	fmt.Println("  ustreamer-diag udev-map")
}
