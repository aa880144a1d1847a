package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/pikvm/ustreamer-go/internal/diagnostics"
)

func runCheck(args []string) error {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	mode := fs.String("mode", "full", "check mode: quick, full, debug")
	asJSON := fs.Bool("json", false, "print the report as JSON")
	timeout := fs.Duration("timeout", 60*time.Second, "overall check timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}

	opts := diagnostics.DefaultOptions()
	switch *mode {
	case "quick":
		opts.Mode = diagnostics.ModeQuick
	case "full":
		opts.Mode = diagnostics.ModeFull
	case "debug":
		opts.Mode = diagnostics.ModeDebug
	default:
		return fmt.Errorf("unknown mode %q", *mode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	runner := diagnostics.NewRunner(opts)
	report, err := runner.Run(ctx)
	if err != nil {
		return fmt.Errorf("run diagnostics: %w", err)
	}

	if *asJSON {
		data, err := report.ToJSON()
		if err != nil {
			return err
		}
		fmt.Println(string(data))
	} else {
		diagnostics.PrintReport(os.Stdout, report)
	}

	if !report.Healthy {
		os.Exit(2)
	}
	return nil
}
