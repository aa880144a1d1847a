// SPDX-License-Identifier: MIT

package stream

import "time"

// Config holds the recognized stream options (§6).
type Config struct {
	DesiredFPS uint
	Slowdown   bool

	// LastAsBlank: <0 blank immediately on offline transition, 0 freeze
	// the last live frame forever, >0 seconds before blanking.
	LastAsBlank time.Duration

	ErrorDelay       time.Duration
	ExitOnNoClients  time.Duration // 0 disables
	H264Bitrate      int           // kbps
	H264GOP          int
	H264M2MPath      string

	JPEGRingSlots   int
	JPEGRingAcquireWait time.Duration
	JPEGQuality     int

	ReleaserGetTimeout time.Duration // 100ms in the original
	SlowdownStep       time.Duration // 100ms step, up to 10x
	SlowdownMaxSteps   int

	// SinkRawURL, SinkJPEGURL, and SinkH264URL are the base URLs of the
	// three optional memsink companion processes (§6 "three optional
	// sink paths"). Empty disables the corresponding sink. SinkPollInterval
	// governs how often each configured sink's /state is polled for
	// HasClients (see internal/sink.StatusClient).
	SinkRawURL       string
	SinkJPEGURL      string
	SinkH264URL      string
	SinkPollInterval time.Duration
}

// DefaultConfig matches the defaults named in §6.
func DefaultConfig() Config {
	return Config{
		DesiredFPS:          30,
		Slowdown:            false,
		LastAsBlank:         0,
		ErrorDelay:          time.Second,
		ExitOnNoClients:     0,
		H264Bitrate:         5000,
		H264GOP:             30,
		JPEGRingSlots:       4,
		JPEGRingAcquireWait: 200 * time.Millisecond,
		JPEGQuality:         80,
		ReleaserGetTimeout:  100 * time.Millisecond,
		SlowdownStep:        100 * time.Millisecond,
		SlowdownMaxSteps:    10,
		SinkPollInterval:    time.Second,
	}
}
