// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pikvm/ustreamer-go/internal/alsapcm"
	"github.com/pikvm/ustreamer-go/internal/audio"
	"github.com/pikvm/ustreamer-go/internal/drmout"
	"github.com/pikvm/ustreamer-go/internal/frame"
	"github.com/pikvm/ustreamer-go/internal/stream"
)

// ConfigFilePath is the default location for the configuration file.
const ConfigFilePath = "/etc/ustreamer/config.yaml"

// Config represents the complete streamer configuration: capture
// geometry, the stream loop's pacing/encoding knobs, the optional DRM/
// KMS output path, the optional audio side-pipeline, and health
// monitoring.
type Config struct {
	Capture CaptureConfig `yaml:"capture" koanf:"capture"`
	Stream  StreamConfig  `yaml:"stream" koanf:"stream"`
	DRM     DRMConfig     `yaml:"drm" koanf:"drm"`
	Audio   AudioConfig   `yaml:"audio" koanf:"audio"`
	Monitor MonitorConfig `yaml:"monitor" koanf:"monitor"`
}

// CaptureConfig describes the V4L2 capture device geometry (§6). The
// actual ioctl/mmap plumbing is an external collaborator (internal/
// device.Device); this is only the data needed to open one.
type CaptureConfig struct {
	Path       string `yaml:"path" koanf:"path"` // e.g. /dev/video0
	Width      uint   `yaml:"width" koanf:"width"`
	Height     uint   `yaml:"height" koanf:"height"`
	DesiredFPS uint   `yaml:"desired_fps" koanf:"desired_fps"`
	Format     string `yaml:"format" koanf:"format"` // "yuyv", "uyvy", "rgb24", "jpeg"
	NBufs      int    `yaml:"nbufs" koanf:"nbufs"`
}

// FrameFormat maps the configured format name to a frame.Format,
// rejecting anything the capture/stream pipeline doesn't recognize.
func (c *CaptureConfig) FrameFormat() (frame.Format, error) {
	switch c.Format {
	case "yuyv":
		return frame.FormatYUYV, nil
	case "uyvy":
		return frame.FormatUYVY, nil
	case "rgb24":
		return frame.FormatRGB24, nil
	case "jpeg":
		return frame.FormatJPEG, nil
	default:
		return frame.FormatUnknown, fmt.Errorf("capture: unknown format %q", c.Format)
	}
}

// StreamConfig mirrors internal/stream.Config (§6 names and defaults).
type StreamConfig struct {
	Slowdown bool `yaml:"slowdown" koanf:"slowdown"`

	// LastAsBlank: <0 blank immediately on offline transition, 0 freeze
	// the last live frame forever, >0 seconds before blanking.
	LastAsBlank time.Duration `yaml:"last_as_blank" koanf:"last_as_blank"`

	ErrorDelay      time.Duration `yaml:"error_delay" koanf:"error_delay"`
	ExitOnNoClients time.Duration `yaml:"exit_on_no_clients" koanf:"exit_on_no_clients"` // 0 disables
	H264Bitrate     int           `yaml:"h264_bitrate" koanf:"h264_bitrate"`             // kbps
	H264GOP         int           `yaml:"h264_gop" koanf:"h264_gop"`
	H264M2MPath     string        `yaml:"h264_m2m_path" koanf:"h264_m2m_path"`

	JPEGRingSlots       int           `yaml:"jpeg_ring_slots" koanf:"jpeg_ring_slots"`
	JPEGRingAcquireWait time.Duration `yaml:"jpeg_ring_acquire_wait" koanf:"jpeg_ring_acquire_wait"`
	JPEGQuality         int           `yaml:"jpeg_quality" koanf:"jpeg_quality"`

	ReleaserGetTimeout time.Duration `yaml:"releaser_get_timeout" koanf:"releaser_get_timeout"`
	SlowdownStep       time.Duration `yaml:"slowdown_step" koanf:"slowdown_step"`
	SlowdownMaxSteps   int           `yaml:"slowdown_max_steps" koanf:"slowdown_max_steps"`

	// SinkRawURL, SinkJPEGURL, and SinkH264URL point at the base URL of a
	// companion process implementing the memsink HTTP stand-in
	// (internal/sink.StatusClient); empty disables that sink.
	SinkRawURL       string        `yaml:"sink_raw_url" koanf:"sink_raw_url"`
	SinkJPEGURL      string        `yaml:"sink_jpeg_url" koanf:"sink_jpeg_url"`
	SinkH264URL      string        `yaml:"sink_h264_url" koanf:"sink_h264_url"`
	SinkPollInterval time.Duration `yaml:"sink_poll_interval" koanf:"sink_poll_interval"`
}

// ToStreamConfig converts to the stream package's own Config, pulling
// DesiredFPS from the capture section since both describe the same
// capture rate.
func (s *StreamConfig) ToStreamConfig(desiredFPS uint) stream.Config {
	return stream.Config{
		DesiredFPS:          desiredFPS,
		Slowdown:            s.Slowdown,
		LastAsBlank:         s.LastAsBlank,
		ErrorDelay:          s.ErrorDelay,
		ExitOnNoClients:     s.ExitOnNoClients,
		H264Bitrate:         s.H264Bitrate,
		H264GOP:             s.H264GOP,
		H264M2MPath:         s.H264M2MPath,
		JPEGRingSlots:       s.JPEGRingSlots,
		JPEGRingAcquireWait: s.JPEGRingAcquireWait,
		JPEGQuality:         s.JPEGQuality,
		ReleaserGetTimeout:  s.ReleaserGetTimeout,
		SlowdownStep:        s.SlowdownStep,
		SlowdownMaxSteps:    s.SlowdownMaxSteps,
		SinkRawURL:          s.SinkRawURL,
		SinkJPEGURL:         s.SinkJPEGURL,
		SinkH264URL:         s.SinkH264URL,
		SinkPollInterval:    s.SinkPollInterval,
	}
}

// DRMConfig mirrors internal/drmout.Config, plus the enabled flag that
// decides whether the direct-render output path starts at all.
type DRMConfig struct {
	Enabled bool          `yaml:"enabled" koanf:"enabled"`
	Path    string        `yaml:"path" koanf:"path"`
	Port    string        `yaml:"port" koanf:"port"`
	Timeout time.Duration `yaml:"timeout" koanf:"timeout"`
}

// ToDRMConfig converts to the drmout package's own Config.
func (d *DRMConfig) ToDRMConfig() drmout.Config {
	return drmout.Config{Path: d.Path, Port: d.Port, Timeout: d.Timeout}
}

// AudioConfig mirrors internal/audio.Config and internal/alsapcm.Params,
// plus the device-selection and enabled fields needed to find and open
// a capture source before either of those take over.
type AudioConfig struct {
	Enabled bool   `yaml:"enabled" koanf:"enabled"`
	Device  string `yaml:"device" koanf:"device"` // matched against internal/audio.FindDevice

	Rate         uint32 `yaml:"rate" koanf:"rate"`
	Channels     uint32 `yaml:"channels" koanf:"channels"`
	PeriodFrames uint32 `yaml:"period_frames" koanf:"period_frames"`
	Periods      uint32 `yaml:"periods" koanf:"periods"`

	BitrateBps         int  `yaml:"bitrate_bps" koanf:"bitrate_bps"`
	DTX                bool `yaml:"dtx" koanf:"dtx"`
	InbandFEC          bool `yaml:"inband_fec" koanf:"inband_fec"`
	ExpectedPacketLoss int  `yaml:"expected_packet_loss" koanf:"expected_packet_loss"`
}

// ToALSAParams converts to alsapcm's own capture-format struct.
func (a *AudioConfig) ToALSAParams() alsapcm.Params {
	return alsapcm.Params{
		Rate:       a.Rate,
		Channels:   a.Channels,
		PeriodSize: a.PeriodFrames,
		Periods:    a.Periods,
	}
}

// ToAudioConfig converts to audio's own Opus-encoder config.
func (a *AudioConfig) ToAudioConfig() audio.Config {
	return audio.Config{
		BitrateBps:         a.BitrateBps,
		DTX:                a.DTX,
		InbandFEC:          a.InbandFEC,
		ExpectedPacketLoss: a.ExpectedPacketLoss,
	}
}

// MonitorConfig contains health monitoring settings.
type MonitorConfig struct {
	Enabled            bool          `yaml:"enabled" koanf:"enabled"`
	Interval           time.Duration `yaml:"interval" koanf:"interval"`
	StallCheckInterval time.Duration `yaml:"stall_check_interval" koanf:"stall_check_interval"`
	MaxStallChecks     int           `yaml:"max_stall_checks" koanf:"max_stall_checks"`
	RestartUnhealthy   bool          `yaml:"restart_unhealthy" koanf:"restart_unhealthy"`
	HealthAddr         string        `yaml:"health_addr" koanf:"health_addr"`
}

// LoadConfig reads and parses the configuration file.
func LoadConfig(path string) (*Config, error) {
	// #nosec G304 - Config path is from administrator-controlled configuration
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// atomicFile abstracts file operations used by Save for testability.
type atomicFile interface {
	Write([]byte) (int, error)
	Sync() error
	Chmod(os.FileMode) error
	Close() error
	Name() string
}

// atomicCreateTemp is the injectable temp-file creator used by Save.
// Tests can replace this with a function returning a mock atomicFile.
type atomicCreateTemp func(dir, pattern string) (atomicFile, error)

func defaultCreateTemp(dir, pattern string) (atomicFile, error) {
	return os.CreateTemp(dir, pattern) // #nosec G304
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	return c.saveWith(path, defaultCreateTemp)
}

func (c *Config) saveWith(path string, createTemp atomicCreateTemp) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Atomic write: write to a temp file in the same directory, sync to disk,
	// then rename to the target path. os.Rename is atomic on most filesystems,
	// so a crash mid-write leaves either the old file or the new file, never
	// a partially-written file.
	dir := filepath.Dir(path)

	tmpFile, err := createTemp(dir, ".config.*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create temp config file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			_ = tmpFile.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("failed to write temp config file: %w", err)
	}

	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync temp config file: %w", err)
	}

	// Config files may contain sensitive settings and should not be
	// world-readable.
	// #nosec G302 - Config file restricted to owner+group for security
	if err := tmpFile.Chmod(0640); err != nil {
		return fmt.Errorf("failed to set config file permissions: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp config file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil { // #nosec G703 -- path is from CLI flag/config, not web request input
		return fmt.Errorf("failed to rename temp config file: %w", err)
	}

	success = true
	return nil
}

// Validate checks configuration for invalid values.
func (c *Config) Validate() error {
	if err := c.Capture.Validate(); err != nil {
		return fmt.Errorf("capture config: %w", err)
	}
	if err := c.Stream.Validate(); err != nil {
		return fmt.Errorf("stream config: %w", err)
	}
	if err := c.DRM.Validate(); err != nil {
		return fmt.Errorf("drm config: %w", err)
	}
	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}
	return nil
}

// Validate checks capture configuration for invalid values.
func (c *CaptureConfig) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("path cannot be empty")
	}
	if c.Width == 0 || c.Height == 0 {
		return fmt.Errorf("width and height must be positive")
	}
	if c.DesiredFPS == 0 {
		return fmt.Errorf("desired_fps must be positive")
	}
	if _, err := c.FrameFormat(); err != nil {
		return err
	}
	if c.NBufs <= 0 {
		return fmt.Errorf("nbufs must be positive")
	}
	return nil
}

// Validate checks stream configuration for invalid values.
func (s *StreamConfig) Validate() error {
	if s.JPEGQuality < 1 || s.JPEGQuality > 100 {
		return fmt.Errorf("jpeg_quality must be between 1 and 100 (got %d)", s.JPEGQuality)
	}
	if s.JPEGRingSlots <= 0 {
		return fmt.Errorf("jpeg_ring_slots must be positive")
	}
	if s.H264Bitrate < 0 {
		return fmt.Errorf("h264_bitrate must not be negative")
	}
	return nil
}

// Validate checks DRM output configuration for invalid values.
func (d *DRMConfig) Validate() error {
	if !d.Enabled {
		return nil
	}
	if d.Path == "" {
		return fmt.Errorf("path cannot be empty when enabled")
	}
	if d.Port == "" {
		return fmt.Errorf("port cannot be empty when enabled")
	}
	return nil
}

// Validate checks audio configuration for invalid values.
func (a *AudioConfig) Validate() error {
	if !a.Enabled {
		return nil
	}
	if a.Device == "" {
		return fmt.Errorf("device cannot be empty when enabled")
	}
	if a.Rate == 0 {
		return fmt.Errorf("rate must be positive")
	}
	if a.Channels == 0 {
		return fmt.Errorf("channels must be positive")
	}
	if a.BitrateBps <= 0 {
		return fmt.Errorf("bitrate_bps must be positive")
	}
	if a.ExpectedPacketLoss < 0 || a.ExpectedPacketLoss > 100 {
		return fmt.Errorf("expected_packet_loss must be between 0 and 100")
	}
	return nil
}

// DefaultConfig returns a configuration with sensible defaults, matching
// the per-package DefaultConfig functions of stream/drmout/audio/alsapcm.
func DefaultConfig() *Config {
	streamDefaults := stream.DefaultConfig()
	drmDefaults := drmout.DefaultConfig()
	audioDefaults := audio.DefaultConfig()
	alsaDefaults := alsapcm.DefaultParams()

	return &Config{
		Capture: CaptureConfig{
			Path:       "/dev/video0",
			Width:      1920,
			Height:     1080,
			DesiredFPS: streamDefaults.DesiredFPS,
			Format:     "yuyv",
			NBufs:      4,
		},
		Stream: StreamConfig{
			Slowdown:            streamDefaults.Slowdown,
			LastAsBlank:         streamDefaults.LastAsBlank,
			ErrorDelay:          streamDefaults.ErrorDelay,
			ExitOnNoClients:     streamDefaults.ExitOnNoClients,
			H264Bitrate:         streamDefaults.H264Bitrate,
			H264GOP:             streamDefaults.H264GOP,
			H264M2MPath:         streamDefaults.H264M2MPath,
			JPEGRingSlots:       streamDefaults.JPEGRingSlots,
			JPEGRingAcquireWait: streamDefaults.JPEGRingAcquireWait,
			JPEGQuality:         streamDefaults.JPEGQuality,
			ReleaserGetTimeout:  streamDefaults.ReleaserGetTimeout,
			SlowdownStep:        streamDefaults.SlowdownStep,
			SlowdownMaxSteps:    streamDefaults.SlowdownMaxSteps,
			SinkPollInterval:    streamDefaults.SinkPollInterval,
		},
		DRM: DRMConfig{
			Enabled: false,
			Path:    drmDefaults.Path,
			Port:    drmDefaults.Port,
			Timeout: drmDefaults.Timeout,
		},
		Audio: AudioConfig{
			Enabled:            false,
			Device:             "",
			Rate:               alsaDefaults.Rate,
			Channels:           alsaDefaults.Channels,
			PeriodFrames:       alsaDefaults.PeriodSize,
			Periods:            alsaDefaults.Periods,
			BitrateBps:         audioDefaults.BitrateBps,
			DTX:                audioDefaults.DTX,
			InbandFEC:          audioDefaults.InbandFEC,
			ExpectedPacketLoss: audioDefaults.ExpectedPacketLoss,
		},
		Monitor: MonitorConfig{
			Enabled:            true,
			Interval:           5 * time.Minute,
			StallCheckInterval: 60 * time.Second,
			MaxStallChecks:     3,
			RestartUnhealthy:   true,
			HealthAddr:         "127.0.0.1:9998",
		},
	}
}
