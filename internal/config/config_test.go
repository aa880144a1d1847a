// SPDX-License-Identifier: MIT

package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validYAML() string {
	return `
capture:
  path: /dev/video0
  width: 1280
  height: 720
  desired_fps: 30
  format: yuyv
  nbufs: 4
stream:
  slowdown: false
  error_delay: 1s
  h264_bitrate: 5000
  h264_gop: 30
  jpeg_ring_slots: 4
  jpeg_ring_acquire_wait: 200ms
  jpeg_quality: 80
  releaser_get_timeout: 100ms
  slowdown_step: 100ms
  slowdown_max_steps: 10
drm:
  enabled: false
  path: /dev/dri/card0
  port: HDMI-A-1
  timeout: 5s
audio:
  enabled: false
  rate: 48000
  channels: 1
  period_frames: 960
  periods: 4
  bitrate_bps: 32000
  dtx: true
  inband_fec: true
  expected_packet_loss: 5
monitor:
  enabled: true
  interval: 5m
  restart_unhealthy: true
  health_addr: "127.0.0.1:9998"
`
}

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeTempConfig(t, validYAML())

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/dev/video0", cfg.Capture.Path)
	assert.Equal(t, uint(1280), cfg.Capture.Width)
	assert.Equal(t, uint(30), cfg.Capture.DesiredFPS)
	assert.Equal(t, "yuyv", cfg.Capture.Format)
	assert.Equal(t, 5000, cfg.Stream.H264Bitrate)
	assert.False(t, cfg.DRM.Enabled)
	assert.Equal(t, uint32(48000), cfg.Audio.Rate)
	assert.True(t, cfg.Monitor.Enabled)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	path := writeTempConfig(t, "not: valid: yaml: [")
	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestLoadConfigFailsValidation(t *testing.T) {
	path := writeTempConfig(t, strings.Replace(validYAML(), "width: 1280", "width: 0", 1))
	_, err := LoadConfig(path)
	assert.ErrorContains(t, err, "invalid configuration")
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "/dev/video0", cfg.Capture.Path)
	assert.Equal(t, uint(1920), cfg.Capture.Width)
	assert.Equal(t, uint(1080), cfg.Capture.Height)
	assert.Equal(t, "yuyv", cfg.Capture.Format)

	assert.Equal(t, 5000, cfg.Stream.H264Bitrate)
	assert.Equal(t, 80, cfg.Stream.JPEGQuality)

	assert.False(t, cfg.DRM.Enabled)
	assert.Equal(t, "HDMI-A-1", cfg.DRM.Port)

	assert.False(t, cfg.Audio.Enabled)
	assert.Equal(t, uint32(48000), cfg.Audio.Rate)
	assert.Equal(t, 32000, cfg.Audio.BitrateBps)

	assert.True(t, cfg.Monitor.Enabled)
}

func TestCaptureConfigFrameFormat(t *testing.T) {
	cases := []struct {
		format  string
		wantErr bool
	}{
		{"yuyv", false},
		{"uyvy", false},
		{"rgb24", false},
		{"jpeg", false},
		{"h265", true},
		{"", true},
	}
	for _, tc := range cases {
		c := CaptureConfig{Format: tc.format}
		_, err := c.FrameFormat()
		if tc.wantErr {
			assert.Error(t, err, tc.format)
		} else {
			assert.NoError(t, err, tc.format)
		}
	}
}

func TestValidateConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())

	t.Run("bad capture path", func(t *testing.T) {
		c := *cfg
		c.Capture.Path = ""
		assert.Error(t, c.Validate())
	})

	t.Run("bad capture format", func(t *testing.T) {
		c := *cfg
		c.Capture.Format = "bogus"
		assert.Error(t, c.Validate())
	})

	t.Run("zero nbufs", func(t *testing.T) {
		c := *cfg
		c.Capture.NBufs = 0
		assert.Error(t, c.Validate())
	})

	t.Run("bad jpeg quality", func(t *testing.T) {
		c := *cfg
		c.Stream.JPEGQuality = 0
		assert.Error(t, c.Validate())
		c.Stream.JPEGQuality = 101
		assert.Error(t, c.Validate())
	})

	t.Run("negative h264 bitrate", func(t *testing.T) {
		c := *cfg
		c.Stream.H264Bitrate = -1
		assert.Error(t, c.Validate())
	})

	t.Run("drm enabled without path", func(t *testing.T) {
		c := *cfg
		c.DRM.Enabled = true
		c.DRM.Path = ""
		assert.Error(t, c.Validate())
	})

	t.Run("drm disabled tolerates empty fields", func(t *testing.T) {
		c := *cfg
		c.DRM.Enabled = false
		c.DRM.Path = ""
		c.DRM.Port = ""
		assert.NoError(t, c.Validate())
	})

	t.Run("audio enabled without device", func(t *testing.T) {
		c := *cfg
		c.Audio.Enabled = true
		c.Audio.Device = ""
		assert.Error(t, c.Validate())
	})

	t.Run("audio enabled with device and rate", func(t *testing.T) {
		c := *cfg
		c.Audio.Enabled = true
		c.Audio.Device = "USB_Audio_Device"
		assert.NoError(t, c.Validate())
	})

	t.Run("audio packet loss out of range", func(t *testing.T) {
		c := *cfg
		c.Audio.Enabled = true
		c.Audio.Device = "mic"
		c.Audio.ExpectedPacketLoss = 101
		assert.Error(t, c.Validate())
	})
}

func TestStreamConfigConversion(t *testing.T) {
	cfg := DefaultConfig()
	sc := cfg.Stream.ToStreamConfig(cfg.Capture.DesiredFPS)
	assert.Equal(t, cfg.Capture.DesiredFPS, sc.DesiredFPS)
	assert.Equal(t, cfg.Stream.H264Bitrate, sc.H264Bitrate)
	assert.Equal(t, cfg.Stream.JPEGQuality, sc.JPEGQuality)
}

func TestDRMConfigConversion(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DRM.Path = "/dev/dri/card1"
	dc := cfg.DRM.ToDRMConfig()
	assert.Equal(t, "/dev/dri/card1", dc.Path)
	assert.Equal(t, cfg.DRM.Port, dc.Port)
	assert.Equal(t, cfg.DRM.Timeout, dc.Timeout)
}

func TestAudioConfigConversion(t *testing.T) {
	cfg := DefaultConfig()
	params := cfg.Audio.ToALSAParams()
	assert.Equal(t, cfg.Audio.Rate, params.Rate)
	assert.Equal(t, cfg.Audio.Channels, params.Channels)
	assert.Equal(t, cfg.Audio.PeriodFrames, params.PeriodSize)
	assert.Equal(t, cfg.Audio.Periods, params.Periods)

	ac := cfg.Audio.ToAudioConfig()
	assert.Equal(t, cfg.Audio.BitrateBps, ac.BitrateBps)
	assert.Equal(t, cfg.Audio.DTX, ac.DTX)
	assert.Equal(t, cfg.Audio.InbandFEC, ac.InbandFEC)
	assert.Equal(t, cfg.Audio.ExpectedPacketLoss, ac.ExpectedPacketLoss)
}

func TestSaveConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg := DefaultConfig()
	cfg.Capture.Width = 640
	require.NoError(t, cfg.Save(path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, uint(640), loaded.Capture.Width)
}

func TestSaveConfigAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	first := DefaultConfig()
	first.Capture.Width = 640
	require.NoError(t, first.Save(path))

	second := DefaultConfig()
	second.Capture.Width = 1920
	require.NoError(t, second.Save(path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, uint(1920), loaded.Capture.Width)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, entry := range entries {
		assert.Equal(t, "config.yaml", entry.Name())
	}
}

func TestSaveConfigAtomicPermissions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg := DefaultConfig()
	require.NoError(t, cfg.Save(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0640), info.Mode().Perm())
}

func TestSaveConfigToNonexistentDirFails(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.Save("/nonexistent_dir_12345/config.yaml")
	assert.Error(t, err)
}

// mockAtomicFile implements atomicFile for testing error injection.
type mockAtomicFile struct {
	realFile *os.File
	name     string
	writeErr error
	syncErr  error
	chmodErr error
	closeErr error
}

func (m *mockAtomicFile) Write(p []byte) (int, error) {
	if m.writeErr != nil {
		return 0, m.writeErr
	}
	return len(p), nil
}
func (m *mockAtomicFile) Sync() error               { return m.syncErr }
func (m *mockAtomicFile) Chmod(_ os.FileMode) error { return m.chmodErr }
func (m *mockAtomicFile) Close() error {
	if m.realFile != nil {
		_ = m.realFile.Close()
	}
	return m.closeErr
}
func (m *mockAtomicFile) Name() string { return m.name }

func newMockCreateTemp(dir string, mock *mockAtomicFile) atomicCreateTemp {
	return func(d, pattern string) (atomicFile, error) {
		f, err := os.CreateTemp(dir, pattern)
		if err != nil {
			return nil, err
		}
		mock.realFile = f
		mock.name = f.Name()
		return mock, nil
	}
}

func TestSaveWithInjectableErrors(t *testing.T) {
	cfg := DefaultConfig()

	t.Run("write error", func(t *testing.T) {
		dir := t.TempDir()
		mock := &mockAtomicFile{writeErr: errors.New("disk full")}
		err := cfg.saveWith(filepath.Join(dir, "config.yaml"), newMockCreateTemp(dir, mock))
		assert.ErrorContains(t, err, "failed to write temp config file")
	})

	t.Run("sync error", func(t *testing.T) {
		dir := t.TempDir()
		mock := &mockAtomicFile{syncErr: errors.New("sync failed")}
		err := cfg.saveWith(filepath.Join(dir, "config.yaml"), newMockCreateTemp(dir, mock))
		assert.ErrorContains(t, err, "failed to sync temp config file")
	})

	t.Run("chmod error", func(t *testing.T) {
		dir := t.TempDir()
		mock := &mockAtomicFile{chmodErr: errors.New("chmod failed")}
		err := cfg.saveWith(filepath.Join(dir, "config.yaml"), newMockCreateTemp(dir, mock))
		assert.ErrorContains(t, err, "failed to set config file permissions")
	})

	t.Run("close error", func(t *testing.T) {
		dir := t.TempDir()
		mock := &mockAtomicFile{closeErr: errors.New("close failed")}
		err := cfg.saveWith(filepath.Join(dir, "config.yaml"), newMockCreateTemp(dir, mock))
		assert.ErrorContains(t, err, "failed to close temp config file")
	})

	t.Run("createTemp error", func(t *testing.T) {
		failCreate := func(dir, pattern string) (atomicFile, error) {
			return nil, errors.New("createTemp failed")
		}
		err := cfg.saveWith("/tmp/config.yaml", failCreate)
		assert.ErrorContains(t, err, "failed to create temp config file")
	})
}

// FuzzLoadConfig fuzz tests the YAML config loading path with arbitrary input.
//
// Invariants verified:
//   - No panics on any input
//   - If LoadConfig returns a non-nil *Config without error, the config is valid
//   - If LoadConfig returns an error, cfg is nil
func FuzzLoadConfig(f *testing.F) {
	seeds := []string{
		validYAML(),
		"not: valid: yaml: [",
		"{{{invalid",
		"---\n- - -\n  broken",
		"",
		"   \n\n\t  ",
		"capture: 42",
		"capture: [1, 2, 3]",
		"audio: true",
		"\"special key\": value\n",
		"\x00\x01\x02\x03",
		"\xff\xfe\xfd",
		"a: &a\n  b: *a\n",
	}
	for _, seed := range seeds {
		f.Add(seed)
	}

	f.Fuzz(func(t *testing.T, data string) {
		dir := t.TempDir()
		path := filepath.Join(dir, "fuzz_config.yaml")
		if err := os.WriteFile(path, []byte(data), 0644); err != nil {
			t.Fatalf("failed to write temp config file: %v", err)
		}

		cfg, err := LoadConfig(path)

		if err == nil && cfg == nil {
			t.Error("LoadConfig returned nil config without error")
		}
		if err != nil && cfg != nil {
			t.Errorf("LoadConfig returned non-nil config with error: %v", err)
		}
		if err == nil && cfg != nil {
			if validErr := cfg.Validate(); validErr != nil {
				t.Errorf("LoadConfig returned config that fails validation: %v", validErr)
			}
		}
	})
}
