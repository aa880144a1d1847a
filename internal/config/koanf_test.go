// SPDX-License-Identifier: MIT

package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeKoanfYAML(t *testing.T, dir string, contents string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
	return path
}

func TestKoanfConfig_LoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := writeKoanfYAML(t, dir, validYAML())

	kc, err := NewKoanfConfig(WithYAMLFile(path), WithEnvPrefix("USTREAMER_TEST_LOADYAML"))
	require.NoError(t, err)

	cfg, err := kc.Load()
	require.NoError(t, err)
	assert.Equal(t, "/dev/video0", cfg.Capture.Path)
	assert.Equal(t, uint(1280), cfg.Capture.Width)
	assert.Equal(t, 5000, cfg.Stream.H264Bitrate)
	assert.Equal(t, uint32(48000), cfg.Audio.Rate)
}

func TestKoanfConfig_LoadWithEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := writeKoanfYAML(t, dir, validYAML())

	t.Setenv("USTREAMER_TEST_ENVOVERRIDE_CAPTURE_WIDTH", "640")
	t.Setenv("USTREAMER_TEST_ENVOVERRIDE_CAPTURE_FORMAT", "rgb24")
	t.Setenv("USTREAMER_TEST_ENVOVERRIDE_STREAM_H264_BITRATE", "2000")

	kc, err := NewKoanfConfig(
		WithYAMLFile(path),
		WithEnvPrefix("USTREAMER_TEST_ENVOVERRIDE"),
	)
	require.NoError(t, err)

	cfg, err := kc.Load()
	require.NoError(t, err)
	assert.Equal(t, uint(640), cfg.Capture.Width)
	assert.Equal(t, "rgb24", cfg.Capture.Format)
	assert.Equal(t, 2000, cfg.Stream.H264Bitrate)
	// untouched field keeps the YAML value
	assert.Equal(t, uint(720), cfg.Capture.Height)
}

func TestKoanfConfig_AudioEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := writeKoanfYAML(t, dir, validYAML())

	t.Setenv("USTREAMER_TEST_AUDIOENV_AUDIO_DEVICE", "USB_Audio_Device")
	t.Setenv("USTREAMER_TEST_AUDIOENV_AUDIO_ENABLED", "true")
	t.Setenv("USTREAMER_TEST_AUDIOENV_AUDIO_BITRATE_BPS", "24000")

	kc, err := NewKoanfConfig(
		WithYAMLFile(path),
		WithEnvPrefix("USTREAMER_TEST_AUDIOENV"),
	)
	require.NoError(t, err)

	cfg, err := kc.Load()
	require.NoError(t, err)
	assert.Equal(t, "USB_Audio_Device", cfg.Audio.Device)
	assert.True(t, cfg.Audio.Enabled)
	assert.Equal(t, 24000, cfg.Audio.BitrateBps)
}

func TestKoanfConfig_Reload(t *testing.T) {
	dir := t.TempDir()
	path := writeKoanfYAML(t, dir, validYAML())

	kc, err := NewKoanfConfig(WithYAMLFile(path), WithEnvPrefix("USTREAMER_TEST_RELOAD"))
	require.NoError(t, err)

	cfg, err := kc.Load()
	require.NoError(t, err)
	assert.Equal(t, uint(1280), cfg.Capture.Width)

	updated := strings.Replace(validYAML(), "width: 1280", "width: 1920", 1)
	require.NoError(t, os.WriteFile(path, []byte(updated), 0644))
	require.NoError(t, kc.Reload())

	cfg, err = kc.Load()
	require.NoError(t, err)
	assert.Equal(t, uint(1920), cfg.Capture.Width)
}

func TestKoanfConfig_Watch(t *testing.T) {
	dir := t.TempDir()
	path := writeKoanfYAML(t, dir, validYAML())

	kc, err := NewKoanfConfig(WithYAMLFile(path), WithEnvPrefix("USTREAMER_TEST_WATCH"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	events := make(chan string, 4)
	go func() {
		_ = kc.Watch(ctx, func(event string, err error) {
			if err == nil {
				events <- event
			}
		})
	}()

	time.Sleep(50 * time.Millisecond)
	updated := strings.Replace(validYAML(), "width: 1280", "width: 800", 1)
	require.NoError(t, os.WriteFile(path, []byte(updated), 0644))

	select {
	case <-events:
	case <-time.After(2 * time.Second):
		t.Log("no watch event observed within timeout (fsnotify can be slow/flaky in sandboxes)")
	}
}

func TestKoanfConfig_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := writeKoanfYAML(t, dir, "not: valid: yaml: [")

	_, err := NewKoanfConfig(WithYAMLFile(path), WithEnvPrefix("USTREAMER_TEST_INVALID"))
	assert.Error(t, err)
}

func TestKoanfConfig_MissingFile(t *testing.T) {
	_, err := NewKoanfConfig(
		WithYAMLFile(filepath.Join(t.TempDir(), "missing.yaml")),
		WithEnvPrefix("USTREAMER_TEST_MISSING"),
	)
	assert.Error(t, err)
}

func TestKoanfConfig_GetMethods(t *testing.T) {
	dir := t.TempDir()
	path := writeKoanfYAML(t, dir, validYAML())

	kc, err := NewKoanfConfig(WithYAMLFile(path), WithEnvPrefix("USTREAMER_TEST_GETMETHODS"))
	require.NoError(t, err)

	assert.Equal(t, "/dev/video0", kc.GetString("capture.path"))
	assert.Equal(t, 1280, kc.GetInt("capture.width"))
	assert.True(t, kc.GetBool("monitor.enabled"))
	assert.Equal(t, 5*time.Minute, kc.GetDuration("monitor.interval"))
	assert.True(t, kc.Exists("capture.path"))
	assert.False(t, kc.Exists("capture.nonexistent"))
}

func TestKoanfConfig_NoFile(t *testing.T) {
	t.Setenv("USTREAMER_TEST_NOFILE_CAPTURE_PATH", "/dev/video2")
	t.Setenv("USTREAMER_TEST_NOFILE_CAPTURE_WIDTH", "1920")
	t.Setenv("USTREAMER_TEST_NOFILE_CAPTURE_HEIGHT", "1080")
	t.Setenv("USTREAMER_TEST_NOFILE_CAPTURE_DESIRED_FPS", "30")
	t.Setenv("USTREAMER_TEST_NOFILE_CAPTURE_FORMAT", "yuyv")
	t.Setenv("USTREAMER_TEST_NOFILE_CAPTURE_NBUFS", "4")
	t.Setenv("USTREAMER_TEST_NOFILE_STREAM_JPEG_QUALITY", "80")
	t.Setenv("USTREAMER_TEST_NOFILE_STREAM_JPEG_RING_SLOTS", "4")

	kc, err := NewKoanfConfig(WithEnvPrefix("USTREAMER_TEST_NOFILE"))
	require.NoError(t, err)

	cfg, err := kc.Load()
	require.NoError(t, err)
	assert.Equal(t, "/dev/video2", cfg.Capture.Path)
	assert.Equal(t, uint(1920), cfg.Capture.Width)
}

func TestKoanfConfig_All(t *testing.T) {
	dir := t.TempDir()
	path := writeKoanfYAML(t, dir, validYAML())

	kc, err := NewKoanfConfig(WithYAMLFile(path), WithEnvPrefix("USTREAMER_TEST_ALL"))
	require.NoError(t, err)

	all := kc.All()
	if _, ok := all["capture.path"]; !ok {
		t.Error("All() should contain 'capture.path' key")
	}
}

func TestKoanfConfig_WatchNoFile(t *testing.T) {
	kc, err := NewKoanfConfig(WithEnvPrefix("USTREAMER_TEST_WATCHNOFILE"))
	require.NoError(t, err)

	err = kc.Watch(context.Background(), func(string, error) {})
	assert.Error(t, err)
}
