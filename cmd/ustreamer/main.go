// Package main implements the ustreamer daemon: the capture/encode/
// sink core (§4.1-§4.6), the optional DRM/KMS direct-render output
// (§4.7), and the optional audio side-pipeline (§4.8), all supervised
// together with a shared health endpoint.
//
// Usage:
//
//	ustreamer [options]
//
// Options:
//
//	--config=PATH     Path to config file (default: /etc/ustreamer/config.yaml)
//	--lock-dir=PATH   Directory for lock files (default: /var/run/ustreamer)
//	--log-level=LEVEL Log level: debug, info, warn, error (default: info)
//	--help            Show this help message
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/pikvm/ustreamer-go/internal/audio"
	"github.com/pikvm/ustreamer-go/internal/config"
	"github.com/pikvm/ustreamer-go/internal/device"
	"github.com/pikvm/ustreamer-go/internal/drmout"
	"github.com/pikvm/ustreamer-go/internal/encoder"
	"github.com/pikvm/ustreamer-go/internal/health"
	"github.com/pikvm/ustreamer-go/internal/lock"
	"github.com/pikvm/ustreamer-go/internal/sink"
	"github.com/pikvm/ustreamer-go/internal/stream"
	"github.com/pikvm/ustreamer-go/internal/supervisor"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	configPath = flag.String("config", config.ConfigFilePath, "Path to configuration file")
	lockDir    = flag.String("lock-dir", "/var/run/ustreamer", "Directory for lock files")
	logLevel   = flag.String("log-level", "info", "Log level: debug, info, warn, error")
	showHelp   = flag.Bool("help", false, "Show help message")
)

func main() {
	flag.Parse()
	if *showHelp {
		printUsage()
		os.Exit(0)
	}

	log := newLogger(*logLevel)
	log.Info("starting ustreamer", "version", Version, "commit", Commit, "built", BuildTime)

	if err := os.MkdirAll(*lockDir, 0750); err != nil { //nolint:gosec // lock directory needs group read for service monitoring
		log.Error("failed to create lock directory", "error", err)
		os.Exit(1)
	}

	cfg, err := loadConfiguration(*configPath)
	if err != nil {
		log.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	log.Info("loaded configuration", "path", *configPath)

	fl, err := lock.NewFileLock(filepath.Join(*lockDir, "ustreamer.lock"))
	if err != nil {
		log.Error("failed to create lock", "error", err)
		os.Exit(1)
	}
	if err := fl.Acquire(5 * time.Second); err != nil {
		log.Error("failed to acquire lock, another instance is running?", "error", err)
		os.Exit(1)
	}
	defer func() { _ = fl.Release() }()

	sup := supervisor.New(supervisor.Config{ShutdownTimeout: 10 * time.Second})
	statusProvider := &serviceStatusProvider{sup: sup}

	captureLoop, loopErr := buildStreamLoop(cfg, log)
	if loopErr != nil {
		log.Error("failed to build stream loop", "error", loopErr)
		os.Exit(1)
	}
	if err := sup.Add(&loopService{loop: captureLoop}); err != nil {
		log.Error("failed to register stream service", "error", err)
		os.Exit(1)
	}

	if cfg.DRM.Enabled {
		drmSvc, err := buildDRMService(cfg, log)
		if err != nil {
			log.Warn("drm service disabled", "error", err)
		} else if err := sup.Add(drmSvc); err != nil {
			log.Warn("failed to register DRM service", "error", err)
		} else {
			log.Info("DRM output enabled", "path", cfg.DRM.Path, "port", cfg.DRM.Port)
		}
	}

	if cfg.Audio.Enabled {
		audioSvc, err := buildAudioService(cfg, log)
		if err != nil {
			log.Warn("audio pipeline disabled", "error", err)
		} else if err := sup.Add(audioSvc); err != nil {
			log.Warn("failed to register audio service", "error", err)
		} else {
			log.Info("audio pipeline enabled", "device", cfg.Audio.Device)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("received signal, shutting down", "signal", sig.String())
		cancel()
	}()

	if cfg.Monitor.Enabled {
		handler := health.NewHandler(statusProvider)
		go func() {
			log.Info("health endpoint listening", "addr", cfg.Monitor.HealthAddr)
			if err := health.ListenAndServe(ctx, cfg.Monitor.HealthAddr, handler); err != nil && ctx.Err() == nil {
				log.Warn("health endpoint stopped", "error", err)
			}
		}()
	}

	log.Info("running", "services", sup.ServiceCount())
	if err := sup.Run(ctx); err != nil && err != context.Canceled {
		log.Error("supervisor exited with error", "error", err)
	}
	log.Info("shutdown complete")
}

// buildStreamLoop wires a capture device, JPEG encoder, and the stream
// loop from config. The real V4L2 device is an external collaborator
// outside this module's scope (internal/device's own doc comment); a
// deterministic Fake stands in here until that ioctl/mmap layer is
// plugged in, producing the configured geometry at the configured rate.
func buildStreamLoop(cfg *config.Config, log *slog.Logger) (*stream.Loop, error) {
	format, err := cfg.Capture.FrameFormat()
	if err != nil {
		return nil, fmt.Errorf("capture format: %w", err)
	}

	dev := device.NewFake(cfg.Capture.Path, cfg.Capture.Width, cfg.Capture.Height,
		float64(cfg.Capture.DesiredFPS), format, cfg.Capture.NBufs)

	enc := encoder.NewCPUJPEG(encoder.DefaultConfig(), cfg.Stream.JPEGQuality)

	streamCfg := cfg.Stream.ToStreamConfig(cfg.Capture.DesiredFPS)
	rawSink := buildMemsink(streamCfg.SinkRawURL, streamCfg.SinkPollInterval)
	jpegSink := buildMemsink(streamCfg.SinkJPEGURL, streamCfg.SinkPollInterval)
	h264Sink := buildMemsink(streamCfg.SinkH264URL, streamCfg.SinkPollInterval)
	loop := stream.New(streamCfg, log, dev, enc, rawSink, jpegSink, h264Sink, cfg.Capture.Width, cfg.Capture.Height)
	loop.OnExitOnNoClients = func() {
		log.Warn("exit_on_no_clients fired")
		os.Exit(0)
	}
	return loop, nil
}

// buildMemsink constructs a StatusClient against a companion process's
// base URL, or returns nil when the URL is unset (the sink is disabled;
// real shared-memory IPC to the companion process is out of this
// module's scope, per internal/sink's own package doc).
func buildMemsink(baseURL string, pollInterval time.Duration) sink.Sink {
	if baseURL == "" {
		return nil
	}
	return sink.NewStatusClient(baseURL, pollInterval)
}

func buildAudioService(cfg *config.Config, log *slog.Logger) (*audioService, error) {
	pipeline, err := audio.Open("/proc/asound", cfg.Audio.Device, cfg.Audio.ToALSAParams(), cfg.Audio.ToAudioConfig(), log)
	if err != nil {
		return nil, fmt.Errorf("open audio device %q: %w", cfg.Audio.Device, err)
	}
	return &audioService{pipeline: pipeline}, nil
}

// loopService adapts *stream.Loop to supervisor.Service.
type loopService struct {
	loop *stream.Loop
}

func (s *loopService) Name() string { return "stream" }
func (s *loopService) Run(ctx context.Context) error {
	return s.loop.Run(ctx)
}

// buildDRMService wires a DRM output engine to its own capture device
// handle (opened with dma_export=true per §4.4 INIT's M2M/H.264 rule, §6
// device contract) and drives it with drmout.Drive — the "dedicated
// client" path spec §2 allows alongside (not instead of) the capture
// loop's own JPEG fan-out.
func buildDRMService(cfg *config.Config, log *slog.Logger) (*drmService, error) {
	format, err := cfg.Capture.FrameFormat()
	if err != nil {
		return nil, fmt.Errorf("capture format: %w", err)
	}
	dev := device.NewFake(cfg.Capture.Path, cfg.Capture.Width, cfg.Capture.Height,
		float64(cfg.Capture.DesiredFPS), format, cfg.Capture.NBufs)
	if err := dev.Open(true); err != nil {
		return nil, fmt.Errorf("open drm capture device: %w", err)
	}
	return &drmService{cfg: cfg.DRM.ToDRMConfig(), log: log, dev: dev}, nil
}

// drmService adapts the DRM output engine's open/drive/close lifecycle
// to supervisor.Service: drmout.Drive owns the grab/ExposeDMA/
// WaitForVsync/release cycle against dev for as long as ctx lives.
type drmService struct {
	cfg drmout.Config
	log *slog.Logger
	dev device.Device
}

func (s *drmService) Name() string { return "drm" }
func (s *drmService) Run(ctx context.Context) error {
	defer func() {
		if s.dev != nil {
			_ = s.dev.Close()
		}
	}()
	engine := drmout.New(s.cfg, s.log)
	err := drmout.Drive(ctx, engine, s.dev, s.log)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// audioService adapts *audio.Pipeline to supervisor.Service.
type audioService struct {
	pipeline *audio.Pipeline
}

func (s *audioService) Name() string { return "audio" }
func (s *audioService) Run(ctx context.Context) error {
	if err := s.pipeline.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	return s.pipeline.Stop()
}

// serviceStatusProvider adapts supervisor.Status() to health.StatusProvider.
type serviceStatusProvider struct {
	sup *supervisor.Supervisor
}

func (p *serviceStatusProvider) Services() []health.ServiceInfo {
	statuses := p.sup.Status()
	infos := make([]health.ServiceInfo, 0, len(statuses))
	for _, st := range statuses {
		info := health.ServiceInfo{
			Name:    st.Name,
			State:   st.State.String(),
			Uptime:  st.Uptime,
			Healthy: st.State == supervisor.ServiceStateRunning,
		}
		if st.LastError != nil {
			info.Error = st.LastError.Error()
		}
		infos = append(infos, info)
	}
	return infos
}

func loadConfiguration(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config.DefaultConfig(), nil
	}
	return config.LoadConfig(path)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func printUsage() {
	fmt.Println("ustreamer - MJPEG/H.264 capture streamer")
	fmt.Printf("Version: %s (%s)\n\n", Version, Commit)
	fmt.Println("Usage: ustreamer [options]")
	fmt.Println()
	fmt.Println("Options:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("Signals:")
	fmt.Println("  SIGINT, SIGTERM  Graceful shutdown")
}
