// SPDX-License-Identifier: MIT

package audio

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hraban/opus"

	"github.com/pikvm/ustreamer-go/internal/util"
)

// ErrEmpty is returned by GetEncoded when no packet is ready; callers
// (an RTP sender polling on a timer) treat this as "nothing to send
// this tick", not an error condition.
var ErrEmpty = errors.New("audio: encoded ring empty")

const (
	opusFrameMs     = 20
	opusOutputRate  = 48000
	ringDepthPCM    = 8
	ringDepthPacket = 16
)

// pcmSource is the narrow surface Pipeline needs from a capture
// handle; alsapcm.PCM satisfies it, and tests substitute a fake.
type pcmSource interface {
	Start() error
	Read(out []int16) error
	Recover() error
	Close() error
	Rate() uint32
	Channels() uint32
	PeriodFrames() uint32
}

// Config selects bitrate/DTX/FEC behavior for the Opus encoder; the
// sample rate and channel count come from the opened pcmSource itself.
type Config struct {
	BitrateBps         int
	DTX                bool
	InbandFEC          bool
	ExpectedPacketLoss int
}

// DefaultConfig matches typical KVM-audio settings: low bitrate voice
// profile with FEC for a lossy network path.
func DefaultConfig() Config {
	return Config{BitrateBps: 32000, DTX: true, InbandFEC: true, ExpectedPacketLoss: 5}
}

// Pipeline is the audio runtime described by §4.8: a capture thread
// reading PCM periods into a drop-oldest ring, and an encoder thread
// draining it, resampling to 48kHz, Opus-encoding 20ms frames, and
// pushing {payload, pts} into a drop-newest encoded ring.
type Pipeline struct {
	log *slog.Logger
	cfg Config

	src      pcmSource
	resample *resampler
	enc      *opus.Encoder

	pcm     *pcmRing
	encoded *encodedRing

	frameSamples int // 20ms worth of samples at 48kHz, per channel
	channels     int
	ptsStep      uint32

	stop      chan struct{}
	stopped   sync.Once
	wgCapture sync.WaitGroup
	wgEncoder sync.WaitGroup
}

// New builds a pipeline over an already-opened capture source. The
// source's negotiated rate/channels drive resampler and ring sizing.
func New(src pcmSource, cfg Config, log *slog.Logger) (*Pipeline, error) {
	channels := int(src.Channels())
	if channels <= 0 {
		return nil, fmt.Errorf("audio: invalid channel count %d", channels)
	}
	application := opus.AppVoIP
	enc, err := opus.NewEncoder(opusOutputRate, channels, application)
	if err != nil {
		return nil, fmt.Errorf("audio: new opus encoder: %w", err)
	}
	if err := enc.SetBitrate(cfg.BitrateBps); err != nil {
		return nil, fmt.Errorf("audio: set bitrate: %w", err)
	}
	if err := enc.SetDTX(cfg.DTX); err != nil {
		return nil, fmt.Errorf("audio: set dtx: %w", err)
	}
	if err := enc.SetInBandFEC(cfg.InbandFEC); err != nil {
		return nil, fmt.Errorf("audio: set fec: %w", err)
	}
	if err := enc.SetPacketLossPerc(cfg.ExpectedPacketLoss); err != nil {
		return nil, fmt.Errorf("audio: set packet loss: %w", err)
	}

	frameSamples := opusOutputRate * opusFrameMs / 1000

	return &Pipeline{
		log:          log,
		cfg:          cfg,
		src:          src,
		resample:     newResampler(src.Rate(), opusOutputRate, channels),
		enc:          enc,
		pcm:          newPCMRing(ringDepthPCM, int(src.PeriodFrames()), channels),
		encoded:      newEncodedRing(ringDepthPacket),
		frameSamples: frameSamples,
		channels:     channels,
		ptsStep:      uint32(frameSamples),
		stop:         make(chan struct{}),
	}, nil
}

// Start arms the capture source and launches the capture and encoder
// threads.
func (p *Pipeline) Start() error {
	if err := p.src.Start(); err != nil {
		return fmt.Errorf("audio: start capture: %w", err)
	}
	p.wgCapture.Add(1)
	util.SafeGo("audio-capture", nil, func() {
		defer p.wgCapture.Done()
		p.captureLoop()
	}, nil)
	p.wgEncoder.Add(1)
	util.SafeGo("audio-encoder", nil, func() {
		defer p.wgEncoder.Done()
		p.encodeLoop()
	}, nil)
	return nil
}

func (p *Pipeline) captureLoop() {
	periodFrames := int(p.src.PeriodFrames())
	buf := make([]int16, periodFrames*p.channels)
	for {
		select {
		case <-p.stop:
			return
		default:
		}
		if err := p.src.Read(buf); err != nil {
			if p.log != nil {
				p.log.Warn("audio capture read failed, recovering", "error", err)
			}
			if rerr := p.src.Recover(); rerr != nil {
				if p.log != nil {
					p.log.Error("audio capture recovery failed", "error", rerr)
				}
				return
			}
			continue
		}
		p.pcm.push(buf)
	}
}

func (p *Pipeline) encodeLoop() {
	// Resampled PCM accumulates here until a full 20ms Opus frame is
	// available; ratio is bounded so one period never needs more than
	// a small multiple of frameSamples of headroom.
	acc := make([]int16, 0, p.frameSamples*p.channels*2)
	resampleBuf := make([]int16, p.frameSamples*p.channels*4)
	opusBuf := make([]byte, 4000)

	var pts uint32
	for {
		samples, ok := p.pcm.pop()
		if !ok {
			return // ring stopped
		}
		n := p.resample.process(samples, resampleBuf)
		acc = append(acc, resampleBuf[:n*p.channels]...)

		for len(acc) >= p.frameSamples*p.channels {
			frame := acc[:p.frameSamples*p.channels]
			written, err := p.enc.Encode(frame, opusBuf)
			acc = acc[p.frameSamples*p.channels:]
			if err != nil {
				if p.log != nil {
					p.log.Error("opus encode failed", "error", err)
				}
				continue
			}
			payload := make([]byte, written)
			copy(payload, opusBuf[:written])
			if dropped := p.encoded.push(Packet{Payload: payload, PTS: pts}); dropped && p.log != nil {
				p.log.Debug("encoded audio ring full, dropping newest packet")
			}
			pts += p.ptsStep
		}
	}
}

// GetEncoded returns the oldest ready packet, or ErrEmpty if none is
// available yet. Non-blocking, intended for periodic polling.
func (p *Pipeline) GetEncoded() (Packet, error) {
	pkt, ok := p.encoded.pop()
	if !ok {
		return Packet{}, ErrEmpty
	}
	return pkt, nil
}

// Stop signals both threads and joins them encoder-then-capture: the
// encoder is reaped first so whatever is already queued in the PCM
// ring is fully drained and Opus-encoded before the capture thread
// (and, after it, the ALSA handle underneath it) goes away.
func (p *Pipeline) Stop() error {
	p.stopped.Do(func() {
		close(p.stop)
	})
	p.pcm.stop()
	p.wgEncoder.Wait()
	p.wgCapture.Wait()
	return p.src.Close()
}

// WaitForDrain blocks until the encoded ring has delivered everything
// or timeout elapses — used by tests and graceful-shutdown callers
// that want the last few frames flushed before Stop.
func (p *Pipeline) WaitForDrain(timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for p.encoded.len() > 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
}
