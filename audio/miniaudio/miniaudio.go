// Package miniaudio runs the audio pipeline on a duplex miniaudio device:
// one hardware-driven data callback delivers captured samples and collects
// the next playback block. miniaudio converts formats and sample rates
// internally, so the pipeline always sees float32 at the negotiated rate.
package miniaudio

import (
	"fmt"
	"unsafe"

	"github.com/gen2brain/malgo"
	"go.uber.org/zap"

	"github.com/plugdev/plugdev"
	"github.com/plugdev/plugdev/audio"
)

// Device is a duplex (capture+playback) miniaudio device bound to a
// pipeline.
type Device struct {
	ctx      *malgo.AllocatedContext
	dev      *malgo.Device
	pipeline *audio.Pipeline
	log      *zap.Logger

	sampleRate  int
	inChannels  int
	outChannels int
}

// New negotiates the default capture and playback devices at the pipeline's
// configured rate. When the devices refuse that rate the device falls back
// to their native rate with a logged warning instead of failing.
func New(p *audio.Pipeline, inChannels, outChannels int, log *zap.Logger) (*Device, error) {
	if outChannels <= 0 {
		return nil, fmt.Errorf("duplex device needs at least one output channel")
	}
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		log.Debug("miniaudio", zap.String("message", message))
	})
	if err != nil {
		return nil, fmt.Errorf("initializing audio context failed: %w", err)
	}

	d := &Device{
		ctx:         ctx,
		pipeline:    p,
		log:         log,
		sampleRate:  p.Config().SampleRate,
		inChannels:  inChannels,
		outChannels: outChannels,
	}

	dev, err := d.initDevice(uint32(d.sampleRate))
	if err != nil {
		// retry at the device's native rate; a rate mismatch between the
		// defaults is tolerated, not fatal
		log.Warn("devices refused the requested sample rate, falling back to native",
			zap.Int("requested", d.sampleRate), zap.Error(err))
		dev, err = d.initDevice(0)
		if err != nil {
			ctx.Uninit()
			ctx.Free()
			return nil, fmt.Errorf("negotiating audio devices failed: %w", err)
		}
	}
	d.dev = dev
	if actual := effectiveRate(d.sampleRate, dev.SampleRate()); actual != d.sampleRate {
		log.Warn("running at the device's native rate",
			zap.Int("requested", d.sampleRate), zap.Int("actual", actual))
		d.sampleRate = actual
	}
	p.SetState(audio.DevicesNegotiated)
	return d, nil
}

// effectiveRate resolves the rate the device actually runs at. A zero device
// rate means the backend reported nothing useful and the request stands.
func effectiveRate(requested int, device uint32) int {
	if device != 0 {
		return int(device)
	}
	return requested
}

func (d *Device) initDevice(sampleRate uint32) (*malgo.Device, error) {
	cfg := malgo.DefaultDeviceConfig(malgo.Duplex)
	cfg.SampleRate = sampleRate
	cfg.PeriodSizeInFrames = uint32(d.pipeline.Config().BlockSize)
	cfg.Capture.Format = malgo.FormatF32
	cfg.Capture.Channels = uint32(d.inChannels)
	cfg.Playback.Format = malgo.FormatF32
	cfg.Playback.Channels = uint32(d.outChannels)

	callbacks := malgo.DeviceCallbacks{
		Data: d.onData,
		Stop: func() {
			d.log.Info("audio device stopped by the backend")
		},
	}
	return malgo.InitDevice(d.ctx.Context, cfg, callbacks)
}

// onData is the duplex hardware callback. It must not allocate, lock or
// block; both halves of the pipeline run inside it.
func (d *Device) onData(out, in []byte, frameCount uint32) {
	frames := int(frameCount)
	var inSamples []float32
	if len(in) >= 4 {
		inSamples = unsafe.Slice((*float32)(unsafe.Pointer(&in[0])), len(in)/4)
	}
	d.pipeline.Capture(inSamples, d.inChannels, frames)

	if len(out) >= 4 {
		outSamples := unsafe.Slice((*float32)(unsafe.Pointer(&out[0])), len(out)/4)
		d.pipeline.Playback(outSamples, d.outChannels, frames)
	}
}

func (d *Device) Start() error {
	if err := d.dev.Start(); err != nil {
		return fmt.Errorf("starting audio device failed: %w", err)
	}
	d.pipeline.SetState(audio.Running)
	return nil
}

func (d *Device) Stop() error {
	err := d.dev.Stop()
	d.dev.Uninit()
	d.ctx.Uninit()
	d.ctx.Free()
	d.pipeline.SetState(audio.Stopped)
	if err != nil {
		return fmt.Errorf("stopping audio device failed: %w", err)
	}
	return nil
}

func (d *Device) Status() plugdev.AudioStatus {
	return plugdev.AudioStatus{
		Running:        d.pipeline.State() == audio.Running,
		SampleRate:     d.sampleRate,
		InputChannels:  d.inChannels,
		OutputChannels: d.outChannels,
		Backend:        "miniaudio",
	}
}
