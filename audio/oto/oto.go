// Package oto is the playback-only fallback backend for machines where a
// duplex device cannot be opened. Capture input is permanently silent; the
// pipeline is driven from the playback side instead of a hardware capture
// callback.
package oto

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/ebitengine/oto/v3"
	"go.uber.org/zap"

	"github.com/plugdev/plugdev"
	"github.com/plugdev/plugdev/audio"
)

// Device drives the pipeline from oto's pull-based reader. Each Read first
// runs a silent capture block through the processor and then pops the result
// for playback, so meters, scope and the processor all behave as in duplex
// mode.
type Device struct {
	ctx      *oto.Context
	player   *oto.Player
	pipeline *audio.Pipeline
	log      *zap.Logger
}

type pipelineReader struct {
	pipeline *audio.Pipeline
	silence  []float32
	block    []float32
	encoded  []byte
	offset   int // consumed bytes of encoded
}

func (r *pipelineReader) Read(buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		if r.offset == len(r.encoded) {
			cfg := r.pipeline.Config()
			r.pipeline.Capture(r.silence, 2, cfg.BlockSize)
			r.pipeline.Playback(r.block, 2, cfg.BlockSize)
			for i, v := range r.block {
				binary.LittleEndian.PutUint32(r.encoded[i*4:], math.Float32bits(v))
			}
			r.offset = 0
		}
		n := copy(buf[total:], r.encoded[r.offset:])
		r.offset += n
		total += n
	}
	return total, nil
}

// New opens the default playback device. Unlike the duplex backend there is
// no rate negotiation: oto resamples internally if it must.
func New(p *audio.Pipeline, log *zap.Logger) (*Device, error) {
	cfg := p.Config()
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   cfg.SampleRate,
		ChannelCount: 2,
		Format:       oto.FormatFloat32LE,
	})
	if err != nil {
		return nil, fmt.Errorf("opening playback device failed: %w", err)
	}
	<-ready

	reader := &pipelineReader{
		pipeline: p,
		silence:  make([]float32, cfg.BlockSize*2),
		block:    make([]float32, cfg.BlockSize*2),
		encoded:  make([]byte, cfg.BlockSize*2*4),
	}
	reader.offset = len(reader.encoded) // force a fresh block on first Read
	d := &Device{
		ctx:      ctx,
		player:   ctx.NewPlayer(reader),
		pipeline: p,
		log:      log,
	}
	log.Warn("no capture device, running playback-only; module input is silence")
	p.SetState(audio.DevicesNegotiated)
	return d, nil
}

func (d *Device) Start() error {
	d.player.Play()
	d.pipeline.SetState(audio.Running)
	return nil
}

func (d *Device) Stop() error {
	err := d.player.Close()
	d.pipeline.SetState(audio.Stopped)
	if err != nil {
		return fmt.Errorf("closing playback device failed: %w", err)
	}
	return nil
}

func (d *Device) Status() plugdev.AudioStatus {
	return plugdev.AudioStatus{
		Running:        d.pipeline.State() == audio.Running,
		SampleRate:     d.pipeline.Config().SampleRate,
		InputChannels:  0,
		OutputChannels: 2,
		Backend:        "oto",
	}
}
