// Package session wires the whole dev bridge together: host, bridge,
// watcher, rebuild pipeline, transport server, audio pipeline and the
// optional MIDI listener, all running under one errgroup with a single
// cancellable context as the global shutdown signal.
package session

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/plugdev/plugdev"
	"github.com/plugdev/plugdev/audio"
	"github.com/plugdev/plugdev/audio/miniaudio"
	otodev "github.com/plugdev/plugdev/audio/oto"
	"github.com/plugdev/plugdev/bridge"
	"github.com/plugdev/plugdev/config"
	"github.com/plugdev/plugdev/dylib"
	"github.com/plugdev/plugdev/extract"
	"github.com/plugdev/plugdev/host"
	"github.com/plugdev/plugdev/miditrig"
	"github.com/plugdev/plugdev/protocol"
	"github.com/plugdev/plugdev/rebuild"
	"github.com/plugdev/plugdev/server"
	"github.com/plugdev/plugdev/watch"
)

// moduleRetireDelay is how long a replaced engine module stays loaded after
// the processor swap. The audio thread may still be inside the old module's
// Process when the swap lands; unloading immediately would pull code out
// from under it.
const moduleRetireDelay = 500 * time.Millisecond

// Session owns one live-development run.
type Session struct {
	cfg config.Config
	log *zap.Logger

	host     *host.MemoryHost
	pipeline *audio.Pipeline
	server   *server.Server
	rebuild  *rebuild.Pipeline
	watcher  *watch.Watcher
	midi     *miditrig.Listener
	device   audio.Device

	registry *prometheus.Registry

	// retired holds the previous engine module and its temp path until the
	// grace delay expires.
	retiredMu sync.Mutex
	retired   struct {
		module *dylib.Module
		path   string
	}
}

// New builds a session from the configuration. Nothing runs until Run.
func New(cfg config.Config, log *zap.Logger) (*Session, error) {
	s := &Session{
		cfg:      cfg,
		log:      log,
		registry: prometheus.NewRegistry(),
	}

	// the generator gives a fresh session something to hear and meter before
	// the first build lands
	genParams := audio.GeneratorParams()
	s.host = host.NewMemoryHost(genParams, nil)
	b := bridge.New(genParams)
	gen := audio.NewGenerator(cfg.Audio.SampleRate)
	gen.ApplyParams(b)

	s.pipeline = audio.NewPipeline(audio.Config{
		SampleRate:   cfg.Audio.SampleRate,
		BlockSize:    cfg.Audio.BlockSize,
		MeterDivisor: cfg.Audio.MeterDivisor,
	}, gen, b)

	s.server = server.New(protocol.NewDispatcher(s.host), log.Named("server"), s.registry)

	filter := watch.DefaultFilter(cfg.Project.Manifest, cfg.Project.SourceExts...)
	watcher, err := watch.New(cfg.Project.Roots, cfg.Project.Manifest, filter,
		cfg.Build.Debounce.Std(), log.Named("watch"))
	if err != nil {
		return nil, fmt.Errorf("setting up the source watcher failed: %w", err)
	}
	s.watcher = watcher

	extractor := extract.New(log.Named("extract"))
	extractor.Timeout = cfg.Extract.Timeout.Std()
	compiler := rebuild.CommandCompiler{
		Dir:  cfg.Build.Dir,
		Name: cfg.Build.Command,
		Args: cfg.Build.Args,
	}
	s.rebuild = rebuild.New(cfg.Build.Artifact, compiler, extractor, s.host,
		log.Named("rebuild"), s.registry)

	s.host.OnParameterChanged(s.onParameterChanged)
	s.rebuild.OnReplaced(s.onParametersReplaced)
	s.rebuild.OnResult(s.onBuildResult)

	if cfg.MIDI.Enabled {
		s.midi = miditrig.New(log.Named("midi"))
		s.midi.OpenByPrefix(cfg.MIDI.DevicePrefix)
	}
	return s, nil
}

// Run starts every loop and blocks until ctx is cancelled or a component
// fails. Shutdown cancels the shared context; the loops unwind cooperatively
// and the audio device is stopped last.
func (s *Session) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if err := s.startAudio(); err != nil {
		return err
	}
	s.host.SetAudioStatus(s.audioStatus())

	g.Go(func() error { s.watcher.Run(ctx); return nil })
	g.Go(func() error { return s.rebuild.Run(ctx, s.watcher.Events()) })
	g.Go(func() error { return s.server.Run(ctx, s.cfg.Listen, s.registry) })
	g.Go(func() error { return s.relayMeters(ctx) })
	g.Go(func() error { return s.relayScope(ctx) })
	if s.midi != nil {
		g.Go(func() error { return s.relayMIDI(ctx) })
	}

	err := g.Wait()
	s.stopAudio()
	if s.midi != nil {
		s.midi.Close()
	}
	s.retire(nil, "")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Session) startAudio() error {
	switch s.cfg.Audio.Backend {
	case "none":
		s.log.Info("audio disabled")
		return nil
	case "playback":
		dev, err := otodev.New(s.pipeline, s.log.Named("audio"))
		if err != nil {
			return err
		}
		s.device = dev
	default:
		dev, err := miniaudio.New(s.pipeline,
			s.cfg.Audio.InputChannels, s.cfg.Audio.OutputChannels, s.log.Named("audio"))
		if err != nil {
			return err
		}
		s.device = dev
	}
	return s.device.Start()
}

func (s *Session) stopAudio() {
	if s.device == nil {
		return
	}
	if err := s.device.Stop(); err != nil {
		s.log.Warn("stopping audio failed", zap.Error(err))
	}
	s.device = nil
}

func (s *Session) audioStatus() plugdev.AudioStatus {
	if s.device == nil {
		return plugdev.AudioStatus{Backend: "none"}
	}
	return s.device.Status()
}

// onParameterChanged pokes the bridge so the audio thread sees the edit, and
// tells every peer. Runs on whichever goroutine called SetParameter, outside
// the host lock.
func (s *Session) onParameterChanged(p plugdev.ParameterInfo) {
	s.pipeline.Bridge().Write(p.ID, p.Value)
	s.server.Broadcast(protocol.ParameterChangedNotification(p))
}

// onParametersReplaced runs after a successful rebuild: a fresh bridge for
// the merged set, a fresh engine if the new module carries one, and the full
// list pushed to peers.
func (s *Session) onParametersReplaced(params []plugdev.ParameterInfo, procs []plugdev.ProcessorInfo) {
	b := bridge.New(params)
	s.pipeline.SwapBridge(b)
	s.swapEngine()
	s.server.Broadcast(protocol.ParametersReplacedNotification(params, procs))
}

func (s *Session) onBuildResult(r rebuild.Result) {
	s.server.Broadcast(protocol.StatusNotification(r))
}

// swapEngine loads the just-built artifact in-process and routes audio
// through it. Extraction already proved the module loads and answers in a
// child, so an in-process load here is a calculated risk the child cannot
// take for us. Failure keeps the previous processor.
func (s *Session) swapEngine() {
	tmpPath, err := extract.CopyToTemp(s.cfg.Build.Artifact)
	if err != nil {
		s.log.Warn("copying module for engine load failed", zap.Error(err))
		return
	}
	module, err := dylib.Open(tmpPath)
	if err != nil {
		os.Remove(tmpPath)
		s.log.Warn("loading engine module failed", zap.Error(err))
		return
	}
	engine, ok := module.Engine()
	if !ok {
		module.Close()
		os.Remove(tmpPath)
		s.log.Info("module has no compatible vtable, keeping current processor")
		return
	}
	proc := audio.NewEngineProcessor(engine, s.cfg.Audio.SampleRate, s.cfg.Audio.BlockSize)
	s.pipeline.SwapProcessor(proc)
	s.retire(module, tmpPath)
	s.log.Info("engine swapped in")
}

// retire schedules the previously active module for unload after the grace
// delay and records the new one. Passing nil flushes the last module
// immediately (shutdown).
func (s *Session) retire(module *dylib.Module, path string) {
	s.retiredMu.Lock()
	old, oldPath := s.retired.module, s.retired.path
	s.retired.module, s.retired.path = module, path
	s.retiredMu.Unlock()
	if old == nil {
		return
	}
	unload := func() {
		old.Close()
		if oldPath != "" {
			os.Remove(oldPath)
		}
	}
	if module == nil {
		unload()
		return
	}
	time.AfterFunc(moduleRetireDelay, unload)
}

// relayMeters forwards subsampled meter frames to the host (for polling
// peers) and to every connected peer (push).
func (s *Session) relayMeters(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame := <-s.pipeline.Meters():
			s.host.PublishMeterFrame(frame)
			s.server.Broadcast(protocol.MeterNotification(frame))
		}
	}
}

// relayScope copies each oscilloscope frame out of the audio-side buffer,
// publishes it and re-arms the tap.
func (s *Session) relayScope(ctx context.Context) error {
	scope := s.pipeline.Scope()
	scope.Arm()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame := <-scope.Frames():
			samples := make([][2]float32, len(frame.Samples))
			copy(samples, frame.Samples)
			s.host.PublishOscFrame(plugdev.OscFrame{Seq: frame.Seq, Samples: samples})
			scope.Arm()
		}
	}
}

// relayMIDI plays the generator from a keyboard: note on sets the frequency
// and velocity-scaled gain, note off silences it. Writes go through the
// bridge like any other parameter change.
func (s *Session) relayMIDI(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-s.midi.Events():
			b := s.pipeline.Bridge()
			if ev.On {
				b.Write(audio.GenFreqID, noteToNormalized(ev.Note))
				b.Write(audio.GenGainID, float32(ev.Velocity)/127)
			} else {
				b.Write(audio.GenGainID, 0)
			}
		}
	}
}

// noteToNormalized maps a MIDI note to the generator's normalized frequency
// slot, inverting its 20*100^v Hz curve.
func noteToNormalized(note uint8) float32 {
	hz := 440 * math.Exp2((float64(note)-69)/12)
	v := math.Log(hz/20) / math.Log(100)
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return float32(v)
}
