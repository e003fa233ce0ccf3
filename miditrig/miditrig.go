// Package miditrig feeds MIDI note events into the dev session so the
// generator can be played from a keyboard while the module is being edited.
// Everything here is optional: a machine without a MIDI driver or a matching
// device degrades to a log line.
package miditrig

import (
	"strings"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
	"go.uber.org/zap"
)

// NoteEvent is one note on/off, already stripped to what the generator
// consumes.
type NoteEvent struct {
	On       bool
	Channel  uint8
	Note     uint8
	Velocity uint8
}

// Listener owns the MIDI driver and at most one open input device. Events
// arrive on the driver's thread and are dropped, not queued, when the
// consumer lags.
type Listener struct {
	driver *rtmididrv.Driver
	in     drivers.In
	stop   func()
	events chan NoteEvent
	log    *zap.Logger
}

// New opens the platform driver. A missing driver is not an error; the
// listener just never produces events.
func New(log *zap.Logger) *Listener {
	l := &Listener{
		events: make(chan NoteEvent, 256),
		log:    log,
	}
	driver, err := rtmididrv.New()
	if err != nil {
		log.Info("no MIDI driver available", zap.Error(err))
		return l
	}
	l.driver = driver
	return l
}

// Events returns the note event stream.
func (l *Listener) Events() <-chan NoteEvent { return l.events }

// OpenByPrefix opens the first input device whose name starts with prefix.
// An empty prefix matches the first device. Returns whether a device was
// opened.
func (l *Listener) OpenByPrefix(prefix string) bool {
	if l.driver == nil {
		return false
	}
	ins, err := l.driver.Ins()
	if err != nil {
		l.log.Info("listing MIDI inputs failed", zap.Error(err))
		return false
	}
	for _, in := range ins {
		if prefix != "" && !strings.HasPrefix(in.String(), prefix) {
			continue
		}
		if err := in.Open(); err != nil {
			l.log.Info("opening MIDI input failed", zap.String("device", in.String()), zap.Error(err))
			continue
		}
		stop, err := midi.ListenTo(in, l.handle)
		if err != nil {
			in.Close()
			continue
		}
		l.in = in
		l.stop = stop
		l.log.Info("MIDI input open", zap.String("device", in.String()))
		return true
	}
	l.log.Info("no MIDI input matched", zap.String("prefix", prefix))
	return false
}

func (l *Listener) handle(msg midi.Message, timestampms int32) {
	var channel, key, velocity uint8
	isOn := msg.GetNoteOn(&channel, &key, &velocity)
	isOff := !isOn && msg.GetNoteOff(&channel, &key, &velocity)
	if !isOn && !isOff {
		return
	}
	select {
	case l.events <- NoteEvent{On: isOn, Channel: channel, Note: key, Velocity: velocity}:
	default:
		// full queue means nobody is consuming; dropping is fine
	}
}

// Close releases the device and driver.
func (l *Listener) Close() {
	if l.stop != nil {
		l.stop()
	}
	if l.in != nil && l.in.IsOpen() {
		l.in.Close()
	}
	if l.driver != nil {
		l.driver.Close()
	}
}
