// Package plugdev contains the domain types shared by every part of the
// live-development bridge: parameter and processor metadata, meter and
// oscilloscope frames, and the Host capability interface that stands in for
// wherever parameter state actually lives. Implementations live in the
// subpackages; binaries are under cmd/.
package plugdev

import (
	"errors"
	"fmt"
)

type (
	// ParamKind tells how a parameter value should be presented to the user.
	// On the wire and in the bridge every value is a normalized float32 in
	// [0,1] regardless of kind.
	ParamKind int

	// ParameterInfo describes one tunable value of the plugin engine. The ID
	// is stable across rebuilds as long as the parameter keeps its meaning;
	// the merge rule matches on it.
	ParameterInfo struct {
		ID      string    `json:"id" yaml:"id"`
		Name    string    `json:"name" yaml:"name"`
		Kind    ParamKind `json:"kind" yaml:"kind"`
		Value   float32   `json:"value" yaml:"value"`
		Default float32   `json:"default" yaml:"default"`
		Unit    string    `json:"unit,omitempty" yaml:"unit,omitempty"`
		Group   string    `json:"group,omitempty" yaml:"group,omitempty"`
	}

	// ProcessorInfo identifies a named stage in the engine's signal chain.
	// The control surface uses it for grouping; processing itself never
	// consults it.
	ProcessorInfo struct {
		ID string `json:"id" yaml:"id"`
	}

	// MeterFrame is one peak/RMS measurement, produced at a sub-multiple of
	// the audio callback rate. Consumers read the latest frame and discard
	// older ones; frames are never queued up.
	MeterFrame struct {
		Seq       uint64  `json:"seq"`
		LeftPeak  float32 `json:"leftPeak"`
		LeftRMS   float32 `json:"leftRms"`
		RightPeak float32 `json:"rightPeak"`
		RightRMS  float32 `json:"rightRms"`
	}

	// OscFrame is an oscilloscope snapshot: stereo sample pairs copied out of
	// the audio path. Observation only, taking a frame never mutates audio.
	OscFrame struct {
		Seq     uint64       `json:"seq"`
		Samples [][2]float32 `json:"samples"`
	}

	// AudioStatus reports the negotiated state of the audio pipeline.
	AudioStatus struct {
		Running        bool    `json:"running"`
		SampleRate     int     `json:"sampleRate"`
		InputChannels  int     `json:"inputChannels"`
		OutputChannels int     `json:"outputChannels"`
		Backend        string  `json:"backend"`
		Load           float64 `json:"load,omitempty"`
	}
)

const (
	ParamFloat ParamKind = iota
	ParamBool
	ParamInt
	ParamEnum
)

func (k ParamKind) String() string {
	switch k {
	case ParamFloat:
		return "float"
	case ParamBool:
		return "bool"
	case ParamInt:
		return "int"
	case ParamEnum:
		return "enum"
	}
	return fmt.Sprintf("ParamKind(%d)", int(k))
}

var (
	// ErrParamNotFound is returned when a parameter id does not exist in the
	// current parameter set.
	ErrParamNotFound = errors.New("parameter not found")

	// ErrParamOutOfRange is returned when a normalized value falls outside
	// [0,1]. Values are rejected, never clamped.
	ErrParamOutOfRange = errors.New("parameter value out of range")
)

// Host is the capability interface everything downstream is polymorphic over:
// the protocol dispatcher, the transport server and the rebuild pipeline only
// ever see a Host, never a concrete store. Implementations must be safe for
// concurrent readers and writers.
type Host interface {
	Parameter(id string) (ParameterInfo, bool)
	SetParameter(id string, value float32) error
	Parameters() []ParameterInfo
	Processors() []ProcessorInfo
	MeterFrame() (MeterFrame, bool)
	OscFrame() (OscFrame, bool)
	AudioStatus() AudioStatus
	RequestResize(w, h int) bool
}

// ValidNormalized reports whether v is inside the normalized parameter range.
// NaN is not a valid value.
func ValidNormalized(v float32) bool {
	return v >= 0 && v <= 1
}

// MergeParameters applies the rebuild merge rule: for every id in the new
// metadata, carry the old value forward if the id existed before, otherwise
// take the declared default. Ids missing from the new metadata are dropped.
// A carried-forward value that no longer fits the normalized range (the id
// kept its spelling but changed its declaration) falls back to the new
// default, so the result always satisfies the bridge invariant.
func MergeParameters(old, updated []ParameterInfo) []ParameterInfo {
	prev := make(map[string]float32, len(old))
	for _, p := range old {
		prev[p.ID] = p.Value
	}
	merged := make([]ParameterInfo, len(updated))
	for i, p := range updated {
		if v, ok := prev[p.ID]; ok && ValidNormalized(v) {
			p.Value = v
		} else {
			p.Value = p.Default
		}
		merged[i] = p
	}
	return merged
}
