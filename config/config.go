// Package config loads and validates the session configuration from a YAML
// file, with flags layered on top by the command. Every field has a default;
// a missing config file yields a fully usable configuration for a project in
// the current directory.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration decodes both YAML strings ("500ms") and bare nanosecond
// integers.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := node.Decode(&n); err != nil {
		return fmt.Errorf("invalid duration %v", node.Value)
	}
	*d = Duration(n)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the whole session configuration.
type Config struct {
	Listen  string        `yaml:"listen"`
	Log     LogConfig     `yaml:"log"`
	Project ProjectConfig `yaml:"project"`
	Build   BuildConfig   `yaml:"build"`
	Extract ExtractConfig `yaml:"extract"`
	Audio   AudioConfig   `yaml:"audio"`
	MIDI    MIDIConfig    `yaml:"midi"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// ProjectConfig describes the watched source tree.
type ProjectConfig struct {
	Roots      []string `yaml:"roots"`
	Manifest   string   `yaml:"manifest"`
	SourceExts []string `yaml:"sourceExts"`
}

// BuildConfig describes how to produce the module artifact.
type BuildConfig struct {
	Command  string   `yaml:"command"`
	Args     []string `yaml:"args"`
	Dir      string   `yaml:"dir"`
	Artifact string   `yaml:"artifact"`
	Debounce Duration `yaml:"debounce"`
}

type ExtractConfig struct {
	Timeout Duration `yaml:"timeout"`
}

// AudioConfig selects and sizes the audio backend. Backend is one of
// "duplex", "playback" or "none".
type AudioConfig struct {
	Backend        string `yaml:"backend"`
	SampleRate     int    `yaml:"sampleRate"`
	BlockSize      int    `yaml:"blockSize"`
	MeterDivisor   int    `yaml:"meterDivisor"`
	InputChannels  int    `yaml:"inputChannels"`
	OutputChannels int    `yaml:"outputChannels"`
}

type MIDIConfig struct {
	Enabled      bool   `yaml:"enabled"`
	DevicePrefix string `yaml:"devicePrefix"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Listen: "127.0.0.1:7878",
		Log:    LogConfig{Level: "info"},
		Project: ProjectConfig{
			Roots:      []string{"src"},
			Manifest:   "Cargo.toml",
			SourceExts: []string{".rs", ".zig", ".c", ".cc", ".cpp", ".h"},
		},
		Build: BuildConfig{
			Command:  "cargo",
			Args:     []string{"build"},
			Artifact: "target/debug/libplugin.so",
			Debounce: Duration(500 * time.Millisecond),
		},
		Extract: ExtractConfig{Timeout: Duration(30 * time.Second)},
		Audio: AudioConfig{
			Backend:        "duplex",
			SampleRate:     48000,
			BlockSize:      512,
			MeterDivisor:   2,
			InputChannels:  2,
			OutputChannels: 2,
		},
	}
}

// Load reads path over the defaults. A missing file is not an error; an
// unreadable or invalid one is.
func Load(path string) (Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, cfg.Validate()
	}
	if err != nil {
		return cfg, fmt.Errorf("reading config failed: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config failed: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate rejects configurations the session cannot start with.
func (c Config) Validate() error {
	if c.Listen == "" {
		return errors.New("listen address must not be empty")
	}
	if len(c.Project.Roots) == 0 {
		return errors.New("at least one project root is required")
	}
	if c.Build.Command == "" {
		return errors.New("build command must not be empty")
	}
	if c.Build.Artifact == "" {
		return errors.New("build artifact path must not be empty")
	}
	if c.Build.Debounce < 0 {
		return errors.New("debounce must not be negative")
	}
	if c.Extract.Timeout <= 0 {
		return errors.New("extraction timeout must be positive")
	}
	switch c.Audio.Backend {
	case "duplex", "playback", "none":
	default:
		return fmt.Errorf("unknown audio backend %q (want duplex, playback or none)", c.Audio.Backend)
	}
	if c.Audio.SampleRate <= 0 || c.Audio.BlockSize <= 0 {
		return errors.New("audio sampleRate and blockSize must be positive")
	}
	if c.Audio.InputChannels < 0 || c.Audio.OutputChannels < 0 {
		return errors.New("audio channel counts must not be negative")
	}
	return nil
}
