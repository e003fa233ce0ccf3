package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7878", cfg.Listen)
	assert.Equal(t, 500*time.Millisecond, cfg.Build.Debounce.Std())
	assert.Equal(t, "duplex", cfg.Audio.Backend)
}

func TestFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plugdev.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen: "0.0.0.0:9000"
build:
  command: zig
  args: ["build", "-Doptimize=Debug"]
  artifact: zig-out/lib/libplugin.so
  debounce: 250ms
audio:
  backend: playback
midi:
  enabled: true
  devicePrefix: "Arturia"
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", cfg.Listen)
	assert.Equal(t, "zig", cfg.Build.Command)
	assert.Equal(t, 250*time.Millisecond, cfg.Build.Debounce.Std())
	assert.Equal(t, "playback", cfg.Audio.Backend)
	assert.True(t, cfg.MIDI.Enabled)
	assert.Equal(t, "Arturia", cfg.MIDI.DevicePrefix)
	// untouched sections keep their defaults
	assert.Equal(t, 48000, cfg.Audio.SampleRate)
}

func TestInvalidYAMLFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen: [unclosed"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	for _, tc := range []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty listen", func(c *Config) { c.Listen = "" }},
		{"no roots", func(c *Config) { c.Project.Roots = nil }},
		{"no build command", func(c *Config) { c.Build.Command = "" }},
		{"no artifact", func(c *Config) { c.Build.Artifact = "" }},
		{"negative debounce", func(c *Config) { c.Build.Debounce = Duration(-time.Second) }},
		{"zero extract timeout", func(c *Config) { c.Extract.Timeout = 0 }},
		{"bogus backend", func(c *Config) { c.Audio.Backend = "pulseaudio" }},
		{"zero block size", func(c *Config) { c.Audio.BlockSize = 0 }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
	assert.NoError(t, Default().Validate())
}
