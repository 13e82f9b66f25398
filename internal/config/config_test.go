package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/PixPMusic/stem-capture/internal/midi"
)

func TestLoadMissingReturnsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Device.Type != midi.DeviceTypeOctatrack {
		t.Errorf("Device.Type = %q, want octatrack", cfg.Device.Type)
	}
	if cfg.AutoChannelIndex() != midi.DefaultAutoChannel || cfg.ProgChangeChannelIndex() != midi.DefaultAutoChannel {
		t.Errorf("channels = %d/%d, want %d", cfg.AutoChannelIndex(), cfg.ProgChangeChannelIndex(), midi.DefaultAutoChannel)
	}
	if cfg.Playback.StartPattern != 1 || cfg.Playback.LeadFraction != 0.2 {
		t.Errorf("playback = %+v", cfg.Playback)
	}
	if cfg.Audio.OnsetThresholdDb != -40 || cfg.TrimStems {
		t.Errorf("audio = %+v, trim = %v", cfg.Audio, cfg.TrimStems)
	}
	if cfg.Path() != path {
		t.Errorf("Path() = %q, want %q", cfg.Path(), path)
	}
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")

	cfg := Default()
	cfg.Device.InPort = "Octatrack MIDI In"
	cfg.Device.OutPort = "Octatrack MIDI Out"
	cfg.Audio.JackPorts = []string{"system:capture_1", "system:capture_2"}
	cfg.Audio.DualStereo = true
	cfg.Audio.CueOffset = 2
	cfg.Playback.TailTime = 3.5
	cfg.TrimStems = true

	if err := cfg.SaveTo(path); err != nil {
		t.Fatalf("SaveTo: %v", err)
	}

	got, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if got.Device != cfg.Device {
		t.Errorf("Device = %+v, want %+v", got.Device, cfg.Device)
	}
	if len(got.Audio.JackPorts) != 2 || got.Audio.JackPorts[1] != "system:capture_2" {
		t.Errorf("JackPorts = %v", got.Audio.JackPorts)
	}
	if got.TailTime() != 3500*time.Millisecond {
		t.Errorf("TailTime() = %v, want 3.5s", got.TailTime())
	}
	if cc := got.ChannelConfig(); !cc.DualStereo || cc.CueOffset != 2 {
		t.Errorf("ChannelConfig() = %+v", cc)
	}
	if !got.TrimStems {
		t.Error("TrimStems lost")
	}
}

func TestPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"device": {"in_port": "OT"}, "audio": {"main_offset": 4}}`), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Device.InPort != "OT" || cfg.Audio.MainOffset != 4 {
		t.Errorf("explicit values lost: %+v %+v", cfg.Device, cfg.Audio)
	}
	if cfg.Device.AutoChannel != DefaultChannel || cfg.Audio.Channels != DefaultChannels {
		t.Errorf("defaults lost: auto channel %d, channels %d", cfg.Device.AutoChannel, cfg.Audio.Channels)
	}
}

func TestLoadMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"device": `), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFrom(path); err == nil {
		t.Error("LoadFrom(malformed) succeeded")
	}
}

func TestValidateClamps(t *testing.T) {
	tests := []struct {
		name  string
		edit  func(*Config)
		check func(*Config) bool
	}{
		{"unknown device", func(c *Config) { c.Device.Type = "launchpad" },
			func(c *Config) bool { return c.Device.Type == midi.DeviceTypeOctatrack }},
		{"auto channel out of range", func(c *Config) { c.Device.AutoChannel = 17 },
			func(c *Config) bool { return c.Device.AutoChannel == DefaultChannel }},
		{"program change channel zero", func(c *Config) { c.Device.ProgChangeChannel = 0 },
			func(c *Config) bool { return c.Device.ProgChangeChannel == DefaultChannel }},
		{"negative pattern", func(c *Config) { c.Playback.StartPattern = -3 },
			func(c *Config) bool { return c.Playback.StartPattern == 0 }},
		{"pattern too high", func(c *Config) { c.Playback.StartPattern = 500 },
			func(c *Config) bool { return c.Playback.StartPattern == maxPattern }},
		{"lead fraction above one", func(c *Config) { c.Playback.LeadFraction = 1.5 },
			func(c *Config) bool { return c.Playback.LeadFraction == 1 }},
		{"lead fraction NaN", func(c *Config) { c.Playback.LeadFraction = math.NaN() },
			func(c *Config) bool { return c.Playback.LeadFraction == DefaultLeadFraction }},
		{"negative tail", func(c *Config) { c.Playback.TailTime = -1 },
			func(c *Config) bool { return c.Playback.TailTime == 0 }},
		{"mono input", func(c *Config) { c.Audio.Channels = 1 },
			func(c *Config) bool { return c.Audio.Channels == 2 }},
		{"negative offset", func(c *Config) { c.Audio.MainOffset = -2 },
			func(c *Config) bool { return c.Audio.MainOffset == 0 }},
		{"positive threshold", func(c *Config) { c.Audio.OnsetThresholdDb = 6 },
			func(c *Config) bool { return c.Audio.OnsetThresholdDb == -40 }},
		{"threshold below floor", func(c *Config) { c.Audio.OnsetThresholdDb = -90 },
			func(c *Config) bool { return c.Audio.OnsetThresholdDb == -60 }},
		{"empty folder", func(c *Config) { c.OutputFolder = "" },
			func(c *Config) bool { return c.OutputFolder != "" }},
		{"empty jack client", func(c *Config) { c.Audio.JackClient = "" },
			func(c *Config) bool { return c.Audio.JackClient == "stem-capture" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.edit(cfg)
			cfg.Validate()
			if !tt.check(cfg) {
				t.Errorf("after Validate: %+v", cfg)
			}
		})
	}
}
