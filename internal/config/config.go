package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/PixPMusic/stem-capture/internal/audio"
	"github.com/PixPMusic/stem-capture/internal/midi"
)

const (
	appName = "stem-capture"

	DefaultChannel      = 11 // Octatrack auto channel and program change channel, 1-based
	DefaultStartPattern = 1
	DefaultLeadFraction = 0.2
	DefaultTailTime     = 2.0 // seconds
	DefaultChannels     = 4
	maxPattern          = 128
	maxChannels         = 64
)

// DeviceConfig holds the MIDI side of the setup
type DeviceConfig struct {
	InPort            string          `json:"in_port"`             // MIDI input port name
	OutPort           string          `json:"out_port"`            // MIDI output port name
	Type              midi.DeviceType `json:"type"`                // octatrack or generic
	AutoChannel       int             `json:"auto_channel"`        // 1-16
	ProgChangeChannel int             `json:"prog_change_channel"` // 1-16, pattern selection
}

// PlaybackConfig tunes isolation passes
type PlaybackConfig struct {
	StartPattern int     `json:"start_pattern"` // 1-based, 0 keeps the current pattern
	LeadFraction float64 `json:"lead_fraction"` // Share of the pattern length program changes go out early
	TailTime     float64 `json:"tail_time"`     // Seconds recorded after the stop trigger
}

// AudioConfig holds the JACK capture setup. Offsets are 0-based input channels.
type AudioConfig struct {
	JackClient       string   `json:"jack_client"`
	JackPorts        []string `json:"jack_ports"` // Source ports connected to our inputs, in order
	Channels         int      `json:"channels"`
	MainOffset       int      `json:"main_offset"`
	DualStereo       bool     `json:"dual_stereo"`
	CueOffset        int      `json:"cue_offset"`
	OnsetThresholdDb float64  `json:"onset_threshold_db"`
}

// Config holds application configuration
type Config struct {
	Device       DeviceConfig   `json:"device"`
	Playback     PlaybackConfig `json:"playback"`
	Audio        AudioConfig    `json:"audio"`
	OutputFolder string         `json:"output_folder"`
	TrimStems    bool           `json:"trim_stems"`
	Debug        bool           `json:"debug"`

	path string
}

// Default returns the configuration used when no file exists
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			Type:              midi.DeviceTypeOctatrack,
			AutoChannel:       DefaultChannel,
			ProgChangeChannel: DefaultChannel,
		},
		Playback: PlaybackConfig{
			StartPattern: DefaultStartPattern,
			LeadFraction: DefaultLeadFraction,
			TailTime:     DefaultTailTime,
		},
		Audio: AudioConfig{
			JackClient:       appName,
			Channels:         DefaultChannels,
			OnsetThresholdDb: audio.DefaultOnsetThresholdDb,
		},
		OutputFolder: defaultOutputFolder(),
	}
}

// configDir returns the platform-appropriate config directory
func configDir() (string, error) {
	configHome, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configHome, appName), nil
}

// ConfigPath returns the full path to the config file
func ConfigPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

func defaultOutputFolder() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return appName
	}
	return filepath.Join(home, "Music", appName)
}

// Load reads the config from the default location, returning defaults if not found
func Load() (*Config, error) {
	configPath, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFrom(configPath)
}

// LoadFrom reads the config at path. Missing fields keep their defaults.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()
	cfg.path = path

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	cfg.Validate()
	return cfg, nil
}

// Save writes the config back where it was loaded from
func (c *Config) Save() error {
	path := c.path
	if path == "" {
		var err error
		if path, err = ConfigPath(); err != nil {
			return err
		}
	}
	return c.SaveTo(path)
}

// SaveTo writes the config to path
func (c *Config) SaveTo(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return err
	}
	c.path = path
	return nil
}

// Path returns the file the config was loaded from or saved to
func (c *Config) Path() string {
	return c.path
}

// Validate clamps out-of-range values to something usable. It never fails.
func (c *Config) Validate() {
	switch c.Device.Type {
	case midi.DeviceTypeOctatrack, midi.DeviceTypeGeneric:
	default:
		c.Device.Type = midi.DeviceTypeOctatrack
	}
	c.Device.AutoChannel = clampChannel(c.Device.AutoChannel)
	c.Device.ProgChangeChannel = clampChannel(c.Device.ProgChangeChannel)

	c.Playback.StartPattern = clamp(c.Playback.StartPattern, 0, maxPattern)
	if math.IsNaN(c.Playback.LeadFraction) {
		c.Playback.LeadFraction = DefaultLeadFraction
	}
	c.Playback.LeadFraction = math.Min(math.Max(c.Playback.LeadFraction, 0), 1)
	if math.IsNaN(c.Playback.TailTime) || c.Playback.TailTime < 0 {
		c.Playback.TailTime = 0
	}

	if c.Audio.JackClient == "" {
		c.Audio.JackClient = appName
	}
	c.Audio.Channels = clamp(c.Audio.Channels, 2, maxChannels)
	c.Audio.MainOffset = clamp(c.Audio.MainOffset, 0, maxChannels-2)
	c.Audio.CueOffset = clamp(c.Audio.CueOffset, 0, maxChannels-2)
	if math.IsNaN(c.Audio.OnsetThresholdDb) || c.Audio.OnsetThresholdDb >= 0 {
		c.Audio.OnsetThresholdDb = audio.DefaultOnsetThresholdDb
	}
	c.Audio.OnsetThresholdDb = math.Max(c.Audio.OnsetThresholdDb, audio.SilenceDb)

	if c.OutputFolder == "" {
		c.OutputFolder = defaultOutputFolder()
	}
}

// AutoChannelIndex returns the 0-indexed auto channel
func (c *Config) AutoChannelIndex() uint8 {
	return uint8(clampChannel(c.Device.AutoChannel) - 1)
}

// ProgChangeChannelIndex returns the 0-indexed program change channel
func (c *Config) ProgChangeChannelIndex() uint8 {
	return uint8(clampChannel(c.Device.ProgChangeChannel) - 1)
}

// TailTime returns the tail as a duration
func (c *Config) TailTime() time.Duration {
	return time.Duration(c.Playback.TailTime * float64(time.Second))
}

// ChannelConfig returns the input channel routing
func (c *Config) ChannelConfig() audio.ChannelConfig {
	return audio.ChannelConfig{
		MainOffset: c.Audio.MainOffset,
		DualStereo: c.Audio.DualStereo,
		CueOffset:  c.Audio.CueOffset,
	}
}

func clampChannel(ch int) int {
	if ch < 1 || ch > 16 {
		return DefaultChannel
	}
	return ch
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
