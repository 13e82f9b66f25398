package audio

import (
	"errors"
	"time"
)

var (
	// ErrDeviceUnavailable is returned when no audio source is configured or its stream cannot start
	ErrDeviceUnavailable = errors.New("audio device unavailable")

	// ErrNoAudio is returned when an empty capture is asked to produce a file
	ErrNoAudio = errors.New("no audio captured")
)

const (
	// BlockSize is the number of frames a source should deliver per callback
	BlockSize = 1024

	// SilenceDb is the level reported for silence
	SilenceDb = -60.0

	// DefaultOnsetThresholdDb is the default level above which sound is considered started
	DefaultOnsetThresholdDb = -40.0

	// BitDepth of written files
	BitDepth = 24

	// onsetChunk is the analysis window for onset detection, independent of source block size
	onsetChunk = 1024
)

// Block is one multichannel chunk of interleaved float samples in [-1, 1]
type Block struct {
	Channels int
	Data     []float32 // len(Data) == Frames() * Channels
}

// NewBlock allocates a silent block
func NewBlock(frames, channels int) Block {
	if frames < 0 {
		frames = 0
	}
	if channels < 0 {
		channels = 0
	}
	return Block{Channels: channels, Data: make([]float32, frames*channels)}
}

// Frames returns the number of sample frames in the block
func (b Block) Frames() int {
	if b.Channels <= 0 {
		return 0
	}
	return len(b.Data) / b.Channels
}

// Sample returns the sample at frame for channel ch
func (b Block) Sample(frame, ch int) float32 {
	return b.Data[frame*b.Channels+ch]
}

// Set stores v at frame for channel ch
func (b Block) Set(frame, ch int, v float32) {
	b.Data[frame*b.Channels+ch] = v
}

// Channel copies one channel out of the block
func (b Block) Channel(ch int) []float32 {
	frames := b.Frames()
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		out[i] = b.Data[i*b.Channels+ch]
	}
	return out
}

// Truncate returns the first frames frames of the block
func (b Block) Truncate(frames int) Block {
	if frames < 0 || frames >= b.Frames() {
		return b
	}
	return Block{Channels: b.Channels, Data: b.Data[:frames*b.Channels]}
}

// Clone returns a deep copy of the block
func (b Block) Clone() Block {
	data := make([]float32, len(b.Data))
	copy(data, b.Data)
	return Block{Channels: b.Channels, Data: data}
}

// ChannelConfig selects which input channels carry the device outputs
type ChannelConfig struct {
	MainOffset int  // 0-indexed first channel of the main pair
	DualStereo bool // Whether a cue pair is recorded too
	CueOffset  int  // 0-indexed first channel of the cue pair
}

// RecordingChannels returns how many input channels the stream must open to cover
// the configured pairs, limited to what the device offers.
func (c ChannelConfig) RecordingChannels(deviceMax int) int {
	needed := c.MainOffset + 2
	if c.DualStereo && c.CueOffset+2 > needed {
		needed = c.CueOffset + 2
	}
	if deviceMax > 0 && needed > deviceMax {
		needed = deviceMax
	}
	return needed
}

// FramesToDuration converts a frame count at sampleRate to a duration
func FramesToDuration(frames, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(int64(frames) * int64(time.Second) / int64(sampleRate))
}

// DurationToFrames converts a duration to a frame count at sampleRate
func DurationToFrames(d time.Duration, sampleRate int) int {
	if d <= 0 || sampleRate <= 0 {
		return 0
	}
	return int(int64(d) * int64(sampleRate) / int64(time.Second))
}
