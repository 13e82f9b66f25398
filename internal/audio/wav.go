package audio

import (
	"fmt"
	"math"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// FileWriter persists a stereo block as an audio file
type FileWriter interface {
	WriteFile(path string, stereo Block, sampleRate int) error
}

// WAVWriter writes PCM WAV files
type WAVWriter struct {
	BitDepth int // 16, 24 or 32; 0 means BitDepth
}

// WriteFile encodes the block as integer PCM at sampleRate
func (w WAVWriter) WriteFile(path string, block Block, sampleRate int) error {
	depth := w.BitDepth
	if depth == 0 {
		depth = BitDepth
	}
	if block.Channels <= 0 {
		return fmt.Errorf("cannot write %s: block has no channels", path)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}

	enc := wav.NewEncoder(f, sampleRate, depth, block.Channels, 1)
	buf := &goaudio.IntBuffer{
		Format: &goaudio.Format{
			NumChannels: block.Channels,
			SampleRate:  sampleRate,
		},
		Data:           toPCM(block.Data, depth),
		SourceBitDepth: depth,
	}

	if err := enc.Write(buf); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return fmt.Errorf("failed to finalize %s: %w", path, err)
	}
	return f.Close()
}

// toPCM scales float samples to signed integers of the given bit depth, clipping at full scale
func toPCM(samples []float32, depth int) []int {
	scale := float64(int64(1)<<(depth-1) - 1)
	out := make([]int, len(samples))
	for i, s := range samples {
		v := float64(s)
		if math.IsNaN(v) {
			v = 0
		}
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		out[i] = int(math.Round(v * scale))
	}
	return out
}

// WAVLength reads the frame count and sample rate of a PCM WAV file without decoding it
func WAVLength(path string) (frames, sampleRate int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if err := dec.FwdToPCM(); err != nil {
		return 0, 0, fmt.Errorf("failed to find PCM data in %s: %w", path, err)
	}

	frameSize := int64(dec.BitDepth/8) * int64(dec.NumChans)
	if frameSize == 0 || dec.SampleRate == 0 {
		return 0, 0, fmt.Errorf("%s is not a valid WAV file", path)
	}
	return int(dec.PCMLen() / frameSize), int(dec.SampleRate), nil
}
