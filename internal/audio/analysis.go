package audio

import "math"

// ExtractPair returns a two channel block made of channels offset and offset+1.
// When only offset exists it is duplicated to both sides, and when neither
// exists the result is silence. The frame count always matches the input.
func ExtractPair(b Block, offset int) Block {
	frames := b.Frames()
	out := NewBlock(frames, 2)

	switch {
	case offset >= 0 && offset+1 < b.Channels:
		for i := 0; i < frames; i++ {
			out.Data[2*i] = b.Sample(i, offset)
			out.Data[2*i+1] = b.Sample(i, offset+1)
		}
	case offset >= 0 && offset < b.Channels:
		for i := 0; i < frames; i++ {
			v := b.Sample(i, offset)
			out.Data[2*i] = v
			out.Data[2*i+1] = v
		}
	}
	return out
}

// LevelDb returns the RMS level of samples in dB, floored at SilenceDb
func LevelDb(samples []float32) float64 {
	if len(samples) == 0 {
		return SilenceDb
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	db := 20 * math.Log10(math.Max(rms, 1e-10))
	if db < SilenceDb || math.IsNaN(db) {
		return SilenceDb
	}
	return db
}

// channelLevel is LevelDb for one channel of a block, SilenceDb when the channel is missing
func channelLevel(b Block, ch int) float64 {
	if ch < 0 || ch >= b.Channels {
		return SilenceDb
	}
	return LevelDb(b.Channel(ch))
}

// Levels is one metering snapshot in dB
type Levels struct {
	MainL, MainR float64
	CueL, CueR   float64
}

// Silent is the snapshot reported before any audio arrives
var Silent = Levels{SilenceDb, SilenceDb, SilenceDb, SilenceDb}

// BlockLevels meters the configured pairs of one block. The cue pair reads
// as silence when dual stereo is off.
func BlockLevels(b Block, cfg ChannelConfig) Levels {
	l := Silent
	l.MainL = channelLevel(b, cfg.MainOffset)
	l.MainR = channelLevel(b, cfg.MainOffset+1)
	if cfg.DualStereo {
		l.CueL = channelLevel(b, cfg.CueOffset)
		l.CueR = channelLevel(b, cfg.CueOffset+1)
	}
	return l
}

// dbToLinear converts a dB threshold to a linear amplitude
func dbToLinear(db float64) float64 {
	return math.Pow(10, db/20)
}
