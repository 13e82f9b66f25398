package session

import (
	"fmt"
	"time"

	"github.com/PixPMusic/stem-capture/internal/audio"
	"github.com/PixPMusic/stem-capture/internal/timeline"
)

// StartSource says where the start offset came from
type StartSource string

const (
	StartFromMIDI  StartSource = "midi"
	StartFromOnset StartSource = "onset"
	StartGiven     StartSource = "given"
	StartUnknown   StartSource = "none"
)

// Timing is derived once from the jam pass and passed to every isolation pass
type Timing struct {
	StartOffset     time.Duration // Capture start to first device sound
	ContentDuration time.Duration // Device playing time
	TotalDuration   time.Duration // Length of the mix every stem must reach
	TotalFrames     int           // Same, in frames at SampleRate
	SampleRate      int

	StartSource StartSource
	StopFound   bool
	Warning     string // Non-empty when the start could not be detected reliably
}

// DeriveTiming computes the timing from a jam timeline and its audio.
// Transport messages win over the audio onset; out-of-range values are clamped.
func DeriveTiming(tl *timeline.Timeline, buf *audio.CaptureBuffer, onsetThresholdDb float64) Timing {
	t := Timing{
		TotalDuration: buf.Duration(),
		TotalFrames:   buf.Frames(),
		SampleRate:    buf.SampleRate(),
	}

	if start, ok := tl.DetectDeviceStart(); ok {
		t.StartOffset = start
		t.StartSource = StartFromMIDI
	} else if onset, ok := buf.DetectOnset(onsetThresholdDb); ok {
		t.StartOffset = onset
		t.StartSource = StartFromOnset
		t.Warning = "no transport start received, start offset taken from audio onset"
	} else {
		t.StartSource = StartUnknown
		t.Warning = fmt.Sprintf("could not detect device start (no transport start, no audio above %.0f dB); "+
			"stems may be misaligned, enable transport send on the device", onsetThresholdDb)
	}

	t.fit(tl)
	return t
}

// TimelineTiming derives the timing from transport messages alone, for a saved
// timeline replayed against a mix of known length.
func TimelineTiming(tl *timeline.Timeline, total time.Duration, sampleRate int) Timing {
	t := Timing{
		TotalDuration: total,
		TotalFrames:   audio.DurationToFrames(total, sampleRate),
		SampleRate:    sampleRate,
	}

	if start, ok := tl.DetectDeviceStart(); ok {
		t.StartOffset = start
		t.StartSource = StartFromMIDI
	} else {
		t.StartSource = StartUnknown
		t.Warning = "no transport start in the saved timeline; start offset is 0, " +
			"stems may be misaligned unless the offset is given"
	}

	t.fit(tl)
	return t
}

// fit clamps the start to the mix and sets the content from the transport stop,
// or from the rest of the mix when there is none.
func (t *Timing) fit(tl *timeline.Timeline) {
	if t.StartOffset > t.TotalDuration {
		t.StartOffset = t.TotalDuration
	}

	if stop, ok := tl.DetectDeviceStop(); ok && t.StartSource == StartFromMIDI && stop > t.StartOffset {
		t.ContentDuration = stop - t.StartOffset
		t.StopFound = true
	} else {
		t.ContentDuration = t.TotalDuration - t.StartOffset
	}
	t.clamp()
}

func (t *Timing) clamp() {
	if t.StartOffset < 0 {
		t.StartOffset = 0
	}
	if t.StartOffset > t.TotalDuration {
		t.StartOffset = t.TotalDuration
	}
	if t.StartOffset+t.ContentDuration > t.TotalDuration {
		t.ContentDuration = t.TotalDuration - t.StartOffset
	}
	if t.ContentDuration < 0 {
		t.ContentDuration = 0
	}
}

// NewTiming builds a timing from known values, as when the offsets are given by hand
func NewTiming(startOffset, content, total time.Duration, sampleRate int, source StartSource) Timing {
	t := Timing{
		StartOffset:     startOffset,
		ContentDuration: content,
		TotalDuration:   total,
		TotalFrames:     audio.DurationToFrames(total, sampleRate),
		SampleRate:      sampleRate,
		StartSource:     source,
	}
	t.clamp()
	return t
}
