package timeline

import (
	"fmt"
	"math"
	"time"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"
)

// File timing: 120 BPM at 960 ticks per quarter gives ~0.52ms per tick
const (
	filePPQ      = 960
	fileTempoBPM = 120
	tickDuration = time.Minute / fileTempoBPM / filePPQ
)

// Transport messages are not valid SMF events; they travel as markers
var transportMarkers = map[byte]string{
	StatusStart:    "transport:start",
	StatusContinue: "transport:continue",
	StatusStop:     "transport:stop",
}

// WriteSMF stores the timeline as a single-track standard MIDI file
func (t *Timeline) WriteSMF(path string) error {
	s := smf.New()
	s.TimeFormat = smf.MetricTicks(filePPQ)

	var tr smf.Track
	tr.Add(0, smf.MetaTempo(fileTempoBPM))

	var lastTick uint32
	for _, ev := range t.Events() {
		data, ok := fileMessage(ev.Message)
		if !ok {
			continue
		}
		tick := toTicks(ev.Timestamp)
		if tick < lastTick {
			tick = lastTick
		}
		tr.Add(tick-lastTick, data)
		lastTick = tick
	}
	tr.Close(0)

	if err := s.Add(tr); err != nil {
		return fmt.Errorf("failed to add timeline track: %w", err)
	}
	if err := s.WriteFile(path); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// ReadSMF loads a timeline previously written by WriteSMF
func ReadSMF(path string) (*Timeline, error) {
	s, err := smf.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if len(s.Tracks) == 0 {
		return New(), nil
	}

	t := New()
	var tick uint64
	for _, ev := range s.Tracks[0] {
		tick += uint64(ev.Delta)
		msg, ok := timelineMessage(ev.Message)
		if !ok {
			continue
		}
		t.Record(TimedEvent{
			Timestamp: time.Duration(tick) * tickDuration,
			Channel:   channelOf(msg),
			Message:   msg,
		})
	}
	return t, nil
}

// fileMessage converts a recorded message into bytes that can live in a track
func fileMessage(msg midi.Message) ([]byte, bool) {
	if len(msg) == 0 {
		return nil, false
	}
	status := msg[0]
	if marker, ok := transportMarkers[status]; ok {
		return smf.MetaMarker(marker), true
	}
	switch {
	case status < 0xF0:
		return msg, true
	case status == 0xF0:
		return msg, true
	}
	// Clock, active sensing and system common have no place in the file
	return nil, false
}

// timelineMessage is the inverse of fileMessage
func timelineMessage(msg smf.Message) (midi.Message, bool) {
	var text string
	if msg.GetMetaMarker(&text) {
		for status, marker := range transportMarkers {
			if marker == text {
				return midi.Message{status}, true
			}
		}
		return nil, false
	}
	if msg.IsMeta() || len(msg) == 0 {
		return nil, false
	}
	return midi.Message(msg), true
}

func toTicks(d time.Duration) uint32 {
	return uint32(math.Round(float64(d) / float64(tickDuration)))
}
