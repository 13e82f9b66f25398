package timeline

import (
	"sync"
	"time"

	"gitlab.com/gomidi/midi/v2"
)

// NumTracks is the number of device tracks that map onto MIDI channels 1-8
const NumTracks = 8

// MIDI status bytes the device uses for transport
const (
	StatusStart    byte = 0xFA
	StatusContinue byte = 0xFB
	StatusStop     byte = 0xFC
)

// minLeadGap keeps consecutive early program changes apart
const minLeadGap = 100 * time.Millisecond

// TimedEvent is one MIDI message stamped with its offset from the start of recording
type TimedEvent struct {
	Timestamp time.Duration // Offset from session start, never negative
	Channel   uint8         // 0-15, 0 for system messages
	Message   midi.Message  // Raw bytes of one MIDI message
}

// IsChannelMessage reports whether the event carries a channel voice message
func (e TimedEvent) IsChannelMessage() bool {
	return len(e.Message) > 0 && e.Message[0] < 0xF0
}

// IsProgramChange reports whether the event is a program change on any channel
func (e TimedEvent) IsProgramChange() bool {
	return len(e.Message) > 0 && e.Message[0]&0xF0 == 0xC0
}

// Timeline is an ordered, append-only log of timed MIDI events.
// A single producer records while a pass is running. Readers only query it
// once recording has stopped.
type Timeline struct {
	mu     sync.RWMutex
	events []TimedEvent
	start  time.Time
}

// New creates an empty timeline
func New() *Timeline {
	return &Timeline{}
}

// FromEvents builds a timeline from already ordered events
func FromEvents(events []TimedEvent) *Timeline {
	t := New()
	for _, ev := range events {
		t.Record(ev)
	}
	return t
}

// Begin clears the timeline and sets the reference instant used by Capture
func (t *Timeline) Begin(start time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = nil
	t.start = start
}

// Capture stamps msg with the time elapsed since Begin and records it
func (t *Timeline) Capture(msg midi.Message, at time.Time) {
	t.mu.RLock()
	start := t.start
	t.mu.RUnlock()

	ts := at.Sub(start)
	if ts < 0 {
		ts = 0
	}
	t.Record(TimedEvent{
		Timestamp: ts,
		Channel:   channelOf(msg),
		Message:   msg,
	})
}

// Record appends an event. Empty messages are ignored. A timestamp earlier
// than the last recorded one is raised to it so the log stays ordered.
func (t *Timeline) Record(ev TimedEvent) {
	if len(ev.Message) == 0 {
		return
	}
	if ev.Timestamp < 0 {
		ev.Timestamp = 0
	}

	// Own the bytes; drivers reuse their buffers
	msg := make(midi.Message, len(ev.Message))
	copy(msg, ev.Message)
	ev.Message = msg

	t.mu.Lock()
	defer t.mu.Unlock()
	if n := len(t.events); n > 0 && ev.Timestamp < t.events[n-1].Timestamp {
		ev.Timestamp = t.events[n-1].Timestamp
	}
	t.events = append(t.events, ev)
}

// Events returns a snapshot of the recorded events
func (t *Timeline) Events() []TimedEvent {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]TimedEvent, len(t.events))
	copy(out, t.events)
	return out
}

// Len returns the number of recorded events
func (t *Timeline) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.events)
}

// Duration returns the timestamp of the last recorded event
func (t *Timeline) Duration() time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.events) == 0 {
		return 0
	}
	return t.events[len(t.events)-1].Timestamp
}

// DetectDeviceStart returns the timestamp of the first transport start.
// A note-on on channel 1 seen before any transport start counts as the start.
func (t *Timeline) DetectDeviceStart() (time.Duration, bool) {
	idx := t.startIndex()
	if idx < 0 {
		return 0, false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.events[idx].Timestamp, true
}

// DetectDeviceStop returns the timestamp of the first transport stop after the detected start
func (t *Timeline) DetectDeviceStop() (time.Duration, bool) {
	idx := t.startIndex()
	if idx < 0 {
		return 0, false
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, ev := range t.events[idx+1:] {
		if ev.Message[0] == StatusStop {
			return ev.Timestamp, true
		}
	}
	return 0, false
}

func (t *Timeline) startIndex() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for i, ev := range t.events {
		status := ev.Message[0]
		if status == StatusStart {
			return i
		}
		// Note-on with velocity 0 is a note-off
		if status == 0x90 && len(ev.Message) >= 3 && ev.Message[2] > 0 {
			return i
		}
	}
	return -1
}

// TrackActivity reports, per track 1-8, whether any channel message was recorded on its channel.
// Index 0 is track 1.
func (t *Timeline) TrackActivity() [NumTracks]bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var activity [NumTracks]bool
	for _, ev := range t.events {
		if ev.IsChannelMessage() && ev.Channel < NumTracks {
			activity[ev.Channel] = true
		}
	}
	return activity
}

// ActiveTracks returns the 1-based numbers of tracks with activity
func (t *Timeline) ActiveTracks() []int {
	var tracks []int
	for i, active := range t.TrackActivity() {
		if active {
			tracks = append(tracks, i+1)
		}
	}
	return tracks
}

// ComputeLeadTimes returns, for each program change, the earlier time it should be sent at.
// The device queues a program change until the next pattern boundary, so each one
// moves forward by leadFraction of the time since the previous program change.
// The result maps event index to adjusted timestamp. An adjusted time never
// exceeds the recorded time, and stays minLeadGap after the previous adjusted
// time whenever the recorded spacing allows it.
func (t *Timeline) ComputeLeadTimes(leadFraction float64) map[int]time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()

	adjusted := make(map[int]time.Duration)
	var prevTime, prevAdjusted time.Duration

	for i, ev := range t.events {
		if !ev.IsProgramChange() {
			continue
		}

		patternLength := ev.Timestamp - prevTime
		lead := time.Duration(float64(patternLength) * leadFraction)

		adj := ev.Timestamp - lead
		if floor := prevAdjusted + minLeadGap; adj < floor {
			adj = floor
		}
		if adj > ev.Timestamp {
			adj = ev.Timestamp
		}

		adjusted[i] = adj
		prevTime = ev.Timestamp
		prevAdjusted = adj
	}

	return adjusted
}

// channelOf extracts the channel from a channel voice message, 0 otherwise
func channelOf(msg midi.Message) uint8 {
	if len(msg) == 0 || msg[0] >= 0xF0 {
		return 0
	}
	return msg[0] & 0x0F
}
