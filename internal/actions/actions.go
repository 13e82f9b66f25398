package actions

import (
	"time"

	"gitlab.com/gomidi/midi/v2"
)

// ActionType represents the type of step in a sequence
type ActionType string

const (
	ActionTypeSend  ActionType = "send"
	ActionTypeSleep ActionType = "sleep"
)

// Action is one named step of a device choreography
type Action struct {
	Name    string
	Type    ActionType
	Message midi.Message  // Send only
	Delay   time.Duration // Sleep only
}

// Send creates a step that sends one MIDI message
func Send(name string, msg midi.Message) Action {
	return Action{Name: name, Type: ActionTypeSend, Message: msg}
}

// Sleep creates a step that waits before the next one
func Sleep(name string, d time.Duration) Action {
	return Action{Name: name, Type: ActionTypeSleep, Delay: d}
}

// Sequence is an ordered list of steps with declared delays
type Sequence struct {
	Name  string
	Steps []Action
}

// NewSequence creates a named sequence
func NewSequence(name string, steps ...Action) Sequence {
	return Sequence{Name: name, Steps: steps}
}

// Then returns a copy of the sequence with steps appended
func (s Sequence) Then(steps ...Action) Sequence {
	out := make([]Action, 0, len(s.Steps)+len(steps))
	out = append(out, s.Steps...)
	out = append(out, steps...)
	return Sequence{Name: s.Name, Steps: out}
}

// Append returns a copy of the sequence followed by the steps of other
func (s Sequence) Append(other Sequence) Sequence {
	return s.Then(other.Steps...)
}

// Empty reports whether the sequence has no steps
func (s Sequence) Empty() bool {
	return len(s.Steps) == 0
}

// Duration returns the total declared delay
func (s Sequence) Duration() time.Duration {
	var total time.Duration
	for _, a := range s.Steps {
		if a.Type == ActionTypeSleep {
			total += a.Delay
		}
	}
	return total
}

// Messages returns the messages the sequence sends, in order
func (s Sequence) Messages() []midi.Message {
	var msgs []midi.Message
	for _, a := range s.Steps {
		if a.Type == ActionTypeSend {
			msgs = append(msgs, a.Message)
		}
	}
	return msgs
}
