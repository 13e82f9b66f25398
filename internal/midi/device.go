package midi

import (
	"time"

	"github.com/PixPMusic/stem-capture/internal/actions"
	"gitlab.com/gomidi/midi/v2"
)

// Device describes how to drive one hardware model during a replay pass.
// Every method returns a sequence of named steps; nothing is sent until the
// sequence is run by an actions.Executor.
type Device interface {
	// Name identifies the device in logs
	Name() string

	// Start and Stop trigger the sequencer transport
	Start() actions.Sequence
	Stop() actions.Sequence

	// HardStop stops the sequencer and flushes effect tails, including the settle time
	HardStop() actions.Sequence

	// FlushTails repeats the double-tap stop used after an isolation pass
	FlushTails() actions.Sequence

	// MuteAll mutes every track. Isolate leaves only track (1-based) audible.
	// UnmuteAll restores every track.
	MuteAll() actions.Sequence
	Isolate(track int) actions.Sequence
	UnmuteAll() actions.Sequence

	// SelectPattern sends bank select and program change for a 1-based pattern
	SelectPattern(pattern int, channel uint8) actions.Sequence

	// MuteTarget reports the 1-based track a recorded message mutes or unmutes
	MuteTarget(msg midi.Message) (track int, ok bool)

	// ResponseLatency is the delay between a start trigger and audible output
	ResponseLatency() time.Duration
}

// selectPattern is the standard bank select plus program change, shared by all devices
func selectPattern(pattern int, channel uint8) actions.Sequence {
	if pattern < 1 {
		return actions.NewSequence("select pattern")
	}
	if channel > 15 {
		channel = DefaultAutoChannel
	}
	program := uint8((pattern - 1) & 0x7F)
	return actions.NewSequence("select pattern",
		actions.Send("bank select", midi.ControlChange(channel, ccBankSelect, 0)),
		actions.Sleep("bank gap", messageGap),
		actions.Send("program change", midi.ProgramChange(channel, program)),
		actions.Sleep("pattern settle", patternSettle),
	)
}
