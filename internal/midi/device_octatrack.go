package midi

import (
	"fmt"
	"time"

	"github.com/PixPMusic/stem-capture/internal/actions"
	"gitlab.com/gomidi/midi/v2"
)

// OctatrackDevice implements Device for the Elektron Octatrack.
// Transport is driven with the start/stop trigger notes on the auto channel
// and tracks 1-8 listen on channels 1-8.
type OctatrackDevice struct {
	AutoChannel uint8 // 0-indexed
}

func (d *OctatrackDevice) Name() string {
	return "octatrack"
}

func (d *OctatrackDevice) trigger(name string, note uint8) []actions.Action {
	return []actions.Action{
		actions.Send(name+" on", midi.NoteOn(d.AutoChannel, note, triggerVelocity)),
		actions.Sleep(name+" hold", triggerHold),
		actions.Send(name+" off", midi.NoteOff(d.AutoChannel, note)),
	}
}

func (d *OctatrackDevice) Start() actions.Sequence {
	return actions.NewSequence("start", d.trigger("start", noteStartTrigger)...)
}

func (d *OctatrackDevice) Stop() actions.Sequence {
	return actions.NewSequence("stop", d.trigger("stop", noteStopTrigger)...)
}

// HardStop: the first stop halts the sequencer, the quick double tap that
// follows clears delay and reverb tails.
func (d *OctatrackDevice) HardStop() actions.Sequence {
	return actions.NewSequence("hard stop", d.trigger("stop", noteStopTrigger)...).
		Then(actions.Sleep("stop gap", hardStopGap)).
		Then(d.trigger("flush", noteStopTrigger)...).
		Then(actions.Sleep("double tap gap", doubleTapGap)).
		Then(d.trigger("flush again", noteStopTrigger)...).
		Then(actions.Sleep("tail settle", tailFlushSettle))
}

func (d *OctatrackDevice) FlushTails() actions.Sequence {
	return actions.NewSequence("flush tails", d.trigger("flush", noteStopTrigger)...).
		Then(actions.Sleep("double tap gap", doubleTapGap)).
		Then(d.trigger("flush again", noteStopTrigger)...).
		Then(actions.Sleep("flush settle", isolationSettle))
}

func (d *OctatrackDevice) mutes(name string, value func(track int) uint8, settle time.Duration) actions.Sequence {
	seq := actions.NewSequence(name)
	for track := 1; track <= NumTracks; track++ {
		if track > 1 {
			seq = seq.Then(actions.Sleep("mute gap", messageGap))
		}
		seq = seq.Then(actions.Send(
			fmt.Sprintf("track %d mute=%d", track, value(track)),
			midi.ControlChange(uint8(track-1), ccTrackMute, value(track)),
		))
	}
	return seq.Then(actions.Sleep(name+" settle", settle))
}

func (d *OctatrackDevice) MuteAll() actions.Sequence {
	return d.mutes("mute all", func(int) uint8 { return muteOn }, muteSettle)
}

// Isolate must run while the sequencer is stopped, mutes are ignored otherwise
func (d *OctatrackDevice) Isolate(solo int) actions.Sequence {
	return d.mutes(fmt.Sprintf("isolate track %d", solo), func(track int) uint8 {
		if track == solo {
			return muteOff
		}
		return muteOn
	}, isolationSettle)
}

func (d *OctatrackDevice) UnmuteAll() actions.Sequence {
	return d.mutes("unmute all", func(int) uint8 { return muteOff }, messageGap)
}

func (d *OctatrackDevice) SelectPattern(pattern int, channel uint8) actions.Sequence {
	return selectPattern(pattern, channel)
}

func (d *OctatrackDevice) MuteTarget(msg midi.Message) (int, bool) {
	var ch, cc, val uint8
	if !msg.GetControlChange(&ch, &cc, &val) {
		return 0, false
	}
	if cc != ccTrackMute || ch >= NumTracks {
		return 0, false
	}
	return int(ch) + 1, true
}

func (d *OctatrackDevice) ResponseLatency() time.Duration {
	return octatrackLatency
}
