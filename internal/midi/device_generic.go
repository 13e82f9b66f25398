package midi

import (
	"time"

	"github.com/PixPMusic/stem-capture/internal/actions"
	"gitlab.com/gomidi/midi/v2"
)

// GenericDevice implements Device with system real-time transport only.
// It has no track mutes, so isolation sequences are empty.
type GenericDevice struct{}

func (d *GenericDevice) Name() string {
	return "generic"
}

func (d *GenericDevice) Start() actions.Sequence {
	return actions.NewSequence("start", actions.Send("start", midi.Start()))
}

func (d *GenericDevice) Stop() actions.Sequence {
	return actions.NewSequence("stop", actions.Send("stop", midi.Stop()))
}

func (d *GenericDevice) HardStop() actions.Sequence {
	return d.Stop()
}

func (d *GenericDevice) FlushTails() actions.Sequence {
	return actions.NewSequence("flush tails")
}

func (d *GenericDevice) MuteAll() actions.Sequence {
	return actions.NewSequence("mute all")
}

func (d *GenericDevice) Isolate(track int) actions.Sequence {
	return actions.NewSequence("isolate")
}

func (d *GenericDevice) UnmuteAll() actions.Sequence {
	return actions.NewSequence("unmute all")
}

func (d *GenericDevice) SelectPattern(pattern int, channel uint8) actions.Sequence {
	return selectPattern(pattern, channel)
}

func (d *GenericDevice) MuteTarget(msg midi.Message) (int, bool) {
	return 0, false
}

func (d *GenericDevice) ResponseLatency() time.Duration {
	return 0
}
