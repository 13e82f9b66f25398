package midi

import (
	"time"

	"github.com/PixPMusic/stem-capture/internal/timeline"
)

// DeviceType represents the protocol family of the controlled device
type DeviceType string

const (
	DeviceTypeOctatrack DeviceType = "octatrack" // Elektron Octatrack, auto channel triggers and CC49 mutes
	DeviceTypeGeneric   DeviceType = "generic"   // Plain MIDI transport, no track mutes
)

// NumTracks is the number of audio tracks the device exposes on channels 1-8
const NumTracks = timeline.NumTracks

// Octatrack protocol constants
const (
	DefaultAutoChannel uint8 = 10 // Channel 11, 0-indexed

	noteStopTrigger  uint8 = 33
	noteStartTrigger uint8 = 34
	triggerVelocity  uint8 = 100
	ccTrackMute      uint8 = 49
	ccBankSelect     uint8 = 0
	muteOn           uint8 = 127
	muteOff          uint8 = 0
)

// Choreography delays
const (
	triggerHold     = 10 * time.Millisecond
	messageGap      = 20 * time.Millisecond
	hardStopGap     = 100 * time.Millisecond
	doubleTapGap    = 20 * time.Millisecond
	tailFlushSettle = 500 * time.Millisecond
	muteSettle      = 300 * time.Millisecond
	patternSettle   = 300 * time.Millisecond
	isolationSettle = 300 * time.Millisecond

	// Time between a start trigger and the first audible sound
	octatrackLatency = 200 * time.Millisecond
)
