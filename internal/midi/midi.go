package midi

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/PixPMusic/stem-capture/internal/timeline"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv" // Register rtmidi driver
	"go.uber.org/zap"
)

// ErrPortNotFound is returned when a named MIDI port does not exist
var ErrPortNotFound = errors.New("midi port not found")

// Manager handles MIDI port discovery, listening and sending
type Manager struct {
	mu     sync.RWMutex
	logger *zap.Logger
}

// NewManager creates a new MIDI manager
func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{logger: logger}
}

// Close cleans up the MIDI driver
func (m *Manager) Close() {
	midi.CloseDriver()
}

// ListInPorts returns the names of available MIDI input ports
func (m *Manager) ListInPorts() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ins := midi.GetInPorts()
	names := make([]string, 0, len(ins))
	for _, in := range ins {
		names = append(names, in.String())
	}
	return names
}

// ListOutPorts returns the names of available MIDI output ports
func (m *Manager) ListOutPorts() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	outs := midi.GetOutPorts()
	names := make([]string, 0, len(outs))
	for _, out := range outs {
		names = append(names, out.String())
	}
	return names
}

// GetInPort returns an input port by name
func (m *Manager) GetInPort(name string) (drivers.In, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, in := range midi.GetInPorts() {
		if in.String() == name {
			return in, nil
		}
	}
	return nil, fmt.Errorf("%w: input %q", ErrPortNotFound, name)
}

// GetOutPort returns an output port by name
func (m *Manager) GetOutPort(name string) (drivers.Out, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, out := range midi.GetOutPorts() {
		if out.String() == name {
			return out, nil
		}
	}
	return nil, fmt.Errorf("%w: output %q", ErrPortNotFound, name)
}

// OpenOut returns a send function for the named output port.
// An empty name yields a nil sender, which playback treats as no device.
func (m *Manager) OpenOut(name string) (func(midi.Message) error, error) {
	if name == "" {
		return nil, nil
	}

	out, err := m.GetOutPort(name)
	if err != nil {
		return nil, err
	}

	send, err := midi.SendTo(out)
	if err != nil {
		return nil, fmt.Errorf("failed to create sender: %w", err)
	}

	m.logger.Info("Opened MIDI output", zap.String("port", name))
	return func(msg midi.Message) error {
		m.logger.Debug("MIDI out", zap.Stringer("msg", msg))
		return send(msg)
	}, nil
}

// Recordable reports whether a message belongs in a timeline.
// Clock and active sensing would flood it and are regenerated by the device anyway.
func Recordable(msg midi.Message) bool {
	if len(msg) == 0 {
		return false
	}
	switch msg[0] {
	case 0xF8, 0xFE:
		return false
	}
	return true
}

// Listen records every message arriving on inPortName into tl, stamped on arrival.
// The returned function stops listening.
func (m *Manager) Listen(inPortName string, tl *timeline.Timeline) (func(), error) {
	if inPortName == "" {
		return nil, fmt.Errorf("%w: no input configured", ErrPortNotFound)
	}

	inPort, err := m.GetInPort(inPortName)
	if err != nil {
		return nil, err
	}

	stop, err := midi.ListenTo(inPort, func(msg midi.Message, timestampms int32) {
		if !Recordable(msg) {
			return
		}
		tl.Capture(msg, time.Now())
	}, midi.UseSysEx())
	if err != nil {
		return nil, fmt.Errorf("failed to start listening: %w", err)
	}

	m.logger.Info("Listening for MIDI", zap.String("port", inPortName))
	return stop, nil
}

// Input is a named input port bound to its manager
type Input struct {
	manager *Manager
	port    string
}

// Input returns a handle that records the named port into timelines
func (m *Manager) Input(port string) *Input {
	return &Input{manager: m, port: port}
}

// Listen records the port into tl until the returned stop is called
func (in *Input) Listen(tl *timeline.Timeline) (func(), error) {
	return in.manager.Listen(in.port, tl)
}
