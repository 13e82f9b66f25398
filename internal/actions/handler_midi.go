package actions

import (
	"context"
	"fmt"

	"gitlab.com/gomidi/midi/v2"
)

// MidiHandler sends step messages through an output port
type MidiHandler struct {
	send func(midi.Message) error
}

func NewMidiHandler(send func(midi.Message) error) *MidiHandler {
	return &MidiHandler{send: send}
}

// Execute sends regardless of ctx: a send is never left half done
func (h *MidiHandler) Execute(_ context.Context, action Action) error {
	if err := h.Validate(action); err != nil {
		return err
	}
	if h.send == nil {
		return nil
	}
	if err := h.send(action.Message); err != nil {
		return fmt.Errorf("send %q failed: %w", action.Name, err)
	}
	return nil
}

func (h *MidiHandler) Validate(action Action) error {
	if len(action.Message) == 0 {
		return fmt.Errorf("step %q has no message", action.Name)
	}
	return nil
}
