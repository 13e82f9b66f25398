package actions

import (
	"context"
	"fmt"

	"gitlab.com/gomidi/midi/v2"
	"go.uber.org/zap"
)

// Executor runs steps and sequences against one output
type Executor struct {
	handlers map[ActionType]ActionHandler
	logger   *zap.Logger
}

// NewExecutor creates an executor that sends through send.
// A nil send turns every send step into a no-op.
func NewExecutor(send func(midi.Message) error, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		handlers: map[ActionType]ActionHandler{
			ActionTypeSend:  NewMidiHandler(send),
			ActionTypeSleep: &SleepHandler{},
		},
		logger: logger,
	}
}

// Execute runs a single step based on its type
func (e *Executor) Execute(ctx context.Context, action Action) error {
	handler, ok := e.handlers[action.Type]
	if !ok {
		return fmt.Errorf("unknown action type: %s", action.Type)
	}
	return handler.Execute(ctx, action)
}

// Run executes the steps of seq in order. It stops at the first failing step.
// Once ctx is done remaining sleeps are cut short and the context error is returned.
func (e *Executor) Run(ctx context.Context, seq Sequence) error {
	e.logger.Debug("Running sequence",
		zap.String("sequence", seq.Name),
		zap.Int("steps", len(seq.Steps)),
		zap.Int("messages", len(seq.Messages())),
		zap.Duration("declared", seq.Duration()))

	for _, action := range seq.Steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.Execute(ctx, action); err != nil {
			return fmt.Errorf("%s: %w", seq.Name, err)
		}
	}
	return nil
}

// Validate checks every step of seq without running it
func (e *Executor) Validate(seq Sequence) error {
	for _, action := range seq.Steps {
		handler, ok := e.handlers[action.Type]
		if !ok {
			return fmt.Errorf("%s: unknown action type: %s", seq.Name, action.Type)
		}
		if err := handler.Validate(action); err != nil {
			return fmt.Errorf("%s: %w", seq.Name, err)
		}
	}
	return nil
}
