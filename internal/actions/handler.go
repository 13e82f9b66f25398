package actions

import "context"

// ActionHandler defines the interface for executing and validating steps
type ActionHandler interface {
	// Execute runs the step, returning early if ctx is done
	Execute(ctx context.Context, action Action) error

	// Validate checks the step without running it
	Validate(action Action) error
}
