package actions

import (
	"context"
	"fmt"
	"time"
)

// SleepHandler waits for the step delay or until ctx is done
type SleepHandler struct{}

func (h *SleepHandler) Execute(ctx context.Context, action Action) error {
	if err := h.Validate(action); err != nil {
		return err
	}
	return Wait(ctx, action.Delay)
}

func (h *SleepHandler) Validate(action Action) error {
	if action.Delay < 0 {
		return fmt.Errorf("step %q: duration cannot be negative", action.Name)
	}
	return nil
}

// Wait blocks for d, returning ctx.Err() if ctx ends first
func Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
