package playback

import (
	"context"
	"sync"
	"time"
)

// Result describes how a pass went. It is final once Done is closed.
type Result struct {
	Cancelled bool // Stopped by the caller before the end of content
	NoOutput  bool // No sender, nothing was sent

	ReadyAt     time.Time // Ready signal, capture should have begun here
	AckedAt     time.Time // Capture confirmed running, zero without AwaitAck
	StartSentAt time.Time // Device start trigger
	StopSentAt  time.Time // Device stop trigger
	CompletedAt time.Time // Complete signal, capture should end here

	Sent       int   // Timeline events forwarded
	Suppressed int   // Mute events dropped for other tracks
	SendErr    error // First failed send, if any
}

// Pass is one running replay. Ready and Complete each close exactly once,
// in that order, even when the pass is cancelled or has no output, so
// waiting on them never misses a signal.
type Pass struct {
	ready    chan struct{}
	acked    chan struct{}
	complete chan struct{}
	done     chan struct{}

	readyOnce    sync.Once
	ackOnce      sync.Once
	completeOnce sync.Once
	ackTime      time.Time

	cancel context.CancelFunc
	result Result
}

func newPass(cancel context.CancelFunc) *Pass {
	return &Pass{
		ready:    make(chan struct{}),
		acked:    make(chan struct{}),
		complete: make(chan struct{}),
		done:     make(chan struct{}),
		cancel:   cancel,
	}
}

// Ready is closed when audio capture should start
func (p *Pass) Ready() <-chan struct{} {
	return p.ready
}

// Complete is closed when audio capture should stop
func (p *Pass) Complete() <-chan struct{} {
	return p.complete
}

// Done is closed when the pass has fully finished, device restore included
func (p *Pass) Done() <-chan struct{} {
	return p.done
}

// Ack tells the pass the capture stream is running. With Options.AwaitAck the
// pre-roll is timed from here, so stream start-up does not eat into it.
func (p *Pass) Ack() {
	p.ackOnce.Do(func() {
		p.ackTime = time.Now()
		close(p.acked)
	})
}

// Cancel stops the pass. The device stop trigger is still sent.
func (p *Pass) Cancel() {
	p.cancel()
}

// Wait blocks until the pass is done and returns its result
func (p *Pass) Wait() Result {
	<-p.done
	return p.result
}

func (p *Pass) signalReady() {
	p.readyOnce.Do(func() {
		p.result.ReadyAt = time.Now()
		close(p.ready)
	})
}

func (p *Pass) signalComplete() {
	p.signalReady()
	p.completeOnce.Do(func() {
		p.result.CompletedAt = time.Now()
		close(p.complete)
	})
}

func (p *Pass) finish() {
	p.signalComplete()
	p.cancel()
	close(p.done)
}
