package playback

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/PixPMusic/stem-capture/internal/actions"
	"github.com/PixPMusic/stem-capture/internal/midi"
	"github.com/PixPMusic/stem-capture/internal/timeline"
	gomidi "gitlab.com/gomidi/midi/v2"
	"go.uber.org/zap"
)

// ErrBusy is returned when a pass is started while another one is running
var ErrBusy = errors.New("playback already running")

const (
	// Replay loop granularity
	loopInterval = time.Millisecond

	// Pause after the ready signal so the audio stream is filling before anything else happens
	captureStartDelay = 50 * time.Millisecond

	// Extra time given to the audio side to reach the target length
	captureCatchUpLimit = 2 * time.Second
	captureProbeEvery   = 10 * time.Millisecond

	// How long an AwaitAck pass waits for the capture side after Ready
	ackTimeout = 5 * time.Second

	// Content length used when none is given: last event plus this
	defaultContentPadding = 500 * time.Millisecond

	DefaultLeadFraction = 0.2
)

// Options configure one replay pass
type Options struct {
	IsolatedTrack   int           // 1-8 solos that track; 0 replays everything
	ContentDuration time.Duration // Device playing time; 0 means the timeline length plus padding
	TailTime        time.Duration // Recording continues this long after the stop trigger
	PreRoll         time.Duration // Silence before the device is heard
	StereoDuration  time.Duration // Minimum capture length measured from the ready signal

	StartPattern      int   // 1-based pattern selected before start; 0 keeps the current one
	ProgChangeChannel uint8 // 0-indexed channel for the pattern selection

	LeadFraction float64 // Share of the pattern length program changes are sent early

	// AwaitAck holds the pass after Ready until Pass.Ack is called, so the
	// pre-roll and StereoDuration are measured from a running capture.
	AwaitAck bool

	// CaptureLength reports how much audio has been captured so far. When set,
	// the pass waits, up to a bounded extra time, until it reaches StereoDuration.
	CaptureLength func() time.Duration
}

func (o Options) isolating() bool {
	return o.IsolatedTrack >= 1 && o.IsolatedTrack <= midi.NumTracks
}

// Scheduler replays timelines against one device, one pass at a time
type Scheduler struct {
	device  midi.Device
	send    func(gomidi.Message) error
	logger  *zap.Logger
	running atomic.Bool
}

// NewScheduler creates a scheduler. A nil send makes every pass complete
// immediately without sending anything.
func NewScheduler(device midi.Device, send func(gomidi.Message) error, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{device: device, send: send, logger: logger}
}

// HasOutput reports whether passes will reach a device
func (s *Scheduler) HasOutput() bool {
	return s.send != nil
}

// Start launches a replay of tl in the background and returns its handle.
// Cancelling ctx has the same effect as Pass.Cancel.
func (s *Scheduler) Start(ctx context.Context, tl *timeline.Timeline, opts Options) (*Pass, error) {
	if err := s.validate(opts); err != nil {
		return nil, err
	}
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}

	passCtx, cancel := context.WithCancel(ctx)
	p := newPass(cancel)
	go s.run(passCtx, p, tl, opts)
	return p, nil
}

// validate checks every device sequence a pass with opts would run
func (s *Scheduler) validate(opts Options) error {
	seqs := []actions.Sequence{s.device.Start(), s.device.Stop()}
	if opts.isolating() {
		seqs = append(seqs,
			s.device.HardStop(),
			s.device.MuteAll(),
			s.device.Isolate(opts.IsolatedTrack),
			s.device.FlushTails(),
			s.device.UnmuteAll())
	}
	if opts.StartPattern > 0 {
		seqs = append(seqs, s.device.SelectPattern(opts.StartPattern, opts.ProgChangeChannel))
	}

	exec := actions.NewExecutor(nil, s.logger)
	for _, seq := range seqs {
		if err := exec.Validate(seq); err != nil {
			return fmt.Errorf("invalid %s sequence: %w", s.device.Name(), err)
		}
	}
	return nil
}

func (s *Scheduler) run(ctx context.Context, p *Pass, tl *timeline.Timeline, opts Options) {
	defer s.running.Store(false)
	defer p.finish()

	log := s.logger.With(
		zap.String("device", s.device.Name()),
		zap.Int("isolated_track", opts.IsolatedTrack))

	if s.send == nil {
		log.Warn("No MIDI output, playback skipped")
		p.result.NoOutput = true
		return
	}

	exec := actions.NewExecutor(s.sender(p, log), log)
	// Stop and restore sequences must go out even after cancellation
	keep := context.WithoutCancel(ctx)
	isolating := opts.isolating()

	if isolating && s.device.Isolate(opts.IsolatedTrack).Empty() {
		log.Warn("Device has no track mutes, the stem will contain every track")
	}
	if isolating {
		for _, seq := range []actions.Sequence{
			s.device.HardStop(),
			s.device.MuteAll(),
			s.device.Isolate(opts.IsolatedTrack),
		} {
			if err := exec.Run(ctx, seq); err != nil {
				break
			}
		}
	}
	if opts.StartPattern > 0 && ctx.Err() == nil {
		_ = exec.Run(ctx, s.device.SelectPattern(opts.StartPattern, opts.ProgChangeChannel))
	}

	if ctx.Err() == nil {
		p.signalReady()
		if opts.AwaitAck {
			s.awaitAck(ctx, p, log)
		}
		_ = actions.Wait(ctx, captureStartDelay)

		wait := opts.PreRoll - s.device.ResponseLatency()
		if wait < 0 {
			wait = 0
		}
		log.Info("Pre-roll",
			zap.Duration("pre_roll", opts.PreRoll),
			zap.Duration("latency", s.device.ResponseLatency()),
			zap.Duration("wait", wait))
		_ = actions.Wait(ctx, wait)
	}

	if ctx.Err() == nil {
		p.result.StartSentAt = time.Now()
		_ = exec.Run(keep, s.device.Start())
		origin := time.Now().Add(-opts.PreRoll)
		s.replay(ctx, p, exec, tl, opts, origin, log)
	}

	cancelled := ctx.Err() != nil
	p.result.StopSentAt = time.Now()
	_ = exec.Run(keep, s.device.Stop())

	if !cancelled && opts.TailTime > 0 {
		log.Info("Waiting for effect tails", zap.Duration("tail", opts.TailTime))
		_ = actions.Wait(ctx, opts.TailTime)
	}
	if !cancelled && ctx.Err() == nil && opts.StereoDuration > 0 {
		s.matchDuration(ctx, p, opts, log)
	}

	p.result.Cancelled = ctx.Err() != nil
	p.signalComplete()

	if isolating {
		_ = exec.Run(keep, s.device.FlushTails().Append(s.device.UnmuteAll()))
	}

	log.Info("Playback finished",
		zap.Bool("cancelled", p.result.Cancelled),
		zap.Int("sent", p.result.Sent),
		zap.Int("suppressed", p.result.Suppressed),
		zap.Duration("capture", p.result.CompletedAt.Sub(p.captureStart())))
}

// sender forwards to the output and keeps going on failure; sends are fire-and-forget
func (s *Scheduler) sender(p *Pass, log *zap.Logger) func(gomidi.Message) error {
	return func(msg gomidi.Message) error {
		if err := s.send(msg); err != nil {
			log.Warn("MIDI send failed", zap.Stringer("msg", msg), zap.Error(err))
			if p.result.SendErr == nil {
				p.result.SendErr = err
			}
		}
		return nil
	}
}

type earlyEvent struct {
	at    time.Duration
	index int
}

// replay runs the timed loop until the content ends or ctx is cancelled.
// origin is the wall-clock instant that corresponds to timeline time zero.
func (s *Scheduler) replay(ctx context.Context, p *Pass, exec *actions.Executor, tl *timeline.Timeline, opts Options, origin time.Time, log *zap.Logger) {
	events := tl.Events()

	content := opts.ContentDuration
	if content <= 0 {
		content = tl.Duration() + defaultContentPadding
	}
	end := opts.PreRoll + content

	fraction := opts.LeadFraction
	if fraction < 0 {
		fraction = 0
	}
	var early []earlyEvent
	for idx, at := range tl.ComputeLeadTimes(fraction) {
		early = append(early, earlyEvent{at: at, index: idx})
	}
	sort.Slice(early, func(i, j int) bool {
		if early[i].at == early[j].at {
			return early[i].index < early[j].index
		}
		return early[i].at < early[j].at
	})
	sentEarly := make([]bool, len(events))

	log.Info("Replaying timeline",
		zap.Int("events", len(events)),
		zap.Int("program_changes", len(early)),
		zap.Duration("content", content),
		zap.Duration("until", end))

	ticker := time.NewTicker(loopInterval)
	defer ticker.Stop()

	next, nextEarly := 0, 0
	for {
		if ctx.Err() != nil {
			return
		}
		now := time.Since(origin)
		if now >= end {
			return
		}

		// Program changes go out at their lead-adjusted time and never again
		for nextEarly < len(early) && early[nextEarly].at <= now {
			ev := events[early[nextEarly].index]
			log.Debug("Early program change",
				zap.Duration("at", early[nextEarly].at),
				zap.Duration("recorded", ev.Timestamp))
			s.dispatch(ctx, p, exec, ev)
			sentEarly[early[nextEarly].index] = true
			nextEarly++
		}

		for next < len(events) {
			if sentEarly[next] {
				next++
				continue
			}
			ev := events[next]
			if ev.Timestamp > now {
				break
			}
			next++
			if s.suppressed(ev, opts) {
				p.result.Suppressed++
				log.Debug("Suppressed mute", zap.Uint8("channel", ev.Channel+1))
				continue
			}
			s.dispatch(ctx, p, exec, ev)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) dispatch(ctx context.Context, p *Pass, exec *actions.Executor, ev timeline.TimedEvent) {
	if err := exec.Execute(ctx, actions.Send("replay", ev.Message)); err == nil {
		p.result.Sent++
	}
}

// suppressed reports whether ev is a recorded mute for a track other than the soloed one
func (s *Scheduler) suppressed(ev timeline.TimedEvent, opts Options) bool {
	if !opts.isolating() {
		return false
	}
	track, ok := s.device.MuteTarget(ev.Message)
	return ok && track != opts.IsolatedTrack
}

func (s *Scheduler) awaitAck(ctx context.Context, p *Pass, log *zap.Logger) {
	select {
	case <-p.acked:
		p.result.AckedAt = p.ackTime
		log.Debug("Capture running", zap.Duration("startup", p.ackTime.Sub(p.result.ReadyAt)))
	case <-time.After(ackTimeout):
		log.Warn("Capture never acknowledged, timing from the ready signal", zap.Duration("waited", ackTimeout))
	case <-ctx.Done():
	}
}

// captureStart is where the captured audio begins
func (p *Pass) captureStart() time.Time {
	if !p.result.AckedAt.IsZero() {
		return p.result.AckedAt
	}
	return p.result.ReadyAt
}

// matchDuration keeps the pass alive until the capture is at least StereoDuration long.
// Stems are extended to the mix length, never shortened here.
func (s *Scheduler) matchDuration(ctx context.Context, p *Pass, opts Options, log *zap.Logger) {
	elapsed := time.Since(p.captureStart())
	if remaining := opts.StereoDuration - elapsed; remaining > 0 {
		log.Info("Extending capture to mix length",
			zap.Duration("elapsed", elapsed),
			zap.Duration("remaining", remaining),
			zap.Duration("target", opts.StereoDuration))
		if err := actions.Wait(ctx, remaining); err != nil {
			return
		}
	}

	if opts.CaptureLength == nil {
		return
	}
	deadline := time.Now().Add(captureCatchUpLimit)
	for opts.CaptureLength() < opts.StereoDuration {
		if time.Now().After(deadline) {
			log.Warn("Capture still shorter than mix",
				zap.Duration("captured", opts.CaptureLength()),
				zap.Duration("target", opts.StereoDuration))
			return
		}
		if err := actions.Wait(ctx, captureProbeEvery); err != nil {
			return
		}
	}
}
