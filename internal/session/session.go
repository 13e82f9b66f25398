package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/PixPMusic/stem-capture/internal/audio"
	"github.com/PixPMusic/stem-capture/internal/playback"
	"github.com/PixPMusic/stem-capture/internal/timeline"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrCancelled         = errors.New("capture cancelled")
	ErrDeviceUnavailable = errors.New("device unavailable")
	ErrInvalidState      = errors.New("invalid session state")
	ErrReadyTimeout      = errors.New("playback never became ready")
	ErrCompleteTimeout   = errors.New("playback never completed")
)

// File names inside a session folder
const (
	StereoMixFile = "stereo_mix.wav"
	CueMixFile    = "cue_mix.wav"
	TimelineFile  = "jam.mid"
)

// StemFile returns the file name of a track's stem
func StemFile(track int) string {
	return fmt.Sprintf("track_%d.wav", track)
}

const (
	defaultReadyTimeout = 10 * time.Second
	completeSlack       = 30 * time.Second
)

// State of the capture workflow
type State int

const (
	StateIdle State = iota
	StateJamRecording
	StateReviewing
	StateIsolationCapturing
	StateComplete
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateJamRecording:
		return "jam recording"
	case StateReviewing:
		return "reviewing"
	case StateIsolationCapturing:
		return "isolation capturing"
	case StateComplete:
		return "complete"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Input records incoming MIDI into a timeline until the returned stop is called
type Input interface {
	Listen(tl *timeline.Timeline) (stop func(), err error)
}

// Capture records audio one pass at a time
type Capture interface {
	StartRecording() (*audio.CaptureBuffer, error)
	StopRecording() (*audio.CaptureBuffer, error)
	CaptureLength() time.Duration
}

// Player replays a timeline against the device
type Player interface {
	HasOutput() bool
	Start(ctx context.Context, tl *timeline.Timeline, opts playback.Options) (*playback.Pass, error)
}

// Deps are the collaborators a session drives
type Deps struct {
	Input   Input
	Capture Capture
	Player  Player
	Writer  audio.FileWriter
	Logger  *zap.Logger
}

// Options tune a session
type Options struct {
	OutputDir        string
	Channels         audio.ChannelConfig
	OnsetThresholdDb float64

	TailTime          time.Duration
	StartPattern      int
	ProgChangeChannel uint8
	LeadFraction      float64

	// TrimStems cuts stems to the exact mix length. Off, stems may run a little long.
	TrimStems bool

	ReadyTimeout time.Duration
	// CompleteTimeout bounds one isolation pass. 0 derives it from the timing plus a margin.
	CompleteTimeout time.Duration
}

// Session runs one jam pass followed by isolation passes
type Session struct {
	ID  uuid.UUID
	Dir string

	opts   Options
	deps   Deps
	logger *zap.Logger

	mu       sync.Mutex
	state    State
	busy     bool
	tl       *timeline.Timeline
	stopMIDI func()
	captured map[int]string
}

// New creates an idle session that will write into a new folder under opts.OutputDir
func New(opts Options, deps Deps) *Session {
	id := uuid.New()
	dir := filepath.Join(opts.OutputDir,
		fmt.Sprintf("session_%s_%s", time.Now().Format("20060102_150405"), id.String()[:8]))
	return newSession(id, dir, opts, deps, StateIdle, nil)
}

// Resume reopens an earlier session folder for more isolation passes
func Resume(dir string, tl *timeline.Timeline, opts Options, deps Deps) *Session {
	return newSession(uuid.New(), dir, opts, deps, StateReviewing, tl)
}

func newSession(id uuid.UUID, dir string, opts Options, deps Deps, state State, tl *timeline.Timeline) *Session {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Writer == nil {
		deps.Writer = audio.WAVWriter{}
	}
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = defaultReadyTimeout
	}
	if opts.OnsetThresholdDb == 0 {
		opts.OnsetThresholdDb = audio.DefaultOnsetThresholdDb
	}
	return &Session{
		ID:       id,
		Dir:      dir,
		opts:     opts,
		deps:     deps,
		logger:   logger.With(zap.String("session", id.String())),
		state:    state,
		tl:       tl,
		captured: make(map[int]string),
	}
}

// State returns the current workflow state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Timeline returns the jam timeline, nil before the jam
func (s *Session) Timeline() *timeline.Timeline {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tl
}

// Captured returns the stems written so far, by track
func (s *Session) Captured() map[int]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int]string, len(s.captured))
	for k, v := range s.captured {
		out[k] = v
	}
	return out
}

// StartJam starts MIDI and audio recording together
func (s *Session) StartJam() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateIdle {
		return fmt.Errorf("%w: cannot start jam while %s", ErrInvalidState, s.state)
	}
	if s.deps.Capture == nil {
		return fmt.Errorf("%w: no audio capture", audio.ErrDeviceUnavailable)
	}
	if s.deps.Input == nil {
		return fmt.Errorf("%w: no MIDI input", ErrDeviceUnavailable)
	}

	tl := timeline.New()
	tl.Begin(time.Now())

	stop, err := s.deps.Input.Listen(tl)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	if _, err := s.deps.Capture.StartRecording(); err != nil {
		stop()
		return fmt.Errorf("failed to start jam recording: %w", err)
	}

	s.tl = tl
	s.stopMIDI = stop
	s.state = StateJamRecording
	s.logger.Info("Jam recording started", zap.String("dir", s.Dir))
	return nil
}

// StopJam stops recording, derives the timing and writes the mix files and timeline.
// The returned timing must be passed to every isolation pass.
func (s *Session) StopJam() (Timing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateJamRecording {
		return Timing{}, fmt.Errorf("%w: no jam in progress (%s)", ErrInvalidState, s.state)
	}

	s.stopMIDI()
	s.stopMIDI = nil
	buf, err := s.deps.Capture.StopRecording()
	if err != nil && buf == nil {
		s.state = StateIdle
		return Timing{}, fmt.Errorf("failed to stop jam recording: %w", err)
	}
	if err != nil {
		s.logger.Warn("Audio stream did not stop cleanly", zap.Error(err))
	}

	timing := DeriveTiming(s.tl, buf, s.opts.OnsetThresholdDb)
	s.state = StateReviewing

	s.logger.Info("Jam recording stopped",
		zap.Duration("total", timing.TotalDuration),
		zap.Duration("start_offset", timing.StartOffset),
		zap.Duration("content", timing.ContentDuration),
		zap.String("start_source", string(timing.StartSource)),
		zap.Bool("stop_found", timing.StopFound),
		zap.Int("midi_events", s.tl.Len()),
		zap.Ints("active_tracks", s.tl.ActiveTracks()))
	if timing.Warning != "" {
		s.logger.Warn("Timing is ambiguous", zap.String("warning", timing.Warning))
	}

	if err := os.MkdirAll(s.Dir, 0755); err != nil {
		return timing, fmt.Errorf("failed to create session folder: %w", err)
	}
	if err := buf.Export(s.deps.Writer, filepath.Join(s.Dir, StereoMixFile), s.opts.Channels.MainOffset, 0); err != nil {
		return timing, fmt.Errorf("failed to save stereo mix: %w", err)
	}
	if s.opts.Channels.DualStereo {
		if err := buf.Export(s.deps.Writer, filepath.Join(s.Dir, CueMixFile), s.opts.Channels.CueOffset, 0); err != nil {
			return timing, fmt.Errorf("failed to save cue mix: %w", err)
		}
	}
	if err := s.tl.WriteSMF(filepath.Join(s.Dir, TimelineFile)); err != nil {
		return timing, fmt.Errorf("failed to save timeline: %w", err)
	}
	return timing, nil
}

// StemsToCapture returns the tracks with recorded activity, minus skip, in order
func (s *Session) StemsToCapture(skip []int) []int {
	tl := s.Timeline()
	if tl == nil {
		return nil
	}

	skipped := make(map[int]bool, len(skip))
	for _, t := range skip {
		skipped[t] = true
	}
	var tracks []int
	for _, t := range tl.ActiveTracks() {
		if !skipped[t] {
			tracks = append(tracks, t)
		}
	}
	sort.Ints(tracks)
	return tracks
}

func (s *Session) beginStem(track int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateReviewing && s.state != StateIsolationCapturing {
		return fmt.Errorf("%w: cannot capture stems while %s", ErrInvalidState, s.state)
	}
	if s.busy {
		return fmt.Errorf("%w: a stem capture is already running", ErrInvalidState)
	}
	if track < 1 || track > timeline.NumTracks {
		return fmt.Errorf("invalid track %d", track)
	}
	if s.deps.Player == nil || !s.deps.Player.HasOutput() {
		return fmt.Errorf("%w: no MIDI output", ErrDeviceUnavailable)
	}
	if s.deps.Capture == nil {
		return fmt.Errorf("%w: no audio capture", audio.ErrDeviceUnavailable)
	}
	s.busy = true
	s.state = StateIsolationCapturing
	return nil
}

func (s *Session) endStem() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = false
}

// CaptureStem runs one isolation pass for track and writes its stem.
// Cancelling ctx aborts the pass; the stem is then discarded and ErrCancelled returned.
func (s *Session) CaptureStem(ctx context.Context, track int, timing Timing) (string, error) {
	if err := s.beginStem(track); err != nil {
		return "", err
	}
	defer s.endStem()

	log := s.logger.With(zap.Int("track", track))
	opts := playback.Options{
		IsolatedTrack:     track,
		ContentDuration:   timing.ContentDuration,
		TailTime:          s.opts.TailTime,
		PreRoll:           timing.StartOffset,
		StereoDuration:    timing.TotalDuration,
		StartPattern:      s.opts.StartPattern,
		ProgChangeChannel: s.opts.ProgChangeChannel,
		LeadFraction:      s.opts.LeadFraction,
		CaptureLength:     s.deps.Capture.CaptureLength,
		AwaitAck:          true,
	}

	pass, err := s.deps.Player.Start(ctx, s.Timeline(), opts)
	if err != nil {
		return "", fmt.Errorf("failed to start playback: %w", err)
	}

	select {
	case <-pass.Ready():
	case <-time.After(s.opts.ReadyTimeout):
		pass.Cancel()
		pass.Wait()
		return "", ErrReadyTimeout
	}
	if ctx.Err() != nil {
		pass.Wait()
		return "", ErrCancelled
	}

	if _, err := s.deps.Capture.StartRecording(); err != nil {
		pass.Cancel()
		pass.Wait()
		return "", fmt.Errorf("failed to start stem recording: %w", err)
	}
	pass.Ack()
	log.Info("Capturing stem")

	limit := s.opts.CompleteTimeout
	if limit <= 0 {
		limit = timing.StartOffset + timing.ContentDuration + s.opts.TailTime + timing.TotalDuration + completeSlack
	}
	timedOut := false
	select {
	case <-pass.Complete():
	case <-time.After(limit):
		log.Error("Playback never completed, stopping", zap.Duration("limit", limit))
		timedOut = true
		pass.Cancel()
	}

	buf, stopErr := s.deps.Capture.StopRecording()
	res := pass.Wait()

	if timedOut {
		return "", fmt.Errorf("%w after %v, stem discarded", ErrCompleteTimeout, limit)
	}
	if res.Cancelled {
		log.Info("Stem capture cancelled, discarding audio")
		return "", ErrCancelled
	}
	if buf == nil {
		return "", fmt.Errorf("failed to stop stem recording: %w", stopErr)
	}
	if res.SendErr != nil {
		log.Warn("Some MIDI messages failed to send", zap.Error(res.SendErr))
	}

	maxFrames := 0
	if s.opts.TrimStems {
		maxFrames = timing.TotalFrames
	}
	if buf.Frames() < timing.TotalFrames {
		log.Warn("Stem shorter than mix",
			zap.Int("frames", buf.Frames()),
			zap.Int("mix_frames", timing.TotalFrames))
	}

	path := filepath.Join(s.Dir, StemFile(track))
	if err := buf.Export(s.deps.Writer, path, s.opts.Channels.MainOffset, maxFrames); err != nil {
		return "", fmt.Errorf("failed to save stem: %w", err)
	}

	s.mu.Lock()
	s.captured[track] = path
	s.mu.Unlock()

	log.Info("Stem captured",
		zap.String("path", path),
		zap.Duration("duration", buf.Duration()),
		zap.Int("suppressed_mutes", res.Suppressed))
	return path, nil
}

// Progress is told about each finished track
type Progress func(track int, path string, err error)

// CaptureStems captures tracks in order and then completes the session.
// It stops at the first failure; stems already written stay valid.
func (s *Session) CaptureStems(ctx context.Context, tracks []int, timing Timing, progress Progress) ([]int, error) {
	var done []int
	defer s.Finish()

	for _, track := range tracks {
		if ctx.Err() != nil {
			return done, ErrCancelled
		}
		path, err := s.CaptureStem(ctx, track, timing)
		if progress != nil {
			progress(track, path, err)
		}
		if err != nil {
			return done, err
		}
		done = append(done, track)
	}
	return done, nil
}

// Finish marks the session complete
func (s *Session) Finish() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopMIDI != nil {
		s.stopMIDI()
		s.stopMIDI = nil
	}
	if s.state != StateComplete {
		s.logger.Info("Session complete", zap.Int("stems", len(s.captured)))
	}
	s.state = StateComplete
}
