package audio

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Source delivers multichannel audio blocks from a driver.
// onBlock runs on the driver's own context and must never block.
type Source interface {
	Start(onBlock func(Block)) error
	Stop() error
	SampleRate() int
	Channels() int
}

// Recorder owns one audio stream. It meters every block and, while recording,
// appends blocks to a fresh CaptureBuffer per pass.
type Recorder struct {
	source Source
	cfg    ChannelConfig
	logger *zap.Logger

	mu        sync.Mutex
	streaming bool

	// Touched from the audio callback
	buffer    atomic.Pointer[CaptureBuffer]
	recording atomic.Bool
	current   atomic.Pointer[Levels]
	levels    chan Levels
}

// NewRecorder creates a recorder reading from source. A nil source makes
// every start call fail with ErrDeviceUnavailable.
func NewRecorder(source Source, cfg ChannelConfig, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Recorder{
		source: source,
		cfg:    cfg,
		logger: logger,
		levels: make(chan Levels, 1),
	}
	silent := Silent
	r.current.Store(&silent)
	return r
}

// Levels delivers metering snapshots. It holds at most one value: the consumer
// always sees the latest block and the audio callback never waits.
func (r *Recorder) Levels() <-chan Levels {
	return r.levels
}

// CurrentLevels returns the latest metering snapshot
func (r *Recorder) CurrentLevels() Levels {
	return *r.current.Load()
}

// SampleRate returns the source sample rate, 0 without a source
func (r *Recorder) SampleRate() int {
	if r.source == nil {
		return 0
	}
	return r.source.SampleRate()
}

// Recording reports whether blocks are being stored
func (r *Recorder) Recording() bool {
	return r.recording.Load()
}

// StartMonitoring opens the stream for metering only
func (r *Recorder) StartMonitoring() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.recording.Store(false)
	if err := r.startStream(); err != nil {
		return err
	}
	r.logger.Info("Monitoring started")
	return nil
}

// StopMonitoring closes the stream unless a recording is in progress
func (r *Recorder) StopMonitoring() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.recording.Load() {
		return nil
	}
	return r.stopStream()
}

// StartRecording begins a new capture pass and returns its buffer.
// Monitoring, if running, turns into recording on the same stream.
func (r *Recorder) StartRecording() (*CaptureBuffer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.source == nil {
		return nil, ErrDeviceUnavailable
	}

	buf := NewCaptureBuffer(r.source.SampleRate())
	r.buffer.Store(buf)
	r.recording.Store(true)

	if err := r.startStream(); err != nil {
		r.recording.Store(false)
		r.buffer.Store(nil)
		return nil, err
	}

	r.logger.Info("Recording started",
		zap.Int("sample_rate", buf.SampleRate()),
		zap.Int("channels", r.source.Channels()))
	return buf, nil
}

// StopRecording closes the stream and returns the finished buffer
func (r *Recorder) StopRecording() (*CaptureBuffer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.recording.Store(false)
	err := r.stopStream()

	buf := r.buffer.Swap(nil)
	if buf == nil {
		return nil, fmt.Errorf("%w: not recording", ErrNoAudio)
	}
	r.logger.Info("Recording stopped",
		zap.Duration("duration", buf.Duration()),
		zap.Int("frames", buf.Frames()))
	return buf, err
}

// CaptureLength returns the duration recorded so far in the current pass
func (r *Recorder) CaptureLength() time.Duration {
	if buf := r.buffer.Load(); buf != nil {
		return buf.Duration()
	}
	return 0
}

func (r *Recorder) startStream() error {
	if r.source == nil {
		return ErrDeviceUnavailable
	}
	if r.streaming {
		return nil
	}
	if err := r.source.Start(r.onBlock); err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	r.streaming = true
	return nil
}

func (r *Recorder) stopStream() error {
	if !r.streaming {
		return nil
	}
	r.streaming = false
	if err := r.source.Stop(); err != nil {
		return fmt.Errorf("failed to stop audio stream: %w", err)
	}
	return nil
}

// onBlock runs on the audio callback context
func (r *Recorder) onBlock(b Block) {
	if r.recording.Load() {
		if buf := r.buffer.Load(); buf != nil {
			buf.Append(b)
		}
	}

	levels := BlockLevels(b, r.cfg)
	r.current.Store(&levels)
	r.publish(levels)
}

// publish replaces any unread snapshot with the newest one
func (r *Recorder) publish(l Levels) {
	select {
	case r.levels <- l:
		return
	default:
	}
	select {
	case <-r.levels:
	default:
	}
	select {
	case r.levels <- l:
	default:
	}
}
