// Package jackaudio captures audio through a JACK client.
package jackaudio

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/PixPMusic/stem-capture/internal/audio"
	"github.com/xthexder/go-jack"
	"go.uber.org/zap"
)

// Source is an audio.Source backed by one JACK input port per channel
type Source struct {
	client  *jack.Client
	ports   []*jack.Port
	connect []string
	logger  *zap.Logger

	mu     sync.Mutex
	active bool

	onBlock atomic.Pointer[func(audio.Block)]
	scratch audio.Block // only touched by the process callback
}

// New opens a JACK client with channels input ports. connect lists the
// capture ports to wire to in_1..in_N, in order; it may be shorter than channels.
func New(name string, channels int, connect []string, logger *zap.Logger) (*Source, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if channels < 1 {
		return nil, fmt.Errorf("%w: need at least one channel", audio.ErrDeviceUnavailable)
	}

	client, status := jack.ClientOpen(name, jack.NoStartServer)
	if client == nil || status != 0 {
		return nil, fmt.Errorf("%w: jack client open failed with status %d", audio.ErrDeviceUnavailable, status)
	}

	s := &Source{
		client:  client,
		connect: connect,
		logger:  logger,
	}

	for i := 0; i < channels; i++ {
		port := client.PortRegister(fmt.Sprintf("in_%d", i+1), jack.DEFAULT_AUDIO_TYPE, jack.PortIsInput, 0)
		if port == nil {
			client.Close()
			return nil, fmt.Errorf("%w: failed to register input port %d", audio.ErrDeviceUnavailable, i+1)
		}
		s.ports = append(s.ports, port)
	}

	if code := client.SetProcessCallback(s.process); code != 0 {
		client.Close()
		return nil, fmt.Errorf("%w: failed to set process callback (%d)", audio.ErrDeviceUnavailable, code)
	}

	logger.Info("JACK client opened",
		zap.String("client", name),
		zap.Int("channels", channels),
		zap.Uint32("sample_rate", client.GetSampleRate()))
	return s, nil
}

// SampleRate returns the JACK server sample rate
func (s *Source) SampleRate() int {
	return int(s.client.GetSampleRate())
}

// Channels returns the number of registered input ports
func (s *Source) Channels() int {
	return len(s.ports)
}

// CapturePorts lists the physical capture ports of the server
func (s *Source) CapturePorts() []string {
	return s.client.GetPorts("", jack.DEFAULT_AUDIO_TYPE, jack.PortIsOutput|jack.PortIsPhysical)
}

// Start activates the client and routes blocks to onBlock
func (s *Source) Start(onBlock func(audio.Block)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.onBlock.Store(&onBlock)
	if s.active {
		return nil
	}

	if code := s.client.Activate(); code != 0 {
		s.onBlock.Store(nil)
		return fmt.Errorf("jack activate failed (%d)", code)
	}
	s.active = true

	for i, src := range s.connect {
		if i >= len(s.ports) || src == "" {
			break
		}
		dst := s.ports[i].GetName()
		if code := s.client.Connect(src, dst); code != 0 {
			// Already connected returns EEXIST, which is fine
			s.logger.Warn("JACK connect failed",
				zap.String("src", src),
				zap.String("dst", dst),
				zap.Int("code", code))
		}
	}
	return nil
}

// Stop deactivates the client; no more blocks are delivered afterwards
func (s *Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.onBlock.Store(nil)
	if !s.active {
		return nil
	}
	s.active = false
	if code := s.client.Deactivate(); code != 0 {
		return fmt.Errorf("jack deactivate failed (%d)", code)
	}
	return nil
}

// Close releases the client
func (s *Source) Close() error {
	if err := s.Stop(); err != nil {
		return err
	}
	if code := s.client.Close(); code != 0 {
		return fmt.Errorf("jack close failed (%d)", code)
	}
	return nil
}

// process runs on the JACK real-time thread
func (s *Source) process(nframes uint32) int {
	cb := s.onBlock.Load()
	if cb == nil {
		return 0
	}

	frames := int(nframes)
	channels := len(s.ports)
	if s.scratch.Frames() != frames || s.scratch.Channels != channels {
		s.scratch = audio.NewBlock(frames, channels)
	}

	for ch, port := range s.ports {
		samples := port.GetBuffer(nframes)
		for i := 0; i < frames && i < len(samples); i++ {
			s.scratch.Data[i*channels+ch] = float32(samples[i])
		}
	}

	(*cb)(s.scratch)
	return 0
}
