package audio

import (
	"sync"
	"time"
)

// CaptureBuffer accumulates audio blocks in arrival order.
// One producer (the audio callback) appends. Any goroutine may query it concurrently.
type CaptureBuffer struct {
	mu         sync.RWMutex
	blocks     []Block
	frames     int
	sampleRate int
}

// NewCaptureBuffer creates an empty buffer for audio at sampleRate
func NewCaptureBuffer(sampleRate int) *CaptureBuffer {
	return &CaptureBuffer{sampleRate: sampleRate}
}

// Append stores a copy of b. Drivers reuse their buffers.
func (c *CaptureBuffer) Append(b Block) {
	if b.Frames() == 0 {
		return
	}
	owned := b.Clone()

	c.mu.Lock()
	c.blocks = append(c.blocks, owned)
	c.frames += owned.Frames()
	c.mu.Unlock()
}

// SampleRate returns the rate the buffer was recorded at
func (c *CaptureBuffer) SampleRate() int {
	return c.sampleRate
}

// Frames returns the number of frames captured so far
func (c *CaptureBuffer) Frames() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.frames
}

// Duration returns the length of the captured audio
func (c *CaptureBuffer) Duration() time.Duration {
	return FramesToDuration(c.Frames(), c.sampleRate)
}

// Blocks returns a snapshot of the captured blocks
func (c *CaptureBuffer) Blocks() []Block {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Block, len(c.blocks))
	copy(out, c.blocks)
	return out
}

// Pair concatenates every block and extracts channels offset and offset+1
func (c *CaptureBuffer) Pair(offset int) Block {
	blocks := c.Blocks()

	total := 0
	for _, b := range blocks {
		total += b.Frames()
	}
	out := Block{Channels: 2, Data: make([]float32, 0, total*2)}
	for _, b := range blocks {
		out.Data = append(out.Data, ExtractPair(b, offset).Data...)
	}
	return out
}

// DetectOnset returns the start of the first onsetChunk-frame window whose peak
// absolute sample on any channel exceeds thresholdDb. Windows are counted from
// the start of the capture, across block boundaries. ok is false when no sample
// exceeds the threshold.
func (c *CaptureBuffer) DetectOnset(thresholdDb float64) (onset time.Duration, ok bool) {
	threshold := float32(dbToLinear(thresholdDb))

	frame := 0
	for _, b := range c.Blocks() {
		for i, s := range b.Data {
			if s > threshold || -s > threshold {
				at := frame + i/b.Channels
				window := (at / onsetChunk) * onsetChunk
				return FramesToDuration(window, c.sampleRate), true
			}
		}
		frame += b.Frames()
	}
	return 0, false
}

// Export writes channels offset and offset+1 to path through w.
// maxFrames > 0 truncates the output to that many frames.
func (c *CaptureBuffer) Export(w FileWriter, path string, offset, maxFrames int) error {
	if c.Frames() == 0 {
		return ErrNoAudio
	}
	pair := c.Pair(offset)
	if maxFrames > 0 {
		pair = pair.Truncate(maxFrames)
	}
	return w.WriteFile(path, pair, c.sampleRate)
}
