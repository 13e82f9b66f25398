package playback

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/PixPMusic/stem-capture/internal/actions"
	"github.com/PixPMusic/stem-capture/internal/midi"
	"github.com/PixPMusic/stem-capture/internal/timeline"
	gomidi "gitlab.com/gomidi/midi/v2"
	"go.uber.org/zap/zaptest"
)

const autoChannel = 10

// fastDevice speaks the Octatrack protocol without the settle delays
type fastDevice struct {
	*midi.OctatrackDevice
	latency time.Duration
}

func newFastDevice(latency time.Duration) fastDevice {
	return fastDevice{OctatrackDevice: &midi.OctatrackDevice{AutoChannel: autoChannel}, latency: latency}
}

func quick(seq actions.Sequence) actions.Sequence {
	out := actions.NewSequence(seq.Name)
	for _, a := range seq.Steps {
		if a.Type == actions.ActionTypeSend {
			out = out.Then(a)
		}
	}
	return out
}

func (d fastDevice) Start() actions.Sequence      { return quick(d.OctatrackDevice.Start()) }
func (d fastDevice) Stop() actions.Sequence       { return quick(d.OctatrackDevice.Stop()) }
func (d fastDevice) HardStop() actions.Sequence   { return quick(d.OctatrackDevice.HardStop()) }
func (d fastDevice) FlushTails() actions.Sequence { return quick(d.OctatrackDevice.FlushTails()) }
func (d fastDevice) MuteAll() actions.Sequence    { return quick(d.OctatrackDevice.MuteAll()) }
func (d fastDevice) UnmuteAll() actions.Sequence  { return quick(d.OctatrackDevice.UnmuteAll()) }
func (d fastDevice) Isolate(track int) actions.Sequence {
	return quick(d.OctatrackDevice.Isolate(track))
}
func (d fastDevice) SelectPattern(pattern int, channel uint8) actions.Sequence {
	return quick(d.OctatrackDevice.SelectPattern(pattern, channel))
}
func (d fastDevice) ResponseLatency() time.Duration { return d.latency }

type sentMsg struct {
	at  time.Time
	msg gomidi.Message
}

// wire records everything the scheduler sends
type wire struct {
	mu   sync.Mutex
	sent []sentMsg
}

func (w *wire) send(msg gomidi.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sent = append(w.sent, sentMsg{at: time.Now(), msg: msg})
	return nil
}

func (w *wire) between(from, to time.Time) []sentMsg {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []sentMsg
	for _, s := range w.sent {
		if !s.at.Before(from) && !s.at.After(to) {
			out = append(out, s)
		}
	}
	return out
}

func (w *wire) all() []sentMsg {
	return w.between(time.Time{}, time.Now().Add(time.Hour))
}

func isTrigger(msg gomidi.Message, note uint8) bool {
	var ch, key, vel uint8
	return msg.GetNoteOn(&ch, &key, &vel) && ch == autoChannel && key == note && vel > 0
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func at(t int, msg gomidi.Message) timeline.TimedEvent {
	return timeline.TimedEvent{Timestamp: ms(t), Message: msg}
}

func TestNoOutputCompletesImmediately(t *testing.T) {
	s := NewScheduler(newFastDevice(0), nil, zaptest.NewLogger(t))
	if s.HasOutput() {
		t.Fatal("HasOutput() = true without sender")
	}

	tl := timeline.FromEvents([]timeline.TimedEvent{at(0, gomidi.Start())})
	p, err := s.Start(context.Background(), tl, Options{IsolatedTrack: 2, ContentDuration: 10 * time.Second})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case <-p.Complete():
	case <-time.After(time.Second):
		t.Fatal("pass without output did not complete")
	}
	<-p.Ready()

	res := p.Wait()
	if !res.NoOutput || res.Sent != 0 {
		t.Errorf("result = %+v, want no output and nothing sent", res)
	}
}

func TestSecondPassIsRejected(t *testing.T) {
	w := &wire{}
	s := NewScheduler(newFastDevice(0), w.send, zaptest.NewLogger(t))
	tl := timeline.New()

	p, err := s.Start(context.Background(), tl, Options{ContentDuration: 10 * time.Second})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Start(context.Background(), tl, Options{}); !errors.Is(err, ErrBusy) {
		t.Errorf("second Start error = %v, want ErrBusy", err)
	}

	p.Cancel()
	p.Wait()

	p, err = s.Start(context.Background(), tl, Options{ContentDuration: ms(10)})
	if err != nil {
		t.Fatalf("Start after finish: %v", err)
	}
	p.Wait()
}

type brokenIsolation struct{ fastDevice }

func (brokenIsolation) Isolate(int) actions.Sequence {
	return actions.NewSequence("isolate", actions.Send("empty", nil))
}

func TestInvalidDeviceSequenceRejected(t *testing.T) {
	w := &wire{}
	s := NewScheduler(brokenIsolation{newFastDevice(0)}, w.send, zaptest.NewLogger(t))
	tl := timeline.New()

	if _, err := s.Start(context.Background(), tl, Options{IsolatedTrack: 3, ContentDuration: ms(10)}); err == nil {
		t.Fatal("Start accepted an isolate sequence with an empty message")
	}
	if n := len(w.all()); n != 0 {
		t.Errorf("sent %d messages for a rejected pass", n)
	}

	// Rejection must not leave the scheduler busy
	p, err := s.Start(context.Background(), tl, Options{ContentDuration: ms(10)})
	if err != nil {
		t.Fatalf("Start after rejection: %v", err)
	}
	p.Wait()
}

func TestPreRollTimedFromAck(t *testing.T) {
	w := &wire{}
	s := NewScheduler(newFastDevice(0), w.send, zaptest.NewLogger(t))
	tl := timeline.FromEvents([]timeline.TimedEvent{at(0, gomidi.Start())})
	startup := ms(150)
	preRoll := ms(100)

	p, err := s.Start(context.Background(), tl, Options{
		PreRoll:         preRoll,
		ContentDuration: ms(50),
		AwaitAck:        true,
	})
	if err != nil {
		t.Fatal(err)
	}
	<-p.Ready()
	time.Sleep(startup)
	if n := len(w.all()); n != 0 {
		t.Fatalf("sent %d messages before the capture was acknowledged", n)
	}
	p.Ack()
	res := p.Wait()

	if res.AckedAt.IsZero() {
		t.Fatal("AckedAt not recorded")
	}
	if got := res.AckedAt.Sub(res.ReadyAt); got < startup {
		t.Errorf("ack came %v after ready, want at least %v", got, startup)
	}
	if got, want := res.StartSentAt.Sub(res.AckedAt), captureStartDelay+preRoll; got < want {
		t.Errorf("start sent %v after ack, want at least %v", got, want)
	}
}

func TestAckNotAwaitedByDefault(t *testing.T) {
	w := &wire{}
	s := NewScheduler(newFastDevice(0), w.send, zaptest.NewLogger(t))
	tl := timeline.FromEvents([]timeline.TimedEvent{at(0, gomidi.Start())})

	p, err := s.Start(context.Background(), tl, Options{ContentDuration: ms(10)})
	if err != nil {
		t.Fatal(err)
	}
	select {
	case <-p.Done():
	case <-time.After(time.Second):
		t.Fatal("pass without AwaitAck waited for an ack")
	}
	if res := p.Wait(); !res.AckedAt.IsZero() {
		t.Errorf("AckedAt = %v, want zero", res.AckedAt)
	}
}

// Scaled-down jam: start at 0.1s, stop at 0.9s, mix 1.0s long
func TestEndToEndTiming(t *testing.T) {
	w := &wire{}
	latency := ms(20)
	s := NewScheduler(newFastDevice(latency), w.send, zaptest.NewLogger(t))

	tl := timeline.FromEvents([]timeline.TimedEvent{
		at(100, gomidi.Start()),
		at(500, gomidi.NoteOn(0, 36, 100)),
		at(900, gomidi.Stop()),
	})

	p, err := s.Start(context.Background(), tl, Options{
		IsolatedTrack:   1,
		PreRoll:         ms(100),
		ContentDuration: ms(800),
		StereoDuration:  ms(1000),
		LeadFraction:    DefaultLeadFraction,
	})
	if err != nil {
		t.Fatal(err)
	}
	res := p.Wait()

	if res.Cancelled {
		t.Fatal("pass reported cancelled")
	}
	if capture := res.CompletedAt.Sub(res.ReadyAt); capture < ms(1000) {
		t.Errorf("capture length = %v, want >= 1s", capture)
	}

	wantStart := captureStartDelay + ms(100) - latency
	if got := res.StartSentAt.Sub(res.ReadyAt); got < wantStart || got > wantStart+ms(60) {
		t.Errorf("start trigger %v after ready, want ~%v", got, wantStart)
	}

	// Timeline time 0.5s lands 0.4s after the start trigger
	var noteAt time.Time
	for _, s := range w.between(res.StartSentAt, res.StopSentAt) {
		var ch, key, vel uint8
		if s.msg.GetNoteOn(&ch, &key, &vel) && ch == 0 && key == 36 {
			noteAt = s.at
		}
	}
	if noteAt.IsZero() {
		t.Fatal("recorded note was not replayed")
	}
	if got := noteAt.Sub(res.StartSentAt); got < ms(400) || got > ms(460) {
		t.Errorf("note replayed %v after start, want ~400ms", got)
	}

	if got := res.StopSentAt.Sub(res.StartSentAt); got < ms(800) || got > ms(860) {
		t.Errorf("stop trigger %v after start, want ~800ms", got)
	}
}

func TestCaptureLengthProbeExtendsPass(t *testing.T) {
	w := &wire{}
	s := NewScheduler(newFastDevice(0), w.send, zaptest.NewLogger(t))

	var readyNanos atomic.Int64
	probe := func() time.Duration {
		r := readyNanos.Load()
		if r == 0 {
			return 0
		}
		// The audio stream started 100ms late
		return time.Since(time.Unix(0, r)) - ms(100)
	}

	p, err := s.Start(context.Background(), timeline.New(), Options{
		ContentDuration: ms(100),
		StereoDuration:  ms(300),
		CaptureLength:   probe,
	})
	if err != nil {
		t.Fatal(err)
	}
	<-p.Ready()
	readyNanos.Store(time.Now().UnixNano())

	res := p.Wait()
	if got := res.CompletedAt.Sub(res.ReadyAt); got < ms(400) {
		t.Errorf("pass completed %v after ready, want >= 400ms so the late stream reaches 300ms", got)
	}
}

func TestIsolationFiltersOtherTracksMutes(t *testing.T) {
	w := &wire{}
	s := NewScheduler(newFastDevice(0), w.send, zaptest.NewLogger(t))

	var events []timeline.TimedEvent
	for ch := uint8(0); ch < 8; ch++ {
		events = append(events, at(10+int(ch), gomidi.ControlChange(ch, 49, 127)))
	}
	events = append(events,
		at(40, gomidi.NoteOn(0, 60, 100)),
		at(41, gomidi.ControlChange(1, 50, 64)),
		at(42, gomidi.ControlChange(2, 49, 0)),
	)
	tl := timeline.FromEvents(events)

	p, err := s.Start(context.Background(), tl, Options{IsolatedTrack: 3, ContentDuration: ms(100)})
	if err != nil {
		t.Fatal(err)
	}
	res := p.Wait()

	if res.Suppressed != 7 {
		t.Errorf("suppressed = %d, want 7", res.Suppressed)
	}

	var track3Mutes, otherNote, otherCC int
	for _, s := range w.between(res.StartSentAt, res.StopSentAt) {
		var ch, cc, val, key, vel uint8
		switch {
		case s.msg.GetControlChange(&ch, &cc, &val) && cc == 49:
			if ch != 2 {
				t.Errorf("mute for track %d was replayed", ch+1)
			}
			track3Mutes++
		case s.msg.GetControlChange(&ch, &cc, &val) && cc == 50:
			otherCC++
		case s.msg.GetNoteOn(&ch, &key, &vel) && ch == 0:
			otherNote++
		}
	}
	if track3Mutes != 2 {
		t.Errorf("track 3 mutes replayed = %d, want 2", track3Mutes)
	}
	if otherNote != 1 || otherCC != 1 {
		t.Errorf("other events for muted tracks: notes=%d cc=%d, want 1 and 1", otherNote, otherCC)
	}

	// Before ready: every track muted except the solo one
	final := map[uint8]uint8{}
	for _, s := range w.between(time.Time{}, res.ReadyAt) {
		var ch, cc, val uint8
		if s.msg.GetControlChange(&ch, &cc, &val) && cc == 49 {
			final[ch] = val
		}
	}
	for ch := uint8(0); ch < 8; ch++ {
		want := uint8(127)
		if ch == 2 {
			want = 0
		}
		if final[ch] != want {
			t.Errorf("track %d mute before start = %d, want %d", ch+1, final[ch], want)
		}
	}

	// After completion: everything unmuted again
	after := map[uint8]uint8{}
	for _, s := range w.between(res.CompletedAt, time.Now()) {
		var ch, cc, val uint8
		if s.msg.GetControlChange(&ch, &cc, &val) && cc == 49 {
			after[ch] = val
		}
	}
	if len(after) != 8 {
		t.Errorf("unmuted %d tracks after completion, want 8", len(after))
	}
	for ch, val := range after {
		if val != 0 {
			t.Errorf("track %d left muted", ch+1)
		}
	}
}

func TestNonIsolatedReplayForwardsEverything(t *testing.T) {
	w := &wire{}
	s := NewScheduler(newFastDevice(0), w.send, zaptest.NewLogger(t))

	tl := timeline.FromEvents([]timeline.TimedEvent{
		at(5, gomidi.ControlChange(0, 49, 127)),
		at(6, gomidi.ControlChange(5, 49, 127)),
	})
	p, err := s.Start(context.Background(), tl, Options{ContentDuration: ms(50)})
	if err != nil {
		t.Fatal(err)
	}
	res := p.Wait()

	if res.Suppressed != 0 || res.Sent != 2 {
		t.Errorf("sent=%d suppressed=%d, want 2 and 0", res.Sent, res.Suppressed)
	}
	if got := len(w.between(time.Time{}, res.ReadyAt)); got != 0 {
		t.Errorf("%d messages before ready without isolation, want none", got)
	}
}

func TestProgramChangesSentEarlyOnce(t *testing.T) {
	w := &wire{}
	s := NewScheduler(newFastDevice(0), w.send, zaptest.NewLogger(t))

	tl := timeline.FromEvents([]timeline.TimedEvent{
		at(200, gomidi.ProgramChange(autoChannel, 1)),
		at(1000, gomidi.ProgramChange(autoChannel, 2)),
	})
	p, err := s.Start(context.Background(), tl, Options{
		ContentDuration:   ms(1100),
		StartPattern:      1,
		ProgChangeChannel: autoChannel,
		LeadFraction:      0.2,
	})
	if err != nil {
		t.Fatal(err)
	}
	res := p.Wait()

	sentAt := map[uint8][]time.Duration{}
	for _, s := range w.between(res.StartSentAt, res.StopSentAt) {
		var ch, prog uint8
		if s.msg.GetProgramChange(&ch, &prog) {
			sentAt[prog] = append(sentAt[prog], s.at.Sub(res.StartSentAt))
		}
	}

	if len(sentAt[1]) != 1 || len(sentAt[2]) != 1 {
		t.Fatalf("program changes sent %v, want each exactly once", sentAt)
	}
	// 1000ms - 0.2 * 800ms
	if got := sentAt[2][0]; got < ms(835) || got > ms(950) {
		t.Errorf("second program change at %v, want ~840ms", got)
	}

	// Pattern selection happens before ready
	var selected bool
	for _, s := range w.between(time.Time{}, res.ReadyAt) {
		var ch, prog uint8
		if s.msg.GetProgramChange(&ch, &prog) && prog == 0 {
			selected = true
		}
	}
	if !selected {
		t.Error("start pattern was not selected before ready")
	}
}

func TestCancelStillSendsStop(t *testing.T) {
	w := &wire{}
	s := NewScheduler(newFastDevice(0), w.send, zaptest.NewLogger(t))

	tl := timeline.FromEvents([]timeline.TimedEvent{at(0, gomidi.NoteOn(0, 60, 100))})
	p, err := s.Start(context.Background(), tl, Options{
		IsolatedTrack:   2,
		ContentDuration: 30 * time.Second,
		TailTime:        5 * time.Second,
		StereoDuration:  40 * time.Second,
	})
	if err != nil {
		t.Fatal(err)
	}

	<-p.Ready()
	time.Sleep(ms(100))
	cancelAt := time.Now()
	p.Cancel()

	done := make(chan Result, 1)
	go func() { done <- p.Wait() }()

	var res Result
	select {
	case res = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled pass did not finish")
	}

	if !res.Cancelled {
		t.Error("result not marked cancelled")
	}
	if res.StopSentAt.Before(cancelAt) {
		t.Error("stop trigger was not sent after cancellation")
	}

	var stopped bool
	for _, s := range w.between(cancelAt, time.Now()) {
		if isTrigger(s.msg, 33) {
			stopped = true
			break
		}
	}
	if !stopped {
		t.Error("no device stop trigger after cancel")
	}

	select {
	case <-p.Complete():
	default:
		t.Error("complete not signalled after cancel")
	}
}

func TestCancelParentContext(t *testing.T) {
	w := &wire{}
	s := NewScheduler(newFastDevice(0), w.send, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	p, err := s.Start(ctx, timeline.New(), Options{ContentDuration: time.Minute})
	if err != nil {
		t.Fatal(err)
	}
	cancel()

	res := p.Wait()
	if !res.Cancelled {
		t.Error("parent cancellation did not cancel the pass")
	}
	var stops int
	for _, s := range w.all() {
		if isTrigger(s.msg, 33) {
			stops++
		}
	}
	if stops == 0 {
		t.Error("no stop trigger sent")
	}
}
