package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/PixPMusic/stem-capture/internal/audio"
	"github.com/PixPMusic/stem-capture/internal/audio/jackaudio"
	"github.com/PixPMusic/stem-capture/internal/config"
	"github.com/PixPMusic/stem-capture/internal/midi"
	"github.com/PixPMusic/stem-capture/internal/playback"
	"github.com/PixPMusic/stem-capture/internal/session"
	"github.com/PixPMusic/stem-capture/internal/timeline"
	"go.uber.org/zap"
)

type app struct {
	cfg    *config.Config
	logger *zap.Logger
}

// rig is everything one capture run talks to
type rig struct {
	midi     *midi.Manager
	source   *jackaudio.Source
	recorder *audio.Recorder
	player   *playback.Scheduler
}

func (a *app) openRig() (*rig, error) {
	mm := midi.NewManager(a.logger)

	send, err := mm.OpenOut(a.cfg.Device.OutPort)
	if err != nil {
		// Without output the jam still records; isolation passes will refuse to run
		a.logger.Warn("MIDI output unavailable", zap.String("port", a.cfg.Device.OutPort), zap.Error(err))
		send = nil
	}

	channels := a.cfg.ChannelConfig().RecordingChannels(a.cfg.Audio.Channels)
	src, err := jackaudio.New(a.cfg.Audio.JackClient, channels, a.cfg.Audio.JackPorts, a.logger)
	if err != nil {
		mm.Close()
		return nil, err
	}

	device := midi.GetDevice(a.cfg.Device.Type, a.cfg.AutoChannelIndex())
	return &rig{
		midi:     mm,
		source:   src,
		recorder: audio.NewRecorder(src, a.cfg.ChannelConfig(), a.logger),
		player:   playback.NewScheduler(device, send, a.logger),
	}, nil
}

func (r *rig) close(logger *zap.Logger) {
	if err := r.source.Close(); err != nil {
		logger.Warn("Failed to close audio", zap.Error(err))
	}
	r.midi.Close()
}

func (a *app) sessionOptions() session.Options {
	return session.Options{
		OutputDir:         a.cfg.OutputFolder,
		Channels:          a.cfg.ChannelConfig(),
		OnsetThresholdDb:  a.cfg.Audio.OnsetThresholdDb,
		TailTime:          a.cfg.TailTime(),
		StartPattern:      a.cfg.Playback.StartPattern,
		ProgChangeChannel: a.cfg.ProgChangeChannelIndex(),
		LeadFraction:      a.cfg.Playback.LeadFraction,
		TrimStems:         a.cfg.TrimStems,
	}
}

func (a *app) sessionDeps(r *rig) session.Deps {
	return session.Deps{
		Input:   r.midi.Input(a.cfg.Device.InPort),
		Capture: r.recorder,
		Player:  r.player,
		Writer:  audio.WAVWriter{},
		Logger:  a.logger,
	}
}

func (a *app) ports() error {
	mm := midi.NewManager(a.logger)
	defer mm.Close()

	fmt.Println("MIDI inputs:")
	for _, name := range mm.ListInPorts() {
		fmt.Printf("  %s\n", name)
	}
	fmt.Println("MIDI outputs:")
	for _, name := range mm.ListOutPorts() {
		fmt.Printf("  %s\n", name)
	}

	src, err := jackaudio.New(a.cfg.Audio.JackClient, 1, nil, a.logger)
	if err != nil {
		fmt.Printf("JACK: %v\n", err)
		return nil
	}
	defer src.Close()

	fmt.Printf("JACK capture ports (%d Hz):\n", src.SampleRate())
	for _, name := range src.CapturePorts() {
		fmt.Printf("  %s\n", name)
	}
	return nil
}

func (a *app) capture(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("capture", flag.ExitOnError)
	skip := fs.String("skip", "", "tracks to leave out, e.g. 2,5")
	only := fs.String("tracks", "", "capture only these tracks, e.g. 1,3")
	if err := fs.Parse(args); err != nil {
		return err
	}
	skipped, err := parseTracks(*skip)
	if err != nil {
		return err
	}
	selected, err := parseTracks(*only)
	if err != nil {
		return err
	}

	r, err := a.openRig()
	if err != nil {
		return err
	}
	defer r.close(a.logger)

	s := session.New(a.sessionOptions(), a.sessionDeps(r))
	input := bufio.NewReader(os.Stdin)

	if err := r.recorder.StartMonitoring(); err != nil {
		return err
	}
	meterCtx, stopMeter := context.WithCancel(ctx)
	go meter(meterCtx, r.recorder)

	fmt.Println(promptStyle.Render("Press Enter to start the jam."))
	if err := waitEnter(ctx, input); err != nil {
		stopMeter()
		if err := r.recorder.StopMonitoring(); err != nil {
			a.logger.Warn("Failed to stop monitoring", zap.Error(err))
		}
		return nil
	}
	if err := s.StartJam(); err != nil {
		stopMeter()
		return err
	}

	fmt.Println(promptStyle.Render("Recording. Press Enter to stop the jam."))
	interrupted := waitEnter(ctx, input) != nil
	stopMeter()
	fmt.Println()

	timing, err := s.StopJam()
	if err != nil {
		return err
	}
	printTiming(s, timing)
	if interrupted {
		fmt.Println("Interrupted, jam saved without stems.")
		s.Finish()
		return nil
	}

	tracks := selected
	if len(tracks) == 0 {
		tracks = s.StemsToCapture(skipped)
	}
	if len(tracks) == 0 {
		fmt.Println("No track activity recorded, nothing to isolate.")
		s.Finish()
		return nil
	}
	if !r.player.HasOutput() {
		fmt.Println("No MIDI output configured, stems cannot be captured.")
		s.Finish()
		return nil
	}

	fmt.Println(promptStyle.Render(stemPrompt(tracks, a.cfg.Playback.StartPattern)))
	if err := waitEnter(ctx, input); err != nil {
		s.Finish()
		return nil
	}
	return a.captureStems(ctx, s, tracks, timing)
}

func (a *app) replay(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("replay", flag.ExitOnError)
	dir := fs.String("session", "", "session folder holding "+session.TimelineFile)
	offset := fs.Float64("offset", 0, "start offset in seconds (default: transport start in "+session.TimelineFile+")")
	content := fs.Float64("content", 0, "content duration in seconds (default: until the transport stop)")
	total := fs.Float64("total", 0, "total duration in seconds (0: length of "+session.StereoMixFile+")")
	only := fs.String("tracks", "", "tracks to capture, e.g. 1,3 (default: all active)")
	skip := fs.String("skip", "", "tracks to leave out")
	if err := fs.Parse(args); err != nil {
		return err
	}
	given := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { given[f.Name] = true })
	if *dir == "" {
		return errors.New("replay needs -session")
	}
	skipped, err := parseTracks(*skip)
	if err != nil {
		return err
	}
	selected, err := parseTracks(*only)
	if err != nil {
		return err
	}

	tl, err := timeline.ReadSMF(filepath.Join(*dir, session.TimelineFile))
	if err != nil {
		return err
	}

	r, err := a.openRig()
	if err != nil {
		return err
	}
	defer r.close(a.logger)

	rate := r.recorder.SampleRate()
	totalDuration := seconds(*total)
	if totalDuration <= 0 {
		frames, mixRate, err := audio.WAVLength(filepath.Join(*dir, session.StereoMixFile))
		if err != nil {
			return fmt.Errorf("no -total given and the mix length is unknown: %w", err)
		}
		if mixRate != rate {
			a.logger.Warn("Sample rate differs from the jam", zap.Int("jam", mixRate), zap.Int("now", rate))
		}
		totalDuration = audio.FramesToDuration(frames, mixRate)
	}
	var offsetOverride, contentOverride *time.Duration
	if given["offset"] {
		d := seconds(*offset)
		offsetOverride = &d
	}
	if given["content"] {
		d := seconds(*content)
		contentOverride = &d
	}
	timing := replayTiming(tl, totalDuration, rate, offsetOverride, contentOverride)

	s := session.Resume(*dir, tl, a.sessionOptions(), a.sessionDeps(r))
	tracks := selected
	if len(tracks) == 0 {
		tracks = s.StemsToCapture(skipped)
	}
	if len(tracks) == 0 {
		fmt.Println("No track activity in the timeline, nothing to isolate.")
		return nil
	}
	printTiming(s, timing)
	fmt.Println(promptStyle.Render(stemPrompt(tracks, a.cfg.Playback.StartPattern)))
	if err := waitEnter(ctx, bufio.NewReader(os.Stdin)); err != nil {
		return nil
	}
	return a.captureStems(ctx, s, tracks, timing)
}

// stemPrompt asks for the Part to be reloaded: the stems replay MIDI only, so
// knob positions left over from the jam would change the sound.
func stemPrompt(tracks []int, pattern int) string {
	var b strings.Builder
	b.WriteString("Before capturing stems, reload the Part on the Octatrack so the knobs are back at their saved state.\n")
	if pattern > 0 {
		fmt.Fprintf(&b, "Pattern %d is selected over MIDI.\n", pattern)
	} else {
		b.WriteString("Select the pattern the jam started on.\n")
	}
	fmt.Fprintf(&b, "Press Enter to capture tracks %v (Ctrl+C cancels).", tracks)
	return b.String()
}

// replayTiming derives the timing from the saved timeline. A given offset keeps
// the derived end point unless the content is given too.
func replayTiming(tl *timeline.Timeline, total time.Duration, rate int, offset, content *time.Duration) session.Timing {
	timing := session.TimelineTiming(tl, total, rate)
	if offset == nil && content == nil {
		return timing
	}

	start, length := timing.StartOffset, timing.ContentDuration
	if offset != nil {
		start = *offset
		length = timing.StartOffset + timing.ContentDuration - start
	}
	if content != nil {
		length = *content
	}
	return session.NewTiming(start, length, total, rate, session.StartGiven)
}

func (a *app) captureStems(ctx context.Context, s *session.Session, tracks []int, timing session.Timing) error {
	done, err := s.CaptureStems(ctx, tracks, timing, func(track int, path string, err error) {
		switch {
		case err == nil:
			fmt.Println(okStyle.Render(fmt.Sprintf("Track %d: %s", track, path)))
		case errors.Is(err, session.ErrCancelled):
			fmt.Println(dimStyle.Render(fmt.Sprintf("Track %d: cancelled, discarded", track)))
		default:
			fmt.Println(hotStyle.Render(fmt.Sprintf("Track %d: failed: %v", track, err)))
		}
	})
	fmt.Printf("%d of %d stems captured in %s\n", len(done), len(tracks), s.Dir)
	if errors.Is(err, session.ErrCancelled) {
		return nil
	}
	return err
}

func printTiming(s *session.Session, t session.Timing) {
	body := textStyle.Render(fmt.Sprintf(
		"start offset  %.3fs (%s)\ncontent       %.3fs\ntotal         %.3fs (%d frames at %d Hz)",
		t.StartOffset.Seconds(), t.StartSource,
		t.ContentDuration.Seconds(),
		t.TotalDuration.Seconds(), t.TotalFrames, t.SampleRate))
	fmt.Println(panelStyle.Render(titleStyle.Render(s.Dir) + "\n" + body))
	if t.Warning != "" {
		fmt.Println(warnStyle.Render("WARNING: " + t.Warning))
	}
}

// meter prints the main and cue levels on one line until ctx is done
func meter(ctx context.Context, r *audio.Recorder) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	levels := r.Levels()
	last := audio.Silent

	for {
		select {
		case <-ctx.Done():
			return
		case l := <-levels:
			last = l
		case <-ticker.C:
			fmt.Fprintf(os.Stderr, "\rmain %s %s dB   cue %s %s dB ",
				renderLevel(last.MainL), renderLevel(last.MainR),
				renderLevel(last.CueL), renderLevel(last.CueR))
		}
	}
}

// waitEnter blocks until a line is read from in or ctx is done
func waitEnter(ctx context.Context, in *bufio.Reader) error {
	line := make(chan error, 1)
	go func() {
		_, err := in.ReadString('\n')
		line <- err
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-line:
		return err
	}
}

// parseTracks reads a comma separated list of 1-based track numbers
func parseTracks(s string) ([]int, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var tracks []int
	for _, part := range strings.Split(s, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n < 1 || n > timeline.NumTracks {
			return nil, fmt.Errorf("invalid track %q, want 1-%d", part, timeline.NumTracks)
		}
		tracks = append(tracks, n)
	}
	return tracks, nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
