package session_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/parlodev/parlo/internal/capture"
	"github.com/parlodev/parlo/internal/playback"
	"github.com/parlodev/parlo/internal/session"
	"github.com/parlodev/parlo/internal/transport"
	tmock "github.com/parlodev/parlo/internal/transport/mock"
	"github.com/parlodev/parlo/pkg/audio"
	"github.com/parlodev/parlo/pkg/audio/codec"
	"github.com/parlodev/parlo/pkg/audio/device"
	devmock "github.com/parlodev/parlo/pkg/audio/device/mock"
)

var testCfg = device.StreamConfig{SampleRate: audio.SampleRate, FrameSize: 240}

// pipeline bundles a coordinator with the mocks behind it.
type pipeline struct {
	coord  *session.Coordinator
	in     *devmock.Input
	out    *devmock.Output
	dialer *tmock.Dialer
}

func newPipeline(t *testing.T, dialer *tmock.Dialer, opts ...session.Option) *pipeline {
	t.Helper()
	in := devmock.NewInput()
	out := devmock.NewOutput()
	capEng := capture.New(in, testCfg)
	playEng := playback.New(out, testCfg)
	coord := session.New(dialer, capEng, playEng, transport.SessionConfig{Model: "test-model"}, opts...)
	t.Cleanup(func() { _ = coord.Stop() })
	return &pipeline{coord: coord, in: in, out: out, dialer: dialer}
}

// testChunk builds a short encoded chunk whose every sample is level.
func testChunk(level float32) codec.Chunk {
	samples := make([]float32, 240)
	for i := range samples {
		samples[i] = level
	}
	return codec.Encode(audio.Frame{Samples: samples, SampleRate: audio.SampleRate})
}

func waitChunk(t *testing.T, ch <-chan codec.Chunk) codec.Chunk {
	t.Helper()
	select {
	case c := <-ch:
		return c
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for chunk")
		return ""
	}
}

func TestStart_Dictation_ForwardsCaptureToTransport(t *testing.T) {
	t.Parallel()

	p := newPipeline(t, tmock.NewDialer())
	if err := p.coord.Start(context.Background(), session.ModeDictation); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ch := p.dialer.Channel(0)

	p.in.QueueFrames(audio.Frame{Samples: []float32{0.1, 0.2}, SampleRate: audio.SampleRate})
	sent := waitChunk(t, ch.SentChunks())
	if _, err := codec.Decode(sent); err != nil {
		t.Fatalf("sent chunk does not decode: %v", err)
	}

	// Dictation never touches the output device.
	if p.out.Stream() != nil {
		t.Error("output device was opened in dictation mode")
	}

	if got := p.coord.State(); got != session.StateActive {
		t.Errorf("state = %s, want active", got)
	}
	snap := p.coord.Snapshot()
	if snap.Mode != session.ModeDictation {
		t.Errorf("mode = %s, want dictation", snap.Mode)
	}
	if snap.Capture != capture.StateRecording {
		t.Errorf("capture state = %s, want recording", snap.Capture)
	}

	if err := p.coord.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := p.coord.State(); got != session.StateIdle {
		t.Errorf("state after Stop = %s, want idle", got)
	}
	if ch.CloseCount() == 0 {
		t.Error("transport channel was not closed")
	}
	if p.in.Stream().CloseCount() == 0 {
		t.Error("input device was not released")
	}
}

func TestStart_Discussion_PlaysInboundAudio(t *testing.T) {
	t.Parallel()

	p := newPipeline(t, tmock.NewDialer())
	if err := p.coord.Start(context.Background(), session.ModeDiscussion); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ch := p.dialer.Channel(0)

	ch.PushAudio(testChunk(0.5))

	select {
	case buf := <-p.out.Stream().Written():
		if buf[0] < 0.4 {
			t.Errorf("played level = %v, want ~0.5", buf[0])
		}
	case <-time.After(3 * time.Second):
		t.Fatal("inbound audio never reached the output device")
	}
}

func TestTranscriptHandler_ReceivesBothRoles(t *testing.T) {
	t.Parallel()

	got := make(chan transport.Transcript, 4)
	p := newPipeline(t, tmock.NewDialer(),
		session.WithTranscriptHandler(func(tr transport.Transcript) { got <- tr }),
	)
	if err := p.coord.Start(context.Background(), session.ModeDictation); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ch := p.dialer.Channel(0)

	ch.PushTranscript(transport.Transcript{Role: "user", Text: "testing one two"})
	ch.PushTranscript(transport.Transcript{Role: "assistant", Text: "noted"})

	for _, want := range []transport.Transcript{
		{Role: "user", Text: "testing one two"},
		{Role: "assistant", Text: "noted"},
	} {
		select {
		case tr := <-got:
			if tr != want {
				t.Errorf("transcript = %+v, want %+v", tr, want)
			}
		case <-time.After(3 * time.Second):
			t.Fatal("timeout waiting for transcript")
		}
	}
}

func TestSetMuted_DiscardsInboundAudio(t *testing.T) {
	t.Parallel()

	p := newPipeline(t, tmock.NewDialer())
	if err := p.coord.Start(context.Background(), session.ModeDiscussion); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ch := p.dialer.Channel(0)

	p.coord.SetMuted(true)
	if !p.coord.Muted() {
		t.Fatal("Muted() = false after SetMuted(true)")
	}
	ch.PushAudio(testChunk(0.5))

	// Give the pump time to process the muted chunk, then unmute and verify
	// only the post-unmute chunk plays.
	time.Sleep(50 * time.Millisecond)
	p.coord.SetMuted(false)
	ch.PushAudio(testChunk(0.2))

	select {
	case buf := <-p.out.Stream().Written():
		if buf[0] > 0.3 {
			t.Errorf("muted chunk leaked through: level %v", buf[0])
		}
	case <-time.After(3 * time.Second):
		t.Fatal("post-unmute audio never played")
	}
	if got := len(p.out.Stream().Buffers()); got != 1 {
		t.Errorf("buffers written = %d, want 1", got)
	}
}

func TestSetVolume_Passthrough(t *testing.T) {
	t.Parallel()

	p := newPipeline(t, tmock.NewDialer())
	if err := p.coord.SetVolume(0.25); err != nil {
		t.Fatalf("SetVolume: %v", err)
	}
	if got := p.coord.Volume(); got != 0.25 {
		t.Errorf("Volume() = %v, want 0.25", got)
	}
	if err := p.coord.SetVolume(2); err == nil {
		t.Error("SetVolume(2) should be rejected")
	}
}

func TestPauseResume_Capture(t *testing.T) {
	t.Parallel()

	p := newPipeline(t, tmock.NewDialer())
	if err := p.coord.Start(context.Background(), session.ModeDictation); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := p.coord.PauseCapture(); err != nil {
		t.Fatalf("PauseCapture: %v", err)
	}
	if got := p.coord.Snapshot().Capture; got != capture.StatePaused {
		t.Errorf("capture state = %s, want paused", got)
	}
	if err := p.coord.ResumeCapture(); err != nil {
		t.Fatalf("ResumeCapture: %v", err)
	}
	if got := p.coord.Snapshot().Capture; got != capture.StateRecording {
		t.Errorf("capture state = %s, want recording", got)
	}
}

func TestStart_DialFailure(t *testing.T) {
	t.Parallel()

	dialer := tmock.NewDialer()
	dialer.DialError = errors.New("connection refused")
	p := newPipeline(t, dialer)

	if err := p.coord.Start(context.Background(), session.ModeDictation); err == nil {
		t.Fatal("Start should fail when dial fails")
	}
	if got := p.coord.State(); got != session.StateIdle {
		t.Errorf("state = %s, want idle", got)
	}
	if p.coord.Snapshot().LastErr == nil {
		t.Error("LastErr not recorded")
	}
}

func TestStart_CaptureFailure_ReleasesTransport(t *testing.T) {
	t.Parallel()

	p := newPipeline(t, tmock.NewDialer())
	p.in.OpenError = device.ErrPermissionDenied

	err := p.coord.Start(context.Background(), session.ModeDictation)
	if !errors.Is(err, device.ErrPermissionDenied) {
		t.Fatalf("err = %v, want ErrPermissionDenied", err)
	}
	if got := p.coord.State(); got != session.StateIdle {
		t.Errorf("state = %s, want idle", got)
	}
	if p.dialer.Channel(0).CloseCount() == 0 {
		t.Error("transport channel leaked after capture failure")
	}
}

func TestReconnect_ResumesSendingOnNewChannel(t *testing.T) {
	t.Parallel()

	ch1 := tmock.NewChannel()
	ch2 := tmock.NewChannel()
	p := newPipeline(t, tmock.NewDialer(ch1, ch2),
		session.WithReconnectPolicy(3, 5*time.Millisecond, 20*time.Millisecond),
	)
	if err := p.coord.Start(context.Background(), session.ModeDictation); err != nil {
		t.Fatalf("Start: %v", err)
	}

	ch1.Fail(errors.New("connection reset"))

	deadline := time.Now().Add(3 * time.Second)
	for p.dialer.Dials() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("coordinator never redialed after transport loss")
		}
		time.Sleep(time.Millisecond)
	}

	// Capture keeps running across the redial; new frames flow over ch2.
	deadline = time.Now().Add(3 * time.Second)
	for {
		p.in.QueueFrames(audio.Frame{Samples: []float32{0.3}, SampleRate: audio.SampleRate})
		select {
		case <-ch2.SentChunks():
			if got := p.coord.State(); got != session.StateActive {
				t.Errorf("state = %s, want active", got)
			}
			return
		case <-time.After(20 * time.Millisecond):
			if time.Now().After(deadline) {
				t.Fatal("no chunks reached the new channel after reconnect")
			}
		}
	}
}

func TestStop_DuringReconnect(t *testing.T) {
	t.Parallel()

	// A redial that completes while Stop is tearing the session down must not
	// start pumps after Stop has begun waiting for them. The interleaving is
	// timing-dependent, so run it repeatedly.
	for i := 0; i < 20; i++ {
		ch1 := tmock.NewChannel()
		ch2 := tmock.NewChannel()
		p := newPipeline(t, tmock.NewDialer(ch1, ch2),
			session.WithReconnectPolicy(3, time.Millisecond, 5*time.Millisecond),
		)
		if err := p.coord.Start(context.Background(), session.ModeDictation); err != nil {
			t.Fatalf("Start: %v", err)
		}

		ch1.Fail(errors.New("connection reset"))
		if err := p.coord.Stop(); err != nil {
			t.Fatalf("Stop: %v", err)
		}
		if got := p.coord.State(); got != session.StateIdle {
			t.Fatalf("state = %s, want idle", got)
		}
	}
}

func TestStop_Idempotent(t *testing.T) {
	t.Parallel()

	p := newPipeline(t, tmock.NewDialer())

	// Never started.
	if err := p.coord.Stop(); err != nil {
		t.Fatalf("Stop on idle coordinator: %v", err)
	}

	if err := p.coord.Start(context.Background(), session.ModeDiscussion); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := p.coord.Stop(); err != nil {
		t.Fatalf("first Stop: %v", err)
	}
	if err := p.coord.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	if p.out.Stream().CloseCount() == 0 {
		t.Error("output device was not released")
	}
}

func TestStart_WhileActive(t *testing.T) {
	t.Parallel()

	p := newPipeline(t, tmock.NewDialer())
	if err := p.coord.Start(context.Background(), session.ModeDictation); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := p.coord.Start(context.Background(), session.ModeDiscussion); err == nil {
		t.Fatal("second Start should fail while active")
	}
}

func TestInterrupt_CancelsResponseAndFlushesPlayback(t *testing.T) {
	t.Parallel()

	p := newPipeline(t, tmock.NewDialer())

	if err := p.coord.Interrupt(); err == nil {
		t.Fatal("Interrupt on idle coordinator should fail")
	}

	if err := p.coord.Start(context.Background(), session.ModeDiscussion); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := p.coord.Interrupt(); err != nil {
		t.Fatalf("Interrupt: %v", err)
	}
	if got := p.dialer.Channel(0).Interrupts(); got != 1 {
		t.Errorf("Interrupts = %d, want 1", got)
	}
}

func TestStateListener_SeesLifecycle(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var states []session.State
	p := newPipeline(t, tmock.NewDialer(),
		session.WithStateListener(func(s session.Snapshot) {
			mu.Lock()
			states = append(states, s.State)
			mu.Unlock()
		}),
	)

	if err := p.coord.Start(context.Background(), session.ModeDictation); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := p.coord.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []session.State{session.StateConnecting, session.StateActive, session.StateIdle}
	if len(states) != len(want) {
		t.Fatalf("transitions = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("transitions = %v, want %v", states, want)
		}
	}
}
