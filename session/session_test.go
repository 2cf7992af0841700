package session

import (
	"bytes"
	"context"
	"encoding/binary"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/egozi/hebrew-audio-chatbot/audio"
	"github.com/egozi/hebrew-audio-chatbot/config"
	"github.com/egozi/hebrew-audio-chatbot/player"
	"github.com/egozi/hebrew-audio-chatbot/transport"
)

// fakeChannel scripts the transport: each Open invokes openFn with the
// attempt number, and tests emit server events directly.
type fakeChannel struct {
	mu     sync.Mutex
	opens  int
	sent   [][]byte
	events chan transport.Event

	sendErr error
	openFn  func(attempt int)
}

func newFakeChannel() *fakeChannel {
	f := &fakeChannel{events: make(chan transport.Event, 32)}
	f.openFn = func(int) { f.emit(transport.Opened{}) }
	return f
}

func (f *fakeChannel) Open(ctx context.Context) {
	f.mu.Lock()
	f.opens++
	n := f.opens
	fn := f.openFn
	f.mu.Unlock()
	if fn != nil {
		fn(n)
	}
}

func (f *fakeChannel) Send(ctx context.Context, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, data)
	return nil
}

func (f *fakeChannel) Events() <-chan transport.Event { return f.events }
func (f *fakeChannel) Close() error                   { return nil }
func (f *fakeChannel) Shutdown()                      {}

func (f *fakeChannel) emit(ev transport.Event) { f.events <- ev }

func (f *fakeChannel) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeChannel) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens
}

// fakeAudio hands out one scripted capture device.
type fakeAudio struct {
	capture *fakeCapture
	err     error
}

func (f *fakeAudio) Devices() ([]audio.DeviceInfo, error) { return nil, nil }
func (f *fakeAudio) Close()                               {}

func (f *fakeAudio) NewCapture(_ *audio.DeviceInfo, _ audio.CaptureConfig) (audio.CaptureDevice, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.capture, nil
}

type fakeCapture struct {
	mu       sync.Mutex
	cb       audio.DataCallback
	running  bool
	startErr error
}

func (f *fakeCapture) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.running = true
	return nil
}

func (f *fakeCapture) Stop() {
	f.mu.Lock()
	f.running = false
	f.mu.Unlock()
}

func (f *fakeCapture) Close() {}

func (f *fakeCapture) SetCallback(cb audio.DataCallback) {
	f.mu.Lock()
	f.cb = cb
	f.mu.Unlock()
}

func (f *fakeCapture) ClearCallback() {
	f.mu.Lock()
	f.cb = nil
	f.mu.Unlock()
}

// feed pushes one frame of S16LE bytes through the capture callback.
func (f *fakeCapture) feed(data []byte) {
	f.mu.Lock()
	cb := f.cb
	running := f.running
	f.mu.Unlock()
	if cb != nil && running {
		cb(data, uint32(len(data)/2))
	}
}

type reportedError struct {
	kind ErrorKind
	msg  string
}

type recObserver struct {
	mu          sync.Mutex
	transcripts []string
	errors      []reportedError
}

func (r *recObserver) StateChanged(_, _ State)     {}
func (r *recObserver) EnergyChanged(float64, bool) {}

func (r *recObserver) TranscriptReceived(text string) {
	r.mu.Lock()
	r.transcripts = append(r.transcripts, text)
	r.mu.Unlock()
}

func (r *recObserver) ErrorReported(kind ErrorKind, msg string) {
	r.mu.Lock()
	r.errors = append(r.errors, reportedError{kind: kind, msg: msg})
	r.mu.Unlock()
}

func (r *recObserver) errorCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.errors)
}

func (r *recObserver) lastError() (reportedError, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.errors) == 0 {
		return reportedError{}, false
	}
	return r.errors[len(r.errors)-1], true
}

type testRig struct {
	s     *Session
	ch    *fakeChannel
	cap   *fakeCapture
	play  *player.FakePlayer
	obs   *recObserver
	sched *fakeScheduler
	cfg   *config.Config
}

// fakeScheduler records backoff delays and fires callbacks immediately.
type fakeScheduler struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (f *fakeScheduler) schedule(d time.Duration, fn func()) {
	f.mu.Lock()
	f.delays = append(f.delays, d)
	f.mu.Unlock()
	go fn()
}

func (f *fakeScheduler) recorded() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]time.Duration, len(f.delays))
	copy(out, f.delays)
	return out
}

func newRig(t *testing.T, mutate func(*testRig)) *testRig {
	t.Helper()
	rig := &testRig{
		ch:    newFakeChannel(),
		cap:   &fakeCapture{},
		play:  player.NewFake(),
		obs:   &recObserver{},
		sched: &fakeScheduler{},
		cfg:   config.Default(),
	}
	if mutate != nil {
		mutate(rig)
	}
	rig.s = New(Options{
		Config:   rig.cfg,
		Channel:  rig.ch,
		Audio:    &fakeAudio{capture: rig.cap},
		Player:   rig.play,
		Observer: rig.obs,
	})
	rig.s.schedule = rig.sched.schedule
	t.Cleanup(rig.s.Close)
	return rig
}

func waitState(t *testing.T, s *Session, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.State() == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("state = %s, want %s", s.State(), want)
}

// holdState asserts the state stays put for a short settle window.
func holdState(t *testing.T, s *Session, want State) {
	t.Helper()
	time.Sleep(30 * time.Millisecond)
	if got := s.State(); got != want {
		t.Fatalf("state = %s, want %s", got, want)
	}
}

func silentFrame(samples int) []byte {
	return make([]byte, samples*2)
}

func loudFrame(samples int) []byte {
	buf := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		s := int16(math.Sin(2*math.Pi*440*float64(i)/16000) * 16000)
		buf[i*2] = byte(s)
		buf[i*2+1] = byte(s >> 8)
	}
	return buf
}

// ready opens the rig's session and waits for the transport handshake.
func (r *testRig) ready(t *testing.T) {
	t.Helper()
	r.s.Open()
	waitState(t, r.s, Ready)
}

// record starts a turn and feeds n frames.
func (r *testRig) record(t *testing.T, n int) {
	t.Helper()
	r.s.StartTurn()
	waitState(t, r.s, Recording)
	for i := 0; i < n; i++ {
		r.cap.feed(silentFrame(320))
	}
}

func TestOpenRecordSendFlow(t *testing.T) {
	rig := newRig(t, nil)

	if rig.s.State() != Disconnected {
		t.Fatalf("initial state = %s", rig.s.State())
	}
	rig.ready(t)

	rig.record(t, 5)
	rig.s.StopTurn()
	waitState(t, rig.s, AwaitingTranscript)

	if got := rig.ch.sentCount(); got != 1 {
		t.Fatalf("sends = %d", got)
	}
	rig.ch.mu.Lock()
	blob := rig.ch.sent[0]
	rig.ch.mu.Unlock()
	if !bytes.HasPrefix(blob, []byte("RIFF")) {
		t.Fatalf("turn blob is not a WAV container: % x", blob[:8])
	}
	// 5 frames of 320 samples, 16-bit mono.
	if want := audio.WAVHeaderSize + 5*320*2; len(blob) != want {
		t.Fatalf("blob size = %d, want %d", len(blob), want)
	}
}

func TestTurnBlobCarriesConfiguredSampleRate(t *testing.T) {
	rig := newRig(t, func(r *testRig) {
		r.cfg.Capture.SampleRate = 48000
	})
	rig.ready(t)

	rig.record(t, 5)
	rig.s.StopTurn()
	waitState(t, rig.s, AwaitingTranscript)

	rig.ch.mu.Lock()
	blob := rig.ch.sent[0]
	rig.ch.mu.Unlock()
	if got := binary.LittleEndian.Uint32(blob[24:28]); got != 48000 {
		t.Fatalf("WAV header sample rate = %d, capture configured at 48000", got)
	}
}

func TestStartWhileRecordingIsNoop(t *testing.T) {
	rig := newRig(t, nil)
	rig.ready(t)

	rig.record(t, 2)
	rig.s.StartTurn() // must not reset the open turn
	holdState(t, rig.s, Recording)
	rig.cap.feed(silentFrame(320))
	rig.s.StopTurn()
	waitState(t, rig.s, AwaitingTranscript)

	rig.ch.mu.Lock()
	blob := rig.ch.sent[0]
	rig.ch.mu.Unlock()
	if want := audio.WAVHeaderSize + 3*320*2; len(blob) != want {
		t.Fatalf("blob size = %d, want %d (turn was reset)", len(blob), want)
	}
	if ticks := rig.play.Ticks(); len(ticks) != 2 {
		t.Fatalf("ticks = %v, want one start and one end", ticks)
	}
}

func TestEmptyTurnDiscarded(t *testing.T) {
	rig := newRig(t, nil)
	rig.ready(t)

	rig.record(t, 0)
	rig.s.StopTurn()
	waitState(t, rig.s, Ready)
	if got := rig.ch.sentCount(); got != 0 {
		t.Fatalf("empty turn was sent (%d sends)", got)
	}
}

func TestRetriesExhaustedAfterUncleanCloses(t *testing.T) {
	rig := newRig(t, func(r *testRig) {
		r.ch.openFn = func(attempt int) {
			if attempt == 1 {
				r.ch.emit(transport.Opened{})
				return
			}
			// Every reconnect attempt dies before the handshake.
			r.ch.emit(transport.Failed{Err: context.DeadlineExceeded})
		}
	})
	rig.ready(t)

	rig.ch.emit(transport.Closed{Code: 1006, Clean: false})
	waitState(t, rig.s, Error)

	delays := rig.sched.recorded()
	if len(delays) != 2 || delays[0] != time.Second || delays[1] != 2*time.Second {
		t.Fatalf("backoff delays = %v, want [1s 2s]", delays)
	}
	opens := rig.ch.openCount()
	if opens != 3 {
		t.Fatalf("opens = %d, want 3", opens)
	}

	// Absorbing: no further automatic attempts.
	holdState(t, rig.s, Error)
	if rig.ch.openCount() != opens {
		t.Fatal("automatic reconnect after retries were exhausted")
	}
}

func TestRetryCountResetsOnCleanOpen(t *testing.T) {
	rig := newRig(t, nil)
	rig.ready(t)

	// First drop: retry succeeds, counter must reset.
	rig.ch.emit(transport.Closed{Code: 1006, Clean: false})
	waitState(t, rig.s, Ready)

	// Second drop: delay must start over at 1s.
	rig.ch.emit(transport.Closed{Code: 1006, Clean: false})
	waitState(t, rig.s, Ready)

	delays := rig.sched.recorded()
	if len(delays) != 2 || delays[0] != time.Second || delays[1] != time.Second {
		t.Fatalf("backoff delays = %v, want [1s 1s]", delays)
	}
}

func TestUserRetryAfterError(t *testing.T) {
	rig := newRig(t, func(r *testRig) {
		r.cfg.Server.MaxRetries = 1
	})
	rig.ready(t)

	rig.ch.emit(transport.Closed{Code: 1006, Clean: false})
	waitState(t, rig.s, Error)

	rig.s.Retry()
	waitState(t, rig.s, Ready)
}

func TestTranscriptThenAudioPlayback(t *testing.T) {
	rig := newRig(t, nil)
	rig.ready(t)
	rig.record(t, 3)
	rig.s.StopTurn()
	waitState(t, rig.s, AwaitingTranscript)

	rig.ch.emit(transport.Inbound{Msg: transport.Transcript{Text: "שלום"}})
	waitState(t, rig.s, Processing)
	rig.obs.mu.Lock()
	texts := append([]string(nil), rig.obs.transcripts...)
	rig.obs.mu.Unlock()
	if len(texts) != 1 || texts[0] != "שלום" {
		t.Fatalf("transcripts = %q", texts)
	}

	reply := []byte{10, 20, 30, 40}
	rig.ch.emit(transport.Inbound{Msg: transport.AssistantAudio{Data: reply}})
	waitState(t, rig.s, Ready) // Playing is transient with the fake player

	played := rig.play.Played()
	if len(played) != 1 || !bytes.Equal(played[0], reply) {
		t.Fatalf("played = %v", played)
	}
}

func TestServerErrorAbortsTurn(t *testing.T) {
	rig := newRig(t, nil)
	rig.ready(t)
	rig.record(t, 3)
	rig.s.StopTurn()
	waitState(t, rig.s, AwaitingTranscript)

	rig.ch.emit(transport.Inbound{Msg: transport.ServerError{Message: "quota exceeded"}})
	waitState(t, rig.s, Ready)

	if got := rig.obs.errorCount(); got != 1 {
		t.Fatalf("errors reported = %d, want exactly 1", got)
	}
	last, _ := rig.obs.lastError()
	if last.kind != ServerReportedError || last.msg != "quota exceeded" {
		t.Fatalf("error = %+v", last)
	}
}

func TestProtocolErrorKind(t *testing.T) {
	rig := newRig(t, nil)
	rig.ready(t)

	rig.ch.emit(transport.Inbound{Msg: transport.ServerError{Message: "unrecognized message from server", Protocol: true}})
	waitState(t, rig.s, Ready)
	deadline := time.Now().Add(time.Second)
	for rig.obs.errorCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	last, ok := rig.obs.lastError()
	if !ok || last.kind != ProtocolError {
		t.Fatalf("error = %+v, want protocol kind", last)
	}
}

func TestPermissionDeniedStaysReady(t *testing.T) {
	rig := newRig(t, nil)
	rig.s.audioCtx = &fakeAudio{err: context.Canceled}
	rig.ready(t)

	rig.s.StartTurn()
	holdState(t, rig.s, Ready)
	last, ok := rig.obs.lastError()
	if !ok || last.kind != PermissionError {
		t.Fatalf("error = %+v, want permission kind", last)
	}
	if got := rig.obs.errorCount(); got != 1 {
		t.Fatalf("errors reported = %d", got)
	}
}

func TestSendFailureReturnsReady(t *testing.T) {
	rig := newRig(t, func(r *testRig) {
		r.ch.sendErr = context.DeadlineExceeded
	})
	rig.ready(t)
	rig.record(t, 3)
	rig.s.StopTurn()
	waitState(t, rig.s, Ready)

	last, ok := rig.obs.lastError()
	if !ok || last.kind != TransportError {
		t.Fatalf("error = %+v, want transport kind", last)
	}
}

func TestPlaybackErrorReturnsReady(t *testing.T) {
	rig := newRig(t, func(r *testRig) {
		r.play.Err = context.DeadlineExceeded
	})
	rig.ready(t)
	rig.record(t, 3)
	rig.s.StopTurn()
	waitState(t, rig.s, AwaitingTranscript)

	rig.ch.emit(transport.Inbound{Msg: transport.Transcript{Text: "hi"}})
	rig.ch.emit(transport.Inbound{Msg: transport.AssistantAudio{Data: []byte{1, 2}}})
	waitState(t, rig.s, Ready)

	last, ok := rig.obs.lastError()
	if !ok || last.kind != PlaybackError {
		t.Fatalf("error = %+v, want playback kind", last)
	}
}

func TestStaleAudioIgnored(t *testing.T) {
	rig := newRig(t, nil)
	rig.ready(t)

	rig.ch.emit(transport.Inbound{Msg: transport.AssistantAudio{Data: []byte{1, 2}}})
	holdState(t, rig.s, Ready)
	if got := rig.play.Played(); len(got) != 0 {
		t.Fatalf("stale audio was played: %v", got)
	}
}

func TestAutoStopOnSilence(t *testing.T) {
	rig := newRig(t, func(r *testRig) {
		r.cfg.VAD.AutoStop = true
		r.cfg.VAD.SilenceThresholdMs = 50
		r.cfg.VAD.MinSpeechTimeMs = 10
		r.cfg.VAD.EnergySmoothing = 0.1
	})
	rig.ready(t)
	rig.s.StartTurn()
	waitState(t, rig.s, Recording)

	// Speak for ~60ms, then stay silent past the silence threshold.
	for i := 0; i < 3; i++ {
		rig.cap.feed(loudFrame(320))
		time.Sleep(20 * time.Millisecond)
	}
	deadline := time.Now().Add(2 * time.Second)
	for rig.s.State() == Recording && time.Now().Before(deadline) {
		rig.cap.feed(silentFrame(320))
		time.Sleep(20 * time.Millisecond)
	}

	waitState(t, rig.s, AwaitingTranscript)
	if got := rig.ch.sentCount(); got != 1 {
		t.Fatalf("sends = %d", got)
	}
}

func TestReplyPCMStripsWAVHeader(t *testing.T) {
	pcm := []byte{1, 2, 3, 4}
	wrapped := append(bytes.Repeat([]byte{0}, audio.WAVHeaderSize), pcm...)
	copy(wrapped, "RIFF")
	if got := replyPCM(wrapped); !bytes.Equal(got, pcm) {
		t.Fatalf("got % x", got)
	}
	if got := replyPCM(pcm); !bytes.Equal(got, pcm) {
		t.Fatalf("bare pcm altered: % x", got)
	}
}

func TestStateStrings(t *testing.T) {
	states := []State{Disconnected, Connecting, Ready, Recording, Sending, AwaitingTranscript, Processing, Playing, Error}
	seen := map[string]bool{}
	for _, st := range states {
		name := st.String()
		if name == "unknown" || seen[name] {
			t.Fatalf("state %d has bad name %q", st, name)
		}
		seen[name] = true
	}
}
