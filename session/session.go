// Package session holds the dialogue state machine. One session owns one
// conversation: it wires microphone frames into the voice activity detector
// and the turn in progress, decides when a turn is sent, interprets server
// messages, sequences reply playback, and drives the reconnect policy.
//
// Every transition runs on a single dispatch goroutine fed by one event
// queue, so no two transitions interleave and no locking is needed around
// session state.
package session

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/egozi/hebrew-audio-chatbot/audio"
	"github.com/egozi/hebrew-audio-chatbot/config"
	"github.com/egozi/hebrew-audio-chatbot/encoder"
	"github.com/egozi/hebrew-audio-chatbot/log"
	"github.com/egozi/hebrew-audio-chatbot/player"
	"github.com/egozi/hebrew-audio-chatbot/transport"
	"github.com/egozi/hebrew-audio-chatbot/vad"
)

// Channel is the transport surface the session drives; *transport.Channel
// satisfies it, tests substitute a scripted one.
type Channel interface {
	Open(ctx context.Context)
	Send(ctx context.Context, data []byte) error
	Events() <-chan transport.Event
	Close() error
	Shutdown()
}

// Options wires a session together. Observer may be nil.
type Options struct {
	Config   *config.Config
	Channel  Channel
	Audio    audio.Context
	Device   *audio.DeviceInfo
	Player   player.Player
	Observer Observer
}

type turn struct {
	frames  [][]float32
	samples int
	started time.Time
}

// Session is the dialogue orchestrator. All exported methods are safe to
// call from any goroutine; they enqueue events for the dispatch loop.
type Session struct {
	cfg      *config.Config
	ch       Channel
	audioCtx audio.Context
	device   *audio.DeviceInfo
	play     player.Player
	obs      Observer
	det      *vad.Detector

	ctx    context.Context
	cancel context.CancelFunc

	events    chan event
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once

	// schedule defers a reconnect attempt; tests substitute a fake clock.
	schedule func(d time.Duration, fn func())

	// Owned by the dispatch goroutine.
	state      State
	capture    audio.CaptureDevice
	turn       *turn
	retryCount int
	turnsDone  int
	metrics    log.TurnMetrics
	sentAt     time.Time
	awaitedAt  time.Time
	playedAt   time.Time

	published atomic.Int32
}

type event interface{ isSessionEvent() }

type evOpen struct{}
type evStart struct{}
type evStop struct{ auto bool }
type evRetry struct{}
type evShutdown struct{}
type evReconnect struct{}
type evFrame struct{ samples []float32 }
type evSendDone struct {
	err     error
	elapsed time.Duration
}
type evPlaybackDone struct{ err error }
type evTransport struct{ ev transport.Event }

func (evOpen) isSessionEvent()         {}
func (evStart) isSessionEvent()        {}
func (evStop) isSessionEvent()         {}
func (evRetry) isSessionEvent()        {}
func (evShutdown) isSessionEvent()     {}
func (evReconnect) isSessionEvent()    {}
func (evFrame) isSessionEvent()        {}
func (evSendDone) isSessionEvent()     {}
func (evPlaybackDone) isSessionEvent() {}
func (evTransport) isSessionEvent()    {}

// New assembles a session and starts its dispatch loop in Disconnected.
func New(opts Options) *Session {
	obs := opts.Observer
	if obs == nil {
		obs = NopObserver{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		cfg:      opts.Config,
		ch:       opts.Channel,
		audioCtx: opts.Audio,
		device:   opts.Device,
		play:     opts.Player,
		obs:      obs,
		det: vad.New(vad.Config{
			EnergyThreshold:  opts.Config.VAD.EnergyThreshold,
			EnergySmoothing:  opts.Config.VAD.EnergySmoothing,
			SilenceThreshold: time.Duration(opts.Config.VAD.SilenceThresholdMs) * time.Millisecond,
			MinSpeechTime:    time.Duration(opts.Config.VAD.MinSpeechTimeMs) * time.Millisecond,
		}),
		ctx:      ctx,
		cancel:   cancel,
		events:   make(chan event, 256),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
		schedule: func(d time.Duration, fn func()) { time.AfterFunc(d, fn) },
		state:    Disconnected,
	}
	go s.run()
	go s.pump()
	return s
}

// Open starts connecting to the server.
func (s *Session) Open() { s.enqueue(evOpen{}) }

// StartTurn begins recording a turn. A no-op unless the session is Ready.
func (s *Session) StartTurn() { s.enqueue(evStart{}) }

// StopTurn ends the turn in progress and sends it. A no-op unless Recording.
func (s *Session) StopTurn() { s.enqueue(evStop{}) }

// Retry reconnects after the retry budget was exhausted.
func (s *Session) Retry() { s.enqueue(evRetry{}) }

// State returns the current state. It may be stale by the time the caller
// acts on it; guards inside the dispatch loop are authoritative.
func (s *Session) State() State {
	return State(s.published.Load())
}

// Close tears the session down, releasing the microphone and the transport.
// Safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() { s.enqueue(evShutdown{}) })
	<-s.stopped
}

func (s *Session) enqueue(ev event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

func (s *Session) pump() {
	for {
		select {
		case tev := <-s.ch.Events():
			s.enqueue(evTransport{ev: tev})
		case <-s.done:
			return
		}
	}
}

func (s *Session) run() {
	defer close(s.stopped)
	for ev := range s.events {
		if s.dispatch(ev) {
			s.teardown()
			return
		}
	}
}

func (s *Session) dispatch(ev event) (shutdown bool) {
	switch ev := ev.(type) {
	case evShutdown:
		return true
	case evOpen:
		if s.state != Disconnected {
			return false
		}
		s.ch.Open(s.ctx)
		s.setState(Connecting, "open")
	case evRetry:
		if s.state != Error {
			return false
		}
		s.ch.Open(s.ctx)
		s.setState(Connecting, "retry")
	case evReconnect:
		if s.state == Connecting {
			s.ch.Open(s.ctx)
		}
	case evStart:
		s.startTurn()
	case evStop:
		s.stopTurn(ev.auto)
	case evFrame:
		s.onFrame(ev.samples)
	case evSendDone:
		s.onSendDone(ev)
	case evPlaybackDone:
		s.onPlaybackDone(ev.err)
	case evTransport:
		s.onTransport(ev.ev)
	}
	return false
}

func (s *Session) teardown() {
	close(s.done)
	s.cancel()
	if s.capture != nil {
		s.capture.Stop()
		s.capture.Close()
	}
	s.play.Close()
	s.ch.Shutdown()
	log.SessionEnd(s.turnsDone)
}

func (s *Session) setState(to State, event string) {
	if s.state == to {
		return
	}
	from := s.state
	s.state = to
	s.published.Store(int32(to))
	log.StateChange(from.String(), to.String(), event)
	s.obs.StateChanged(from, to)
}

func (s *Session) reportError(kind ErrorKind, msg string) {
	log.Errorf("%s error: %s", kind, msg)
	s.obs.ErrorReported(kind, msg)
}

func (s *Session) startTurn() {
	if s.state != Ready {
		return
	}
	if s.capture == nil {
		dev, err := s.audioCtx.NewCapture(s.device, audio.CaptureConfig{
			SampleRate: uint32(s.cfg.Capture.SampleRate),
			Channels:   uint32(s.cfg.Capture.Channels),
			FrameSize:  uint32(s.cfg.Capture.FrameSize),
		})
		if err != nil {
			s.reportError(PermissionError, fmt.Sprintf("microphone unavailable: %v", err))
			return
		}
		dev.SetCallback(func(data []byte, _ uint32) {
			s.enqueue(evFrame{samples: audio.PCM16ToFloat(data)})
		})
		s.capture = dev
	}
	if err := s.capture.Start(); err != nil {
		s.reportError(PermissionError, fmt.Sprintf("microphone start: %v", err))
		return
	}
	s.det.Reset()
	s.turn = &turn{started: time.Now()}
	s.play.StartTick()
	s.setState(Recording, "start")
}

func (s *Session) onFrame(samples []float32) {
	if s.state != Recording || s.turn == nil {
		return
	}
	s.turn.frames = append(s.turn.frames, samples)
	s.turn.samples += len(samples)
	edge := s.det.Process(samples, time.Now())
	s.obs.EnergyChanged(s.det.Energy(), s.det.Speaking())
	if edge == vad.EdgeSpeechEnd && s.cfg.VAD.AutoStop {
		s.stopTurn(true)
	}
}

func (s *Session) stopTurn(auto bool) {
	if s.state != Recording {
		return
	}
	s.capture.Stop()
	s.play.EndTick()

	t := s.turn
	s.turn = nil
	if t == nil || t.samples == 0 {
		log.Info("empty turn discarded")
		s.setState(Ready, "stop_empty")
		return
	}

	encStart := time.Now()
	blob, err := encodeFrames(t.frames, s.cfg.Capture.Encoding, s.cfg.Capture.SampleRate)
	if err != nil {
		s.reportError(ProtocolError, fmt.Sprintf("encode turn: %v", err))
		s.setState(Ready, "encode_failed")
		return
	}
	s.metrics = log.TurnMetrics{
		AudioLengthS: float64(t.samples) / float64(s.cfg.Capture.SampleRate),
		EncodedKB:    float64(len(blob)) / 1024,
		EncodeTimeMs: float64(time.Since(encStart).Milliseconds()),
	}
	s.sentAt = time.Now()
	reason := "stop"
	if auto {
		reason = "auto_stop"
	}
	s.setState(Sending, reason)

	start := time.Now()
	go func() {
		err := s.ch.Send(s.ctx, blob)
		s.enqueue(evSendDone{err: err, elapsed: time.Since(start)})
	}()
}

func (s *Session) onSendDone(ev evSendDone) {
	if s.state != Sending {
		return
	}
	if ev.err != nil {
		s.reportError(TransportError, fmt.Sprintf("send: %v", ev.err))
		s.setState(Ready, "send_failed")
		return
	}
	s.metrics.SendTimeMs = float64(ev.elapsed.Milliseconds())
	s.awaitedAt = time.Now()
	s.setState(AwaitingTranscript, "sent")
}

func (s *Session) onTransport(ev transport.Event) {
	switch ev := ev.(type) {
	case transport.Opened:
		if s.state != Connecting {
			return
		}
		s.retryCount = 0
		s.setState(Ready, "transport_open")
	case transport.Failed:
		if s.state != Connecting {
			return
		}
		s.reportError(TransportError, ev.Err.Error())
		s.retryOrFail()
	case transport.Closed:
		if ev.Clean {
			s.abortTurn()
			s.setState(Disconnected, "closed")
			return
		}
		s.reportError(TransportError, fmt.Sprintf("connection lost (code %d)", ev.Code))
		s.retryOrFail()
	case transport.Inbound:
		s.onMessage(ev.Msg)
	}
}

// retryOrFail applies the reconnect policy after a lost connection: the
// retry counter goes up, and unless the budget is spent the next dial is
// scheduled with a delay growing linearly in the counter.
func (s *Session) retryOrFail() {
	s.abortTurn()
	s.retryCount++
	if s.retryCount >= s.cfg.Server.MaxRetries {
		s.setState(Error, "retries_exhausted")
		return
	}
	delay := time.Duration(s.retryCount) * time.Second
	log.Reconnect(s.retryCount, s.cfg.Server.MaxRetries, delay.Milliseconds())
	s.setState(Connecting, "reconnect")
	s.schedule(delay, func() { s.enqueue(evReconnect{}) })
}

func (s *Session) abortTurn() {
	if s.state == Recording && s.capture != nil {
		s.capture.Stop()
	}
	s.turn = nil
}

func (s *Session) onMessage(msg transport.ServerMessage) {
	switch msg := msg.(type) {
	case transport.Transcript:
		if s.state != AwaitingTranscript {
			log.Warnf("transcript in state %s ignored", s.state)
			return
		}
		s.metrics.TranscriptMs = float64(time.Since(s.awaitedAt).Milliseconds())
		s.obs.TranscriptReceived(msg.Text)
		log.ConversationText("user", msg.Text)
		s.setState(Processing, "transcript")
	case transport.AssistantAudio:
		if s.state != Processing {
			log.Warnf("assistant audio in state %s ignored", s.state)
			return
		}
		pcm := replyPCM(msg.Data)
		s.metrics.ReplyKB = float64(len(msg.Data)) / 1024
		s.playedAt = time.Now()
		s.setState(Playing, "assistant_audio")
		s.play.Play(pcm, func(err error) {
			s.enqueue(evPlaybackDone{err: err})
		})
	case transport.ServerError:
		if !s.state.connected() {
			return
		}
		kind := ServerReportedError
		if msg.Protocol {
			kind = ProtocolError
		}
		s.reportError(kind, msg.Message)
		s.abortTurn()
		s.setState(Ready, "server_error")
	}
}

func (s *Session) onPlaybackDone(err error) {
	if s.state != Playing {
		return
	}
	if err != nil {
		s.reportError(PlaybackError, err.Error())
		s.setState(Ready, "playback_failed")
		return
	}
	s.metrics.PlaybackMs = float64(time.Since(s.playedAt).Milliseconds())
	s.metrics.RoundTripMs = float64(time.Since(s.sentAt).Milliseconds())
	log.Turn(s.metrics, s.cfg.Capture.Encoding)
	s.turnsDone++
	s.setState(Ready, "playback_done")
}

// encodeFrames flattens a turn into 16-bit samples and runs them through the
// configured encoder in device-sized blocks.
func encodeFrames(frames [][]float32, encoding string, sampleRate int) ([]byte, error) {
	enc, err := encoder.New(encoding, sampleRate)
	if err != nil {
		return nil, err
	}
	var pcm []int16
	for _, f := range frames {
		pcm = append(pcm, audio.FloatToInt16(f)...)
	}
	for len(pcm) > 0 {
		n := encoder.BlockSize
		if n > len(pcm) {
			n = len(pcm)
		}
		if err := enc.EncodeBlock(pcm[:n]); err != nil {
			return nil, err
		}
		pcm = pcm[n:]
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return enc.Bytes(), nil
}

// replyPCM strips a WAV container when the server wraps the reply in one;
// bare PCM passes through.
func replyPCM(data []byte) []byte {
	if len(data) > audio.WAVHeaderSize && bytes.HasPrefix(data, []byte("RIFF")) {
		return data[audio.WAVHeaderSize:]
	}
	return data
}
