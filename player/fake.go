package player

import (
	"sync"
	"time"
)

// FakePlayer records what was played and completes playback after an
// optional delay, for tests that drive the session without a sound device.
type FakePlayer struct {
	mu     sync.Mutex
	played [][]byte
	ticks  []string

	// Err, if set, is reported to every Play completion.
	Err error
	// Delay postpones the completion callback.
	Delay time.Duration
}

func NewFake() *FakePlayer {
	return &FakePlayer{}
}

func (f *FakePlayer) Play(pcm []byte, done func(error)) {
	f.mu.Lock()
	f.played = append(f.played, pcm)
	err := f.Err
	delay := f.Delay
	f.mu.Unlock()
	go func() {
		if delay > 0 {
			time.Sleep(delay)
		}
		if done != nil {
			done(err)
		}
	}()
}

func (f *FakePlayer) StartTick() {
	f.mu.Lock()
	f.ticks = append(f.ticks, "start")
	f.mu.Unlock()
}

func (f *FakePlayer) EndTick() {
	f.mu.Lock()
	f.ticks = append(f.ticks, "end")
	f.mu.Unlock()
}

func (f *FakePlayer) Close() error {
	return nil
}

// Played returns a copy of every buffer handed to Play so far.
func (f *FakePlayer) Played() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.played))
	copy(out, f.played)
	return out
}

// Ticks returns the earcon sequence in play order.
func (f *FakePlayer) Ticks() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.ticks))
	copy(out, f.ticks)
	return out
}
