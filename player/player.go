// Package player renders assistant reply audio and the short earcon ticks
// that bracket a recording. Replies are signed 16-bit little-endian mono PCM
// at the rate the server synthesizes at.
package player

import (
	"math"
)

// Player plays one buffer at a time. Play returns immediately; done is
// invoked exactly once from a playback goroutine with the outcome. Ticks are
// fire-and-forget.
type Player interface {
	Play(pcm []byte, done func(error))
	StartTick()
	EndTick()
	Close() error
}

const (
	tickVolume = 0.5

	// Recording-start tick: high pitch, fast decay.
	startTickFreq  = 1200.0
	startTickDecay = 60.0

	// Recording-end tick: slightly lower, moderate decay.
	endTickFreq  = 900.0
	endTickDecay = 40.0
)

// generateTick renders a decaying sine as little-endian PCM16 mono.
func generateTick(sampleRate int, freq, duration, volume, decay float64) []byte {
	n := int(float64(sampleRate) * duration)
	buf := make([]byte, n*2)
	for i := 0; i < n; i++ {
		t := float64(i) / float64(sampleRate)
		envelope := math.Exp(-t * decay)
		sample := int16(math.Sin(2*math.Pi*freq*t) * 32767 * volume * envelope)
		buf[i*2] = byte(sample)
		buf[i*2+1] = byte(sample >> 8)
	}
	return buf
}
