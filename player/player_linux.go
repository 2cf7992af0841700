//go:build linux

package player

import (
	"encoding/binary"
	"fmt"

	"github.com/jfreymuth/pulse"
)

const tickSampleRate = 44100

// PulsePlayer plays through PulseAudio. Each buffer gets its own short-lived
// client, which keeps the sink closed between replies.
type PulsePlayer struct {
	sampleRate int
	startTick  []byte
	endTick    []byte
}

// New returns a player for reply audio at the given sample rate.
func New(sampleRate int) (Player, error) {
	c, err := pulse.NewClient()
	if err != nil {
		return nil, fmt.Errorf("pulse unavailable: %w", err)
	}
	c.Close()
	return &PulsePlayer{
		sampleRate: sampleRate,
		// 200ms tails give the PA buffer time to fill before drain.
		startTick: generateTick(tickSampleRate, startTickFreq, 0.2, tickVolume, startTickDecay),
		endTick:   generateTick(tickSampleRate, endTickFreq, 0.2, tickVolume, endTickDecay),
	}, nil
}

func (p *PulsePlayer) Play(pcm []byte, done func(error)) {
	go func() {
		err := playPCM(pcm, p.sampleRate)
		if done != nil {
			done(err)
		}
	}()
}

func (p *PulsePlayer) StartTick() {
	go playPCM(p.startTick, tickSampleRate)
}

func (p *PulsePlayer) EndTick() {
	go playPCM(p.endTick, tickSampleRate)
}

func (p *PulsePlayer) Close() error {
	return nil
}

func playPCM(pcm []byte, sampleRate int) error {
	total := len(pcm) / 2
	if total == 0 {
		return nil
	}
	c, err := pulse.NewClient()
	if err != nil {
		return fmt.Errorf("pulse playback: %w", err)
	}
	defer c.Close()

	pos := 0
	reader := pulse.Int16Reader(func(buf []int16) (int, error) {
		if pos >= total {
			return 0, pulse.EndOfData
		}
		n := 0
		for ; n < len(buf) && pos < total; n++ {
			buf[n] = int16(binary.LittleEndian.Uint16(pcm[pos*2:]))
			pos++
		}
		return n, nil
	})
	stream, err := c.NewPlayback(reader,
		pulse.PlaybackMono,
		pulse.PlaybackSampleRate(sampleRate),
		pulse.PlaybackLatency(0.1),
	)
	if err != nil {
		return fmt.Errorf("pulse playback: %w", err)
	}
	stream.Start()
	stream.Drain()
	stream.Stop()
	stream.Close()
	return nil
}
