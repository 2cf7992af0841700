//go:build !linux

package player

import (
	"bytes"
	"fmt"
	"time"

	"github.com/ebitengine/oto/v3"
)

// OtoPlayer plays through a single oto context opened at the reply sample
// rate; earcon ticks are generated at the same rate so they share the device.
type OtoPlayer struct {
	ctx        *oto.Context
	sampleRate int
	startTick  []byte
	endTick    []byte
}

// New returns a player for reply audio at the given sample rate.
func New(sampleRate int) (Player, error) {
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: 1,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   50 * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("audio output init: %w", err)
	}
	<-ready
	return &OtoPlayer{
		ctx:        ctx,
		sampleRate: sampleRate,
		startTick:  generateTick(sampleRate, startTickFreq, 0.03, tickVolume, startTickDecay),
		endTick:    generateTick(sampleRate, endTickFreq, 0.05, tickVolume, endTickDecay),
	}, nil
}

func (p *OtoPlayer) Play(pcm []byte, done func(error)) {
	pl := p.ctx.NewPlayer(bytes.NewReader(pcm))
	pl.Play()
	go func() {
		for pl.IsPlaying() {
			time.Sleep(10 * time.Millisecond)
		}
		err := pl.Close()
		if done != nil {
			done(err)
		}
	}()
}

func (p *OtoPlayer) StartTick() {
	p.playTick(p.startTick)
}

func (p *OtoPlayer) EndTick() {
	p.playTick(p.endTick)
}

func (p *OtoPlayer) playTick(tick []byte) {
	pl := p.ctx.NewPlayer(bytes.NewReader(tick))
	pl.Play()
	go func() {
		for pl.IsPlaying() {
			time.Sleep(10 * time.Millisecond)
		}
		pl.Close()
	}()
}

func (p *OtoPlayer) Close() error {
	return nil
}
