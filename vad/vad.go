// Package vad implements an energy-based voice activity detector. It smooths
// per-frame RMS energy with an exponential moving average and reports
// speech-start / speech-end edges. The detector is advisory: it never stops a
// recording itself, it only tells the caller what it heard.
package vad

import (
	"time"

	"github.com/egozi/hebrew-audio-chatbot/audio"
)

// Edge is the detector's verdict for one processed frame.
type Edge int

const (
	EdgeNone Edge = iota
	EdgeSpeechStart
	EdgeSpeechEnd
)

// Config tunes the detector. Zero values are replaced by defaults.
type Config struct {
	EnergyThreshold  float64       // smoothed energy above this counts as speech
	EnergySmoothing  float64       // EMA weight of the previous smoothed value
	SilenceThreshold time.Duration // silence this long ends a speech segment
	MinSpeechTime    time.Duration // shorter segments are discarded as noise
}

const (
	defaultEnergyThreshold  = 0.02
	defaultEnergySmoothing  = 0.8
	defaultSilenceThreshold = 1500 * time.Millisecond
	defaultMinSpeechTime    = 300 * time.Millisecond
)

func (c Config) withDefaults() Config {
	if c.EnergyThreshold == 0 {
		c.EnergyThreshold = defaultEnergyThreshold
	}
	if c.EnergySmoothing == 0 {
		c.EnergySmoothing = defaultEnergySmoothing
	}
	if c.SilenceThreshold == 0 {
		c.SilenceThreshold = defaultSilenceThreshold
	}
	if c.MinSpeechTime == 0 {
		c.MinSpeechTime = defaultMinSpeechTime
	}
	return c
}

// Detector holds the smoothed energy and the timestamps of the segment in
// progress. It is driven from a single goroutine and carries no locking;
// Reset must be called at every turn boundary so turns detect independently.
type Detector struct {
	cfg Config

	energy       float64
	inSpeech     bool
	speechStart  time.Time
	silenceStart time.Time
}

func New(cfg Config) *Detector {
	return &Detector{cfg: cfg.withDefaults()}
}

// Process folds one frame of normalized samples into the smoothed energy and
// returns the edge it produced, if any. A zero-length frame is a no-op.
func (d *Detector) Process(frame []float32, now time.Time) Edge {
	if len(frame) == 0 {
		return EdgeNone
	}

	alpha := d.cfg.EnergySmoothing
	d.energy = alpha*d.energy + (1-alpha)*audio.RMS(frame)

	loud := d.energy > d.cfg.EnergyThreshold

	if !d.inSpeech {
		if !loud {
			return EdgeNone
		}
		d.inSpeech = true
		d.speechStart = now
		d.silenceStart = time.Time{}
		return EdgeSpeechStart
	}

	if loud {
		d.silenceStart = time.Time{}
		return EdgeNone
	}

	if d.silenceStart.IsZero() {
		d.silenceStart = now
		return EdgeNone
	}
	if now.Sub(d.silenceStart) <= d.cfg.SilenceThreshold {
		return EdgeNone
	}

	// Silence held long enough: the segment is over. Segments shorter than
	// MinSpeechTime are noise and produce no edge.
	speechDuration := d.silenceStart.Sub(d.speechStart)
	d.inSpeech = false
	d.speechStart = time.Time{}
	d.silenceStart = time.Time{}
	if speechDuration >= d.cfg.MinSpeechTime {
		return EdgeSpeechEnd
	}
	return EdgeNone
}

// Energy returns the current smoothed energy, the visualizer signal.
func (d *Detector) Energy() float64 {
	return d.energy
}

// Speaking reports whether a speech segment is currently open.
func (d *Detector) Speaking() bool {
	return d.inSpeech
}

// Reset zeroes the smoothed energy and both timestamps.
func (d *Detector) Reset() {
	d.energy = 0
	d.inSpeech = false
	d.speechStart = time.Time{}
	d.silenceStart = time.Time{}
}
