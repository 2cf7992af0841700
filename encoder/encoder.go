// Package encoder turns a finished turn of PCM samples into the single blob
// sent to the server. WAV is the default container; FLAC is available when
// upstream bandwidth matters.
package encoder

import "fmt"

const (
	Channels      = 1
	BitsPerSample = 16
	BlockSize     = 4096
)

type Encoder interface {
	EncodeBlock(block []int16) error
	Close() error
	Bytes() []byte
	TotalFrames() uint64
}

// New returns an encoder for the given encoding name, "wav" or "flac".
// The sample rate is stamped into the container so it must match the rate
// the samples were captured at.
func New(encoding string, sampleRate int) (Encoder, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	switch encoding {
	case "wav":
		return NewWAV(sampleRate), nil
	case "flac":
		return NewFlac(sampleRate)
	default:
		return nil, fmt.Errorf("unknown encoding %q", encoding)
	}
}
