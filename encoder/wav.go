package encoder

import (
	"bytes"
	"encoding/binary"
)

// wavHeader is the canonical 44-byte RIFF/WAVE header for PCM data.
type wavHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // file size - 8
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32 // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16 // NumChannels * BitsPerSample / 8
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // bytes of sample data
}

// WAVEncoder accumulates PCM blocks and emits one WAV file on Close.
type WAVEncoder struct {
	sampleRate  uint32
	data        bytes.Buffer
	out         []byte
	totalFrames uint64
}

func NewWAV(sampleRate int) *WAVEncoder {
	return &WAVEncoder{sampleRate: uint32(sampleRate)}
}

func (e *WAVEncoder) EncodeBlock(block []int16) error {
	buf := make([]byte, len(block)*2)
	for i, s := range block {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	e.data.Write(buf)
	e.totalFrames += uint64(len(block))
	return nil
}

func (e *WAVEncoder) Close() error {
	dataSize := uint32(e.data.Len())
	header := wavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   Channels,
		SampleRate:    e.sampleRate,
		ByteRate:      e.sampleRate * Channels * BitsPerSample / 8,
		BlockAlign:    Channels * BitsPerSample / 8,
		BitsPerSample: BitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	out := bytes.NewBuffer(make([]byte, 0, 44+e.data.Len()))
	if err := binary.Write(out, binary.LittleEndian, header); err != nil {
		return err
	}
	out.Write(e.data.Bytes())
	e.out = out.Bytes()
	return nil
}

func (e *WAVEncoder) Bytes() []byte {
	return e.out
}

func (e *WAVEncoder) TotalFrames() uint64 {
	return e.totalFrames
}
