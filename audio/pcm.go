package audio

import (
	"encoding/binary"
	"math"
)

// FloatTo16BitPCM converts normalized [-1,1] samples to little-endian
// 16-bit PCM bytes. Out-of-range samples are clamped.
func FloatTo16BitPCM(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(clampToInt16(s)))
	}
	return out
}

// FloatToInt16 converts normalized [-1,1] samples to int16 with clamping.
func FloatToInt16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		out[i] = clampToInt16(s)
	}
	return out
}

func clampToInt16(s float32) int16 {
	v := int32(s * 32767)
	if v > 32767 {
		v = 32767
	} else if v < -32768 {
		v = -32768
	}
	return int16(v)
}

// PCM16ToFloat converts little-endian 16-bit PCM bytes to normalized
// [-1,1] samples. A trailing odd byte is ignored.
func PCM16ToFloat(data []byte) []float32 {
	n := len(data) / 2
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		out[i] = float32(int16(binary.LittleEndian.Uint16(data[i*2:]))) / 32768.0
	}
	return out
}

// RMS returns the root-mean-square of normalized samples, clamped to [0,1].
// An empty slice yields 0.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sumSquares float64
	for _, s := range samples {
		sumSquares += float64(s) * float64(s)
	}
	rms := math.Sqrt(sumSquares / float64(len(samples)))
	if rms > 1 {
		rms = 1
	}
	return rms
}
