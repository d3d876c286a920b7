package audio

import (
	"encoding/binary"
	"math"
)

// PutPCM16 converts float samples in [-1, 1] to little-endian 16-bit PCM.
// dst must hold 2*len(src) bytes.
func PutPCM16(dst []byte, src []float32) {
	for i, s := range src {
		binary.LittleEndian.PutUint16(dst[2*i:], uint16(FloatToInt16(s)))
	}
}

// PCM16Bytes converts float samples to a new little-endian 16-bit PCM buffer
func PCM16Bytes(src []float32) []byte {
	out := make([]byte, 2*len(src))
	PutPCM16(out, src)
	return out
}

// PCM16ToInt16 decodes little-endian 16-bit PCM. A trailing odd byte is ignored.
func PCM16ToInt16(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[2*i:]))
	}
	return samples
}

// FloatToInt16 clamps and scales one sample
func FloatToInt16(s float32) int16 {
	if s >= 1 {
		return math.MaxInt16
	}
	if s <= -1 {
		return math.MinInt16 + 1
	}
	return int16(s * math.MaxInt16)
}

// Int16ToFloat converts PCM samples to floats in [-1, 1]
func Int16ToFloat(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768
	}
	return out
}

// Downmix averages interleaved channels into mono
func Downmix(samples []int16, channels int) []int16 {
	if channels <= 1 {
		return samples
	}
	out := make([]int16, len(samples)/channels)
	for i := range out {
		var sum int32
		for c := 0; c < channels; c++ {
			sum += int32(samples[i*channels+c])
		}
		out[i] = int16(sum / int32(channels))
	}
	return out
}

// Resample converts mono samples between rates with linear interpolation
func Resample(samples []float32, from, to int) []float32 {
	if from == to || from <= 0 || to <= 0 || len(samples) == 0 {
		return samples
	}
	n := int(int64(len(samples)) * int64(to) / int64(from))
	if n == 0 {
		return nil
	}
	out := make([]float32, n)
	step := float64(from) / float64(to)
	last := len(samples) - 1
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		if j >= last {
			out[i] = samples[last]
			continue
		}
		frac := float32(pos - float64(j))
		out[i] = samples[j] + (samples[j+1]-samples[j])*frac
	}
	return out
}
