package audio

import "math"

// positiveFullScale is the largest positive value of a 16-bit signed sample.
// Quantization scales by it and dequantization divides by it, so the two are
// exact inverses for every representable sample, including -32768 (which
// dequantizes slightly below -1 and re-quantizes back via the integer clamp).
const positiveFullScale = 32767

// QuantizePCM16 converts float32 samples in [-1, 1] to 16-bit signed
// little-endian PCM. Each sample is scaled by the positive full-scale value,
// rounded to the nearer representable value, and clamped to the signed 16-bit
// range — so inputs above +1 saturate at 32767 and inputs at or below the
// negative extreme saturate at -32768.
func QuantizePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := int32(math.Round(float64(s) * positiveFullScale))
		if v > positiveFullScale {
			v = positiveFullScale
		} else if v < -32768 {
			v = -32768
		}
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

// DequantizePCM16 converts 16-bit signed little-endian PCM back to float32
// samples by dividing by the positive full-scale value. The input length must
// be even; a trailing odd byte is ignored.
func DequantizePCM16(pcm []byte) []float32 {
	n := len(pcm) / 2
	out := make([]float32, n)
	for i := range n {
		v := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		out[i] = float32(v) / positiveFullScale
	}
	return out
}

// ResampleMono resamples mono float32 samples from srcRate to dstRate using
// linear interpolation. If the rates match (or either is non-positive) the
// input is returned unchanged. Used by device adapters whose hardware cannot
// open a 24 kHz stream directly.
func ResampleMono(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(samples) < 2 {
		return samples
	}
	dstLen := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	if dstLen == 0 {
		return nil
	}

	out := make([]float32, dstLen)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstLen {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := float32(srcPos - float64(srcIdx))

		s0 := samples[srcIdx]
		s1 := s0
		if srcIdx+1 < len(samples) {
			s1 = samples[srcIdx+1]
		}
		out[i] = s0*(1-frac) + s1*frac
	}
	return out
}
