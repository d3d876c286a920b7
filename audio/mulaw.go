package audio

var muLawToPcmTable [256]int16

func init() {
	for i := 0; i < 256; i++ {
		muLawToPcmTable[i] = decodeMuLawByte(byte(i))
	}
}

// DecodeMuLaw expands G.711 mu-law bytes to 16-bit samples
func DecodeMuLaw(data []byte) []int16 {
	out := make([]int16, len(data))
	for i, b := range data {
		out[i] = muLawToPcmTable[b]
	}
	return out
}

// EncodeMuLaw compresses 16-bit samples to G.711 mu-law
func EncodeMuLaw(samples []int16) []byte {
	out := make([]byte, len(samples))
	for i, s := range samples {
		out[i] = PcmToMuLawByte(s)
	}
	return out
}

// Based on the Sun Microsystems G.711 reference implementation.
func decodeMuLawByte(uVal byte) int16 {
	// mu-law bytes are stored inverted
	uVal = ^uVal

	sign := uVal & 0x80
	exponent := (uVal >> 4) & 0x07
	mantissa := uVal & 0x0F

	// bias 0x84 is 33 shifted into mantissa alignment
	sample := int16((int32(mantissa)<<3 + 0x84) << exponent)
	sample -= 0x84

	if sign != 0 {
		return -sample
	}
	return sample
}

// PcmToMuLawByte encodes one sample
func PcmToMuLawByte(pcm int16) byte {
	const (
		bias = 0x84 // 132
		clip = 32635
	)

	sign := (pcm >> 8) & 0x80

	if pcm < 0 {
		if pcm == -32768 {
			pcm = clip
		} else {
			pcm = -pcm
		}
	}
	if pcm > clip {
		pcm = clip
	}
	pcm += bias

	// find the highest set bit below 0x4000
	exponent := 7
	for mask := 0x4000; (pcm&int16(mask)) == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}

	mantissa := (pcm >> (exponent + 3)) & 0x0F
	ulawByte := byte(sign | (int16(exponent) << 4) | mantissa)

	return ^ulawByte
}
