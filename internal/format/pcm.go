package format

import "encoding/binary"

// PCM16 decodes little-endian 16-bit samples. A trailing odd byte is ignored.
func PCM16(p []byte) []int16 {
	out := make([]int16, len(p)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(p[2*i:]))
	}
	return out
}

// Downmix averages interleaved samples down to one channel. Stereo pairs
// become (L+R)/2 truncated toward zero; wider layouts average every channel.
// Mono input is returned as a copy.
func Downmix(interleaved []int16, channels int) []int16 {
	if channels <= 1 {
		out := make([]int16, len(interleaved))
		copy(out, interleaved)
		return out
	}

	frames := len(interleaved) / channels
	out := make([]int16, frames)
	if channels == 2 {
		for i := 0; i < frames; i++ {
			out[i] = int16((int32(interleaved[2*i]) + int32(interleaved[2*i+1])) / 2)
		}
		return out
	}

	for i := 0; i < frames; i++ {
		var sum int32
		for c := 0; c < channels; c++ {
			sum += int32(interleaved[i*channels+c])
		}
		out[i] = int16(sum / int32(channels))
	}
	return out
}
