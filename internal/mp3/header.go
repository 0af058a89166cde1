// Package mp3 locates MPEG audio frames in a byte window and decodes them
// one at a time.
package mp3

import (
	"errors"
	"fmt"
)

const HeaderSize = 4

const (
	Version1  = 1
	Version2  = 2
	Version25 = 25
)

var ErrInvalidHeader = errors.New("mp3: invalid frame header")

var bitrates = map[int][3][16]int{
	Version1: {
		{0, 32, 64, 96, 128, 160, 192, 224, 256, 288, 320, 352, 384, 416, 448, 0},
		{0, 32, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320, 384, 0},
		{0, 32, 40, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320, 0},
	},
	Version2: {
		{0, 32, 48, 56, 64, 80, 96, 112, 128, 144, 160, 176, 192, 224, 256, 0},
		{0, 8, 16, 24, 32, 40, 48, 56, 64, 80, 96, 112, 128, 144, 160, 0},
		{0, 8, 16, 24, 32, 40, 48, 56, 64, 80, 96, 112, 128, 144, 160, 0},
	},
}

var sampleRates = map[int][3]int{
	Version1:  {44100, 48000, 32000},
	Version2:  {22050, 24000, 16000},
	Version25: {11025, 12000, 8000},
}

// Header is a decoded MPEG audio frame header.
type Header struct {
	Version    int
	Layer      int
	Bitrate    int // bits per second
	SampleRate int
	Padding    bool
	Channels   int
	CRC        bool
}

// ParseHeader decodes the four header bytes at the start of p. Free-format
// bitrates and reserved fields are rejected.
func ParseHeader(p []byte) (Header, error) {
	if len(p) < HeaderSize {
		return Header{}, ErrNeedMoreData
	}
	if p[0] != 0xFF || p[1]&0xE0 != 0xE0 {
		return Header{}, fmt.Errorf("%w: no sync word", ErrInvalidHeader)
	}

	var h Header
	switch (p[1] >> 3) & 0x03 {
	case 0:
		h.Version = Version25
	case 2:
		h.Version = Version2
	case 3:
		h.Version = Version1
	default:
		return Header{}, fmt.Errorf("%w: reserved version", ErrInvalidHeader)
	}

	layerBits := (p[1] >> 1) & 0x03
	if layerBits == 0 {
		return Header{}, fmt.Errorf("%w: reserved layer", ErrInvalidHeader)
	}
	h.Layer = 4 - int(layerBits)
	h.CRC = p[1]&0x01 == 0

	bitrateIdx := int(p[2] >> 4)
	if bitrateIdx == 0 || bitrateIdx == 15 {
		return Header{}, fmt.Errorf("%w: bitrate index %d", ErrInvalidHeader, bitrateIdx)
	}
	rateIdx := int(p[2]>>2) & 0x03
	if rateIdx == 3 {
		return Header{}, fmt.Errorf("%w: reserved sample rate", ErrInvalidHeader)
	}
	if p[3]&0x03 == 2 {
		return Header{}, fmt.Errorf("%w: reserved emphasis", ErrInvalidHeader)
	}

	table := h.Version
	if table == Version25 {
		table = Version2
	}
	h.Bitrate = bitrates[table][h.Layer-1][bitrateIdx] * 1000
	h.SampleRate = sampleRates[h.Version][rateIdx]
	h.Padding = p[2]&0x02 != 0

	h.Channels = 2
	if p[3]>>6 == 3 {
		h.Channels = 1
	}
	return h, nil
}

// FrameSize returns the byte length of the whole frame, header included.
func (h Header) FrameSize() int {
	pad := 0
	if h.Padding {
		pad = 1
	}
	switch h.Layer {
	case 1:
		return (12*h.Bitrate/h.SampleRate + pad) * 4
	case 2:
		return 144*h.Bitrate/h.SampleRate + pad
	default:
		if h.Version == Version1 {
			return 144*h.Bitrate/h.SampleRate + pad
		}
		return 72*h.Bitrate/h.SampleRate + pad
	}
}

// SamplesPerFrame returns the number of samples per channel in one frame.
func (h Header) SamplesPerFrame() int {
	switch h.Layer {
	case 1:
		return 384
	case 2:
		return 1152
	default:
		if h.Version == Version1 {
			return 1152
		}
		return 576
	}
}

// FindSyncWord returns the offset of the first valid frame header in p, or
// -1 if there is none.
func FindSyncWord(p []byte) int {
	for i := 0; i+HeaderSize <= len(p); i++ {
		if p[i] != 0xFF || p[i+1]&0xE0 != 0xE0 {
			continue
		}
		if _, err := ParseHeader(p[i:]); err == nil {
			return i
		}
	}
	return -1
}
