// Package format identifies the container of an incoming stream and turns
// raw PCM into the mono 16-bit samples the sink expects.
package format

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/go-audio/riff"
)

const (
	// SignatureSize is how many bytes are needed to tell WAV from anything else.
	SignatureSize = 12

	chunkHeaderSize = 8
	pcmFormat       = 1
	extensibleFmt   = 0xFFFE

	DefaultWAVSampleRate = 16000
	DefaultWAVChannels   = 1
	DefaultWAVBits       = 16
)

var (
	ErrNotWAV = errors.New("format: not a RIFF/WAVE stream")
	// ErrDataNotFound means the header is WAV but the data block has not
	// arrived yet.
	ErrDataNotFound   = errors.New("format: WAV data block not found")
	ErrUnsupportedWAV = errors.New("format: unsupported WAV encoding")
)

// WAVInfo holds what the fmt block declares and where the samples begin.
type WAVInfo struct {
	AudioFormat   int
	Channels      int
	SampleRate    int
	BitsPerSample int
	DataOffset    int
	HasFormat     bool
}

// DefaultWAVInfo is assumed when a stream carries no fmt block.
func DefaultWAVInfo() WAVInfo {
	return WAVInfo{
		AudioFormat:   pcmFormat,
		Channels:      DefaultWAVChannels,
		SampleRate:    DefaultWAVSampleRate,
		BitsPerSample: DefaultWAVBits,
	}
}

// BlockSize is the byte length of one sample for every channel.
func (w WAVInfo) BlockSize() int {
	return w.Channels * w.BitsPerSample / 8
}

// Validate reports whether the samples can be played as 16-bit PCM.
func (w WAVInfo) Validate() error {
	if w.AudioFormat != pcmFormat && w.AudioFormat != extensibleFmt {
		return fmt.Errorf("%w: audio format %d", ErrUnsupportedWAV, w.AudioFormat)
	}
	if w.BitsPerSample != 16 {
		return fmt.Errorf("%w: %d bits per sample", ErrUnsupportedWAV, w.BitsPerSample)
	}
	if w.Channels < 1 {
		return fmt.Errorf("%w: %d channels", ErrUnsupportedWAV, w.Channels)
	}
	if w.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate %d", ErrUnsupportedWAV, w.SampleRate)
	}
	return nil
}

// IsWAV checks the RIFF/WAVE signature.
func IsWAV(p []byte) bool {
	return len(p) >= SignatureSize &&
		bytes.Equal(p[0:4], riff.RiffID[:]) &&
		bytes.Equal(p[8:12], riff.WavFormatID[:])
}

// SniffWAV walks the RIFF blocks of p looking for "fmt " and "data". When
// the data block is not present yet it returns ErrDataNotFound together
// with whatever format information was already parsed.
func SniffWAV(p []byte) (WAVInfo, error) {
	info := DefaultWAVInfo()
	if !IsWAV(p) {
		return info, ErrNotWAV
	}

	r := bytes.NewReader(p)
	parser := riff.New(r)
	if err := parser.ParseHeaders(); err != nil || parser.Format != riff.WavFormatID {
		return info, ErrNotWAV
	}

	for r.Len() >= chunkHeaderSize {
		ch, err := parser.NextChunk()
		if err != nil {
			break
		}

		switch ch.ID {
		case riff.FmtID:
			if err := ch.DecodeWavHeader(parser); err != nil {
				return info, ErrDataNotFound
			}
			info.AudioFormat = int(parser.WavAudioFormat)
			info.Channels = int(parser.NumChannels)
			info.SampleRate = int(parser.SampleRate)
			info.BitsPerSample = int(parser.BitsPerSample)
			info.HasFormat = true
		case riff.DataFormatID:
			info.DataOffset = len(p) - r.Len()
			return info, nil
		default:
			ch.Drain()
		}
	}

	return info, ErrDataNotFound
}
