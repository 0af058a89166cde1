package mp3

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	gomp3 "github.com/hajimehoshi/go-mp3"
)

var (
	// ErrNeedMoreData means the window holds less than one whole frame.
	ErrNeedMoreData = errors.New("mp3: need more data")
	// ErrNoSync means no frame header exists in the window.
	ErrNoSync = errors.New("mp3: no sync word")
	// ErrUnsupported is returned for frames the decoder cannot handle. The
	// whole frame is reported as consumed.
	ErrUnsupported = errors.New("mp3: unsupported frame")
)

// Frame is the decoded audio of one MPEG frame.
type Frame struct {
	SampleRate int
	Channels   int
	Samples    []int16 // interleaved
	Bitrate    int
}

// FrameDecoder decodes a single frame from the start of p and reports how
// many bytes it consumed. It returns ErrNeedMoreData without consuming
// anything when p is shorter than the frame.
type FrameDecoder interface {
	DecodeFrame(p []byte) (int, Frame, error)
}

// feeder is the reader go-mp3 pulls from. It only ever holds the bytes of
// the frame being decoded.
type feeder struct {
	buf []byte
}

func (f *feeder) Read(p []byte) (int, error) {
	if len(f.buf) == 0 {
		return 0, io.EOF
	}
	n := copy(p, f.buf)
	f.buf = f.buf[n:]
	return n, nil
}

// Decoder adapts the pull-based go-mp3 decoder to frame-at-a-time decoding.
// go-mp3 keeps the previous frame for the bit reservoir, so one Decoder must
// see the frames of a stream in order.
type Decoder struct {
	feed *feeder
	dec  *gomp3.Decoder
	out  []byte
}

func NewDecoder() *Decoder {
	return &Decoder{feed: &feeder{}}
}

func (d *Decoder) DecodeFrame(p []byte) (int, Frame, error) {
	h, err := ParseHeader(p)
	if err != nil {
		if errors.Is(err, ErrNeedMoreData) {
			return 0, Frame{}, err
		}
		return 1, Frame{}, err
	}

	size := h.FrameSize()
	if len(p) < size {
		return 0, Frame{}, ErrNeedMoreData
	}
	if h.Layer != 3 || h.Version == Version25 {
		return size, Frame{}, fmt.Errorf("%w: MPEG %d layer %d", ErrUnsupported, h.Version, h.Layer)
	}

	d.feed.buf = p[:size]
	if d.dec == nil {
		dec, err := gomp3.NewDecoder(d.feed)
		if err != nil {
			d.Reset()
			return size, Frame{}, fmt.Errorf("mp3: decoder init: %w", err)
		}
		d.dec = dec
	}

	// go-mp3 always produces 16-bit stereo.
	n := h.SamplesPerFrame() * 4
	if cap(d.out) < n {
		d.out = make([]byte, n)
	}
	out := d.out[:n]
	if _, err := io.ReadFull(d.dec, out); err != nil {
		d.Reset()
		return size, Frame{}, fmt.Errorf("mp3: decode frame: %w", err)
	}
	d.feed.buf = nil

	samples := make([]int16, n/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(out[2*i:]))
	}

	return size, Frame{
		SampleRate: d.dec.SampleRate(),
		Channels:   2,
		Samples:    samples,
		Bitrate:    h.Bitrate,
	}, nil
}

// Reset drops decoder state so the next frame starts a fresh stream.
func (d *Decoder) Reset() {
	d.dec = nil
	d.feed.buf = nil
}
