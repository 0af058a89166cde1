// Package sink is the audio output end of a playback session.
package sink

import (
	"context"
	"errors"
	"time"
)

// RestoreRate passed to SetOutputSampleRate reverts to the device's own rate.
const RestoreRate = -1

var ErrOutputDisabled = errors.New("sink: output disabled")

// Frame is a block of mono 16-bit PCM at SampleRate. Duration is the
// nominal packet duration used for pacing, not necessarily len(PCM)/rate.
type Frame struct {
	SampleRate int
	Duration   time.Duration
	PCM        []int16
}

// Sink accepts decoded frames and owns the output sample rate.
type Sink interface {
	OutputEnabled() bool
	EnableOutput(enable bool) error
	OutputSampleRate() int
	OriginalOutputSampleRate() int
	SetOutputSampleRate(rate int) error
	// WriteFrame blocks until the frame is queued or ctx is done.
	WriteFrame(ctx context.Context, f Frame) error
}

// Cue plays a short audible notification.
type Cue interface {
	PlayCue() error
}
