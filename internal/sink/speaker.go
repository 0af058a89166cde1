package sink

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/glebovdev/singstream/internal/metrics"
	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
	"github.com/gopxl/beep/v2/generators"
	"github.com/gopxl/beep/v2/speaker"
	"github.com/rs/zerolog/log"
)

const (
	DefaultSampleRate = 24000
	DefaultBufferSize = 250 * time.Millisecond
	FrameQueueSize    = 8

	cueToneHigh     = 880.0
	cueToneLow      = 660.0
	cueToneDuration = 120 * time.Millisecond
	cueGap          = 80 * time.Millisecond

	// CueLength is how long PlayCue takes to finish.
	CueLength = 2*cueToneDuration + cueGap
)

// output is the subset of the beep speaker package the Speaker drives.
type output interface {
	Init(sampleRate beep.SampleRate, bufferSize int) error
	Play(s ...beep.Streamer)
	Clear()
	Close()
}

type beepOutput struct{}

func (beepOutput) Init(sampleRate beep.SampleRate, bufferSize int) error {
	return speaker.Init(sampleRate, bufferSize)
}
func (beepOutput) Play(s ...beep.Streamer) { speaker.Play(s...) }
func (beepOutput) Clear()                  { speaker.Clear() }
func (beepOutput) Close()                  { speaker.Close() }

// Speaker plays frames on the default audio device through beep.
type Speaker struct {
	out        output
	bufferSize time.Duration
	metrics    *metrics.Metrics

	mu          sync.Mutex
	original    int
	rate        int
	initialized bool
	enabled     bool

	frames  chan Frame
	stream  *frameStreamer
	volume  *effects.Volume
	written atomic.Int64
}

func NewSpeaker(sampleRate int, bufferSize time.Duration, m *metrics.Metrics) *Speaker {
	return newSpeaker(beepOutput{}, sampleRate, bufferSize, m)
}

func newSpeaker(out output, sampleRate int, bufferSize time.Duration, m *metrics.Metrics) *Speaker {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}

	frames := make(chan Frame, FrameQueueSize)
	stream := &frameStreamer{frames: frames, metrics: m}

	return &Speaker{
		out:        out,
		bufferSize: bufferSize,
		metrics:    m,
		original:   sampleRate,
		rate:       sampleRate,
		frames:     frames,
		stream:     stream,
		volume: &effects.Volume{
			Streamer: stream,
			Base:     2,
			Volume:   0,
		},
	}
}

func (s *Speaker) OutputEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

func (s *Speaker) EnableOutput(enable bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if enable == s.enabled {
		return nil
	}

	if !enable {
		s.out.Clear()
		s.enabled = false
		s.flushLocked()
		log.Debug().Msg("Audio output disabled")
		return nil
	}

	if err := s.initLocked(); err != nil {
		return err
	}
	s.out.Play(s.volume)
	s.enabled = true
	log.Debug().Msgf("Audio output enabled at %d Hz", s.rate)
	return nil
}

func (s *Speaker) OutputSampleRate() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rate
}

func (s *Speaker) OriginalOutputSampleRate() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.original
}

// SetOutputSampleRate reopens the device at rate. RestoreRate reverts to
// the rate the Speaker was created with.
func (s *Speaker) SetOutputSampleRate(rate int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rate == RestoreRate {
		rate = s.original
	}
	if rate <= 0 {
		return fmt.Errorf("sink: invalid sample rate %d", rate)
	}
	if rate == s.rate {
		return nil
	}

	log.Debug().Msgf("Output sample rate %d -> %d Hz", s.rate, rate)
	s.rate = rate
	if !s.initialized {
		return nil
	}

	s.initialized = false
	if err := s.initLocked(); err != nil {
		return err
	}
	if s.enabled {
		s.out.Play(s.volume)
	}
	return nil
}

func (s *Speaker) WriteFrame(ctx context.Context, f Frame) error {
	if !s.OutputEnabled() {
		return ErrOutputDisabled
	}
	select {
	case s.frames <- f:
		s.written.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PlayCue plays a short falling two-tone chime over whatever is playing.
func (s *Speaker) PlayCue() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.initLocked(); err != nil {
		return err
	}

	sr := beep.SampleRate(s.rate)
	high, err := generators.SineTone(sr, cueToneHigh)
	if err != nil {
		return fmt.Errorf("failed to create cue tone: %w", err)
	}
	low, err := generators.SineTone(sr, cueToneLow)
	if err != nil {
		return fmt.Errorf("failed to create cue tone: %w", err)
	}

	cue := beep.Seq(
		beep.Take(sr.N(cueToneDuration), high),
		beep.Silence(sr.N(cueGap)),
		beep.Take(sr.N(cueToneDuration), low),
	)
	s.out.Play(&effects.Volume{Streamer: cue, Base: 2, Volume: -2})
	return nil
}

// Flush drops queued frames.
func (s *Speaker) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushLocked()
}

// Underruns returns how many output callbacks ran dry mid-stream.
func (s *Speaker) Underruns() int64 {
	return s.stream.underruns.Load()
}

// FramesWritten returns how many frames were queued.
func (s *Speaker) FramesWritten() int64 {
	return s.written.Load()
}

func (s *Speaker) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized {
		s.out.Close()
		s.initialized = false
		s.enabled = false
	}
}

func (s *Speaker) initLocked() error {
	if s.initialized {
		return nil
	}
	sr := beep.SampleRate(s.rate)
	if err := s.out.Init(sr, sr.N(s.bufferSize)); err != nil {
		return fmt.Errorf("failed to initialize speaker: %w", err)
	}
	s.initialized = true
	log.Debug().Msgf("Speaker initialized with sample rate: %d Hz, buffer: %v", s.rate, s.bufferSize)
	return nil
}

func (s *Speaker) flushLocked() {
	for {
		select {
		case <-s.frames:
		default:
			s.stream.reset()
			return
		}
	}
}

// frameStreamer feeds queued frames to the speaker. Reads are non-blocking
// so an empty queue produces silence instead of stalling the audio callback.
type frameStreamer struct {
	frames  chan Frame
	metrics *metrics.Metrics

	mu        sync.Mutex
	current   []int16
	pos       int
	flowing   bool
	underruns atomic.Int64
}

func (f *frameStreamer) Stream(samples [][2]float64) (n int, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i := range samples {
		if f.pos >= len(f.current) {
			select {
			case frame := <-f.frames:
				f.current = frame.PCM
				f.pos = 0
				f.flowing = true
			default:
				if f.flowing {
					f.flowing = false
					f.underruns.Add(1)
					f.metrics.Underrun()
				}
				for j := i; j < len(samples); j++ {
					samples[j] = [2]float64{}
				}
				return len(samples), true
			}
			if len(f.current) == 0 {
				samples[i] = [2]float64{}
				continue
			}
		}

		v := float64(f.current[f.pos]) / 32768
		f.pos++
		samples[i] = [2]float64{v, v}
	}
	return len(samples), true
}

func (f *frameStreamer) Err() error {
	return nil
}

func (f *frameStreamer) reset() {
	f.mu.Lock()
	f.current = nil
	f.pos = 0
	f.flowing = false
	f.mu.Unlock()
}
