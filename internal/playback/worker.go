// Package playback drains the session buffer, decodes WAV or MP3 and hands
// mono PCM frames to the sink.
package playback

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/glebovdev/singstream/internal/buffer"
	"github.com/glebovdev/singstream/internal/device"
	"github.com/glebovdev/singstream/internal/format"
	"github.com/glebovdev/singstream/internal/metrics"
	"github.com/glebovdev/singstream/internal/mp3"
	"github.com/glebovdev/singstream/internal/sink"
	"github.com/glebovdev/singstream/internal/status"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultWindowSize      = 8192
	DefaultRefillThreshold = 4096
	DefaultFrameDuration   = 60 * time.Millisecond

	// DeviceRecheckInterval bounds how long the device gate sleeps between
	// state checks when no change notification arrives.
	DeviceRecheckInterval = 300 * time.Millisecond
)

var (
	ErrNoSink = errors.New("playback: no audio sink")
	// ErrDecoderInit covers a decoder that cannot be created and WAV
	// streams that are not 16-bit PCM.
	ErrDecoderInit = errors.New("playback: decoder initialization failed")
	// ErrNoAudio means the stream ended after the decoder had to discard
	// its window without ever finding a playable frame.
	ErrNoAudio = errors.New("playback: no decodable audio in stream")
)

type Format int32

const (
	FormatUnknown Format = iota
	FormatWAV
	FormatMP3
)

func (f Format) String() string {
	switch f {
	case FormatWAV:
		return "wav"
	case FormatMP3:
		return "mp3"
	default:
		return "unknown"
	}
}

type Config struct {
	// MinBuffer is the occupancy the startup gate waits for.
	MinBuffer       int
	WindowSize      int
	RefillThreshold int
	FrameDuration   time.Duration
	Mode            status.Mode
}

func (c *Config) applyDefaults() {
	if c.MinBuffer <= 0 {
		c.MinBuffer = buffer.DefaultMinSize
	}
	if c.WindowSize <= 0 {
		c.WindowSize = DefaultWindowSize
	}
	if c.RefillThreshold <= 0 || c.RefillThreshold > c.WindowSize {
		c.RefillThreshold = c.WindowSize / 2
	}
	if c.FrameDuration <= 0 {
		c.FrameDuration = DefaultFrameDuration
	}
}

// WorkerParams wires a Worker to its session.
type WorkerParams struct {
	Buffer *buffer.Buffer
	Sink   sink.Sink
	// Device and Display are optional.
	Device  device.Monitor
	Display status.Display
	// Title is the song name shown as now playing. Empty shows nothing.
	Title string
	// NewDecoder creates the MP3 frame decoder on first use.
	NewDecoder func() (mp3.FrameDecoder, error)
	// Playing reports whether the session still wants audio.
	Playing func() bool
	// RestoreRate reverts the sink sample rate. It is called on exit; the
	// worker restores the rate itself when nil.
	RestoreRate func()
	// SubscriberID identifies this worker on the device hub.
	SubscriberID string
	Config       Config
	Metrics      *metrics.Metrics
	Logger       *zerolog.Logger
}

// Stats is a snapshot of what a worker has played.
type Stats struct {
	Format      Format
	BytesPlayed int64
	Frames      int64
	PlayTime    time.Duration
	Resyncs     int64
}

// Worker plays one buffer. It is single-use.
type Worker struct {
	buf         *buffer.Buffer
	sink        sink.Sink
	device      device.Monitor
	display     status.Display
	title       string
	newDecoder  func() (mp3.FrameDecoder, error)
	playing     func() bool
	restoreRate func()
	subID       string
	cfg         Config
	metrics     *metrics.Metrics
	log         zerolog.Logger

	win      *window
	pending  *buffer.Chunk
	head     []byte
	wav      format.WAVInfo
	wavReady bool
	skip     int
	eos      bool
	needMore bool
	decoder  mp3.FrameDecoder
	deviceCh <-chan device.State
	shown    bool
	changed  bool

	format      atomic.Int32
	bytesPlayed atomic.Int64
	frames      atomic.Int64
	playTime    atomic.Int64 // microseconds
	resyncs     atomic.Int64
}

func NewWorker(p WorkerParams) *Worker {
	p.Config.applyDefaults()

	logger := log.Logger
	if p.Logger != nil {
		logger = *p.Logger
	}
	playing := p.Playing
	if playing == nil {
		playing = func() bool { return true }
	}
	newDecoder := p.NewDecoder
	if newDecoder == nil {
		newDecoder = func() (mp3.FrameDecoder, error) { return mp3.NewDecoder(), nil }
	}
	subID := p.SubscriberID
	if subID == "" {
		subID = "playback"
	}

	return &Worker{
		buf:         p.Buffer,
		sink:        p.Sink,
		device:      p.Device,
		display:     p.Display,
		title:       p.Title,
		newDecoder:  newDecoder,
		playing:     playing,
		restoreRate: p.RestoreRate,
		subID:       subID,
		cfg:         p.Config,
		metrics:     p.Metrics,
		log:         logger.With().Str("worker", "playback").Logger(),
		win:         newWindow(p.Config.WindowSize),
	}
}

func (w *Worker) Stats() Stats {
	return Stats{
		Format:      Format(w.format.Load()),
		BytesPlayed: w.bytesPlayed.Load(),
		Frames:      w.frames.Load(),
		PlayTime:    time.Duration(w.playTime.Load()) * time.Microsecond,
		Resyncs:     w.resyncs.Load(),
	}
}

// Run waits for the startup gate and then plays until the buffer is drained,
// the session stops playing, or ctx is done. A nil error covers both.
func (w *Worker) Run(ctx context.Context) error {
	if w.sink == nil {
		return ErrNoSink
	}
	defer w.finish()

	if !w.sink.OutputEnabled() {
		if err := w.sink.EnableOutput(true); err != nil {
			return fmt.Errorf("playback: enable output: %w", err)
		}
	}

	start := time.Now()
	if !w.buf.WaitFill(w.cfg.MinBuffer) {
		w.log.Debug().Msg("Nothing to play")
		return nil
	}
	w.log.Debug().
		Int("buffered", w.buf.Len()).
		Dur("waited", time.Since(start)).
		Msg("Startup gate open")

	if w.device != nil {
		w.deviceCh = w.device.Subscribe(w.subID)
		defer w.device.Unsubscribe(w.subID)
	}

	for w.running(ctx) {
		if !w.awaitDevice(ctx) {
			return nil
		}
		w.announce()

		if (w.win.Len() < w.cfg.RefillThreshold || w.needMore) && !w.drained() {
			w.needMore = false
			if err := w.refill(); err != nil {
				return err
			}
		}

		var done bool
		var err error
		switch Format(w.format.Load()) {
		case FormatWAV:
			done, err = w.playWAV(ctx)
		case FormatMP3:
			done, err = w.playMP3(ctx)
		default:
			done = w.drained()
		}
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || !w.running(ctx) {
				return nil
			}
			if errors.Is(err, sink.ErrOutputDisabled) {
				w.log.Debug().Msg("Output disabled, stopping playback")
				return nil
			}
			return err
		}
		if done {
			return w.endOfStream()
		}
	}
	return nil
}

func (w *Worker) running(ctx context.Context) bool {
	return ctx.Err() == nil && w.playing()
}

// drained reports whether every byte of the stream has reached the window.
func (w *Worker) drained() bool {
	return w.eos && w.pending == nil
}

func (w *Worker) endOfStream() error {
	st := w.Stats()
	w.log.Debug().
		Int64("frames", st.Frames).
		Int64("bytes", st.BytesPlayed).
		Dur("played", st.PlayTime).
		Msg("Playback finished")
	if st.Frames == 0 && st.Resyncs > 0 {
		return ErrNoAudio
	}
	return nil
}

func (w *Worker) finish() {
	if w.pending != nil {
		w.pending.Release()
		w.pending = nil
	}
	if w.restoreRate != nil {
		w.restoreRate()
	} else if w.changed {
		if err := w.sink.SetOutputSampleRate(sink.RestoreRate); err != nil {
			w.log.Warn().Err(err).Msg("Failed to restore output sample rate")
		}
	}
	if w.display != nil {
		if w.shown {
			w.display.SetNowPlaying("")
		}
		w.display.StopVisualization()
	}
}

// awaitDevice blocks while the voice pipeline owns the audio path. A
// listening or speaking pipeline is asked to stop once per wait.
func (w *Worker) awaitDevice(ctx context.Context) bool {
	if w.device == nil {
		return true
	}

	interrupted := false
	for {
		st := w.device.State()
		if st == device.StateIdle || st == device.StateUnknown {
			return true
		}
		if st.Busy() && !interrupted {
			w.log.Debug().Str("state", st.String()).Msg("Device busy, requesting interrupt")
			w.device.Interrupt()
			interrupted = true
			continue
		}

		timer := time.NewTimer(DeviceRecheckInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case _, ok := <-w.deviceCh:
			if !ok {
				w.deviceCh = nil
			}
		case <-timer.C:
		}
		timer.Stop()

		if !w.running(ctx) {
			return false
		}
	}
}

func (w *Worker) announce() {
	if w.shown || w.display == nil || w.title == "" {
		return
	}
	w.shown = true
	w.display.SetNowPlaying(status.NowPlayingText(w.title))
	if w.cfg.Mode == status.ModeSpectrum {
		w.display.StartVisualization()
	}
}

// refill moves stream bytes toward the decode window, taking a new chunk
// from the buffer only when the previous one has been fully copied.
func (w *Worker) refill() error {
	if w.pending == nil {
		c, ok := w.buf.Pop()
		if !ok {
			w.eos = true
			if w.detecting() {
				w.pending = w.detect(true)
			}
			return w.checkWAV()
		}
		w.metrics.SetOccupancy(w.buf.Len())

		w.pending = w.prepare(c)
		if err := w.checkWAV(); err != nil {
			return err
		}
		if w.pending == nil {
			return nil
		}
	}

	n := w.win.Append(w.pending.Bytes())
	w.pending.Consume(n)
	if w.pending.Len() == 0 {
		w.pending.Release()
		w.pending = nil
	}
	return nil
}

func (w *Worker) detecting() bool {
	f := Format(w.format.Load())
	return f == FormatUnknown || (f == FormatWAV && !w.wavReady)
}

// prepare runs format detection and tag skipping on a freshly popped chunk
// and returns what is left for the window, if anything.
func (w *Worker) prepare(c *buffer.Chunk) *buffer.Chunk {
	if w.detecting() {
		w.head = append(w.head, c.Bytes()...)
		c.Release()
		return w.detect(false)
	}
	return w.skipTag(c)
}

// detect inspects the accumulated head. final forces a decision when the
// stream ends before detection could complete.
func (w *Worker) detect(final bool) *buffer.Chunk {
	if Format(w.format.Load()) == FormatUnknown {
		if len(w.head) < format.SignatureSize && !final {
			return nil
		}
		if !format.IsWAV(w.head) {
			w.setFormat(FormatMP3)
			if size := format.ID3TagSize(w.head); size > 0 {
				w.log.Debug().Int("bytes", size).Msg("Skipping ID3v2 tag")
				w.skip = size
			}
			return w.skipTag(w.takeHead(0))
		}
		w.setFormat(FormatWAV)
	}

	info, err := format.SniffWAV(w.head)
	if err != nil {
		if !final && len(w.head) <= w.cfg.WindowSize {
			return nil
		}
		w.log.Warn().Err(err).Int("bytes", len(w.head)).Msg("WAV data block not found, dropping header")
		w.setWAV(info)
		w.head = nil
		return nil
	}
	w.setWAV(info)
	return w.takeHead(info.DataOffset)
}

func (w *Worker) setFormat(f Format) {
	w.format.Store(int32(f))
	w.log.Debug().Str("format", f.String()).Msg("Stream format detected")
}

func (w *Worker) setWAV(info format.WAVInfo) {
	w.wav = info
	w.wavReady = true
	w.log.Debug().
		Int("channels", info.Channels).
		Int("rate", info.SampleRate).
		Int("bits", info.BitsPerSample).
		Bool("fmt", info.HasFormat).
		Msg("WAV header parsed")
}

func (w *Worker) checkWAV() error {
	if Format(w.format.Load()) != FormatWAV || !w.wavReady {
		return nil
	}
	if err := w.wav.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrDecoderInit, err)
	}
	if block := w.wav.BlockSize(); block > w.cfg.WindowSize {
		return fmt.Errorf("%w: %w: %d byte sample block", ErrDecoderInit, format.ErrUnsupportedWAV, block)
	}
	return nil
}

func (w *Worker) takeHead(off int) *buffer.Chunk {
	rest := w.head[off:]
	w.head = nil
	if len(rest) == 0 {
		return nil
	}
	return buffer.NewChunk(rest)
}

func (w *Worker) skipTag(c *buffer.Chunk) *buffer.Chunk {
	if c == nil || w.skip == 0 {
		return c
	}
	n := min(w.skip, c.Len())
	c.Consume(n)
	w.skip -= n
	if c.Len() == 0 {
		c.Release()
		return nil
	}
	return c
}

// playWAV emits every whole sample block in the window. A trailing partial
// block stays in the window for the next chunk.
func (w *Worker) playWAV(ctx context.Context) (bool, error) {
	if !w.wavReady {
		return w.drained(), nil
	}

	block := w.wav.BlockSize()
	n := w.win.Len() / block * block
	if n == 0 {
		w.needMore = true
		return w.drained(), nil
	}

	samples := format.PCM16(w.win.Bytes()[:n])
	w.win.Consume(n)

	mono := format.Downmix(samples, w.wav.Channels)
	w.playTime.Add(int64(len(mono)) * int64(time.Second/time.Microsecond) / int64(w.wav.SampleRate))
	return false, w.emit(ctx, sink.Frame{
		SampleRate: w.wav.SampleRate,
		Duration:   w.cfg.FrameDuration,
		PCM:        mono,
	}, n)
}

// playMP3 decodes at most one frame from the window.
func (w *Worker) playMP3(ctx context.Context) (bool, error) {
	if w.decoder == nil {
		dec, err := w.newDecoder()
		if err != nil {
			return false, fmt.Errorf("%w: %w", ErrDecoderInit, err)
		}
		w.decoder = dec
	}

	if w.win.Len() == 0 {
		return w.drained(), nil
	}

	off := mp3.FindSyncWord(w.win.Bytes())
	if off < 0 {
		w.log.Debug().Int("bytes", w.win.Len()).Msg("No sync word in window, discarding")
		w.win.Reset()
		w.resyncs.Add(1)
		w.metrics.ResyncDrop()
		return w.drained(), nil
	}
	if off > 0 {
		w.win.Consume(off)
	}

	consumed, frame, err := w.decoder.DecodeFrame(w.win.Bytes())
	if err != nil {
		if errors.Is(err, mp3.ErrNeedMoreData) {
			if w.drained() {
				return true, nil
			}
			w.needMore = true
			return false, nil
		}
		w.log.Debug().Err(err).Msg("Frame decode failed, resyncing")
		w.win.Consume(max(consumed, 1))
		return false, nil
	}
	w.win.Consume(consumed)

	if frame.SampleRate > 0 && frame.Channels > 0 {
		us := int64(len(frame.Samples)) * int64(time.Second/time.Microsecond) / int64(frame.SampleRate*frame.Channels)
		w.playTime.Add(us)
	}
	mono := format.Downmix(frame.Samples, frame.Channels)
	return false, w.emit(ctx, sink.Frame{
		SampleRate: frame.SampleRate,
		Duration:   w.cfg.FrameDuration,
		PCM:        mono,
	}, consumed)
}

func (w *Worker) emit(ctx context.Context, f sink.Frame, n int) error {
	// A worker left behind by teardown must not touch the rate the next
	// session starts with.
	if !w.running(ctx) {
		return context.Canceled
	}
	if f.SampleRate > 0 && w.sink.OutputSampleRate() != f.SampleRate {
		if err := w.sink.SetOutputSampleRate(f.SampleRate); err != nil {
			w.log.Warn().Err(err).Int("rate", f.SampleRate).Msg("Failed to set output sample rate")
		} else {
			w.changed = true
			w.log.Debug().Int("rate", f.SampleRate).Msg("Output sample rate changed")
		}
	}

	if err := w.sink.WriteFrame(ctx, f); err != nil {
		return err
	}
	w.bytesPlayed.Add(int64(n))
	w.frames.Add(1)
	w.metrics.FrameEmitted(Format(w.format.Load()).String())
	return nil
}
