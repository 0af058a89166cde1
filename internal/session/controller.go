// Package session runs one streaming session at a time: an ingest worker
// downloading into a bounded buffer and a playback worker draining it.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/glebovdev/singstream/internal/buffer"
	"github.com/glebovdev/singstream/internal/config"
	"github.com/glebovdev/singstream/internal/device"
	"github.com/glebovdev/singstream/internal/ingest"
	"github.com/glebovdev/singstream/internal/metrics"
	"github.com/glebovdev/singstream/internal/mp3"
	"github.com/glebovdev/singstream/internal/playback"
	"github.com/glebovdev/singstream/internal/sink"
	"github.com/glebovdev/singstream/internal/status"
	"github.com/glebovdev/singstream/internal/track"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrEmptyInput = errors.New("session: empty request")

// Notifier is told when a requested song does not exist on the server.
type Notifier interface {
	// NotFound plays the user-audible "not found" cue.
	NotFound()
	// ResumeListening hands control back to the voice pipeline.
	ResumeListening()
}

// Resolver maps a song to a server-side identifier. An empty result means
// the song is requested by name.
type Resolver interface {
	LookupSongID(song, artist string) string
}

type Options struct {
	Config    *config.Config
	Transport ingest.Transport
	Sink      sink.Sink
	// Device, Display, Notifier, Resolver and Metrics are optional.
	Device     device.Monitor
	Display    status.Display
	Notifier   Notifier
	Resolver   Resolver
	Metrics    *metrics.Metrics
	NewDecoder func() (mp3.FrameDecoder, error)
	// Headers adds request headers on top of the configured static ones.
	Headers ingest.HeaderProvider
}

// Stats describes the current session, or the last one when idle.
type Stats struct {
	ID              string
	URL             string
	Started         time.Time
	BytesDownloaded int64
	Playback        playback.Stats
	Failure         Failure
}

// Controller owns the session lifecycle. Start and Stop may be called from
// any goroutine; they are serialized.
type Controller struct {
	cfg        *config.Config
	transport  ingest.Transport
	sink       sink.Sink
	device     device.Monitor
	display    status.Display
	notifier   Notifier
	resolver   Resolver
	metrics    *metrics.Metrics
	newDecoder func() (mp3.FrameDecoder, error)
	headers    ingest.HeaderProvider

	mu sync.Mutex

	stateMu     sync.RWMutex
	state       State
	idle        chan struct{}
	current     *session
	last        *session
	lastURL     string
	lastFailure Failure
	lastReport  TeardownReport
}

func NewController(opts Options) *Controller {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	transport := opts.Transport
	if transport == nil {
		transport = ingest.NewHTTPTransport(cfg.OpenTimeout(), cfg.CloseGrace())
	}

	idle := make(chan struct{})
	close(idle)

	return &Controller{
		cfg:        cfg,
		transport:  transport,
		sink:       opts.Sink,
		device:     opts.Device,
		display:    opts.Display,
		notifier:   opts.Notifier,
		resolver:   opts.Resolver,
		metrics:    opts.Metrics,
		newDecoder: opts.NewDecoder,
		headers:    opts.Headers,
		state:      StateIdle,
		idle:       idle,
	}
}

// Start tears down any running session and streams url.
func (c *Controller) Start(url string) error {
	url = strings.TrimSpace(url)
	if url == "" {
		return ErrEmptyInput
	}
	return c.start(url, "", "")
}

// StartSong streams a song by name. The resolver, when set, may turn it into
// an identifier request instead.
func (c *Controller) StartSong(song, artist string) error {
	req := track.Request{Song: song, Artist: artist}
	if req.IsEmpty() {
		return ErrEmptyInput
	}

	if c.resolver != nil {
		if id := c.resolver.LookupSongID(req.Song, req.Artist); id != "" {
			log.Debug().Msgf("Resolved %q to song id %s", req.Title(), id)
			return c.startRequest(track.Request{Song: song, Artist: artist, ID: id})
		}
	}
	return c.startRequest(req)
}

// StartByID streams the song the server knows by id.
func (c *Controller) StartByID(id string) error {
	req := track.Request{ID: id}
	if req.IsEmpty() {
		return ErrEmptyInput
	}
	return c.startRequest(req)
}

func (c *Controller) startRequest(req track.Request) error {
	raw := req.RawQuery()
	return c.start(track.StreamURL(c.cfg.BaseHost, raw), raw, req.Title())
}

func (c *Controller) start(url, query, title string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stateMu.Lock()
	prev := c.current
	c.setStateLocked(StateStarting)
	c.stateMu.Unlock()

	if prev != nil {
		report := c.quiesce(prev)
		c.stateMu.Lock()
		c.lastReport = report
		c.stateMu.Unlock()
	}

	s := c.newSession(url, query, title)

	c.stateMu.Lock()
	c.current = s
	c.last = s
	c.lastURL = url
	c.lastFailure = FailureNone
	c.stateMu.Unlock()

	c.metrics.SessionStarted()
	s.log.Info().Str("url", url).Msg("Starting session")

	go c.runIngest(s)
	go c.runPlayback(s)

	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if s.remaining.Load() == 0 {
		if c.current == s {
			c.current = nil
		}
		c.setStateLocked(StateIdle)
		return nil
	}
	if s.failure() != FailureNone {
		c.setStateLocked(StateStopping)
		return nil
	}
	c.setStateLocked(StateActive)
	return nil
}

// Stop tears down the running session. It is a no-op when nothing is
// running, except that the sink sample rate is always restored.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.restoreSinkRate()

	c.stateMu.Lock()
	s := c.current
	if s == nil || s.remaining.Load() == 0 {
		c.current = nil
		c.setStateLocked(StateIdle)
		c.stateMu.Unlock()
		return nil
	}
	c.setStateLocked(StateStopping)
	c.stateMu.Unlock()

	report := c.quiesce(s)

	c.stateMu.Lock()
	c.lastReport = report
	if c.current == s {
		c.current = nil
	}
	c.setStateLocked(StateIdle)
	c.stateMu.Unlock()

	s.log.Info().Msg("Session stopped")
	return nil
}

// Wait blocks until the controller is idle or ctx is done.
func (c *Controller) Wait(ctx context.Context) error {
	c.stateMu.RLock()
	idle := c.idle
	c.stateMu.RUnlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) State() State {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

// LastRequestURL returns the URL of the most recent session.
func (c *Controller) LastRequestURL() string {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.lastURL
}

func (c *Controller) LastFailure() Failure {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.lastFailure
}

// LastTeardown reports how the workers of the last torn down session exited.
func (c *Controller) LastTeardown() TeardownReport {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.lastReport
}

func (c *Controller) Stats() Stats {
	c.stateMu.RLock()
	s := c.last
	c.stateMu.RUnlock()

	if s == nil {
		return Stats{}
	}
	return Stats{
		ID:              s.id,
		URL:             s.url,
		Started:         s.started,
		BytesDownloaded: s.ingest.Bytes(),
		Playback:        s.playback.Stats(),
		Failure:         s.failure(),
	}
}

func (c *Controller) setStateLocked(st State) {
	if c.state == st {
		return
	}
	log.Debug().Msgf("Session state: %s -> %s", c.state, st)

	if c.state == StateIdle {
		c.idle = make(chan struct{})
	}
	c.state = st
	if st == StateIdle {
		close(c.idle)
	}
}

func (c *Controller) restoreSinkRate() {
	if c.sink == nil || c.sink.OutputSampleRate() == c.sink.OriginalOutputSampleRate() {
		return
	}
	if err := c.sink.SetOutputSampleRate(sink.RestoreRate); err != nil {
		log.Warn().Err(err).Msg("Failed to restore output sample rate")
	}
}

// session is the state shared by the two workers of one Start.
type session struct {
	id      string
	url     string
	started time.Time
	log     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	buf    *buffer.Buffer

	accepting atomic.Bool
	playing   atomic.Bool
	failed    atomic.Int32
	remaining atomic.Int32

	ingest       *ingest.Worker
	playback     *playback.Worker
	ingestDone   chan struct{}
	playbackDone chan struct{}
	restoreOnce  sync.Once
	restoreRate  func()
}

func (c *Controller) newSession(url, query, title string) *session {
	id := uuid.NewString()
	logger := log.With().Str("session", id).Logger()
	ctx, cancel := context.WithCancel(context.Background())

	s := &session{
		id:           id,
		url:          url,
		started:      time.Now(),
		log:          logger,
		ctx:          ctx,
		cancel:       cancel,
		buf:          buffer.New(c.cfg.MaxBufferBytes()),
		ingestDone:   make(chan struct{}),
		playbackDone: make(chan struct{}),
	}
	s.accepting.Store(true)
	s.playing.Store(true)
	s.remaining.Store(2)
	s.restoreRate = func() { s.restoreOnce.Do(c.restoreSinkRate) }

	headers := c.requestHeaders()
	s.ingest = ingest.NewWorker(ingest.WorkerParams{
		Transport: c.transport,
		Buffer:    s.buf,
		URL:       url,
		Query:     query,
		Active:    s.accepting.Load,
		Config: ingest.Config{
			ReadSize:         c.cfg.ReadSize,
			FirstByteTimeout: c.cfg.OpenTimeout(),
			ReadTimeout:      c.cfg.ReadTimeout(),
			OpenRetryDelay:   c.cfg.OpenRetryDelay(),
			UserAgent:        c.cfg.UserAgent,
			Headers:          headers,
		},
		Metrics: c.metrics,
		Logger:  &logger,
	})

	s.playback = playback.NewWorker(playback.WorkerParams{
		Buffer:       s.buf,
		Sink:         c.sink,
		Device:       c.device,
		Display:      c.display,
		Title:        title,
		NewDecoder:   c.newDecoder,
		Playing:      s.playing.Load,
		RestoreRate:  s.restoreRate,
		SubscriberID: "playback-" + id,
		Config: playback.Config{
			MinBuffer:     c.cfg.MinBufferBytes(),
			FrameDuration: c.cfg.FrameDuration(),
			Mode:          status.ParseMode(c.cfg.DisplayMode),
		},
		Metrics: c.metrics,
		Logger:  &logger,
	})

	return s
}

func (c *Controller) requestHeaders() ingest.HeaderProvider {
	static := c.cfg.Headers
	extra := c.headers
	return func() map[string]string {
		h := make(map[string]string, len(static))
		for k, v := range static {
			h[k] = v
		}
		if extra != nil {
			for k, v := range extra() {
				h[k] = v
			}
		}
		return h
	}
}

func (s *session) failure() Failure {
	return Failure(s.failed.Load())
}

// quiesce signals both workers to stop and waits a bounded time for each.
// A worker still running after the timeout is detached.
func (c *Controller) quiesce(s *session) TeardownReport {
	report := TeardownReport{
		Session:  s.id,
		Ingest:   running(s.ingestDone),
		Playback: running(s.playbackDone),
	}

	s.accepting.Store(false)
	s.playing.Store(false)
	s.buf.Cancel()
	s.cancel()

	timeout := c.cfg.JoinTimeout()
	if report.Ingest != NotRunning {
		report.Ingest = c.join(s, "ingest", s.ingestDone, timeout)
	}
	if report.Playback != NotRunning {
		report.Playback = c.join(s, "playback", s.playbackDone, timeout)
	}

	s.buf.Clear()
	s.restoreRate()

	s.log.Debug().
		Str("ingest", report.Ingest.String()).
		Str("playback", report.Playback.String()).
		Msg("Session torn down")
	return report
}

func running(done <-chan struct{}) JoinOutcome {
	select {
	case <-done:
		return NotRunning
	default:
		return JoinedCleanly
	}
}

func (c *Controller) join(s *session, worker string, done <-chan struct{}, timeout time.Duration) JoinOutcome {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	outcome := JoinedCleanly
	select {
	case <-done:
	case <-timer.C:
		outcome = DetachedAfterTimeout
		s.log.Warn().Str("worker", worker).Dur("timeout", timeout).Msg("Worker did not stop in time, detaching")
	}
	c.metrics.Teardown(worker, outcome.String())
	return outcome
}

func (c *Controller) runIngest(s *session) {
	defer c.workerExited(s, s.ingestDone)
	defer c.recoverWorker(s, "ingest")

	err := s.ingest.Run(s.ctx)
	if err == nil {
		return
	}
	if !s.accepting.Load() {
		s.log.Debug().Err(err).Msg("Ingest stopped during teardown")
		return
	}
	c.abort(s, classifyIngest(err), err)
}

func (c *Controller) runPlayback(s *session) {
	defer c.workerExited(s, s.playbackDone)
	defer c.recoverWorker(s, "playback")

	err := s.playback.Run(s.ctx)

	// Nothing left to play for, so stop downloading.
	s.accepting.Store(false)
	s.buf.Cancel()

	if err == nil {
		return
	}
	if !s.playing.Load() {
		s.log.Debug().Err(err).Msg("Playback stopped during teardown")
		return
	}
	c.abort(s, classifyPlayback(err), err)
}

func (c *Controller) recoverWorker(s *session, worker string) {
	if r := recover(); r != nil {
		c.abort(s, FailureWorkerPanic, fmt.Errorf("%s worker panic: %v", worker, r))
	}
}

func classifyIngest(err error) Failure {
	var statusErr *ingest.StatusError
	switch {
	case ingest.IsNotFound(err):
		return FailureHTTPNotFound
	case errors.As(err, &statusErr):
		return FailureHTTPOther
	case errors.Is(err, ingest.ErrFirstByteTimeout):
		return FailureFirstByteTimeout
	case errors.Is(err, ingest.ErrOpen):
		return FailureTransportOpen
	default:
		return FailureRead
	}
}

func classifyPlayback(err error) Failure {
	if errors.Is(err, playback.ErrNoAudio) {
		return FailureDecodeResync
	}
	// Sink errors end the session the same way a decoder that cannot start does.
	return FailureDecoderInit
}

// abort ends s after a worker failure. Only the first failure of a session
// is acted on, and only a 404 notifies the user.
func (c *Controller) abort(s *session, f Failure, err error) {
	if !s.failed.CompareAndSwap(int32(FailureNone), int32(f)) {
		return
	}
	s.log.Error().Err(err).Str("failure", f.String()).Msg("Session failed")

	s.accepting.Store(false)
	s.playing.Store(false)
	s.buf.Cancel()
	s.buf.Clear()
	s.cancel()
	c.metrics.Failure(f.String())

	c.stateMu.Lock()
	if c.current == s {
		c.lastFailure = f
		if c.state == StateActive {
			c.setStateLocked(StateStopping)
		}
	}
	c.stateMu.Unlock()

	if f == FailureHTTPNotFound && c.notifier != nil {
		c.notifier.NotFound()
		c.notifier.ResumeListening()
	}
}

func (c *Controller) workerExited(s *session, done chan struct{}) {
	close(done)
	if s.remaining.Add(-1) > 0 {
		return
	}
	s.restoreRate()
	s.cancel()
	s.log.Debug().Msg("Session workers finished")

	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if c.current != s || c.state == StateStarting {
		return
	}
	c.current = nil
	c.setStateLocked(StateIdle)
}
