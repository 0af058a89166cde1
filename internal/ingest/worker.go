// Package ingest fetches the remote audio stream and feeds it, chunk by
// chunk, into the session buffer.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/glebovdev/singstream/internal/buffer"
	"github.com/glebovdev/singstream/internal/metrics"
	"github.com/glebovdev/singstream/internal/track"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultReadSize         = 4096
	DefaultFirstByteTimeout = 10 * time.Second
	DefaultReadTimeout      = 5 * time.Second
	DefaultOpenRetryDelay   = 500 * time.Millisecond
	DefaultUserAgent        = "ESP32-Sing-Player/1.0"
)

// HeaderProvider returns extra request headers, typically authentication.
// It is called once per request.
type HeaderProvider func() map[string]string

// StaticHeaders returns a provider that always yields h.
func StaticHeaders(h map[string]string) HeaderProvider {
	return func() map[string]string { return h }
}

type Config struct {
	ReadSize         int
	FirstByteTimeout time.Duration
	// ReadTimeout ends the stream when no data arrives for this long after
	// the first byte.
	ReadTimeout    time.Duration
	OpenRetryDelay time.Duration
	UserAgent      string
	Headers        HeaderProvider
}

func (c *Config) applyDefaults() {
	if c.ReadSize <= 0 {
		c.ReadSize = DefaultReadSize
	}
	if c.FirstByteTimeout <= 0 {
		c.FirstByteTimeout = DefaultFirstByteTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.OpenRetryDelay <= 0 {
		c.OpenRetryDelay = DefaultOpenRetryDelay
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
}

// WorkerParams wires a Worker to its session.
type WorkerParams struct {
	Transport Transport
	Buffer    *buffer.Buffer
	URL       string
	// Query is the raw search text sent as the multipart field on the
	// convert endpoint. It is taken from the URL when empty.
	Query string
	// Active reports whether the session still wants data.
	Active  func() bool
	Config  Config
	Metrics *metrics.Metrics
	Logger  *zerolog.Logger
}

// Worker pulls one stream into one buffer. It is single-use.
type Worker struct {
	transport Transport
	buf       *buffer.Buffer
	url       string
	query     string
	active    func() bool
	cfg       Config
	metrics   *metrics.Metrics
	log       zerolog.Logger

	bytes     atomic.Int64
	firstByte atomic.Int64 // unix nanos
}

func NewWorker(p WorkerParams) *Worker {
	p.Config.applyDefaults()

	logger := log.Logger
	if p.Logger != nil {
		logger = *p.Logger
	}
	active := p.Active
	if active == nil {
		active = func() bool { return true }
	}

	return &Worker{
		transport: p.Transport,
		buf:       p.Buffer,
		url:       p.URL,
		query:     p.Query,
		active:    active,
		cfg:       p.Config,
		metrics:   p.Metrics,
		log:       logger.With().Str("worker", "ingest").Logger(),
	}
}

// Bytes returns how many bytes were pushed into the buffer so far.
func (w *Worker) Bytes() int64 {
	return w.bytes.Load()
}

// FirstByteAt returns when the first byte arrived, or the zero time.
func (w *Worker) FirstByteAt() time.Time {
	ns := w.firstByte.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Run opens the stream and copies it into the buffer until end of stream,
// failure, or cancellation. It always closes the stream and then marks the
// buffer input as finished. A nil error covers both a complete download and
// a cancelled one.
func (w *Worker) Run(ctx context.Context) error {
	defer w.buf.CloseInput()

	req := w.request()
	w.log.Debug().Str("method", req.Method).Str("url", req.URL).Msg("Opening stream")

	stream, err := w.open(ctx, req)
	if err != nil {
		if !w.running(ctx) {
			return nil
		}
		return fmt.Errorf("%w: %w", ErrOpen, err)
	}
	defer func() {
		if err := stream.Close(); err != nil {
			w.log.Debug().Err(err).Msg("Stream close")
		}
	}()

	code := stream.StatusCode()
	w.log.Debug().Int("status", code).Msg("Stream opened")
	if code != http.StatusOK && code != http.StatusPartialContent {
		return &StatusError{StatusCode: code, Status: stream.Status()}
	}

	return w.pump(ctx, stream, time.Now())
}

func (w *Worker) open(ctx context.Context, req Request) (Stream, error) {
	stream, err := w.transport.Open(ctx, req)
	if err == nil {
		return stream, nil
	}

	w.log.Warn().Err(err).Dur("retry_in", w.cfg.OpenRetryDelay).Msg("Stream open failed, retrying once")

	timer := time.NewTimer(w.cfg.OpenRetryDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if !w.running(ctx) {
		return nil, context.Canceled
	}

	return w.transport.Open(ctx, req)
}

func (w *Worker) pump(ctx context.Context, stream Stream, start time.Time) error {
	buf := make([]byte, w.cfg.ReadSize)
	deadline := start.Add(w.cfg.FirstByteTimeout)
	gotData := false
	var lastData time.Time

	for w.running(ctx) {
		n, err := stream.Read(buf)

		if n > 0 {
			lastData = time.Now()
			if !gotData {
				gotData = true
				now := time.Now()
				w.firstByte.Store(now.UnixNano())
				w.metrics.ObserveFirstByte(now.Sub(start))
				w.log.Debug().Dur("after", now.Sub(start)).Msg("First byte received")
			}
			if perr := w.buf.Push(buffer.NewChunk(buf[:n])); perr != nil {
				w.log.Debug().Err(perr).Msg("Buffer stopped accepting data")
				return nil
			}
			w.bytes.Add(int64(n))
			w.metrics.AddIngested(n)
			w.metrics.SetOccupancy(w.buf.Len())
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				if !gotData {
					return fmt.Errorf("%w: empty response body", ErrFirstByteTimeout)
				}
				w.log.Debug().Int64("bytes", w.bytes.Load()).Msg("Stream complete")
				return nil
			}
			if !w.running(ctx) {
				return nil
			}
			return fmt.Errorf("%w: %w", ErrRead, err)
		}

		if n == 0 && err == nil {
			if !gotData && time.Now().After(deadline) {
				return ErrFirstByteTimeout
			}
			if gotData && time.Since(lastData) > w.cfg.ReadTimeout {
				w.log.Debug().
					Dur("stalled", time.Since(lastData)).
					Int64("bytes", w.bytes.Load()).
					Msg("Stream stalled, treating as complete")
				return nil
			}
		}
	}

	return nil
}

func (w *Worker) running(ctx context.Context) bool {
	return ctx.Err() == nil && w.active()
}

func (w *Worker) request() Request {
	headers := map[string]string{
		"User-Agent": w.cfg.UserAgent,
		"Accept":     "*/*",
		"Range":      "bytes=0-",
		"Connection": "close",
	}
	if w.cfg.Headers != nil {
		for k, v := range w.cfg.Headers() {
			headers[k] = v
		}
	}

	req := Request{
		Method:  http.MethodGet,
		URL:     w.url,
		Headers: headers,
	}

	if track.UsesFormPost(w.url) {
		query := w.query
		if query == "" {
			query, _ = url.QueryUnescape(track.QueryFromURL(w.url))
		}
		req.Method = http.MethodPost
		req.Form = map[string]string{track.FormField: query}
	}

	return req
}
