package ingest

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

const (
	DefaultOpenTimeout = 10 * time.Second
	DefaultCloseGrace  = 100 * time.Millisecond
)

// Request describes one stream fetch.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	// Form, when set, is sent as a multipart/form-data body.
	Form map[string]string
}

// Stream is an open response. Read follows io.Reader except that (0, nil)
// means no data arrived within the poll interval.
type Stream interface {
	StatusCode() int
	Status() string
	Read(p []byte) (int, error)
	Close() error
}

// Transport opens streams.
type Transport interface {
	Open(ctx context.Context, req Request) (Stream, error)
}

// HTTPTransport opens streams over HTTP with keep-alive disabled. After a
// stream is closed the next Open waits out a short grace period so the old
// connection is fully released first.
type HTTPTransport struct {
	client       *resty.Client
	pollInterval time.Duration
	closeGrace   time.Duration

	mu        sync.Mutex
	lastClose time.Time
}

func NewHTTPTransport(openTimeout, closeGrace time.Duration) *HTTPTransport {
	if openTimeout <= 0 {
		openTimeout = DefaultOpenTimeout
	}
	if closeGrace < 0 {
		closeGrace = DefaultCloseGrace
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout: openTimeout,
		}).DialContext,
		TLSHandshakeTimeout:   openTimeout,
		ResponseHeaderTimeout: openTimeout,
		DisableKeepAlives:     true,
	}

	return &HTTPTransport{
		client: resty.New().
			SetTransport(transport).
			SetCloseConnection(true).
			SetLogger(restyLogger{}),
		pollInterval: DefaultPollInterval,
		closeGrace:   closeGrace,
	}
}

// Client exposes the underlying resty client.
func (t *HTTPTransport) Client() *resty.Client {
	return t.client
}

// SetPollInterval changes how long one Read waits for data.
func (t *HTTPTransport) SetPollInterval(d time.Duration) {
	if d > 0 {
		t.pollInterval = d
	}
}

func (t *HTTPTransport) Open(ctx context.Context, req Request) (Stream, error) {
	if err := t.waitGrace(ctx); err != nil {
		return nil, err
	}

	method := req.Method
	if method == "" {
		method = resty.MethodGet
	}

	r := t.client.R().
		SetContext(ctx).
		SetHeaders(req.Headers).
		SetDoNotParseResponse(true)
	if len(req.Form) > 0 {
		r.SetMultipartFormData(req.Form)
	}

	resp, err := r.Execute(method, req.URL)
	if err != nil {
		if resp != nil && resp.RawBody() != nil {
			resp.RawBody().Close()
		}
		return nil, fmt.Errorf("%s %s: %w", method, req.URL, err)
	}

	body := resp.RawBody()
	if body == nil {
		body = http.NoBody
	}

	log.Debug().Msgf("Stream response status: %d, Content-Type: %s", resp.StatusCode(), resp.Header().Get("Content-Type"))

	return &httpStream{
		transport:  t,
		statusCode: resp.StatusCode(),
		status:     resp.Status(),
		body:       body,
		reader:     newPollReader(body, t.pollInterval),
	}, nil
}

func (t *HTTPTransport) waitGrace(ctx context.Context) error {
	t.mu.Lock()
	wait := time.Until(t.lastClose.Add(t.closeGrace))
	t.mu.Unlock()

	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *HTTPTransport) markClosed() {
	t.mu.Lock()
	t.lastClose = time.Now()
	t.mu.Unlock()
}

type httpStream struct {
	transport  *HTTPTransport
	statusCode int
	status     string
	body       io.ReadCloser
	reader     *pollReader
	closeOnce  sync.Once
}

func (s *httpStream) StatusCode() int { return s.statusCode }
func (s *httpStream) Status() string  { return s.status }

func (s *httpStream) Read(p []byte) (int, error) {
	return s.reader.Read(p)
}

func (s *httpStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.body.Close()
		s.transport.markClosed()
	})
	return err
}

// restyLogger routes resty's own diagnostics into zerolog.
type restyLogger struct{}

func (restyLogger) Errorf(format string, v ...interface{}) {
	log.Error().Msgf(format, v...)
}

func (restyLogger) Warnf(format string, v ...interface{}) {
	log.Warn().Msgf(format, v...)
}

func (restyLogger) Debugf(format string, v ...interface{}) {
	log.Debug().Msgf(format, v...)
}
