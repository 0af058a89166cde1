package ingest

import (
	"io"
	"time"
)

// DefaultPollInterval bounds how long a single Read waits for data.
const DefaultPollInterval = 50 * time.Millisecond

// pollReader turns a blocking reader into one that waits at most interval
// per call. A Read that times out returns (0, nil) and the underlying read
// stays pending, so no bytes are lost and at most one goroutine reads the
// source at a time. Closing the source ends the pending read.
type pollReader struct {
	reader   io.Reader
	interval time.Duration

	pending chan readResult
	rest    []byte
	err     error
}

type readResult struct {
	data []byte
	err  error
}

func newPollReader(r io.Reader, interval time.Duration) *pollReader {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &pollReader{reader: r, interval: interval}
}

func (pr *pollReader) Read(p []byte) (int, error) {
	if len(pr.rest) > 0 {
		n := copy(p, pr.rest)
		pr.rest = pr.rest[n:]
		return n, nil
	}
	if pr.err != nil {
		return 0, pr.err
	}
	if len(p) == 0 {
		return 0, nil
	}

	if pr.pending == nil {
		done := make(chan readResult, 1)
		buf := make([]byte, len(p))
		pr.pending = done
		go func() {
			n, err := pr.reader.Read(buf)
			done <- readResult{data: buf[:n], err: err}
		}()
	}

	timer := time.NewTimer(pr.interval)
	defer timer.Stop()

	select {
	case res := <-pr.pending:
		pr.pending = nil
		n := copy(p, res.data)
		pr.rest = res.data[n:]
		if res.err != nil && n > 0 {
			pr.err = res.err
			return n, nil
		}
		return n, res.err
	case <-timer.C:
		return 0, nil
	}
}
