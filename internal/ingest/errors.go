package ingest

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrOpen means the transport could not be opened, retry included.
	ErrOpen = errors.New("ingest: failed to open stream")
	// ErrFirstByteTimeout means the server accepted the request but sent no
	// data before the deadline.
	ErrFirstByteTimeout = errors.New("ingest: no data before first-byte deadline")
	// ErrRead means the connection failed after data started flowing.
	ErrRead = errors.New("ingest: stream read failed")
)

// StatusError is returned when the server answers with a status other than
// 200 or 206.
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("stream returned status %d: %s", e.StatusCode, e.Status)
}

func (e *StatusError) IsNotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// IsNotFound reports whether err carries a 404 response.
func IsNotFound(err error) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.IsNotFound()
}
