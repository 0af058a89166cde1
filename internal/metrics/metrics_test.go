package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecording(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := New(registry)
	require.NoError(t, err)

	m.SessionStarted()
	m.SessionStarted()
	m.Teardown("ingest", "detached")
	m.Failure("HttpNotFound")
	m.AddIngested(4096)
	m.AddIngested(100)
	m.SetOccupancy(2048)
	m.FrameEmitted("mp3")
	m.ResyncDrop()
	m.Underrun()
	m.ObserveFirstByte(120 * time.Millisecond)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.sessionsStarted))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.teardowns.WithLabelValues("ingest", "detached")))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.teardowns.WithLabelValues("ingest", "joined")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.failures.WithLabelValues("HttpNotFound")))
	assert.Equal(t, float64(4196), testutil.ToFloat64(m.bytesIngested))
	assert.Equal(t, float64(2048), testutil.ToFloat64(m.bufferOccupancy))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.framesEmitted.WithLabelValues("mp3")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.resyncDrops))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.sinkUnderruns))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.SessionStarted()
		m.Teardown("playback", "joined")
		m.Failure("ReadError")
		m.AddIngested(1)
		m.ObserveFirstByte(time.Second)
		m.SetOccupancy(1)
		m.FrameEmitted("wav")
		m.ResyncDrop()
		m.Underrun()
	})
}

func TestDuplicateRegistration(t *testing.T) {
	registry := prometheus.NewRegistry()
	_, err := New(registry)
	require.NoError(t, err)

	_, err = New(registry)
	assert.Error(t, err)
}

func TestHandler(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := New(registry)
	require.NoError(t, err)
	m.SessionStarted()

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "singstream_sessions_started_total 1"))
}
