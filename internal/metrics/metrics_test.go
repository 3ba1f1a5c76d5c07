package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	assert.Nil(t, New(nil))
	assert.NotPanics(t, func() {
		m.ListenerUp(true)
		m.SessionOpened()
		m.SessionClosed()
		m.BytesReceived(10)
		m.MessageHandled("ADT^A01", "AA", time.Millisecond)
		m.FrameError("framing")
		m.ConnectionError()
	})
}

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	require.NotNil(t, m)

	m.ListenerUp(true)
	m.SessionOpened()
	m.SessionOpened()
	m.SessionClosed()
	m.BytesReceived(128)
	m.MessageHandled("ORM^O01", "AA", 2*time.Millisecond)
	m.MessageHandled("", "AR", time.Millisecond)
	m.FrameError("encoding")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.listenerUp))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.connectionsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.activeSessions))
	assert.Equal(t, 128.0, testutil.ToFloat64(m.bytesReceived))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.messagesTotal.WithLabelValues("ORM^O01", "AA")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.messagesTotal.WithLabelValues("unknown", "AR")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.frameErrors.WithLabelValues("encoding")))

	m.ListenerUp(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.listenerUp))
}
