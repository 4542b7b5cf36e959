package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ConnectionsSet(3)
	m.FrameIn("MESSAGE")
	m.CacheRefresh(false)
	m.DeliveryDropped()
}

func TestMetricsRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ConnectionsSet(2)
	m.FrameIn("MESSAGE")
	m.FrameIn("MESSAGE")
	m.CacheRefresh(true)
	m.CacheRefresh(false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Connections))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.FramesIn.WithLabelValues("MESSAGE")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheRefreshes.WithLabelValues("error")))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
