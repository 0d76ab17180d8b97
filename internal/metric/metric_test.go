package metric

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsRecordNothing(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Received("kdeconnect.ping")
		m.Dropped(DropMalformed)
		m.Sent("kdeconnect.ping")
		m.DeliveryFailed("kdeconnect.ping")
		m.SessionState("", "connected-paired")
		m.TransferFinished("ok")
	})
}

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New()
	require.NoError(t, m.Register(reg))
	assert.Error(t, m.Register(reg), "double registration")

	m.Received("kdeconnect.photo")
	m.Received("kdeconnect.photo")
	m.Dropped(DropUnpaired)
	m.SessionState("", "connected-unpaired")
	m.SessionState("connected-unpaired", "connected-paired")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.PacketsReceived.WithLabelValues("kdeconnect.photo")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PacketsDropped.WithLabelValues(DropUnpaired)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Sessions.WithLabelValues("connected-unpaired")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Sessions.WithLabelValues("connected-paired")))
}

type fakePool struct{ queued, running int }

func (p fakePool) Stats() (int, int) { return p.queued, p.running }

func TestRegisterPool(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, RegisterPool(reg, "transfer", fakePool{queued: 3, running: 2}))

	families, err := reg.Gather()
	require.NoError(t, err)
	values := make(map[string]float64)
	for _, f := range families {
		values[f.GetName()] = f.GetMetric()[0].GetGauge().GetValue()
	}
	assert.Equal(t, map[string]float64{
		"pairlink_workerpool_queued_jobs":  3,
		"pairlink_workerpool_running_jobs": 2,
	}, values)
}
