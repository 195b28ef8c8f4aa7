package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordAPIRequestIncrementsCounterAndHistogram(t *testing.T) {
	m := NewWithRegistry(prometheus.NewRegistry())

	m.RecordAPIRequest("get_clients", "webserver", "200", 15*time.Millisecond)

	counter := &dto.Metric{}
	require.NoError(t, m.APIRequestsTotal.WithLabelValues("get_clients", "webserver", "200").Write(counter))
	assert.Equal(t, float64(1), counter.GetCounter().GetValue())

	hist := &dto.Metric{}
	require.NoError(t, m.APIRequestDuration.WithLabelValues("get_clients", "webserver").Write(hist))
	assert.Equal(t, uint64(1), hist.GetHistogram().GetSampleCount())
}

func TestRecordTaskTerminalAndSubmitted(t *testing.T) {
	m := NewWithRegistry(prometheus.NewRegistry())

	m.RecordTaskSubmitted("build_iso")
	m.RecordTaskTerminal("build_iso", "Complete", 2*time.Minute)

	submitted := &dto.Metric{}
	require.NoError(t, m.TasksSubmittedTotal.WithLabelValues("build_iso").Write(submitted))
	assert.Equal(t, float64(1), submitted.GetCounter().GetValue())

	completed := &dto.Metric{}
	require.NoError(t, m.TasksCompletedTotal.WithLabelValues("build_iso", "Complete").Write(completed))
	assert.Equal(t, float64(1), completed.GetCounter().GetValue())
}

func TestSetGauges(t *testing.T) {
	m := NewWithRegistry(prometheus.NewRegistry())

	m.SetTasksRunning(3)
	m.SetClientsTotal(7)

	running := &dto.Metric{}
	require.NoError(t, m.TasksRunning.Write(running))
	assert.Equal(t, float64(3), running.GetGauge().GetValue())

	clients := &dto.Metric{}
	require.NoError(t, m.ClientsTotal.Write(clients))
	assert.Equal(t, float64(7), clients.GetGauge().GetValue())
}

func TestGlobalReturnsSameInstance(t *testing.T) {
	a := Global()
	b := Global()
	assert.Same(t, a, b)
}
