// Package metrics provides Prometheus metrics collection for the netboot
// orchestrator, grounded on the reference project's
// infrastructure/metrics.Metrics: one struct of pre-registered collectors
// built by New/NewWithRegistry, domain-specific Record*/Set* methods, and a
// package-level Global() accessor for components that don't thread a
// *Metrics reference through their constructor.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every Prometheus collector the orchestrator exposes on
// /metrics (wired by internal/dispatcher's HTTP origin).
type Metrics struct {
	// API/Message dispatcher (§4.7)
	APIRequestsTotal   *prometheus.CounterVec
	APIRequestDuration *prometheus.HistogramVec

	// DHCP sniffer (§4.4)
	DHCPPacketsTotal     *prometheus.CounterVec
	ClientDiscoveryTotal *prometheus.CounterVec

	// TFTP server (§4.5)
	TFTPTransfersTotal    *prometheus.CounterVec
	TFTPTransferDuration  *prometheus.HistogramVec
	TFTPBytesSentTotal    prometheus.Counter

	// Task subsystem (§4.6)
	TasksSubmittedTotal *prometheus.CounterVec
	TasksCompletedTotal *prometheus.CounterVec
	TaskDuration        *prometheus.HistogramVec
	TasksRunning        prometheus.Gauge

	// Client store (§4.2)
	ClientStateTransitionsTotal *prometheus.CounterVec
	ClientsExpiredTotal         *prometheus.CounterVec
	ClientsTotal                prometheus.Gauge

	// Pub/Sub bus (§4.1)
	BusPublishTotal   *prometheus.CounterVec
	BusReconnectTotal prometheus.Counter
}

// New creates a Metrics instance registered against the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a Metrics instance registered against registerer,
// or unregistered if registerer is nil (used in tests that only want the
// collectors, not global registration side effects).
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		APIRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "netboot_api_requests_total",
				Help: "Total number of API/message dispatcher requests.",
			},
			[]string{"endpoint", "origin", "status"},
		),
		APIRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "netboot_api_request_duration_seconds",
				Help:    "API/message dispatcher handler duration in seconds.",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"endpoint", "origin"},
		),

		DHCPPacketsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "netboot_dhcp_packets_total",
				Help: "Total number of DHCP packets observed by the sniffer, by message type.",
			},
			[]string{"message_type"},
		),
		ClientDiscoveryTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "netboot_client_discovery_total",
				Help: "Total number of client records created from DHCP discovery, by classified arch.",
			},
			[]string{"arch"},
		),

		TFTPTransfersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "netboot_tftp_transfers_total",
				Help: "Total number of TFTP transfers, by outcome.",
			},
			[]string{"status"},
		),
		TFTPTransferDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "netboot_tftp_transfer_duration_seconds",
				Help:    "TFTP transfer duration in seconds.",
				Buckets: []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60},
			},
			[]string{"status"},
		),
		TFTPBytesSentTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "netboot_tftp_bytes_sent_total",
				Help: "Total number of bytes sent over TFTP.",
			},
		),

		TasksSubmittedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "netboot_tasks_submitted_total",
				Help: "Total number of tasks submitted, by task type.",
			},
			[]string{"task_type"},
		),
		TasksCompletedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "netboot_tasks_completed_total",
				Help: "Total number of tasks that reached a terminal state, by task type and outcome.",
			},
			[]string{"task_type", "status"},
		),
		TaskDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "netboot_task_duration_seconds",
				Help:    "Task execution duration in seconds, from pickup by an execution worker to terminal state.",
				Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 1800, 3600, 7200},
			},
			[]string{"task_type", "status"},
		),
		TasksRunning: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "netboot_tasks_running",
				Help: "Current number of tasks picked up by an execution worker and not yet in a terminal state.",
			},
		),

		ClientStateTransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "netboot_client_state_transitions_total",
				Help: "Total number of client lifecycle state transitions, by resulting state.",
			},
			[]string{"state"},
		),
		ClientsExpiredTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "netboot_clients_expired_total",
				Help: "Total number of client state expirations applied, by expiration action.",
			},
			[]string{"action"},
		),
		ClientsTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "netboot_clients_total",
				Help: "Current number of known client records.",
			},
		),

		BusPublishTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "netboot_bus_publish_total",
				Help: "Total number of envelopes published on the pub/sub bus, by topic and outcome.",
			},
			[]string{"topic", "status"},
		),
		BusReconnectTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "netboot_bus_reconnect_total",
				Help: "Total number of times a bus client had to reconnect to the broker.",
			},
		),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.APIRequestsTotal,
			m.APIRequestDuration,
			m.DHCPPacketsTotal,
			m.ClientDiscoveryTotal,
			m.TFTPTransfersTotal,
			m.TFTPTransferDuration,
			m.TFTPBytesSentTotal,
			m.TasksSubmittedTotal,
			m.TasksCompletedTotal,
			m.TaskDuration,
			m.TasksRunning,
			m.ClientStateTransitionsTotal,
			m.ClientsExpiredTotal,
			m.ClientsTotal,
			m.BusPublishTotal,
			m.BusReconnectTotal,
		)
	}

	return m
}

// RecordAPIRequest records one dispatched API/message request.
func (m *Metrics) RecordAPIRequest(endpoint, origin, status string, duration time.Duration) {
	m.APIRequestsTotal.WithLabelValues(endpoint, origin, status).Inc()
	m.APIRequestDuration.WithLabelValues(endpoint, origin).Observe(duration.Seconds())
}

// RecordDHCPPacket records one observed DHCP packet.
func (m *Metrics) RecordDHCPPacket(messageType string) {
	m.DHCPPacketsTotal.WithLabelValues(messageType).Inc()
}

// RecordClientDiscovery records one new client record created from DHCP
// discovery.
func (m *Metrics) RecordClientDiscovery(arch string) {
	m.ClientDiscoveryTotal.WithLabelValues(arch).Inc()
}

// RecordTFTPTransfer records one completed (or failed) TFTP transfer.
func (m *Metrics) RecordTFTPTransfer(status string, bytesSent int64, duration time.Duration) {
	m.TFTPTransfersTotal.WithLabelValues(status).Inc()
	m.TFTPTransferDuration.WithLabelValues(status).Observe(duration.Seconds())
	if bytesSent > 0 {
		m.TFTPBytesSentTotal.Add(float64(bytesSent))
	}
}

// RecordTaskSubmitted records one task entering the staging queue.
func (m *Metrics) RecordTaskSubmitted(taskType string) {
	m.TasksSubmittedTotal.WithLabelValues(taskType).Inc()
}

// RecordTaskTerminal records one task reaching Complete or Failed, along
// with its total duration since it began executing.
func (m *Metrics) RecordTaskTerminal(taskType, status string, duration time.Duration) {
	m.TasksCompletedTotal.WithLabelValues(taskType, status).Inc()
	m.TaskDuration.WithLabelValues(taskType, status).Observe(duration.Seconds())
}

// SetTasksRunning sets the gauge of tasks an execution worker has picked up
// that have not yet reached a terminal state.
func (m *Metrics) SetTasksRunning(n int) {
	m.TasksRunning.Set(float64(n))
}

// RecordClientStateTransition records one client moving into state.
func (m *Metrics) RecordClientStateTransition(state string) {
	m.ClientStateTransitionsTotal.WithLabelValues(state).Inc()
}

// RecordClientExpired records one expiry-tick action applied to a client.
func (m *Metrics) RecordClientExpired(action string) {
	m.ClientsExpiredTotal.WithLabelValues(action).Inc()
}

// SetClientsTotal sets the current known-client-count gauge.
func (m *Metrics) SetClientsTotal(n int) {
	m.ClientsTotal.Set(float64(n))
}

// RecordBusPublish records one bus publish attempt.
func (m *Metrics) RecordBusPublish(topic, status string) {
	m.BusPublishTotal.WithLabelValues(topic, status).Inc()
}

// RecordBusReconnect records one bus client reconnect.
func (m *Metrics) RecordBusReconnect() {
	m.BusReconnectTotal.Inc()
}

var (
	global   *Metrics
	globalMu sync.Mutex
)

// Init initializes (once) and returns the global Metrics instance.
func Init() *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()
	if global == nil {
		global = New()
	}
	return global
}

// Global returns the global Metrics instance. If Init was never called it
// initializes it on first use exactly as Init does, registered on the
// default Prometheus registry.
func Global() *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()
	if global == nil {
		global = New()
	}
	return global
}
