// Package metrics exposes the orchestrator's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Case metrics
	CasesStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "qaorchestrator_cases_started_total",
			Help: "Total number of cases that entered the workflow",
		},
	)

	CasesCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qaorchestrator_cases_completed_total",
			Help: "Total number of cases reaching a terminal status",
		},
		[]string{"status"},
	)

	CaseWorkflowDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "qaorchestrator_case_workflow_duration_seconds",
			Help:    "Time a case spends from NEW to a terminal status",
			Buckets: prometheus.ExponentialBuckets(1, 2, 15), // 1s to ~4.5h
		},
		[]string{"status"},
	)

	CasesPendingResource = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "qaorchestrator_cases_pending_resource",
			Help: "Current number of cases parked waiting on a GPU",
		},
	)

	// GPU metrics
	GPUReservations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "qaorchestrator_gpu_reservations_total",
			Help: "Total number of GPU reservations granted",
		},
	)

	GPUStarvation = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "qaorchestrator_gpu_starvation_total",
			Help: "Total number of reservation attempts that found no free GPU",
		},
	)

	GPUsAvailable = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "qaorchestrator_gpus_available",
			Help: "Current number of unreserved GPUs",
		},
	)

	// Message bus metrics
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "qaorchestrator_queue_depth",
			Help: "Current number of pending deliveries in a queue",
		},
		[]string{"queue"},
	)

	MessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qaorchestrator_messages_published_total",
			Help: "Total number of messages published",
		},
		[]string{"queue", "command"},
	)

	MessagesDeadLettered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qaorchestrator_messages_dead_lettered_total",
			Help: "Total number of messages routed to a dead letter queue",
		},
		[]string{"queue"},
	)

	// Supervised process metrics
	ProcessRestarts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qaorchestrator_process_restarts_total",
			Help: "Total number of supervised process restarts",
		},
		[]string{"process"},
	)

	ProcessRunning = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "qaorchestrator_process_running",
			Help: "1 if the supervised process is currently running, else 0",
		},
		[]string{"process"},
	)

	// HTTP metrics
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "qaorchestrator_http_request_duration_seconds",
			Help:    "Status API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	// Status feed metrics
	StatusFeedConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "qaorchestrator_statusfeed_connections",
			Help: "Current number of connected status feed websocket clients",
		},
	)

	StatusFeedMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qaorchestrator_statusfeed_messages_total",
			Help: "Total number of events broadcast over the status feed",
		},
		[]string{"type"},
	)
)

// RecordCaseStarted records a case entering the workflow.
func RecordCaseStarted() { CasesStarted.Inc() }

// RecordCaseTerminal records a case reaching a terminal status and its
// total time in the workflow.
func RecordCaseTerminal(status string, durationSeconds float64) {
	CasesCompleted.WithLabelValues(status).Inc()
	CaseWorkflowDuration.WithLabelValues(status).Observe(durationSeconds)
}

// SetCasesPendingResource sets the pending-resource gauge.
func SetCasesPendingResource(count float64) { CasesPendingResource.Set(count) }

// RecordGPUReservation records a granted reservation.
func RecordGPUReservation() { GPUReservations.Inc() }

// RecordGPUStarvation records a reservation attempt with no GPU free.
func RecordGPUStarvation() { GPUStarvation.Inc() }

// SetGPUsAvailable sets the available-GPU gauge.
func SetGPUsAvailable(count float64) { GPUsAvailable.Set(count) }

// SetQueueDepth sets a queue's depth gauge.
func SetQueueDepth(queue string, depth float64) { QueueDepth.WithLabelValues(queue).Set(depth) }

// RecordMessagePublished records a publish.
func RecordMessagePublished(queue, command string) {
	MessagesPublished.WithLabelValues(queue, command).Inc()
}

// RecordDeadLetter records a message routed to a dead letter queue.
func RecordDeadLetter(queue string) { MessagesDeadLettered.WithLabelValues(queue).Inc() }

// RecordProcessRestart records a supervised process restart.
func RecordProcessRestart(process string) { ProcessRestarts.WithLabelValues(process).Inc() }

// SetProcessRunning sets whether a supervised process is currently running.
func SetProcessRunning(process string, running bool) {
	v := 0.0
	if running {
		v = 1.0
	}
	ProcessRunning.WithLabelValues(process).Set(v)
}

// RecordHTTPRequest records a status API request.
func RecordHTTPRequest(method, path, status string, durationSeconds float64) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(durationSeconds)
}

// SetStatusFeedConnections sets the connected-client gauge.
func SetStatusFeedConnections(count float64) { StatusFeedConnections.Set(count) }

// RecordStatusFeedMessage records a broadcast event.
func RecordStatusFeedMessage(eventType string) { StatusFeedMessages.WithLabelValues(eventType).Inc() }
