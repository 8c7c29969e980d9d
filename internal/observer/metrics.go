package observer

import (
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var metricsEnabled atomic.Bool

func init() {
	metricsEnabled.Store(true)
}

// Inbound event metrics (NATS consumer and webhook)
var (
	eventProcessingLabels = []string{"event_type", "company_id", "consumer_type"}
	eventActionLabels     = []string{"event_type", "company_id", "consumer_type", "action", "error_type"}

	EventsReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "handoff_service_events_received_total",
			Help: "Total number of inbound events received, labeled by consumer type.",
		},
		eventProcessingLabels,
	)
	EventsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "handoff_service_events_processed_total",
			Help: "Total number of inbound events successfully processed and acknowledged.",
		},
		eventProcessingLabels,
	)
	EventsFailedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "handoff_service_events_failed_total",
			Help: "Total number of inbound events that failed processing.",
		},
		eventProcessingLabels,
	)
	EventProcessingDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "handoff_service_event_processing_duration_seconds",
			Help:    "Histogram of inbound event processing durations.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
		},
		eventProcessingLabels,
	)
	EventProcessingActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "handoff_service_event_processing_actions_total",
			Help: "Ack/nak/term decisions taken after inbound event processing, labeled by error type.",
		},
		eventActionLabels,
	)
)

// Database metrics
var (
	dbOperationLabels = []string{"operation", "entity", "company_id", "status"}

	DatabaseOperationDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "handoff_service_db_operation_duration_seconds",
			Help:    "Histogram of database operation durations.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~16s
		},
		dbOperationLabels,
	)
)

// Handoff domain metrics
var (
	TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "handoff_service_transitions_total",
			Help: "Conversation control-state transitions, labeled by action and outcome.",
		},
		[]string{"company_id", "action", "outcome"},
	)
	ClaimsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "handoff_service_queue_claims_total",
			Help: "Claim-next attempts on the transfer queue, labeled by outcome (claimed, empty, error).",
		},
		[]string{"company_id", "outcome"},
	)
	ScoreChangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "handoff_service_score_changes_total",
			Help: "Lead score mutations written to the score log, labeled by trigger.",
		},
		[]string{"company_id", "triggered_by"},
	)
	ReasoningCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "handoff_service_reasoning_calls_total",
			Help: "Calls to the reasoning collaborator, labeled by operation and outcome (ok, fallback).",
		},
		[]string{"operation", "outcome"},
	)
	ReasoningDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "handoff_service_reasoning_duration_seconds",
			Help:    "Histogram of reasoning collaborator call durations.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		},
		[]string{"operation"},
	)
	BroadcastSendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "handoff_service_broadcast_sends_total",
			Help: "Broadcast recipient outcomes, labeled by channel and status.",
		},
		[]string{"company_id", "channel", "status"},
	)
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "handoff_service_notifications_total",
			Help: "Notification bus deliveries, labeled by event type and outcome (delivered, dropped).",
		},
		[]string{"event_type", "outcome"},
	)
	ConnectedConsoles = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "handoff_service_connected_consoles",
		Help: "Number of agent consoles connected to the notification hub.",
	})
)

// Async scoring worker pool metrics
var (
	scoringTasksSubmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "handoff_service_scoring_tasks_submitted_total",
			Help: "Total number of AI rescoring tasks submitted to the worker pool.",
		},
		[]string{"company_id"},
	)
	scoringTasksProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "handoff_service_scoring_tasks_processed_total",
			Help: "Total number of AI rescoring tasks processed, labeled by final status.",
		},
		[]string{"company_id", "status"},
	)
	scoringProcessingDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "handoff_service_scoring_processing_duration_seconds",
			Help:    "Histogram of AI rescoring task durations.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"company_id"},
	)
	scoringQueueLength = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "handoff_service_scoring_queue_length",
		Help: "Approximate number of tasks waiting in the AI rescoring pool.",
	})
)

// Load generator metrics (cmd/tester)
var (
	loadgenLabels = []string{"subject", "company_id"}

	loadgenMessagesAttemptedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loadgen_messages_attempted_total",
			Help: "Total number of messages the load generator attempted to publish.",
		},
		loadgenLabels,
	)
	loadgenMessagesPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loadgen_messages_published_total",
			Help: "Total number of messages successfully published by the load generator.",
		},
		loadgenLabels,
	)
	loadgenPublishErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loadgen_publish_errors_total",
			Help: "Total number of errors encountered by the load generator during publishing.",
		},
		loadgenLabels,
	)
)

// InitMetrics switches metric collection on or off. Collectors are registered by promauto either way.
func InitMetrics(enabled bool) {
	metricsEnabled.Store(enabled)
}

func sanitizeTenant(tenant string) string {
	if tenant == "" {
		return "unknown"
	}
	return tenant
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// IncEventsReceived increments the events received counter.
func IncEventsReceived(eventType, tenant, consumerType string) {
	if !metricsEnabled.Load() {
		return
	}
	EventsReceivedTotal.WithLabelValues(eventType, sanitizeTenant(tenant), consumerType).Inc()
}

// IncEventsProcessed increments the events processed counter.
func IncEventsProcessed(eventType, tenant, consumerType string) {
	if !metricsEnabled.Load() {
		return
	}
	EventsProcessedTotal.WithLabelValues(eventType, sanitizeTenant(tenant), consumerType).Inc()
}

// IncEventsFailed increments the events failed counter.
func IncEventsFailed(eventType, tenant, consumerType string) {
	if !metricsEnabled.Load() {
		return
	}
	EventsFailedTotal.WithLabelValues(eventType, sanitizeTenant(tenant), consumerType).Inc()
}

// ObserveEventProcessingDuration records the processing time for a specific event.
func ObserveEventProcessingDuration(eventType, tenant, consumerType string, duration time.Duration) {
	if !metricsEnabled.Load() {
		return
	}
	EventProcessingDurationSeconds.WithLabelValues(eventType, sanitizeTenant(tenant), consumerType).Observe(duration.Seconds())
}

// IncEventProcessingAction increments the counter for a specific processing outcome.
func IncEventProcessingAction(eventType, tenant, consumerType, action, errorType string) {
	if !metricsEnabled.Load() {
		return
	}
	EventProcessingActionsTotal.WithLabelValues(eventType, sanitizeTenant(tenant), consumerType, action, SanitizeErrorType(errorType)).Inc()
}

// ObserveDbOperationDuration records the duration for a database operation.
func ObserveDbOperationDuration(operation, entity, companyID string, duration time.Duration, err error) {
	if !metricsEnabled.Load() {
		return
	}
	DatabaseOperationDurationSeconds.WithLabelValues(operation, entity, sanitizeTenant(companyID), statusOf(err)).Observe(duration.Seconds())
}

// IncTransition counts a state machine action. outcome is "applied", "rejected", "conflict" or "error".
func IncTransition(companyID, action, outcome string) {
	if !metricsEnabled.Load() {
		return
	}
	TransitionsTotal.WithLabelValues(sanitizeTenant(companyID), action, outcome).Inc()
}

// IncClaim counts a claim-next attempt.
func IncClaim(companyID, outcome string) {
	if !metricsEnabled.Load() {
		return
	}
	ClaimsTotal.WithLabelValues(sanitizeTenant(companyID), outcome).Inc()
}

// IncScoreChange counts a written score log entry.
func IncScoreChange(companyID, triggeredBy string) {
	if !metricsEnabled.Load() {
		return
	}
	ScoreChangesTotal.WithLabelValues(sanitizeTenant(companyID), triggeredBy).Inc()
}

// ObserveReasoningCall records one reasoning collaborator call.
func ObserveReasoningCall(operation string, duration time.Duration, err error) {
	if !metricsEnabled.Load() {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "fallback"
	}
	ReasoningCallsTotal.WithLabelValues(operation, outcome).Inc()
	ReasoningDurationSeconds.WithLabelValues(operation).Observe(duration.Seconds())
}

// IncBroadcastSend counts one broadcast recipient outcome.
func IncBroadcastSend(companyID, channel, status string) {
	if !metricsEnabled.Load() {
		return
	}
	BroadcastSendsTotal.WithLabelValues(sanitizeTenant(companyID), channel, status).Inc()
}

// IncNotification counts a bus delivery or drop.
func IncNotification(eventType, outcome string) {
	if !metricsEnabled.Load() {
		return
	}
	NotificationsTotal.WithLabelValues(eventType, outcome).Inc()
}

// SetConnectedConsoles sets the current number of hub clients.
func SetConnectedConsoles(n int) {
	if !metricsEnabled.Load() {
		return
	}
	ConnectedConsoles.Set(float64(n))
}

// IncScoringTasksSubmitted increments the counter for submitted rescoring tasks.
func IncScoringTasksSubmitted(companyID string) {
	if !metricsEnabled.Load() {
		return
	}
	scoringTasksSubmittedTotal.WithLabelValues(sanitizeTenant(companyID)).Inc()
}

// IncScoringTasksProcessed increments the counter for processed rescoring tasks by status.
func IncScoringTasksProcessed(companyID, status string) {
	if !metricsEnabled.Load() {
		return
	}
	scoringTasksProcessedTotal.WithLabelValues(sanitizeTenant(companyID), status).Inc()
}

// ObserveScoringProcessingDuration records the processing time for a rescoring task.
func ObserveScoringProcessingDuration(companyID string, duration time.Duration) {
	if !metricsEnabled.Load() {
		return
	}
	scoringProcessingDurationSeconds.WithLabelValues(sanitizeTenant(companyID)).Observe(duration.Seconds())
}

// SetScoringQueueLength sets the current rescoring queue length.
func SetScoringQueueLength(length int) {
	if !metricsEnabled.Load() {
		return
	}
	scoringQueueLength.Set(float64(length))
}

// SanitizeErrorType maps an error string onto a small set of categories.
func SanitizeErrorType(errStr string) string {
	if errStr == "" || errStr == "none" {
		return "none"
	}

	switch {
	case strings.Contains(errStr, "database"), strings.Contains(errStr, "SQL"), strings.Contains(errStr, "duplicate key"), strings.Contains(errStr, "constraint"), strings.Contains(errStr, "connection"):
		return "database"
	case strings.Contains(errStr, "invalid state transition"):
		return "transition"
	case strings.Contains(errStr, "resource conflict"):
		return "conflict"
	case strings.Contains(errStr, "validation failed"), strings.Contains(errStr, "bad request"), strings.Contains(errStr, "invalid"), strings.Contains(errStr, "missing field"):
		return "validation"
	case strings.Contains(errStr, "not found"), strings.Contains(errStr, "no rows"):
		return "not_found"
	case strings.Contains(errStr, "nats"), strings.Contains(errStr, "jetstream"):
		return "nats"
	case strings.Contains(errStr, "timeout"), strings.Contains(errStr, "deadline exceeded"):
		return "timeout"
	case strings.Contains(errStr, "unmarshal"), strings.Contains(errStr, "json"):
		return "unmarshal"
	case strings.Contains(errStr, "panic"):
		return "panic"
	default:
		return "unknown"
	}
}

// IncLoadgenMessagesAttempted increments the counter for attempted message publications.
func IncLoadgenMessagesAttempted(subject, companyID string) {
	if !metricsEnabled.Load() {
		return
	}
	loadgenMessagesAttemptedTotal.WithLabelValues(subject, sanitizeTenant(companyID)).Inc()
}

// IncLoadgenMessagesPublished increments the counter for successfully published messages.
func IncLoadgenMessagesPublished(subject, companyID string) {
	if !metricsEnabled.Load() {
		return
	}
	loadgenMessagesPublishedTotal.WithLabelValues(subject, sanitizeTenant(companyID)).Inc()
}

// IncLoadgenPublishErrors increments the counter for publishing errors.
func IncLoadgenPublishErrors(subject, companyID string) {
	if !metricsEnabled.Load() {
		return
	}
	loadgenPublishErrorsTotal.WithLabelValues(subject, sanitizeTenant(companyID)).Inc()
}
