package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Turn metrics
	activeTurns = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "weather_gateway_active_turns",
		Help: "Number of conversation turns currently streaming",
	})

	turnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "weather_gateway_turns_total",
		Help: "Total number of turns by outcome",
	}, []string{"model", "outcome"}) // outcome: complete, failed, cancelled, conflict

	turnDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "weather_gateway_turn_duration_seconds",
		Help:    "Wall-clock duration of a turn from acquire to terminal event",
		Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{"model"})

	timeToFirstToken = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "weather_gateway_time_to_first_token_seconds",
		Help:    "Latency until the first text delta of a turn",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
	}, []string{"model"})

	// Tool metrics
	toolCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "weather_gateway_tool_calls_total",
		Help: "Total number of tool calls",
	}, []string{"function", "status"}) // status: success, invalid_argument, unknown_tool, error, timeout

	toolLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "weather_gateway_tool_latency_seconds",
		Help:    "Tool execution latency in seconds",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
	}, []string{"function"})

	commentaryViolations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "weather_gateway_commentary_violations_total",
		Help: "Commentary that restated tool data verbatim",
	}, []string{"model"})

	// Evaluation metrics
	evaluationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "weather_gateway_evaluations_total",
		Help: "Total number of evaluation attempts",
	}, []string{"status"}) // status: success, skipped, unparseable, error

	evaluationLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "weather_gateway_evaluation_latency_seconds",
		Help:    "Evaluator round-trip latency in seconds",
		Buckets: []float64{0.5, 1.0, 2.0, 5.0, 10.0, 30.0, 60.0},
	})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "weather_gateway_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "weather_gateway_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "weather_gateway_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})

	// Transport metrics
	streamedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "weather_gateway_streamed_events_total",
		Help: "Events written to clients",
	}, []string{"transport", "type"}) // transport: sse, websocket
)

// Metrics tracks metrics for a single turn
type Metrics struct {
	model      string
	startTime  time.Time
	firstToken bool
	mu         sync.Mutex
}

// NewTurnMetrics creates a new metrics tracker for a turn
func NewTurnMetrics(model string) *Metrics {
	return &Metrics{
		model:     model,
		startTime: time.Now(),
	}
}

// RecordTurnStart records the start of a turn
func (m *Metrics) RecordTurnStart() {
	activeTurns.Inc()
}

// RecordTurnEnd records the end of a turn with its outcome
func (m *Metrics) RecordTurnEnd(outcome string) {
	activeTurns.Dec()
	turnsTotal.WithLabelValues(m.model, outcome).Inc()
	turnDuration.WithLabelValues(m.model).Observe(time.Since(m.startTime).Seconds())
}

// RecordTextDelta records the first-token latency once per turn
func (m *Metrics) RecordTextDelta() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.firstToken {
		return
	}
	m.firstToken = true
	timeToFirstToken.WithLabelValues(m.model).Observe(time.Since(m.startTime).Seconds())
}

// RecordCommentaryViolation records commentary that restated tool data
func (m *Metrics) RecordCommentaryViolation() {
	commentaryViolations.WithLabelValues(m.model).Inc()
}

// RecordError records an error
func (m *Metrics) RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordConflict counts a turn rejected because its session was busy
func RecordConflict(model string) {
	turnsTotal.WithLabelValues(model, "conflict").Inc()
}

// RecordToolCall records one dispatched tool call
func RecordToolCall(function, status string, latency time.Duration) {
	toolCalls.WithLabelValues(function, status).Inc()
	toolLatency.WithLabelValues(function).Observe(latency.Seconds())
}

// RecordEvaluation records one evaluation attempt
func RecordEvaluation(status string, latency time.Duration) {
	evaluationsTotal.WithLabelValues(status).Inc()
	if latency > 0 {
		evaluationLatency.Observe(latency.Seconds())
	}
}

// RecordError records an error outside of a turn
func RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordStreamedEvent counts an event written to a client
func RecordStreamedEvent(transport, eventType string) {
	streamedEvents.WithLabelValues(transport, eventType).Inc()
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}
