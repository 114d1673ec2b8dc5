// Package metrics exposes Prometheus collectors for the command bus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics wraps prometheus collectors for bus metrics.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	// Counters
	commandsSent      *prometheus.CounterVec
	dispatchTotal     *prometheus.CounterVec
	retriesScheduled  *prometheus.CounterVec
	movedToTSQ        *prometheus.CounterVec
	repliesPublished  *prometheus.CounterVec
	staleDeletes      *prometheus.CounterVec
	batchesCompleted  *prometheus.CounterVec
	operatorActions   *prometheus.CounterVec
	notifyWakeups     *prometheus.CounterVec
	processReplies    *prometheus.CounterVec

	// Histograms
	handlerDuration *prometheus.HistogramVec
	sendDuration    *prometheus.HistogramVec

	// Gauges
	inFlight *prometheus.GaugeVec
	uptime   prometheus.GaugeFunc
}

// Default histogram buckets for handler duration (in milliseconds).
var defaultBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

var promMetrics *PrometheusMetrics

// InitPrometheus initializes the Prometheus metrics subsystem.
func InitPrometheus(namespace string, buckets []float64) {
	if len(buckets) == 0 {
		buckets = defaultBuckets
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	start := time.Now()
	pm := &PrometheusMetrics{
		registry: registry,

		commandsSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commands_sent_total",
				Help:      "Total commands accepted by the producer API",
			},
			[]string{"domain", "type"},
		),

		dispatchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispatch_total",
				Help:      "Total command dispatches by terminal outcome of the attempt",
			},
			[]string{"domain", "type", "outcome"},
		),

		retriesScheduled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retries_scheduled_total",
				Help:      "Total transient failures scheduled for retry via visibility delay",
			},
			[]string{"domain", "type"},
		),

		movedToTSQ: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "moved_to_troubleshooting_total",
				Help:      "Total commands moved to the troubleshooting queue",
			},
			[]string{"domain", "type"},
		),

		repliesPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "replies_published_total",
				Help:      "Total reply messages published",
			},
			[]string{"domain", "outcome"},
		),

		staleDeletes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stale_messages_deleted_total",
				Help:      "Total redelivered messages dropped because the command already finished",
			},
			[]string{"domain"},
		),

		batchesCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batches_completed_total",
				Help:      "Total batches observed complete by a stats refresh",
			},
			[]string{"domain", "status"},
		),

		operatorActions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operator_actions_total",
				Help:      "Total operator actions on the troubleshooting queue",
			},
			[]string{"domain", "action"},
		),

		notifyWakeups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notify_wakeups_total",
				Help:      "Total worker wakeups triggered by a queue notification",
			},
			[]string{"queue"},
		),

		processReplies: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "process_replies_total",
				Help:      "Total process replies routed by outcome",
			},
			[]string{"domain", "outcome"},
		),

		handlerDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "handler_duration_ms",
				Help:      "Handler execution time in milliseconds",
				Buckets:   buckets,
			},
			[]string{"domain", "type"},
		),

		sendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "send_duration_ms",
				Help:      "Producer send transaction time in milliseconds",
				Buckets:   buckets,
			},
			[]string{"domain"},
		),

		inFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "inflight_handlers",
				Help:      "Handlers currently executing",
			},
			[]string{"domain"},
		),

		uptime: prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "uptime_seconds",
				Help:      "Seconds since the daemon started",
			},
			func() float64 { return time.Since(start).Seconds() },
		),
	}

	registry.MustRegister(
		pm.commandsSent,
		pm.dispatchTotal,
		pm.retriesScheduled,
		pm.movedToTSQ,
		pm.repliesPublished,
		pm.staleDeletes,
		pm.batchesCompleted,
		pm.operatorActions,
		pm.notifyWakeups,
		pm.processReplies,
		pm.handlerDuration,
		pm.sendDuration,
		pm.inFlight,
		pm.uptime,
	)

	promMetrics = pm
}

// Handler returns the HTTP handler for the /metrics endpoint, or nil when
// metrics are disabled.
func Handler() http.Handler {
	if promMetrics == nil {
		return nil
	}
	return promhttp.HandlerFor(promMetrics.registry, promhttp.HandlerOpts{})
}

func RecordSend(domain, commandType string, d time.Duration) {
	if promMetrics == nil {
		return
	}
	promMetrics.commandsSent.WithLabelValues(domain, commandType).Inc()
	promMetrics.sendDuration.WithLabelValues(domain).Observe(float64(d.Milliseconds()))
}

func RecordDispatch(domain, commandType, outcome string, d time.Duration) {
	if promMetrics == nil {
		return
	}
	promMetrics.dispatchTotal.WithLabelValues(domain, commandType, outcome).Inc()
	promMetrics.handlerDuration.WithLabelValues(domain, commandType).Observe(float64(d.Milliseconds()))
}

func RecordRetryScheduled(domain, commandType string) {
	if promMetrics == nil {
		return
	}
	promMetrics.retriesScheduled.WithLabelValues(domain, commandType).Inc()
}

func RecordMovedToTSQ(domain, commandType string) {
	if promMetrics == nil {
		return
	}
	promMetrics.movedToTSQ.WithLabelValues(domain, commandType).Inc()
}

func RecordReplyPublished(domain, outcome string) {
	if promMetrics == nil {
		return
	}
	promMetrics.repliesPublished.WithLabelValues(domain, outcome).Inc()
}

func RecordStaleDelete(domain string) {
	if promMetrics == nil {
		return
	}
	promMetrics.staleDeletes.WithLabelValues(domain).Inc()
}

func RecordBatchCompleted(domain, status string) {
	if promMetrics == nil {
		return
	}
	promMetrics.batchesCompleted.WithLabelValues(domain, status).Inc()
}

func RecordOperatorAction(domain, action string) {
	if promMetrics == nil {
		return
	}
	promMetrics.operatorActions.WithLabelValues(domain, action).Inc()
}

func RecordNotifyWakeup(queue string) {
	if promMetrics == nil {
		return
	}
	promMetrics.notifyWakeups.WithLabelValues(queue).Inc()
}

func RecordProcessReply(domain, outcome string) {
	if promMetrics == nil {
		return
	}
	promMetrics.processReplies.WithLabelValues(domain, outcome).Inc()
}

func IncInFlight(domain string) {
	if promMetrics == nil {
		return
	}
	promMetrics.inFlight.WithLabelValues(domain).Inc()
}

func DecInFlight(domain string) {
	if promMetrics == nil {
		return
	}
	promMetrics.inFlight.WithLabelValues(domain).Dec()
}
