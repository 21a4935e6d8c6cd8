// Package metrics exports broker core events as Prometheus metrics.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/CUXIDUMDUM/qpid/amqperror"
	"github.com/CUXIDUMDUM/qpid/topology"
)

const namespace = "qpid"

// Collector implements topology.MetricsCollector and
// framing.MetricsCollector on Prometheus vectors.
type Collector struct {
	exchangesCreated       *prometheus.CounterVec
	queuesCreated          *prometheus.CounterVec
	deadLettersProvisioned *prometheus.CounterVec
	declareErrors          *prometheus.CounterVec
	pendingRequests        *prometheus.GaugeVec
	correlationMismatches  *prometheus.CounterVec
	recoveredMessages      prometheus.Gauge
}

// NewCollector creates the collector and registers its metrics with reg
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		exchangesCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "exchanges_created_total",
				Help:      "Exchanges created, by virtual host and exchange type",
			},
			[]string{"vhost", "type"},
		),
		queuesCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "queues_created_total",
				Help:      "Queues created, by virtual host and queue variant",
			},
			[]string{"vhost", "variant"},
		),
		deadLettersProvisioned: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dead_letter_provisioned_total",
				Help:      "Queues given a dead-letter exchange and queue",
			},
			[]string{"vhost"},
		),
		declareErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "declare_errors_total",
				Help:      "Failed declares, by virtual host and error kind",
			},
			[]string{"vhost", "kind"},
		),
		pendingRequests: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pending_requests",
				Help:      "Requests awaiting a response, by channel",
			},
			[]string{"channel"},
		),
		correlationMismatches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "correlation_mismatches_total",
				Help:      "Responses that referenced no outstanding request",
			},
			[]string{"channel"},
		),
		recoveredMessages: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "recovered_messages",
				Help:      "Messages replayed from the store at startup",
			},
		),
	}

	reg.MustRegister(
		c.exchangesCreated,
		c.queuesCreated,
		c.deadLettersProvisioned,
		c.declareErrors,
		c.pendingRequests,
		c.correlationMismatches,
		c.recoveredMessages,
	)
	return c
}

func (c *Collector) RecordExchangeCreated(virtualHost, exchangeType string) {
	c.exchangesCreated.WithLabelValues(virtualHost, exchangeType).Inc()
}

func (c *Collector) RecordQueueCreated(virtualHost string, kind topology.VariantKind) {
	c.queuesCreated.WithLabelValues(virtualHost, kind.String()).Inc()
}

func (c *Collector) RecordDeadLetterProvisioned(virtualHost string) {
	c.deadLettersProvisioned.WithLabelValues(virtualHost).Inc()
}

func (c *Collector) RecordDeclareError(virtualHost string, kind amqperror.Kind) {
	c.declareErrors.WithLabelValues(virtualHost, kind.String()).Inc()
}

func (c *Collector) RecordPendingRequests(channel uint16, pending int) {
	c.pendingRequests.WithLabelValues(channelLabel(channel)).Set(float64(pending))
}

func (c *Collector) RecordCorrelationMismatch(channel uint16) {
	c.correlationMismatches.WithLabelValues(channelLabel(channel)).Inc()
}

// RecordRecoveredMessages sets the number of messages replayed at startup
func (c *Collector) RecordRecoveredMessages(n int) {
	c.recoveredMessages.Set(float64(n))
}

func channelLabel(channel uint16) string {
	return strconv.FormatUint(uint64(channel), 10)
}
