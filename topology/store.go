package topology

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/CUXIDUMDUM/qpid/amqperror"
)

// Store persists durable topology. Each method is called once per newly
// created object; an error is returned to the declarer as a StorageFailure.
type Store interface {
	CreateExchange(ctx context.Context, exchange *Exchange) error
	CreateQueue(ctx context.Context, queue *Queue, arguments amqp.Table) error
}

// BindingStore is implemented by stores that also persist bindings between
// durable queues and exchanges.
type BindingStore interface {
	CreateBinding(ctx context.Context, virtualHost string, binding Binding) error
}

type discardStore struct{}

func (discardStore) CreateExchange(context.Context, *Exchange) error       { return nil }
func (discardStore) CreateQueue(context.Context, *Queue, amqp.Table) error { return nil }

// MetricsCollector receives topology metrics
type MetricsCollector interface {
	RecordExchangeCreated(virtualHost, exchangeType string)
	RecordQueueCreated(virtualHost string, variant VariantKind)
	RecordDeadLetterProvisioned(virtualHost string)
	RecordDeclareError(virtualHost string, kind amqperror.Kind)
}

type noopMetrics struct{}

func (noopMetrics) RecordExchangeCreated(string, string)      {}
func (noopMetrics) RecordQueueCreated(string, VariantKind)    {}
func (noopMetrics) RecordDeadLetterProvisioned(string)        {}
func (noopMetrics) RecordDeclareError(string, amqperror.Kind) {}

// QueueConfiguration is the configured policy for one queue
type QueueConfiguration struct {
	// DeadLetterQueues turns on dead-letter provisioning unless the declare
	// arguments disable it.
	DeadLetterQueues bool
	Tuning           Tuning
}

// QueueConfigProvider resolves the configuration of a queue by name
type QueueConfigProvider interface {
	QueueConfiguration(virtualHost, queue string) QueueConfiguration
}

// QueueConfigFunc is a function adapter for QueueConfigProvider
type QueueConfigFunc func(virtualHost, queue string) QueueConfiguration

func (f QueueConfigFunc) QueueConfiguration(virtualHost, queue string) QueueConfiguration {
	return f(virtualHost, queue)
}

// StaticQueueConfig applies the same configuration to every queue
type StaticQueueConfig QueueConfiguration

func (c StaticQueueConfig) QueueConfiguration(string, string) QueueConfiguration {
	return QueueConfiguration(c)
}

// DeadLetterPolicy names the dead-letter topology of a queue
type DeadLetterPolicy struct {
	ExchangeSuffix string `yaml:"exchangeSuffix"`
	QueueSuffix    string `yaml:"queueSuffix"`
}

// DefaultDeadLetterPolicy returns the default suffixes
func DefaultDeadLetterPolicy() DeadLetterPolicy {
	return DeadLetterPolicy{
		ExchangeSuffix: "_DLE",
		QueueSuffix:    "_DLQ",
	}
}

func (p DeadLetterPolicy) names(queue string) (exchange, deadLetterQueue string) {
	return queue + p.ExchangeSuffix, queue + p.QueueSuffix
}
