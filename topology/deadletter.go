package topology

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/CUXIDUMDUM/qpid/amqperror"
)

// deadLetterEnabled decides provisioning for a new queue. An explicit boolean
// argument wins over the configured default; auto-delete queues never get
// dead-letter topology.
func (vh *VirtualHost) deadLetterEnabled(q *Queue, decl QueueDeclaration, cfg QueueConfiguration) bool {
	enabled := cfg.DeadLetterQueues
	if v, present := lookupBool(decl.Arguments, ArgDeadLetterEnabled); present {
		enabled = v
	} else if _, ok := decl.Arguments[ArgDeadLetterEnabled]; ok {
		vh.logger.Warn("ignoring non-boolean dead-letter argument", "queue", q.Name)
	}
	return enabled && !q.AutoDelete
}

// provisionDeadLetter fetches or creates the dead-letter exchange and queue
// of q, binds them and makes the exchange q's alternate exchange. New objects
// are written to the store only when persist is set. Called with queueMu held.
func (vh *VirtualHost) provisionDeadLetter(ctx context.Context, q *Queue, persist bool) error {
	exchangeName, queueName := vh.deadLetter.names(q.Name)

	dle, err := vh.deadLetterExchange(ctx, exchangeName, persist)
	if err != nil {
		return err
	}

	dlq, ok := vh.queues[queueName]
	if !ok {
		args := amqp.Table{ArgDeadLetterEnabled: false}
		dlq, err = vh.createQueueLocked(ctx, QueueDeclaration{
			Name:      queueName,
			Durable:   true,
			Owner:     q.Owner,
			Arguments: args,
		}, false, false)
		if err != nil {
			return err
		}
		if persist {
			if err := vh.store.CreateQueue(ctx, dlq, args); err != nil {
				vh.logger.Error("failed to persist dead-letter queue", "queue", dlq.Name, "error", err)
				return amqperror.StorageFailure("create dead-letter queue", dlq.Name, err)
			}
		}
	}

	if !dle.IsBound(DeadLetterRoutingKey, dlq.Name) {
		dle.bind(Binding{Queue: dlq.Name, RoutingKey: DeadLetterRoutingKey})
	}
	q.SetAlternateExchange(dle)

	vh.metrics.RecordDeadLetterProvisioned(vh.name)
	vh.logger.Info("dead-letter topology provisioned",
		"queue", q.Name,
		"deadLetterExchange", dle.Name,
		"deadLetterQueue", dlq.Name,
	)
	return nil
}

func (vh *VirtualHost) deadLetterExchange(ctx context.Context, name string, persist bool) (*Exchange, error) {
	vh.exchangeMu.Lock()
	defer vh.exchangeMu.Unlock()

	if ex, ok := vh.exchanges[name]; ok {
		return ex, nil
	}

	ex := newExchange(vh.name, name, ExchangeFanout, true, false)
	vh.exchanges[name] = ex
	if persist {
		if err := vh.store.CreateExchange(ctx, ex); err != nil {
			vh.logger.Error("failed to persist dead-letter exchange", "exchange", name, "error", err)
			return nil, amqperror.StorageFailure("create dead-letter exchange", name, err)
		}
	}
	vh.metrics.RecordExchangeCreated(vh.name, ex.Type)
	return ex, nil
}
