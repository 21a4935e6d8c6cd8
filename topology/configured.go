package topology

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/CUXIDUMDUM/qpid/amqperror"
)

// QueueDefinition is a queue described by broker configuration rather than
// by a client declare.
type QueueDefinition struct {
	Name        string
	Durable     bool
	AutoDelete  bool
	Owner       string
	Exchange    string   // exchange to bind to, the default exchange when empty
	RoutingKeys []string // defaults to the queue name
	Priority    bool
	Priorities  int // DefaultPriorities when Priority is set without a count
	LVQ         bool
	LVQKey      string
	// DeadLetterQueues is the resolved dead-letter setting of the queue
	DeadLetterQueues bool
}

// Arguments returns the declare arguments equivalent to the definition.
func (d QueueDefinition) Arguments() amqp.Table {
	var args amqp.Table
	set := func(key string, value interface{}) {
		if args == nil {
			args = amqp.Table{}
		}
		args[key] = value
	}

	if d.Priority || d.Priorities > 0 {
		priorities := d.Priorities
		if priorities <= 0 {
			priorities = DefaultPriorities
		}
		set(ArgPriorities, int32(priorities))
	}
	if d.LVQ || d.LVQKey != "" {
		key := d.LVQKey
		if key == "" {
			key = DefaultConflationKey
		}
		set(ArgLastValueQueue, int32(1))
		set(ArgLastValueQueueKey, key)
	}
	if !d.AutoDelete && d.DeadLetterQueues {
		set(ArgDeadLetterEnabled, true)
	}
	return args
}

// CreateQueueFromConfig creates a configured queue, persists it when durable
// and binds it to its exchange under each routing key. An existing queue of
// the same name is only bound.
func (vh *VirtualHost) CreateQueueFromConfig(ctx context.Context, def QueueDefinition) (*Queue, error) {
	q, _, err := vh.DeclareQueue(ctx, QueueDeclaration{
		Name:       def.Name,
		Durable:    def.Durable,
		Owner:      def.Owner,
		AutoDelete: def.AutoDelete,
		Arguments:  def.Arguments(),
	})
	if err != nil {
		return nil, err
	}

	if _, ok := vh.GetExchange(def.Exchange); !ok {
		return q, amqperror.NotFound("bind configured queue", def.Exchange)
	}
	if def.Exchange == "" {
		return q, nil
	}

	keys := def.RoutingKeys
	if len(keys) == 0 {
		keys = []string{q.Name}
	}
	for _, key := range keys {
		if err := vh.BindQueue(ctx, Binding{Exchange: def.Exchange, Queue: q.Name, RoutingKey: key}); err != nil {
			return q, err
		}
	}
	return q, nil
}
