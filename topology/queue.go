package topology

import (
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// VariantKind is the queue implementation strategy
type VariantKind int

const (
	VariantSimple VariantKind = iota
	VariantPriority
	VariantConflation
)

func (k VariantKind) String() string {
	switch k {
	case VariantSimple:
		return "simple"
	case VariantPriority:
		return "priority"
	case VariantConflation:
		return "conflation"
	default:
		return fmt.Sprintf("VariantKind(%d)", int(k))
	}
}

// Variant is decided once when a queue is created. Priorities is set for
// VariantPriority and ConflationKey for VariantConflation.
type Variant struct {
	Kind          VariantKind
	Priorities    int
	ConflationKey string
}

func (v Variant) String() string {
	switch v.Kind {
	case VariantSimple:
		return "simple"
	case VariantPriority:
		return fmt.Sprintf("priority(%d)", v.Priorities)
	case VariantConflation:
		return fmt.Sprintf("conflation(%s)", v.ConflationKey)
	default:
		return v.Kind.String()
	}
}

// SelectVariant picks the variant for a queue declared with args. A
// conflation marker or key wins over a priorities count above one; anything
// else is a simple queue.
func SelectVariant(args amqp.Table) Variant {
	_, marker := args[ArgLastValueQueue]
	key, hasKey := args[ArgLastValueQueueKey]
	if marker || hasKey {
		conflationKey := DefaultConflationKey
		if hasKey && key != nil {
			conflationKey = stringValue(key)
		}
		return Variant{Kind: VariantConflation, ConflationKey: conflationKey}
	}

	if v, ok := args[ArgPriorities]; ok {
		if n, ok := integer(v); ok && n > 1 {
			return Variant{Kind: VariantPriority, Priorities: int(n)}
		}
	}
	return Variant{Kind: VariantSimple}
}

// Tuning holds the numeric queue limits. Zero means unset.
type Tuning struct {
	MaximumMessageAge     int64 `yaml:"maximumMessageAge"`
	MaximumMessageSize    int64 `yaml:"maximumMessageSize"`
	MaximumMessageCount   int64 `yaml:"maximumMessageCount"`
	MinimumAlertRepeatGap int64 `yaml:"minimumAlertRepeatGap"`
	Capacity              int64 `yaml:"capacity"`
	FlowResumeCapacity    int64 `yaml:"flowResumeCapacity"`
}

// QueueDeclaration defines a queue to be declared
type QueueDeclaration struct {
	Name       string
	Durable    bool
	Owner      string // client identity of an exclusive queue
	AutoDelete bool
	Passive    bool // the queue must already exist
	Arguments  amqp.Table
}

// Queue is a named queue of a virtual host
type Queue struct {
	Name        string
	Durable     bool
	Owner       string
	AutoDelete  bool
	VirtualHost string
	Arguments   amqp.Table
	Variant     Variant

	mu                sync.RWMutex
	tuning            Tuning
	alternateExchange *Exchange
}

func newQueue(virtualHost string, decl QueueDeclaration, variant Variant) *Queue {
	return &Queue{
		Name:        decl.Name,
		Durable:     decl.Durable,
		Owner:       decl.Owner,
		AutoDelete:  decl.AutoDelete,
		VirtualHost: virtualHost,
		Arguments:   copyTable(decl.Arguments),
		Variant:     variant,
	}
}

// Tuning returns the queue limits
func (q *Queue) Tuning() Tuning {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.tuning
}

// AlternateExchange returns the exchange unroutable and rejected messages
// are sent to, or nil.
func (q *Queue) AlternateExchange() *Exchange {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.alternateExchange
}

// SetAlternateExchange sets the alternate exchange
func (q *Queue) SetAlternateExchange(e *Exchange) {
	q.mu.Lock()
	q.alternateExchange = e
	q.mu.Unlock()
}

// configure applies the configured limits. Unset values keep the current one.
func (q *Queue) configure(t Tuning) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, f := range []struct {
		dst *int64
		src int64
	}{
		{&q.tuning.MaximumMessageAge, t.MaximumMessageAge},
		{&q.tuning.MaximumMessageSize, t.MaximumMessageSize},
		{&q.tuning.MaximumMessageCount, t.MaximumMessageCount},
		{&q.tuning.MinimumAlertRepeatGap, t.MinimumAlertRepeatGap},
		{&q.tuning.Capacity, t.Capacity},
		{&q.tuning.FlowResumeCapacity, t.FlowResumeCapacity},
	} {
		if f.src != 0 {
			*f.dst = f.src
		}
	}
}

// applyArguments applies the recognized numeric arguments and returns the
// keys that were present but not numeric.
func (q *Queue) applyArguments(args amqp.Table) []string {
	var ignored []string

	q.mu.Lock()
	defer q.mu.Unlock()
	for _, arg := range tuningArguments {
		v, ok := args[arg.key]
		if !ok {
			continue
		}
		n, ok := numeric(v)
		if !ok {
			ignored = append(ignored, arg.key)
			continue
		}
		arg.apply(&q.tuning, n)
	}
	return ignored
}
