package topology

import (
	"sort"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange kinds known to the exchange factory
const (
	ExchangeDirect  = amqp.ExchangeDirect
	ExchangeFanout  = amqp.ExchangeFanout
	ExchangeTopic   = amqp.ExchangeTopic
	ExchangeHeaders = amqp.ExchangeHeaders
)

var exchangeKinds = map[string]struct{}{
	ExchangeDirect:  {},
	ExchangeFanout:  {},
	ExchangeTopic:   {},
	ExchangeHeaders: {},
}

// IsExchangeType reports whether typ is a kind the factory can create.
func IsExchangeType(typ string) bool {
	_, ok := exchangeKinds[typ]
	return ok
}

// ExchangeDeclaration defines an exchange to be declared
type ExchangeDeclaration struct {
	Name       string
	Type       string
	Durable    bool
	AutoDelete bool
	Passive    bool // the exchange must already exist
	NoWait     bool // no declare-ok is expected by the peer
}

// Binding connects a queue to an exchange under a routing key
type Binding struct {
	Exchange   string
	Queue      string
	RoutingKey string
	Arguments  amqp.Table
}

type bindingKey struct {
	routingKey string
	queue      string
}

// Exchange is a named exchange of a virtual host. Its type never changes.
type Exchange struct {
	Name        string
	Type        string
	Durable     bool
	AutoDelete  bool
	VirtualHost string

	mu       sync.RWMutex
	bindings map[bindingKey]Binding
}

func newExchange(virtualHost, name, typ string, durable, autoDelete bool) *Exchange {
	return &Exchange{
		Name:        name,
		Type:        typ,
		Durable:     durable,
		AutoDelete:  autoDelete,
		VirtualHost: virtualHost,
		bindings:    make(map[bindingKey]Binding),
	}
}

// IsBound reports whether queue is bound under routingKey.
func (e *Exchange) IsBound(routingKey, queue string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.bindings[bindingKey{routingKey, queue}]
	return ok
}

// bind adds the binding and reports whether it is new.
func (e *Exchange) bind(binding Binding) bool {
	key := bindingKey{binding.RoutingKey, binding.Queue}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.bindings[key]; ok {
		return false
	}
	binding.Exchange = e.Name
	e.bindings[key] = binding
	return true
}

// Bindings returns the exchange's bindings ordered by queue, then routing key.
func (e *Exchange) Bindings() []Binding {
	e.mu.RLock()
	out := make([]Binding, 0, len(e.bindings))
	for _, b := range e.bindings {
		out = append(out, b)
	}
	e.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Queue != out[j].Queue {
			return out[i].Queue < out[j].Queue
		}
		return out[i].RoutingKey < out[j].RoutingKey
	})
	return out
}

// defaultExchanges are present in every virtual host and never persisted
var defaultExchanges = []struct {
	name string
	typ  string
}{
	{"", ExchangeDirect},
	{"amq.direct", ExchangeDirect},
	{"amq.fanout", ExchangeFanout},
	{"amq.topic", ExchangeTopic},
	{"amq.match", ExchangeHeaders},
	{"amq.headers", ExchangeHeaders},
}

// DefaultExchangeNames lists the exchanges every virtual host starts with
func DefaultExchangeNames() []string {
	names := make([]string, len(defaultExchanges))
	for i, d := range defaultExchanges {
		names[i] = d.name
	}
	return names
}
