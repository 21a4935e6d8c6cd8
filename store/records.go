package store

import (
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/tinylib/msgp/msgp"

	"github.com/CUXIDUMDUM/qpid/message"
	"github.com/CUXIDUMDUM/qpid/topology"
)

// ExchangeRecord is the persisted form of a durable exchange
type ExchangeRecord struct {
	VirtualHost string `msg:"v"`
	Name        string `msg:"n"`
	Type        string `msg:"t"`
	Durable     bool   `msg:"d"`
	AutoDelete  bool   `msg:"a"`
}

// QueueRecord is the persisted form of a durable queue with its declare
// arguments
type QueueRecord struct {
	VirtualHost string     `msg:"v"`
	Name        string     `msg:"n"`
	Owner       string     `msg:"o"`
	Durable     bool       `msg:"d"`
	AutoDelete  bool       `msg:"a"`
	Arguments   amqp.Table `msg:"args"`
}

// BindingRecord is the persisted form of a binding
type BindingRecord struct {
	VirtualHost string     `msg:"v"`
	Exchange    string     `msg:"e"`
	Queue       string     `msg:"q"`
	RoutingKey  string     `msg:"k"`
	Arguments   amqp.Table `msg:"args"`
}

// MessageRecord is the persisted form of a message
type MessageRecord struct {
	ID          int64  `msg:"id"`
	ContentType string `msg:"ct"`
	Body        []byte `msg:"b"`
}

func exchangeRecord(e *topology.Exchange) ExchangeRecord {
	return ExchangeRecord{
		VirtualHost: e.VirtualHost,
		Name:        e.Name,
		Type:        e.Type,
		Durable:     e.Durable,
		AutoDelete:  e.AutoDelete,
	}
}

func queueRecord(q *topology.Queue, args amqp.Table) QueueRecord {
	return QueueRecord{
		VirtualHost: q.VirtualHost,
		Name:        q.Name,
		Owner:       q.Owner,
		Durable:     q.Durable,
		AutoDelete:  q.AutoDelete,
		Arguments:   args,
	}
}

func bindingRecord(virtualHost string, b topology.Binding) BindingRecord {
	return BindingRecord{
		VirtualHost: virtualHost,
		Exchange:    b.Exchange,
		Queue:       b.Queue,
		RoutingKey:  b.RoutingKey,
		Arguments:   b.Arguments,
	}
}

func messageRecord(m *message.Message) MessageRecord {
	return MessageRecord{
		ID:          int64(m.ID),
		ContentType: m.ContentType,
		Body:        m.Body,
	}
}

// Declaration converts the record back into a declare
func (r ExchangeRecord) Declaration() topology.ExchangeDeclaration {
	return topology.ExchangeDeclaration{
		Name:       r.Name,
		Type:       r.Type,
		Durable:    r.Durable,
		AutoDelete: r.AutoDelete,
	}
}

// Declaration converts the record back into a declare
func (r QueueRecord) Declaration() topology.QueueDeclaration {
	return topology.QueueDeclaration{
		Name:       r.Name,
		Durable:    r.Durable,
		Owner:      r.Owner,
		AutoDelete: r.AutoDelete,
		Arguments:  r.Arguments,
	}
}

// Binding converts the record back into a binding
func (r BindingRecord) Binding() topology.Binding {
	return topology.Binding{
		Exchange:   r.Exchange,
		Queue:      r.Queue,
		RoutingKey: r.RoutingKey,
		Arguments:  r.Arguments,
	}
}

// validateTable rejects argument values that cannot be stored
func validateTable(args amqp.Table) error {
	if args == nil {
		return nil
	}
	return args.Validate()
}

// plainTable converts a table into the map form msgp encodes. Nested tables
// and decimals have no msgpack counterpart and are converted.
func plainTable(t amqp.Table) map[string]interface{} {
	if t == nil {
		return nil
	}
	out := make(map[string]interface{}, len(t))
	for k, v := range t {
		out[k] = plainValue(v)
	}
	return out
}

func plainValue(v interface{}) interface{} {
	switch x := v.(type) {
	case amqp.Table:
		return plainTable(x)
	case []interface{}:
		out := make([]interface{}, len(x))
		for i, e := range x {
			out[i] = plainValue(e)
		}
		return out
	case amqp.Decimal:
		return fmt.Sprintf("%de-%d", x.Value, x.Scale)
	case time.Time:
		return x.UTC()
	default:
		return v
	}
}

func tableFromPlain(m map[string]interface{}) amqp.Table {
	if m == nil {
		return nil
	}
	out := make(amqp.Table, len(m))
	for k, v := range m {
		out[k] = valueFromPlain(v)
	}
	return out
}

func valueFromPlain(v interface{}) interface{} {
	switch x := v.(type) {
	case map[string]interface{}:
		return tableFromPlain(x)
	case []interface{}:
		for i, e := range x {
			x[i] = valueFromPlain(e)
		}
		return x
	default:
		return v
	}
}

func appendTable(o []byte, t amqp.Table) ([]byte, error) {
	if t == nil {
		return msgp.AppendNil(o), nil
	}
	return msgp.AppendMapStrIntf(o, plainTable(t))
}

func readTable(bts []byte) (amqp.Table, []byte, error) {
	if msgp.IsNil(bts) {
		o, err := msgp.ReadNilBytes(bts)
		return nil, o, err
	}
	m, o, err := msgp.ReadMapStrIntfBytes(bts, nil)
	if err != nil {
		return nil, o, err
	}
	return tableFromPlain(m), o, nil
}
