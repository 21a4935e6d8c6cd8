package framing

import (
	amqp "github.com/rabbitmq/amqp091-go"
)

// Method is the body of a request or response frame.
type Method interface {
	ClassID() uint16
	MethodID() uint16
}

// AMQP class ids
const (
	ClassConnection uint16 = 10
	ClassChannel    uint16 = 20
	ClassExchange   uint16 = 40
	ClassQueue      uint16 = 50
)

// ExchangeDeclare asks the broker to create or check an exchange.
type ExchangeDeclare struct {
	Exchange   string
	Type       string
	Passive    bool
	Durable    bool
	AutoDelete bool
	NoWait     bool
	Arguments  amqp.Table
}

func (ExchangeDeclare) ClassID() uint16  { return ClassExchange }
func (ExchangeDeclare) MethodID() uint16 { return 10 }

// ExchangeDeclareOk confirms an exchange declare.
type ExchangeDeclareOk struct{}

func (ExchangeDeclareOk) ClassID() uint16  { return ClassExchange }
func (ExchangeDeclareOk) MethodID() uint16 { return 11 }

// QueueDeclare asks the broker to create or check a queue.
type QueueDeclare struct {
	Queue      string
	Passive    bool
	Durable    bool
	Exclusive  bool
	AutoDelete bool
	NoWait     bool
	Arguments  amqp.Table
}

func (QueueDeclare) ClassID() uint16  { return ClassQueue }
func (QueueDeclare) MethodID() uint16 { return 10 }

// QueueDeclareOk confirms a queue declare and reports the queue name, which
// the broker chooses when the declare carried none.
type QueueDeclareOk struct {
	Queue         string
	MessageCount  uint32
	ConsumerCount uint32
}

func (QueueDeclareOk) ClassID() uint16  { return ClassQueue }
func (QueueDeclareOk) MethodID() uint16 { return 11 }

// QueueBind binds a queue to an exchange.
type QueueBind struct {
	Queue      string
	Exchange   string
	RoutingKey string
	NoWait     bool
	Arguments  amqp.Table
}

func (QueueBind) ClassID() uint16  { return ClassQueue }
func (QueueBind) MethodID() uint16 { return 20 }

// QueueBindOk confirms a binding.
type QueueBindOk struct{}

func (QueueBindOk) ClassID() uint16  { return ClassQueue }
func (QueueBindOk) MethodID() uint16 { return 21 }

// ChannelClose closes a channel after a channel-level error.
type ChannelClose struct {
	ReplyCode uint16
	ReplyText string
	ClassId   uint16 // class of the failed method
	MethodId  uint16 // failed method
}

func (ChannelClose) ClassID() uint16  { return ClassChannel }
func (ChannelClose) MethodID() uint16 { return 40 }

// ConnectionClose closes the connection after a connection-level error.
type ConnectionClose struct {
	ReplyCode uint16
	ReplyText string
	ClassId   uint16
	MethodId  uint16
}

func (ConnectionClose) ClassID() uint16  { return ClassConnection }
func (ConnectionClose) MethodID() uint16 { return 50 }
