// Package session dispatches topology requests arriving on an AMQP channel
// to a virtual host and answers them through the channel's response
// correlator.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/CUXIDUMDUM/qpid/amqperror"
	"github.com/CUXIDUMDUM/qpid/framing"
	"github.com/CUXIDUMDUM/qpid/topology"
)

var (
	// ErrChannelClosed is returned for requests arriving after a close
	ErrChannelClosed = errors.New("session: channel closed")
	// ErrNotImplemented is returned for methods the dispatcher does not serve
	ErrNotImplemented = errors.New("session: method not implemented")
)

// Channel serves one AMQP channel of a connection
type Channel struct {
	id        uint16
	clientID  string
	vhost     *topology.VirtualHost
	responses *framing.ResponseManager
	logger    *slog.Logger

	mu     sync.Mutex
	closed bool
}

// ChannelOption configures a Channel
type ChannelOption func(*Channel)

// WithClientID sets the identity that owns exclusive queues
func WithClientID(id string) ChannelOption {
	return func(c *Channel) {
		c.clientID = id
	}
}

// WithChannelLogger sets the logger
func WithChannelLogger(logger *slog.Logger) ChannelOption {
	return func(c *Channel) {
		c.logger = logger
	}
}

// NewChannel creates channel id of a connection bound to vhost. Responses
// and close methods are written to writer.
func NewChannel(id uint16, vhost *topology.VirtualHost, writer framing.FrameWriter, options ...ChannelOption) *Channel {
	c := &Channel{
		id:       id,
		clientID: uuid.NewString(),
		vhost:    vhost,
		logger:   slog.Default(),
	}

	for _, opt := range options {
		opt(c)
	}
	c.logger = c.logger.With("channel", id, "clientId", c.clientID)
	c.responses = framing.NewResponseManager(id, writer, framing.WithResponseLogger(c.logger))

	return c
}

// ID returns the channel id
func (c *Channel) ID() uint16 {
	return c.id
}

// ClientID returns the identity owning exclusive queues declared here
func (c *Channel) ClientID() string {
	return c.clientID
}

// Closed reports whether an error closed the channel or its connection
func (c *Channel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Responses returns the channel's response correlator
func (c *Channel) Responses() *framing.ResponseManager {
	return c.responses
}

// HandleRequest serves one request frame. Successful requests are answered
// unless they asked for no-wait. A failed request is answered with a
// ChannelClose or ConnectionClose, depending on the scope of the error, and
// the error is returned so the connection can act on it.
func (c *Channel) HandleRequest(ctx context.Context, frame framing.RequestFrame) error {
	if c.Closed() {
		return ErrChannelClosed
	}
	if err := c.responses.RequestReceived(frame); err != nil {
		// an out of order id cannot be answered
		c.close(err, frame, false)
		return err
	}

	reply, noWait, err := c.dispatch(ctx, frame.Method)
	if err != nil {
		c.close(err, frame, true)
		return err
	}
	if noWait {
		c.responses.Suppress(frame.RequestID)
		return nil
	}
	if _, err := c.responses.SendResponse(frame.RequestID, reply); err != nil {
		return err
	}
	return nil
}

func (c *Channel) dispatch(ctx context.Context, method framing.Method) (framing.Method, bool, error) {
	switch m := method.(type) {
	case framing.ExchangeDeclare:
		_, err := c.vhost.DeclareExchange(ctx, topology.ExchangeDeclaration{
			Name:       m.Exchange,
			Type:       m.Type,
			Durable:    m.Durable,
			AutoDelete: m.AutoDelete,
			Passive:    m.Passive,
			NoWait:     m.NoWait,
		})
		return framing.ExchangeDeclareOk{}, m.NoWait, err

	case framing.QueueDeclare:
		decl := topology.QueueDeclaration{
			Name:       m.Queue,
			Durable:    m.Durable,
			AutoDelete: m.AutoDelete,
			Passive:    m.Passive,
			Arguments:  m.Arguments,
		}
		if m.Exclusive {
			decl.Owner = c.clientID
		}
		q, _, err := c.vhost.DeclareQueue(ctx, decl)
		if err != nil {
			return nil, m.NoWait, err
		}
		return framing.QueueDeclareOk{Queue: q.Name}, m.NoWait, nil

	case framing.QueueBind:
		routingKey := m.RoutingKey
		if routingKey == "" && m.Exchange == "" {
			routingKey = m.Queue
		}
		err := c.vhost.BindQueue(ctx, topology.Binding{
			Exchange:   m.Exchange,
			Queue:      m.Queue,
			RoutingKey: routingKey,
			Arguments:  m.Arguments,
		})
		return framing.QueueBindOk{}, m.NoWait, err

	case nil:
		return nil, false, fmt.Errorf("%w: empty method", ErrNotImplemented)

	default:
		return nil, false, fmt.Errorf("%w: class %d method %d", ErrNotImplemented, method.ClassID(), method.MethodID())
	}
}

// close answers the failed request with the close method matching the
// error's scope and marks the channel closed.
func (c *Channel) close(err error, frame framing.RequestFrame, answer bool) {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	var classID, methodID uint16
	if frame.Method != nil {
		classID, methodID = frame.Method.ClassID(), frame.Method.MethodID()
	}

	amqpErr := amqperror.AsAMQPError(err)
	if errors.Is(err, ErrNotImplemented) {
		amqpErr = &amqp.Error{Code: amqp.NotImplemented, Reason: err.Error(), Server: true}
	}

	var reply framing.Method
	if amqperror.IsChannelFatal(err) {
		reply = framing.ChannelClose{
			ReplyCode: uint16(amqpErr.Code),
			ReplyText: amqpErr.Reason,
			ClassId:   classID,
			MethodId:  methodID,
		}
	} else {
		reply = framing.ConnectionClose{
			ReplyCode: uint16(amqpErr.Code),
			ReplyText: amqpErr.Reason,
			ClassId:   classID,
			MethodId:  methodID,
		}
	}

	c.logger.Warn("closing after failed request",
		"requestId", frame.RequestID,
		"code", amqpErr.Code,
		"scope", amqperror.ScopeOf(err).String(),
		"error", err,
	)

	if !answer {
		return
	}
	if _, werr := c.responses.SendResponse(frame.RequestID, reply); werr != nil {
		c.logger.Error("failed to send close", "requestId", frame.RequestID, "error", werr)
	}
}
