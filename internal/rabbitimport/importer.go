// Package rabbitimport copies the topology of a RabbitMQ virtual host into a
// broker virtual host through the RabbitMQ management API.
package rabbitimport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cenkalti/backoff/v4"
	rh "github.com/michaelklishin/rabbit-hole/v2"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/CUXIDUMDUM/qpid/topology"
)

// ManagementAPI is the part of the management client the importer reads
type ManagementAPI interface {
	ListExchangesIn(vhost string) ([]rh.ExchangeInfo, error)
	ListQueuesIn(vhost string) ([]rh.QueueInfo, error)
	ListBindingsIn(vhost string) ([]rh.BindingInfo, error)
}

// Dial connects to the management API at uri
func Dial(uri, username, password string) (ManagementAPI, error) {
	c, err := rh.NewClient(uri, username, password)
	if err != nil {
		return nil, fmt.Errorf("rabbitimport: %w", err)
	}
	return c, nil
}

// newBackoff generates the retry policy for management API calls. It is a
// variable so tests can shorten it.
var newBackoff = defaultBackoff

func defaultBackoff(ctx context.Context) backoff.BackOff {
	return backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
}

// Report counts what an import did
type Report struct {
	Exchanges int
	Queues    int
	Bindings  int
	Skipped   []string // objects that have no counterpart here
}

// Importer declares RabbitMQ topology into a virtual host
type Importer struct {
	api    ManagementAPI
	logger *slog.Logger
}

// Option configures an Importer
type Option func(*Importer)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(i *Importer) {
		i.logger = logger
	}
}

// New creates an importer reading from api
func New(api ManagementAPI, options ...Option) *Importer {
	i := &Importer{api: api, logger: slog.Default()}
	for _, opt := range options {
		opt(i)
	}
	return i
}

// Import reads exchanges, queues and bindings of the RabbitMQ virtual host
// source and declares them into vh. Declare failures do not stop the import;
// they are joined into the returned error.
func (i *Importer) Import(ctx context.Context, source string, vh *topology.VirtualHost) (*Report, error) {
	logger := i.logger.With("source", source, "virtualHost", vh.Name())

	var exchanges []rh.ExchangeInfo
	err := retry(ctx, func() (err error) {
		exchanges, err = i.api.ListExchangesIn(source)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("rabbitimport: list exchanges: %w", err)
	}
	var queues []rh.QueueInfo
	err = retry(ctx, func() (err error) {
		queues, err = i.api.ListQueuesIn(source)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("rabbitimport: list queues: %w", err)
	}
	var bindings []rh.BindingInfo
	err = retry(ctx, func() (err error) {
		bindings, err = i.api.ListBindingsIn(source)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("rabbitimport: list bindings: %w", err)
	}

	report := &Report{}
	var errs []error
	skip := func(what, name, reason string) {
		report.Skipped = append(report.Skipped, what+" "+name)
		logger.Info("skipping "+what, "name", name, "reason", reason)
	}

	for _, e := range exchanges {
		switch {
		case e.Name == "" || strings.HasPrefix(e.Name, "amq."):
			continue
		case !topology.IsExchangeType(e.Type):
			skip("exchange", e.Name, "unsupported type "+e.Type)
			continue
		}
		_, err := vh.DeclareExchange(ctx, topology.ExchangeDeclaration{
			Name:       e.Name,
			Type:       e.Type,
			Durable:    e.Durable,
			AutoDelete: bool(e.AutoDelete),
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		report.Exchanges++
	}

	skippedQueues := make(map[string]bool)
	for _, q := range queues {
		if q.Exclusive {
			skip("queue", q.Name, "exclusive to a connection")
			skippedQueues[q.Name] = true
			continue
		}
		_, _, err := vh.DeclareQueue(ctx, topology.QueueDeclaration{
			Name:       q.Name,
			Durable:    q.Durable,
			AutoDelete: bool(q.AutoDelete),
			Arguments:  QueueArguments(q.Arguments),
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		report.Queues++
	}

	for _, b := range bindings {
		if b.DestinationType != "queue" {
			skip("binding", b.Source+"->"+b.Destination, "destination is an exchange")
			continue
		}
		if b.Source == "" {
			// every queue is bound to the default exchange already
			continue
		}
		if skippedQueues[b.Destination] {
			continue
		}
		err := vh.BindQueue(ctx, topology.Binding{
			Exchange:   b.Source,
			Queue:      b.Destination,
			RoutingKey: b.RoutingKey,
			Arguments:  amqp.Table(b.Arguments),
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		report.Bindings++
	}

	logger.Info("import complete",
		"exchanges", report.Exchanges,
		"queues", report.Queues,
		"bindings", report.Bindings,
		"skipped", len(report.Skipped),
		"failed", len(errs),
	)
	return report, errors.Join(errs...)
}

// QueueArguments translates RabbitMQ queue arguments into their broker
// equivalents. Arguments without an equivalent are dropped.
func QueueArguments(args map[string]interface{}) amqp.Table {
	out := amqp.Table{}
	for k, v := range args {
		switch k {
		case "x-max-priority":
			if n, ok := integral(v); ok {
				out[topology.ArgPriorities] = n
			}
		case "x-max-length":
			if n, ok := integral(v); ok {
				out[topology.ArgMaximumMessageCount] = n
			}
		case "x-max-length-bytes":
			if n, ok := integral(v); ok {
				out[topology.ArgMaximumMessageSize] = n
			}
		case "x-message-ttl":
			// milliseconds there, seconds here
			if n, ok := integral(v); ok && n >= 1000 {
				out[topology.ArgMaximumMessageAge] = n / 1000
			}
		case "x-dead-letter-exchange":
			out[topology.ArgDeadLetterEnabled] = true
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// integral converts a JSON decoded number
func integral(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int:
		return int64(n), true
	case int64:
		return n, true
	default:
		return 0, false
	}
}

func retry(ctx context.Context, fn func() error) error {
	return backoff.Retry(fn, newBackoff(ctx))
}
