package rabbitimport

import (
	"context"
	"errors"
	"testing"

	"github.com/cenkalti/backoff/v4"
	rh "github.com/michaelklishin/rabbit-hole/v2"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/CUXIDUMDUM/qpid/amqperror"
	"github.com/CUXIDUMDUM/qpid/topology"
)

type mockAPI struct {
	mock.Mock
}

func (m *mockAPI) ListExchangesIn(vhost string) ([]rh.ExchangeInfo, error) {
	args := m.Called(vhost)
	exchanges, _ := args.Get(0).([]rh.ExchangeInfo)
	return exchanges, args.Error(1)
}

func (m *mockAPI) ListQueuesIn(vhost string) ([]rh.QueueInfo, error) {
	args := m.Called(vhost)
	queues, _ := args.Get(0).([]rh.QueueInfo)
	return queues, args.Error(1)
}

func (m *mockAPI) ListBindingsIn(vhost string) ([]rh.BindingInfo, error) {
	args := m.Called(vhost)
	bindings, _ := args.Get(0).([]rh.BindingInfo)
	return bindings, args.Error(1)
}

func fastBackoff(t *testing.T) {
	restore := newBackoff
	newBackoff = func(ctx context.Context) backoff.BackOff {
		return backoff.WithContext(backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 2), ctx)
	}
	t.Cleanup(func() { newBackoff = restore })
}

func TestImport(t *testing.T) {
	fastBackoff(t)
	ctx := context.Background()

	t.Run("declares exchanges, queues and bindings", func(t *testing.T) {
		api := &mockAPI{}
		api.On("ListExchangesIn", "/").Return([]rh.ExchangeInfo{
			{Name: "", Type: "direct", Durable: true},
			{Name: "amq.topic", Type: "topic", Durable: true},
			{Name: "orders", Type: "topic", Durable: true},
			{Name: "delayed", Type: "x-delayed-message", Durable: true},
		}, nil)
		api.On("ListQueuesIn", "/").Return([]rh.QueueInfo{
			{Name: "invoices", Durable: true, Arguments: map[string]interface{}{"x-max-priority": float64(5)}},
			{Name: "amq.gen-1", Exclusive: true},
		}, nil)
		api.On("ListBindingsIn", "/").Return([]rh.BindingInfo{
			{Source: "", Destination: "invoices", DestinationType: "queue", RoutingKey: "invoices"},
			{Source: "orders", Destination: "invoices", DestinationType: "queue", RoutingKey: "invoice.*"},
			{Source: "orders", Destination: "amq.gen-1", DestinationType: "queue", RoutingKey: "#"},
			{Source: "orders", Destination: "audit", DestinationType: "exchange", RoutingKey: "#"},
		}, nil)

		vh := topology.NewVirtualHost("test")
		report, err := New(api).Import(ctx, "/", vh)
		require.NoError(t, err)

		assert.Equal(t, 1, report.Exchanges)
		assert.Equal(t, 1, report.Queues)
		assert.Equal(t, 1, report.Bindings)
		assert.Equal(t, []string{"exchange delayed", "queue amq.gen-1", "binding orders->audit"}, report.Skipped)

		orders, ok := vh.GetExchange("orders")
		require.True(t, ok)
		assert.True(t, orders.IsBound("invoice.*", "invoices"))

		invoices, ok := vh.GetQueue("invoices")
		require.True(t, ok)
		assert.Equal(t, topology.Variant{Kind: topology.VariantPriority, Priorities: 5}, invoices.Variant)
		api.AssertExpectations(t)
	})

	t.Run("declare failures are joined", func(t *testing.T) {
		api := &mockAPI{}
		api.On("ListExchangesIn", "/").Return([]rh.ExchangeInfo{{Name: "orders", Type: "fanout"}}, nil)
		api.On("ListQueuesIn", "/").Return([]rh.QueueInfo{{Name: "q"}}, nil)
		api.On("ListBindingsIn", "/").Return([]rh.BindingInfo{
			{Source: "missing", Destination: "q", DestinationType: "queue"},
		}, nil)

		vh := topology.NewVirtualHost("test")
		_, err := vh.DeclareExchange(ctx, topology.ExchangeDeclaration{Name: "orders", Type: topology.ExchangeTopic})
		require.NoError(t, err)

		report, err := New(api).Import(ctx, "/", vh)
		assert.ErrorIs(t, err, amqperror.ErrTypeConflict)
		assert.ErrorIs(t, err, amqperror.ErrNotFound)
		assert.Equal(t, 1, report.Queues)
	})

	t.Run("transient management errors are retried", func(t *testing.T) {
		api := &mockAPI{}
		api.On("ListExchangesIn", "/").Return(nil, errors.New("503")).Once()
		api.On("ListExchangesIn", "/").Return([]rh.ExchangeInfo{}, nil).Once()
		api.On("ListQueuesIn", "/").Return([]rh.QueueInfo{}, nil)
		api.On("ListBindingsIn", "/").Return([]rh.BindingInfo{}, nil)

		_, err := New(api).Import(ctx, "/", topology.NewVirtualHost("test"))
		require.NoError(t, err)
		api.AssertNumberOfCalls(t, "ListExchangesIn", 2)
	})

	t.Run("persistent management errors abort", func(t *testing.T) {
		api := &mockAPI{}
		api.On("ListExchangesIn", "/").Return([]rh.ExchangeInfo{}, nil)
		api.On("ListQueuesIn", "/").Return(nil, errors.New("401 unauthorized"))

		_, err := New(api).Import(ctx, "/", topology.NewVirtualHost("test"))
		assert.EqualError(t, err, "rabbitimport: list queues: 401 unauthorized")
		api.AssertNumberOfCalls(t, "ListQueuesIn", 3)
	})
}

func TestQueueArguments(t *testing.T) {
	tt := []struct {
		Name     string
		Args     map[string]interface{}
		Expected amqp.Table
	}{
		{
			Name:     "no arguments",
			Args:     nil,
			Expected: nil,
		},
		{
			Name: "limits are translated",
			Args: map[string]interface{}{
				"x-max-length":       float64(100),
				"x-max-length-bytes": float64(2048),
				"x-message-ttl":      float64(60000),
			},
			Expected: amqp.Table{
				topology.ArgMaximumMessageCount: int64(100),
				topology.ArgMaximumMessageSize:  int64(2048),
				topology.ArgMaximumMessageAge:   int64(60),
			},
		},
		{
			Name:     "a dead-letter exchange enables dead-letter queues",
			Args:     map[string]interface{}{"x-dead-letter-exchange": "dlx"},
			Expected: amqp.Table{topology.ArgDeadLetterEnabled: true},
		},
		{
			Name:     "sub-second ttls and unknown arguments are dropped",
			Args:     map[string]interface{}{"x-message-ttl": float64(500), "x-queue-mode": "lazy"},
			Expected: nil,
		},
		{
			Name:     "non-numeric priorities are dropped",
			Args:     map[string]interface{}{"x-max-priority": "high"},
			Expected: nil,
		},
	}

	for _, tc := range tt {
		t.Run(tc.Name, func(t *testing.T) {
			assert.Equal(t, tc.Expected, QueueArguments(tc.Args))
		})
	}
}
