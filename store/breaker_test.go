package store

import (
	"context"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/CUXIDUMDUM/qpid/amqperror"
	"github.com/CUXIDUMDUM/qpid/message"
	"github.com/CUXIDUMDUM/qpid/topology"
)

type flakyStore struct {
	*MemoryStore
	mock.Mock
}

func (s *flakyStore) CreateQueue(ctx context.Context, q *topology.Queue, args amqp.Table) error {
	if err := s.Called(q.Name).Error(0); err != nil {
		return err
	}
	return s.MemoryStore.CreateQueue(ctx, q, args)
}

func newTestBreaker(cfg BreakerConfig) (*Breaker, *time.Time) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	b := NewBreaker(cfg, nil)
	b.now = func() time.Time { return now }
	return b, &now
}

func TestBreaker(t *testing.T) {
	failing := func() error { return assert.AnError }
	ok := func() error { return nil }

	t.Run("opens after consecutive failures", func(t *testing.T) {
		b, _ := newTestBreaker(BreakerConfig{FailureThreshold: 2})
		assert.ErrorIs(t, b.Execute("op", failing), assert.AnError)
		assert.Equal(t, BreakerClosed, b.State())
		assert.ErrorIs(t, b.Execute("op", failing), assert.AnError)
		assert.Equal(t, BreakerOpen, b.State())

		called := false
		err := b.Execute("op", func() error { called = true; return nil })
		assert.ErrorIs(t, err, ErrUnavailable)
		assert.False(t, called)
	})

	t.Run("a success resets the failure count", func(t *testing.T) {
		b, _ := newTestBreaker(BreakerConfig{FailureThreshold: 2})
		_ = b.Execute("op", failing)
		require.NoError(t, b.Execute("op", ok))
		_ = b.Execute("op", failing)
		assert.Equal(t, BreakerClosed, b.State())
	})

	t.Run("trial calls close it again after the timeout", func(t *testing.T) {
		b, now := newTestBreaker(BreakerConfig{FailureThreshold: 1, SuccessThreshold: 2, OpenTimeout: time.Minute})
		_ = b.Execute("op", failing)
		require.Equal(t, BreakerOpen, b.State())

		*now = now.Add(time.Minute)
		require.NoError(t, b.Execute("op", ok))
		assert.Equal(t, BreakerHalfOpen, b.State())
		require.NoError(t, b.Execute("op", ok))
		assert.Equal(t, BreakerClosed, b.State())
	})

	t.Run("a failed trial call reopens it", func(t *testing.T) {
		b, now := newTestBreaker(BreakerConfig{FailureThreshold: 1, OpenTimeout: time.Second})
		_ = b.Execute("op", failing)
		*now = now.Add(time.Second)
		_ = b.Execute("op", failing)
		assert.Equal(t, BreakerOpen, b.State())
		assert.ErrorIs(t, b.Execute("op", ok), ErrUnavailable)
	})

	t.Run("defaults fill unset fields", func(t *testing.T) {
		b := NewBreaker(BreakerConfig{}, nil)
		assert.Equal(t, 5, b.failureThreshold)
		assert.Equal(t, 1, b.successThreshold)
		assert.Equal(t, 30*time.Second, b.openTimeout)
	})
}

func TestGuardedStore(t *testing.T) {
	ctx := context.Background()

	t.Run("declares fail fast while the store is down", func(t *testing.T) {
		flaky := &flakyStore{MemoryStore: NewMemoryStore()}
		flaky.On("CreateQueue", mock.Anything).Return(errors.New("disk full"))
		b, _ := newTestBreaker(BreakerConfig{FailureThreshold: 2})
		vh := topology.NewVirtualHost("/", topology.WithStore(Guard(flaky, b)))

		for _, name := range []string{"a", "b", "c"} {
			_, _, err := vh.DeclareQueue(ctx, topology.QueueDeclaration{Name: name, Durable: true})
			assert.ErrorIs(t, err, amqperror.ErrStorageFailure)
		}
		_, _, err := vh.DeclareQueue(ctx, topology.QueueDeclaration{Name: "d", Durable: true})
		assert.ErrorIs(t, err, ErrUnavailable)
		flaky.AssertNumberOfCalls(t, "CreateQueue", 2)
	})

	t.Run("reads and messages pass through", func(t *testing.T) {
		g := Guard(NewMemoryStore(), NewBreaker(BreakerConfig{FailureThreshold: 1}, nil))
		require.NoError(t, g.StoreMessage(ctx, &message.Message{ID: 7, Body: []byte("x")}))

		var ids []int64
		require.NoError(t, g.Messages(ctx, func(r MessageRecord) error {
			ids = append(ids, r.ID)
			return nil
		}))
		assert.Equal(t, []int64{7}, ids)
		require.NoError(t, g.RemoveMessage(ctx, 7))
		assert.Equal(t, BreakerClosed, g.Breaker().State())
	})

	t.Run("recovery with dead-letter topology succeeds while the breaker is open", func(t *testing.T) {
		deadLetters := topology.WithQueueConfig(topology.StaticQueueConfig{DeadLetterQueues: true})
		mem := NewMemoryStore()
		before := topology.NewVirtualHost("/", topology.WithStore(mem), deadLetters)
		_, _, err := before.DeclareQueue(ctx, topology.QueueDeclaration{Name: "orders", Durable: true})
		require.NoError(t, err)

		b, _ := newTestBreaker(BreakerConfig{FailureThreshold: 1, OpenTimeout: time.Hour})
		_ = b.Execute("op", func() error { return assert.AnError })
		require.Equal(t, BreakerOpen, b.State())
		g := Guard(mem, b)

		after := topology.NewVirtualHost("/", topology.WithStore(g), deadLetters)
		got, err := Recover(ctx, g, lookup(after), message.NewFactory(message.NewAllocator()), nil)
		require.NoError(t, err)
		assert.Equal(t, 2, got.Queues)

		q, ok := after.GetQueue("orders")
		require.True(t, ok)
		require.NotNil(t, q.AlternateExchange())
		assert.True(t, q.AlternateExchange().IsBound(topology.DeadLetterRoutingKey, "orders_DLQ"))
	})

	t.Run("Open guards the store when a threshold is configured", func(t *testing.T) {
		s, err := Open(ctx, Config{Type: TypeMemory, Breaker: BreakerConfig{FailureThreshold: 3}}, nil)
		require.NoError(t, err)
		defer s.Close()
		assert.IsType(t, &GuardedStore{}, s)
	})
}
