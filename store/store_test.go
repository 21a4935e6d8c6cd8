package store

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CUXIDUMDUM/qpid/message"
	"github.com/CUXIDUMDUM/qpid/topology"
)

// stores returns a fresh instance of every store implementation
func stores(t *testing.T) map[string]Store {
	t.Helper()

	p, err := OpenPebbleStore("db", WithPebbleOptions(&pebble.Options{FS: vfs.NewMem()}))
	require.NoError(t, err)
	s, err := OpenSQLStore(DialectSQLite, ":memory:")
	require.NoError(t, err)

	out := map[string]Store{
		TypeMemory: NewMemoryStore(),
		TypePebble: p,
		TypeSQLite: s,
	}
	t.Cleanup(func() {
		for _, st := range out {
			st.Close()
		}
	})
	return out
}

func TestStoreContract(t *testing.T) {
	ctx := context.Background()

	for name, s := range stores(t) {
		s := s
		t.Run(name, func(t *testing.T) {
			vh := topology.NewVirtualHost("test", topology.WithStore(s))

			_, err := vh.DeclareExchange(ctx, topology.ExchangeDeclaration{Name: "orders", Type: topology.ExchangeTopic, Durable: true})
			require.NoError(t, err)
			_, err = vh.DeclareExchange(ctx, topology.ExchangeDeclaration{Name: "scratch", Type: topology.ExchangeFanout})
			require.NoError(t, err)

			_, _, err = vh.DeclareQueue(ctx, topology.QueueDeclaration{
				Name:      "invoices",
				Durable:   true,
				Owner:     "client-1",
				Arguments: amqp.Table{topology.ArgPriorities: int64(5)},
			})
			require.NoError(t, err)
			_, _, err = vh.DeclareQueue(ctx, topology.QueueDeclaration{Name: "transient"})
			require.NoError(t, err)

			binding := topology.Binding{Exchange: "orders", Queue: "invoices", RoutingKey: "invoice.#"}
			require.NoError(t, vh.BindQueue(ctx, binding))

			exchanges, err := s.Exchanges(ctx)
			require.NoError(t, err)
			assert.Equal(t, []ExchangeRecord{
				{VirtualHost: "test", Name: "orders", Type: topology.ExchangeTopic, Durable: true},
			}, exchanges)

			queues, err := s.Queues(ctx)
			require.NoError(t, err)
			require.Len(t, queues, 1)
			assert.Equal(t, "invoices", queues[0].Name)
			assert.Equal(t, "client-1", queues[0].Owner)
			assert.Equal(t, amqp.Table{topology.ArgPriorities: int64(5)}, queues[0].Arguments)

			bindings, err := s.Bindings(ctx)
			require.NoError(t, err)
			assert.Equal(t, []BindingRecord{
				{VirtualHost: "test", Exchange: "orders", Queue: "invoices", RoutingKey: "invoice.#"},
			}, bindings)
		})
	}
}

func TestStoreUpsert(t *testing.T) {
	ctx := context.Background()

	for name, s := range stores(t) {
		s := s
		t.Run(name, func(t *testing.T) {
			first := topology.NewVirtualHost("test", topology.WithStore(s))
			_, _, err := first.DeclareQueue(ctx, topology.QueueDeclaration{Name: "invoices", Durable: true, Owner: "a"})
			require.NoError(t, err)

			second := topology.NewVirtualHost("test", topology.WithStore(s))
			_, _, err = second.DeclareQueue(ctx, topology.QueueDeclaration{Name: "invoices", Durable: true, Owner: "b"})
			require.NoError(t, err)

			queues, err := s.Queues(ctx)
			require.NoError(t, err)
			require.Len(t, queues, 1)
			assert.Equal(t, "b", queues[0].Owner)
		})
	}
}

func TestStoreMessages(t *testing.T) {
	ctx := context.Background()

	for name, s := range stores(t) {
		s := s
		t.Run(name, func(t *testing.T) {
			for _, id := range []message.ID{300, 2, 17} {
				require.NoError(t, s.StoreMessage(ctx, &message.Message{ID: id, ContentType: "text/plain", Body: []byte("body")}))
			}
			require.NoError(t, s.RemoveMessage(ctx, 17))
			require.NoError(t, s.RemoveMessage(ctx, 9999))

			var ids []int64
			err := s.Messages(ctx, func(rec MessageRecord) error {
				ids = append(ids, rec.ID)
				assert.Equal(t, "text/plain", rec.ContentType)
				assert.Equal(t, []byte("body"), rec.Body)
				return nil
			})
			require.NoError(t, err)
			assert.Equal(t, []int64{2, 300}, ids)
		})
	}

	t.Run("callback errors stop the scan", func(t *testing.T) {
		s := NewMemoryStore()
		require.NoError(t, s.StoreMessage(ctx, &message.Message{ID: 1}))
		require.NoError(t, s.StoreMessage(ctx, &message.Message{ID: 2}))

		boom := errors.New("boom")
		calls := 0
		err := s.Messages(ctx, func(MessageRecord) error {
			calls++
			return boom
		})
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 1, calls)
	})

	t.Run("stored bodies are copied", func(t *testing.T) {
		s := NewMemoryStore()
		body := []byte("abc")
		require.NoError(t, s.StoreMessage(ctx, &message.Message{ID: 1, Body: body}))
		body[0] = 'x'

		require.NoError(t, s.Messages(ctx, func(rec MessageRecord) error {
			assert.Equal(t, []byte("abc"), rec.Body)
			return nil
		}))
	})
}

func TestStoreClosed(t *testing.T) {
	ctx := context.Background()

	p, err := OpenPebbleStore("db", WithPebbleOptions(&pebble.Options{FS: vfs.NewMem()}))
	require.NoError(t, err)

	for name, s := range map[string]Store{TypeMemory: NewMemoryStore(), TypePebble: p} {
		s := s
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Close())
			require.NoError(t, s.Close())

			assert.ErrorIs(t, s.StoreMessage(ctx, &message.Message{ID: 1}), ErrClosed)
			assert.ErrorIs(t, s.RemoveMessage(ctx, 1), ErrClosed)
			_, err := s.Exchanges(ctx)
			assert.ErrorIs(t, err, ErrClosed)
			assert.ErrorIs(t, s.Messages(ctx, func(MessageRecord) error { return nil }), ErrClosed)
		})
	}
}

func TestStoreRejectsInvalidArguments(t *testing.T) {
	ctx := context.Background()

	for name, s := range stores(t) {
		s := s
		t.Run(name, func(t *testing.T) {
			vh := topology.NewVirtualHost("test", topology.WithStore(s))
			_, _, err := vh.DeclareQueue(ctx, topology.QueueDeclaration{
				Name:      "bad",
				Durable:   true,
				Arguments: amqp.Table{"x-callback": func() {}},
			})
			assert.Error(t, err)

			queues, err := s.Queues(ctx)
			require.NoError(t, err)
			assert.Empty(t, queues)
		})
	}
}

func TestPebbleStoreReopen(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "qpid")

	s, err := OpenPebbleStore(dir, WithNoSync())
	require.NoError(t, err)
	vh := topology.NewVirtualHost("test", topology.WithStore(s))
	_, err = vh.DeclareExchange(ctx, topology.ExchangeDeclaration{Name: "orders", Type: topology.ExchangeDirect, Durable: true})
	require.NoError(t, err)
	require.NoError(t, s.StoreMessage(ctx, &message.Message{ID: 42, Body: []byte("kept")}))
	require.NoError(t, s.Close())

	s, err = OpenPebbleStore(dir)
	require.NoError(t, err)
	defer s.Close()

	exchanges, err := s.Exchanges(ctx)
	require.NoError(t, err)
	require.Len(t, exchanges, 1)
	assert.Equal(t, "orders", exchanges[0].Name)

	var bodies []string
	require.NoError(t, s.Messages(ctx, func(rec MessageRecord) error {
		bodies = append(bodies, string(rec.Body))
		return nil
	}))
	assert.Equal(t, []string{"kept"}, bodies)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	restore := newBackoff
	newBackoff = func(ctx context.Context) backoff.BackOff {
		return backoff.WithContext(backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 3), ctx)
	}
	t.Cleanup(func() { newBackoff = restore })

	t.Run("memory", func(t *testing.T) {
		s, err := Open(ctx, DefaultConfig(), nil)
		require.NoError(t, err)
		assert.IsType(t, &MemoryStore{}, s)
	})

	t.Run("sqlite", func(t *testing.T) {
		s, err := Open(ctx, Config{Type: TypeSQLite, Path: filepath.Join(t.TempDir(), "qpid.db")}, nil)
		require.NoError(t, err)
		defer s.Close()
		assert.IsType(t, &SQLStore{}, s)
	})

	t.Run("unknown type", func(t *testing.T) {
		_, err := Open(ctx, Config{Type: "redis"}, nil)
		assert.EqualError(t, err, `store: unknown type "redis"`)
	})

	t.Run("transient failures are retried", func(t *testing.T) {
		attempts := 0
		openers["flaky"] = func(Config, *slog.Logger) (Store, error) {
			attempts++
			if attempts < 3 {
				return nil, errors.New("connection refused")
			}
			return NewMemoryStore(), nil
		}
		defer delete(openers, "flaky")

		s, err := Open(ctx, Config{Type: "flaky"}, nil)
		require.NoError(t, err)
		assert.NotNil(t, s)
		assert.Equal(t, 3, attempts)
	})

	t.Run("gives up after the retry budget", func(t *testing.T) {
		attempts := 0
		openers["down"] = func(Config, *slog.Logger) (Store, error) {
			attempts++
			return nil, errors.New("connection refused")
		}
		defer delete(openers, "down")

		_, err := Open(ctx, Config{Type: "down"}, nil)
		assert.ErrorContains(t, err, "connection refused")
		assert.Equal(t, 4, attempts)
	})
}
