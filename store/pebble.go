package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cockroachdb/pebble"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/CUXIDUMDUM/qpid/message"
	"github.com/CUXIDUMDUM/qpid/topology"
)

// PebbleStore keeps msgpack encoded records in a pebble database
type PebbleStore struct {
	db     *pebble.DB
	logger *slog.Logger
	opts   *pebble.Options
	write  *pebble.WriteOptions

	mu     sync.RWMutex
	closed bool
}

// PebbleOption configures a PebbleStore
type PebbleOption func(*PebbleStore)

// WithPebbleLogger sets the logger
func WithPebbleLogger(logger *slog.Logger) PebbleOption {
	return func(s *PebbleStore) {
		s.logger = logger
	}
}

// WithPebbleOptions sets the options the database is opened with
func WithPebbleOptions(opts *pebble.Options) PebbleOption {
	return func(s *PebbleStore) {
		s.opts = opts
	}
}

// WithNoSync acknowledges writes before they reach disk
func WithNoSync() PebbleOption {
	return func(s *PebbleStore) {
		s.write = pebble.NoSync
	}
}

// OpenPebbleStore opens or creates the database in dir
func OpenPebbleStore(dir string, options ...PebbleOption) (*PebbleStore, error) {
	s := &PebbleStore{
		logger: slog.Default(),
		opts:   &pebble.Options{},
		write:  pebble.Sync,
	}
	for _, opt := range options {
		opt(s)
	}

	db, err := pebble.Open(dir, s.opts)
	if err != nil {
		return nil, fmt.Errorf("pebble: open %s: %w", dir, err)
	}
	s.db = db
	s.logger.Debug("pebble store opened", "dir", dir)
	return s, nil
}

type msgpMarshaler interface {
	MarshalMsg(b []byte) ([]byte, error)
}

func (s *PebbleStore) set(key []byte, rec msgpMarshaler) error {
	d, err := rec.MarshalMsg(nil)
	if err != nil {
		return fmt.Errorf("pebble: encode record: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return s.db.Set(key, d, s.write)
}

func (s *PebbleStore) CreateExchange(_ context.Context, e *topology.Exchange) error {
	rec := exchangeRecord(e)
	return s.set([]byte(exchangeKey(e.VirtualHost, e.Name)), &rec)
}

func (s *PebbleStore) CreateQueue(_ context.Context, q *topology.Queue, args amqp.Table) error {
	if err := validateTable(args); err != nil {
		return err
	}
	rec := queueRecord(q, args)
	return s.set([]byte(queueKey(q.VirtualHost, q.Name)), &rec)
}

func (s *PebbleStore) CreateBinding(_ context.Context, virtualHost string, b topology.Binding) error {
	if err := validateTable(b.Arguments); err != nil {
		return err
	}
	rec := bindingRecord(virtualHost, b)
	return s.set([]byte(bindingKey(virtualHost, b.Exchange, b.Queue, b.RoutingKey)), &rec)
}

func (s *PebbleStore) StoreMessage(_ context.Context, m *message.Message) error {
	rec := messageRecord(m)
	return s.set(messageKey(m.ID), &rec)
}

func (s *PebbleStore) RemoveMessage(_ context.Context, id message.ID) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return s.db.Delete(messageKey(id), s.write)
}

// scan calls fn with the value of every key under prefix, in key order
func (s *PebbleStore) scan(prefix byte, fn func(value []byte) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	lower, upper := prefixBounds(prefix)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: upper,
	})
	if err != nil {
		return err
	}
	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Value()); err != nil {
			iter.Close()
			return err
		}
	}
	if err := iter.Error(); err != nil {
		iter.Close()
		return err
	}
	return iter.Close()
}

func (s *PebbleStore) Exchanges(context.Context) ([]ExchangeRecord, error) {
	var out []ExchangeRecord
	err := s.scan(prefixExchange, func(value []byte) error {
		var rec ExchangeRecord
		if _, err := rec.UnmarshalMsg(value); err != nil {
			return fmt.Errorf("pebble: decode exchange: %w", err)
		}
		out = append(out, rec)
		return nil
	})
	return out, err
}

func (s *PebbleStore) Queues(context.Context) ([]QueueRecord, error) {
	var out []QueueRecord
	err := s.scan(prefixQueue, func(value []byte) error {
		var rec QueueRecord
		if _, err := rec.UnmarshalMsg(value); err != nil {
			return fmt.Errorf("pebble: decode queue: %w", err)
		}
		out = append(out, rec)
		return nil
	})
	return out, err
}

func (s *PebbleStore) Bindings(context.Context) ([]BindingRecord, error) {
	var out []BindingRecord
	err := s.scan(prefixBinding, func(value []byte) error {
		var rec BindingRecord
		if _, err := rec.UnmarshalMsg(value); err != nil {
			return fmt.Errorf("pebble: decode binding: %w", err)
		}
		out = append(out, rec)
		return nil
	})
	return out, err
}

// Messages calls fn for every message in increasing id order
func (s *PebbleStore) Messages(_ context.Context, fn func(MessageRecord) error) error {
	return s.scan(prefixMessage, func(value []byte) error {
		var rec MessageRecord
		if _, err := rec.UnmarshalMsg(value); err != nil {
			return fmt.Errorf("pebble: decode message: %w", err)
		}
		// the iterator reuses value
		rec.Body = append([]byte(nil), rec.Body...)
		return fn(rec)
	})
}

func (s *PebbleStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
