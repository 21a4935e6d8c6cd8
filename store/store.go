// Package store persists durable topology and messages and replays them into
// a virtual host at startup.
//
// This package includes:
//   - MemoryStore: an in-process store for tests and transient brokers
//   - PebbleStore: an embedded key-value store with msgpack records
//   - SQLStore: a relational store on sqlite3 or postgres
//   - Recover: the startup replay of exchanges, queues, bindings and messages
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cenkalti/backoff/v4"

	"github.com/CUXIDUMDUM/qpid/message"
	"github.com/CUXIDUMDUM/qpid/topology"
)

// Store types accepted by Open
const (
	TypeMemory   = "memory"
	TypePebble   = "pebble"
	TypeSQLite   = "sqlite3"
	TypePostgres = "postgres"
)

// ErrClosed is returned by operations on a closed store
var ErrClosed = errors.New("store: closed")

// Store is the complete persistence contract of the broker
type Store interface {
	topology.Store
	topology.BindingStore
	MessageStore
	Recoverable
	Close() error
}

// MessageStore persists message bodies under their identity
type MessageStore interface {
	StoreMessage(ctx context.Context, msg *message.Message) error
	RemoveMessage(ctx context.Context, id message.ID) error
}

// Recoverable exposes the persisted state for replay. Records are returned
// in key order.
type Recoverable interface {
	Exchanges(ctx context.Context) ([]ExchangeRecord, error)
	Queues(ctx context.Context) ([]QueueRecord, error)
	Bindings(ctx context.Context) ([]BindingRecord, error)
	Messages(ctx context.Context, fn func(MessageRecord) error) error
}

// Config selects and locates a store
type Config struct {
	Type string `yaml:"type"`
	Path string `yaml:"path"` // pebble directory or sqlite file
	DSN  string `yaml:"dsn"`  // postgres connection string

	Breaker BreakerConfig `yaml:"breaker"`
}

// DefaultConfig returns an in-memory store configuration
func DefaultConfig() Config {
	return Config{Type: TypeMemory}
}

// newBackoff generates the retry policy for opening a store. It is a
// variable so tests can shorten it.
var newBackoff = defaultBackoff

func defaultBackoff(ctx context.Context) backoff.BackOff {
	return backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
}

// openers are swapped in tests
var openers = map[string]func(cfg Config, logger *slog.Logger) (Store, error){
	TypeMemory: func(Config, *slog.Logger) (Store, error) { return NewMemoryStore(), nil },
	TypePebble: func(cfg Config, logger *slog.Logger) (Store, error) {
		return OpenPebbleStore(cfg.Path, WithPebbleLogger(logger))
	},
	TypeSQLite: func(cfg Config, logger *slog.Logger) (Store, error) {
		return OpenSQLStore(DialectSQLite, cfg.Path, WithSQLLogger(logger))
	},
	TypePostgres: func(cfg Config, logger *slog.Logger) (Store, error) {
		return OpenSQLStore(DialectPostgres, cfg.DSN, WithSQLLogger(logger))
	},
}

// Open opens the configured store, retrying transient failures with
// exponential backoff.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	open, ok := openers[cfg.Type]
	if !ok {
		return nil, fmt.Errorf("store: unknown type %q", cfg.Type)
	}

	var s Store
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		var err error
		s, err = open(cfg, logger)
		if err != nil {
			logger.Warn("failed to open store", "type", cfg.Type, "attempt", attempt, "error", err)
		}
		return err
	}, newBackoff(ctx))
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", cfg.Type, err)
	}

	logger.Info("store opened", "type", cfg.Type)
	if cfg.Breaker.FailureThreshold > 0 {
		return Guard(s, NewBreaker(cfg.Breaker, logger)), nil
	}
	return s, nil
}
