package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/CUXIDUMDUM/qpid/message"
	"github.com/CUXIDUMDUM/qpid/topology"
)

// Dialects accepted by OpenSQLStore. They double as driver names.
const (
	DialectSQLite   = "sqlite3"
	DialectPostgres = "postgres"
)

type dialect struct {
	blob string
	// placeholder returns the bind parameter for the n-th argument, from 1
	placeholder func(n int) string
}

var dialects = map[string]dialect{
	DialectSQLite: {
		blob:        "BLOB",
		placeholder: func(int) string { return "?" },
	},
	DialectPostgres: {
		blob:        "BYTEA",
		placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
	},
}

// SQLStore keeps records in relational tables. Argument tables are stored as
// msgpack blobs.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	logger  *slog.Logger
}

// SQLOption configures a SQLStore
type SQLOption func(*SQLStore)

// WithSQLLogger sets the logger
func WithSQLLogger(logger *slog.Logger) SQLOption {
	return func(s *SQLStore) {
		s.logger = logger
	}
}

// OpenSQLStore connects to dsn and creates the tables when missing
func OpenSQLStore(driver, dsn string, options ...SQLOption) (*SQLStore, error) {
	d, ok := dialects[driver]
	if !ok {
		return nil, fmt.Errorf("sql: unsupported dialect %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("sql: open: %w", err)
	}
	if driver == DialectSQLite {
		// a :memory: database exists per connection
		db.SetMaxOpenConns(1)
	}

	s := &SQLStore{db: db, dialect: d, logger: slog.Default()}
	for _, opt := range options {
		opt(s)
	}

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sql: ping: %w", err)
	}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	s.logger.Debug("sql store opened", "driver", driver)
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS exchanges (
			vhost TEXT NOT NULL,
			name TEXT NOT NULL,
			type TEXT NOT NULL,
			durable BOOLEAN NOT NULL,
			auto_delete BOOLEAN NOT NULL,
			PRIMARY KEY (vhost, name))`,
		`CREATE TABLE IF NOT EXISTS queues (
			vhost TEXT NOT NULL,
			name TEXT NOT NULL,
			owner TEXT NOT NULL,
			durable BOOLEAN NOT NULL,
			auto_delete BOOLEAN NOT NULL,
			arguments ` + s.dialect.blob + `,
			PRIMARY KEY (vhost, name))`,
		`CREATE TABLE IF NOT EXISTS bindings (
			vhost TEXT NOT NULL,
			exchange TEXT NOT NULL,
			queue TEXT NOT NULL,
			routing_key TEXT NOT NULL,
			arguments ` + s.dialect.blob + `,
			PRIMARY KEY (vhost, exchange, queue, routing_key))`,
		`CREATE TABLE IF NOT EXISTS messages (
			id BIGINT PRIMARY KEY,
			content_type TEXT NOT NULL,
			body ` + s.dialect.blob + `)`,
	}
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sql: migrate: %w", err)
		}
	}
	return nil
}

// upsert builds an insert that replaces the non-key columns on conflict
func (s *SQLStore) upsert(table string, keys, columns []string) string {
	all := append(append([]string(nil), keys...), columns...)
	params := make([]string, len(all))
	for i := range all {
		params[i] = s.dialect.placeholder(i + 1)
	}
	updates := make([]string, len(columns))
	for i, c := range columns {
		updates[i] = c + " = excluded." + c
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
		table,
		strings.Join(all, ", "),
		strings.Join(params, ", "),
		strings.Join(keys, ", "),
		strings.Join(updates, ", "),
	)
}

func (s *SQLStore) CreateExchange(ctx context.Context, e *topology.Exchange) error {
	q := s.upsert("exchanges", []string{"vhost", "name"}, []string{"type", "durable", "auto_delete"})
	if _, err := s.db.ExecContext(ctx, q, e.VirtualHost, e.Name, e.Type, e.Durable, e.AutoDelete); err != nil {
		return fmt.Errorf("sql: create exchange %s: %w", e.Name, err)
	}
	return nil
}

func (s *SQLStore) CreateQueue(ctx context.Context, q *topology.Queue, args amqp.Table) error {
	if err := validateTable(args); err != nil {
		return err
	}
	blob, err := appendTable(nil, args)
	if err != nil {
		return fmt.Errorf("sql: encode arguments: %w", err)
	}

	stmt := s.upsert("queues", []string{"vhost", "name"}, []string{"owner", "durable", "auto_delete", "arguments"})
	if _, err := s.db.ExecContext(ctx, stmt, q.VirtualHost, q.Name, q.Owner, q.Durable, q.AutoDelete, blob); err != nil {
		return fmt.Errorf("sql: create queue %s: %w", q.Name, err)
	}
	return nil
}

func (s *SQLStore) CreateBinding(ctx context.Context, virtualHost string, b topology.Binding) error {
	if err := validateTable(b.Arguments); err != nil {
		return err
	}
	blob, err := appendTable(nil, b.Arguments)
	if err != nil {
		return fmt.Errorf("sql: encode arguments: %w", err)
	}

	stmt := s.upsert("bindings", []string{"vhost", "exchange", "queue", "routing_key"}, []string{"arguments"})
	if _, err := s.db.ExecContext(ctx, stmt, virtualHost, b.Exchange, b.Queue, b.RoutingKey, blob); err != nil {
		return fmt.Errorf("sql: create binding %s->%s: %w", b.Exchange, b.Queue, err)
	}
	return nil
}

func (s *SQLStore) StoreMessage(ctx context.Context, m *message.Message) error {
	stmt := s.upsert("messages", []string{"id"}, []string{"content_type", "body"})
	if _, err := s.db.ExecContext(ctx, stmt, int64(m.ID), m.ContentType, m.Body); err != nil {
		return fmt.Errorf("sql: store message %d: %w", m.ID, err)
	}
	return nil
}

func (s *SQLStore) RemoveMessage(ctx context.Context, id message.ID) error {
	stmt := "DELETE FROM messages WHERE id = " + s.dialect.placeholder(1)
	if _, err := s.db.ExecContext(ctx, stmt, int64(id)); err != nil {
		return fmt.Errorf("sql: remove message %d: %w", id, err)
	}
	return nil
}

func (s *SQLStore) Exchanges(ctx context.Context) ([]ExchangeRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT vhost, name, type, durable, auto_delete FROM exchanges ORDER BY vhost, name")
	if err != nil {
		return nil, fmt.Errorf("sql: list exchanges: %w", err)
	}
	defer rows.Close()

	var out []ExchangeRecord
	for rows.Next() {
		var rec ExchangeRecord
		if err := rows.Scan(&rec.VirtualHost, &rec.Name, &rec.Type, &rec.Durable, &rec.AutoDelete); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLStore) Queues(ctx context.Context) ([]QueueRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT vhost, name, owner, durable, auto_delete, arguments FROM queues ORDER BY vhost, name")
	if err != nil {
		return nil, fmt.Errorf("sql: list queues: %w", err)
	}
	defer rows.Close()

	var out []QueueRecord
	for rows.Next() {
		var (
			rec  QueueRecord
			blob []byte
		)
		if err := rows.Scan(&rec.VirtualHost, &rec.Name, &rec.Owner, &rec.Durable, &rec.AutoDelete, &blob); err != nil {
			return nil, err
		}
		if rec.Arguments, err = decodeTable(blob); err != nil {
			return nil, fmt.Errorf("sql: decode queue %s: %w", rec.Name, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLStore) Bindings(ctx context.Context) ([]BindingRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT vhost, exchange, queue, routing_key, arguments FROM bindings ORDER BY vhost, exchange, queue, routing_key")
	if err != nil {
		return nil, fmt.Errorf("sql: list bindings: %w", err)
	}
	defer rows.Close()

	var out []BindingRecord
	for rows.Next() {
		var (
			rec  BindingRecord
			blob []byte
		)
		if err := rows.Scan(&rec.VirtualHost, &rec.Exchange, &rec.Queue, &rec.RoutingKey, &blob); err != nil {
			return nil, err
		}
		if rec.Arguments, err = decodeTable(blob); err != nil {
			return nil, fmt.Errorf("sql: decode binding %s->%s: %w", rec.Exchange, rec.Queue, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Messages calls fn for every message in increasing id order
func (s *SQLStore) Messages(ctx context.Context, fn func(MessageRecord) error) error {
	rows, err := s.db.QueryContext(ctx, "SELECT id, content_type, body FROM messages ORDER BY id")
	if err != nil {
		return fmt.Errorf("sql: list messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rec MessageRecord
		if err := rows.Scan(&rec.ID, &rec.ContentType, &rec.Body); err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func decodeTable(blob []byte) (amqp.Table, error) {
	if len(blob) == 0 {
		return nil, nil
	}
	t, _, err := readTable(blob)
	return t, err
}
