package store

import (
	"context"
	"sort"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/CUXIDUMDUM/qpid/message"
	"github.com/CUXIDUMDUM/qpid/topology"
)

// MemoryStore keeps records in maps. Records are copied on the way in so
// later changes to topology objects are not reflected.
type MemoryStore struct {
	mu        sync.RWMutex
	closed    bool
	exchanges map[string]ExchangeRecord
	queues    map[string]QueueRecord
	bindings  map[string]BindingRecord
	messages  map[message.ID]MessageRecord
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		exchanges: make(map[string]ExchangeRecord),
		queues:    make(map[string]QueueRecord),
		bindings:  make(map[string]BindingRecord),
		messages:  make(map[message.ID]MessageRecord),
	}
}

func (s *MemoryStore) CreateExchange(_ context.Context, e *topology.Exchange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.exchanges[exchangeKey(e.VirtualHost, e.Name)] = exchangeRecord(e)
	return nil
}

func (s *MemoryStore) CreateQueue(_ context.Context, q *topology.Queue, args amqp.Table) error {
	if err := validateTable(args); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.queues[queueKey(q.VirtualHost, q.Name)] = queueRecord(q, copyTable(args))
	return nil
}

func (s *MemoryStore) CreateBinding(_ context.Context, virtualHost string, b topology.Binding) error {
	if err := validateTable(b.Arguments); err != nil {
		return err
	}
	rec := bindingRecord(virtualHost, b)
	rec.Arguments = copyTable(b.Arguments)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.bindings[bindingKey(rec.VirtualHost, rec.Exchange, rec.Queue, rec.RoutingKey)] = rec
	return nil
}

func (s *MemoryStore) StoreMessage(_ context.Context, m *message.Message) error {
	rec := messageRecord(m)
	rec.Body = append([]byte(nil), m.Body...)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.messages[m.ID] = rec
	return nil
}

func (s *MemoryStore) RemoveMessage(_ context.Context, id message.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	delete(s.messages, id)
	return nil
}

func (s *MemoryStore) Exchanges(context.Context) ([]ExchangeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	out := make([]ExchangeRecord, 0, len(s.exchanges))
	for _, k := range sortedKeys(s.exchanges) {
		out = append(out, s.exchanges[k])
	}
	return out, nil
}

func (s *MemoryStore) Queues(context.Context) ([]QueueRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	out := make([]QueueRecord, 0, len(s.queues))
	for _, k := range sortedKeys(s.queues) {
		out = append(out, s.queues[k])
	}
	return out, nil
}

func (s *MemoryStore) Bindings(context.Context) ([]BindingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	out := make([]BindingRecord, 0, len(s.bindings))
	for _, k := range sortedKeys(s.bindings) {
		out = append(out, s.bindings[k])
	}
	return out, nil
}

// Messages calls fn for every message in increasing id order
func (s *MemoryStore) Messages(_ context.Context, fn func(MessageRecord) error) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrClosed
	}
	records := make([]MessageRecord, 0, len(s.messages))
	for _, rec := range s.messages {
		records = append(records, rec)
	}
	s.mu.RUnlock()

	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	for _, rec := range records {
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func copyTable(t amqp.Table) amqp.Table {
	if t == nil {
		return nil
	}
	out := make(amqp.Table, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}
