package topology

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/CUXIDUMDUM/qpid/amqperror"
)

// VirtualHost owns the exchange and queue namespaces of one virtual host.
//
// queueMu is always acquired before exchangeMu. Exchange binding locks are
// taken last and never held while acquiring either namespace.
type VirtualHost struct {
	name        string
	store       Store
	logger      *slog.Logger
	metrics     MetricsCollector
	deadLetter  DeadLetterPolicy
	queueConfig QueueConfigProvider

	exchangeMu      sync.Mutex
	exchanges       map[string]*Exchange
	defaultExchange *Exchange

	queueMu sync.Mutex
	queues  map[string]*Queue
}

// VirtualHostOption configures a VirtualHost
type VirtualHostOption func(*VirtualHost)

// WithStore sets the store durable topology is persisted to
func WithStore(store Store) VirtualHostOption {
	return func(vh *VirtualHost) {
		vh.store = store
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) VirtualHostOption {
	return func(vh *VirtualHost) {
		vh.logger = logger
	}
}

// WithMetrics sets the metrics collector
func WithMetrics(collector MetricsCollector) VirtualHostOption {
	return func(vh *VirtualHost) {
		vh.metrics = collector
	}
}

// WithDeadLetterPolicy sets the dead-letter naming suffixes
func WithDeadLetterPolicy(policy DeadLetterPolicy) VirtualHostOption {
	return func(vh *VirtualHost) {
		vh.deadLetter = policy
	}
}

// WithQueueConfig sets the per-queue configuration source
func WithQueueConfig(provider QueueConfigProvider) VirtualHostOption {
	return func(vh *VirtualHost) {
		vh.queueConfig = provider
	}
}

// NewVirtualHost creates a virtual host holding only the default exchanges
func NewVirtualHost(name string, options ...VirtualHostOption) *VirtualHost {
	vh := &VirtualHost{
		name:        name,
		store:       discardStore{},
		logger:      slog.Default(),
		metrics:     noopMetrics{},
		deadLetter:  DefaultDeadLetterPolicy(),
		queueConfig: StaticQueueConfig{},
		exchanges:   make(map[string]*Exchange),
		queues:      make(map[string]*Queue),
	}

	for _, opt := range options {
		opt(vh)
	}
	vh.logger = vh.logger.With("virtualHost", name)

	for _, d := range defaultExchanges {
		vh.exchanges[d.name] = newExchange(name, d.name, d.typ, true, false)
	}
	vh.defaultExchange = vh.exchanges[""]

	return vh
}

// Name returns the virtual host name
func (vh *VirtualHost) Name() string {
	return vh.name
}

// DeclareExchange looks up or creates an exchange. A passive declare with no
// type fails with NotFound when the exchange is absent. Redeclaring an
// existing exchange with another type, a passive empty type included, fails
// with TypeConflict.
func (vh *VirtualHost) DeclareExchange(ctx context.Context, decl ExchangeDeclaration) (*Exchange, error) {
	ex, err := vh.declareExchange(ctx, decl, true)
	if err != nil {
		vh.metrics.RecordDeclareError(vh.name, amqperror.KindOf(err))
	}
	return ex, err
}

// RestoreExchange registers a recovered exchange without persisting it.
func (vh *VirtualHost) RestoreExchange(ctx context.Context, decl ExchangeDeclaration) (*Exchange, error) {
	decl.Passive = false
	return vh.declareExchange(ctx, decl, false)
}

func (vh *VirtualHost) declareExchange(ctx context.Context, decl ExchangeDeclaration, persist bool) (*Exchange, error) {
	vh.exchangeMu.Lock()
	defer vh.exchangeMu.Unlock()

	if ex, ok := vh.exchanges[decl.Name]; ok {
		if ex.Type != decl.Type {
			vh.logger.Warn("exchange redeclared with different type",
				"exchange", decl.Name,
				"existingType", ex.Type,
				"requestedType", decl.Type,
			)
			return nil, amqperror.TypeConflict(decl.Name, ex.Type, decl.Type)
		}
		vh.logger.Debug("exchange already declared", "exchange", decl.Name, "type", ex.Type)
		return ex, nil
	}

	if decl.Passive && decl.Type == "" {
		return nil, amqperror.NotFound("declare exchange", decl.Name)
	}
	if !IsExchangeType(decl.Type) {
		return nil, amqperror.UnknownExchangeType("declare exchange", decl.Name, decl.Type)
	}

	ex := newExchange(vh.name, decl.Name, decl.Type, decl.Durable, decl.AutoDelete)
	vh.exchanges[ex.Name] = ex

	if persist && ex.Durable {
		if err := vh.store.CreateExchange(ctx, ex); err != nil {
			vh.logger.Error("failed to persist exchange", "exchange", ex.Name, "error", err)
			return nil, amqperror.StorageFailure("create exchange", ex.Name, err)
		}
	}

	vh.metrics.RecordExchangeCreated(vh.name, ex.Type)
	vh.logger.Info("exchange created",
		"exchange", ex.Name,
		"type", ex.Type,
		"durable", ex.Durable,
	)
	return ex, nil
}

// CreateQueue creates and registers a queue, applies its configuration and
// tuning arguments and provisions its dead-letter topology when enabled.
// The name is not checked for an existing queue.
//
// Creation is not atomic: when tuning or dead-letter provisioning fails the
// queue stays registered and the error is returned.
func (vh *VirtualHost) CreateQueue(ctx context.Context, decl QueueDeclaration) (*Queue, error) {
	vh.queueMu.Lock()
	defer vh.queueMu.Unlock()

	q, err := vh.createQueueLocked(ctx, decl, true, true)
	if err != nil {
		vh.metrics.RecordDeclareError(vh.name, amqperror.KindOf(err))
	}
	return q, err
}

// DeclareQueue looks up or creates a queue. An empty name is replaced by a
// generated one. A passive declare fails with NotFound when the queue is
// absent. New durable queues that are not auto-delete are persisted.
func (vh *VirtualHost) DeclareQueue(ctx context.Context, decl QueueDeclaration) (*Queue, bool, error) {
	if decl.Name == "" {
		decl.Name = "tmp_" + uuid.NewString()
	}

	vh.queueMu.Lock()
	defer vh.queueMu.Unlock()

	if q, ok := vh.queues[decl.Name]; ok {
		vh.logger.Debug("queue already declared", "queue", q.Name)
		return q, false, nil
	}
	if decl.Passive {
		vh.metrics.RecordDeclareError(vh.name, amqperror.KindNotFound)
		return nil, false, amqperror.NotFound("declare queue", decl.Name)
	}

	q, err := vh.createQueueLocked(ctx, decl, true, true)
	if err == nil && q.Durable && !q.AutoDelete {
		if serr := vh.store.CreateQueue(ctx, q, decl.Arguments); serr != nil {
			vh.logger.Error("failed to persist queue", "queue", q.Name, "error", serr)
			err = amqperror.StorageFailure("create queue", q.Name, serr)
		}
	}
	if err != nil {
		vh.metrics.RecordDeclareError(vh.name, amqperror.KindOf(err))
		return nil, false, err
	}
	return q, true, nil
}

// RestoreQueue registers a recovered queue without persisting it. Its
// dead-letter topology is provisioned again without store writes. An already
// registered queue is returned unchanged.
func (vh *VirtualHost) RestoreQueue(ctx context.Context, decl QueueDeclaration) (*Queue, error) {
	vh.queueMu.Lock()
	defer vh.queueMu.Unlock()

	if q, ok := vh.queues[decl.Name]; ok {
		return q, nil
	}
	return vh.createQueueLocked(ctx, decl, true, false)
}

// createQueueLocked requires queueMu. provision is false for dead-letter
// queues so the recursion ends after one level. persist controls whether
// provisioned dead-letter objects are written to the store.
func (vh *VirtualHost) createQueueLocked(ctx context.Context, decl QueueDeclaration, provision, persist bool) (*Queue, error) {
	variant := SelectVariant(decl.Arguments)
	q := newQueue(vh.name, decl, variant)
	vh.queues[q.Name] = q
	vh.defaultExchange.bind(Binding{Queue: q.Name, RoutingKey: q.Name})

	cfg := vh.queueConfig.QueueConfiguration(vh.name, q.Name)
	q.configure(cfg.Tuning)
	if ignored := q.applyArguments(decl.Arguments); len(ignored) > 0 {
		vh.logger.Warn("ignoring non-numeric queue arguments", "queue", q.Name, "arguments", ignored)
	}

	vh.metrics.RecordQueueCreated(vh.name, variant.Kind)
	vh.logger.Info("queue created",
		"queue", q.Name,
		"variant", variant.String(),
		"durable", q.Durable,
		"autoDelete", q.AutoDelete,
	)

	if provision && vh.deadLetterEnabled(q, decl, cfg) {
		if err := vh.provisionDeadLetter(ctx, q, persist); err != nil {
			return q, err
		}
	}
	return q, nil
}

// BindQueue binds a queue to an exchange. Binding twice is a no-op. A new
// binding between a durable queue and a durable exchange is persisted when
// the store supports it.
func (vh *VirtualHost) BindQueue(ctx context.Context, binding Binding) error {
	q, ok := vh.GetQueue(binding.Queue)
	if !ok {
		vh.metrics.RecordDeclareError(vh.name, amqperror.KindNotFound)
		return amqperror.NotFound("bind queue", binding.Queue)
	}
	ex, ok := vh.GetExchange(binding.Exchange)
	if !ok {
		vh.metrics.RecordDeclareError(vh.name, amqperror.KindNotFound)
		return amqperror.NotFound("bind queue", binding.Exchange)
	}

	if !ex.bind(binding) {
		return nil
	}
	vh.logger.Debug("queue bound",
		"queue", q.Name,
		"exchange", ex.Name,
		"routingKey", binding.RoutingKey,
	)

	bs, ok := vh.store.(BindingStore)
	if !ok || !q.Durable || !ex.Durable || ex == vh.defaultExchange {
		return nil
	}
	binding.Exchange = ex.Name
	if err := bs.CreateBinding(ctx, vh.name, binding); err != nil {
		vh.logger.Error("failed to persist binding", "queue", q.Name, "exchange", ex.Name, "error", err)
		return amqperror.StorageFailure("create binding", q.Name, err)
	}
	return nil
}

// RestoreBinding re-creates a recovered binding without persisting it.
func (vh *VirtualHost) RestoreBinding(binding Binding) error {
	if _, ok := vh.GetQueue(binding.Queue); !ok {
		return amqperror.NotFound("restore binding", binding.Queue)
	}
	ex, ok := vh.GetExchange(binding.Exchange)
	if !ok {
		return amqperror.NotFound("restore binding", binding.Exchange)
	}
	ex.bind(binding)
	return nil
}

// GetExchange returns the named exchange
func (vh *VirtualHost) GetExchange(name string) (*Exchange, bool) {
	vh.exchangeMu.Lock()
	defer vh.exchangeMu.Unlock()
	ex, ok := vh.exchanges[name]
	return ex, ok
}

// GetQueue returns the named queue
func (vh *VirtualHost) GetQueue(name string) (*Queue, bool) {
	vh.queueMu.Lock()
	defer vh.queueMu.Unlock()
	q, ok := vh.queues[name]
	return q, ok
}

// Exchanges returns all exchanges ordered by name
func (vh *VirtualHost) Exchanges() []*Exchange {
	vh.exchangeMu.Lock()
	out := make([]*Exchange, 0, len(vh.exchanges))
	for _, ex := range vh.exchanges {
		out = append(out, ex)
	}
	vh.exchangeMu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Queues returns all queues ordered by name
func (vh *VirtualHost) Queues() []*Queue {
	vh.queueMu.Lock()
	out := make([]*Queue, 0, len(vh.queues))
	for _, q := range vh.queues {
		out = append(out, q)
	}
	vh.queueMu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// IsDefaultExchange reports whether name is one of the exchanges every
// virtual host starts with.
func IsDefaultExchange(name string) bool {
	for _, d := range defaultExchanges {
		if d.name == name {
			return true
		}
	}
	return false
}
