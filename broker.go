// Copyright 2024 Qpid Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package qpid

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/CUXIDUMDUM/qpid/amqperror"
	"github.com/CUXIDUMDUM/qpid/config"
	"github.com/CUXIDUMDUM/qpid/framing"
	"github.com/CUXIDUMDUM/qpid/health"
	"github.com/CUXIDUMDUM/qpid/message"
	"github.com/CUXIDUMDUM/qpid/metrics"
	"github.com/CUXIDUMDUM/qpid/session"
	"github.com/CUXIDUMDUM/qpid/store"
	"github.com/CUXIDUMDUM/qpid/topology"
)

// ErrBrokerClosed is returned by a broker after Close
var ErrBrokerClosed = errors.New("qpid: broker closed")

// Broker owns the virtual hosts, the store and the message factory of one
// broker process.
type Broker struct {
	cfg       *config.Config
	store     store.Store
	factory   *message.Factory
	hosts     map[string]*topology.VirtualHost
	metrics   *metrics.Collector
	health    *health.Registry
	recovered *store.Recovered
	logger    *slog.Logger

	mu     sync.Mutex
	closed bool
}

type brokerConfig struct {
	logger     *slog.Logger
	registerer prometheus.Registerer
}

// BrokerOption configures a Broker
type BrokerOption func(*brokerConfig)

// WithLogger sets the logger shared by every broker component
func WithLogger(logger *slog.Logger) BrokerOption {
	return func(c *brokerConfig) {
		c.logger = logger
	}
}

// WithRegisterer sets where broker metrics are registered. A private
// registry is used otherwise.
func WithRegisterer(reg prometheus.Registerer) BrokerOption {
	return func(c *brokerConfig) {
		c.registerer = reg
	}
}

// NewBroker opens the configured store, builds every configured virtual
// host, replays the store into them and creates the configured queues.
func NewBroker(ctx context.Context, cfg *config.Config, options ...BrokerOption) (*Broker, error) {
	bc := &brokerConfig{logger: slog.Default()}
	for _, opt := range options {
		opt(bc)
	}
	if bc.registerer == nil {
		bc.registerer = prometheus.NewRegistry()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s, err := store.Open(ctx, cfg.Store, bc.logger)
	if err != nil {
		return nil, err
	}

	b := &Broker{
		cfg:     cfg,
		store:   s,
		factory: message.NewFactory(message.NewAllocator()),
		hosts:   make(map[string]*topology.VirtualHost),
		metrics: metrics.NewCollector(bc.registerer),
		health:  health.NewRegistry(),
		logger:  bc.logger,
	}

	for _, name := range cfg.VirtualHostNames() {
		b.hosts[name] = topology.NewVirtualHost(name,
			topology.WithStore(s),
			topology.WithLogger(bc.logger),
			topology.WithMetrics(b.metrics),
			topology.WithDeadLetterPolicy(cfg.DeadLetter.DeadLetterPolicy),
			topology.WithQueueConfig(cfg),
		)
	}

	if err := b.start(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return b, nil
}

func (b *Broker) start(ctx context.Context) error {
	recovered, err := store.Recover(ctx, b.store, b.lookup, b.factory, b.logger)
	if err != nil {
		return fmt.Errorf("qpid: %w", err)
	}
	b.recovered = recovered
	b.metrics.RecordRecoveredMessages(len(recovered.Messages))

	for _, name := range b.cfg.VirtualHostNames() {
		vh := b.hosts[name]
		for _, def := range b.cfg.QueueDefinitions(name) {
			if _, err := vh.CreateQueueFromConfig(ctx, def); err != nil {
				return fmt.Errorf("qpid: configured queue %s/%s: %w", name, def.Name, err)
			}
		}
		b.health.Register(health.NewVirtualHostChecker(vh))
	}

	b.health.Register(health.NewStoreChecker(b.store, time.Second, b.logger))
	b.health.Register(health.NewMemoryChecker(500, 1000))
	if guarded, ok := b.store.(*store.GuardedStore); ok {
		b.health.Register(health.NewComponentChecker("store_breaker", func(context.Context) (health.Status, string, map[string]interface{}, error) {
			state := guarded.Breaker().State()
			details := map[string]interface{}{"state": state.String()}
			switch state {
			case store.BreakerOpen:
				return health.StatusUnhealthy, "store writes are rejected", details, nil
			case store.BreakerHalfOpen:
				return health.StatusDegraded, "store writes are on trial", details, nil
			default:
				return health.StatusHealthy, "store writes are flowing", details, nil
			}
		}))
	}
	b.health.SetMetadata("virtualHosts", len(b.hosts))
	b.health.SetMetadata("store", b.cfg.Store.Type)

	b.logger.Info("broker started",
		"virtualHosts", len(b.hosts),
		"exchanges", recovered.Exchanges,
		"queues", recovered.Queues,
		"bindings", recovered.Bindings,
		"messages", len(recovered.Messages),
	)
	return nil
}

func (b *Broker) lookup(name string) (*topology.VirtualHost, bool) {
	vh, ok := b.hosts[name]
	return vh, ok
}

// VirtualHost returns the named virtual host
func (b *Broker) VirtualHost(name string) (*topology.VirtualHost, bool) {
	return b.lookup(name)
}

// VirtualHostNames returns the served virtual hosts in name order
func (b *Broker) VirtualHostNames() []string {
	names := make([]string, 0, len(b.hosts))
	for name := range b.hosts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewChannel opens channel id of a connection to the named virtual host
func (b *Broker) NewChannel(id uint16, virtualHost string, writer framing.FrameWriter, options ...session.ChannelOption) (*session.Channel, error) {
	if b.isClosed() {
		return nil, ErrBrokerClosed
	}
	vh, ok := b.lookup(virtualHost)
	if !ok {
		return nil, amqperror.NotFound("open channel", virtualHost)
	}
	options = append([]session.ChannelOption{session.WithChannelLogger(b.logger)}, options...)
	return session.NewChannel(id, vh, writer, options...), nil
}

// NewRequestManager creates the correlator for requests the broker sends on
// channel id, reporting to the broker metrics.
func (b *Broker) NewRequestManager(id uint16, writer framing.FrameWriter) *framing.RequestManager {
	return framing.NewRequestManager(id, writer,
		framing.WithRequestLogger(b.logger),
		framing.WithRequestMetrics(b.metrics),
	)
}

// Publish creates a message with the next identity. Persistent messages are
// written to the store before they are returned.
func (b *Broker) Publish(ctx context.Context, body []byte, persistent bool) (*message.Message, error) {
	if b.isClosed() {
		return nil, ErrBrokerClosed
	}
	msg, err := b.factory.Create(body, persistent)
	if err != nil {
		return nil, err
	}
	if persistent {
		if err := b.store.StoreMessage(ctx, msg); err != nil {
			return nil, amqperror.StorageFailure("store message", fmt.Sprint(msg.ID), err)
		}
	}
	return msg, nil
}

// Acknowledge removes a settled persistent message from the store so it is
// not recovered again. Unknown identities are ignored.
func (b *Broker) Acknowledge(ctx context.Context, id message.ID) error {
	if b.isClosed() {
		return ErrBrokerClosed
	}
	if err := b.store.RemoveMessage(ctx, id); err != nil {
		return amqperror.StorageFailure("remove message", fmt.Sprint(id), err)
	}
	return nil
}

// Recovered returns what the startup replay restored
func (b *Broker) Recovered() *store.Recovered {
	return b.recovered
}

// Health returns the broker health checks
func (b *Broker) Health() *health.Registry {
	return b.health
}

// Close closes the store. It is safe to call more than once.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	b.logger.Info("broker closing")
	return b.store.Close()
}

func (b *Broker) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}
