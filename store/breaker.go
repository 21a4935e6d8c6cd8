package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/CUXIDUMDUM/qpid/message"
	"github.com/CUXIDUMDUM/qpid/topology"
)

// ErrUnavailable is returned by a guarded store while its breaker is open
var ErrUnavailable = errors.New("store: unavailable")

// BreakerState is the state of a store circuit breaker
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures the breaker in front of store writes. A zero
// FailureThreshold disables it.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failureThreshold"`
	SuccessThreshold int           `yaml:"successThreshold"`
	OpenTimeout      time.Duration `yaml:"openTimeout"`
}

// Breaker stops calling a failing store. After FailureThreshold consecutive
// failures it opens and rejects calls for OpenTimeout, then lets trial calls
// through until SuccessThreshold of them succeed.
type Breaker struct {
	mu        sync.Mutex
	state     BreakerState
	failures  int
	successes int
	openedAt  time.Time

	failureThreshold int
	successThreshold int
	openTimeout      time.Duration
	now              func() time.Time
	logger           *slog.Logger
}

// NewBreaker creates a closed breaker. Unset fields of cfg take defaults.
func NewBreaker(cfg BreakerConfig, logger *slog.Logger) *Breaker {
	b := &Breaker{
		failureThreshold: cfg.FailureThreshold,
		successThreshold: cfg.SuccessThreshold,
		openTimeout:      cfg.OpenTimeout,
		now:              time.Now,
		logger:           logger,
	}
	if b.failureThreshold <= 0 {
		b.failureThreshold = 5
	}
	if b.successThreshold <= 0 {
		b.successThreshold = 1
	}
	if b.openTimeout <= 0 {
		b.openTimeout = 30 * time.Second
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	return b
}

// State returns the current state
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Execute runs fn unless the breaker is open
func (b *Breaker) Execute(op string, fn func() error) error {
	if err := b.allow(op); err != nil {
		return err
	}
	err := fn()
	b.record(err)
	return err
}

func (b *Breaker) allow(op string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != BreakerOpen {
		return nil
	}
	retryAt := b.openedAt.Add(b.openTimeout)
	if b.now().Before(retryAt) {
		return fmt.Errorf("%w: %s rejected until %s", ErrUnavailable, op, retryAt.Format(time.RFC3339))
	}
	b.transition(BreakerHalfOpen, "open timeout expired")
	b.successes = 0
	return nil
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		b.failures++
		switch b.state {
		case BreakerClosed:
			if b.failures >= b.failureThreshold {
				b.open(fmt.Sprintf("%d consecutive failures", b.failures))
			}
		case BreakerHalfOpen:
			b.open("trial call failed")
		}
		return
	}

	switch b.state {
	case BreakerClosed:
		b.failures = 0
	case BreakerHalfOpen:
		b.successes++
		if b.successes >= b.successThreshold {
			b.failures = 0
			b.transition(BreakerClosed, "trial calls succeeded")
		}
	}
}

func (b *Breaker) open(reason string) {
	b.openedAt = b.now()
	b.transition(BreakerOpen, reason)
}

func (b *Breaker) transition(to BreakerState, reason string) {
	if b.state == to {
		return
	}
	b.logger.Warn("store breaker state changed", "from", b.state.String(), "to", to.String(), "reason", reason)
	b.state = to
}

// GuardedStore sends the writes of a store through a Breaker. Reads and
// Close go straight to the store.
type GuardedStore struct {
	Store
	breaker *Breaker
}

// Guard wraps s with breaker b
func Guard(s Store, b *Breaker) *GuardedStore {
	return &GuardedStore{Store: s, breaker: b}
}

// Breaker returns the breaker guarding the store
func (g *GuardedStore) Breaker() *Breaker {
	return g.breaker
}

func (g *GuardedStore) CreateExchange(ctx context.Context, e *topology.Exchange) error {
	return g.breaker.Execute("create exchange", func() error {
		return g.Store.CreateExchange(ctx, e)
	})
}

func (g *GuardedStore) CreateQueue(ctx context.Context, q *topology.Queue, args amqp.Table) error {
	return g.breaker.Execute("create queue", func() error {
		return g.Store.CreateQueue(ctx, q, args)
	})
}

func (g *GuardedStore) CreateBinding(ctx context.Context, virtualHost string, binding topology.Binding) error {
	return g.breaker.Execute("create binding", func() error {
		return g.Store.CreateBinding(ctx, virtualHost, binding)
	})
}

func (g *GuardedStore) StoreMessage(ctx context.Context, msg *message.Message) error {
	return g.breaker.Execute("store message", func() error {
		return g.Store.StoreMessage(ctx, msg)
	})
}

func (g *GuardedStore) RemoveMessage(ctx context.Context, id message.ID) error {
	return g.breaker.Execute("remove message", func() error {
		return g.Store.RemoveMessage(ctx, id)
	})
}
