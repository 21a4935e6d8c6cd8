package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/CUXIDUMDUM/qpid/message"
	"github.com/CUXIDUMDUM/qpid/topology"
)

// HostLookup resolves a persisted virtual host name
type HostLookup func(name string) (*topology.VirtualHost, bool)

// Recovered summarises a replay
type Recovered struct {
	Exchanges int
	Queues    int
	Bindings  int
	Skipped   int // records of unknown virtual hosts
	Messages  []*message.Message
}

// Recover replays src into the virtual hosts: exchanges first, then queues,
// then bindings, then messages under their persisted ids. The factory leaves
// recovery mode once every message is back, so new messages are numbered
// above the highest recovered id.
func Recover(ctx context.Context, src Recoverable, hosts HostLookup, factory *message.Factory, logger *slog.Logger) (*Recovered, error) {
	if logger == nil {
		logger = slog.Default()
	}
	out := &Recovered{}

	exchanges, err := src.Exchanges(ctx)
	if err != nil {
		return nil, fmt.Errorf("recover exchanges: %w", err)
	}
	for _, rec := range exchanges {
		vh, ok := hosts(rec.VirtualHost)
		if !ok {
			logger.Warn("skipping exchange of unknown virtual host", "virtualHost", rec.VirtualHost, "exchange", rec.Name)
			out.Skipped++
			continue
		}
		if _, err := vh.RestoreExchange(ctx, rec.Declaration()); err != nil {
			return nil, fmt.Errorf("recover exchange %s: %w", rec.Name, err)
		}
		out.Exchanges++
	}

	queues, err := src.Queues(ctx)
	if err != nil {
		return nil, fmt.Errorf("recover queues: %w", err)
	}
	for _, rec := range queues {
		vh, ok := hosts(rec.VirtualHost)
		if !ok {
			logger.Warn("skipping queue of unknown virtual host", "virtualHost", rec.VirtualHost, "queue", rec.Name)
			out.Skipped++
			continue
		}
		if _, err := vh.RestoreQueue(ctx, rec.Declaration()); err != nil {
			return nil, fmt.Errorf("recover queue %s: %w", rec.Name, err)
		}
		out.Queues++
	}

	bindings, err := src.Bindings(ctx)
	if err != nil {
		return nil, fmt.Errorf("recover bindings: %w", err)
	}
	for _, rec := range bindings {
		vh, ok := hosts(rec.VirtualHost)
		if !ok {
			out.Skipped++
			continue
		}
		if err := vh.RestoreBinding(rec.Binding()); err != nil {
			// a binding can outlive its queue when the queue was never persisted
			logger.Warn("skipping binding", "exchange", rec.Exchange, "queue", rec.Queue, "error", err)
			out.Skipped++
			continue
		}
		out.Bindings++
	}

	err = src.Messages(ctx, func(rec MessageRecord) error {
		m, err := factory.Recover(message.ID(rec.ID), rec.ContentType, rec.Body)
		if err != nil {
			return err
		}
		out.Messages = append(out.Messages, m)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("recover messages: %w", err)
	}
	factory.CompleteRecovery()

	logger.Info("recovery complete",
		"exchanges", out.Exchanges,
		"queues", out.Queues,
		"bindings", out.Bindings,
		"messages", len(out.Messages),
		"skipped", out.Skipped,
	)
	return out, nil
}
