// Package engine is the lifecycle state machine of the escrow service.
//
// It wires together the other subsystems:
//
//  1. The registry owns the durable bet records and fee accruals.
//  2. The custody collaborator moves the actual collateral.
//  3. The price resolver turns a bet's oracle reference into a price.
//  4. The settle package computes winners and fee-adjusted payouts.
//
// Every public operation runs under one mutex, which is the service's
// rendition of the atomic, serialized transaction application the design
// assumes: no two operations observe or mutate overlapping bet state
// concurrently, and an operation either commits all of its effects (state
// mutation, value transfer, event emission) or none of them. When a value
// transfer fails after state was staged, the staged mutation is rolled back
// before the error is returned.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"betvault/internal/config"
	"betvault/internal/custody"
	"betvault/internal/registry"
	"betvault/pkg/types"
)

// PriceResolver is the part of the oracle layer the engine consumes.
type PriceResolver interface {
	// Resolve returns the bet's current observed price. Called fresh inside
	// every close, never cached.
	Resolve(ctx context.Context, bet types.Bet) (int64, error)

	// CanonicalToken0 returns the pool's token0 for a TWAP pair, used once
	// at creation to fix the bet's token ordering.
	CanonicalToken0(ctx context.Context, tokenA, tokenB string, feeTier int64) (string, error)
}

// Engine executes the bet lifecycle operations against the registry.
type Engine struct {
	cfg     config.ServiceConfig
	reg     *registry.Registry
	custody custody.Transferor
	prices  PriceResolver
	logger  *slog.Logger

	// mu serializes all public operations (see package comment).
	mu sync.Mutex

	// events receives one entry per committed state transition. The API
	// server consumes it for the WebSocket stream.
	events chan types.Event

	now func() time.Time // injected clock for tests
}

// New wires an engine over its collaborators.
func New(cfg config.ServiceConfig, reg *registry.Registry, transferor custody.Transferor, prices PriceResolver, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:     cfg,
		reg:     reg,
		custody: transferor,
		prices:  prices,
		logger:  logger.With("component", "engine"),
		events:  make(chan types.Event, 256),
		now:     time.Now,
	}
}

// Events returns the stream of committed audit events. The channel is
// buffered; if no consumer keeps up, events are dropped from the stream
// (the durable audit log in the registry is unaffected).
func (e *Engine) Events() <-chan types.Event {
	return e.events
}

// GetBet returns a bet by id.
func (e *Engine) GetBet(id types.BetID) (types.Bet, error) {
	return e.reg.Get(id)
}

// BetsOf returns every bet the identity has participated in, in creation
// order.
func (e *Engine) BetsOf(identity string) ([]types.Bet, error) {
	ids := e.reg.BetsOf(identity)
	bets := make([]types.Bet, 0, len(ids))
	for _, id := range ids {
		bet, err := e.reg.Get(id)
		if err != nil {
			return nil, err
		}
		bets = append(bets, bet)
	}
	return bets, nil
}

// EventsFor returns the durable audit log for a bet.
func (e *Engine) EventsFor(ctx context.Context, id types.BetID) ([]types.Event, error) {
	if _, err := e.reg.Get(id); err != nil {
		return nil, err
	}
	return e.reg.EventsFor(ctx, id)
}

// emit records a committed state transition: durable audit log first, then
// structured log, then the live stream. The operation that caused the event
// has already committed; a failed append is logged, not propagated.
func (e *Engine) emit(ctx context.Context, ev types.Event) {
	if err := e.reg.AppendEvent(ctx, ev); err != nil {
		e.logger.Error("failed to append audit event", "type", ev.Type, "bet_id", ev.BetID, "error", err)
	}
	e.logger.Info("bet event", "type", ev.Type, "bet_id", ev.BetID)

	select {
	case e.events <- ev:
	default:
		// Stream consumer fell behind; the durable log keeps the record.
	}
}
