// Package upkeep drives the permissionless close of overdue bets. A
// scheduler periodically scans the registry for in-process bets whose
// deadline has passed and triggers the close on each, capped per pass so a
// backlog never produces an unbounded burst of oracle reads.
package upkeep

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"betvault/internal/config"
	"betvault/internal/registry"
	"betvault/pkg/types"
)

// Closer is the part of the lifecycle engine the scheduler drives.
type Closer interface {
	CloseBet(ctx context.Context, id types.BetID) (types.Winner, error)
}

// Scheduler scans for overdue bets and closes them in bounded batches.
type Scheduler struct {
	reg    *registry.Registry
	closer Closer
	cfg    config.UpkeepConfig
	logger *slog.Logger

	now func() time.Time // injected clock for tests
}

// New creates a scheduler over the registry and lifecycle engine.
func New(reg *registry.Registry, closer Closer, cfg config.UpkeepConfig, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		reg:    reg,
		closer: closer,
		cfg:    cfg,
		logger: logger.With("component", "upkeep"),
		now:    time.Now,
	}
}

// Scan returns the ids of overdue in-process bets, at most maxBatch of them,
// in ascending id order. It never mutates anything.
func (s *Scheduler) Scan(maxBatch int) []types.BetID {
	if maxBatch <= 0 {
		maxBatch = s.cfg.MaxBatch
	}
	return s.reg.ScanEligible(s.now(), maxBatch)
}

// Execute closes each listed bet. Eligibility is re-checked by the close
// itself, so a bet that was already closed (or canceled) since the scan is
// skipped silently; executing the same batch twice closes each bet exactly
// once. Other close failures are logged and do not stop the batch.
func (s *Scheduler) Execute(ctx context.Context, ids []types.BetID) int {
	closed := 0
	for _, id := range ids {
		winner, err := s.closer.CloseBet(ctx, id)
		switch {
		case err == nil:
			s.logger.Info("closed overdue bet", "bet_id", id, "winner", winner)
			closed++
		case errors.Is(err, types.ErrInvalidState), errors.Is(err, types.ErrNotYetEligible):
			// Already handled by someone else between scan and execute.
		default:
			s.logger.Error("failed to close overdue bet", "bet_id", id, "error", err)
		}
	}
	return closed
}

// Run starts the scan-and-close loop. Blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	// Catch up on whatever came due while the service was down.
	s.pass(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pass(ctx)
		}
	}
}

func (s *Scheduler) pass(ctx context.Context) {
	ids := s.Scan(s.cfg.MaxBatch)
	if len(ids) == 0 {
		return
	}
	closed := s.Execute(ctx, ids)
	s.logger.Info("upkeep pass finished", "eligible", len(ids), "closed", closed)
}
