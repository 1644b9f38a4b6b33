// Package scheduler periodically pull-syncs every owner with a linked remote calendar.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/jw6ventures/planner/internal/calsync"
	"github.com/jw6ventures/planner/internal/logging"
	"github.com/jw6ventures/planner/internal/metrics"
	"github.com/jw6ventures/planner/internal/store"
)

type OwnerLister interface {
	ListOwners(ctx context.Context) ([]string, error)
}

type PullSyncer interface {
	PullSync(ctx context.Context, ownerID string) (*store.Document, calsync.Outcome, error)
}

// Scheduler fans pull-sync out across owners with bounded parallelism.
// Each owner's document is independent, so owners never share a worker.
type Scheduler struct {
	owners      OwnerLister
	syncer      PullSyncer
	parallelism int
	cron        *cron.Cron
	cancel      context.CancelFunc
}

func New(owners OwnerLister, syncer PullSyncer, parallelism int) *Scheduler {
	if parallelism <= 0 {
		parallelism = 1
	}
	return &Scheduler{owners: owners, syncer: syncer, parallelism: parallelism}
}

// RunOnce pull-syncs every linked owner. Per-owner failures are logged and do not stop the run.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	ctx = metrics.WithRoute(ctx, "scheduler")
	owners, err := s.owners.ListOwners(ctx)
	if err != nil {
		return fmt.Errorf("list linked owners: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)
	for _, owner := range owners {
		owner := owner
		g.Go(func() error {
			if _, _, err := s.syncer.PullSync(gctx, owner); err != nil {
				logging.FromContext(gctx).Error("scheduled pull-sync failed", "owner", owner, "error", err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Start runs RunOnce on the cron spec until Stop. An empty spec disables scheduling.
func (s *Scheduler) Start(ctx context.Context, spec string) error {
	if spec == "" {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	logger := logging.FromContext(ctx).With("component", "scheduler")
	ctx = logging.WithLogger(ctx, logger)
	cl := cronLogger{logger}
	c := cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))
	if _, err := c.AddFunc(spec, func() {
		if err := s.RunOnce(ctx); err != nil {
			logger.Error("scheduled pull-sync run failed", "error", err)
		}
	}); err != nil {
		cancel()
		return fmt.Errorf("invalid sync schedule %q: %w", spec, err)
	}
	s.cron = c
	s.cancel = cancel
	c.Start()
	logger.Info("scheduled pull-sync enabled", "schedule", spec, "parallelism", s.parallelism)
	return nil
}

// Stop cancels in-flight syncs and waits for the running job to return.
func (s *Scheduler) Stop() {
	if s.cron == nil {
		return
	}
	s.cancel()
	<-s.cron.Stop().Done()
}

// cronLogger adapts slog to cron's logger interface.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
