// ABOUTME: Periodic maintenance jobs run by gocron: session eviction, cache sweep, audit pruning
// ABOUTME: Each job runs in singleton mode and logs failures instead of stopping the scheduler

package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/samber/lo"

	"github.com/2389/finbot-gateway/internal/session"
	"github.com/2389/finbot-gateway/internal/store"
)

// expiryMemory is how long an evicted chat is remembered so its next
// message can be told the session expired.
const expiryMemory = 24 * time.Hour

// pruneInterval is how often old audit rows are deleted.
const pruneInterval = time.Hour

// jobTimeout bounds a single job run.
const jobTimeout = time.Minute

type job struct {
	name  string
	every time.Duration
	run   func(ctx context.Context) error
}

func (g *Gateway) maintenanceJobs() []job {
	return []job{
		{name: "session-eviction", every: g.config.Sessions.SweepInterval, run: g.evictSessions},
		{name: "cache-sweep", every: g.config.Cache.SweepInterval, run: g.sweepCache},
		{name: "audit-prune", every: pruneInterval, run: g.pruneAudit},
	}
}

// newJobs registers the maintenance jobs on a scheduler that is not yet
// started.
//
//nolint:ireturn // gocron exposes its scheduler as an interface
func (g *Gateway) newJobs() (gocron.Scheduler, error) {
	s, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("creating job scheduler: %w", err)
	}

	for _, j := range g.maintenanceJobs() {
		_, err := s.NewJob(
			gocron.DurationJob(j.every),
			gocron.NewTask(g.runJob, j),
			gocron.WithName(j.name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			_ = s.Shutdown()
			return nil, fmt.Errorf("scheduling job %q: %w", j.name, err)
		}
		g.logger.Debug("job scheduled", "name", j.name, "every", j.every)
	}
	return s, nil
}

func (g *Gateway) runJob(j job) {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	if err := j.run(ctx); err != nil {
		g.logger.Error("job failed", "name", j.name, "error", err)
	}
}

// evictSessions removes idle sessions and records each eviction.
func (g *Gateway) evictSessions(ctx context.Context) error {
	now := g.now()
	evicted := g.sessions.EvictIdle(now, g.config.Sessions.IdleTTL)
	g.sessions.ForgetExpired(now, expiryMemory)
	if len(evicted) == 0 {
		return nil
	}
	g.logger.Debug("sessions evicted", "chat_ids", session.IDs(evicted))

	rows := lo.Map(evicted, func(e session.Evicted, _ int) store.SessionEviction {
		return store.SessionEviction{
			ChatID:       e.ChatID,
			State:        e.State.String(),
			LastActivity: e.LastActivity,
			EvictedAt:    now,
		}
	})
	if err := g.store.RecordEvictions(ctx, rows); err != nil {
		return fmt.Errorf("recording %d evictions: %w", len(rows), err)
	}
	return nil
}

func (g *Gateway) sweepCache(context.Context) error {
	if n := g.responses.Sweep(); n > 0 {
		g.logger.Debug("swept expired cache entries", "count", n)
	}
	return nil
}

func (g *Gateway) pruneAudit(ctx context.Context) error {
	cutoff := g.now().Add(-g.config.Database.Retention)
	n, err := g.store.PruneBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("pruning audit rows: %w", err)
	}
	if n > 0 {
		g.logger.Info("pruned audit rows", "count", n, "before", cutoff)
	}
	return nil
}
