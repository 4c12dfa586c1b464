// Package background runs the recurring maintenance jobs the memory engine
// needs outside any single request: embedding queue drains, hot-path decay,
// periodic consolidation sweeps, and retention cleanup.
package background

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jonhardwick-spec/specmem-sub022/internal/consolidation"
	"github.com/jonhardwick-spec/specmem-sub022/internal/embedclient"
	"github.com/jonhardwick-spec/specmem-sub022/internal/embedqueue"
	"github.com/jonhardwick-spec/specmem-sub022/internal/hotpath"
	"github.com/jonhardwick-spec/specmem-sub022/internal/observability"
)

// Config controls which jobs run and on what schedule. Empty (zero-value)
// cron expressions are replaced by the defaults noted on each field; a job
// is left out when the component it drives is nil.
type Config struct {
	// DrainSpec schedules embedqueue.Queue.Drain. Default "@every 10s".
	DrainSpec string
	// DrainBatchSize caps rows claimed per drain tick. Default 16.
	DrainBatchSize int

	// DecaySpec schedules hotpath.Manager.DecaySweep. Default "@every 1h".
	DecaySpec string

	// ConsolidateSpec schedules a consolidation pass per project. Default
	// "@every 24h". Empty ProjectPaths disables this job regardless of spec.
	ConsolidateSpec string
	ConsolidateStrategy consolidation.Strategy
	ProjectPaths        []string

	// QueueCleanupSpec schedules embedqueue.Queue.Cleanup. Default "@every 1h".
	QueueCleanupSpec string
	// QueueCleanupAge is how old a completed/failed row must be to prune.
	// Default 24h.
	QueueCleanupAge time.Duration
}

func (c *Config) applyDefaults() {
	if c.DrainSpec == "" {
		c.DrainSpec = "@every 10s"
	}
	if c.DrainBatchSize <= 0 {
		c.DrainBatchSize = 16
	}
	if c.DecaySpec == "" {
		c.DecaySpec = "@every 1h"
	}
	if c.ConsolidateSpec == "" {
		c.ConsolidateSpec = "@every 24h"
	}
	if c.ConsolidateStrategy == "" {
		c.ConsolidateStrategy = consolidation.StrategySimilarity
	}
	if c.QueueCleanupSpec == "" {
		c.QueueCleanupSpec = "@every 1h"
	}
	if c.QueueCleanupAge <= 0 {
		c.QueueCleanupAge = 24 * time.Hour
	}
}

// Scheduler owns the cron-driven maintenance loop for one project's
// component set.
type Scheduler struct {
	cfg    Config
	cron   *cron.Cron
	queue  *embedqueue.Queue
	embed  *embedclient.Client
	hot    *hotpath.Manager
	cons   *consolidation.Engine
	log    *observability.Logger

	mu      sync.Mutex
	started bool
}

// New constructs a Scheduler. queue, hot, and cons may each be nil to
// disable the job family they back; embed must be non-nil whenever queue is
// non-nil.
func New(cfg Config, queue *embedqueue.Queue, embed *embedclient.Client, hot *hotpath.Manager, cons *consolidation.Engine, log *observability.Logger) *Scheduler {
	cfg.applyDefaults()
	return &Scheduler{
		cfg:   cfg,
		cron:  cron.New(cron.WithParser(cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor))),
		queue: queue,
		embed: embed,
		hot:   hot,
		cons:  cons,
		log:   log,
	}
}

// Start registers and starts every enabled job. Calling Start twice is a
// no-op.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}

	if s.queue != nil && s.embed != nil {
		if _, err := s.cron.AddFunc(s.cfg.DrainSpec, func() { s.runDrain(ctx) }); err != nil {
			return err
		}
		if _, err := s.cron.AddFunc(s.cfg.QueueCleanupSpec, func() { s.runQueueCleanup(ctx) }); err != nil {
			return err
		}
	}
	if s.hot != nil {
		if _, err := s.cron.AddFunc(s.cfg.DecaySpec, func() { s.runDecaySweep(ctx) }); err != nil {
			return err
		}
	}
	if s.cons != nil && len(s.cfg.ProjectPaths) > 0 {
		if _, err := s.cron.AddFunc(s.cfg.ConsolidateSpec, func() { s.runConsolidate(ctx) }); err != nil {
			return err
		}
	}

	s.cron.Start()
	s.started = true
	return nil
}

// Stop halts the scheduler and waits for any running job to finish.
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}
	s.started = false
}

func (s *Scheduler) runDrain(ctx context.Context) {
	err := s.queue.Drain(ctx, s.embed.Embed, s.cfg.DrainBatchSize)
	if err != nil && s.log != nil {
		s.log.Warn(ctx, "embedding queue drain failed", "error", err)
	}
}

func (s *Scheduler) runQueueCleanup(ctx context.Context) {
	n, err := s.queue.Cleanup(ctx, s.cfg.QueueCleanupAge)
	if err != nil {
		if s.log != nil {
			s.log.Warn(ctx, "embedding queue cleanup failed", "error", err)
		}
		return
	}
	if n > 0 && s.log != nil {
		s.log.Info(ctx, "embedding queue cleanup pruned rows", "count", n)
	}
}

func (s *Scheduler) runDecaySweep(ctx context.Context) {
	pruned, err := s.hot.DecaySweep(ctx)
	if err != nil {
		if s.log != nil {
			s.log.Warn(ctx, "hot path decay sweep failed", "error", err)
		}
		return
	}
	if pruned > 0 && s.log != nil {
		s.log.Info(ctx, "hot path decay sweep pruned entries", "count", pruned)
	}
}

func (s *Scheduler) runConsolidate(ctx context.Context) {
	for _, path := range s.cfg.ProjectPaths {
		clusters, err := s.cons.Consolidate(ctx, consolidation.Options{
			Strategy:    s.cfg.ConsolidateStrategy,
			ProjectPath: path,
		})
		if err != nil {
			if s.log != nil {
				s.log.Warn(ctx, "scheduled consolidation failed", "project_path", path, "error", err)
			}
			continue
		}
		if len(clusters) > 0 && s.log != nil {
			s.log.Info(ctx, "scheduled consolidation merged clusters", "project_path", path, "clusters", len(clusters))
		}
	}
}
