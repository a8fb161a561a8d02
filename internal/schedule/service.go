// Package schedule runs periodic maintenance jobs: registry reconciliation and
// thread log retention.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	JobReconcile = "reconcile"
	JobRetention = "retention"
)

// Reconciler evicts registry entries whose staff channels are gone.
type Reconciler interface {
	Reconcile(ctx context.Context) (int, error)
}

// Pruner deletes closed thread logs older than the cutoff.
type Pruner interface {
	PruneClosedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Config holds the cron specs. An empty spec disables the job.
type Config struct {
	Reconcile string
	Retention string
	// RetentionPeriod is how long closed logs are kept. Zero disables pruning.
	RetentionPeriod time.Duration
}

// Service owns the cron runner for maintenance jobs.
type Service struct {
	cfg        Config
	reconciler Reconciler
	pruner     Pruner
	logger     *slog.Logger
	now        func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	entries map[string]cron.EntryID
}

// NewService creates a maintenance scheduler. reconciler or pruner may be nil.
func NewService(log *slog.Logger, cfg Config, reconciler Reconciler, pruner Pruner) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		cfg:        cfg,
		reconciler: reconciler,
		pruner:     pruner,
		logger:     log.With(slog.String("component", "schedule")),
		now:        time.Now,
		entries:    map[string]cron.EntryID{},
	}
}

// Start registers the configured jobs and starts the runner.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return nil
	}
	clog := cronLogger{logger: s.logger}
	c := cron.New(cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)))

	jobs := []struct {
		name string
		spec string
		run  func(context.Context) error
		on   bool
	}{
		{name: JobReconcile, spec: s.cfg.Reconcile, run: s.RunReconcile, on: s.reconciler != nil},
		{name: JobRetention, spec: s.cfg.Retention, run: s.RunRetention, on: s.pruner != nil && s.cfg.RetentionPeriod > 0},
	}
	for _, job := range jobs {
		spec := strings.TrimSpace(job.spec)
		if spec == "" || !job.on {
			s.logger.Debug("job disabled", slog.String("job", job.name))
			continue
		}
		run := job.run
		name := job.name
		id, err := c.AddFunc(spec, func() {
			if err := run(ctx); err != nil {
				s.logger.Error("job failed", slog.String("job", name), slog.Any("error", err))
			}
		})
		if err != nil {
			return fmt.Errorf("schedule %s %q: %w", name, spec, err)
		}
		s.entries[name] = id
		s.logger.Info("job scheduled", slog.String("job", name), slog.String("spec", spec))
	}
	c.Start()
	s.cron = c
	return nil
}

// Stop halts the runner and waits for running jobs.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return nil
	}
	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Jobs returns the names of registered jobs with their next run time.
func (s *Service) Jobs() map[string]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]time.Time, len(s.entries))
	if s.cron == nil {
		return out
	}
	for name, id := range s.entries {
		out[name] = s.cron.Entry(id).Next
	}
	return out
}

// RunReconcile evicts vanished threads once.
func (s *Service) RunReconcile(ctx context.Context) error {
	if s.reconciler == nil {
		return nil
	}
	removed, err := s.reconciler.Reconcile(ctx)
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}
	if removed > 0 {
		s.logger.Info("reconciled registry", slog.Int("removed", removed))
	}
	return nil
}

// RunRetention prunes closed thread logs past the retention period once.
func (s *Service) RunRetention(ctx context.Context) error {
	if s.pruner == nil || s.cfg.RetentionPeriod <= 0 {
		return nil
	}
	cutoff := s.now().UTC().Add(-s.cfg.RetentionPeriod)
	pruned, err := s.pruner.PruneClosedBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("prune thread logs: %w", err)
	}
	s.logger.Info("pruned thread logs", slog.Int64("pruned", pruned), slog.Time("cutoff", cutoff))
	return nil
}

type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, slog.Any("error", err))...)
}
