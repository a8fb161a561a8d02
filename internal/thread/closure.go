package thread

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/memohai/modmail/internal/metrics"
)

// ClosureKind distinguishes the two delayed closes a thread may have pending.
type ClosureKind string

const (
	// ClosureManual is a close scheduled by staff.
	ClosureManual ClosureKind = "manual"
	// ClosureIdle is the inactivity auto-close.
	ClosureIdle ClosureKind = "idle"
)

// Job is the body of a scheduled closure.
type Job func(ctx context.Context)

type scheduledJob struct {
	threadID string
	kind     ClosureKind
	token    string
	fireAt   time.Time
	timer    *time.Timer
	run      Job
}

// Scheduler owns every delayed close. Timers only enqueue; a single worker
// started by Run executes jobs, so a job cancelled before the worker claims
// it never runs.
type Scheduler struct {
	mu       sync.Mutex
	jobs     map[string]map[ClosureKind]*scheduledJob
	due      chan *scheduledJob
	stop     chan struct{}
	stopOnce sync.Once
	logger   *slog.Logger
}

// NewScheduler creates an idle scheduler. Call Run to start executing jobs.
func NewScheduler(log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		jobs:   map[string]map[ClosureKind]*scheduledJob{},
		due:    make(chan *scheduledJob, 16),
		stop:   make(chan struct{}),
		logger: log.With(slog.String("component", "closure_scheduler")),
	}
}

// Schedule arms a job for the thread, replacing any pending job of the same kind.
// It returns the token identifying the new job.
func (s *Scheduler) Schedule(threadID string, kind ClosureKind, after time.Duration, run Job) string {
	if after < 0 {
		after = 0
	}
	job := &scheduledJob{
		threadID: threadID,
		kind:     kind,
		token:    uuid.NewString(),
		fireAt:   time.Now().Add(after),
		run:      run,
	}
	s.mu.Lock()
	byKind := s.jobs[threadID]
	if byKind == nil {
		byKind = map[ClosureKind]*scheduledJob{}
		s.jobs[threadID] = byKind
	}
	if prev := byKind[kind]; prev != nil {
		prev.timer.Stop()
	}
	byKind[kind] = job
	job.timer = time.AfterFunc(after, func() { s.enqueue(job) })
	s.mu.Unlock()

	s.logger.Debug("closure scheduled",
		slog.String("thread", threadID),
		slog.String("kind", string(kind)),
		slog.Duration("after", after),
	)
	s.updateGauge()
	return job.token
}

func (s *Scheduler) enqueue(job *scheduledJob) {
	select {
	case s.due <- job:
	case <-s.stop:
	}
}

// Cancel removes the pending job of the given kind. It reports whether one existed.
func (s *Scheduler) Cancel(threadID string, kind ClosureKind) bool {
	s.mu.Lock()
	job := s.jobs[threadID][kind]
	if job != nil {
		job.timer.Stop()
		s.remove(job)
	}
	s.mu.Unlock()
	if job == nil {
		return false
	}
	s.updateGauge()
	return true
}

// CancelAll removes every pending job of the thread and returns how many were removed.
func (s *Scheduler) CancelAll(threadID string) int {
	s.mu.Lock()
	byKind := s.jobs[threadID]
	n := len(byKind)
	for _, job := range byKind {
		job.timer.Stop()
	}
	delete(s.jobs, threadID)
	s.mu.Unlock()
	if n > 0 {
		s.updateGauge()
	}
	return n
}

// Pending returns when the thread's job of the given kind fires.
func (s *Scheduler) Pending(threadID string, kind ClosureKind) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job := s.jobs[threadID][kind]
	if job == nil {
		return time.Time{}, false
	}
	return job.fireAt, true
}

// Len returns the number of pending jobs.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, byKind := range s.jobs {
		n += len(byKind)
	}
	return n
}

// Run executes due jobs until ctx is done or Stop is called.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.Stop()
			return
		case <-s.stop:
			return
		case job := <-s.due:
			if !s.claim(job) {
				continue
			}
			s.updateGauge()
			s.execute(ctx, job)
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, job *scheduledJob) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("closure panicked",
				slog.String("thread", job.threadID),
				slog.String("kind", string(job.kind)),
				slog.Any("panic", r),
			)
		}
	}()
	job.run(ctx)
}

// claim removes the job from the table if it is still the current one.
func (s *Scheduler) claim(job *scheduledJob) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.jobs[job.threadID][job.kind] != job {
		return false
	}
	s.remove(job)
	return true
}

func (s *Scheduler) remove(job *scheduledJob) {
	byKind := s.jobs[job.threadID]
	delete(byKind, job.kind)
	if len(byKind) == 0 {
		delete(s.jobs, job.threadID)
	}
}

// Stop halts the worker and drops every pending job.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
		s.mu.Lock()
		for _, byKind := range s.jobs {
			for _, job := range byKind {
				job.timer.Stop()
			}
		}
		s.jobs = map[string]map[ClosureKind]*scheduledJob{}
		s.mu.Unlock()
		s.updateGauge()
	})
}

func (s *Scheduler) updateGauge() {
	metrics.ScheduledClosures.Set(float64(s.Len()))
}
