// Package scheduler runs the periodic maintenance jobs: retention sweeps and
// database backups. The two jobs share one mutex so they never overlap, and
// the same mutex covers admin-triggered runs.
package scheduler

import (
	"context"
	"sync"
	"time"

	"kiromemory/internal/backup"
	"kiromemory/internal/config"
	"kiromemory/internal/logging"
	"kiromemory/internal/store"
)

const (
	retentionStartDelay = 30 * time.Second
	backupStartDelay    = 60 * time.Second
	jobTimeout          = 5 * time.Minute
)

// Scheduler owns the retention and backup timers.
type Scheduler struct {
	store   *store.Store
	backups *backup.Manager
	policy  store.RetentionPolicy

	retentionDelay time.Duration
	retentionEvery time.Duration
	backupDelay    time.Duration
	backupEvery    time.Duration

	// jobMu serializes retention and backup, timer-driven or admin-triggered.
	jobMu sync.Mutex

	mu      sync.Mutex
	running bool
	stopc   chan struct{}
	wg      sync.WaitGroup
}

// New wires a scheduler from the resolved configuration. Interval hours at or
// below zero fall back to daily.
func New(st *store.Store, bm *backup.Manager, cfg *config.Config) *Scheduler {
	return &Scheduler{
		store:   st,
		backups: bm,
		policy: store.RetentionPolicy{
			ObservationDays: cfg.Retention.ObservationDays,
			SummaryDays:     cfg.Retention.SummaryDays,
			PromptDays:      cfg.Retention.PromptDays,
			KnowledgeDays:   cfg.Retention.KnowledgeDays,
		},
		retentionDelay: retentionStartDelay,
		retentionEvery: hoursOrDaily(cfg.Retention.IntervalHours),
		backupDelay:    backupStartDelay,
		backupEvery:    hoursOrDaily(cfg.Backup.IntervalHours),
	}
}

func hoursOrDaily(h int) time.Duration {
	if h <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(h) * time.Hour
}

// Start launches both job loops. Calling Start on a running scheduler is a
// no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stopc = make(chan struct{})

	s.wg.Add(2)
	go s.loop("retention", s.retentionDelay, s.retentionEvery, s.retention)
	go s.loop("backup", s.backupDelay, s.backupEvery, s.backupOnce)

	logging.Get(logging.CategoryScheduler).Infow("scheduler started",
		"retention_every", s.retentionEvery, "backup_every", s.backupEvery)
}

// Stop halts the loops and waits for an in-flight job to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopc)
	s.mu.Unlock()

	s.wg.Wait()
	logging.Get(logging.CategoryScheduler).Infow("scheduler stopped")
}

func (s *Scheduler) loop(name string, delay, every time.Duration, job func(context.Context) error) {
	defer s.wg.Done()

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-s.stopc:
		return
	case <-timer.C:
	}
	s.runJob(name, job)

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopc:
			return
		case <-ticker.C:
			s.runJob(name, job)
		}
	}
}

func (s *Scheduler) runJob(name string, job func(context.Context) error) {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	log := logging.Get(logging.CategoryScheduler)
	start := time.Now()
	if err := job(ctx); err != nil {
		log.Errorw("scheduled job failed", "job", name, "error", err)
		return
	}
	log.Debugw("scheduled job complete", "job", name, "elapsed", time.Since(start))
}

func (s *Scheduler) retention(ctx context.Context) error {
	_, err := s.store.ApplyRetention(ctx, s.policy)
	return err
}

func (s *Scheduler) backupOnce(ctx context.Context) error {
	_, err := s.backups.Create(ctx)
	return err
}

// RunRetentionNow applies retention immediately, holding the job mutex. A
// nil policy uses the configured one; overrides replace it wholesale.
func (s *Scheduler) RunRetentionNow(ctx context.Context, override *store.RetentionPolicy) (*store.RetentionCounts, error) {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	policy := s.policy
	if override != nil {
		policy = *override
	}
	return s.store.ApplyRetention(ctx, policy)
}

// RunBackupNow snapshots the database immediately, holding the job mutex.
func (s *Scheduler) RunBackupNow(ctx context.Context) (*backup.Info, error) {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()
	return s.backups.Create(ctx)
}

// Policy returns the configured retention policy.
func (s *Scheduler) Policy() store.RetentionPolicy { return s.policy }
