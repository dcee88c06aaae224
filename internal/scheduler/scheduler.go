package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/macjediwizard/coursesync/internal/calsync"
	"github.com/macjediwizard/coursesync/internal/gcal"
)

const (
	cleanupSchedule  = "@daily"
	logRetentionDays = 30
	syncTimeout      = 10 * time.Minute // Maximum time for a single sync run
)

// Runner performs one sync pass. *calsync.Engine implements it.
type Runner interface {
	Run(ctx context.Context, userID, trigger string, overrides *calsync.Overrides) (*calsync.Report, error)
}

// Store is the persistence the scheduler needs. *db.DB implements it.
type Store interface {
	ListConnectedUserIDs() ([]string, error)
	CleanOldSyncLogs(olderThan time.Time) (int64, error)
}

// Scheduler runs background syncs for every connected user on a cron schedule.
type Scheduler struct {
	store    Store
	runner   Runner
	schedule string

	mu        sync.Mutex
	cron      *cron.Cron
	syncLocks map[string]*sync.Mutex // Per-user locks to prevent overlapping runs
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	started   bool
}

// New creates a new scheduler. schedule is a standard five-field cron
// expression.
func New(store Store, runner Runner, schedule string) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		store:     store,
		runner:    runner,
		schedule:  schedule,
		syncLocks: make(map[string]*sync.Mutex),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start registers the sync and cleanup jobs and starts the cron loop.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	if s.ctx.Err() != nil {
		s.ctx, s.cancel = context.WithCancel(context.Background())
	}

	c := cron.New()
	if _, err := c.AddFunc(s.schedule, s.runAll); err != nil {
		return fmt.Errorf("invalid sync schedule %q: %w", s.schedule, err)
	}
	if _, err := c.AddFunc(cleanupSchedule, s.cleanupOldLogs); err != nil {
		return fmt.Errorf("invalid cleanup schedule: %w", err)
	}
	c.Start()

	s.cron = c
	s.started = true
	log.Printf("Scheduler started (sync schedule %q)", s.schedule)
	return nil
}

// Stop cancels in-flight runs and waits for them to finish. A later Start
// runs with a fresh context.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	c, cancel := s.cron, s.cancel
	s.mu.Unlock()

	cancel()
	<-c.Stop().Done()
	s.wg.Wait()
	log.Println("Scheduler stopped")
}

// runAll starts one run per connected user. Users run concurrently; each
// user's calls are spaced by their own rate limiter.
func (s *Scheduler) runAll() {
	userIDs, err := s.store.ListConnectedUserIDs()
	if err != nil {
		log.Printf("Failed to list connected users: %v", err)
		return
	}

	for _, userID := range userIDs {
		s.wg.Add(1)
		go func(userID string) {
			defer s.wg.Done()
			s.executeSync(userID)
		}(userID)
	}
}

// getSyncLock returns the mutex for a user, creating one if needed.
func (s *Scheduler) getSyncLock(userID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	if lock, exists := s.syncLocks[userID]; exists {
		return lock
	}

	lock := &sync.Mutex{}
	s.syncLocks[userID] = lock
	return lock
}

// executeSync runs a scheduled sync for one user. It reports whether the
// runner was invoked.
func (s *Scheduler) executeSync(userID string) bool {
	lock := s.getSyncLock(userID)
	if !lock.TryLock() {
		log.Printf("Skipping sync for user %s - another sync is already in progress", userID)
		return false
	}
	defer lock.Unlock()

	s.mu.Lock()
	parent := s.ctx
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(parent, syncTimeout)
	defer cancel()

	report, err := s.runner.Run(ctx, userID, "scheduled", nil)
	switch {
	case err == nil:
		log.Printf("Scheduled sync for user %s: %s", userID, report.Summary())
	case errors.Is(err, calsync.ErrCooldown):
		log.Printf("Skipping sync for user %s: %v", userID, err)
	case errors.Is(err, calsync.ErrNotConnected):
		log.Printf("Skipping sync for user %s: calendar disconnected", userID)
	case errors.Is(err, gcal.ErrAuth):
		log.Printf("Sync for user %s needs reconnect: %v", userID, err)
	default:
		log.Printf("Scheduled sync failed for user %s: %v", userID, err)
	}
	return true
}

// cleanupOldLogs deletes sync logs older than retention period.
func (s *Scheduler) cleanupOldLogs() {
	cutoff := time.Now().AddDate(0, 0, -logRetentionDays)
	deleted, err := s.store.CleanOldSyncLogs(cutoff)
	if err != nil {
		log.Printf("Failed to clean old sync logs: %v", err)
		return
	}
	if deleted > 0 {
		log.Printf("Cleaned %d old sync logs", deleted)
	}
}
