package jobs

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// DefaultCleanupCron sweeps the cache at minute 15 of every hour
const DefaultCleanupCron = "0 15 * * * *"

// Scheduler runs the periodic jobs on cron expressions with a seconds field
type Scheduler struct {
	Cron    *cron.Cron
	Sync    *SyncJob
	Cleanup *CacheCleanupJob
	Clean   bool
	Ctx     context.Context
}

// NewScheduler creates a scheduler. cleanup may be nil.
func NewScheduler(ctx context.Context, sync *SyncJob, cleanup *CacheCleanupJob, clean bool) *Scheduler {
	return &Scheduler{
		Cron:    cron.New(cron.WithSeconds()),
		Sync:    sync,
		Cleanup: cleanup,
		Clean:   clean,
		Ctx:     ctx,
	}
}

// RegisterAll registers the sync and cache cleanup tasks
func (s *Scheduler) RegisterAll(syncCron, cleanupCron string) error {
	if _, err := s.Cron.AddFunc(syncCron, s.syncTask); err != nil {
		return fmt.Errorf("register sync task: %w", err)
	}
	if s.Cleanup == nil {
		return nil
	}
	if cleanupCron == "" {
		cleanupCron = DefaultCleanupCron
	}
	if _, err := s.Cron.AddFunc(cleanupCron, func() { s.Cleanup.Run() }); err != nil {
		return fmt.Errorf("register cleanup task: %w", err)
	}
	return nil
}

// Start starts the cron scheduler
func (s *Scheduler) Start() {
	s.Cron.Start()
	logrus.WithFields(logrus.Fields{
		"component": "Scheduler",
		"entries":   len(s.Cron.Entries()),
	}).Info("Scheduler started")
}

// Stop stops the scheduler and waits for running jobs
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	logrus.WithField("component", "Scheduler").Info("Scheduler stopped")
}

// RunSyncNow executes the sync task immediately (SYNC_ON_START)
func (s *Scheduler) RunSyncNow() {
	s.syncTask()
}

func (s *Scheduler) syncTask() {
	// a rejected or failed run is already logged by the job
	_, _ = s.Sync.Run(s.Ctx, SyncOptions{Clean: s.Clean})
}
