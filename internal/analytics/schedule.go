package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler runs the retention cleanup on a cron schedule.
type Scheduler struct {
	cron      *cron.Cron
	store     *Store
	retention time.Duration
}

// NewScheduler registers the cleanup job. schedule accepts standard five-field
// cron expressions and descriptors such as "@daily".
func NewScheduler(store *Store, schedule string, retention time.Duration) (*Scheduler, error) {
	s := &Scheduler{
		cron:      cron.New(),
		store:     store,
		retention: retention,
	}
	if _, err := s.cron.AddFunc(schedule, s.RunCleanup); err != nil {
		return nil, fmt.Errorf("schedule cleanup %q: %w", schedule, err)
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the scheduler and waits for a running job.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Scheduler) RunCleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if _, err := s.store.Cleanup(ctx, s.retention); err != nil {
		s.store.log.Error("error cleaning up visitor data", zap.Error(err))
	}
}
