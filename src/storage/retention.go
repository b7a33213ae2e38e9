package storage

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"keeper-oracle/src/interfaces"
	"keeper-oracle/src/logger"
)

const DefaultCleanupSchedule = "@hourly"

// -----------------------------------------------------------------------------

// RetentionScheduler runs CleanupOldData on a cron schedule.
type RetentionScheduler struct {
	cron   *cron.Cron
	db     interfaces.IDatabase
	logger *logger.Logger
}

func NewRetentionScheduler(db interfaces.IDatabase, schedule string, log *logger.Logger) (*RetentionScheduler, error) {
	if schedule == "" {
		schedule = DefaultCleanupSchedule
	}
	if log == nil {
		log = logger.NewLogger(nil, "Retention")
	}

	s := &RetentionScheduler{
		cron:   cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		db:     db,
		logger: log,
	}
	if _, err := s.cron.AddFunc(schedule, s.RunOnce); err != nil {
		return nil, fmt.Errorf("invalid cleanup schedule %q: %w", schedule, err)
	}
	return s, nil
}

// RunOnce performs one cleanup pass.
func (s *RetentionScheduler) RunOnce() {
	if err := s.db.CleanupOldData(); err != nil {
		s.logger.Error("Retention cleanup failed: %v", err)
	}
}

func (s *RetentionScheduler) Start() {
	s.cron.Start()
	s.logger.Info("Retention cleanup scheduled (%d entries)", len(s.cron.Entries()))
}

// Stop waits for a running cleanup to finish or ctx to end.
func (s *RetentionScheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}
