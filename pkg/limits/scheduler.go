package limits

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/aicostmanager/aicostmanager-go/pkg/telemetry/logging"
)

// RefreshScheduler refreshes the triggered-limits cache on a cron
// schedule. It is strictly opt-in: the SDK core never refreshes on its
// own.
type RefreshScheduler struct {
	manager  *Manager
	schedule string
	cron     *cron.Cron
	mu       sync.Mutex
	running  bool
	logger   *logging.Logger
}

// NewRefreshScheduler creates a scheduler for the given cron expression,
// e.g. "*/5 * * * *" for every five minutes.
func NewRefreshScheduler(manager *Manager, schedule string, logger *logging.Logger) *RefreshScheduler {
	if logger == nil {
		logger = logging.Default()
	}
	return &RefreshScheduler{
		manager:  manager,
		schedule: schedule,
		cron:     cron.New(),
		logger:   logger.Component("limits.scheduler"),
	}
}

// Start begins scheduled refreshing. The context bounds each refresh call
// and stops the scheduler when cancelled.
func (s *RefreshScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("refresh scheduler already running")
	}
	if _, err := cron.ParseStandard(s.schedule); err != nil {
		return fmt.Errorf("invalid refresh schedule %q: %w", s.schedule, err)
	}

	_, err := s.cron.AddFunc(s.schedule, func() {
		if err := s.manager.Refresh(ctx); err != nil {
			s.logger.Warn("scheduled limits refresh failed", "error", err)
			return
		}
		s.logger.Debug("scheduled limits refresh complete")
	})
	if err != nil {
		return fmt.Errorf("failed to schedule refresh: %w", err)
	}

	s.cron.Start()
	s.running = true
	s.logger.Info("limits refresh scheduler started", "schedule", s.schedule)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Stop halts scheduled refreshing. It is idempotent.
func (s *RefreshScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.cron.Stop()
	s.running = false
	s.logger.Info("limits refresh scheduler stopped")
}
