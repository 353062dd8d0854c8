// services/scheduler.go
package services

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// StartHighlightScheduler clears expired highlights every minute. Shut the returned scheduler
// down on exit.
func (s *ProgressionService) StartHighlightScheduler(ctx context.Context) (gocron.Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	_, err = sched.NewJob(
		gocron.DurationJob(1*time.Minute),
		gocron.NewTask(func() {
			s.ExpireHighlights(ctx)
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return nil, err
	}
	sched.Start()
	return sched, nil
}

// ExpireHighlights runs one expiry sweep.
func (s *ProgressionService) ExpireHighlights(ctx context.Context) int64 {
	n, err := s.Shared.ExpireHighlights(ctx, s.now())
	if err != nil {
		s.log().Error("[Scheduler] failed to expire highlights", zap.Error(err))
		return 0
	}
	if n > 0 {
		s.log().Info("✅ expired highlights", zap.Int64("count", n))
	}
	return n
}
