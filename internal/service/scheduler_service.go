package service

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Reaper drops expired state and reports how many entries went away.
type Reaper interface {
	Reap(ctx context.Context) (int, error)
}

// SchedulerService runs background housekeeping on a cron table. A job that
// is still running when its next tick arrives skips that tick.
type SchedulerService struct {
	cron *cron.Cron
	log  *zap.Logger
}

func NewSchedulerService(loc *time.Location, log *zap.Logger) *SchedulerService {
	return &SchedulerService{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithSeconds(),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		log: log,
	}
}

func (s *SchedulerService) Start() {
	s.cron.Start()
}

// Stop waits for running jobs to finish.
func (s *SchedulerService) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// ScheduleReaper calls r.Reap every interval. Each run gets its own context
// bounded by timeout; failures are logged and retried on the next tick.
func (s *SchedulerService) ScheduleReaper(name string, interval, timeout time.Duration, r Reaper) (cron.EntryID, error) {
	spec, err := everySpec(interval)
	if err != nil {
		return 0, fmt.Errorf("schedule %s: %w", name, err)
	}

	return s.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		removed, err := r.Reap(ctx)
		if err != nil {
			s.log.Warn("reaper failed", zap.String("job", name), zap.Error(err))
			return
		}
		s.log.Debug("reaper finished", zap.String("job", name), zap.Int("removed", removed))
	})
}

// everySpec turns interval into an "@every" spec with whole seconds.
func everySpec(interval time.Duration) (string, error) {
	if interval < time.Second {
		return "", fmt.Errorf("interval %s is shorter than one second", interval)
	}
	return "@every " + interval.Truncate(time.Second).String(), nil
}
