package hub

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// StartHousekeeping schedules RunHousekeepingCycle on spec and starts the scheduler.
// The caller stops it with the returned cron's Stop.
func (s *Service) StartHousekeeping(spec string, retention time.Duration) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		s.RunHousekeepingCycle(ctx, retention)
	})
	if err != nil {
		return nil, fmt.Errorf("invalid housekeeping schedule %q: %w", spec, err)
	}
	c.Start()
	s.logger.Info("Housekeeping scheduled", zap.String("spec", spec), zap.Duration("retention", retention))
	return c, nil
}

// RunHousekeepingCycle purges emergencies older than retention and logs a report.
func (s *Service) RunHousekeepingCycle(ctx context.Context, retention time.Duration) string {
	var purged int64
	if retention > 0 {
		n, err := s.store.PurgeEmergencies(ctx, s.now().Add(-retention))
		if err != nil {
			s.logger.Error("Housekeeping purge failed", zap.Error(err))
		} else {
			purged = n
		}
	}

	open, err := s.store.CountOpenEmergencies(ctx)
	if err != nil {
		s.logger.Error("Housekeeping count failed", zap.Error(err))
		open = -1
	}

	s.recentMu.Lock()
	recent := s.recent
	s.recent = make(map[string]string)
	s.recentMu.Unlock()

	stats := s.Stats()

	var report strings.Builder
	report.WriteString("\n--- Housekeeping Report ---\n")
	report.WriteString(fmt.Sprintf("%-36s | %-15s\n", "Emergency", "Type"))
	report.WriteString(strings.Repeat("-", 54) + "\n")
	if len(recent) == 0 {
		report.WriteString("No new emergencies since last cycle.\n")
	} else {
		for id, typ := range recent {
			report.WriteString(fmt.Sprintf("%-36s | %-15s\n", id, typ))
		}
	}
	report.WriteString(fmt.Sprintf("Awaiting first reply: %d\n", open))
	report.WriteString(fmt.Sprintf("Replies published: %d, publish failures: %d\n", stats.Published, stats.Failed))
	if purged > 0 {
		report.WriteString(fmt.Sprintf("Purged %d emergencies older than %s.\n", purged, retention))
	}
	report.WriteString(strings.Repeat("-", 54))

	s.logger.Info(report.String(),
		zap.Int("new_emergencies", len(recent)),
		zap.Int("open_emergencies", open),
		zap.Int64("purged", purged),
	)
	return report.String()
}
