package checker

import (
	"context"
	"log/slog"

	"attendbot-backend/lib/timezone"

	"github.com/robfig/cron/v3"
)

// StartCron schedules Run on the given cron spec, evaluated in the
// campus timezone. The returned scheduler is already started.
func (s Service) StartCron(spec string, opts RunOptions) (*cron.Cron, error) {
	c := cron.New(cron.WithLocation(timezone.Location))
	_, err := c.AddFunc(spec, func() {
		ctx := context.Background()
		report, err := s.Run(ctx, opts)
		if err != nil {
			slog.ErrorContext(ctx, "scheduled run failed", "err", err)
			return
		}
		slog.InfoContext(
			ctx, "scheduled run finished",
			"processed", report.Processed,
			"failed", report.Failed,
		)
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	return c, nil
}
