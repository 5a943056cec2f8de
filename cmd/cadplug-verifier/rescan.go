package main

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/cadplug/pkg/api"
	"github.com/platinummonkey/cadplug/pkg/observability"
)

// scheduleRescan registers a job that re-verifies every recorded archive on
// the cron schedule. An empty schedule disables the job.
func scheduleRescan(ctx context.Context, c *cron.Cron, schedule string, service *api.VerificationService, logger *logrus.Logger) error {
	if schedule == "" {
		logger.Info("Scheduled rescans are disabled")
		return nil
	}
	if _, err := c.AddFunc(schedule, rescanJob(ctx, service, logger)); err != nil {
		return fmt.Errorf("failed to schedule rescan %q: %w", schedule, err)
	}
	logger.WithField("schedule", schedule).Info("Scheduled archive rescans")
	return nil
}

func rescanJob(ctx context.Context, service *api.VerificationService, logger *logrus.Logger) func() {
	return func() {
		defer observability.RecoverPanic(logger, "rescan")

		logger.Info("Starting archive rescan")
		summary, err := service.Rescan(ctx)
		log := logger.WithFields(logrus.Fields{
			"checked": summary.Checked,
			"missing": summary.Missing,
			"changed": summary.Changed,
			"invalid": summary.Invalid,
		})
		if err != nil {
			log.WithError(err).Error("Archive rescan failed")
			return
		}
		if summary.Changed > 0 {
			log.Warn("Archive rescan found modified packages")
			return
		}
		log.Info("Archive rescan completed")
	}
}
