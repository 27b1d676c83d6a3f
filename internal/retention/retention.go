package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"streamcart/pkg/config"
	"streamcart/pkg/logger"
	"streamcart/pkg/store"
	"streamcart/pkg/telemetry"
)

// The retention runner enforces the queue TTL in the durable queue
// namespace (the broker also enforces it at pop) and, only when an
// operator configures a period, ages out old audit log entries. Queue
// expiry is a metric, never an error: expired comments stay in the audit
// log for replay.

// Start launches the cron-scheduled sweeper. Returns a cancel func.
func Start(ctx context.Context, cfg config.RetentionConfig, qcfg config.QueueConfig) (context.CancelFunc, error) {
	if !cfg.Enabled {
		logger.Info("retention_disabled")
		return func() {}, nil
	}
	cronExpr := cfg.Cron
	if cronExpr == "" {
		cronExpr = "*/10 * * * *"
	}
	if !gronx.IsValid(cronExpr) {
		logger.Error("retention_invalid_cron", "cron", cfg.Cron)
		return nil, fmt.Errorf("invalid retention cron expression: %s", cfg.Cron)
	}
	logger.Info("retention_enabled", "cron", cronExpr, "queue_ttl", qcfg.TTL.Duration().String(), "audit_period", cfg.AuditPeriod)
	ctx2, cancel := context.WithCancel(ctx)
	go runScheduler(ctx2, cfg, qcfg, cronExpr)
	return cancel, nil
}

// runScheduler computes the next cron tick with gronx and sleeps until it.
func runScheduler(ctx context.Context, cfg config.RetentionConfig, qcfg config.QueueConfig, cronExpr string) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		default:
		}
		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Error("retention_nexttick_failed", "cron", cronExpr, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}
		select {
		case <-time.After(time.Until(next)):
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		}
		if err := RunOnce(cfg, qcfg); err != nil {
			logger.Error("retention_run_error", "error", err)
		}
	}
}

// RunOnce performs a single sweep. Exposed for tests and admin triggers.
func RunOnce(cfg config.RetentionConfig, qcfg config.QueueConfig) error {
	n, err := store.SweepExpiredQueueEntries(qcfg.TTL.Duration())
	if err != nil {
		return fmt.Errorf("queue sweep: %w", err)
	}
	if n > 0 {
		telemetry.QueueExpiredTotal.Add(float64(n))
	}
	if cfg.AuditPeriod != "" {
		period, perr := time.ParseDuration(cfg.AuditPeriod)
		if perr != nil {
			return fmt.Errorf("invalid audit_period %q: %w", cfg.AuditPeriod, perr)
		}
		removed, serr := store.SweepAudit(time.Now().Add(-period))
		if serr != nil {
			return fmt.Errorf("audit sweep: %w", serr)
		}
		if removed > 0 {
			logger.Info("audit_entries_retired", "count", removed, "period", cfg.AuditPeriod)
		}
	}
	return nil
}
