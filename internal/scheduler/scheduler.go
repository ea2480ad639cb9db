package scheduler

import (
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const (
	specLedgerStats   = "*/30 * * * * *"
	specRegistryProbe = "*/15 * * * * *"
)

type StatsTask interface {
	RefreshStats()
}

type ProbeTask interface {
	Probe()
}

type Deps struct {
	StatsJob StatsTask
	ProbeJob ProbeTask
}

func NewScheduler(deps Deps, logger *zap.Logger) *cron.Cron {
	if logger == nil {
		logger = zap.NewNop()
	}

	c := cron.New(cron.WithSeconds(), cron.WithLocation(time.UTC))

	if deps.StatsJob != nil {
		addFunc(c, specLedgerStats, "ledger.stats", logger, deps.StatsJob.RefreshStats)
	}
	if deps.ProbeJob != nil {
		addFunc(c, specRegistryProbe, "registry.probe", logger, deps.ProbeJob.Probe)
	}

	return c
}

func addFunc(c *cron.Cron, spec string, name string, logger *zap.Logger, fn func()) {
	if c == nil || fn == nil {
		return
	}

	if _, err := c.AddFunc(spec, func() {
		defer recoverJobPanic(name, logger)
		start := time.Now()
		fn()
		logger.Debug("scheduler job finished", zap.String("job", name), zap.Duration("cost", time.Since(start)))
	}); err != nil {
		logger.Error("register scheduler job failed",
			zap.String("job", name),
			zap.String("spec", spec),
			zap.Error(err),
		)
	}
}

func recoverJobPanic(jobName string, logger *zap.Logger) {
	if recovered := recover(); recovered != nil {
		logger.Error("scheduler job panic recovered",
			zap.String("job", jobName),
			zap.Any("panic", recovered),
		)
	}
}
