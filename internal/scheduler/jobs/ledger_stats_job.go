package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"

	"dcard-ledger/internal/metrics"
	"dcard-ledger/internal/model"
	"dcard-ledger/internal/service"
)

type statsSource interface {
	Stats(ctx context.Context) (map[model.VoucherKind]service.KindStats, error)
}

type LedgerStatsJob struct {
	history statsSource
	timeout time.Duration
	logger  *zap.Logger
}

func NewLedgerStatsJob(history statsSource, logger *zap.Logger) *LedgerStatsJob {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &LedgerStatsJob{
		history: history,
		timeout: 20 * time.Second,
		logger:  logger,
	}
}

// RefreshStats recounts the registry and publishes the gauges. Failures keep
// the previous values.
func (j *LedgerStatsJob) RefreshStats() {
	if j == nil || j.history == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	start := time.Now()
	stats, err := j.history.Stats(ctx)
	if err != nil {
		j.logger.Warn("ledger stats refresh failed", zap.Error(err))
		return
	}
	metrics.ObserveStatsRefresh(time.Since(start))

	for kind, s := range stats {
		metrics.SetVoucherCounts(string(kind), s.Active, s.Used)
		metrics.SetVoucherAmounts(string(kind), s.ActiveAmount, s.UsedAmount)
	}
}
