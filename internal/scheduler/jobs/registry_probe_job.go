package jobs

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"dcard-ledger/internal/metrics"
)

type pinger interface {
	Ping(ctx context.Context) error
}

// RegistryProbeJob pings the registry and remembers the outcome for the
// readiness endpoint.
type RegistryProbeJob struct {
	registry pinger
	timeout  time.Duration
	healthy  atomic.Bool
	logger   *zap.Logger
}

func NewRegistryProbeJob(registry pinger, logger *zap.Logger) *RegistryProbeJob {
	if logger == nil {
		logger = zap.NewNop()
	}

	job := &RegistryProbeJob{registry: registry, timeout: 5 * time.Second, logger: logger}
	job.healthy.Store(true)
	return job
}

func (j *RegistryProbeJob) Probe() {
	if j == nil || j.registry == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	err := j.registry.Ping(ctx)
	metrics.SetRegistryUp(err == nil)
	was := j.healthy.Swap(err == nil)
	switch {
	case err != nil && was:
		j.logger.Warn("voucher registry became unreachable", zap.Error(err))
	case err == nil && !was:
		j.logger.Info("voucher registry reachable again")
	}
}

func (j *RegistryProbeJob) Healthy() bool {
	if j == nil {
		return true
	}
	return j.healthy.Load()
}
