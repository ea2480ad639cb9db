package metrics

import (
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	VouchersIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dcard_vouchers_issued_total",
		Help: "Vouchers issued, by kind",
	}, []string{"kind"})

	VouchersBurned = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dcard_vouchers_burned_total",
		Help: "Vouchers burned, by kind",
	}, []string{"kind"})

	LedgerErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dcard_ledger_errors_total",
		Help: "Ledger operations rejected, by error kind",
	}, []string{"reason"})

	Vouchers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dcard_vouchers",
		Help: "Vouchers in the registry, by kind and state",
	}, []string{"kind", "state"})

	VoucherAmount = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dcard_voucher_amount_minor_units",
		Help: "Summed voucher amounts in minor units, by kind and state",
	}, []string{"kind", "state"})

	StatsRefreshDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dcard_stats_refresh_duration_seconds",
		Help:    "Time to recount the registry",
		Buckets: prometheus.DefBuckets,
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dcard_http_request_duration_seconds",
		Help:    "HTTP request latency by route and status",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	SSEClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dcard_sse_clients",
		Help: "Current number of SSE clients connected",
	})

	RegistryUp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dcard_registry_up",
		Help: "1 when the last registry probe succeeded",
	})
)

func IncIssued(kind string) {
	VouchersIssued.WithLabelValues(labelOrUnknown(kind)).Inc()
}

func IncBurned(kind string) {
	VouchersBurned.WithLabelValues(labelOrUnknown(kind)).Inc()
}

func IncLedgerError(reason string) {
	LedgerErrors.WithLabelValues(labelOrUnknown(reason)).Inc()
}

func SetVoucherCounts(kind string, active, used int64) {
	Vouchers.WithLabelValues(labelOrUnknown(kind), "active").Set(float64(nonNegative(active)))
	Vouchers.WithLabelValues(labelOrUnknown(kind), "used").Set(float64(nonNegative(used)))
}

func SetVoucherAmounts(kind string, active, used int64) {
	VoucherAmount.WithLabelValues(labelOrUnknown(kind), "active").Set(float64(nonNegative(active)))
	VoucherAmount.WithLabelValues(labelOrUnknown(kind), "used").Set(float64(nonNegative(used)))
}

func ObserveStatsRefresh(duration time.Duration) {
	StatsRefreshDuration.Observe(duration.Seconds())
}

func ObserveHTTPRequest(method, route string, status int, duration time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	HTTPRequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(duration.Seconds())
}

func SetSSEClients(count int) {
	if count < 0 {
		count = 0
	}
	SSEClients.Set(float64(count))
}

func labelOrUnknown(value string) string {
	label := strings.TrimSpace(value)
	if label == "" {
		return "unknown"
	}
	return label
}

func nonNegative(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}

func SetRegistryUp(up bool) {
	if up {
		RegistryUp.Set(1)
		return
	}
	RegistryUp.Set(0)
}
