package internalapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap/zapcore"

	"dcard-ledger/internal/api/middleware"
	"dcard-ledger/internal/api/response"
	"dcard-ledger/internal/model"
	"dcard-ledger/internal/service"
	"dcard-ledger/pkg/logger"
)

const readyTimeout = 2 * time.Second

type Pinger interface {
	Ping(ctx context.Context) error
}

type OpsDeps struct {
	InternalToken string
	AllowLoopback bool
	Registry      Pinger
	History       *service.History
	Logs          *logger.Store
	Maintenance   *middleware.Maintenance
}

type OpsHandler struct {
	deps OpsDeps
}

type maintenanceRequest struct {
	Enabled *bool `json:"enabled"`
}

func NewOpsHandler(deps OpsDeps) *OpsHandler {
	return &OpsHandler{deps: deps}
}

// RegisterHealthRoutes mounts the unauthenticated liveness and readiness probes.
func RegisterHealthRoutes(router gin.IRoutes, registry Pinger) {
	handler := NewOpsHandler(OpsDeps{Registry: registry})
	router.GET("/health", handler.Live)
	router.GET("/health/ready", handler.Ready)
}

// RegisterOpsRoutes mounts the token protected /internal endpoints.
func RegisterOpsRoutes(router *gin.Engine, deps OpsDeps) {
	handler := NewOpsHandler(deps)
	internal := router.Group("/internal")
	internal.Use(middleware.InternalTokenAuth(deps.InternalToken, deps.AllowLoopback))

	internal.GET("/metrics", gin.WrapH(promhttp.Handler()))
	internal.GET("/logs", handler.QueryLogs)
	internal.GET("/stats", handler.Stats)
	internal.GET("/maintenance", handler.GetMaintenance)
	internal.PUT("/maintenance", handler.SetMaintenance)
}

func (h *OpsHandler) Live(c *gin.Context) {
	response.Success(c, http.StatusOK, gin.H{"status": "ok"})
}

func (h *OpsHandler) Ready(c *gin.Context) {
	if h.deps.Registry == nil {
		response.Fail(c, http.StatusServiceUnavailable, "registry not configured")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), readyTimeout)
	defer cancel()
	if err := h.deps.Registry.Ping(ctx); err != nil {
		_ = c.Error(err)
		response.Fail(c, http.StatusServiceUnavailable, "registry unavailable")
		return
	}
	response.Success(c, http.StatusOK, gin.H{"status": "ready"})
}

func (h *OpsHandler) QueryLogs(c *gin.Context) {
	query := logger.Query{
		MinLevel: zapcore.DebugLevel,
		Keyword:  strings.TrimSpace(c.Query("keyword")),
	}
	if raw := strings.TrimSpace(c.Query("level")); raw != "" {
		level, err := zapcore.ParseLevel(raw)
		if err != nil {
			response.Fail(c, http.StatusBadRequest, "invalid level")
			return
		}
		query.MinLevel = level
	}
	if raw := strings.TrimSpace(c.Query("before")); raw != "" {
		before, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || before <= 0 {
			response.Fail(c, http.StatusBadRequest, "invalid before")
			return
		}
		query.BeforeID = before
	}
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			response.Fail(c, http.StatusBadRequest, "invalid limit")
			return
		}
		query.Limit = limit
	}

	entries := h.deps.Logs.Query(query)
	response.Success(c, http.StatusOK, gin.H{
		"count":   len(entries),
		"entries": entries,
	})
}

func (h *OpsHandler) Stats(c *gin.Context) {
	if h.deps.History == nil {
		response.Fail(c, http.StatusServiceUnavailable, "history unavailable")
		return
	}

	stats, err := h.deps.History.Stats(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		response.Fail(c, http.StatusServiceUnavailable, "registry unavailable")
		return
	}

	out := gin.H{}
	for _, kind := range []model.VoucherKind{model.VoucherKindCoupon, model.VoucherKindTicket} {
		s := stats[kind]
		out[string(kind)] = gin.H{
			"active":       s.Active,
			"used":         s.Used,
			"activeAmount": s.ActiveAmount,
			"usedAmount":   s.UsedAmount,
		}
	}
	response.Success(c, http.StatusOK, gin.H{"stats": out})
}

func (h *OpsHandler) GetMaintenance(c *gin.Context) {
	response.Success(c, http.StatusOK, gin.H{"maintenance": h.deps.Maintenance.Enabled()})
}

func (h *OpsHandler) SetMaintenance(c *gin.Context) {
	var req maintenanceRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Enabled == nil {
		response.Fail(c, http.StatusBadRequest, "enabled is required")
		return
	}

	h.deps.Maintenance.Set(*req.Enabled)
	response.Success(c, http.StatusOK, gin.H{"maintenance": *req.Enabled})
}
