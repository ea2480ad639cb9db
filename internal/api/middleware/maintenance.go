package middleware

import (
	"net/http"
	"sync/atomic"

	"github.com/gin-gonic/gin"

	"dcard-ledger/internal/api/response"
)

// Maintenance holds the maintenance flag. Guard is attached to the ledger
// write routes only, so verification and history keep working.
type Maintenance struct {
	enabled atomic.Bool
}

func NewMaintenance(enabled bool) *Maintenance {
	m := &Maintenance{}
	m.enabled.Store(enabled)
	return m
}

func (m *Maintenance) Set(enabled bool) {
	if m == nil {
		return
	}
	m.enabled.Store(enabled)
}

func (m *Maintenance) Enabled() bool {
	return m != nil && m.enabled.Load()
}

func (m *Maintenance) Guard() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.Enabled() {
			c.Next()
			return
		}
		c.Header("Retry-After", "60")
		response.Abort(c, http.StatusServiceUnavailable, "ledger is in maintenance mode")
	}
}
