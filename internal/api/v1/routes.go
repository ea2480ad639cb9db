package v1

import (
	"time"

	"github.com/gin-gonic/gin"

	"dcard-ledger/internal/api/middleware"
	"dcard-ledger/internal/service"
)

// LedgerServices are the operations the voucher routes call.
type LedgerServices struct {
	Issuer   *service.Issuer
	Verifier *service.Verifier
	Redeemer *service.Redeemer
	History  *service.History
}

// RouteGuards configures the middleware in front of the voucher routes.
type RouteGuards struct {
	Maintenance     *middleware.Maintenance
	Limiter         *middleware.RateLimiter
	VerifyPerMinute int
	BurnPerMinute   int
}

func (g RouteGuards) write() gin.HandlerFunc {
	if g.Maintenance == nil {
		return passThrough
	}
	return g.Maintenance.Guard()
}

func (g RouteGuards) verifyLimit(scope string) gin.HandlerFunc {
	if g.Limiter == nil {
		return passThrough
	}
	return g.Limiter.ByClientIP(scope, g.VerifyPerMinute, time.Minute)
}

func (g RouteGuards) burnLimit(scope string) gin.HandlerFunc {
	if g.Limiter == nil {
		return passThrough
	}
	return g.Limiter.ByClientAndJSONField(scope, "code", g.BurnPerMinute, time.Minute)
}

func passThrough(c *gin.Context) {
	c.Next()
}

// RegisterLedgerRoutes mounts coupon, ticket and generic voucher routes.
func RegisterLedgerRoutes(group *gin.RouterGroup, services LedgerServices, guards RouteGuards) {
	RegisterCouponRoutes(group, services, guards)
	RegisterTicketRoutes(group, services, guards)
	RegisterVoucherRoutes(group, services, guards)
}
