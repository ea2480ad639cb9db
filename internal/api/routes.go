package api

import (
	"github.com/gin-gonic/gin"

	internalapi "dcard-ledger/internal/api/internal"
)

type (
	OpsDeps = internalapi.OpsDeps
	Pinger  = internalapi.Pinger
)

// RegisterHealthRoutes mounts /health and /health/ready on router.
func RegisterHealthRoutes(router gin.IRoutes, registry Pinger) {
	internalapi.RegisterHealthRoutes(router, registry)
}

func RegisterInternalRoutes(router *gin.Engine, deps OpsDeps) {
	internalapi.RegisterOpsRoutes(router, deps)
}
