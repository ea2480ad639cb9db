package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"dcard-ledger/internal/api/response"
	inputsanitize "dcard-ledger/internal/api/sanitize"
	"dcard-ledger/internal/service"
)

// VoucherHandler serves call sites that burn a code without knowing its kind.
type VoucherHandler struct {
	redeemer *service.Redeemer
}

func NewVoucherHandler(services LedgerServices) *VoucherHandler {
	return &VoucherHandler{redeemer: services.Redeemer}
}

func RegisterVoucherRoutes(group *gin.RouterGroup, services LedgerServices, guards RouteGuards) {
	handler := NewVoucherHandler(services)
	group.POST("/vouchers/burn", guards.write(), guards.burnLimit("vouchers.burn"), handler.Burn)
}

func (h *VoucherHandler) Burn(c *gin.Context) {
	var req burnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.redeemer.Burn(c.Request.Context(), service.BurnInput{
		Code:        req.Code,
		Beneficiary: inputsanitize.Text(req.Beneficiary),
	})
	if err != nil {
		handleLedgerError(c, err)
		return
	}

	response.Success(c, http.StatusOK, withReceipt(gin.H{
		"kind":     string(result.Voucher.Kind),
		"code":     result.Voucher.Code,
		"burnedAt": isoTime(result.BurnedAt),
	}, "txHash", result.Receipt))
}
