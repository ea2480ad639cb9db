package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"dcard-ledger/internal/api/response"
	inputsanitize "dcard-ledger/internal/api/sanitize"
	"dcard-ledger/internal/model"
	"dcard-ledger/internal/service"
)

type CouponHandler struct {
	issuer   *service.Issuer
	verifier *service.Verifier
	redeemer *service.Redeemer
	history  *service.History
}

type issueCouponRequest struct {
	Code            string `json:"code"`
	SenderName      string `json:"senderName"`
	SenderEmail     string `json:"senderEmail"`
	Beneficiary     string `json:"beneficiary"`
	UserID          *int64 `json:"userId"`
	Amount          *int64 `json:"amount"`
	ReceiverCountry string `json:"receiverCountry"`
}

type verifyCouponRequest struct {
	Code                   string `json:"code"`
	NomFamilleBeneficiaire string `json:"nomFamilleBeneficiaire"`
}

type burnRequest struct {
	Code        string `json:"code"`
	Beneficiary string `json:"beneficiary"`
}

func NewCouponHandler(services LedgerServices) *CouponHandler {
	return &CouponHandler{
		issuer:   services.Issuer,
		verifier: services.Verifier,
		redeemer: services.Redeemer,
		history:  services.History,
	}
}

func RegisterCouponRoutes(group *gin.RouterGroup, services LedgerServices, guards RouteGuards) {
	handler := NewCouponHandler(services)
	coupons := group.Group("/coupons")

	coupons.GET("", handler.List)
	coupons.GET("/user/:userId", handler.ListByUser)
	coupons.POST("", guards.write(), handler.Issue)
	coupons.POST("/verify", guards.verifyLimit("coupons.verify"), handler.Verify)
	coupons.POST("/burn", guards.write(), guards.burnLimit("coupons.burn"), handler.Burn)
}

func (h *CouponHandler) Issue(c *gin.Context) {
	var req issueCouponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == nil {
		badRequest(c, "userId", "required")
		return
	}
	if req.Amount == nil {
		badRequest(c, "amount", "required")
		return
	}
	if rejectMarkup(c, inputsanitize.Fields(map[string]*string{
		"senderName":      &req.SenderName,
		"beneficiary":     &req.Beneficiary,
		"receiverCountry": &req.ReceiverCountry,
	})) {
		return
	}

	result, err := h.issuer.IssueCoupon(c.Request.Context(), service.IssueCouponInput{
		Code:            req.Code,
		SenderName:      req.SenderName,
		SenderEmail:     req.SenderEmail,
		Beneficiary:     req.Beneficiary,
		OwnerUserID:     *req.UserID,
		Amount:          *req.Amount,
		ReceiverCountry: req.ReceiverCountry,
	})
	if err != nil {
		handleLedgerError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, withReceipt(gin.H{
		"couponCode": result.Voucher.Code,
		"createdAt":  isoTime(result.Voucher.CreatedTime()),
	}, "txHash", result.Receipt))
}

func (h *CouponHandler) Verify(c *gin.Context) {
	var req verifyCouponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.verifier.VerifyCoupon(c.Request.Context(), req.Code, inputsanitize.Text(req.NomFamilleBeneficiaire))
	if err != nil {
		handleLedgerError(c, err)
		return
	}

	data := gin.H{
		"isValid":     result.IsValid,
		"senderName":  "",
		"beneficiary": "",
		"amount":      decimalAmount(0),
		"isUsed":      false,
		"reason":      string(result.Reason),
	}
	// A caller who names the wrong beneficiary learns nothing about the record.
	if v := result.Voucher; v != nil && result.Reason != service.ReasonBeneficiaryMismatch {
		data["senderName"] = v.HolderName
		data["beneficiary"] = v.Beneficiary
		data["amount"] = decimalAmount(v.Amount)
		data["isUsed"] = v.Used
	}
	response.Data(c, http.StatusOK, data)
}

func (h *CouponHandler) Burn(c *gin.Context) {
	var req burnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.redeemer.Burn(c.Request.Context(), service.BurnInput{
		Code:        req.Code,
		Kind:        model.VoucherKindCoupon,
		Beneficiary: inputsanitize.Text(req.Beneficiary),
	})
	if err != nil {
		handleLedgerError(c, err)
		return
	}

	response.Success(c, http.StatusOK, withReceipt(gin.H{
		"couponCode": result.Voucher.Code,
		"burnedAt":   isoTime(result.BurnedAt),
	}, "txHash", result.Receipt))
}

func (h *CouponHandler) List(c *gin.Context) {
	items, err := h.history.ListAll(c.Request.Context(), model.VoucherKindCoupon)
	if err != nil {
		handleLedgerError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"count":   len(items),
		"coupons": couponViews(items),
	})
}

func (h *CouponHandler) ListByUser(c *gin.Context) {
	userID, ok := parseUserID(c.Param("userId"))
	if !ok {
		badRequest(c, "userId", "must be a non-negative integer")
		return
	}

	items, err := h.history.ListByOwner(c.Request.Context(), model.VoucherKindCoupon, userID)
	if err != nil {
		handleLedgerError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"userId":  userID,
		"count":   len(items),
		"coupons": couponViews(items),
	})
}
