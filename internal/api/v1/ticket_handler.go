package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"dcard-ledger/internal/api/response"
	inputsanitize "dcard-ledger/internal/api/sanitize"
	"dcard-ledger/internal/model"
	"dcard-ledger/internal/service"
)

type TicketHandler struct {
	issuer   *service.Issuer
	verifier *service.Verifier
	redeemer *service.Redeemer
	history  *service.History
}

type ticketProductRequest struct {
	Name     string `json:"name"`
	Quantity int64  `json:"quantity"`
	Price    int64  `json:"price"`
}

type issueTicketRequest struct {
	Code        string                 `json:"code"`
	BuyerName   string                 `json:"buyerName"`
	BuyerEmail  string                 `json:"buyerEmail"`
	Beneficiary string                 `json:"beneficiary"`
	UserID      *int64                 `json:"userId"`
	TotalAmount *int64                 `json:"totalAmount"`
	Products    []ticketProductRequest `json:"products"`
}

type verifyTicketRequest struct {
	Code string `json:"code"`
}

func NewTicketHandler(services LedgerServices) *TicketHandler {
	return &TicketHandler{
		issuer:   services.Issuer,
		verifier: services.Verifier,
		redeemer: services.Redeemer,
		history:  services.History,
	}
}

func RegisterTicketRoutes(group *gin.RouterGroup, services LedgerServices, guards RouteGuards) {
	handler := NewTicketHandler(services)
	tickets := group.Group("/tickets")

	tickets.GET("", handler.List)
	tickets.GET("/user/:userId", handler.ListByUser)
	tickets.POST("", guards.write(), handler.Issue)
	tickets.POST("/verify", guards.verifyLimit("tickets.verify"), handler.Verify)
	tickets.POST("/burn", guards.write(), guards.burnLimit("tickets.burn"), handler.Burn)
}

func (h *TicketHandler) Issue(c *gin.Context) {
	var req issueTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == nil {
		badRequest(c, "userId", "required")
		return
	}

	if rejectMarkup(c, inputsanitize.Fields(map[string]*string{
		"buyerName":   &req.BuyerName,
		"beneficiary": &req.Beneficiary,
	})) {
		return
	}
	items := make([]model.LineItem, 0, len(req.Products))
	for _, product := range req.Products {
		name := inputsanitize.Text(product.Name)
		if inputsanitize.HasMarkup(name) {
			badRequest(c, "products.name", "must not contain markup")
			return
		}
		items = append(items, model.LineItem{Name: name, Quantity: product.Quantity, UnitPrice: product.Price})
	}

	result, err := h.issuer.IssueTicket(c.Request.Context(), service.IssueTicketInput{
		Code:          req.Code,
		BuyerName:     req.BuyerName,
		BuyerEmail:    req.BuyerEmail,
		Beneficiary:   req.Beneficiary,
		OwnerUserID:   *req.UserID,
		LineItems:     items,
		DeclaredTotal: req.TotalAmount,
	})
	if err != nil {
		handleLedgerError(c, err)
		return
	}

	// couponCode mirrors ticketCode for clients built against the coupon flow.
	response.Success(c, http.StatusCreated, withReceipt(gin.H{
		"couponCode":  result.Voucher.Code,
		"ticketCode":  result.Voucher.Code,
		"totalAmount": result.Voucher.Amount,
		"createdAt":   isoTime(result.Voucher.CreatedTime()),
	}, "transactionHash", result.Receipt))
}

func (h *TicketHandler) Verify(c *gin.Context) {
	var req verifyTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.verifier.VerifyTicket(c.Request.Context(), req.Code)
	if err != nil {
		handleLedgerError(c, err)
		return
	}

	data := gin.H{
		"isValid":      result.IsValid,
		"buyerName":    "",
		"beneficiary":  "",
		"totalAmount":  decimalAmount(0),
		"isUsed":       false,
		"productCount": 0,
		"itemQuantity": int64(0),
		"reason":       string(result.Reason),
	}
	if v := result.Voucher; v != nil {
		data["buyerName"] = v.HolderName
		data["beneficiary"] = v.Beneficiary
		data["totalAmount"] = decimalAmount(v.Amount)
		data["isUsed"] = v.Used
		data["productCount"] = v.ProductCount()
		data["itemQuantity"] = v.ItemQuantity()
	}
	response.Data(c, http.StatusOK, data)
}

func (h *TicketHandler) Burn(c *gin.Context) {
	var req burnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.redeemer.Burn(c.Request.Context(), service.BurnInput{
		Code:        req.Code,
		Kind:        model.VoucherKindTicket,
		Beneficiary: inputsanitize.Text(req.Beneficiary),
	})
	if err != nil {
		handleLedgerError(c, err)
		return
	}

	response.Success(c, http.StatusOK, withReceipt(gin.H{
		"ticketCode": result.Voucher.Code,
		"burnedAt":   isoTime(result.BurnedAt),
	}, "txHash", result.Receipt))
}

func (h *TicketHandler) List(c *gin.Context) {
	items, err := h.history.ListAll(c.Request.Context(), model.VoucherKindTicket)
	if err != nil {
		handleLedgerError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"count":   len(items),
		"tickets": ticketViews(items),
	})
}

func (h *TicketHandler) ListByUser(c *gin.Context) {
	userID, ok := parseUserID(c.Param("userId"))
	if !ok {
		badRequest(c, "userId", "must be a non-negative integer")
		return
	}

	items, err := h.history.ListByOwner(c.Request.Context(), model.VoucherKindTicket, userID)
	if err != nil {
		handleLedgerError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"userId":  userID,
		"count":   len(items),
		"tickets": ticketViews(items),
	})
}
