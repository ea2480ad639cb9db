package v1

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"dcard-ledger/internal/model"
)

type couponView struct {
	Code            string  `json:"code"`
	Amount          int64   `json:"amount"`
	SenderName      string  `json:"senderName"`
	Beneficiary     string  `json:"beneficiary"`
	ReceiverCountry string  `json:"receiverCountry,omitempty"`
	CreatedAt       string  `json:"createdAt"`
	Used            bool    `json:"used"`
	UsedAt          *string `json:"usedAt,omitempty"`
}

type productView struct {
	Name     string `json:"name"`
	Quantity int64  `json:"quantity"`
	Price    int64  `json:"price"`
}

type ticketView struct {
	Code         string        `json:"code"`
	Amount       int64         `json:"amount"`
	TotalAmount  int64         `json:"totalAmount"`
	BuyerName    string        `json:"buyerName"`
	Beneficiary  string        `json:"beneficiary"`
	Products     []productView `json:"products"`
	ProductCount int           `json:"productCount"`
	ItemQuantity int64         `json:"itemQuantity"`
	CreatedAt    string        `json:"createdAt"`
	Used         bool          `json:"used"`
	UsedAt       *string       `json:"usedAt,omitempty"`
}

func newCouponView(v *model.Voucher) couponView {
	return couponView{
		Code:            v.Code,
		Amount:          v.Amount,
		SenderName:      v.HolderName,
		Beneficiary:     v.Beneficiary,
		ReceiverCountry: v.ReceiverCountry,
		CreatedAt:       isoTime(v.CreatedTime()),
		Used:            v.Used,
		UsedAt:          isoTimePtr(v.UsedTime()),
	}
}

func newTicketView(v *model.Voucher) ticketView {
	products := make([]productView, 0, len(v.LineItems))
	for _, item := range v.LineItems {
		products = append(products, productView{Name: item.Name, Quantity: item.Quantity, Price: item.UnitPrice})
	}
	return ticketView{
		Code:         v.Code,
		Amount:       v.Amount,
		TotalAmount:  v.Amount,
		BuyerName:    v.HolderName,
		Beneficiary:  v.Beneficiary,
		Products:     products,
		ProductCount: v.ProductCount(),
		ItemQuantity: v.ItemQuantity(),
		CreatedAt:    isoTime(v.CreatedTime()),
		Used:         v.Used,
		UsedAt:       isoTimePtr(v.UsedTime()),
	}
}

func couponViews(items []*model.Voucher) []couponView {
	out := make([]couponView, 0, len(items))
	for _, item := range items {
		out = append(out, newCouponView(item))
	}
	return out
}

func ticketViews(items []*model.Voucher) []ticketView {
	out := make([]ticketView, 0, len(items))
	for _, item := range items {
		out = append(out, newTicketView(item))
	}
	return out
}

// withReceipt adds txHash and, for chain backends, blockNumber.
func withReceipt(body gin.H, hashKey string, receipt *model.Receipt) gin.H {
	if receipt == nil {
		return body
	}
	body[hashKey] = receipt.Handle
	if receipt.BlockNumber != nil {
		body["blockNumber"] = *receipt.BlockNumber
	}
	return body
}

func isoTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func isoTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	out := isoTime(*t)
	return &out
}

// decimalAmount renders minor units as the integer string the front-end reads.
func decimalAmount(amount int64) string {
	return strconv.FormatInt(amount, 10)
}

func parseUserID(raw string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id < 0 {
		return 0, false
	}
	return id, true
}

func sortedCopy(values []string) []string {
	out := append([]string(nil), values...)
	sort.Strings(out)
	return out
}
