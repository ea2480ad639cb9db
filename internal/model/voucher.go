package model

import (
	"errors"
	"math"
	"time"
)

type VoucherKind string

const (
	VoucherKindCoupon VoucherKind = "coupon"
	VoucherKindTicket VoucherKind = "ticket"
)

func (k VoucherKind) Valid() bool {
	return k == VoucherKindCoupon || k == VoucherKindTicket
}

type VoucherState string

const (
	VoucherStateActive VoucherState = "active"
	VoucherStateUsed   VoucherState = "used"
)

var (
	ErrAmountOverflow     = errors.New("amount overflows int64")
	ErrConservationBroken = errors.New("total amount does not match line items")
)

type LineItem struct {
	Name      string `json:"name"`
	Quantity  int64  `json:"quantity"`
	UnitPrice int64  `json:"price"`
}

// Voucher is a coupon or a marketplace ticket. Both kinds share the code
// namespace, the state machine and the registry.
//
// HolderName/HolderEmail hold the sender for coupons and the buyer for tickets.
// Amount holds the coupon amount or the ticket total, in minor units.
type Voucher struct {
	Kind            VoucherKind `json:"kind"`
	Code            string      `json:"code"`
	HolderName      string      `json:"holder_name"`
	HolderEmail     string      `json:"holder_email"`
	Beneficiary     string      `json:"beneficiary"`
	OwnerUserID     int64       `json:"owner_user_id"`
	Amount          int64       `json:"amount"`
	LineItems       []LineItem  `json:"line_items,omitempty"`
	ReceiverCountry string      `json:"receiver_country,omitempty"`
	CreatedAt       int64       `json:"created_at"`
	Used            bool        `json:"used"`
	UsedAt          *int64      `json:"used_at,omitempty"`
}

type Receipt struct {
	Handle      string  `json:"handle"`
	BlockNumber *uint64 `json:"block_number,omitempty"`
}

func (v *Voucher) State() VoucherState {
	if v.Used {
		return VoucherStateUsed
	}
	return VoucherStateActive
}

// ProductCount is the number of line items, not the summed quantity.
func (v *Voucher) ProductCount() int {
	return len(v.LineItems)
}

func (v *Voucher) ItemQuantity() int64 {
	var total int64
	for _, item := range v.LineItems {
		total += item.Quantity
	}
	return total
}

func (v *Voucher) CreatedTime() time.Time {
	return time.Unix(v.CreatedAt, 0).UTC()
}

func (v *Voucher) UsedTime() *time.Time {
	if v.UsedAt == nil {
		return nil
	}
	t := time.Unix(*v.UsedAt, 0).UTC()
	return &t
}

// CheckConservation re-derives a ticket total from its line items. Coupons
// always pass.
func (v *Voucher) CheckConservation() error {
	if v.Kind != VoucherKindTicket {
		return nil
	}
	total, err := SumLineItems(v.LineItems)
	if err != nil {
		return err
	}
	if total != v.Amount {
		return ErrConservationBroken
	}
	return nil
}

func (v *Voucher) Clone() *Voucher {
	if v == nil {
		return nil
	}
	out := *v
	if v.LineItems != nil {
		out.LineItems = append([]LineItem(nil), v.LineItems...)
	}
	if v.UsedAt != nil {
		usedAt := *v.UsedAt
		out.UsedAt = &usedAt
	}
	return &out
}

// SumLineItems returns Σ quantity × unit price, failing on int64 overflow.
func SumLineItems(items []LineItem) (int64, error) {
	var total int64
	for _, item := range items {
		if item.Quantity != 0 && item.UnitPrice > math.MaxInt64/item.Quantity {
			return 0, ErrAmountOverflow
		}
		line := item.Quantity * item.UnitPrice
		if total > math.MaxInt64-line {
			return 0, ErrAmountOverflow
		}
		total += line
	}
	return total, nil
}

func LineItemsEqual(a, b []LineItem) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
