package repository

import (
	"context"

	"dcard-ledger/internal/model"
)

type VoucherListFilter struct {
	Kind        model.VoucherKind
	OwnerUserID *int64
	Used        *bool
}

// VoucherRegistry is the single source of truth for coupons and tickets.
//
// Create inserts a record whose code is not yet taken, in either kind.
// Update accepts exactly one change: used false to true. Every other change
// is rejected by the implementation, not by its callers.
// List returns records in creation order and an empty slice when nothing
// matches.
type VoucherRegistry interface {
	FindByCode(ctx context.Context, code string) (*model.Voucher, error)
	Create(ctx context.Context, voucher *model.Voucher) (*model.Receipt, error)
	Update(ctx context.Context, voucher *model.Voucher) (*model.Receipt, error)
	List(ctx context.Context, filter VoucherListFilter) ([]*model.Voucher, error)
	Ping(ctx context.Context) error
}

// Matches reports whether a voucher passes the filter.
func (f VoucherListFilter) Matches(v *model.Voucher) bool {
	if v == nil {
		return false
	}
	if f.Kind != "" && v.Kind != f.Kind {
		return false
	}
	if f.OwnerUserID != nil && v.OwnerUserID != *f.OwnerUserID {
		return false
	}
	if f.Used != nil && v.Used != *f.Used {
		return false
	}
	return true
}
