package repository

import (
	"fmt"

	"dcard-ledger/internal/model"
)

// CheckTransition validates next against the stored record. The only change
// it lets through is used going from false to true.
func CheckTransition(stored, next *model.Voucher) error {
	if stored == nil {
		return ErrNotFound
	}
	if next == nil {
		return fmt.Errorf("%w: nil voucher", ErrIllegalTransition)
	}

	switch {
	case stored.Code != next.Code:
		return fmt.Errorf("%w: code", ErrImmutableField)
	case stored.Kind != next.Kind:
		return fmt.Errorf("%w: kind", ErrImmutableField)
	case stored.Amount != next.Amount:
		return fmt.Errorf("%w: amount", ErrImmutableField)
	case stored.Beneficiary != next.Beneficiary:
		return fmt.Errorf("%w: beneficiary", ErrImmutableField)
	case stored.CreatedAt != next.CreatedAt:
		return fmt.Errorf("%w: created_at", ErrImmutableField)
	case stored.HolderName != next.HolderName, stored.HolderEmail != next.HolderEmail:
		return fmt.Errorf("%w: holder", ErrImmutableField)
	case stored.OwnerUserID != next.OwnerUserID:
		return fmt.Errorf("%w: owner_user_id", ErrImmutableField)
	case stored.ReceiverCountry != next.ReceiverCountry:
		return fmt.Errorf("%w: receiver_country", ErrImmutableField)
	case !model.LineItemsEqual(stored.LineItems, next.LineItems):
		return fmt.Errorf("%w: line_items", ErrImmutableField)
	}

	switch {
	case stored.Used && next.Used:
		return ErrAlreadyUsed
	case stored.Used && !next.Used:
		return fmt.Errorf("%w: used cannot revert to false", ErrIllegalTransition)
	case !stored.Used && !next.Used:
		return fmt.Errorf("%w: nothing to update", ErrIllegalTransition)
	}
	return nil
}

// MarkUsed returns a copy of v flagged as used at the given epoch second.
func MarkUsed(v *model.Voucher, usedAt int64) *model.Voucher {
	next := v.Clone()
	next.Used = true
	next.UsedAt = &usedAt
	return next
}
