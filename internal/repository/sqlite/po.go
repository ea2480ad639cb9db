package sqlite

import "dcard-ledger/internal/model"

type voucherPO struct {
	ID              uint64           `gorm:"primaryKey;autoIncrement"`
	Kind            string           `gorm:"size:16;not null;index:idx_vouchers_kind"`
	Code            string           `gorm:"size:64;not null;uniqueIndex:idx_vouchers_code"`
	HolderName      string           `gorm:"size:128;not null"`
	HolderEmail     string           `gorm:"size:254;not null"`
	Beneficiary     string           `gorm:"size:128;not null"`
	OwnerUserID     int64            `gorm:"not null;index:idx_vouchers_owner"`
	Amount          int64            `gorm:"not null"`
	LineItems       []model.LineItem `gorm:"serializer:json"`
	ReceiverCountry string           `gorm:"size:64;not null;default:''"`
	IssuedAt        int64            `gorm:"column:created_at;not null"`
	Used            bool             `gorm:"not null;default:false"`
	UsedAt          *int64
}

func (voucherPO) TableName() string {
	return "vouchers"
}

func fromVoucher(v *model.Voucher) *voucherPO {
	po := &voucherPO{
		Kind:            string(v.Kind),
		Code:            v.Code,
		HolderName:      v.HolderName,
		HolderEmail:     v.HolderEmail,
		Beneficiary:     v.Beneficiary,
		OwnerUserID:     v.OwnerUserID,
		Amount:          v.Amount,
		ReceiverCountry: v.ReceiverCountry,
		IssuedAt:        v.CreatedAt,
		Used:            v.Used,
		UsedAt:          v.UsedAt,
	}
	if v.Kind == model.VoucherKindTicket {
		po.LineItems = append([]model.LineItem{}, v.LineItems...)
	}
	return po
}

func (po *voucherPO) toVoucher() *model.Voucher {
	v := &model.Voucher{
		Kind:            model.VoucherKind(po.Kind),
		Code:            po.Code,
		HolderName:      po.HolderName,
		HolderEmail:     po.HolderEmail,
		Beneficiary:     po.Beneficiary,
		OwnerUserID:     po.OwnerUserID,
		Amount:          po.Amount,
		ReceiverCountry: po.ReceiverCountry,
		CreatedAt:       po.IssuedAt,
		Used:            po.Used,
		UsedAt:          po.UsedAt,
	}
	if len(po.LineItems) > 0 {
		v.LineItems = append([]model.LineItem(nil), po.LineItems...)
	}
	return v
}
