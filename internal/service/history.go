package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"dcard-ledger/internal/model"
	"dcard-ledger/internal/repository"
)

type KindStats struct {
	Active       int64
	Used         int64
	ActiveAmount int64
	UsedAmount   int64
}

type History struct {
	registry repository.VoucherRegistry
	logger   *zap.Logger
}

func NewHistory(registry repository.VoucherRegistry, logger *zap.Logger) *History {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &History{registry: registry, logger: logger}
}

// ListAll returns every voucher of kind in creation order.
func (s *History) ListAll(ctx context.Context, kind model.VoucherKind) ([]*model.Voucher, error) {
	if !kind.Valid() {
		return nil, invalid("kind", "unknown voucher kind")
	}
	return s.list(ctx, repository.VoucherListFilter{Kind: kind})
}

// ListByOwner returns an empty slice, not an error, for owners without
// vouchers.
func (s *History) ListByOwner(ctx context.Context, kind model.VoucherKind, ownerUserID int64) ([]*model.Voucher, error) {
	if !kind.Valid() {
		return nil, invalid("kind", "unknown voucher kind")
	}
	if ownerUserID < 0 {
		return nil, invalid("userId", "must not be negative")
	}
	return s.list(ctx, repository.VoucherListFilter{Kind: kind, OwnerUserID: &ownerUserID})
}

// Stats counts vouchers per kind and state.
func (s *History) Stats(ctx context.Context) (map[model.VoucherKind]KindStats, error) {
	items, err := s.list(ctx, repository.VoucherListFilter{})
	if err != nil {
		return nil, err
	}

	out := map[model.VoucherKind]KindStats{
		model.VoucherKindCoupon: {},
		model.VoucherKindTicket: {},
	}
	for _, item := range items {
		stats := out[item.Kind]
		if item.Used {
			stats.Used++
			stats.UsedAmount += item.Amount
		} else {
			stats.Active++
			stats.ActiveAmount += item.Amount
		}
		out[item.Kind] = stats
	}
	return out, nil
}

func (s *History) list(ctx context.Context, filter repository.VoucherListFilter) ([]*model.Voucher, error) {
	if s.registry == nil {
		return nil, errors.New("voucher registry is nil")
	}

	items, err := s.registry.List(ctx, filter)
	if err != nil {
		return nil, mapRegistryError(err)
	}

	for _, item := range items {
		if err := item.CheckConservation(); err != nil {
			s.logger.Error("stored ticket failed conservation check", zap.String("code", item.Code), zap.Error(err))
			return nil, fmt.Errorf("%w: %s", ErrCorruptRecord, item.Code)
		}
	}

	if items == nil {
		items = []*model.Voucher{}
	}
	return items, nil
}
