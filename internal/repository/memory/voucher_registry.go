package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/xid"

	"dcard-ledger/internal/model"
	"dcard-ledger/internal/repository"
)

type voucherRegistry struct {
	mu     sync.RWMutex
	byCode map[string]*model.Voucher
	order  []string
}

func NewVoucherRegistry() repository.VoucherRegistry {
	return &voucherRegistry{byCode: make(map[string]*model.Voucher)}
}

var _ repository.VoucherRegistry = (*voucherRegistry)(nil)

func (r *voucherRegistry) FindByCode(_ context.Context, code string) (*model.Voucher, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stored, ok := r.byCode[strings.TrimSpace(code)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return stored.Clone(), nil
}

func (r *voucherRegistry) Create(_ context.Context, voucher *model.Voucher) (*model.Receipt, error) {
	if voucher == nil || voucher.Code == "" {
		return nil, repository.ErrIllegalTransition
	}
	if voucher.Used {
		return nil, repository.ErrIllegalTransition
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byCode[voucher.Code]; exists {
		return nil, repository.ErrDuplicateCode
	}
	r.byCode[voucher.Code] = voucher.Clone()
	r.order = append(r.order, voucher.Code)

	return &model.Receipt{Handle: xid.New().String()}, nil
}

func (r *voucherRegistry) Update(_ context.Context, voucher *model.Voucher) (*model.Receipt, error) {
	if voucher == nil {
		return nil, repository.ErrIllegalTransition
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.byCode[voucher.Code]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if err := repository.CheckTransition(stored, voucher); err != nil {
		return nil, err
	}

	r.byCode[voucher.Code] = voucher.Clone()
	return &model.Receipt{Handle: xid.New().String()}, nil
}

func (r *voucherRegistry) List(_ context.Context, filter repository.VoucherListFilter) ([]*model.Voucher, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	items := make([]*model.Voucher, 0)
	for _, code := range r.order {
		stored := r.byCode[code]
		if !filter.Matches(stored) {
			continue
		}
		items = append(items, stored.Clone())
	}
	return items, nil
}

func (r *voucherRegistry) Ping(context.Context) error {
	return nil
}
