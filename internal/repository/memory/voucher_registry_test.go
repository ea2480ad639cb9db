package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"dcard-ledger/internal/model"
	"dcard-ledger/internal/repository"
)

func newCoupon(code string, owner int64) *model.Voucher {
	return &model.Voucher{
		Kind:        model.VoucherKindCoupon,
		Code:        code,
		HolderName:  "Alice",
		HolderEmail: "a@x.com",
		Beneficiary: "Bob",
		OwnerUserID: owner,
		Amount:      5000,
		CreatedAt:   1700000000,
	}
}

func TestCreate_SharedCodeNamespace(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	reg := NewVoucherRegistry()
	if _, err := reg.Create(ctx, newCoupon("SHARED-1", 1)); err != nil {
		t.Fatalf("create coupon: %v", err)
	}

	ticket := &model.Voucher{
		Kind:      model.VoucherKindTicket,
		Code:      "SHARED-1",
		Amount:    10,
		LineItems: []model.LineItem{{Name: "a", Quantity: 1, UnitPrice: 10}},
	}
	if _, err := reg.Create(ctx, ticket); !errors.Is(err, repository.ErrDuplicateCode) {
		t.Fatalf("expected ErrDuplicateCode across kinds, got %v", err)
	}
}

func TestUpdate_ConcurrentBurnExactlyOnce(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	reg := NewVoucherRegistry()
	coupon := newCoupon("C2", 1)
	if _, err := reg.Create(ctx, coupon); err != nil {
		t.Fatalf("create: %v", err)
	}

	const workers = 64
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := reg.Update(ctx, repository.MarkUsed(coupon, 1700000000+int64(i)))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, repository.ErrAlreadyUsed):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if successes != 1 || conflicts != workers-1 {
		t.Fatalf("expected 1 success and %d conflicts, got %d/%d", workers-1, successes, conflicts)
	}

	stored, err := reg.FindByCode(ctx, "C2")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if !stored.Used || stored.UsedAt == nil {
		t.Fatalf("expected stored voucher to be used, got %+v", stored)
	}
}

func TestList_CreationOrderAndOwnerFilter(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	reg := NewVoucherRegistry()
	for _, item := range []struct {
		code  string
		owner int64
	}{{"A", 1}, {"B", 2}, {"C", 1}} {
		if _, err := reg.Create(ctx, newCoupon(item.code, item.owner)); err != nil {
			t.Fatalf("create %s: %v", item.code, err)
		}
	}

	owner := int64(1)
	items, err := reg.List(ctx, repository.VoucherListFilter{Kind: model.VoucherKindCoupon, OwnerUserID: &owner})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 2 || items[0].Code != "A" || items[1].Code != "C" {
		t.Fatalf("unexpected list result: %+v", items)
	}

	missing := int64(999)
	empty, err := reg.List(ctx, repository.VoucherListFilter{OwnerUserID: &missing})
	if err != nil {
		t.Fatalf("list missing owner: %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", empty)
	}
}

func TestFindByCode_ReturnsCopy(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	reg := NewVoucherRegistry()
	if _, err := reg.Create(ctx, newCoupon("COPY", 1)); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, _ := reg.FindByCode(ctx, "COPY")
	got.Used = true

	again, _ := reg.FindByCode(ctx, "COPY")
	if again.Used {
		t.Fatal("mutating a returned voucher leaked into the registry")
	}
}
