package chain

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dcard-ledger/internal/model"
	"dcard-ledger/internal/repository"
)

type fakeRecord struct {
	args []interface{}
	used bool
	at   int64
}

// fakeLedger mimics the voucher ledger contract in memory.
type fakeLedger struct {
	mu      sync.Mutex
	records map[string]*fakeRecord
	order   []string
	nonce   uint64
	block   int64
	now     int64

	callErr   error
	emptyCall bool
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{records: map[string]*fakeRecord{}, block: 100, now: 1_700_000_500}
}

func (f *fakeLedger) Call(_ *bind.CallOpts, results *[]interface{}, method string, params ...interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.callErr != nil {
		return f.callErr
	}
	if f.emptyCall {
		return errors.New("abi: attempting to unmarshall an empty string while arguments are expected")
	}

	switch method {
	case methodGetVoucher:
		rec, ok := f.records[params[0].(string)]
		if !ok {
			*results = []interface{}{false, uint8(0), "", "", "", big.NewInt(0), big.NewInt(0), "", "", big.NewInt(0), false, big.NewInt(0)}
			return nil
		}
		a := rec.args
		*results = []interface{}{true, a[1], a[2], a[3], a[4], a[5], a[6], a[7], a[8], a[9], rec.used, big.NewInt(rec.at)}
	case methodAllCodes:
		*results = []interface{}{append([]string{}, f.order...)}
	case methodCodesByOwner:
		owner := params[0].(*big.Int)
		codes := []string{}
		for _, code := range f.order {
			if f.records[code].args[5].(*big.Int).Cmp(owner) == 0 {
				codes = append(codes, code)
			}
		}
		*results = []interface{}{codes}
	default:
		return errors.New("unknown method " + method)
	}
	return nil
}

func (f *fakeLedger) Transact(_ *bind.TransactOpts, method string, params ...interface{}) (*gethtypes.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	code := params[0].(string)
	switch method {
	case methodIssue:
		if _, ok := f.records[code]; ok {
			return nil, errors.New("execution reverted: code taken")
		}
		f.records[code] = &fakeRecord{args: params}
		f.order = append(f.order, code)
	case methodBurn:
		rec, ok := f.records[code]
		if !ok || rec.used {
			return nil, errors.New("execution reverted: not burnable")
		}
		rec.used = true
		rec.at = f.now
	default:
		return nil, errors.New("unknown method " + method)
	}

	f.nonce++
	return gethtypes.NewTx(&gethtypes.LegacyTx{Nonce: f.nonce, Gas: 21000, GasPrice: big.NewInt(1)}), nil
}

func (f *fakeLedger) waiter(_ context.Context, _ *gethtypes.Transaction) (*gethtypes.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.block++
	return &gethtypes.Receipt{Status: gethtypes.ReceiptStatusSuccessful, BlockNumber: big.NewInt(f.block)}, nil
}

func newTestRegistry(t *testing.T) (repository.VoucherRegistry, *fakeLedger) {
	t.Helper()
	ledger := newFakeLedger()
	registry := NewVoucherRegistry(ledger, ledger.waiter, &bind.TransactOpts{}, Config{}, nil)
	return registry, ledger
}

func sampleTicket(code string) *model.Voucher {
	return &model.Voucher{
		Kind:        model.VoucherKindTicket,
		Code:        code,
		HolderName:  "Buyer",
		HolderEmail: "buyer@example.com",
		Beneficiary: "Dlulisa",
		OwnerUserID: 7,
		Amount:      2801,
		LineItems: []model.LineItem{
			{Name: "Bread", Quantity: 2, UnitPrice: 1000},
			{Name: "Milk", Quantity: 1, UnitPrice: 801},
		},
		ReceiverCountry: "ZA",
		CreatedAt:       1_700_000_000,
	}
}

func TestChainRegistryCreateAndFind(t *testing.T) {
	registry, _ := newTestRegistry(t)
	ctx := context.Background()

	receipt, err := registry.Create(ctx, sampleTicket("TKT-1"))
	require.NoError(t, err)
	require.NotNil(t, receipt.BlockNumber)
	assert.Equal(t, uint64(101), *receipt.BlockNumber)
	assert.NotEmpty(t, receipt.Handle)

	got, err := registry.FindByCode(ctx, "TKT-1")
	require.NoError(t, err)
	assert.Equal(t, model.VoucherKindTicket, got.Kind)
	assert.Equal(t, int64(2801), got.Amount)
	assert.Len(t, got.LineItems, 2)
	assert.NoError(t, got.CheckConservation())
	assert.False(t, got.Used)
	assert.Nil(t, got.UsedAt)

	_, err = registry.FindByCode(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestChainRegistryDuplicateCode(t *testing.T) {
	registry, _ := newTestRegistry(t)
	ctx := context.Background()

	_, err := registry.Create(ctx, sampleTicket("SAME"))
	require.NoError(t, err)

	coupon := &model.Voucher{Kind: model.VoucherKindCoupon, Code: "SAME", Amount: 5000, Beneficiary: "Ann", CreatedAt: 1}
	_, err = registry.Create(ctx, coupon)
	assert.ErrorIs(t, err, repository.ErrDuplicateCode)
}

func TestChainRegistryBurnOnce(t *testing.T) {
	registry, _ := newTestRegistry(t)
	ctx := context.Background()

	ticket := sampleTicket("TKT-2")
	_, err := registry.Create(ctx, ticket)
	require.NoError(t, err)

	_, err = registry.Update(ctx, repository.MarkUsed(ticket, 1_700_000_400))
	require.NoError(t, err)

	got, err := registry.FindByCode(ctx, "TKT-2")
	require.NoError(t, err)
	assert.True(t, got.Used)
	require.NotNil(t, got.UsedAt)
	assert.Equal(t, int64(1_700_000_500), *got.UsedAt)

	_, err = registry.Update(ctx, repository.MarkUsed(ticket, 1_700_000_600))
	assert.ErrorIs(t, err, repository.ErrAlreadyUsed)
}

func TestChainRegistryRejectsImmutableChange(t *testing.T) {
	registry, _ := newTestRegistry(t)
	ctx := context.Background()

	ticket := sampleTicket("TKT-3")
	_, err := registry.Create(ctx, ticket)
	require.NoError(t, err)

	tampered := repository.MarkUsed(ticket, 1)
	tampered.Amount = 1
	_, err = registry.Update(ctx, tampered)
	assert.ErrorIs(t, err, repository.ErrImmutableField)
}

func TestChainRegistryListByOwner(t *testing.T) {
	registry, _ := newTestRegistry(t)
	ctx := context.Background()

	first := sampleTicket("A")
	second := sampleTicket("B")
	second.OwnerUserID = 8
	third := sampleTicket("C")
	for _, v := range []*model.Voucher{first, second, third} {
		_, err := registry.Create(ctx, v)
		require.NoError(t, err)
	}

	owner := int64(7)
	items, err := registry.List(ctx, repository.VoucherListFilter{OwnerUserID: &owner})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "A", items[0].Code)
	assert.Equal(t, "C", items[1].Code)

	nobody := int64(99)
	items, err = registry.List(ctx, repository.VoucherListFilter{OwnerUserID: &nobody})
	require.NoError(t, err)
	assert.NotNil(t, items)
	assert.Empty(t, items)
}

func TestChainRegistryEmptyCallIsBackendError(t *testing.T) {
	registry, ledger := newTestRegistry(t)
	ledger.emptyCall = true

	items, err := registry.List(context.Background(), repository.VoucherListFilter{})
	assert.Nil(t, items)
	assert.ErrorIs(t, err, repository.ErrBackendUnavailable)

	_, err = registry.FindByCode(context.Background(), "X")
	assert.ErrorIs(t, err, repository.ErrBackendUnavailable)
	assert.ErrorIs(t, registry.Ping(context.Background()), repository.ErrBackendUnavailable)
}
