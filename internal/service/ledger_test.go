package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"dcard-ledger/internal/event"
	"dcard-ledger/internal/lock"
	"dcard-ledger/internal/model"
	"dcard-ledger/internal/repository"
	"dcard-ledger/internal/repository/memory"
)

type testLedger struct {
	registry repository.VoucherRegistry
	bus      *event.Bus
	issuer   *Issuer
	verifier *Verifier
	redeemer *Redeemer
	history  *History
}

func newTestLedger(t *testing.T) *testLedger {
	t.Helper()

	registry := memory.NewVoucherRegistry()
	bus := event.NewBus(nil)
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	issuer := NewIssuer(registry, bus, IssuerConfig{}, nil)
	issuer.now = func() time.Time { return fixed }
	redeemer := NewRedeemer(registry, lock.NewLocalLocker(5*time.Second), bus, RedeemerConfig{}, nil)
	redeemer.now = func() time.Time { return fixed.Add(time.Hour) }

	return &testLedger{
		registry: registry,
		bus:      bus,
		issuer:   issuer,
		verifier: NewVerifier(registry, nil),
		redeemer: redeemer,
		history:  NewHistory(registry, nil),
	}
}

func aliceCoupon() IssueCouponInput {
	return IssueCouponInput{
		SenderName:  "Alice",
		SenderEmail: "a@x.com",
		Beneficiary: "Bob",
		OwnerUserID: 1,
		Amount:      5000,
	}
}

func TestCouponLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := newTestLedger(t)

	issued, err := l.issuer.IssueCoupon(ctx, aliceCoupon())
	if err != nil {
		t.Fatalf("issue coupon: %v", err)
	}
	code := issued.Voucher.Code
	if issued.Receipt == nil || issued.Receipt.Handle == "" {
		t.Fatalf("expected a receipt handle")
	}

	v, err := l.verifier.VerifyCoupon(ctx, code, "Bob")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !v.IsValid || v.Voucher.Amount != 5000 || v.Voucher.Used {
		t.Fatalf("unexpected verification %+v", v)
	}

	burn, err := l.redeemer.Burn(ctx, BurnInput{Code: code, Kind: model.VoucherKindCoupon})
	if err != nil {
		t.Fatalf("burn: %v", err)
	}
	if !burn.Voucher.Used || burn.BurnedAt.IsZero() {
		t.Fatalf("unexpected burn result %+v", burn)
	}

	v, err = l.verifier.VerifyCoupon(ctx, code, "Bob")
	if err != nil {
		t.Fatalf("verify after burn: %v", err)
	}
	if v.IsValid || !v.Voucher.Used || v.Reason != ReasonAlreadyUsed {
		t.Fatalf("expected used coupon, got %+v", v)
	}

	if _, err := l.redeemer.Burn(ctx, BurnInput{Code: code}); !errors.Is(err, ErrAlreadyUsed) {
		t.Fatalf("expected ErrAlreadyUsed, got %v", err)
	}
}

func TestVerifyCoupon_NotFoundIsNotAnError(t *testing.T) {
	t.Parallel()
	l := newTestLedger(t)

	v, err := l.verifier.VerifyCoupon(context.Background(), "NONEXISTENT", "Bob")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if v.IsValid || v.Reason != ReasonNotFound || v.Voucher != nil {
		t.Fatalf("unexpected verification %+v", v)
	}
}

func TestVerifyCoupon_BeneficiaryGating(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := newTestLedger(t)

	issued, err := l.issuer.IssueCoupon(ctx, aliceCoupon())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	wrong, err := l.verifier.VerifyCoupon(ctx, issued.Voucher.Code, "Mallory")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if wrong.IsValid || wrong.Reason != ReasonBeneficiaryMismatch {
		t.Fatalf("expected beneficiary mismatch, got %+v", wrong)
	}

	right, err := l.verifier.VerifyCoupon(ctx, issued.Voucher.Code, "  Bob ")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !right.IsValid {
		t.Fatalf("expected valid coupon, got %+v", right)
	}

	stored, err := l.registry.FindByCode(ctx, issued.Voucher.Code)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if stored.Used {
		t.Fatalf("verification must not mutate the coupon")
	}
}

func TestVerifyCoupon_RequiresClaimedBeneficiary(t *testing.T) {
	t.Parallel()
	l := newTestLedger(t)

	_, err := l.verifier.VerifyCoupon(context.Background(), "CPN-1", " ")
	var vErr *ValidationError
	if !errors.As(err, &vErr) || vErr.Field != "nomFamilleBeneficiaire" {
		t.Fatalf("expected validation error on nomFamilleBeneficiaire, got %v", err)
	}
}

func TestIssueTicket_ComputesTotal(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := newTestLedger(t)

	in := IssueTicketInput{
		BuyerName:   "Awa",
		BuyerEmail:  "awa@example.com",
		Beneficiary: "Moussa",
		OwnerUserID: 4,
		LineItems: []model.LineItem{
			{Name: "Ciment", Quantity: 2, UnitPrice: 1308},
			{Name: "Fer", Quantity: 1, UnitPrice: 185},
		},
	}

	issued, err := l.issuer.IssueTicket(ctx, in)
	if err != nil {
		t.Fatalf("issue ticket: %v", err)
	}
	if issued.Voucher.Amount != 2801 {
		t.Fatalf("expected total 2801, got %d", issued.Voucher.Amount)
	}

	v, err := l.verifier.VerifyTicket(ctx, issued.Voucher.Code)
	if err != nil {
		t.Fatalf("verify ticket: %v", err)
	}
	if !v.IsValid || v.Voucher.ProductCount() != 2 || v.Voucher.ItemQuantity() != 3 {
		t.Fatalf("unexpected verification %+v", v)
	}

	matching := int64(2801)
	in.DeclaredTotal = &matching
	if _, err := l.issuer.IssueTicket(ctx, in); err != nil {
		t.Fatalf("matching declared total should pass: %v", err)
	}

	wrong := int64(3000)
	in.DeclaredTotal = &wrong
	if _, err := l.issuer.IssueTicket(ctx, in); !errors.Is(err, ErrAmountMismatch) {
		t.Fatalf("expected ErrAmountMismatch, got %v", err)
	}
}

func TestIssue_Validation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := newTestLedger(t)

	cases := map[string]func(*IssueCouponInput){
		"senderName":  func(in *IssueCouponInput) { in.SenderName = "  " },
		"senderEmail": func(in *IssueCouponInput) { in.SenderEmail = "not-an-email" },
		"beneficiary": func(in *IssueCouponInput) { in.Beneficiary = "" },
		"amount":      func(in *IssueCouponInput) { in.Amount = -1 },
		"code":        func(in *IssueCouponInput) { in.Code = "bad code!" },
	}
	for field, mutate := range cases {
		in := aliceCoupon()
		mutate(&in)
		_, err := l.issuer.IssueCoupon(ctx, in)
		var vErr *ValidationError
		if !errors.As(err, &vErr) || vErr.Field != field {
			t.Fatalf("%s: expected validation error, got %v", field, err)
		}
		if !errors.Is(err, ErrValidation) {
			t.Fatalf("%s: validation error must unwrap to ErrValidation", field)
		}
	}

	ticket := IssueTicketInput{BuyerName: "A", BuyerEmail: "a@x.com", Beneficiary: "B"}
	if _, err := l.issuer.IssueTicket(ctx, ticket); !errors.Is(err, ErrValidation) {
		t.Fatalf("ticket without products: expected validation error, got %v", err)
	}
	ticket.LineItems = []model.LineItem{{Name: "x", Quantity: 0, UnitPrice: 1}}
	if _, err := l.issuer.IssueTicket(ctx, ticket); !errors.Is(err, ErrValidation) {
		t.Fatalf("zero quantity: expected validation error, got %v", err)
	}
}

func TestIssue_ProposedCodeCollision(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := newTestLedger(t)

	in := aliceCoupon()
	in.Code = "CPN-1700000000-ABC123"
	if _, err := l.issuer.IssueCoupon(ctx, in); err != nil {
		t.Fatalf("issue: %v", err)
	}

	ticket := IssueTicketInput{
		Code:        in.Code,
		BuyerName:   "Awa",
		BuyerEmail:  "awa@example.com",
		Beneficiary: "Moussa",
		LineItems:   []model.LineItem{{Name: "Fer", Quantity: 1, UnitPrice: 185}},
	}
	if _, err := l.issuer.IssueTicket(ctx, ticket); !errors.Is(err, ErrDuplicateCode) {
		t.Fatalf("expected ErrDuplicateCode across kinds, got %v", err)
	}
}

func TestIssue_RegeneratesOnCollision(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := newTestLedger(t)

	taken := aliceCoupon()
	taken.Code = "TAKEN"
	if _, err := l.issuer.IssueCoupon(ctx, taken); err != nil {
		t.Fatalf("seed: %v", err)
	}

	var calls int32
	l.issuer.generate = func(prefix string, now time.Time) string {
		if atomic.AddInt32(&calls, 1) <= 2 {
			return "TAKEN"
		}
		return GenerateCode(prefix, now)
	}

	issued, err := l.issuer.IssueCoupon(ctx, aliceCoupon())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if issued.Voucher.Code == "TAKEN" || calls != 3 {
		t.Fatalf("expected a fresh code on the third attempt, got %s after %d calls", issued.Voucher.Code, calls)
	}

	l.issuer.generate = func(string, time.Time) string { return "TAKEN" }
	if _, err := l.issuer.IssueCoupon(ctx, aliceCoupon()); !errors.Is(err, ErrDuplicateCode) {
		t.Fatalf("expected ErrDuplicateCode once attempts run out, got %v", err)
	}
}

func TestIssue_CodesAreUnique(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := newTestLedger(t)

	seen := make(map[string]struct{})
	for i := 0; i < 200; i++ {
		var code string
		if i%2 == 0 {
			res, err := l.issuer.IssueCoupon(ctx, aliceCoupon())
			if err != nil {
				t.Fatalf("issue coupon: %v", err)
			}
			code = res.Voucher.Code
		} else {
			res, err := l.issuer.IssueTicket(ctx, IssueTicketInput{
				BuyerName:   "Awa",
				BuyerEmail:  "awa@example.com",
				Beneficiary: "Moussa",
				LineItems:   []model.LineItem{{Name: "Fer", Quantity: 1, UnitPrice: 185}},
			})
			if err != nil {
				t.Fatalf("issue ticket: %v", err)
			}
			code = res.Voucher.Code
		}
		if _, dup := seen[code]; dup {
			t.Fatalf("duplicate code %s", code)
		}
		seen[code] = struct{}{}
	}
}

func TestListByOwner_EmptyNotError(t *testing.T) {
	t.Parallel()
	l := newTestLedger(t)

	items, err := l.history.ListByOwner(context.Background(), model.VoucherKindCoupon, 999)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if items == nil || len(items) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", items)
	}
}

func TestHistory_FiltersKindAndOwner(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := newTestLedger(t)

	for owner := int64(1); owner <= 3; owner++ {
		in := aliceCoupon()
		in.OwnerUserID = owner
		if _, err := l.issuer.IssueCoupon(ctx, in); err != nil {
			t.Fatalf("issue: %v", err)
		}
	}
	if _, err := l.issuer.IssueTicket(ctx, IssueTicketInput{
		BuyerName: "Awa", BuyerEmail: "awa@example.com", Beneficiary: "M", OwnerUserID: 2,
		LineItems: []model.LineItem{{Name: "Fer", Quantity: 1, UnitPrice: 185}},
	}); err != nil {
		t.Fatalf("issue ticket: %v", err)
	}

	coupons, err := l.history.ListAll(ctx, model.VoucherKindCoupon)
	if err != nil || len(coupons) != 3 {
		t.Fatalf("expected 3 coupons, got %d (%v)", len(coupons), err)
	}
	tickets, err := l.history.ListByOwner(ctx, model.VoucherKindTicket, 2)
	if err != nil || len(tickets) != 1 {
		t.Fatalf("expected 1 ticket for owner 2, got %d (%v)", len(tickets), err)
	}

	stats, err := l.history.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats[model.VoucherKindCoupon].Active != 3 || stats[model.VoucherKindTicket].ActiveAmount != 185 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestHistory_CorruptTicketSurfaces(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := newTestLedger(t)

	bad := &model.Voucher{
		Kind:      model.VoucherKindTicket,
		Code:      "TKT-BAD",
		Amount:    10,
		LineItems: []model.LineItem{{Name: "x", Quantity: 1, UnitPrice: 9}},
	}
	if _, err := l.registry.Create(ctx, bad); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if _, err := l.history.ListAll(ctx, model.VoucherKindTicket); !errors.Is(err, ErrCorruptRecord) {
		t.Fatalf("list: expected ErrCorruptRecord, got %v", err)
	}
	if _, err := l.verifier.VerifyTicket(ctx, "TKT-BAD"); !errors.Is(err, ErrCorruptRecord) {
		t.Fatalf("verify: expected ErrCorruptRecord, got %v", err)
	}
	if _, err := l.redeemer.Burn(ctx, BurnInput{Code: "TKT-BAD"}); !errors.Is(err, ErrCorruptRecord) {
		t.Fatalf("burn: expected ErrCorruptRecord, got %v", err)
	}
}

func TestBurn_NotFoundAndWrongKind(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := newTestLedger(t)

	if _, err := l.redeemer.Burn(ctx, BurnInput{Code: "NOPE"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	issued, err := l.issuer.IssueCoupon(ctx, aliceCoupon())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := l.redeemer.Burn(ctx, BurnInput{Code: issued.Voucher.Code, Kind: model.VoucherKindTicket}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("ticket burn of a coupon code: expected ErrNotFound, got %v", err)
	}
}

func TestBurn_BeneficiaryCheck(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := newTestLedger(t)

	issued, err := l.issuer.IssueCoupon(ctx, aliceCoupon())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	code := issued.Voucher.Code

	if _, err := l.redeemer.Burn(ctx, BurnInput{Code: code, Beneficiary: "Mallory"}); !errors.Is(err, ErrBeneficiaryMismatch) {
		t.Fatalf("expected ErrBeneficiaryMismatch, got %v", err)
	}
	stored, _ := l.registry.FindByCode(ctx, code)
	if stored.Used {
		t.Fatalf("mismatched burn must not transition")
	}

	l.redeemer.cfg.RequireBeneficiaryOnBurn = true
	if _, err := l.redeemer.Burn(ctx, BurnInput{Code: code}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation when beneficiary is required, got %v", err)
	}
	if _, err := l.redeemer.Burn(ctx, BurnInput{Code: code, Beneficiary: "Bob"}); err != nil {
		t.Fatalf("burn with matching beneficiary: %v", err)
	}
}

func TestBurn_ConcurrentExactlyOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := newTestLedger(t)

	in := aliceCoupon()
	in.Code = "C2"
	if _, err := l.issuer.IssueCoupon(ctx, in); err != nil {
		t.Fatalf("issue: %v", err)
	}

	var burned sync.WaitGroup
	l.bus.Subscribe(event.EventVoucherBurned, func(any) { burned.Done() })
	burned.Add(1)

	const workers = 50
	var (
		wg        sync.WaitGroup
		successes int32
		used      int32
		other     = make(chan error, workers)
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.redeemer.Burn(ctx, BurnInput{Code: "C2"})
			switch {
			case err == nil:
				atomic.AddInt32(&successes, 1)
			case errors.Is(err, ErrAlreadyUsed):
				atomic.AddInt32(&used, 1)
			default:
				other <- err
			}
		}()
	}
	wg.Wait()
	close(other)

	for err := range other {
		t.Fatalf("unexpected burn error: %v", err)
	}
	if successes != 1 || used != workers-1 {
		t.Fatalf("expected 1 success and %d already-used, got %d/%d", workers-1, successes, used)
	}

	stored, err := l.registry.FindByCode(ctx, "C2")
	if err != nil || !stored.Used {
		t.Fatalf("expected stored coupon to be used, got %+v (%v)", stored, err)
	}
	burned.Wait()
}

type busyLocker struct{}

func (busyLocker) Obtain(context.Context, string) (lock.Release, error) {
	return nil, lock.ErrLockBusy
}

type brokenLocker struct{}

func (brokenLocker) Obtain(context.Context, string) (lock.Release, error) {
	return nil, fmt.Errorf("dial tcp: connection refused")
}

func TestBurn_LockErrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := newTestLedger(t)

	issued, err := l.issuer.IssueCoupon(ctx, aliceCoupon())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	busy := NewRedeemer(l.registry, busyLocker{}, nil, RedeemerConfig{}, nil)
	if _, err := busy.Burn(ctx, BurnInput{Code: issued.Voucher.Code}); !errors.Is(err, ErrLockBusy) {
		t.Fatalf("expected ErrLockBusy, got %v", err)
	}

	broken := NewRedeemer(l.registry, brokenLocker{}, nil, RedeemerConfig{}, nil)
	if _, err := broken.Burn(ctx, BurnInput{Code: issued.Voucher.Code}); !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}

	stored, _ := l.registry.FindByCode(ctx, issued.Voucher.Code)
	if stored.Used {
		t.Fatalf("failed lock must not burn")
	}
}

type downRegistry struct {
	repository.VoucherRegistry
}

func (downRegistry) List(context.Context, repository.VoucherListFilter) ([]*model.Voucher, error) {
	return nil, fmt.Errorf("%w: connection reset", repository.ErrBackendUnavailable)
}

func (downRegistry) FindByCode(context.Context, string) (*model.Voucher, error) {
	return nil, fmt.Errorf("%w: connection reset", repository.ErrBackendUnavailable)
}

func TestReads_PropagateBackendFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	history := NewHistory(downRegistry{}, nil)
	items, err := history.ListByOwner(ctx, model.VoucherKindCoupon, 1)
	if !errors.Is(err, ErrBackendUnavailable) || items != nil {
		t.Fatalf("expected backend error and no items, got %v / %#v", err, items)
	}

	verifier := NewVerifier(downRegistry{}, nil)
	if _, err := verifier.VerifyTicket(ctx, "TKT-1"); !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("expected backend error, got %v", err)
	}
}

func TestGenerateCode_Format(t *testing.T) {
	t.Parallel()

	now := time.UnixMilli(1700000000123)
	code := GenerateCode("cpn", now)
	if len(code) != len("CPN-1700000000123-")+codeSuffixLen {
		t.Fatalf("unexpected code length %q", code)
	}
	if code[:18] != "CPN-1700000000123-" {
		t.Fatalf("unexpected code prefix %q", code)
	}
	if err := validateProposedCode(code); err != nil {
		t.Fatalf("generated code must pass proposed-code validation: %v", err)
	}
}
