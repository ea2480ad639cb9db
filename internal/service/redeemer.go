package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"dcard-ledger/internal/event"
	"dcard-ledger/internal/lock"
	"dcard-ledger/internal/model"
	"dcard-ledger/internal/repository"
)

type RedeemerConfig struct {
	// RequireBeneficiaryOnBurn makes the claimed beneficiary mandatory for
	// coupon burns. When false it is checked only if supplied.
	RequireBeneficiaryOnBurn bool
}

type BurnInput struct {
	Code string
	// Kind restricts the burn to one voucher kind. Empty burns either kind.
	Kind        model.VoucherKind
	Beneficiary string
}

type BurnResult struct {
	Voucher  *model.Voucher
	Receipt  *model.Receipt
	BurnedAt time.Time
}

type Redeemer struct {
	registry repository.VoucherRegistry
	locker   lock.Locker
	bus      *event.Bus
	cfg      RedeemerConfig
	now      func() time.Time
	logger   *zap.Logger
}

func NewRedeemer(
	registry repository.VoucherRegistry,
	locker lock.Locker,
	bus *event.Bus,
	cfg RedeemerConfig,
	logger *zap.Logger,
) *Redeemer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redeemer{
		registry: registry,
		locker:   locker,
		bus:      bus,
		cfg:      cfg,
		now:      time.Now,
		logger:   logger,
	}
}

// Burn flips used from false to true exactly once. Concurrent burns of one
// code yield one success and ErrAlreadyUsed for the rest; the registry's
// conditional update decides the winner even without the lock.
func (s *Redeemer) Burn(ctx context.Context, in BurnInput) (*BurnResult, error) {
	if s.registry == nil {
		return nil, errors.New("voucher registry is nil")
	}

	code := strings.TrimSpace(in.Code)
	if err := validateLookupCode(code); err != nil {
		return nil, err
	}
	if in.Kind != "" && !in.Kind.Valid() {
		return nil, invalid("kind", "unknown voucher kind")
	}
	claimed := strings.TrimSpace(in.Beneficiary)

	if s.locker != nil {
		release, err := s.locker.Obtain(ctx, code)
		if err != nil {
			if errors.Is(err, lock.ErrLockBusy) {
				s.logger.Warn("voucher burn lock busy", zap.String("code", code))
			}
			return nil, mapLockError(err)
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				s.logger.Warn("release voucher lock failed", zap.String("code", code), zap.Error(err))
			}
		}()
	}

	stored, err := s.registry.FindByCode(ctx, code)
	if err != nil {
		return nil, mapRegistryError(err)
	}
	if in.Kind != "" && stored.Kind != in.Kind {
		return nil, ErrNotFound
	}
	if err := stored.CheckConservation(); err != nil {
		s.logger.Error("stored ticket failed conservation check", zap.String("code", code), zap.Error(err))
		return nil, fmt.Errorf("%w: %s", ErrCorruptRecord, code)
	}

	mustCheck := claimed != "" || (s.cfg.RequireBeneficiaryOnBurn && stored.Kind == model.VoucherKindCoupon)
	if mustCheck {
		if claimed == "" {
			return nil, invalid("beneficiary", "required")
		}
		if stored.Beneficiary != claimed {
			return nil, ErrBeneficiaryMismatch
		}
	}
	if stored.Used {
		return nil, ErrAlreadyUsed
	}

	burnedAt := s.now().UTC()
	receipt, err := s.registry.Update(ctx, repository.MarkUsed(stored, burnedAt.Unix()))
	if err != nil {
		if errors.Is(err, repository.ErrAlreadyUsed) {
			s.logger.Info("voucher burn lost race", zap.String("code", code))
		}
		return nil, mapRegistryError(err)
	}

	burned := repository.MarkUsed(stored, burnedAt.Unix())
	s.logger.Info("voucher burned",
		zap.String("kind", string(burned.Kind)),
		zap.String("code", code),
		zap.Int64("amount", burned.Amount),
		zap.String("handle", receipt.Handle),
	)

	if s.bus != nil {
		s.bus.Publish(event.EventVoucherBurned, event.VoucherPayload{
			Kind:        string(burned.Kind),
			Code:        burned.Code,
			OwnerUserID: burned.OwnerUserID,
			Beneficiary: burned.Beneficiary,
			Amount:      burned.Amount,
			Handle:      receipt.Handle,
			BlockNumber: receipt.BlockNumber,
			At:          burnedAt,
		})
	}

	return &BurnResult{Voucher: burned, Receipt: receipt, BurnedAt: burnedAt}, nil
}
