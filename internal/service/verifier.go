package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"dcard-ledger/internal/model"
	"dcard-ledger/internal/repository"
)

type VerifyReason string

const (
	ReasonValid               VerifyReason = "valid"
	ReasonNotFound            VerifyReason = "not_found"
	ReasonKindMismatch        VerifyReason = "kind_mismatch"
	ReasonBeneficiaryMismatch VerifyReason = "beneficiary_mismatch"
	ReasonAlreadyUsed         VerifyReason = "already_used"
)

// Verification is the outcome of a read-only validity check. Voucher is nil
// when no record of the requested kind exists.
type Verification struct {
	IsValid bool
	Reason  VerifyReason
	Voucher *model.Voucher
}

type Verifier struct {
	registry repository.VoucherRegistry
	logger   *zap.Logger
}

func NewVerifier(registry repository.VoucherRegistry, logger *zap.Logger) *Verifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Verifier{registry: registry, logger: logger}
}

// VerifyCoupon is valid when the coupon exists, the claimed beneficiary
// matches and it is unused.
func (s *Verifier) VerifyCoupon(ctx context.Context, code, claimedBeneficiary string) (*Verification, error) {
	claimed := strings.TrimSpace(claimedBeneficiary)
	if claimed == "" {
		return nil, invalid("nomFamilleBeneficiaire", "required")
	}

	result, err := s.lookup(ctx, model.VoucherKindCoupon, code)
	if err != nil || result.Voucher == nil {
		return result, err
	}

	switch {
	case result.Voucher.Beneficiary != claimed:
		result.Reason = ReasonBeneficiaryMismatch
	case result.Voucher.Used:
		result.Reason = ReasonAlreadyUsed
	default:
		result.IsValid = true
		result.Reason = ReasonValid
	}
	s.logVerification(result, code)
	return result, nil
}

// VerifyTicket is valid when the ticket exists and is unused.
func (s *Verifier) VerifyTicket(ctx context.Context, code string) (*Verification, error) {
	result, err := s.lookup(ctx, model.VoucherKindTicket, code)
	if err != nil || result.Voucher == nil {
		return result, err
	}

	if result.Voucher.Used {
		result.Reason = ReasonAlreadyUsed
	} else {
		result.IsValid = true
		result.Reason = ReasonValid
	}
	s.logVerification(result, code)
	return result, nil
}

func (s *Verifier) lookup(ctx context.Context, kind model.VoucherKind, code string) (*Verification, error) {
	if s.registry == nil {
		return nil, errors.New("voucher registry is nil")
	}

	normalized := strings.TrimSpace(code)
	if err := validateLookupCode(normalized); err != nil {
		return nil, err
	}

	voucher, err := s.registry.FindByCode(ctx, normalized)
	if errors.Is(err, repository.ErrNotFound) {
		s.logger.Debug("voucher verification failed",
			zap.String("code", normalized),
			zap.String("reason", string(ReasonNotFound)),
		)
		return &Verification{Reason: ReasonNotFound}, nil
	}
	if err != nil {
		return nil, mapRegistryError(err)
	}

	if voucher.Kind != kind {
		s.logger.Debug("voucher verification failed",
			zap.String("code", normalized),
			zap.String("reason", string(ReasonKindMismatch)),
		)
		return &Verification{Reason: ReasonKindMismatch}, nil
	}
	if err := voucher.CheckConservation(); err != nil {
		s.logger.Error("stored ticket failed conservation check", zap.String("code", normalized), zap.Error(err))
		return nil, fmt.Errorf("%w: %s", ErrCorruptRecord, normalized)
	}

	return &Verification{Voucher: voucher}, nil
}

func (s *Verifier) logVerification(result *Verification, code string) {
	if result.IsValid {
		return
	}
	s.logger.Debug("voucher verification failed",
		zap.String("code", strings.TrimSpace(code)),
		zap.String("reason", string(result.Reason)),
	)
}
