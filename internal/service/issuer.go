package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/avast/retry-go"
	"go.uber.org/zap"

	"dcard-ledger/internal/event"
	"dcard-ledger/internal/model"
	"dcard-ledger/internal/repository"
)

const (
	maxNameRunes    = 128
	maxCountryRunes = 64
	maxLineItems    = 200
)

type IssuerConfig struct {
	CouponPrefix  string
	TicketPrefix  string
	IssueAttempts int
}

type IssueCouponInput struct {
	Code            string
	SenderName      string
	SenderEmail     string
	Beneficiary     string
	OwnerUserID     int64
	Amount          int64
	ReceiverCountry string
}

type IssueTicketInput struct {
	Code        string
	BuyerName   string
	BuyerEmail  string
	Beneficiary string
	OwnerUserID int64
	LineItems   []model.LineItem
	// DeclaredTotal is only checked against the computed sum.
	DeclaredTotal *int64
}

type IssueResult struct {
	Voucher *model.Voucher
	Receipt *model.Receipt
}

type Issuer struct {
	registry repository.VoucherRegistry
	bus      *event.Bus
	cfg      IssuerConfig
	generate CodeGenerator
	now      func() time.Time
	logger   *zap.Logger
}

func NewIssuer(
	registry repository.VoucherRegistry,
	bus *event.Bus,
	cfg IssuerConfig,
	logger *zap.Logger,
) *Issuer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if strings.TrimSpace(cfg.CouponPrefix) == "" {
		cfg.CouponPrefix = "CPN"
	}
	if strings.TrimSpace(cfg.TicketPrefix) == "" {
		cfg.TicketPrefix = "TKT"
	}
	if cfg.IssueAttempts < 1 {
		cfg.IssueAttempts = 5
	}

	return &Issuer{
		registry: registry,
		bus:      bus,
		cfg:      cfg,
		generate: GenerateCode,
		now:      time.Now,
		logger:   logger,
	}
}

func (s *Issuer) IssueCoupon(ctx context.Context, in IssueCouponInput) (*IssueResult, error) {
	if s.registry == nil {
		return nil, errors.New("voucher registry is nil")
	}

	code := strings.TrimSpace(in.Code)
	if err := validateProposedCode(code); err != nil {
		return nil, err
	}
	senderName, err := requireName("senderName", in.SenderName)
	if err != nil {
		return nil, err
	}
	senderEmail, err := requireEmail("senderEmail", in.SenderEmail)
	if err != nil {
		return nil, err
	}
	beneficiary, err := requireName("beneficiary", in.Beneficiary)
	if err != nil {
		return nil, err
	}
	if in.OwnerUserID < 0 {
		return nil, invalid("userId", "must not be negative")
	}
	if in.Amount < 0 {
		return nil, invalid("amount", "must not be negative")
	}
	country := strings.TrimSpace(in.ReceiverCountry)
	if utf8.RuneCountInString(country) > maxCountryRunes {
		return nil, invalid("receiverCountry", "too long")
	}

	voucher := &model.Voucher{
		Kind:            model.VoucherKindCoupon,
		HolderName:      senderName,
		HolderEmail:     senderEmail,
		Beneficiary:     beneficiary,
		OwnerUserID:     in.OwnerUserID,
		Amount:          in.Amount,
		ReceiverCountry: country,
	}
	return s.issue(ctx, voucher, code, s.cfg.CouponPrefix)
}

func (s *Issuer) IssueTicket(ctx context.Context, in IssueTicketInput) (*IssueResult, error) {
	if s.registry == nil {
		return nil, errors.New("voucher registry is nil")
	}

	code := strings.TrimSpace(in.Code)
	if err := validateProposedCode(code); err != nil {
		return nil, err
	}
	buyerName, err := requireName("buyerName", in.BuyerName)
	if err != nil {
		return nil, err
	}
	buyerEmail, err := requireEmail("buyerEmail", in.BuyerEmail)
	if err != nil {
		return nil, err
	}
	beneficiary, err := requireName("beneficiary", in.Beneficiary)
	if err != nil {
		return nil, err
	}
	if in.OwnerUserID < 0 {
		return nil, invalid("userId", "must not be negative")
	}

	items, err := normalizeLineItems(in.LineItems)
	if err != nil {
		return nil, err
	}
	total, err := model.SumLineItems(items)
	if err != nil {
		return nil, invalid("products", "total overflows")
	}
	if in.DeclaredTotal != nil && *in.DeclaredTotal != total {
		return nil, fmt.Errorf("%w: declared %d, computed %d", ErrAmountMismatch, *in.DeclaredTotal, total)
	}

	voucher := &model.Voucher{
		Kind:        model.VoucherKindTicket,
		HolderName:  buyerName,
		HolderEmail: buyerEmail,
		Beneficiary: beneficiary,
		OwnerUserID: in.OwnerUserID,
		Amount:      total,
		LineItems:   items,
	}
	return s.issue(ctx, voucher, code, s.cfg.TicketPrefix)
}

// issue inserts voucher under the proposed code, or under generated codes
// until one is free. A proposed code belongs to the caller and is never
// replaced.
func (s *Issuer) issue(ctx context.Context, voucher *model.Voucher, proposed, prefix string) (*IssueResult, error) {
	now := s.now().UTC()
	voucher.CreatedAt = now.Unix()

	var receipt *model.Receipt
	if proposed != "" {
		voucher.Code = proposed
		created, err := s.registry.Create(ctx, voucher)
		if err != nil {
			return nil, mapRegistryError(err)
		}
		receipt = created
	} else {
		err := retry.Do(
			func() error {
				voucher.Code = s.generate(prefix, now)
				created, err := s.registry.Create(ctx, voucher)
				if err != nil {
					return err
				}
				receipt = created
				return nil
			},
			retry.RetryIf(func(err error) bool {
				if errors.Is(err, repository.ErrDuplicateCode) {
					s.logger.Warn("generated voucher code collided",
						zap.String("kind", string(voucher.Kind)),
						zap.String("code", voucher.Code),
					)
					return true
				}
				return false
			}),
			retry.DelayType(retry.FixedDelay),
			retry.Delay(time.Millisecond),
			retry.Attempts(uint(s.cfg.IssueAttempts)),
			retry.LastErrorOnly(true),
		)
		if err != nil {
			return nil, mapRegistryError(err)
		}
	}

	s.logger.Info("voucher issued",
		zap.String("kind", string(voucher.Kind)),
		zap.String("code", voucher.Code),
		zap.Int64("owner_user_id", voucher.OwnerUserID),
		zap.Int64("amount", voucher.Amount),
		zap.String("handle", receipt.Handle),
	)

	if s.bus != nil {
		s.bus.Publish(event.EventVoucherIssued, event.VoucherPayload{
			Kind:        string(voucher.Kind),
			Code:        voucher.Code,
			OwnerUserID: voucher.OwnerUserID,
			Beneficiary: voucher.Beneficiary,
			Amount:      voucher.Amount,
			Handle:      receipt.Handle,
			BlockNumber: receipt.BlockNumber,
			At:          now,
		})
	}

	return &IssueResult{Voucher: voucher.Clone(), Receipt: receipt}, nil
}

func requireName(field, value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", invalid(field, "required")
	}
	if utf8.RuneCountInString(trimmed) > maxNameRunes {
		return "", invalid(field, fmt.Sprintf("longer than %d characters", maxNameRunes))
	}
	return trimmed, nil
}

func requireEmail(field, value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", invalid(field, "required")
	}
	addr, err := mail.ParseAddress(trimmed)
	if err != nil || addr.Address != trimmed {
		return "", invalid(field, "not an email address")
	}
	return trimmed, nil
}

func normalizeLineItems(items []model.LineItem) ([]model.LineItem, error) {
	if len(items) == 0 {
		return nil, invalid("products", "at least one product is required")
	}
	if len(items) > maxLineItems {
		return nil, invalid("products", fmt.Sprintf("more than %d products", maxLineItems))
	}

	out := make([]model.LineItem, 0, len(items))
	for i, item := range items {
		name, err := requireName(fmt.Sprintf("products[%d].name", i), item.Name)
		if err != nil {
			return nil, err
		}
		if item.Quantity <= 0 {
			return nil, invalid(fmt.Sprintf("products[%d].quantity", i), "must be positive")
		}
		if item.UnitPrice < 0 {
			return nil, invalid(fmt.Sprintf("products[%d].price", i), "must not be negative")
		}
		out = append(out, model.LineItem{Name: name, Quantity: item.Quantity, UnitPrice: item.UnitPrice})
	}
	return out, nil
}
