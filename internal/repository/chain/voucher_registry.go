package chain

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"dcard-ledger/internal/model"
	"dcard-ledger/internal/repository"
)

// ContractBackend is the subset of bind.BoundContract the registry uses.
type ContractBackend interface {
	Call(opts *bind.CallOpts, results *[]interface{}, method string, params ...interface{}) error
	Transact(opts *bind.TransactOpts, method string, params ...interface{}) (*gethtypes.Transaction, error)
}

// ReceiptWaiter blocks until tx is mined.
type ReceiptWaiter func(ctx context.Context, tx *gethtypes.Transaction) (*gethtypes.Receipt, error)

type Config struct {
	RPCURL          string
	ContractAddress string
	PrivateKey      string
	PrivateKeyFile  string
	ChainID         int64
	CallTimeout     time.Duration
	ReceiptTimeout  time.Duration
}

type voucherRegistry struct {
	contract       ContractBackend
	waitMined      ReceiptWaiter
	auth           *bind.TransactOpts
	callTimeout    time.Duration
	receiptTimeout time.Duration
	logger         *zap.Logger

	// Serialises submissions so concurrent writers do not race on the
	// account nonce.
	sendMu sync.Mutex
}

var _ repository.VoucherRegistry = (*voucherRegistry)(nil)

// Dial connects to the JSON-RPC endpoint and binds the voucher ledger
// contract. The returned client must be closed by the caller.
func Dial(ctx context.Context, cfg Config, logger *zap.Logger) (repository.VoucherRegistry, *ethclient.Client, error) {
	endpoint := strings.TrimSpace(cfg.RPCURL)
	if endpoint == "" {
		return nil, nil, errors.New("chain.rpc_url is required")
	}
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, nil, fmt.Errorf("chain.contract_address %q is not a hex address", cfg.ContractAddress)
	}

	key, err := loadPrivateKey(cfg)
	if err != nil {
		return nil, nil, err
	}

	client, err := ethclient.DialContext(ctx, endpoint)
	if err != nil {
		return nil, nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}

	chainID := big.NewInt(cfg.ChainID)
	if cfg.ChainID <= 0 {
		chainID, err = client.ChainID(ctx)
		if err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("fetch chain id: %w", err)
		}
	}

	auth, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("build transactor: %w", err)
	}

	parsed, err := abi.JSON(strings.NewReader(VoucherLedgerABI))
	if err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("parse voucher ledger abi: %w", err)
	}

	contract := bind.NewBoundContract(common.HexToAddress(cfg.ContractAddress), parsed, client, client, client)
	waiter := func(ctx context.Context, tx *gethtypes.Transaction) (*gethtypes.Receipt, error) {
		return bind.WaitMined(ctx, client, tx)
	}

	return NewVoucherRegistry(contract, waiter, auth, cfg, logger), client, nil
}

func NewVoucherRegistry(
	contract ContractBackend,
	waitMined ReceiptWaiter,
	auth *bind.TransactOpts,
	cfg Config,
	logger *zap.Logger,
) repository.VoucherRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	if cfg.ReceiptTimeout <= 0 {
		cfg.ReceiptTimeout = 2 * time.Minute
	}

	return &voucherRegistry{
		contract:       contract,
		waitMined:      waitMined,
		auth:           auth,
		callTimeout:    cfg.CallTimeout,
		receiptTimeout: cfg.ReceiptTimeout,
		logger:         logger,
	}
}

func (r *voucherRegistry) FindByCode(ctx context.Context, code string) (*model.Voucher, error) {
	code = strings.TrimSpace(code)

	var out []interface{}
	if err := r.call(ctx, &out, methodGetVoucher, code); err != nil {
		return nil, err
	}

	voucher, exists, err := decodeVoucher(code, out)
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", repository.ErrBackendUnavailable, methodGetVoucher, err)
	}
	if !exists {
		return nil, repository.ErrNotFound
	}
	return voucher, nil
}

func (r *voucherRegistry) Create(ctx context.Context, voucher *model.Voucher) (*model.Receipt, error) {
	if voucher == nil || voucher.Used {
		return nil, repository.ErrIllegalTransition
	}

	kind, err := encodeKind(voucher.Kind)
	if err != nil {
		return nil, err
	}
	lineItems := ""
	if voucher.Kind == model.VoucherKindTicket {
		raw, err := json.Marshal(voucher.LineItems)
		if err != nil {
			return nil, fmt.Errorf("encode line items: %w", err)
		}
		lineItems = string(raw)
	}

	receipt, err := r.transact(ctx, methodIssue,
		voucher.Code,
		kind,
		voucher.HolderName,
		voucher.HolderEmail,
		voucher.Beneficiary,
		big.NewInt(voucher.OwnerUserID),
		big.NewInt(voucher.Amount),
		lineItems,
		voucher.ReceiverCountry,
		big.NewInt(voucher.CreatedAt),
	)
	if errors.Is(err, errReverted) {
		// issueVoucher only reverts on a taken code.
		if _, findErr := r.FindByCode(ctx, voucher.Code); findErr == nil {
			return nil, repository.ErrDuplicateCode
		}
		return nil, fmt.Errorf("%w: issue reverted: %v", repository.ErrBackendUnavailable, err)
	}
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

func (r *voucherRegistry) Update(ctx context.Context, voucher *model.Voucher) (*model.Receipt, error) {
	if voucher == nil {
		return nil, repository.ErrIllegalTransition
	}

	stored, err := r.FindByCode(ctx, voucher.Code)
	if err != nil {
		return nil, err
	}
	// The contract stamps usedAt itself from the block timestamp.
	if err := repository.CheckTransition(stored, voucher); err != nil {
		return nil, err
	}

	receipt, err := r.transact(ctx, methodBurn, voucher.Code)
	if errors.Is(err, errReverted) {
		current, findErr := r.FindByCode(ctx, voucher.Code)
		if findErr != nil {
			return nil, findErr
		}
		if current.Used {
			return nil, repository.ErrAlreadyUsed
		}
		return nil, fmt.Errorf("%w: burn reverted: %v", repository.ErrBackendUnavailable, err)
	}
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

func (r *voucherRegistry) List(ctx context.Context, filter repository.VoucherListFilter) ([]*model.Voucher, error) {
	var out []interface{}
	var err error
	if filter.OwnerUserID != nil {
		err = r.call(ctx, &out, methodCodesByOwner, big.NewInt(*filter.OwnerUserID))
	} else {
		err = r.call(ctx, &out, methodAllCodes)
	}
	if err != nil {
		return nil, err
	}

	codes, err := decodeCodes(out)
	if err != nil {
		return nil, fmt.Errorf("%w: decode code list: %v", repository.ErrBackendUnavailable, err)
	}

	items := make([]*model.Voucher, 0, len(codes))
	for _, code := range codes {
		voucher, err := r.FindByCode(ctx, code)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				// Listed by the contract but unreadable: the contract is
				// inconsistent, not empty.
				return nil, fmt.Errorf("%w: listed code %s has no record", repository.ErrBackendUnavailable, code)
			}
			return nil, err
		}
		if filter.Matches(voucher) {
			items = append(items, voucher)
		}
	}
	return items, nil
}

func (r *voucherRegistry) Ping(ctx context.Context) error {
	var out []interface{}
	return r.call(ctx, &out, methodAllCodes)
}

var errReverted = errors.New("execution reverted")

func (r *voucherRegistry) call(ctx context.Context, out *[]interface{}, method string, params ...interface{}) error {
	callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()

	if err := r.contract.Call(&bind.CallOpts{Context: callCtx}, out, method, params...); err != nil {
		// An empty return blob (no contract code, wrong address, pruned
		// node) is a backend fault, never an empty result.
		return fmt.Errorf("%w: call %s: %v", repository.ErrBackendUnavailable, method, err)
	}
	return nil
}

func (r *voucherRegistry) transact(ctx context.Context, method string, params ...interface{}) (*model.Receipt, error) {
	if r.auth == nil {
		return nil, fmt.Errorf("%w: no transactor configured", repository.ErrBackendUnavailable)
	}

	opts := *r.auth
	opts.Context = ctx

	r.sendMu.Lock()
	tx, err := r.contract.Transact(&opts, method, params...)
	r.sendMu.Unlock()
	if err != nil {
		if isRevert(err) {
			return nil, fmt.Errorf("%w: %s: %v", errReverted, method, err)
		}
		return nil, fmt.Errorf("%w: send %s: %v", repository.ErrBackendUnavailable, method, err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, r.receiptTimeout)
	defer cancel()

	receipt, err := r.waitMined(waitCtx, tx)
	if err != nil {
		r.logger.Warn("wait for voucher transaction failed",
			zap.String("method", method),
			zap.String("tx_hash", tx.Hash().Hex()),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: wait %s: %v", repository.ErrBackendUnavailable, tx.Hash().Hex(), err)
	}
	if receipt.Status != gethtypes.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("%w: %s tx %s failed", errReverted, method, tx.Hash().Hex())
	}

	out := &model.Receipt{Handle: tx.Hash().Hex()}
	if receipt.BlockNumber != nil && receipt.BlockNumber.IsUint64() {
		block := receipt.BlockNumber.Uint64()
		out.BlockNumber = &block
	}
	return out, nil
}

func isRevert(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "execution reverted")
}

func encodeKind(kind model.VoucherKind) (uint8, error) {
	switch kind {
	case model.VoucherKindCoupon:
		return kindCoupon, nil
	case model.VoucherKindTicket:
		return kindTicket, nil
	default:
		return 0, fmt.Errorf("unknown voucher kind %q", kind)
	}
}

func decodeVoucher(code string, out []interface{}) (*model.Voucher, bool, error) {
	if len(out) != 12 {
		return nil, false, fmt.Errorf("expected 12 return values, got %d", len(out))
	}

	exists, ok := out[0].(bool)
	if !ok {
		return nil, false, errors.New("exists is not bool")
	}
	if !exists {
		return nil, false, nil
	}

	kindRaw, ok := out[1].(uint8)
	if !ok {
		return nil, false, errors.New("kind is not uint8")
	}
	var kind model.VoucherKind
	switch kindRaw {
	case kindCoupon:
		kind = model.VoucherKindCoupon
	case kindTicket:
		kind = model.VoucherKindTicket
	default:
		return nil, false, fmt.Errorf("unknown kind %d", kindRaw)
	}

	strs := make([]string, 0, 5)
	for _, idx := range []int{2, 3, 4, 7, 8} {
		s, ok := out[idx].(string)
		if !ok {
			return nil, false, fmt.Errorf("return value %d is not string", idx)
		}
		strs = append(strs, s)
	}

	ints := make([]int64, 0, 4)
	for _, idx := range []int{5, 6, 9, 11} {
		n, ok := out[idx].(*big.Int)
		if !ok || n == nil || !n.IsInt64() {
			return nil, false, fmt.Errorf("return value %d is not an int64", idx)
		}
		ints = append(ints, n.Int64())
	}

	used, ok := out[10].(bool)
	if !ok {
		return nil, false, errors.New("used is not bool")
	}

	voucher := &model.Voucher{
		Kind:            kind,
		Code:            code,
		HolderName:      strs[0],
		HolderEmail:     strs[1],
		Beneficiary:     strs[2],
		OwnerUserID:     ints[0],
		Amount:          ints[1],
		ReceiverCountry: strs[4],
		CreatedAt:       ints[2],
		Used:            used,
	}
	if used {
		usedAt := ints[3]
		voucher.UsedAt = &usedAt
	}
	if kind == model.VoucherKindTicket && strs[3] != "" {
		if err := json.Unmarshal([]byte(strs[3]), &voucher.LineItems); err != nil {
			return nil, false, fmt.Errorf("line items: %w", err)
		}
	}
	return voucher, true, nil
}

func decodeCodes(out []interface{}) ([]string, error) {
	if len(out) != 1 {
		return nil, fmt.Errorf("expected 1 return value, got %d", len(out))
	}
	codes, ok := out[0].([]string)
	if !ok {
		return nil, fmt.Errorf("unexpected code list type %T", out[0])
	}
	return codes, nil
}

func loadPrivateKey(cfg Config) (*ecdsa.PrivateKey, error) {
	raw := strings.TrimSpace(cfg.PrivateKey)
	if raw == "" && strings.TrimSpace(cfg.PrivateKeyFile) != "" {
		// #nosec G304 -- path is provided by operator config.
		content, err := os.ReadFile(strings.TrimSpace(cfg.PrivateKeyFile))
		if err != nil {
			return nil, fmt.Errorf("read chain.private_key_file: %w", err)
		}
		raw = strings.TrimSpace(string(content))
	}
	if raw == "" {
		return nil, errors.New("chain.private_key is required")
	}

	key, err := gethcrypto.HexToECDSA(strings.TrimPrefix(raw, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse chain private key: %w", err)
	}
	return key, nil
}
