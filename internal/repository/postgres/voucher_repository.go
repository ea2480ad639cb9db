package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/xid"

	"dcard-ledger/internal/model"
	"dcard-ledger/internal/repository"
)

type voucherRepository struct {
	pool *pgxpool.Pool
}

func NewVoucherRepository(pool *pgxpool.Pool) repository.VoucherRegistry {
	return &voucherRepository{pool: pool}
}

var _ repository.VoucherRegistry = (*voucherRepository)(nil)

const voucherColumns = `
	kind,
	code,
	holder_name,
	holder_email,
	beneficiary,
	owner_user_id,
	amount,
	line_items,
	receiver_country,
	created_at,
	used,
	used_at
`

func (r *voucherRepository) FindByCode(ctx context.Context, code string) (*model.Voucher, error) {
	query := `SELECT ` + voucherColumns + ` FROM vouchers WHERE code = $1`
	voucher, err := scanVoucher(r.pool.QueryRow(ctx, query, strings.TrimSpace(code)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, classifyError(err)
	}
	return voucher, nil
}

func (r *voucherRepository) Create(ctx context.Context, voucher *model.Voucher) (*model.Receipt, error) {
	if voucher == nil || voucher.Used {
		return nil, repository.ErrIllegalTransition
	}

	lineItems, err := encodeLineItems(voucher.Kind, voucher.LineItems)
	if err != nil {
		return nil, fmt.Errorf("encode line items: %w", err)
	}

	query := `
		INSERT INTO vouchers (
			kind, code, holder_name, holder_email, beneficiary,
			owner_user_id, amount, line_items, receiver_country, created_at,
			used, used_at
		)
		VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			FALSE, NULL
		)
		ON CONFLICT (code) DO NOTHING
	`

	tag, err := r.pool.Exec(
		ctx,
		query,
		string(voucher.Kind),
		voucher.Code,
		voucher.HolderName,
		voucher.HolderEmail,
		voucher.Beneficiary,
		voucher.OwnerUserID,
		voucher.Amount,
		lineItems,
		voucher.ReceiverCountry,
		voucher.CreatedAt,
	)
	if err != nil {
		return nil, classifyError(err)
	}
	if tag.RowsAffected() == 0 {
		return nil, repository.ErrDuplicateCode
	}

	return &model.Receipt{Handle: xid.New().String()}, nil
}

func (r *voucherRepository) Update(ctx context.Context, voucher *model.Voucher) (*model.Receipt, error) {
	if voucher == nil || voucher.UsedAt == nil {
		return nil, repository.ErrIllegalTransition
	}

	stored, err := r.FindByCode(ctx, voucher.Code)
	if err != nil {
		return nil, err
	}
	if err := repository.CheckTransition(stored, voucher); err != nil {
		return nil, err
	}

	tag, err := r.pool.Exec(
		ctx,
		`UPDATE vouchers
		    SET used = TRUE,
		        used_at = $2
		  WHERE code = $1
		    AND used = FALSE`,
		voucher.Code,
		*voucher.UsedAt,
	)
	if err != nil {
		return nil, classifyError(err)
	}
	if tag.RowsAffected() == 1 {
		return &model.Receipt{Handle: xid.New().String()}, nil
	}

	// Lost the race: tell "burned meanwhile" apart from "vanished".
	current, err := r.FindByCode(ctx, voucher.Code)
	if err != nil {
		return nil, err
	}
	if current.Used {
		return nil, repository.ErrAlreadyUsed
	}
	return nil, fmt.Errorf("%w: conditional update matched no row", repository.ErrIllegalTransition)
}

func (r *voucherRepository) List(ctx context.Context, filter repository.VoucherListFilter) ([]*model.Voucher, error) {
	args := make([]any, 0, 3)
	conditions := make([]string, 0, 3)

	if filter.Kind != "" {
		args = append(args, string(filter.Kind))
		conditions = append(conditions, fmt.Sprintf("kind = $%d", len(args)))
	}
	if filter.OwnerUserID != nil {
		args = append(args, *filter.OwnerUserID)
		conditions = append(conditions, fmt.Sprintf("owner_user_id = $%d", len(args)))
	}
	if filter.Used != nil {
		args = append(args, *filter.Used)
		conditions = append(conditions, fmt.Sprintf("used = $%d", len(args)))
	}

	query := `SELECT ` + voucherColumns + ` FROM vouchers`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY id ASC"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, classifyError(err)
	}
	defer rows.Close()

	items := make([]*model.Voucher, 0)
	for rows.Next() {
		item, scanErr := scanVoucher(rows)
		if scanErr != nil {
			return nil, classifyError(scanErr)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyError(err)
	}

	return items, nil
}

func (r *voucherRepository) Ping(ctx context.Context) error {
	return classifyError(r.pool.Ping(ctx))
}

func scanVoucher(src scanTarget) (*model.Voucher, error) {
	var (
		kind      string
		lineItems []byte
	)
	voucher := &model.Voucher{}
	if err := src.Scan(
		&kind,
		&voucher.Code,
		&voucher.HolderName,
		&voucher.HolderEmail,
		&voucher.Beneficiary,
		&voucher.OwnerUserID,
		&voucher.Amount,
		&lineItems,
		&voucher.ReceiverCountry,
		&voucher.CreatedAt,
		&voucher.Used,
		&voucher.UsedAt,
	); err != nil {
		return nil, err
	}

	voucher.Kind = model.VoucherKind(kind)
	items, err := decodeLineItems(lineItems)
	if err != nil {
		return nil, fmt.Errorf("decode line items for %s: %w", voucher.Code, err)
	}
	voucher.LineItems = items
	return voucher, nil
}
