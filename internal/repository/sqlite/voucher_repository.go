package sqlite

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"github.com/rs/xid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"dcard-ledger/internal/model"
	"dcard-ledger/internal/repository"
)

type voucherRepository struct {
	db *gorm.DB
}

// Open opens (or creates) the sqlite database at path and migrates the
// vouchers table. A single connection serialises writers, which is what
// sqlite does internally anyway.
func Open(path string) (*gorm.DB, error) {
	dsn := strings.TrimSpace(path)
	if dsn == "" {
		dsn = ":memory:"
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dsn, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&voucherPO{}); err != nil {
		return nil, fmt.Errorf("migrate sqlite schema: %w", err)
	}
	return db, nil
}

func NewVoucherRepository(db *gorm.DB) repository.VoucherRegistry {
	return &voucherRepository{db: db}
}

var _ repository.VoucherRegistry = (*voucherRepository)(nil)

func (r *voucherRepository) FindByCode(ctx context.Context, code string) (*model.Voucher, error) {
	var po voucherPO
	err := r.db.WithContext(ctx).Where("code = ?", strings.TrimSpace(code)).First(&po).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, backendError(err)
	}
	return po.toVoucher(), nil
}

func (r *voucherRepository) Create(ctx context.Context, voucher *model.Voucher) (*model.Receipt, error) {
	if voucher == nil || voucher.Used {
		return nil, repository.ErrIllegalTransition
	}

	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "code"}}, DoNothing: true}).
		Create(fromVoucher(voucher))
	if res.Error != nil {
		return nil, backendError(res.Error)
	}
	if res.RowsAffected == 0 {
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

	res := r.db.WithContext(ctx).
		Model(&voucherPO{}).
		Where("code = ? AND used = ?", voucher.Code, false).
		Updates(map[string]any{"used": true, "used_at": *voucher.UsedAt})
	if res.Error != nil {
		return nil, backendError(res.Error)
	}
	if res.RowsAffected == 1 {
		return &model.Receipt{Handle: xid.New().String()}, nil
	}
	return nil, repository.ErrAlreadyUsed
}

func (r *voucherRepository) List(ctx context.Context, filter repository.VoucherListFilter) ([]*model.Voucher, error) {
	query := r.db.WithContext(ctx).Model(&voucherPO{})
	if filter.Kind != "" {
		query = query.Where("kind = ?", string(filter.Kind))
	}
	if filter.OwnerUserID != nil {
		query = query.Where("owner_user_id = ?", *filter.OwnerUserID)
	}
	if filter.Used != nil {
		query = query.Where("used = ?", *filter.Used)
	}

	var rows []voucherPO
	if err := query.Order("id ASC").Find(&rows).Error; err != nil {
		return nil, backendError(err)
	}

	items := make([]*model.Voucher, 0, len(rows))
	for i := range rows {
		items = append(items, rows[i].toVoucher())
	}
	return items, nil
}

func (r *voucherRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return backendError(err)
	}
	return backendError(sqlDB.PingContext(ctx))
}

func backendError(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", repository.ErrBackendUnavailable, err)
}
