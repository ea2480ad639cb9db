package postgres

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"dcard-ledger/internal/model"
	"dcard-ledger/internal/repository"
)

var ErrNotFound = repository.ErrNotFound

const uniqueViolation = "23505"

type scanTarget interface {
	Scan(dest ...any) error
}

func encodeLineItems(kind model.VoucherKind, items []model.LineItem) ([]byte, error) {
	if kind != model.VoucherKindTicket {
		return nil, nil
	}
	if items == nil {
		items = []model.LineItem{}
	}
	return json.Marshal(items)
}

func decodeLineItems(raw []byte) ([]model.LineItem, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var out []model.LineItem
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// classifyError keeps server-reported SQL errors as they are and marks
// everything else (dial, timeout, closed pool) as backend unavailability.
func classifyError(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == uniqueViolation {
			return repository.ErrDuplicateCode
		}
		return err
	}
	return fmt.Errorf("%w: %v", repository.ErrBackendUnavailable, err)
}
