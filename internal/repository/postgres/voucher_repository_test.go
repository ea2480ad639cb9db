package postgres

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	testcontainers "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"dcard-ledger/internal/model"
	"dcard-ledger/internal/repository"
	"dcard-ledger/migrations"
)

func TestBurn_ConditionalUpdateExactlyOnce(t *testing.T) {
	pool := startPostgresForTest(t)
	repo := NewVoucherRepository(pool)
	ctx := context.Background()

	coupon := testCoupon("CPN-RACE-000001", 1)
	if _, err := repo.Create(ctx, coupon); err != nil {
		t.Fatalf("create coupon: %v", err)
	}

	const workers = 50
	var wg sync.WaitGroup
	errCh := make(chan error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.Update(ctx, repository.MarkUsed(coupon, time.Now().Unix()))
			errCh <- err
		}()
	}

	wg.Wait()
	close(errCh)

	successes := 0
	for err := range errCh {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, repository.ErrAlreadyUsed):
		default:
			t.Fatalf("unexpected burn error: %v", err)
		}
	}
	if successes != 1 {
		t.Fatalf("expected exactly one successful burn, got %d", successes)
	}

	got, err := repo.FindByCode(ctx, coupon.Code)
	if err != nil {
		t.Fatalf("FindByCode: %v", err)
	}
	if !got.Used || got.UsedAt == nil {
		t.Fatalf("expected used voucher, got %+v", got)
	}
}

func TestCreate_DuplicateCodeAcrossKinds(t *testing.T) {
	pool := startPostgresForTest(t)
	repo := NewVoucherRepository(pool)
	ctx := context.Background()

	if _, err := repo.Create(ctx, testCoupon("SHARED-CODE", 1)); err != nil {
		t.Fatalf("create coupon: %v", err)
	}

	ticket := testTicket("SHARED-CODE", 1)
	if _, err := repo.Create(ctx, ticket); !errors.Is(err, repository.ErrDuplicateCode) {
		t.Fatalf("expected ErrDuplicateCode, got %v", err)
	}
}

func TestTicket_LineItemsRoundTripInOrder(t *testing.T) {
	pool := startPostgresForTest(t)
	repo := NewVoucherRepository(pool)
	ctx := context.Background()

	ticket := testTicket("TKT-ROUND-TRIP", 7)
	if _, err := repo.Create(ctx, ticket); err != nil {
		t.Fatalf("create ticket: %v", err)
	}

	got, err := repo.FindByCode(ctx, ticket.Code)
	if err != nil {
		t.Fatalf("FindByCode: %v", err)
	}
	if !model.LineItemsEqual(got.LineItems, ticket.LineItems) {
		t.Fatalf("line items changed: got %+v want %+v", got.LineItems, ticket.LineItems)
	}
	if err := got.CheckConservation(); err != nil {
		t.Fatalf("conservation check failed after read: %v", err)
	}
}

func TestList_OwnerWithoutRecordsIsEmpty(t *testing.T) {
	pool := startPostgresForTest(t)
	repo := NewVoucherRepository(pool)
	ctx := context.Background()

	for i, owner := range []int64{1, 2, 1} {
		if _, err := repo.Create(ctx, testCoupon(fmt.Sprintf("CPN-LIST-%d", i), owner)); err != nil {
			t.Fatalf("create coupon %d: %v", i, err)
		}
	}

	owner := int64(1)
	items, err := repo.List(ctx, repository.VoucherListFilter{Kind: model.VoucherKindCoupon, OwnerUserID: &owner})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 2 || items[0].Code != "CPN-LIST-0" || items[1].Code != "CPN-LIST-2" {
		t.Fatalf("unexpected owner listing: %+v", items)
	}

	missing := int64(999)
	empty, err := repo.List(ctx, repository.VoucherListFilter{OwnerUserID: &missing})
	if err != nil {
		t.Fatalf("List missing owner: %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Fatalf("expected empty slice, got %#v", empty)
	}
}

func TestFindByCode_ClosedPoolIsBackendError(t *testing.T) {
	pool := startPostgresForTest(t)
	repo := NewVoucherRepository(pool)
	pool.Close()

	_, err := repo.FindByCode(context.Background(), "ANY")
	if !errors.Is(err, repository.ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}
}

func testCoupon(code string, owner int64) *model.Voucher {
	return &model.Voucher{
		Kind:        model.VoucherKindCoupon,
		Code:        code,
		HolderName:  "Alice",
		HolderEmail: "a@x.com",
		Beneficiary: "Bob",
		OwnerUserID: owner,
		Amount:      5000,
		CreatedAt:   time.Now().Unix(),
	}
}

func testTicket(code string, owner int64) *model.Voucher {
	return &model.Voucher{
		Kind:        model.VoucherKindTicket,
		Code:        code,
		HolderName:  "Carol",
		HolderEmail: "c@x.com",
		Beneficiary: "Dan",
		OwnerUserID: owner,
		Amount:      2801,
		LineItems: []model.LineItem{
			{Name: "Ciment", Quantity: 2, UnitPrice: 1308},
			{Name: "Fer", Quantity: 1, UnitPrice: 185},
		},
		CreatedAt: time.Now().Unix(),
	}
}

func startPostgresForTest(t *testing.T) *pgxpool.Pool {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "postgres",
				"POSTGRES_PASSWORD": "postgres",
				"POSTGRES_DB":       "ledger_test",
			},
			WaitingFor: wait.ForListeningPort("5432/tcp").WithStartupTimeout(90 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("skipping test because docker/testcontainers is unavailable: %v", err)
	}

	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("container mapped port: %v", err)
	}

	dsn := fmt.Sprintf("postgres://postgres:postgres@%s:%s/ledger_test?sslmode=disable", host, port.Port())
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("create pgx pool: %v", err)
	}
	t.Cleanup(pool.Close)

	deadline := time.Now().Add(30 * time.Second)
	for {
		err = pool.Ping(ctx)
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("postgres did not become ready: %v", err)
		}
		time.Sleep(500 * time.Millisecond)
	}

	applyAllMigrations(t, ctx, pool)
	return pool
}

func applyAllMigrations(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()

	files, err := fs.Glob(migrations.FS, "*.up.sql")
	if err != nil {
		t.Fatalf("list migrations: %v", err)
	}
	sort.Strings(files)

	for _, file := range files {
		raw, err := fs.ReadFile(migrations.FS, file)
		if err != nil {
			t.Fatalf("read migration %s: %v", file, err)
		}
		if strings.TrimSpace(string(raw)) == "" {
			continue
		}
		if _, err := pool.Exec(ctx, string(raw)); err != nil {
			t.Fatalf("apply migration %s: %v", file, err)
		}
	}
}
