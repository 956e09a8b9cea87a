package rental

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Integration tests for PGStore. They need a Postgres with the schema from
// migrations/001_init.sql applied and are skipped unless
// RENTAL_TEST_POSTGRES_DSN is set.
func newPGStore(t *testing.T) *PGStore {
	t.Helper()
	dsn := os.Getenv("RENTAL_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("RENTAL_TEST_POSTGRES_DSN not set, skipping integration test")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		t.Skipf("postgres unreachable: %v", err)
	}
	t.Cleanup(pool.Close)
	return &PGStore{DB: pool}
}

func TestPGStore_CommitAndRelease(t *testing.T) {
	store := newPGStore(t)
	ctx := context.Background()

	p := Product{SKU: "it-" + uuid.NewString()[:8], Name: "Drill", TotalStock: 3, DayCents: 500}
	if err := store.CreateProduct(ctx, &p, "admin-it"); err != nil {
		t.Fatalf("create product: %v", err)
	}

	o := Order{
		ID: uuid.NewString(), UserID: "user-it",
		Status: StatusPending, PaymentStatus: PaymentPending, PaymentMethod: PaymentCOD,
		Lines: []OrderLine{{ProductID: p.ID, Quantity: 2, StartDate: day(1), EndDate: day(5)}},
	}
	if err := store.CommitOrder(ctx, &o); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if o.TotalCents == 0 || o.Lines[0].Name != "Drill" {
		t.Errorf("snapshots not filled: %+v", o.Lines[0])
	}

	held, err := store.ActiveReservations(ctx, p.ID, day(3), day(6))
	if err != nil {
		t.Fatalf("overlap query: %v", err)
	}
	if AvailableUnits(p.TotalStock, held, day(3), day(6)) != 1 {
		t.Errorf("expected 1 unit left, holds: %+v", held)
	}

	// a competing 2-unit commit on the same window must fail
	o2 := Order{
		ID: uuid.NewString(), UserID: "user-it2",
		Status: StatusPending, PaymentStatus: PaymentPending, PaymentMethod: PaymentCOD,
		Lines: []OrderLine{{ProductID: p.ID, Quantity: 2, StartDate: day(3), EndDate: day(6)}},
	}
	var stock *InsufficientStockError
	if err := store.CommitOrder(ctx, &o2); !errors.As(err, &stock) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
	if _, err := store.OrderByID(ctx, o2.ID); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("rejected order persisted: %v", err)
	}

	// pickup, return, and verify the window is free again
	if err := store.SetOrderStatus(ctx, o.ID, StatusPending, StatusActive); err != nil {
		t.Fatalf("pickup: %v", err)
	}
	if err := store.CompleteOrder(ctx, o.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	held, err = store.ActiveReservations(ctx, p.ID, day(1), day(10))
	if err != nil {
		t.Fatalf("overlap query: %v", err)
	}
	if len(held) != 0 {
		t.Errorf("active holds remain after return: %+v", held)
	}

	entries, err := store.LedgerByProduct(ctx, p.ID)
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	reasons := map[LedgerReason]int{}
	for _, e := range entries {
		reasons[e.Reason]++
	}
	if reasons[ReasonInitialStock] != 1 || reasons[ReasonRentalOut] != 1 || reasons[ReasonRentalReturn] != 1 {
		t.Errorf("unexpected ledger shape: %+v", reasons)
	}
}

func TestPGStore_BackToBack(t *testing.T) {
	store := newPGStore(t)
	ctx := context.Background()

	p := Product{SKU: "it-" + uuid.NewString()[:8], Name: "Ladder", TotalStock: 1, DayCents: 200}
	if err := store.CreateProduct(ctx, &p, "admin-it"); err != nil {
		t.Fatalf("create product: %v", err)
	}

	for i, win := range [][2]int{{1, 5}, {5, 10}} {
		o := Order{
			ID: uuid.NewString(), UserID: "user-it",
			Status: StatusPending, PaymentStatus: PaymentPending, PaymentMethod: PaymentCOD,
			Lines: []OrderLine{{ProductID: p.ID, Quantity: 1, StartDate: day(win[0]), EndDate: day(win[1])}},
		}
		if err := store.CommitOrder(ctx, &o); err != nil {
			t.Fatalf("back-to-back commit %d: %v", i, err)
		}
	}
}
