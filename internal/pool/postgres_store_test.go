package pool

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/llLeco/parametric-ecosphere-sub000/internal/testutil"
)

func TestPostgresStoreReserveRelease(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	now := time.Now().UTC()
	p := &RiskPool{
		ID:                 "pool_pgtest",
		Name:               "integration pool",
		Currency:           "USD",
		CurrentCapacity:    100000,
		AvailableLiquidity: 100000,
		Tier1:              100000,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := store.Create(ctx, p); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := store.Reserve(ctx, p.ID, "pay_pg1", 60000)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if got.AvailableLiquidity != 40000 || got.ReservedLiquidity != 60000 {
		t.Fatalf("after reserve available=%d reserved=%d", got.AvailableLiquidity, got.ReservedLiquidity)
	}

	// Over-reservation must fail without touching balances.
	if _, err := store.Reserve(ctx, p.ID, "pay_pg2", 50000); !errors.Is(err, ErrInsufficientLiquidity) {
		t.Fatalf("expected ErrInsufficientLiquidity, got %v", err)
	}
	got, err = store.Get(ctx, p.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.AvailableLiquidity != 40000 || got.ReservedLiquidity != 60000 {
		t.Fatalf("balances moved on failed reserve: available=%d reserved=%d", got.AvailableLiquidity, got.ReservedLiquidity)
	}

	// A used reservation permanently reduces capacity.
	got, err = store.Release(ctx, p.ID, "pay_pg1", 60000, true)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if got.CurrentCapacity != 40000 || got.ReservedLiquidity != 0 || got.AvailableLiquidity != 40000 {
		t.Fatalf("after used release capacity=%d available=%d reserved=%d",
			got.CurrentCapacity, got.AvailableLiquidity, got.ReservedLiquidity)
	}

	res, err := store.ListReservations(ctx, p.ID)
	if err != nil {
		t.Fatalf("list reservations: %v", err)
	}
	if len(res) != 0 {
		t.Fatalf("expected no reservations left, got %d", len(res))
	}
}

func TestPostgresStoreCredit(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	now := time.Now().UTC()
	p := &RiskPool{ID: "pool_pgcredit", Name: "credit pool", Currency: "USD", CreatedAt: now, UpdatedAt: now}
	if err := store.Create(ctx, p); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := store.Credit(ctx, p.ID, 25000)
	if err != nil {
		t.Fatalf("credit: %v", err)
	}
	if got.CurrentCapacity != 25000 || got.AvailableLiquidity != 25000 || got.Tier1 != 25000 {
		t.Fatalf("after credit capacity=%d available=%d tier1=%d", got.CurrentCapacity, got.AvailableLiquidity, got.Tier1)
	}

	if _, err := store.Credit(ctx, "pool_missing", 100); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
