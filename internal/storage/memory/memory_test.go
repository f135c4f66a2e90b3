package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/emberlog/service_layer/internal/clock"
	"github.com/emberlog/service_layer/internal/domain/smoking"
	"github.com/emberlog/service_layer/internal/storage"
	"github.com/emberlog/service_layer/internal/storage/storagetest"
)

func TestStoreContract(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store { return New() })
}

func TestCreatedAtFromClock(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewWithClock(clock.NewFixed(at))

	ev, err := s.CreateEvent(context.Background(), smoking.Event{UserID: uuid.NewString(), OccurredAt: at})
	if err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}
	if !ev.CreatedAt.Equal(at) {
		t.Fatalf("created_at = %v, want %v", ev.CreatedAt, at)
	}
}

func TestFailNextIsOneShot(t *testing.T) {
	s := New()
	boom := errors.New("boom")
	s.FailNext(OpLatestEvent, boom)

	if _, err := s.LatestEvent(context.Background(), "u"); !errors.Is(err, boom) {
		t.Fatalf("first call err = %v, want boom", err)
	}
	if _, err := s.LatestEvent(context.Background(), "u"); err != nil {
		t.Fatalf("second call err = %v", err)
	}
}

func TestReturnedEventsAreCopies(t *testing.T) {
	s := New()
	supplyID := "s1"
	ev, err := s.CreateEvent(context.Background(), smoking.Event{UserID: "u", SupplyID: &supplyID, OccurredAt: time.Now()})
	if err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}
	*ev.SupplyID = "mutated"

	got, err := s.GetEvent(context.Background(), "u", ev.ID)
	if err != nil {
		t.Fatalf("GetEvent: %v", err)
	}
	if *got.SupplyID != "s1" {
		t.Fatalf("stored supply id changed to %q", *got.SupplyID)
	}
}

func TestConcurrentAdjustNeverOversells(t *testing.T) {
	s := New()
	ctx := context.Background()
	sup, err := s.CreateSupply(ctx, smoking.Supply{UserID: "u", TotalUnits: 10, RemainingUnits: 10, UnitPrice: decimal.NewFromInt(10)})
	if err != nil {
		t.Fatalf("CreateSupply: %v", err)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.AdjustSupplyRemaining(ctx, "u", sup.ID, -1); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if succeeded != 10 {
		t.Fatalf("succeeded = %d, want 10", succeeded)
	}
	got, _ := s.GetSupply(ctx, "u", sup.ID)
	if got.RemainingUnits != 0 {
		t.Fatalf("remaining = %d", got.RemainingUnits)
	}
}

func TestViolationsTieBreakByInsertion(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewWithClock(clock.NewFixed(at))
	ctx := context.Background()

	first, _ := s.CreateViolation(ctx, smoking.ViolationRecord{UserID: "u", Kind: smoking.ViolationKindForcedUnlock})
	second, _ := s.CreateViolation(ctx, smoking.ViolationRecord{UserID: "u", Kind: smoking.ViolationKindForcedUnlock})

	list, err := s.ListViolations(ctx, "u", 0)
	if err != nil {
		t.Fatalf("ListViolations: %v", err)
	}
	if len(list) != 2 || list[0].ID != second.ID || list[1].ID != first.ID {
		t.Fatalf("unexpected order: %+v", list)
	}
}
