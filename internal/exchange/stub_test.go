package exchange

import (
	"context"
	"testing"

	"github.com/iojason/hl-bots/internal/execution"
)

func TestStorePublishAndStale(t *testing.T) {
	store := NewStore()
	if _, err := store.Book("ETH"); err != ErrStale {
		t.Fatalf("expected ErrStale for unknown instrument, got %v", err)
	}

	NewStub([]string{"ETH"}, 1000, store)
	b, err := store.Book("ETH")
	if err != nil {
		t.Fatalf("Book: %v", err)
	}
	if !b.Valid() || b.BestBid >= b.BestAsk {
		t.Fatalf("invalid synthetic book: %+v", b)
	}
}

func TestStubRestingOrderLifecycle(t *testing.T) {
	store := NewStore()
	s := NewStub([]string{"ETH"}, 1000, store)
	ctx := context.Background()

	o := execution.NewOrder("ETH", execution.Buy, 0.5, 999, execution.PostOnly)
	if err := s.PlaceOrder(ctx, o); err != nil {
		t.Fatalf("place: %v", err)
	}
	if got := len(s.OpenOrders()); got != 1 {
		t.Fatalf("expected 1 resting order, got %d", got)
	}
	if err := s.CancelOrder(ctx, "ETH", o.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := s.CancelOrder(ctx, "ETH", o.ID); err != execution.ErrNotFound {
		t.Fatalf("expected ErrNotFound on double cancel, got %v", err)
	}
}

func TestStubIOCFillsImmediately(t *testing.T) {
	store := NewStore()
	s := NewStub([]string{"ETH"}, 1000, store)

	o := execution.NewOrder("ETH", execution.Sell, 0.25, 1001, execution.IOC)
	if err := s.PlaceOrder(context.Background(), o); err != nil {
		t.Fatalf("place: %v", err)
	}
	select {
	case f := <-s.Fills():
		if f.Side != -1 || f.Qty != 0.25 || f.Price != 1001 {
			t.Fatalf("unexpected fill: %+v", f)
		}
	default:
		t.Fatal("expected an immediate fill")
	}
}

func TestStubScriptedExitRejections(t *testing.T) {
	store := NewStore()
	s := NewStub([]string{"ETH"}, 1000, store)
	s.RejectExits(execution.ExitIOCBypass, execution.ExitMarket)
	ctx := context.Background()

	exit := execution.NewOrder("ETH", execution.Sell, 1, 0, execution.IOC)
	exit.ReduceOnly = true
	err := s.PlaceMarketExit(ctx, exit, execution.ExitIOCBypass)
	if !execution.IsRejection(err) {
		t.Fatalf("expected rejection, got %v", err)
	}
	if err := s.PlaceMarketExit(ctx, exit, execution.ExitGTCBypass); err != nil {
		t.Fatalf("unscripted variant must fill: %v", err)
	}
	select {
	case f := <-s.Fills():
		if f.Side != -1 || f.Qty != 1 {
			t.Fatalf("unexpected exit fill: %+v", f)
		}
	default:
		t.Fatal("expected an exit fill")
	}

	// Re-scripting replaces the set rather than accumulating it.
	s.RejectExits()
	if err := s.PlaceMarketExit(ctx, exit, execution.ExitIOCBypass); err != nil {
		t.Fatalf("cleared script must fill: %v", err)
	}
}
