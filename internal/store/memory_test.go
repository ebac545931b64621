package store_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/betpay/ledger-engine/internal/model"
	"github.com/betpay/ledger-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func seedAccount(t *testing.T, ms *store.MemoryStore, id string, balance float64) {
	t.Helper()
	acct := &model.Account{
		ID: id,
		Balances: map[string]model.Balance{
			"USD": {Amount: d(balance)},
		},
		CreatedAt: time.Now().UTC(),
	}
	if err := ms.CreateAccount(context.Background(), acct); err != nil {
		t.Fatalf("seed account: %v", err)
	}
}

func TestCreateAccount_Duplicate(t *testing.T) {
	ms := store.NewMemoryStore()
	seedAccount(t, ms, "user1", 10)

	err := ms.CreateAccount(context.Background(), &model.Account{ID: "user1"})
	if !errors.Is(err, store.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestGetAccount_ReturnsCopy(t *testing.T) {
	ms := store.NewMemoryStore()
	seedAccount(t, ms, "user1", 10)

	a, err := ms.GetAccount(context.Background(), "user1")
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	a.Balances["USD"] = model.Balance{Amount: d(999)}

	b, _ := ms.GetAccount(context.Background(), "user1")
	if !b.Balances["USD"].Amount.Equal(d(10)) {
		t.Error("mutating a returned account must not affect the store")
	}
}

func TestCompareAndSwapBalance(t *testing.T) {
	ms := store.NewMemoryStore()
	seedAccount(t, ms, "user1", 10)

	if err := ms.CompareAndSwapBalance(context.Background(), "user1", "USD", d(20), 0); err != nil {
		t.Fatalf("swap with correct version: %v", err)
	}

	a, _ := ms.GetAccount(context.Background(), "user1")
	if !a.Balances["USD"].Amount.Equal(d(20)) || a.Balances["USD"].Version != 1 {
		t.Errorf("expected amount 20 version 1, got %+v", a.Balances["USD"])
	}

	// Stale version is rejected.
	err := ms.CompareAndSwapBalance(context.Background(), "user1", "USD", d(30), 0)
	if !errors.Is(err, store.ErrVersionMismatch) {
		t.Fatalf("expected ErrVersionMismatch, got %v", err)
	}

	// Unknown account and unknown currency.
	if err := ms.CompareAndSwapBalance(context.Background(), "nobody", "USD", d(1), 0); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown account, got %v", err)
	}
	if err := ms.CompareAndSwapBalance(context.Background(), "user1", "BTC", d(1), 0); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown currency, got %v", err)
	}
}

func TestCompareAndSwapBalance_ConcurrentSingleWinner(t *testing.T) {
	ms := store.NewMemoryStore()
	seedAccount(t, ms, "user1", 10)

	const workers = 16
	var wg sync.WaitGroup
	wins := make(chan struct{}, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := ms.CompareAndSwapBalance(context.Background(), "user1", "USD", d(float64(100+i)), 0)
			if err == nil {
				wins <- struct{}{}
			} else if !errors.Is(err, store.ErrVersionMismatch) {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()
	close(wins)

	if n := len(wins); n != 1 {
		t.Errorf("expected exactly 1 winner for version 0, got %d", n)
	}
	a, _ := ms.GetAccount(context.Background(), "user1")
	if a.Balances["USD"].Version != 1 {
		t.Errorf("expected version 1, got %d", a.Balances["USD"].Version)
	}
}

func TestMarkInvoicePaid_SingleWinner(t *testing.T) {
	ms := store.NewMemoryStore()
	inv := &model.Invoice{
		ID:        "inv-1",
		AccountID: "user1",
		Amount:    d(25),
		Currency:  "USD",
		Status:    model.InvoiceUnpaid,
		CreatedAt: time.Now().UTC(),
	}
	if err := ms.InsertInvoice(context.Background(), inv); err != nil {
		t.Fatalf("insert invoice: %v", err)
	}

	const workers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	var winners []string
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ref := "ref-" + string(rune('a'+i))
			won, err := ms.MarkInvoicePaid(context.Background(), "inv-1", ref)
			if err != nil {
				t.Errorf("mark paid: %v", err)
				return
			}
			if won {
				mu.Lock()
				winners = append(winners, ref)
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if len(winners) != 1 {
		t.Fatalf("expected exactly 1 winner, got %d", len(winners))
	}
	stored, _ := ms.GetInvoice(context.Background(), "inv-1")
	if stored.Status != model.InvoicePaid || stored.CreditRef != winners[0] {
		t.Errorf("stored invoice should carry the winner's ref, got %+v", stored)
	}
}

func TestMarkInvoicePaid_NotFound(t *testing.T) {
	ms := store.NewMemoryStore()

	_, err := ms.MarkInvoicePaid(context.Background(), "missing", "ref")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestClosePosition_SingleWinner(t *testing.T) {
	ms := store.NewMemoryStore()
	pos := &model.Position{
		ID:        "pos-1",
		AccountID: "user1",
		Token:     "BTC",
		Direction: model.DirectionUp,
		Stake:     d(40),
		Currency:  "USD",
		Status:    model.PositionActive,
		ExpiresAt: time.Now().UTC().Add(time.Hour),
		CreatedAt: time.Now().UTC(),
	}
	if err := ms.InsertPosition(context.Background(), pos); err != nil {
		t.Fatalf("insert position: %v", err)
	}

	const workers = 8
	var wg sync.WaitGroup
	wins := make(chan struct{}, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			won, err := ms.ClosePosition(context.Background(), "pos-1", model.PositionSettled, d(66000))
			if err != nil {
				t.Errorf("close position: %v", err)
				return
			}
			if won {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	if n := len(wins); n != 1 {
		t.Errorf("expected exactly 1 winner, got %d", n)
	}
	stored, _ := ms.GetPosition(context.Background(), "pos-1")
	if stored.Status != model.PositionSettled {
		t.Errorf("expected settled, got %s", stored.Status)
	}
}

func TestDeletePosition(t *testing.T) {
	ms := store.NewMemoryStore()
	pos := &model.Position{ID: "pos-1", AccountID: "user1", Status: model.PositionActive}
	if err := ms.InsertPosition(context.Background(), pos); err != nil {
		t.Fatalf("insert position: %v", err)
	}

	if err := ms.DeletePosition(context.Background(), "pos-1"); err != nil {
		t.Fatalf("delete position: %v", err)
	}
	if _, err := ms.GetPosition(context.Background(), "pos-1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if err := ms.DeletePosition(context.Background(), "pos-1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on double delete, got %v", err)
	}
}

func TestListUnpaidInvoices_FiltersByStatusAndAccount(t *testing.T) {
	ms := store.NewMemoryStore()
	now := time.Now().UTC()
	invoices := []*model.Invoice{
		{ID: "a", AccountID: "user1", Status: model.InvoiceUnpaid, Amount: d(1), Currency: "USD", CreatedAt: now},
		{ID: "b", AccountID: "user1", Status: model.InvoicePaid, Amount: d(2), Currency: "USD", CreatedAt: now},
		{ID: "c", AccountID: "user2", Status: model.InvoiceUnpaid, Amount: d(3), Currency: "USD", CreatedAt: now},
	}
	for _, inv := range invoices {
		if err := ms.InsertInvoice(context.Background(), inv); err != nil {
			t.Fatalf("insert %s: %v", inv.ID, err)
		}
	}

	unpaid, err := ms.ListUnpaidInvoices(context.Background(), "user1")
	if err != nil {
		t.Fatalf("list unpaid: %v", err)
	}
	if len(unpaid) != 1 || unpaid[0].ID != "a" {
		t.Errorf("expected only invoice a, got %+v", unpaid)
	}
}
