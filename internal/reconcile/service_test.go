package reconcile_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/betpay/ledger-engine/internal/audit"
	"github.com/betpay/ledger-engine/internal/ledger"
	"github.com/betpay/ledger-engine/internal/model"
	"github.com/betpay/ledger-engine/internal/provider"
	"github.com/betpay/ledger-engine/internal/reconcile"
	"github.com/betpay/ledger-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// fakeProvider is an in-memory payment provider. Statuses maps invoice id
// to its provider-side status; ids absent from the map are unknown to the
// provider.
type fakeProvider struct {
	mu       sync.Mutex
	statuses map[string]string
	seq      int
	getCalls int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{statuses: make(map[string]string)}
}

func (f *fakeProvider) CreateInvoice(_ context.Context, _ decimal.Decimal, _ string) (*provider.CreatedInvoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	id := fmt.Sprintf("inv-%d", f.seq)
	f.statuses[id] = provider.StatusActive
	return &provider.CreatedInvoice{
		InvoiceID: id,
		PayURL:    "https://pay.example/" + id,
	}, nil
}

func (f *fakeProvider) GetInvoices(_ context.Context, ids []string) ([]provider.InvoiceStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	var out []provider.InvoiceStatus
	for _, id := range ids {
		if status, ok := f.statuses[id]; ok {
			out = append(out, provider.InvoiceStatus{InvoiceID: id, Status: status})
		}
	}
	return out, nil
}

func (f *fakeProvider) markPaid(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[id] = provider.StatusPaid
}

func (f *fakeProvider) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.getCalls
}

type testEnv struct {
	store    *store.MemoryStore
	provider *fakeProvider
	service  *reconcile.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ms := store.NewMemoryStore()
	fp := newFakeProvider()
	lg := ledger.New(ms, audit.NewLog(ms))
	return &testEnv{
		store:    ms,
		provider: fp,
		service:  reconcile.NewService(ms, lg, fp, nil),
	}
}

func (e *testEnv) seedAccount(t *testing.T, id string, balance float64) {
	t.Helper()
	acct := &model.Account{
		ID: id,
		Balances: map[string]model.Balance{
			"USD": {Amount: d(balance)},
		},
		CreatedAt: time.Now().UTC(),
	}
	if err := e.store.CreateAccount(context.Background(), acct); err != nil {
		t.Fatalf("failed to seed account: %v", err)
	}
}

func (e *testEnv) balance(t *testing.T, accountID string) decimal.Decimal {
	t.Helper()
	acct, err := e.store.GetAccount(context.Background(), accountID)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	return acct.Balances["USD"].Amount
}

func TestCreateInvoice_PersistsUnpaid(t *testing.T) {
	env := newTestEnv(t)
	env.seedAccount(t, "user1", 0)

	inv, err := env.service.CreateInvoice(context.Background(), "user1", d(25), "USD")
	if err != nil {
		t.Fatalf("create invoice: %v", err)
	}
	if inv.Status != model.InvoiceUnpaid {
		t.Errorf("expected unpaid, got %s", inv.Status)
	}
	if inv.PayURL == "" {
		t.Error("expected a pay URL from the provider")
	}

	stored, err := env.store.GetInvoice(context.Background(), inv.ID)
	if err != nil {
		t.Fatalf("invoice not persisted: %v", err)
	}
	if !stored.Amount.Equal(d(25)) || stored.AccountID != "user1" {
		t.Errorf("stored invoice mismatch: %+v", stored)
	}
}

func TestCreateInvoice_Validation(t *testing.T) {
	env := newTestEnv(t)
	env.seedAccount(t, "user1", 0)

	cases := []struct {
		name      string
		accountID string
		amount    decimal.Decimal
		currency  string
	}{
		{"missing account", "", d(25), "USD"},
		{"zero amount", "user1", decimal.Zero, "USD"},
		{"negative amount", "user1", d(-5), "USD"},
		{"missing currency", "user1", d(25), ""},
		{"unknown currency", "user1", d(25), "BTC"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.service.CreateInvoice(context.Background(), tc.accountID, tc.amount, tc.currency)
			var vErr *ledger.ValidationError
			if !errors.As(err, &vErr) {
				t.Errorf("expected ValidationError, got %v", err)
			}
		})
	}
}

func TestCreateInvoice_AccountNotFound(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.service.CreateInvoice(context.Background(), "nobody", d(25), "USD")
	if !errors.Is(err, ledger.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestReconcile_CreditsPaidInvoice(t *testing.T) {
	env := newTestEnv(t)
	env.seedAccount(t, "user1", 10)

	inv, err := env.service.CreateInvoice(context.Background(), "user1", d(25), "USD")
	if err != nil {
		t.Fatalf("create invoice: %v", err)
	}
	env.provider.markPaid(inv.ID)

	result, err := env.service.Reconcile(context.Background(), "user1")
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if result.Total != 1 || len(result.Processed) != 1 || result.Processed[0] != inv.ID {
		t.Errorf("expected exactly %s processed, got %+v", inv.ID, result)
	}
	if !env.balance(t, "user1").Equal(d(35)) {
		t.Errorf("expected balance 35, got %s", env.balance(t, "user1"))
	}

	stored, _ := env.store.GetInvoice(context.Background(), inv.ID)
	if stored.Status != model.InvoicePaid {
		t.Errorf("expected invoice paid, got %s", stored.Status)
	}
	if stored.CreditRef == "" {
		t.Error("paid invoice should carry its credit reference")
	}

	// The credit reference links the invoice to exactly one successful
	// audit entry.
	entries, _ := env.store.ListAuditEntriesByAccount(context.Background(), "user1")
	var matched int
	for _, e := range entries {
		if e.Ref == stored.CreditRef && e.Status == model.AuditSuccess {
			matched++
		}
	}
	if matched != 1 {
		t.Errorf("expected 1 audit entry for credit ref, got %d", matched)
	}
}

func TestReconcile_RerunProcessesNothing(t *testing.T) {
	env := newTestEnv(t)
	env.seedAccount(t, "user1", 0)

	inv, _ := env.service.CreateInvoice(context.Background(), "user1", d(25), "USD")
	env.provider.markPaid(inv.ID)

	if _, err := env.service.Reconcile(context.Background(), "user1"); err != nil {
		t.Fatalf("first reconcile: %v", err)
	}
	result, err := env.service.Reconcile(context.Background(), "user1")
	if err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
	if result.Total != 0 || len(result.Processed) != 0 {
		t.Errorf("re-run should process nothing, got %+v", result)
	}
	if !env.balance(t, "user1").Equal(d(25)) {
		t.Errorf("balance credited more than once: %s", env.balance(t, "user1"))
	}
}

func TestReconcile_NoUnpaidSkipsProvider(t *testing.T) {
	env := newTestEnv(t)
	env.seedAccount(t, "user1", 0)

	result, err := env.service.Reconcile(context.Background(), "user1")
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if result.Total != 0 {
		t.Errorf("expected empty result, got %+v", result)
	}
	if env.provider.calls() != 0 {
		t.Errorf("provider should not be queried with no unpaid invoices, got %d calls", env.provider.calls())
	}
}

func TestReconcile_UnknownAndActiveInvoicesSkipped(t *testing.T) {
	env := newTestEnv(t)
	env.seedAccount(t, "user1", 0)

	// Still active at the provider.
	active, _ := env.service.CreateInvoice(context.Background(), "user1", d(10), "USD")

	// The provider has no record of this one at all.
	unknown := &model.Invoice{
		ID:        "inv-unknown",
		AccountID: "user1",
		Amount:    d(5),
		Currency:  "USD",
		Status:    model.InvoiceUnpaid,
		CreatedAt: time.Now().UTC(),
	}
	if err := env.store.InsertInvoice(context.Background(), unknown); err != nil {
		t.Fatalf("insert invoice: %v", err)
	}

	result, err := env.service.Reconcile(context.Background(), "user1")
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if result.Total != 0 {
		t.Errorf("nothing should be processed, got %+v", result)
	}
	if !env.balance(t, "user1").Equal(d(0)) {
		t.Errorf("balance should be untouched, got %s", env.balance(t, "user1"))
	}

	for _, id := range []string{active.ID, unknown.ID} {
		inv, _ := env.store.GetInvoice(context.Background(), id)
		if inv.Status != model.InvoiceUnpaid {
			t.Errorf("invoice %s should stay unpaid, got %s", id, inv.Status)
		}
	}
}

func TestReconcile_MultipleInvoices(t *testing.T) {
	env := newTestEnv(t)
	env.seedAccount(t, "user1", 0)

	a, _ := env.service.CreateInvoice(context.Background(), "user1", d(25), "USD")
	b, _ := env.service.CreateInvoice(context.Background(), "user1", d(15), "USD")
	if _, err := env.service.CreateInvoice(context.Background(), "user1", d(99), "USD"); err != nil {
		t.Fatalf("create invoice: %v", err)
	}
	env.provider.markPaid(a.ID)
	env.provider.markPaid(b.ID)

	result, err := env.service.Reconcile(context.Background(), "user1")
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if result.Total != 2 {
		t.Errorf("expected 2 processed, got %+v", result)
	}
	if !env.balance(t, "user1").Equal(d(40)) {
		t.Errorf("expected balance 40, got %s", env.balance(t, "user1"))
	}
}

func TestReconcile_ConcurrentCreditsAtMostOnce(t *testing.T) {
	env := newTestEnv(t)
	env.seedAccount(t, "user1", 0)

	inv, _ := env.service.CreateInvoice(context.Background(), "user1", d(25), "USD")
	env.provider.markPaid(inv.ID)

	const workers = 8
	var wg sync.WaitGroup
	processed := make(chan int, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := env.service.Reconcile(context.Background(), "user1")
			if err != nil {
				t.Errorf("reconcile: %v", err)
				return
			}
			processed <- result.Total
		}()
	}
	wg.Wait()
	close(processed)

	var total int
	for n := range processed {
		total += n
	}
	if total != 1 {
		t.Errorf("invoice should be processed exactly once across all runs, got %d", total)
	}
	if !env.balance(t, "user1").Equal(d(25)) {
		t.Errorf("expected balance 25, got %s", env.balance(t, "user1"))
	}
}

// failingProvider errors on every call.
type failingProvider struct{}

func (failingProvider) CreateInvoice(context.Context, decimal.Decimal, string) (*provider.CreatedInvoice, error) {
	return nil, &provider.Error{Status: 503, Message: "unavailable"}
}

func (failingProvider) GetInvoices(context.Context, []string) ([]provider.InvoiceStatus, error) {
	return nil, &provider.Error{Status: 503, Message: "unavailable"}
}

func TestReconcile_ProviderErrorLeavesInvoicesUnpaid(t *testing.T) {
	ms := store.NewMemoryStore()
	lg := ledger.New(ms, audit.NewLog(ms))
	svc := reconcile.NewService(ms, lg, failingProvider{}, nil)

	acct := &model.Account{
		ID:        "user1",
		Balances:  map[string]model.Balance{"USD": {Amount: d(0)}},
		CreatedAt: time.Now().UTC(),
	}
	if err := ms.CreateAccount(context.Background(), acct); err != nil {
		t.Fatalf("seed account: %v", err)
	}
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

	_, err := svc.Reconcile(context.Background(), "user1")
	var provErr *provider.Error
	if !errors.As(err, &provErr) {
		t.Fatalf("expected provider.Error, got %v", err)
	}

	stored, _ := ms.GetInvoice(context.Background(), "inv-1")
	if stored.Status != model.InvoiceUnpaid {
		t.Errorf("invoice must stay unpaid on provider failure, got %s", stored.Status)
	}
}
