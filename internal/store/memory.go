package store

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/betpay/ledger-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
//
// The conditional writes hold the mutex across check-and-set, so the
// store gives the same single-writer guarantees as the SQL backend.
type MemoryStore struct {
	mu        sync.RWMutex
	accounts  map[string]*model.Account
	positions map[string]*model.Position
	invoices  map[string]*model.Invoice
	audit     []model.AuditEntry
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:  make(map[string]*model.Account),
		positions: make(map[string]*model.Position),
		invoices:  make(map[string]*model.Invoice),
	}
}

func copyAccount(a *model.Account) *model.Account {
	cp := *a
	cp.Balances = make(map[string]model.Balance, len(a.Balances))
	for cur, b := range a.Balances {
		cp.Balances[cur] = b
	}
	return &cp
}

func (s *MemoryStore) CreateAccount(_ context.Context, acct *model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[acct.ID]; ok {
		return ErrAlreadyExists
	}
	s.accounts[acct.ID] = copyAccount(acct)
	return nil
}

func (s *MemoryStore) GetAccount(_ context.Context, id string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyAccount(a), nil
}

func (s *MemoryStore) CompareAndSwapBalance(_ context.Context, accountID, currency string, amount decimal.Decimal, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[accountID]
	if !ok {
		return ErrNotFound
	}
	b, ok := a.Balances[currency]
	if !ok {
		return ErrNotFound
	}
	if b.Version != expectedVersion {
		return ErrVersionMismatch
	}
	a.Balances[currency] = model.Balance{Amount: amount, Version: b.Version + 1}
	return nil
}

func (s *MemoryStore) InsertPosition(_ context.Context, p *model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.positions[p.ID]; ok {
		return ErrAlreadyExists
	}
	cp := *p
	s.positions[p.ID] = &cp
	return nil
}

func (s *MemoryStore) GetPosition(_ context.Context, id string) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.positions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) DeletePosition(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.positions[id]; !ok {
		return ErrNotFound
	}
	delete(s.positions, id)
	return nil
}

func (s *MemoryStore) ListPositionsByAccount(_ context.Context, accountID string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Position
	for _, p := range s.positions {
		if p.AccountID == accountID {
			result = append(result, *p)
		}
	}
	return result, nil
}

func (s *MemoryStore) ClosePosition(_ context.Context, id, status string, exitPrice decimal.Decimal) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.positions[id]
	if !ok {
		return false, ErrNotFound
	}
	if p.Status != model.PositionActive {
		return false, nil
	}
	p.Status = status
	p.CurrentPrice = exitPrice
	return true, nil
}

func (s *MemoryStore) InsertInvoice(_ context.Context, inv *model.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.invoices[inv.ID]; ok {
		return ErrAlreadyExists
	}
	cp := *inv
	s.invoices[inv.ID] = &cp
	return nil
}

func (s *MemoryStore) GetInvoice(_ context.Context, id string) (*model.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inv, ok := s.invoices[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *inv
	return &cp, nil
}

func (s *MemoryStore) ListUnpaidInvoices(_ context.Context, accountID string) ([]model.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Invoice
	for _, inv := range s.invoices {
		if inv.AccountID == accountID && inv.Status == model.InvoiceUnpaid {
			result = append(result, *inv)
		}
	}
	return result, nil
}

func (s *MemoryStore) MarkInvoicePaid(_ context.Context, id, creditRef string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invoices[id]
	if !ok {
		return false, ErrNotFound
	}
	if inv.Status != model.InvoiceUnpaid {
		return false, nil
	}
	inv.Status = model.InvoicePaid
	inv.CreditRef = creditRef
	return true, nil
}

func (s *MemoryStore) InsertAuditEntry(_ context.Context, e *model.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.audit = append(s.audit, *e)
	return nil
}

func (s *MemoryStore) ListAuditEntriesByAccount(_ context.Context, accountID string) ([]model.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.AuditEntry
	for _, e := range s.audit {
		if e.AccountID == accountID {
			result = append(result, e)
		}
	}
	return result, nil
}
