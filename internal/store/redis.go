package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/betpay/ledger-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
//
// The account key is dropped on every compare-and-swap attempt, win or lose,
// so a caller that re-reads after a conflict always sees the primary's state.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Accounts ---

func (s *CachedStore) CreateAccount(ctx context.Context, acct *model.Account) error {
	if err := s.primary.CreateAccount(ctx, acct); err != nil {
		return err
	}
	s.cacheAccount(ctx, acct)
	return nil
}

func (s *CachedStore) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	data, err := s.rdb.Get(ctx, accountKey(id)).Bytes()
	if err == nil {
		var acct model.Account
		if json.Unmarshal(data, &acct) == nil {
			return &acct, nil
		}
	}

	acct, err := s.primary.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cacheAccount(ctx, acct)
	return acct, nil
}

func (s *CachedStore) CompareAndSwapBalance(ctx context.Context, accountID, currency string, amount decimal.Decimal, expectedVersion int64) error {
	// Invalidate before and after: even a failed swap means the cached
	// snapshot may be stale relative to whoever won the race.
	s.rdb.Del(ctx, accountKey(accountID))
	err := s.primary.CompareAndSwapBalance(ctx, accountID, currency, amount, expectedVersion)
	s.rdb.Del(ctx, accountKey(accountID))
	return err
}

// --- Positions ---

func (s *CachedStore) InsertPosition(ctx context.Context, p *model.Position) error {
	if err := s.primary.InsertPosition(ctx, p); err != nil {
		return err
	}
	s.rdb.Del(ctx, positionsKey(p.AccountID))
	return nil
}

func (s *CachedStore) GetPosition(ctx context.Context, id string) (*model.Position, error) {
	return s.primary.GetPosition(ctx, id)
}

func (s *CachedStore) DeletePosition(ctx context.Context, id string) error {
	p, err := s.primary.GetPosition(ctx, id)
	if err == nil {
		s.rdb.Del(ctx, positionsKey(p.AccountID))
	}
	return s.primary.DeletePosition(ctx, id)
}

func (s *CachedStore) ListPositionsByAccount(ctx context.Context, accountID string) ([]model.Position, error) {
	data, err := s.rdb.Get(ctx, positionsKey(accountID)).Bytes()
	if err == nil {
		var positions []model.Position
		if json.Unmarshal(data, &positions) == nil {
			return positions, nil
		}
	}

	positions, err := s.primary.ListPositionsByAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(positions); err == nil {
		s.rdb.Set(ctx, positionsKey(accountID), data, s.ttl)
	}
	return positions, nil
}

func (s *CachedStore) ClosePosition(ctx context.Context, id, status string, exitPrice decimal.Decimal) (bool, error) {
	won, err := s.primary.ClosePosition(ctx, id, status, exitPrice)
	if err == nil {
		if p, gerr := s.primary.GetPosition(ctx, id); gerr == nil {
			s.rdb.Del(ctx, positionsKey(p.AccountID))
		}
	}
	return won, err
}

// --- Passthrough (not cached) ---

func (s *CachedStore) InsertInvoice(ctx context.Context, inv *model.Invoice) error {
	return s.primary.InsertInvoice(ctx, inv)
}

func (s *CachedStore) GetInvoice(ctx context.Context, id string) (*model.Invoice, error) {
	return s.primary.GetInvoice(ctx, id)
}

func (s *CachedStore) ListUnpaidInvoices(ctx context.Context, accountID string) ([]model.Invoice, error) {
	return s.primary.ListUnpaidInvoices(ctx, accountID)
}

func (s *CachedStore) MarkInvoicePaid(ctx context.Context, id, creditRef string) (bool, error) {
	return s.primary.MarkInvoicePaid(ctx, id, creditRef)
}

func (s *CachedStore) InsertAuditEntry(ctx context.Context, e *model.AuditEntry) error {
	return s.primary.InsertAuditEntry(ctx, e)
}

func (s *CachedStore) ListAuditEntriesByAccount(ctx context.Context, accountID string) ([]model.AuditEntry, error) {
	return s.primary.ListAuditEntriesByAccount(ctx, accountID)
}

// --- Cache helpers ---

func (s *CachedStore) cacheAccount(ctx context.Context, acct *model.Account) {
	if data, err := json.Marshal(acct); err == nil {
		s.rdb.Set(ctx, accountKey(acct.ID), data, s.ttl)
	}
}

func accountKey(id string) string   { return fmt.Sprintf("account:%s", id) }
func positionsKey(id string) string { return fmt.Sprintf("positions:%s", id) }
