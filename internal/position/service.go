// Package position manages speculative, time-bounded positions opened
// against an account balance. Opening a position pairs "create the position
// row" with "debit the stake" and compensates when the debit fails, so a
// position never survives without its debit.
package position

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/betpay/ledger-engine/internal/ledger"
	"github.com/betpay/ledger-engine/internal/metrics"
	"github.com/betpay/ledger-engine/internal/model"
	"github.com/betpay/ledger-engine/internal/notify"
	"github.com/betpay/ledger-engine/internal/store"
)

// ErrAlreadyClosed is returned when settling a position that is no longer
// active. The active→settled/expired flip has a single winner.
var ErrAlreadyClosed = errors.New("position already closed")

// Settlement outcomes supplied by the external settlement trigger.
const (
	OutcomeWin  = "win"
	OutcomeLose = "lose"
)

// payoutMultiplier: a winning position pays out twice its stake.
var payoutMultiplier = decimal.NewFromInt(2)

// Service owns position lifecycle. It never retries a lost debit race:
// retry policy belongs to the caller.
type Service struct {
	store  store.Store
	ledger *ledger.Ledger
	hub    *notify.Hub // optional
	now    func() time.Time
}

// NewService creates a position service. Pass nil for hub if event fan-out
// is not needed.
func NewService(st store.Store, lg *ledger.Ledger, hub *notify.Hub) *Service {
	return &Service{
		store:  st,
		ledger: lg,
		hub:    hub,
		now:    time.Now,
	}
}

// OpenParams are the validated-on-entry inputs for opening a position.
type OpenParams struct {
	AccountID  string
	Token      string
	Direction  string
	Stake      decimal.Decimal
	Currency   string
	EntryPrice decimal.Decimal
	ExpiresIn  time.Duration
}

func (p OpenParams) validate() error {
	switch {
	case p.AccountID == "":
		return &ledger.ValidationError{Field: "account_id", Reason: "required"}
	case p.Token == "":
		return &ledger.ValidationError{Field: "token", Reason: "required"}
	case p.Direction != model.DirectionUp && p.Direction != model.DirectionDown:
		return &ledger.ValidationError{Field: "direction", Reason: "must be up or down"}
	case !p.Stake.IsPositive():
		return &ledger.ValidationError{Field: "stake", Reason: "must be positive"}
	case p.Currency == "":
		return &ledger.ValidationError{Field: "currency", Reason: "required"}
	case !p.EntryPrice.IsPositive():
		return &ledger.ValidationError{Field: "entry_price", Reason: "must be positive"}
	case p.ExpiresIn <= 0:
		return &ledger.ValidationError{Field: "expires_in", Reason: "must be positive"}
	}
	return nil
}

// Open creates a position and debits its stake. The position row is inserted
// first, then the debit runs against the balance snapshot read here; any
// debit failure triggers a compensating delete of the row. A failed
// compensation leaves an orphan active position, which is flagged and
// surfaced as a persistence error carrying both causes rather than
// silently ignored.
func (s *Service) Open(ctx context.Context, p OpenParams) (*model.Position, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	acct, err := s.store.GetAccount(ctx, p.AccountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ledger.ErrAccountNotFound
		}
		return nil, &ledger.PersistenceError{Op: "read account", Cause: err}
	}
	observed, ok := acct.Balances[p.Currency]
	if !ok {
		return nil, &ledger.ValidationError{Field: "currency", Reason: "no such balance on account " + acct.ID}
	}

	now := s.now().UTC()
	pos := &model.Position{
		ID:           uuid.New().String(),
		AccountID:    p.AccountID,
		Token:        p.Token,
		Direction:    p.Direction,
		Stake:        p.Stake,
		Currency:     p.Currency,
		EntryPrice:   p.EntryPrice,
		CurrentPrice: p.EntryPrice,
		Status:       model.PositionActive,
		ExpiresAt:    now.Add(p.ExpiresIn),
		CreatedAt:    now,
	}

	if err := s.store.InsertPosition(ctx, pos); err != nil {
		return nil, &ledger.PersistenceError{Op: "insert position", Cause: err}
	}

	_, debitErr := s.ledger.AdjustBalance(ctx, acct, p.Currency, p.Stake.Neg(), model.OpPositionStake, pos.ID)
	if debitErr != nil {
		if delErr := s.store.DeletePosition(ctx, pos.ID); delErr != nil {
			metrics.OrphanedPositions.Inc()
			slog.Error("orphan position: stake debit failed and compensation failed",
				"position", pos.ID,
				"account", p.AccountID,
				"stake", p.Stake.String(),
				"debit_err", debitErr,
				"delete_err", delErr,
			)
			return nil, &ledger.PersistenceError{Op: "open position", Cause: debitErr, Compensation: delErr}
		}
		return nil, s.disambiguateDebit(ctx, debitErr, p.AccountID, p.Currency, observed.Version)
	}

	slog.Info("position opened",
		"position", pos.ID,
		"account", p.AccountID,
		"token", p.Token,
		"direction", p.Direction,
		"stake", p.Stake.String(),
	)

	if s.hub != nil {
		s.hub.Publish(notify.Event{
			Type:      notify.EventPositionOpened,
			AccountID: p.AccountID,
			Amount:    p.Stake.String(),
			Currency:  p.Currency,
			Ref:       pos.ID,
		})
	}
	return pos, nil
}

// disambiguateDebit re-reads the account after a debit conflict. A moved
// version means a real lost race, retryable by the caller. An unchanged
// version means the store rejected a write it should have accepted: a
// persistence anomaly, and reporting it as a conflict would invite an
// infinite retry loop against a store making no progress.
func (s *Service) disambiguateDebit(ctx context.Context, debitErr error, accountID, currency string, observedVersion int64) error {
	if !errors.Is(debitErr, ledger.ErrConflict) {
		return debitErr
	}

	acct, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return &ledger.PersistenceError{Op: "re-read after conflict", Cause: err}
	}
	current, ok := acct.Balances[currency]
	if !ok || current.Version == observedVersion {
		return &ledger.PersistenceError{Op: "debit conflict with unchanged balance", Cause: debitErr}
	}
	return ledger.ErrConflict
}

// Settle closes an active position on behalf of the external settlement
// collaborator. The active→terminal flip is a conditional write with a
// single winner; a winning, unexpired position pays out through the ledger's
// bounded-retry credit path.
func (s *Service) Settle(ctx context.Context, id, outcome string, exitPrice decimal.Decimal) (*model.Position, error) {
	if outcome != OutcomeWin && outcome != OutcomeLose {
		return nil, &ledger.ValidationError{Field: "outcome", Reason: "must be win or lose"}
	}
	if !exitPrice.IsPositive() {
		return nil, &ledger.ValidationError{Field: "exit_price", Reason: "must be positive"}
	}

	pos, err := s.store.GetPosition(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, &ledger.PersistenceError{Op: "read position", Cause: err}
	}

	status := model.PositionSettled
	if s.now().UTC().After(pos.ExpiresAt) {
		status = model.PositionExpired
	}

	won, err := s.store.ClosePosition(ctx, id, status, exitPrice)
	if err != nil {
		return nil, &ledger.PersistenceError{Op: "close position", Cause: err}
	}
	if !won {
		return nil, ErrAlreadyClosed
	}

	pos.Status = status
	pos.CurrentPrice = exitPrice

	if outcome == OutcomeWin && status == model.PositionSettled {
		payout := pos.Stake.Mul(payoutMultiplier)
		if _, err := s.ledger.Credit(ctx, pos.AccountID, pos.Currency, payout, model.OpPositionPayout, pos.ID); err != nil {
			// The position is closed but its payout did not land; the
			// audit log has the failed attempts for manual reconciliation.
			slog.Error("payout credit failed after settlement",
				"position", pos.ID,
				"account", pos.AccountID,
				"payout", payout.String(),
				"err", err,
			)
			return nil, err
		}
	}

	slog.Info("position closed",
		"position", pos.ID,
		"account", pos.AccountID,
		"status", status,
		"outcome", outcome,
	)

	if s.hub != nil {
		s.hub.Publish(notify.Event{
			Type:      notify.EventPositionSettled,
			AccountID: pos.AccountID,
			Amount:    pos.Stake.String(),
			Currency:  pos.Currency,
			Ref:       pos.ID,
		})
	}
	return pos, nil
}

// ListByAccount returns all positions for an account.
func (s *Service) ListByAccount(ctx context.Context, accountID string) ([]model.Position, error) {
	return s.store.ListPositionsByAccount(ctx, accountID)
}
