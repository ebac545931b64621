// Package ledger owns the account-balance invariant: a balance is never
// negative after any committed mutation, and every mutation goes through one
// optimistic compare-and-swap write.
//
// Handlers are stateless and may run concurrently on different machines, so
// the store's conditional write is the only isolation mechanism. The token is
// an explicit per-row version counter bumped on every committed write, never
// the balance value itself.
package ledger

import (
	"context"
	"errors"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/betpay/ledger-engine/internal/audit"
	"github.com/betpay/ledger-engine/internal/metrics"
	"github.com/betpay/ledger-engine/internal/model"
	"github.com/betpay/ledger-engine/internal/store"
)

// creditRetryLimit bounds the re-read/retry loop for credits. A credit can
// only lose the race, never fail on funds, so a handful of attempts is
// enough under any realistic contention.
const creditRetryLimit = 5

// Ledger applies balance mutations through the store's compare-and-swap
// primitive and records every attempt in the audit log.
type Ledger struct {
	store store.Store
	audit *audit.Log
}

// New creates a Ledger backed by the given store and audit log.
func New(st store.Store, auditLog *audit.Log) *Ledger {
	return &Ledger{store: st, audit: auditLog}
}

// AdjustBalance applies delta to one balance of the account snapshot the
// caller read. The snapshot's version is the concurrency token: if any other
// mutation committed since the caller's read, the write fails with
// ErrConflict and no state changes except the audit entry.
//
// Negative deltas that would take the balance below zero fail fast with
// ErrInsufficientFunds, without attempting the write. On every outcome an
// audit entry is appended before returning; audit failures never mask the
// ledger outcome.
func (l *Ledger) AdjustBalance(ctx context.Context, acct *model.Account, currency string, delta decimal.Decimal, op, ref string) (decimal.Decimal, error) {
	bal, ok := acct.Balances[currency]
	if !ok {
		return decimal.Zero, &ValidationError{Field: "currency", Reason: "no such balance on account " + acct.ID}
	}

	entry := model.AuditEntry{
		Op:         op,
		AccountID:  acct.ID,
		Currency:   currency,
		Amount:     delta,
		OldBalance: bal.Amount,
		Ref:        ref,
	}

	next := bal.Amount.Add(delta)
	if next.IsNegative() {
		entry.NewBalance = bal.Amount
		entry.Status = model.AuditInsufficient
		l.audit.Append(ctx, &entry)
		metrics.BalanceMutations.WithLabelValues(op, model.AuditInsufficient).Inc()
		return decimal.Zero, ErrInsufficientFunds
	}

	err := l.store.CompareAndSwapBalance(ctx, acct.ID, currency, next, bal.Version)
	switch {
	case err == nil:
		entry.NewBalance = next
		entry.Status = model.AuditSuccess
		l.audit.Append(ctx, &entry)
		metrics.BalanceMutations.WithLabelValues(op, model.AuditSuccess).Inc()
		return next, nil

	case errors.Is(err, store.ErrVersionMismatch):
		entry.NewBalance = bal.Amount
		entry.Status = model.AuditConflict
		l.audit.Append(ctx, &entry)
		metrics.BalanceMutations.WithLabelValues(op, model.AuditConflict).Inc()
		metrics.CASConflicts.Inc()
		return decimal.Zero, ErrConflict

	case errors.Is(err, store.ErrNotFound):
		entry.NewBalance = bal.Amount
		entry.Status = model.AuditFailure
		l.audit.Append(ctx, &entry)
		metrics.BalanceMutations.WithLabelValues(op, model.AuditFailure).Inc()
		return decimal.Zero, ErrAccountNotFound

	default:
		entry.NewBalance = bal.Amount
		entry.Status = model.AuditFailure
		l.audit.Append(ctx, &entry)
		metrics.BalanceMutations.WithLabelValues(op, model.AuditFailure).Inc()
		slog.Error("balance write failed",
			"op", op,
			"account", acct.ID,
			"currency", currency,
			"delta", delta.String(),
			"err", err,
		)
		return decimal.Zero, &PersistenceError{Op: "adjust balance", Cause: err}
	}
}

// Credit applies a positive delta with a bounded re-read/retry loop. Credits
// cannot fail on insufficient funds, so losing the compare-and-swap race is
// the only transient outcome; exhausting the retry budget against a store
// that keeps conflicting is reported as a persistence failure, not retried
// forever.
func (l *Ledger) Credit(ctx context.Context, accountID, currency string, amount decimal.Decimal, op, ref string) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, &ValidationError{Field: "amount", Reason: "credit must be positive"}
	}

	var lastErr error
	for attempt := 0; attempt < creditRetryLimit; attempt++ {
		acct, err := l.store.GetAccount(ctx, accountID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return decimal.Zero, ErrAccountNotFound
			}
			return decimal.Zero, &PersistenceError{Op: "read account for credit", Cause: err}
		}

		newBalance, err := l.AdjustBalance(ctx, acct, currency, amount, op, ref)
		if errors.Is(err, ErrConflict) {
			lastErr = err
			continue
		}
		return newBalance, err
	}

	slog.Error("credit retries exhausted",
		"account", accountID,
		"currency", currency,
		"amount", amount.String(),
		"op", op,
		"ref", ref,
	)
	return decimal.Zero, &PersistenceError{Op: "credit", Cause: lastErr}
}
