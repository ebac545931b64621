// Package audit provides the append-only transaction audit log. Every
// attempted balance mutation gets exactly one entry, whatever its outcome.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/betpay/ledger-engine/internal/metrics"
	"github.com/betpay/ledger-engine/internal/model"
	"github.com/betpay/ledger-engine/internal/store"
)

// Log appends audit entries to the durable store. Appends are best-effort:
// a failed insert is logged and counted but never surfaced to the caller,
// so the ledger outcome always reaches the mutation's initiator.
type Log struct {
	store store.Store
}

// NewLog creates an audit log writing through the given store.
func NewLog(st store.Store) *Log {
	return &Log{store: st}
}

// Append records one mutation attempt. Fills in ID and Timestamp when unset.
func (l *Log) Append(ctx context.Context, e *model.AuditEntry) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	if err := l.store.InsertAuditEntry(ctx, e); err != nil {
		metrics.AuditAppendFailures.Inc()
		slog.Error("audit append failed",
			"op", e.Op,
			"account", e.AccountID,
			"amount", e.Amount.String(),
			"status", e.Status,
			"err", err,
		)
	}
}

// EntriesByAccount returns all recorded entries for an account, oldest first.
func (l *Log) EntriesByAccount(ctx context.Context, accountID string) ([]model.AuditEntry, error) {
	return l.store.ListAuditEntriesByAccount(ctx, accountID)
}
