// Package store defines the persistence interface for the ledger engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
//
// The store deliberately exposes no multi-row transactions. All cross-request
// coordination happens through single-row conditional writes: the balance
// compare-and-swap and the status transitions of invoices and positions.
package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/betpay/ledger-engine/internal/model"
)

var (
	// ErrNotFound is returned when a point read matches no row.
	ErrNotFound = errors.New("store: not found")

	// ErrVersionMismatch is returned when a conditional balance write
	// matches zero rows: another mutation committed between the caller's
	// read and this write.
	ErrVersionMismatch = errors.New("store: balance version mismatch")

	// ErrAlreadyExists is returned on duplicate inserts.
	ErrAlreadyExists = errors.New("store: already exists")
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Account operations ---

	// CreateAccount persists a new account with its initial balances.
	CreateAccount(ctx context.Context, acct *model.Account) error

	// GetAccount retrieves an account and all its balances.
	GetAccount(ctx context.Context, id string) (*model.Account, error)

	// CompareAndSwapBalance sets one balance to amount and bumps its
	// version, but only if the row's current version equals
	// expectedVersion. Returns ErrVersionMismatch when the condition
	// fails and ErrNotFound when the balance row does not exist.
	CompareAndSwapBalance(ctx context.Context, accountID, currency string, amount decimal.Decimal, expectedVersion int64) error

	// --- Position operations ---

	// InsertPosition persists a new position.
	InsertPosition(ctx context.Context, p *model.Position) error

	// GetPosition retrieves a position by id.
	GetPosition(ctx context.Context, id string) (*model.Position, error)

	// DeletePosition removes a position row. Used only as the
	// compensating action when the stake debit fails.
	DeletePosition(ctx context.Context, id string) error

	// ListPositionsByAccount returns all positions for an account.
	ListPositionsByAccount(ctx context.Context, accountID string) ([]model.Position, error)

	// ClosePosition transitions a position from active to the given
	// terminal status and records the exit price. The write is
	// conditional on status = active; the bool reports whether this
	// caller won the flip.
	ClosePosition(ctx context.Context, id, status string, exitPrice decimal.Decimal) (bool, error)

	// --- Invoice operations ---

	// InsertInvoice persists a new unpaid invoice.
	InsertInvoice(ctx context.Context, inv *model.Invoice) error

	// GetInvoice retrieves an invoice by id.
	GetInvoice(ctx context.Context, id string) (*model.Invoice, error)

	// ListUnpaidInvoices returns all unpaid invoices for an account.
	ListUnpaidInvoices(ctx context.Context, accountID string) ([]model.Invoice, error)

	// MarkInvoicePaid flips an invoice to paid and records the credit
	// reference. The write is conditional on status = unpaid; the bool
	// reports whether this caller won the flip. This is the at-most-once
	// gate for invoice settlement.
	MarkInvoicePaid(ctx context.Context, id, creditRef string) (bool, error)

	// --- Audit log ---

	// InsertAuditEntry appends an immutable mutation record.
	InsertAuditEntry(ctx context.Context, e *model.AuditEntry) error

	// ListAuditEntriesByAccount returns all audit entries for an account.
	ListAuditEntriesByAccount(ctx context.Context, accountID string) ([]model.AuditEntry, error)
}
