// Package model defines the core domain types shared across the ledger engine.
// All monetary values use shopspring/decimal, never float64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Balance is one named (per-currency) balance on an account. Version is the
// optimistic-concurrency token for the row: it is incremented on every
// committed write and a conditional update matches on it. Two historical
// states can never share a version, unlike the raw amount.
type Balance struct {
	Amount  decimal.Decimal `json:"amount" db:"amount"`
	Version int64           `json:"version" db:"version"`
}

// Account is the holder of one or more currency balances, addressed by an
// external subject id. Balances are mutated only through the ledger's
// compare-and-swap path.
type Account struct {
	ID        string             `json:"id" db:"id"`
	Balances  map[string]Balance `json:"balances"`
	CreatedAt time.Time          `json:"created_at" db:"created_at"`
}

// Invoice statuses. The transition unpaid→paid happens exactly once, via a
// conditional update; paid→unpaid never happens.
const (
	InvoiceUnpaid = "unpaid"
	InvoicePaid   = "paid"
)

// Invoice records a requested external payment. ID is the provider-issued
// invoice id and is unique across the system. CreditRef links a paid invoice
// to the audit entry of the balance credit it triggered.
type Invoice struct {
	ID        string          `json:"id" db:"id"`
	AccountID string          `json:"account_id" db:"account_id"`
	Amount    decimal.Decimal `json:"amount" db:"amount"`
	Currency  string          `json:"currency" db:"currency"`
	Status    string          `json:"status" db:"status"`
	PayURL    string          `json:"pay_url,omitempty" db:"pay_url"`
	CreditRef string          `json:"credit_ref,omitempty" db:"credit_ref"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// Position directions and statuses.
const (
	DirectionUp   = "up"
	DirectionDown = "down"

	PositionActive  = "active"
	PositionSettled = "settled"
	PositionExpired = "expired"
)

// Position is a staked, time-bounded directional bet against an account's
// balance. It is created together with a stake debit: a position row never
// survives a failed debit.
type Position struct {
	ID           string          `json:"id" db:"id"`
	AccountID    string          `json:"account_id" db:"account_id"`
	Token        string          `json:"token" db:"token"`
	Direction    string          `json:"direction" db:"direction"`
	Stake        decimal.Decimal `json:"stake" db:"stake"`
	Currency     string          `json:"currency" db:"currency"`
	EntryPrice   decimal.Decimal `json:"entry_price" db:"entry_price"`
	CurrentPrice decimal.Decimal `json:"current_price" db:"current_price"`
	Status       string          `json:"status" db:"status"`
	ExpiresAt    time.Time       `json:"expires_at" db:"expires_at"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

// Audit operation kinds.
const (
	OpPositionStake  = "position_stake"
	OpPositionPayout = "position_payout"
	OpInvoiceCredit  = "invoice_credit"
	OpInitialCredit  = "initial_credit"
)

// Audit entry statuses. One entry exists per mutation attempt, whatever the
// outcome.
const (
	AuditSuccess      = "success"
	AuditConflict     = "conflict"
	AuditInsufficient = "insufficient"
	AuditFailure      = "failure"
)

// AuditEntry is an immutable record of one attempted balance mutation.
// Once written these are never modified or deleted.
type AuditEntry struct {
	ID         string          `json:"id" db:"id"`
	Op         string          `json:"op" db:"op"`
	AccountID  string          `json:"account_id" db:"account_id"`
	Currency   string          `json:"currency" db:"currency"`
	Amount     decimal.Decimal `json:"amount" db:"amount"`
	OldBalance decimal.Decimal `json:"old_balance" db:"old_balance"`
	NewBalance decimal.Decimal `json:"new_balance" db:"new_balance"`
	Status     string          `json:"status" db:"status"`
	Ref        string          `json:"ref,omitempty" db:"ref"`
	Timestamp  time.Time       `json:"timestamp" db:"timestamp"`
}
