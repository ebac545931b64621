// Package reconcile settles external payments against account balances. It
// polls the payment provider for the status of locally-unpaid invoices and
// credits each newly-paid one exactly once.
//
// Invoice status is the single source of truth for "has this been credited":
// the conditional unpaid→paid flip happens first and records the credit
// reference, and only the flip winner credits the balance. Concurrent
// reconciliations racing on one invoice therefore produce at most one
// credit, and a re-run with no new provider state processes nothing.
package reconcile

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
	"github.com/betpay/ledger-engine/internal/provider"
	"github.com/betpay/ledger-engine/internal/store"
)

// Result reports the invoices settled by one reconciliation pass.
// Already-settled invoices are never reported again.
type Result struct {
	Processed []string `json:"processed"`
	Total     int      `json:"total"`
}

// Service reconciles invoices for one account at a time.
type Service struct {
	store    store.Store
	ledger   *ledger.Ledger
	provider provider.Client
	hub      *notify.Hub // optional
}

// NewService creates a reconciler. Pass nil for hub if event fan-out is not
// needed.
func NewService(st store.Store, lg *ledger.Ledger, pc provider.Client, hub *notify.Hub) *Service {
	return &Service{
		store:    st,
		ledger:   lg,
		provider: pc,
		hub:      hub,
	}
}

// CreateInvoice issues a payment request with the provider and persists it
// locally as unpaid.
func (s *Service) CreateInvoice(ctx context.Context, accountID string, amount decimal.Decimal, currency string) (*model.Invoice, error) {
	switch {
	case accountID == "":
		return nil, &ledger.ValidationError{Field: "account_id", Reason: "required"}
	case !amount.IsPositive():
		return nil, &ledger.ValidationError{Field: "amount", Reason: "must be positive"}
	case currency == "":
		return nil, &ledger.ValidationError{Field: "currency", Reason: "required"}
	}

	acct, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ledger.ErrAccountNotFound
		}
		return nil, &ledger.PersistenceError{Op: "read account", Cause: err}
	}
	if _, ok := acct.Balances[currency]; !ok {
		return nil, &ledger.ValidationError{Field: "currency", Reason: "no such balance on account " + acct.ID}
	}

	created, err := s.provider.CreateInvoice(ctx, amount, currency)
	if err != nil {
		return nil, err
	}

	inv := &model.Invoice{
		ID:        created.InvoiceID,
		AccountID: accountID,
		Amount:    amount,
		Currency:  currency,
		Status:    model.InvoiceUnpaid,
		PayURL:    created.PayURL,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.InsertInvoice(ctx, inv); err != nil {
		// The provider issued an invoice we failed to record; it will
		// surface again as an unknown id on the next reconciliation.
		slog.Error("invoice persist failed after provider create",
			"invoice", inv.ID,
			"account", accountID,
			"err", err,
		)
		return nil, &ledger.PersistenceError{Op: "insert invoice", Cause: err}
	}

	slog.Info("invoice created",
		"invoice", inv.ID,
		"account", accountID,
		"amount", amount.String(),
		"currency", currency,
	)
	return inv, nil
}

// Reconcile queries the provider for the account's unpaid invoices and
// credits every one the provider now reports paid. Invoices the provider
// does not know yet are skipped, not errors. With no unpaid invoices the
// provider is not contacted at all.
func (s *Service) Reconcile(ctx context.Context, accountID string) (*Result, error) {
	result := &Result{Processed: []string{}}

	unpaid, err := s.store.ListUnpaidInvoices(ctx, accountID)
	if err != nil {
		return nil, &ledger.PersistenceError{Op: "list unpaid invoices", Cause: err}
	}
	if len(unpaid) == 0 {
		return result, nil
	}

	ids := make([]string, len(unpaid))
	for i, inv := range unpaid {
		ids[i] = inv.ID
	}

	statuses, err := s.provider.GetInvoices(ctx, ids)
	if err != nil {
		return nil, err
	}
	paid := make(map[string]bool, len(statuses))
	for _, st := range statuses {
		if st.Status == provider.StatusPaid {
			paid[st.InvoiceID] = true
		}
	}

	for _, inv := range unpaid {
		if !paid[inv.ID] {
			continue
		}
		if s.settle(ctx, &inv) {
			result.Processed = append(result.Processed, inv.ID)
		}
	}
	result.Total = len(result.Processed)
	return result, nil
}

// settle flips one invoice to paid and credits the account. Returns true
// only when this caller won the flip and the credit landed.
func (s *Service) settle(ctx context.Context, inv *model.Invoice) bool {
	creditRef := uuid.New().String()

	won, err := s.store.MarkInvoicePaid(ctx, inv.ID, creditRef)
	if err != nil {
		slog.Error("invoice status flip failed",
			"invoice", inv.ID,
			"account", inv.AccountID,
			"err", err,
		)
		return false
	}
	if !won {
		// Another reconciliation settled this invoice first.
		return false
	}

	if _, err := s.ledger.Credit(ctx, inv.AccountID, inv.Currency, inv.Amount, model.OpInvoiceCredit, creditRef); err != nil {
		// The invoice is marked paid but the credit did not land. The
		// credit reference on the invoice has no matching success entry
		// in the audit log, which is the signal for manual recovery.
		slog.Error("invoice credit failed after status flip",
			"invoice", inv.ID,
			"account", inv.AccountID,
			"amount", inv.Amount.String(),
			"credit_ref", creditRef,
			"err", err,
		)
		return false
	}

	metrics.InvoiceCredits.Inc()
	slog.Info("invoice settled",
		"invoice", inv.ID,
		"account", inv.AccountID,
		"amount", inv.Amount.String(),
		"credit_ref", creditRef,
	)

	if s.hub != nil {
		s.hub.Publish(notify.Event{
			Type:      notify.EventInvoiceCredited,
			AccountID: inv.AccountID,
			Amount:    inv.Amount.String(),
			Currency:  inv.Currency,
			Ref:       inv.ID,
		})
	}
	return true
}
