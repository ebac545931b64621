// Package account provides the HTTP surface for creating and inspecting
// accounts and their audit trail. Accounts are never mutated here beyond
// creation: all balance changes flow through the ledger.
package account

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/betpay/ledger-engine/internal/audit"
	"github.com/betpay/ledger-engine/internal/httpx"
	"github.com/betpay/ledger-engine/internal/ledger"
	"github.com/betpay/ledger-engine/internal/model"
	"github.com/betpay/ledger-engine/internal/store"
)

// Service handles account bootstrap and read endpoints.
type Service struct {
	store  store.Store
	ledger *ledger.Ledger
	audit  *audit.Log
}

// NewService creates an account service.
func NewService(st store.Store, lg *ledger.Ledger, auditLog *audit.Log) *Service {
	return &Service{store: st, ledger: lg, audit: auditLog}
}

// CreateRequest is the JSON body for POST /api/v1/accounts. Currencies
// defaults to ["USD"]. A positive initial deposit is credited through the
// ledger after creation, so it shows up in the audit trail like any other
// mutation.
type CreateRequest struct {
	ID             string          `json:"id"`
	Currencies     []string        `json:"currencies,omitempty"`
	InitialDeposit decimal.Decimal `json:"initial_deposit,omitempty"`
}

// HandleCreate handles POST /api/v1/accounts.
func (s *Service) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteJSON(w, http.StatusBadRequest, httpx.ErrorResponse{Error: "invalid request body", Code: "validation"})
		return
	}
	if req.ID == "" {
		httpx.WriteError(w, &ledger.ValidationError{Field: "id", Reason: "required"})
		return
	}
	if req.InitialDeposit.IsNegative() {
		httpx.WriteError(w, &ledger.ValidationError{Field: "initial_deposit", Reason: "must not be negative"})
		return
	}
	currencies := req.Currencies
	if len(currencies) == 0 {
		currencies = []string{"USD"}
	}

	acct := &model.Account{
		ID:        req.ID,
		Balances:  make(map[string]model.Balance, len(currencies)),
		CreatedAt: time.Now().UTC(),
	}
	for _, cur := range currencies {
		if cur == "" {
			httpx.WriteError(w, &ledger.ValidationError{Field: "currencies", Reason: "empty currency code"})
			return
		}
		acct.Balances[cur] = model.Balance{Amount: decimal.Zero}
	}

	ctx := r.Context()
	if err := s.store.CreateAccount(ctx, acct); err != nil {
		httpx.WriteError(w, err)
		return
	}

	if req.InitialDeposit.IsPositive() {
		if _, err := s.ledger.Credit(ctx, acct.ID, currencies[0], req.InitialDeposit, model.OpInitialCredit, ""); err != nil {
			httpx.WriteError(w, err)
			return
		}
	}

	created, err := s.store.GetAccount(ctx, acct.ID)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, created)
}

// HandleGet handles GET /api/v1/accounts/{accountID}.
func (s *Service) HandleGet(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	acct, err := s.store.GetAccount(r.Context(), accountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httpx.WriteError(w, ledger.ErrAccountNotFound)
			return
		}
		httpx.WriteError(w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, acct)
}

// HandleAudit handles GET /api/v1/accounts/{accountID}/audit.
func (s *Service) HandleAudit(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	entries, err := s.audit.EntriesByAccount(r.Context(), accountID)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	if entries == nil {
		entries = []model.AuditEntry{}
	}

	httpx.WriteJSON(w, http.StatusOK, entries)
}
