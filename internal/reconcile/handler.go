package reconcile

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/betpay/ledger-engine/internal/httpx"
)

// CreateInvoiceRequest is the JSON body for POST /api/v1/invoices.
type CreateInvoiceRequest struct {
	AccountID string          `json:"account_id"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
}

// HandleCreateInvoice handles POST /api/v1/invoices.
func (s *Service) HandleCreateInvoice(w http.ResponseWriter, r *http.Request) {
	var req CreateInvoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteJSON(w, http.StatusBadRequest, httpx.ErrorResponse{Error: "invalid request body", Code: "validation"})
		return
	}

	inv, err := s.CreateInvoice(r.Context(), req.AccountID, req.Amount, req.Currency)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, inv)
}

// HandleReconcile handles POST /api/v1/accounts/{accountID}/reconcile.
func (s *Service) HandleReconcile(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	result, err := s.Reconcile(r.Context(), accountID)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, result)
}
