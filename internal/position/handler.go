package position

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/betpay/ledger-engine/internal/httpx"
	"github.com/betpay/ledger-engine/internal/model"
)

// OpenRequest is the JSON body for POST /api/v1/positions.
type OpenRequest struct {
	AccountID    string          `json:"account_id"`
	Token        string          `json:"token"`
	Direction    string          `json:"direction"`      // "up" or "down"
	Stake        decimal.Decimal `json:"stake"`
	Currency     string          `json:"currency"`
	EntryPrice   decimal.Decimal `json:"entry_price"`
	ExpiresInSec int64           `json:"expires_in_sec"`
}

// SettleRequest is the JSON body for POST /api/v1/positions/{positionID}/settle.
type SettleRequest struct {
	Outcome   string          `json:"outcome"` // "win" or "lose"
	ExitPrice decimal.Decimal `json:"exit_price"`
}

// HandleOpen handles POST /api/v1/positions.
func (s *Service) HandleOpen(w http.ResponseWriter, r *http.Request) {
	var req OpenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteJSON(w, http.StatusBadRequest, httpx.ErrorResponse{Error: "invalid request body", Code: "validation"})
		return
	}

	pos, err := s.Open(r.Context(), OpenParams{
		AccountID:  req.AccountID,
		Token:      req.Token,
		Direction:  req.Direction,
		Stake:      req.Stake,
		Currency:   req.Currency,
		EntryPrice: req.EntryPrice,
		ExpiresIn:  time.Duration(req.ExpiresInSec) * time.Second,
	})
	if err != nil {
		httpx.WriteError(w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, pos)
}

// HandleSettle handles POST /api/v1/positions/{positionID}/settle.
func (s *Service) HandleSettle(w http.ResponseWriter, r *http.Request) {
	positionID := chi.URLParam(r, "positionID")

	var req SettleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteJSON(w, http.StatusBadRequest, httpx.ErrorResponse{Error: "invalid request body", Code: "validation"})
		return
	}

	pos, err := s.Settle(r.Context(), positionID, req.Outcome, req.ExitPrice)
	if err != nil {
		if errors.Is(err, ErrAlreadyClosed) {
			httpx.WriteJSON(w, http.StatusConflict, httpx.ErrorResponse{Error: "position already closed", Code: "already_closed"})
			return
		}
		httpx.WriteError(w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, pos)
}

// HandleList handles GET /api/v1/accounts/{accountID}/positions.
func (s *Service) HandleList(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	positions, err := s.ListByAccount(r.Context(), accountID)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	if positions == nil {
		positions = []model.Position{}
	}

	httpx.WriteJSON(w, http.StatusOK, positions)
}
