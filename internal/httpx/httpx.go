// Package httpx holds the JSON response helpers shared by the HTTP handler
// packages, including the mapping from the domain error taxonomy to status
// codes.
package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/betpay/ledger-engine/internal/ledger"
	"github.com/betpay/ledger-engine/internal/provider"
	"github.com/betpay/ledger-engine/internal/store"
)

// ErrorResponse is the JSON error body. Code is machine-readable; Retryable
// marks conflicts the caller may safely retry after a re-read.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Retryable bool   `json:"retryable,omitempty"`
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// WriteError maps a domain error onto an HTTP status and JSON body.
// Persistence and provider failures deliberately carry no internal detail.
func WriteError(w http.ResponseWriter, err error) {
	var vErr *ledger.ValidationError
	var pErr *ledger.PersistenceError
	var provErr *provider.Error

	switch {
	case errors.As(err, &vErr):
		WriteJSON(w, http.StatusBadRequest, ErrorResponse{Error: vErr.Error(), Code: "validation"})
	case errors.As(err, &pErr):
		// Checked before the sentinels: a persistence failure wraps its
		// cause, and one wrapping ErrConflict must not be served as a
		// retryable conflict.
		WriteJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "persistence failure", Code: "persistence"})
	case errors.Is(err, ledger.ErrAccountNotFound), errors.Is(err, store.ErrNotFound):
		WriteJSON(w, http.StatusNotFound, ErrorResponse{Error: "not found", Code: "not_found"})
	case errors.Is(err, ledger.ErrInsufficientFunds):
		WriteJSON(w, http.StatusPaymentRequired, ErrorResponse{Error: "insufficient funds", Code: "insufficient_funds"})
	case errors.Is(err, ledger.ErrConflict):
		WriteJSON(w, http.StatusConflict, ErrorResponse{Error: "concurrent balance update, re-read and retry", Code: "conflict", Retryable: true})
	case errors.Is(err, store.ErrAlreadyExists):
		WriteJSON(w, http.StatusConflict, ErrorResponse{Error: "already exists", Code: "already_exists"})
	case errors.As(err, &provErr):
		WriteJSON(w, http.StatusBadGateway, ErrorResponse{Error: "payment provider unavailable", Code: "provider"})
	default:
		WriteJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal error", Code: "internal"})
	}
}
