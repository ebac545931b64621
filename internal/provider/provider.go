// Package provider wraps the external payment provider API. The provider is
// an untrusted, eventually-consistent oracle: its "paid" status is the only
// trigger for crediting a balance.
package provider

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// Provider invoice statuses as reported by the API.
const (
	StatusActive = "active"
	StatusPaid   = "paid"
)

// CreatedInvoice is the provider's response to an invoice creation.
type CreatedInvoice struct {
	InvoiceID string
	PayURL    string
}

// InvoiceStatus is one entry of a batch status query.
type InvoiceStatus struct {
	InvoiceID string
	Status    string
}

// Client is the payment provider boundary. Implemented by HTTPClient in
// production and by fakes in tests.
type Client interface {
	// CreateInvoice asks the provider to issue a new payment request.
	CreateInvoice(ctx context.Context, amount decimal.Decimal, currency string) (*CreatedInvoice, error)

	// GetInvoices returns the provider's current status for exactly the
	// given invoice ids. Ids unknown to the provider are absent from the
	// result, not an error.
	GetInvoices(ctx context.Context, ids []string) ([]InvoiceStatus, error)
}

// Error reports an unreachable provider or a malformed response.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("provider: status %d: %s", e.Status, e.Message)
	}
	return "provider: " + e.Message
}
