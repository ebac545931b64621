package provider

import (
	"context"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

// HTTPClient talks to the provider's REST API. Transient failures are retried
// by resty with backoff; non-2xx responses and envelope errors surface as
// *Error.
type HTTPClient struct {
	rc *resty.Client
}

// NewHTTPClient creates a provider client for the given base URL and API
// token.
func NewHTTPClient(baseURL, token string) *HTTPClient {
	rc := resty.New().
		SetBaseURL(strings.TrimSuffix(baseURL, "/")).
		SetTimeout(15 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("Crypto-Pay-API-Token", token)
	return &HTTPClient{rc: rc}
}

type envelope struct {
	OK     bool   `json:"ok"`
	Result result `json:"result"`
	Err    struct {
		Code int    `json:"code"`
		Name string `json:"name"`
	} `json:"error"`
}

type result struct {
	InvoiceID string        `json:"invoice_id"`
	PayURL    string        `json:"pay_url"`
	Status    string        `json:"status"`
	Items     []invoiceItem `json:"items"`
}

type invoiceItem struct {
	InvoiceID string `json:"invoice_id"`
	Status    string `json:"status"`
}

func (c *HTTPClient) CreateInvoice(ctx context.Context, amount decimal.Decimal, currency string) (*CreatedInvoice, error) {
	var out envelope
	resp, err := c.rc.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"amount": amount.String(),
			"asset":  currency,
		}).
		SetResult(&out).
		Post("/api/createInvoice")
	if err != nil {
		return nil, &Error{Message: err.Error()}
	}
	if !resp.IsSuccess() {
		return nil, &Error{Status: resp.StatusCode(), Message: resp.String()}
	}
	if !out.OK {
		return nil, &Error{Message: out.Err.Name}
	}
	if out.Result.InvoiceID == "" {
		return nil, &Error{Message: "createInvoice: empty invoice id"}
	}
	return &CreatedInvoice{
		InvoiceID: out.Result.InvoiceID,
		PayURL:    out.Result.PayURL,
	}, nil
}

func (c *HTTPClient) GetInvoices(ctx context.Context, ids []string) ([]InvoiceStatus, error) {
	var out envelope
	resp, err := c.rc.R().
		SetContext(ctx).
		SetQueryParam("invoice_ids", strings.Join(ids, ",")).
		SetResult(&out).
		Get("/api/getInvoices")
	if err != nil {
		return nil, &Error{Message: err.Error()}
	}
	if !resp.IsSuccess() {
		return nil, &Error{Status: resp.StatusCode(), Message: resp.String()}
	}
	if !out.OK {
		return nil, &Error{Message: out.Err.Name}
	}

	statuses := make([]InvoiceStatus, 0, len(out.Result.Items))
	for _, item := range out.Result.Items {
		statuses = append(statuses, InvoiceStatus{
			InvoiceID: item.InvoiceID,
			Status:    item.Status,
		})
	}
	return statuses, nil
}
