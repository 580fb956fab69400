// Copyright 2025 The Accumulate Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gitlab.com/accumulatenetwork/staking-ledger/pkg/errors"
)

// Invoice is a request for an external payment.
type Invoice struct {
	// OrderID is the payment reference the deposit is recorded under.
	OrderID     string
	Amount      decimal.Decimal
	Currency    string
	Description string
	CallbackURL string
	SuccessURL  string
	CancelURL   string
}

// Gateway creates invoices with an external payment processor.
type Gateway interface {
	// CreateInvoice returns the URL the user pays at and the processor's ID
	// for the payment.
	CreateInvoice(ctx context.Context, invoice *Invoice) (paymentURL, paymentID string, err error)
}

// HTTPGateway creates invoices with a NOWPayments-style REST API.
type HTTPGateway struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

var _ Gateway = (*HTTPGateway)(nil)

type invoiceRequest struct {
	PriceAmount      json.Number `json:"price_amount"`
	PriceCurrency    string      `json:"price_currency"`
	OrderID          string      `json:"order_id"`
	OrderDescription string      `json:"order_description,omitempty"`
	IPNCallbackURL   string      `json:"ipn_callback_url,omitempty"`
	SuccessURL       string      `json:"success_url,omitempty"`
	CancelURL        string      `json:"cancel_url,omitempty"`
}

type invoiceResponse struct {
	ID         json.Number `json:"id"`
	InvoiceURL string      `json:"invoice_url"`
}

func (g *HTTPGateway) CreateInvoice(ctx context.Context, invoice *Invoice) (string, string, error) {
	body, err := json.Marshal(&invoiceRequest{
		PriceAmount:      json.Number(invoice.Amount.String()),
		PriceCurrency:    invoice.Currency,
		OrderID:          invoice.OrderID,
		OrderDescription: invoice.Description,
		IPNCallbackURL:   invoice.CallbackURL,
		SuccessURL:       invoice.SuccessURL,
		CancelURL:        invoice.CancelURL,
	})
	if err != nil {
		return "", "", errors.InternalError.WithFormat("encode invoice: %w", err)
	}

	url := strings.TrimSuffix(g.BaseURL, "/") + "/invoice"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", "", errors.InternalError.WithFormat("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", g.APIKey)

	client := g.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", "", errors.BadGateway.WithFormat("payment gateway: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", "", errors.BadGateway.WithFormat("read gateway response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return "", "", errors.BadGateway.WithFormat("payment gateway returned %s: %s", resp.Status, bytes.TrimSpace(data))
	}

	var r invoiceResponse
	err = json.Unmarshal(data, &r)
	if err != nil {
		return "", "", errors.BadGateway.WithFormat("decode gateway response: %w", err)
	}
	if r.InvoiceURL == "" {
		return "", "", errors.BadGateway.With("gateway response has no invoice URL")
	}
	return r.InvoiceURL, fmt.Sprint(r.ID), nil
}
