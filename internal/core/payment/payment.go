// Copyright 2025 The Accumulate Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

// Package payment funds deposits through an external payment processor.
//
// A deposit is recorded as pending before the processor is contacted, and is
// completed or failed when the processor reports back. Pending deposits that
// are never confirmed are failed once they time out. In demo mode deposits
// are credited immediately without contacting a processor.
package payment

import (
	"context"
	"crypto/hmac"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gitlab.com/accumulatenetwork/staking-ledger/internal/core/ledger"
	"gitlab.com/accumulatenetwork/staking-ledger/pkg/errors"
	"gitlab.com/accumulatenetwork/staking-ledger/pkg/types/staking"
)

// Statuses reported by the processor.
const (
	StatusWaiting  = "waiting"
	StatusFinished = "finished"
	StatusFailed   = "failed"
	StatusExpired  = "expired"
	StatusRefunded = "refunded"
)

type Service struct {
	ledger   *ledger.Ledger
	gateway  Gateway
	secret   string
	logger   zerolog.Logger
	demo     bool
	timeout  time.Duration
	currency string
	callback string
	success  string
	cancel   string
}

type Options struct {
	Ledger  *ledger.Ledger
	Gateway Gateway
	Logger  zerolog.Logger

	// DemoMode credits deposits without a processor.
	DemoMode bool

	// Timeout is how long a deposit may stay pending.
	Timeout time.Duration

	// IPNSecret signs the processor's notifications. It is required unless
	// demo mode is enabled.
	IPNSecret string

	PriceCurrency string
	CallbackURL   string
	SuccessURL    string
	CancelURL     string
}

func New(opts Options) (*Service, error) {
	if !opts.DemoMode && opts.Gateway == nil {
		return nil, errors.BadRequest.With("a payment gateway is required unless demo mode is enabled")
	}
	if !opts.DemoMode && opts.IPNSecret == "" {
		return nil, errors.BadRequest.With("an IPN secret is required unless demo mode is enabled")
	}

	s := new(Service)
	s.ledger = opts.Ledger
	s.gateway = opts.Gateway
	s.secret = opts.IPNSecret
	s.logger = opts.Logger.With().Str("module", "payment").Logger()
	s.demo = opts.DemoMode
	s.timeout = opts.Timeout
	s.currency = opts.PriceCurrency
	if s.currency == "" {
		s.currency = "usd"
	}
	s.callback = opts.CallbackURL
	s.success = opts.SuccessURL
	s.cancel = opts.CancelURL
	return s, nil
}

// DemoMode returns true if deposits are credited without a processor.
func (s *Service) DemoMode() bool { return s.demo }

// Receipt is the result of creating a payment.
type Receipt struct {
	PaymentURL       string `json:"payment_url,omitempty"`
	PaymentID        string `json:"payment_id"`
	GatewayPaymentID string `json:"gateway_payment_id,omitempty"`
	TransactionID    string `json:"transaction_id"`
	DemoMode         bool   `json:"demo_mode,omitempty"`
	Message          string `json:"message,omitempty"`
}

// Create starts a deposit of the given amount.
func (s *Service) Create(ctx context.Context, userID string, amount decimal.Decimal) (*Receipt, error) {
	if s.demo {
		tx, err := s.ledger.Deposit(ctx, userID, amount)
		if err != nil {
			return nil, err
		}
		return &Receipt{
			PaymentID:     "demo_" + tx.ID[:8],
			TransactionID: tx.ID,
			DemoMode:      true,
			Message:       "Demo mode: balance credited automatically",
		}, nil
	}

	orderID := uuid.NewString()
	tx, err := s.ledger.BeginDeposit(ctx, userID, amount, orderID)
	if err != nil {
		return nil, err
	}

	// The gateway is contacted after the pending deposit is committed so no
	// lock is held during the request
	url, gatewayID, err := s.gateway.CreateInvoice(ctx, &Invoice{
		OrderID:     orderID,
		Amount:      amount,
		Currency:    s.currency,
		Description: fmt.Sprintf("Deposit for staking - user %s", userID),
		CallbackURL: s.callback,
		SuccessURL:  s.success,
		CancelURL:   s.cancel,
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("payment", orderID).Msg("Invoice failed")
		_, ferr := s.ledger.FailDeposit(context.Background(), orderID)
		if ferr != nil {
			s.logger.Error().Err(ferr).Str("payment", orderID).Msg("Failed to fail deposit")
		}
		return nil, err
	}

	// Notifications may carry only the processor's ID
	if gatewayID != "" {
		err = s.ledger.LinkPayment(ctx, orderID, gatewayID)
		if err != nil {
			s.logger.Error().Err(err).Str("payment", orderID).Str("gateway-id", gatewayID).Msg("Failed to record the processor's payment ID")
		}
	}

	return &Receipt{
		PaymentURL:       url,
		PaymentID:        orderID,
		GatewayPaymentID: gatewayID,
		TransactionID:    tx.ID,
	}, nil
}

// Notification is a status report from the processor.
type Notification struct {
	PaymentID     string `json:"payment_id" validate:"required_without=OrderID"`
	OrderID       string `json:"order_id"`
	PaymentStatus string `json:"payment_status" validate:"required"`
}

// UnmarshalJSON accepts the processor's payment ID as a string or a number.
func (n *Notification) UnmarshalJSON(b []byte) error {
	var v struct {
		PaymentID     json.RawMessage `json:"payment_id"`
		OrderID       string          `json:"order_id"`
		PaymentStatus string          `json:"payment_status"`
	}
	err := json.Unmarshal(b, &v)
	if err != nil {
		return err
	}

	n.OrderID = v.OrderID
	n.PaymentStatus = v.PaymentStatus
	n.PaymentID = ""
	if len(v.PaymentID) == 0 || string(v.PaymentID) == "null" {
		return nil
	}
	if json.Unmarshal(v.PaymentID, &n.PaymentID) == nil {
		return nil
	}

	var num json.Number
	err = json.Unmarshal(v.PaymentID, &num)
	if err != nil {
		return fmt.Errorf("payment_id: %w", err)
	}
	n.PaymentID = num.String()
	return nil
}

// Reference returns the payment reference the notification refers to.
func (n *Notification) Reference() string {
	if n.OrderID != "" {
		return n.OrderID
	}
	return n.PaymentID
}

// Verify checks the signature of a notification body. Notifications are not
// signed in demo mode unless a secret is configured.
func (s *Service) Verify(body []byte, sig string) error {
	if s.secret == "" {
		return nil
	}
	if sig == "" {
		return errors.NotAllowed.With("notification is not signed")
	}

	want, err := signature(s.secret, body)
	if err != nil {
		return err
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return errors.NotAllowed.With("notification signature is malformed")
	}
	if !hmac.Equal(got, want) {
		s.logger.Warn().Msg("Rejected notification with a bad signature")
		return errors.NotAllowed.With("notification signature does not match")
	}
	return nil
}

// Callback applies a status report. Reports of intermediate statuses are
// ignored. Repeated reports are harmless.
func (s *Service) Callback(ctx context.Context, n *Notification) (*staking.Transaction, error) {
	ref := n.Reference()
	log := s.logger.With().Str("payment", ref).Str("status", n.PaymentStatus).Logger()

	switch n.PaymentStatus {
	case StatusFinished:
		log.Info().Msg("Payment finished")
		return s.ledger.FinalizeDeposit(ctx, ref)

	case StatusFailed, StatusExpired, StatusRefunded:
		log.Info().Msg("Payment did not complete")
		return s.ledger.FailDeposit(ctx, ref)

	default:
		log.Debug().Msg("Ignoring payment status")
		return nil, nil
	}
}

// ExpirePending fails every pending deposit older than the timeout. It
// returns the number of deposits that were failed.
func (s *Service) ExpirePending(ctx context.Context) (int, error) {
	if s.timeout <= 0 {
		return 0, nil
	}

	pending, err := s.ledger.ListPendingDeposits(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := s.ledger.Now().Add(-s.timeout)
	var n int
	for _, tx := range pending {
		if tx.CreatedAt.After(cutoff) {
			continue
		}

		_, err = s.ledger.FailDeposit(ctx, tx.PaymentID)
		switch {
		case err == nil:
			n++
		case errors.Is(err, errors.Conflict):
			// Settled since it was listed
		case ctx.Err() != nil:
			return n, ctx.Err()
		default:
			s.logger.Error().Err(err).Str("payment", tx.PaymentID).Msg("Failed to expire deposit")
		}
	}

	if n > 0 {
		s.logger.Info().Int("count", n).Msg("Expired pending deposits")
	}
	return n, nil
}
