// Copyright 2025 The Accumulate Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

package payment_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gitlab.com/accumulatenetwork/staking-ledger/internal/core/ledger"
	"gitlab.com/accumulatenetwork/staking-ledger/internal/core/payment"
	"gitlab.com/accumulatenetwork/staking-ledger/internal/database"
	"gitlab.com/accumulatenetwork/staking-ledger/internal/logging"
	"gitlab.com/accumulatenetwork/staking-ledger/pkg/errors"
	"gitlab.com/accumulatenetwork/staking-ledger/pkg/types/staking"
)

type Sim struct {
	Time    time.Time
	Ledger  *ledger.Ledger
	Payment *payment.Service
	User    *staking.User
}

const ipnSecret = "ipn-secret"

func setup(t *testing.T, demo bool, gateway payment.Gateway) *Sim {
	sim := new(Sim)
	sim.Time = time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

	logger := logging.NewTestLogger(t, "info")
	var err error
	sim.Ledger, err = ledger.New(ledger.Options{
		Database: database.OpenInMemory(logger),
		Logger:   logger,
		Now:      func() time.Time { return sim.Time },
	})
	require.NoError(t, err)

	// Demo mode has no processor to sign notifications
	secret := ipnSecret
	if demo {
		secret = ""
	}

	sim.Payment, err = payment.New(payment.Options{
		Ledger:      sim.Ledger,
		Gateway:     gateway,
		Logger:      logger,
		DemoMode:    demo,
		IPNSecret:   secret,
		Timeout:     30 * time.Minute,
		CallbackURL: "http://localhost:8001/payments/callback",
	})
	require.NoError(t, err)

	sim.User, err = sim.Ledger.CreateUser(context.Background(), "Alice", "alice@example.com")
	require.NoError(t, err)
	return sim
}

func (s *Sim) balance(t *testing.T) decimal.Decimal {
	u, err := s.Ledger.GetUser(context.Background(), s.User.ID)
	require.NoError(t, err)
	return u.Balance
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func requireDecimal(t testing.TB, expected string, actual decimal.Decimal) {
	t.Helper()
	require.Truef(t, dec(expected).Equal(actual), "expected %s, got %v", expected, actual)
}

type fakeGateway struct {
	invoices []*payment.Invoice
	err      error
}

func (g *fakeGateway) CreateInvoice(_ context.Context, inv *payment.Invoice) (string, string, error) {
	if g.err != nil {
		return "", "", g.err
	}
	g.invoices = append(g.invoices, inv)
	return "https://pay.example.com/" + inv.OrderID, fmt.Sprint(4522625843 + len(g.invoices) - 1), nil
}

func TestDemoMode(t *testing.T) {
	sim := setup(t, true, nil)

	r, err := sim.Payment.Create(context.Background(), sim.User.ID, dec("25"))
	require.NoError(t, err)
	require.True(t, r.DemoMode)
	require.NotEmpty(t, r.TransactionID)
	requireDecimal(t, "25", sim.balance(t))

	_, err = sim.Payment.Create(context.Background(), sim.User.ID, dec("-1"))
	require.ErrorIs(t, err, errors.BadRequest)
}

func TestGatewayRequired(t *testing.T) {
	_, err := payment.New(payment.Options{Logger: logging.NewTestLogger(t, "info")})
	require.ErrorIs(t, err, errors.BadRequest)

	_, err = payment.New(payment.Options{Logger: logging.NewTestLogger(t, "info"), Gateway: new(fakeGateway)})
	require.ErrorIs(t, err, errors.BadRequest, "A gateway needs an IPN secret")
}

func TestPendingThenFinished(t *testing.T) {
	gw := new(fakeGateway)
	sim := setup(t, false, gw)
	ctx := context.Background()

	r, err := sim.Payment.Create(ctx, sim.User.ID, dec("40"))
	require.NoError(t, err)
	require.False(t, r.DemoMode)
	require.Equal(t, "https://pay.example.com/"+r.PaymentID, r.PaymentURL)
	require.Equal(t, "4522625843", r.GatewayPaymentID)
	require.Len(t, gw.invoices, 1)
	require.Equal(t, "usd", gw.invoices[0].Currency)
	requireDecimal(t, "0", sim.balance(t))

	// Intermediate statuses change nothing
	tx, err := sim.Payment.Callback(ctx, &payment.Notification{OrderID: r.PaymentID, PaymentStatus: payment.StatusWaiting})
	require.NoError(t, err)
	require.Nil(t, tx)

	for i := 0; i < 2; i++ {
		tx, err = sim.Payment.Callback(ctx, &payment.Notification{PaymentID: r.PaymentID, PaymentStatus: payment.StatusFinished})
		require.NoError(t, err)
		require.Equal(t, staking.TransactionStatusCompleted, tx.Status)
		require.Equal(t, r.TransactionID, tx.ID)
	}
	requireDecimal(t, "40", sim.balance(t))

	// The processor's ID finds the same deposit
	tx, err = sim.Payment.Callback(ctx, &payment.Notification{PaymentID: r.GatewayPaymentID, PaymentStatus: payment.StatusFinished})
	require.NoError(t, err)
	require.Equal(t, r.TransactionID, tx.ID)
	requireDecimal(t, "40", sim.balance(t))

	_, err = sim.Payment.Callback(ctx, &payment.Notification{OrderID: r.PaymentID, PaymentStatus: payment.StatusRefunded})
	require.ErrorIs(t, err, errors.Conflict)

	_, err = sim.Payment.Callback(ctx, &payment.Notification{OrderID: "unknown", PaymentStatus: payment.StatusFinished})
	require.ErrorIs(t, err, errors.NotFound)
}

func TestPendingThenFailed(t *testing.T) {
	sim := setup(t, false, new(fakeGateway))
	ctx := context.Background()

	r, err := sim.Payment.Create(ctx, sim.User.ID, dec("40"))
	require.NoError(t, err)

	tx, err := sim.Payment.Callback(ctx, &payment.Notification{OrderID: r.PaymentID, PaymentStatus: payment.StatusExpired})
	require.NoError(t, err)
	require.Equal(t, staking.TransactionStatusFailed, tx.Status)
	requireDecimal(t, "0", sim.balance(t))

	_, err = sim.Payment.Callback(ctx, &payment.Notification{OrderID: r.PaymentID, PaymentStatus: payment.StatusFinished})
	require.ErrorIs(t, err, errors.Conflict)
	requireDecimal(t, "0", sim.balance(t))
}

func TestGatewayFailure(t *testing.T) {
	sim := setup(t, false, &fakeGateway{err: errors.BadGateway.With("down")})
	ctx := context.Background()

	_, err := sim.Payment.Create(ctx, sim.User.ID, dec("40"))
	require.ErrorIs(t, err, errors.BadGateway)

	// The deposit is recorded as failed, not left pending
	txns, err := sim.Ledger.Log().ListByUser(ctx, sim.User.ID)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	require.Equal(t, staking.TransactionStatusFailed, txns[0].Status)
	requireDecimal(t, "0", sim.balance(t))
}

func TestExpirePending(t *testing.T) {
	sim := setup(t, false, new(fakeGateway))
	ctx := context.Background()

	old, err := sim.Payment.Create(ctx, sim.User.ID, dec("10"))
	require.NoError(t, err)
	done, err := sim.Payment.Create(ctx, sim.User.ID, dec("5"))
	require.NoError(t, err)
	_, err = sim.Payment.Callback(ctx, &payment.Notification{OrderID: done.PaymentID, PaymentStatus: payment.StatusFinished})
	require.NoError(t, err)

	sim.Time = sim.Time.Add(20 * time.Minute)
	fresh, err := sim.Payment.Create(ctx, sim.User.ID, dec("7"))
	require.NoError(t, err)

	sim.Time = sim.Time.Add(15 * time.Minute)
	n, err := sim.Payment.ExpirePending(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	tx, err := sim.Ledger.Log().Get(ctx, old.TransactionID)
	require.NoError(t, err)
	require.Equal(t, staking.TransactionStatusFailed, tx.Status)

	tx, err = sim.Ledger.Log().Get(ctx, fresh.TransactionID)
	require.NoError(t, err)
	require.Equal(t, staking.TransactionStatusPending, tx.Status)

	requireDecimal(t, "5", sim.balance(t))
}

func TestHTTPGateway(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/invoice" || r.Header.Get("x-api-key") != "secret" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"id": 4522625843, "invoice_url": "https://pay.example.com/inv"}`))
	}))
	defer srv.Close()

	gw := &payment.HTTPGateway{BaseURL: srv.URL + "/v1/", APIKey: "secret"}
	url, id, err := gw.CreateInvoice(context.Background(), &payment.Invoice{
		OrderID:  "order-1",
		Amount:   dec("12.50"),
		Currency: "usd",
	})
	require.NoError(t, err)
	require.Equal(t, "https://pay.example.com/inv", url)
	require.Equal(t, "4522625843", id)
	require.Equal(t, "order-1", got["order_id"])
	require.Equal(t, 12.5, got["price_amount"])

	gw.APIKey = "wrong"
	_, _, err = gw.CreateInvoice(context.Background(), &payment.Invoice{OrderID: "order-2", Amount: dec("1")})
	require.ErrorIs(t, err, errors.BadGateway)
	require.True(t, errors.Code(err).IsRetryable())
}

func TestGatewayIDPerInvoice(t *testing.T) {
	sim := setup(t, false, new(fakeGateway))
	ctx := context.Background()

	a, err := sim.Payment.Create(ctx, sim.User.ID, dec("10"))
	require.NoError(t, err)
	b, err := sim.Payment.Create(ctx, sim.User.ID, dec("5"))
	require.NoError(t, err)
	require.NotEqual(t, a.GatewayPaymentID, b.GatewayPaymentID)

	tx, err := sim.Payment.Callback(ctx, &payment.Notification{PaymentID: b.GatewayPaymentID, PaymentStatus: payment.StatusFinished})
	require.NoError(t, err)
	require.Equal(t, b.TransactionID, tx.ID)
	requireDecimal(t, "5", sim.balance(t))
}

func TestSign(t *testing.T) {
	// Keys are sorted at every level and numbers keep their form
	body := []byte(`{"payment_status": "finished", "payment_id": 5077125051,
		"fee": {"currency": "btc", "amount": 2.50}, "order_id": "a<b"}`)
	canonical := `{"fee":{"amount":2.50,"currency":"btc"},"order_id":"a<b","payment_id":5077125051,"payment_status":"finished"}`

	mac := hmac.New(sha512.New, []byte(ipnSecret))
	mac.Write([]byte(canonical))

	sig, err := payment.Sign(ipnSecret, body)
	require.NoError(t, err)
	require.Equal(t, hex.EncodeToString(mac.Sum(nil)), sig)

	_, err = payment.Sign(ipnSecret, []byte("{"))
	require.ErrorIs(t, err, errors.BadRequest)
}

func TestVerify(t *testing.T) {
	sim := setup(t, false, new(fakeGateway))
	body := []byte(`{"order_id":"x","payment_status":"finished"}`)
	sig, err := payment.Sign(ipnSecret, body)
	require.NoError(t, err)

	require.NoError(t, sim.Payment.Verify(body, sig))
	require.ErrorIs(t, sim.Payment.Verify(body, ""), errors.NotAllowed)
	require.ErrorIs(t, sim.Payment.Verify(body, "zz"), errors.NotAllowed)
	require.ErrorIs(t, sim.Payment.Verify([]byte(`{"order_id":"y","payment_status":"finished"}`), sig), errors.NotAllowed)

	demo := setup(t, true, nil)
	require.NoError(t, demo.Payment.Verify(body, ""))
}

func TestNotificationPaymentID(t *testing.T) {
	for _, c := range []struct{ body, id string }{
		{`{"payment_id": 5077125051, "payment_status": "finished"}`, "5077125051"},
		{`{"payment_id": "5077125051", "payment_status": "finished"}`, "5077125051"},
		{`{"payment_id": null, "order_id": "o", "payment_status": "finished"}`, ""},
		{`{"order_id": "o", "payment_status": "finished"}`, ""},
	} {
		n := new(payment.Notification)
		require.NoError(t, json.Unmarshal([]byte(c.body), n), c.body)
		require.Equal(t, c.id, n.PaymentID, c.body)
		require.Equal(t, "finished", n.PaymentStatus)
	}

	require.Error(t, json.Unmarshal([]byte(`{"payment_id": true}`), new(payment.Notification)))
}
