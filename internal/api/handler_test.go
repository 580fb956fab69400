// Copyright 2025 The Accumulate Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"gitlab.com/accumulatenetwork/staking-ledger/internal/api"
	"gitlab.com/accumulatenetwork/staking-ledger/internal/core/analytics"
	"gitlab.com/accumulatenetwork/staking-ledger/internal/core/ledger"
	"gitlab.com/accumulatenetwork/staking-ledger/internal/core/payment"
	"gitlab.com/accumulatenetwork/staking-ledger/internal/core/stakes"
	"gitlab.com/accumulatenetwork/staking-ledger/internal/database"
	"gitlab.com/accumulatenetwork/staking-ledger/internal/events"
	"gitlab.com/accumulatenetwork/staking-ledger/internal/logging"
	"gitlab.com/accumulatenetwork/staking-ledger/pkg/errors"
	"gitlab.com/accumulatenetwork/staking-ledger/pkg/types/staking"
)

type Sim struct {
	Time    time.Time
	Handler *api.Handler
}

func setup(t *testing.T) *Sim {
	return setupWith(t, payment.Options{DemoMode: true})
}

// setupWith builds a handler with the given payment options. The ledger and
// logger are filled in.
func setupWith(t *testing.T, payOpts payment.Options) *Sim {
	sim := new(Sim)
	sim.Time = time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	now := func() time.Time { return sim.Time }

	logger := logging.NewTestLogger(t, "info")
	bus := events.NewBus(logger)
	db := database.OpenInMemory(logger)

	l, err := ledger.New(ledger.Options{Database: db, Events: bus, Logger: logger, Now: now})
	require.NoError(t, err)
	payOpts.Ledger = l
	payOpts.Logger = logger
	pay, err := payment.New(payOpts)
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_gauge", Help: "Test"}))

	sim.Handler, err = api.NewHandler(api.Options{
		Ledger:    l,
		Stakes:    stakes.New(stakes.Options{Database: db, Ledger: l, Logger: logger}),
		Analytics: analytics.New(analytics.Options{Database: db, Events: bus, Logger: logger, Now: now, CacheTTL: time.Minute}),
		Payment:   pay,
		Logger:    logger,
		Metrics:   reg,
	})
	require.NoError(t, err)
	return sim
}

func (s *Sim) do(t *testing.T, method, path string, body any, status int, res any) {
	t.Helper()
	s.send(t, method, path, encode(t, body), nil, status, res)
}

func encode(t *testing.T, body any) []byte {
	t.Helper()
	switch body := body.(type) {
	case nil:
		return nil
	case string:
		return []byte(body)
	}
	b, err := json.Marshal(body)
	require.NoError(t, err)
	return b
}

func (s *Sim) send(t *testing.T, method, path string, body []byte, header http.Header, status int, res any) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	for k, v := range header {
		req.Header[k] = v
	}
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler.ServeHTTP(rec, req)
	require.Equalf(t, status, rec.Code, "%s %s: %s", method, path, rec.Body.String())
	if res != nil {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), res))
	}
}

type errorBody struct {
	Code    errors.Status `json:"code"`
	Message string        `json:"message"`
}

func (s *Sim) createUser(t *testing.T, email string) string {
	res := new(api.CreateUserResponse)
	s.do(t, "POST", "/users", map[string]any{"name": "Alice", "email": email}, http.StatusCreated, res)
	require.NotEmpty(t, res.UserID)
	return res.UserID
}

func TestHealth(t *testing.T) {
	sim := setup(t)
	res := new(api.MessageResponse)
	sim.do(t, "GET", "/", nil, http.StatusOK, res)
	require.NotEmpty(t, res.Message)
}

func TestUsers(t *testing.T) {
	sim := setup(t)
	id := sim.createUser(t, "alice@example.com")

	u := new(staking.User)
	sim.do(t, "GET", "/users/"+id, nil, http.StatusOK, u)
	require.Equal(t, "alice@example.com", u.Email)
	require.True(t, u.Balance.IsZero())

	e := new(errorBody)
	sim.do(t, "POST", "/users", map[string]any{"name": "Alice", "email": "ALICE@example.com"}, http.StatusConflict, e)
	require.Equal(t, errors.Conflict, e.Code)

	sim.do(t, "POST", "/users", map[string]any{"name": "Bob", "email": "bob"}, http.StatusBadRequest, e)
	require.Equal(t, errors.BadRequest, e.Code)

	sim.do(t, "POST", "/users", `{"name": `, http.StatusBadRequest, e)

	sim.do(t, "GET", "/users/missing", nil, http.StatusNotFound, e)
	require.Equal(t, errors.NotFound, e.Code)
	require.Contains(t, e.Message, "missing")
}

func TestStakeFlow(t *testing.T) {
	sim := setup(t)
	id := sim.createUser(t, "alice@example.com")

	rcpt := new(payment.Receipt)
	sim.do(t, "POST", "/payments/create", map[string]any{"user_id": id, "amount": 100}, http.StatusOK, rcpt)
	require.True(t, rcpt.DemoMode)

	e := new(errorBody)
	sim.do(t, "POST", "/payments/create", map[string]any{"user_id": id, "amount": -5}, http.StatusBadRequest, e)
	require.Contains(t, e.Message, "amount must be greater than zero")

	start := time.Now()
	sim.do(t, "POST", "/stake", `{"user_id":"`+id+`","amount":1e2000000}`, http.StatusBadRequest, e)
	require.Less(t, time.Since(start), time.Second)
	require.Contains(t, e.Message, "amount must be less than 1e15")

	sim.do(t, "POST", "/payments/create", `{"user_id":"`+id+`","amount":-1e2000000}`, http.StatusBadRequest, e)
	require.Contains(t, e.Message, "amount must be less than 1e15")

	sim.do(t, "POST", "/stake", map[string]any{"user_id": id, "amount": "150"}, http.StatusPaymentRequired, e)
	require.Equal(t, errors.InsufficientBalance, e.Code)

	s := new(staking.Stake)
	sim.do(t, "POST", "/stake", map[string]any{"user_id": id, "amount": "100"}, http.StatusCreated, s)
	require.True(t, s.IsActive)

	var list []*staking.Stake
	sim.do(t, "GET", "/users/"+id+"/stakes", nil, http.StatusOK, &list)
	require.Len(t, list, 1)

	sim.Time = sim.Time.Add(time.Hour)
	sim.do(t, "POST", "/unstake/"+s.ID, nil, http.StatusOK, s)
	require.False(t, s.IsActive)

	sim.do(t, "POST", "/unstake/"+s.ID, nil, http.StatusGone, e)
	require.Equal(t, errors.AlreadyClosed, e.Code)

	sim.do(t, "POST", "/unstake/missing", nil, http.StatusNotFound, e)

	var txns []*staking.Transaction
	sim.do(t, "GET", "/users/"+id+"/transactions", nil, http.StatusOK, &txns)
	require.Len(t, txns, 3)
	require.Equal(t, staking.TransactionTypeUnstake, txns[0].Type)
	require.Equal(t, staking.TransactionTypeDeposit, txns[2].Type)

	sim.do(t, "GET", "/users/missing/transactions", nil, http.StatusNotFound, e)
}

func TestAnalyticsRoutes(t *testing.T) {
	sim := setup(t)
	id := sim.createUser(t, "alice@example.com")

	ua := new(staking.UserAnalytics)
	sim.do(t, "GET", "/users/"+id+"/analytics", nil, http.StatusOK, ua)
	require.Equal(t, 0, ua.Portfolio.TotalStakes)

	pa := new(staking.PlatformAnalytics)
	sim.do(t, "GET", "/analytics/platform", nil, http.StatusOK, pa)
	require.Equal(t, 1, pa.Overview.TotalUsers)
	require.Equal(t, "30%", pa.Performance.DailyRate)

	pa = new(staking.PlatformAnalytics)
	sim.do(t, "GET", "/stats", nil, http.StatusOK, pa)
	require.Len(t, pa.DailyStats, 30)
}

func TestCallbackRoute(t *testing.T) {
	sim := setup(t)
	e := new(errorBody)
	sim.do(t, "POST", "/payments/callback", map[string]any{"payment_status": "finished"}, http.StatusBadRequest, e)

	res := new(api.StatusResponse)
	sim.do(t, "POST", "/payments/callback", map[string]any{"payment_id": "x", "payment_status": "waiting"}, http.StatusOK, res)
	require.Equal(t, "ok", res.Status)

	sim.do(t, "POST", "/payments/callback", map[string]any{"payment_id": "x", "payment_status": "finished"}, http.StatusNotFound, e)
}

type invoiceGateway struct{}

func (invoiceGateway) CreateInvoice(_ context.Context, inv *payment.Invoice) (string, string, error) {
	return "https://pay.example.com/" + inv.OrderID, "5077125051", nil
}

func TestSignedCallback(t *testing.T) {
	const secret = "ipn-secret"
	sim := setupWith(t, payment.Options{Gateway: invoiceGateway{}, IPNSecret: secret, Timeout: time.Hour})
	id := sim.createUser(t, "alice@example.com")

	rcpt := new(payment.Receipt)
	sim.do(t, "POST", "/payments/create", map[string]any{"user_id": id, "amount": 25}, http.StatusOK, rcpt)
	require.False(t, rcpt.DemoMode)
	require.Equal(t, "5077125051", rcpt.GatewayPaymentID)

	body := encode(t, map[string]any{"payment_id": 5077125051, "order_id": rcpt.PaymentID, "payment_status": "finished"})
	sign := func(secret string) http.Header {
		sig, err := payment.Sign(secret, body)
		require.NoError(t, err)
		return http.Header{payment.SignatureHeader: {sig}}
	}

	// Unsigned and forged notifications are rejected and credit nothing
	e := new(errorBody)
	sim.send(t, "POST", "/payments/callback", body, nil, http.StatusForbidden, e)
	require.Equal(t, errors.NotAllowed, e.Code)
	sim.send(t, "POST", "/payments/callback", body, sign("wrong"), http.StatusForbidden, e)
	sim.send(t, "POST", "/payments/callback", body, http.Header{payment.SignatureHeader: {"not hex"}}, http.StatusForbidden, e)

	u := new(staking.User)
	sim.do(t, "GET", "/users/"+id, nil, http.StatusOK, u)
	require.True(t, u.Balance.IsZero())

	res := new(api.StatusResponse)
	sim.send(t, "POST", "/payments/callback", body, sign(secret), http.StatusOK, res)
	sim.do(t, "GET", "/users/"+id, nil, http.StatusOK, u)
	require.Equal(t, "25", u.Balance.String())
}

func TestGatewayPaymentID(t *testing.T) {
	const secret = "ipn-secret"
	sim := setupWith(t, payment.Options{Gateway: invoiceGateway{}, IPNSecret: secret, Timeout: time.Hour})
	id := sim.createUser(t, "alice@example.com")

	rcpt := new(payment.Receipt)
	sim.do(t, "POST", "/payments/create", map[string]any{"user_id": id, "amount": 25}, http.StatusOK, rcpt)

	// Only the processor's ID
	body := encode(t, map[string]any{"payment_id": rcpt.GatewayPaymentID, "payment_status": "finished"})
	sig, err := payment.Sign(secret, body)
	require.NoError(t, err)
	sim.send(t, "POST", "/payments/callback", body, http.Header{payment.SignatureHeader: {sig}}, http.StatusOK, nil)

	u := new(staking.User)
	sim.do(t, "GET", "/users/"+id, nil, http.StatusOK, u)
	require.Equal(t, "25", u.Balance.String())
}

func TestRouting(t *testing.T) {
	sim := setup(t)
	e := new(errorBody)
	sim.do(t, "GET", "/nope", nil, http.StatusNotFound, e)
	sim.do(t, "DELETE", "/users", nil, http.StatusForbidden, e)
	require.Equal(t, errors.NotAllowed, e.Code)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	sim.Handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), "test_gauge"))
}

func TestCORS(t *testing.T) {
	sim := setup(t)
	req := httptest.NewRequest("OPTIONS", "/users", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	sim.Handler.ServeHTTP(rec, req)
	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestHTTPStatus(t *testing.T) {
	require.Equal(t, 402, api.HTTPStatus(errors.InsufficientBalance))
	require.Equal(t, 410, api.HTTPStatus(errors.AlreadyClosed))
	require.Equal(t, 503, api.HTTPStatus(errors.StorageError))
	require.Equal(t, 500, api.HTTPStatus(errors.UnknownError))
	require.Equal(t, 500, api.HTTPStatus(0))
}
