// Copyright 2025 The Accumulate Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

package api

import (
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/shopspring/decimal"
	"gitlab.com/accumulatenetwork/staking-ledger/internal/core/payment"
	"gitlab.com/accumulatenetwork/staking-ledger/pkg/types/staking"
	"golang.org/x/exp/slices"
)

type CreateUserRequest struct {
	Name  string `json:"name" validate:"required"`
	Email string `json:"email" validate:"required"`
}

type CreateUserResponse struct {
	UserID  string `json:"user_id"`
	Message string `json:"message"`
}

type AmountRequest struct {
	UserID string          `json:"user_id" validate:"required"`
	Amount decimal.Decimal `json:"amount" validate:"positive"`
}

type StatusResponse struct {
	Status string `json:"status"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

func (h *Handler) health(*http.Request, httprouter.Params) (int, any, error) {
	return 0, &MessageResponse{Message: "Staking ledger API"}, nil
}

func (h *Handler) createUser(r *http.Request, _ httprouter.Params) (int, any, error) {
	req := new(CreateUserRequest)
	err := h.parse(r, req)
	if err != nil {
		return 0, nil, err
	}

	// The ledger validates the email
	u, err := h.Ledger.CreateUser(r.Context(), req.Name, req.Email)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusCreated, &CreateUserResponse{UserID: u.ID, Message: "User created successfully"}, nil
}

func (h *Handler) getUser(r *http.Request, params httprouter.Params) (int, any, error) {
	u, err := h.Ledger.GetUser(r.Context(), params.ByName("id"))
	return 0, u, err
}

func (h *Handler) getUserStakes(r *http.Request, params httprouter.Params) (int, any, error) {
	stakes, err := h.Stakes.ListStakes(r.Context(), params.ByName("id"))
	if stakes == nil {
		stakes = []*staking.Stake{}
	}
	return 0, stakes, err
}

func (h *Handler) getUserTransactions(r *http.Request, params httprouter.Params) (int, any, error) {
	id := params.ByName("id")
	_, err := h.Ledger.GetUser(r.Context(), id)
	if err != nil {
		return 0, nil, err
	}

	txns, err := h.Ledger.Log().ListByUser(r.Context(), id)
	if err != nil {
		return 0, nil, err
	}

	// Newest first
	slices.Reverse(txns)
	if txns == nil {
		txns = []*staking.Transaction{}
	}
	return 0, txns, nil
}

func (h *Handler) getUserAnalytics(r *http.Request, params httprouter.Params) (int, any, error) {
	a, err := h.Analytics.UserAnalytics(r.Context(), params.ByName("id"))
	return 0, a, err
}

func (h *Handler) getPlatformAnalytics(r *http.Request, _ httprouter.Params) (int, any, error) {
	a, err := h.Analytics.PlatformAnalytics(r.Context())
	return 0, a, err
}

func (h *Handler) createPayment(r *http.Request, _ httprouter.Params) (int, any, error) {
	req := new(AmountRequest)
	err := h.parse(r, req)
	if err != nil {
		return 0, nil, err
	}

	receipt, err := h.Payment.Create(r.Context(), req.UserID, req.Amount)
	return 0, receipt, err
}

func (h *Handler) paymentCallback(r *http.Request, _ httprouter.Params) (int, any, error) {
	body, err := readBody(r)
	if err != nil {
		return 0, nil, err
	}

	// The signature covers the body as sent
	err = h.Payment.Verify(body, r.Header.Get(payment.SignatureHeader))
	if err != nil {
		return 0, nil, err
	}

	req := new(payment.Notification)
	err = h.decode(body, req)
	if err != nil {
		return 0, nil, err
	}

	_, err = h.Payment.Callback(r.Context(), req)
	if err != nil {
		return 0, nil, err
	}
	return 0, &StatusResponse{Status: "ok"}, nil
}

func (h *Handler) createStake(r *http.Request, _ httprouter.Params) (int, any, error) {
	req := new(AmountRequest)
	err := h.parse(r, req)
	if err != nil {
		return 0, nil, err
	}

	s, err := h.Stakes.CreateStake(r.Context(), req.UserID, req.Amount)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusCreated, s, nil
}

func (h *Handler) closeStake(r *http.Request, params httprouter.Params) (int, any, error) {
	s, err := h.Stakes.CloseStake(r.Context(), params.ByName("id"))
	return 0, s, err
}
