// Copyright 2025 The Accumulate Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

package ledger

import (
	"context"

	"github.com/shopspring/decimal"
	"gitlab.com/accumulatenetwork/staking-ledger/internal/database"
	"gitlab.com/accumulatenetwork/staking-ledger/pkg/errors"
	"gitlab.com/accumulatenetwork/staking-ledger/pkg/types/staking"
)

// BeginDeposit records a pending deposit for an external payment. The
// balance is not credited until the deposit is finalized.
func (l *Ledger) BeginDeposit(ctx context.Context, userID string, amount decimal.Decimal, paymentID string) (*staking.Transaction, error) {
	if err := staking.CheckAmount(amount); err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, errors.BadRequest.With("deposit amount must be greater than zero")
	}
	if paymentID == "" {
		return nil, errors.BadRequest.With("missing payment reference")
	}

	return l.AdjustBalance(ctx, userID, Adjustment{
		Type:      staking.TransactionTypeDeposit,
		Amount:    amount,
		Status:    staking.TransactionStatusPending,
		PaymentID: paymentID,
	})
}

// FinalizeDeposit credits a pending deposit. Finalizing a deposit that has
// already completed is a no-op, so repeated payment notifications are safe.
func (l *Ledger) FinalizeDeposit(ctx context.Context, paymentID string) (*staking.Transaction, error) {
	return l.settleDeposit(ctx, paymentID, staking.TransactionStatusCompleted)
}

// FailDeposit marks a pending deposit as failed without touching the balance.
func (l *Ledger) FailDeposit(ctx context.Context, paymentID string) (*staking.Transaction, error) {
	return l.settleDeposit(ctx, paymentID, staking.TransactionStatusFailed)
}

func (l *Ledger) settleDeposit(ctx context.Context, paymentID string, status staking.TransactionStatus) (*staking.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	userID, err := l.paymentOwner(paymentID)
	if err != nil {
		return nil, err
	}

	var result *staking.Transaction
	err = l.Update(ctx, userID, func(t *Tx) error {
		tx, err := l.log.FindByPayment(t.Batch(), paymentID)
		if err != nil {
			return err
		}

		switch tx.Status {
		case status:
			result = tx
			return nil
		case staking.TransactionStatusPending:
		default:
			return errors.Conflict.WithFormat("deposit for payment %s is already %s", paymentID, tx.Status)
		}

		err = t.finalizeDeposit(tx, status)
		if err != nil {
			return err
		}
		result = tx
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info().Str("payment", paymentID).Str("status", string(result.Status)).Msg("Settled deposit")
	return result, nil
}

// LinkPayment records the processor's ID for a deposit, so notifications that
// only carry that ID settle the deposit.
func (l *Ledger) LinkPayment(ctx context.Context, paymentID, gatewayID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	userID, err := l.paymentOwner(paymentID)
	if err != nil {
		return err
	}

	return l.Update(ctx, userID, func(t *Tx) error {
		return l.log.Link(t.Batch(), paymentID, gatewayID)
	})
}

// paymentOwner finds the user a payment belongs to, so the right lock can be
// taken.
func (l *Ledger) paymentOwner(paymentID string) (string, error) {
	var userID string
	err := l.db.View(func(batch *database.Batch) error {
		tx, err := l.log.FindByPayment(batch, paymentID)
		if err != nil {
			return err
		}
		userID = tx.UserID
		return nil
	})
	return userID, err
}

// ListPendingDeposits returns every deposit waiting for its payment.
func (l *Ledger) ListPendingDeposits(ctx context.Context) ([]*staking.Transaction, error) {
	txns, err := l.log.Pending(ctx)
	if err != nil {
		return nil, err
	}

	deposits := txns[:0]
	for _, tx := range txns {
		if tx.Type == staking.TransactionTypeDeposit {
			deposits = append(deposits, tx)
		}
	}
	return deposits, nil
}
