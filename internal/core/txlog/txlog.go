// Copyright 2025 The Accumulate Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

// Package txlog is the append-only transaction log. Entries are ordered per
// user by a sequence number allocated from the user's counter, so the log
// order of a user's entries is the order in which they were appended.
package txlog

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gitlab.com/accumulatenetwork/staking-ledger/internal/database"
	"gitlab.com/accumulatenetwork/staking-ledger/pkg/errors"
	"gitlab.com/accumulatenetwork/staking-ledger/pkg/types/staking"
)

type Log struct {
	db  *database.Database
	now func() time.Time
}

type Options struct {
	Database *database.Database
	Now      func() time.Time
}

func New(opts Options) *Log {
	l := new(Log)
	l.db = opts.Database
	l.now = opts.Now
	if l.now == nil {
		l.now = func() time.Time { return time.Now().UTC() }
	}
	return l
}

// Validate checks a transaction before it is appended.
func Validate(tx *staking.Transaction) error {
	switch {
	case tx.UserID == "":
		return errors.BadRequest.With("transaction has no user")
	case !tx.Type.Valid():
		return errors.BadRequest.WithFormat("invalid transaction type %q", tx.Type)
	case !tx.Status.Valid():
		return errors.BadRequest.WithFormat("invalid transaction status %q", tx.Status)
	case tx.Amount.IsNegative():
		return errors.BadRequest.With("transaction amount is negative")
	}

	switch tx.Type {
	case staking.TransactionTypeDeposit:
		if tx.StakeID != "" {
			return errors.BadRequest.With("a deposit cannot refer to a stake")
		}
		if tx.Status == staking.TransactionStatusPending && tx.PaymentID == "" {
			return errors.BadRequest.With("a pending deposit must have a payment reference")
		}

	default:
		if tx.StakeID == "" {
			return errors.BadRequest.WithFormat("a %s transaction must refer to a stake", tx.Type)
		}
		if tx.PaymentID != "" {
			return errors.BadRequest.WithFormat("a %s transaction cannot have a payment reference", tx.Type)
		}
		if tx.Status != staking.TransactionStatusCompleted {
			return errors.BadRequest.WithFormat("a %s transaction must be completed", tx.Type)
		}
	}
	return nil
}

// Append validates the transaction, assigns its ID, sequence number and
// creation time, and writes it to the batch.
func (l *Log) Append(batch *database.Batch, tx *staking.Transaction) error {
	err := Validate(tx)
	if err != nil {
		return err
	}

	if tx.PaymentID != "" {
		_, err = batch.TransactionByPayment(tx.PaymentID)
		switch {
		case err == nil:
			return errors.Conflict.WithFormat("payment %s already has a transaction", tx.PaymentID)
		case !errors.Is(err, errors.NotFound):
			return err
		}
	}

	seq, err := batch.NextSequence(tx.UserID, database.TransactionSequence)
	if err != nil {
		return err
	}

	tx.ID = uuid.NewString()
	tx.Seq = seq
	tx.CreatedAt = l.now()
	return batch.PutTransaction(tx)
}

// Finalize moves a pending transaction to a terminal status. Terminal
// transactions never change.
func (l *Log) Finalize(batch *database.Batch, tx *staking.Transaction, status staking.TransactionStatus) error {
	if !status.Terminal() {
		return errors.BadRequest.WithFormat("cannot finalize a transaction as %s", status)
	}
	if tx.Status != staking.TransactionStatusPending {
		return errors.Conflict.WithFormat("transaction %s is already %s", tx.ID, tx.Status)
	}

	tx.Status = status
	return batch.PutTransaction(tx)
}

// Link records the processor's ID for a payment so the transaction can also
// be found by that ID. Linking the same IDs again is a no-op.
func (l *Log) Link(batch *database.Batch, paymentID, gatewayID string) error {
	if paymentID == "" || gatewayID == "" {
		return errors.BadRequest.With("missing payment reference")
	}

	tx, err := batch.TransactionByPayment(gatewayID)
	switch {
	case err == nil && tx.PaymentID == paymentID:
		return nil
	case err == nil:
		return errors.Conflict.WithFormat("payment %s is already linked to another transaction", gatewayID)
	case !errors.Is(err, errors.NotFound):
		return err
	}
	return batch.PutGatewayPayment(gatewayID, paymentID)
}

// FindByPayment loads the transaction created for a payment reference.
func (l *Log) FindByPayment(batch *database.Batch, paymentID string) (*staking.Transaction, error) {
	return batch.TransactionByPayment(paymentID)
}

// ListByUser returns a user's transactions in chronological order.
func (l *Log) ListByUser(ctx context.Context, userID string) ([]*staking.Transaction, error) {
	var txns []*staking.Transaction
	err := l.view(ctx, func(batch *database.Batch) error {
		var err error
		txns, err = batch.UserTransactions(userID)
		return err
	})
	return txns, err
}

// List returns every transaction, grouped by user.
func (l *Log) List(ctx context.Context) ([]*staking.Transaction, error) {
	var txns []*staking.Transaction
	err := l.view(ctx, func(batch *database.Batch) error {
		return batch.ForEachTransaction(func(tx *staking.Transaction) error {
			txns = append(txns, tx)
			return nil
		})
	})
	return txns, err
}

// Get loads a transaction by ID.
func (l *Log) Get(ctx context.Context, id string) (*staking.Transaction, error) {
	var tx *staking.Transaction
	err := l.view(ctx, func(batch *database.Batch) error {
		var err error
		tx, err = batch.TransactionByID(id)
		return err
	})
	return tx, err
}

// Pending returns every pending transaction.
func (l *Log) Pending(ctx context.Context) ([]*staking.Transaction, error) {
	var txns []*staking.Transaction
	err := l.view(ctx, func(batch *database.Batch) error {
		return batch.ForEachTransaction(func(tx *staking.Transaction) error {
			if tx.Status == staking.TransactionStatusPending {
				txns = append(txns, tx)
			}
			return nil
		})
	})
	return txns, err
}

func (l *Log) view(ctx context.Context, fn func(*database.Batch) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return l.db.View(fn)
}
