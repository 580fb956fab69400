// Copyright 2025 The Accumulate Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

package ledger

import (
	"time"

	"github.com/shopspring/decimal"
	"gitlab.com/accumulatenetwork/staking-ledger/internal/database"
	"gitlab.com/accumulatenetwork/staking-ledger/pkg/errors"
	"gitlab.com/accumulatenetwork/staking-ledger/pkg/types/staking"
)

// Adjustment is a change to a user's balances.
type Adjustment struct {
	Type staking.TransactionType

	// Delta is added to the spendable balance.
	Delta decimal.Decimal

	// Amount is the amount recorded in the transaction. A stake adds it to
	// the staked amount, an unstake subtracts it, and a reward adds it to
	// the lifetime rewards.
	Amount decimal.Decimal

	StakeID   string
	PaymentID string

	// Status defaults to completed.
	Status staking.TransactionStatus
}

// Tx is a change to one user in progress. It is only valid within the
// function passed to [Ledger.Update].
type Tx struct {
	ledger *Ledger
	batch  *database.Batch
	user   *staking.User
	now    time.Time
	txns   []*staking.Transaction
	dirty  bool
}

// Batch returns the batch the change is written to.
func (t *Tx) Batch() *database.Batch { return t.batch }

// User returns a copy of the user as modified so far.
func (t *Tx) User() *staking.User { return t.user.Copy() }

// Now returns the time of the change.
func (t *Tx) Now() time.Time { return t.now }

// Transactions returns the transactions recorded so far.
func (t *Tx) Transactions() []*staking.Transaction { return t.txns }

func (t *Tx) changed() bool { return t.dirty || len(t.txns) > 0 }

// AdjustBalance applies the adjustment and records exactly one transaction.
// The balance can never become negative.
func (t *Tx) AdjustBalance(adj Adjustment) (*staking.Transaction, error) {
	if adj.Status == "" {
		adj.Status = staking.TransactionStatusCompleted
	}
	if adj.Amount.IsNegative() {
		return nil, errors.BadRequest.With("adjustment amount is negative")
	}
	if adj.Status != staking.TransactionStatusCompleted && !adj.Delta.IsZero() {
		return nil, errors.BadRequest.WithFormat("a %s transaction cannot change the balance", adj.Status)
	}

	u := t.user.Copy()
	u.Balance = u.Balance.Add(adj.Delta)
	if u.Balance.IsNegative() {
		return nil, errors.InsufficientBalance.WithFormat("insufficient balance: have %v, need %v", t.user.Balance, adj.Delta.Neg())
	}

	switch adj.Type {
	case staking.TransactionTypeStake:
		u.StakedAmount = u.StakedAmount.Add(adj.Amount)
	case staking.TransactionTypeUnstake:
		u.StakedAmount = u.StakedAmount.Sub(adj.Amount)
		if u.StakedAmount.IsNegative() {
			return nil, errors.InternalError.WithFormat("unstaking %v would make the staked amount of %s negative", adj.Amount, u.ID)
		}
	case staking.TransactionTypeReward:
		u.TotalRewards = u.TotalRewards.Add(adj.Amount)
	}

	tx := &staking.Transaction{
		UserID:    u.ID,
		Type:      adj.Type,
		Amount:    adj.Amount,
		Status:    adj.Status,
		StakeID:   adj.StakeID,
		PaymentID: adj.PaymentID,
	}
	err := t.ledger.log.Append(t.batch, tx)
	if err != nil {
		return nil, err
	}

	err = t.batch.PutUser(u)
	if err != nil {
		return nil, err
	}

	t.user = u
	t.txns = append(t.txns, tx)
	return tx.Copy(), nil
}

// finalizeDeposit moves a pending deposit to a terminal status, crediting the
// balance if it completed.
func (t *Tx) finalizeDeposit(tx *staking.Transaction, status staking.TransactionStatus) error {
	if tx.UserID != t.user.ID || tx.Type != staking.TransactionTypeDeposit {
		return errors.InternalError.WithFormat("transaction %s is not a deposit of %s", tx.ID, t.user.ID)
	}

	err := t.ledger.log.Finalize(t.batch, tx, status)
	if err != nil {
		return err
	}

	if status == staking.TransactionStatusCompleted {
		u := t.user.Copy()
		u.Balance = u.Balance.Add(tx.Amount)
		err = t.batch.PutUser(u)
		if err != nil {
			return err
		}
		t.user = u
	}

	t.dirty = true
	return nil
}
