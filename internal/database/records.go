// Copyright 2025 The Accumulate Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

package database

import (
	"encoding/json"

	"gitlab.com/accumulatenetwork/staking-ledger/pkg/errors"
	"gitlab.com/accumulatenetwork/staking-ledger/pkg/types/record"
	"gitlab.com/accumulatenetwork/staking-ledger/pkg/types/staking"
)

// Sequence names
const (
	TransactionSequence = "tx"
	StakeSequence       = "stake"
)

func userKey(id string) *record.Key { return record.NewKey("User", id) }
func emailKey(email string) *record.Key { return record.NewKey("Email", email) }
func sequenceKey(id, name string) *record.Key { return record.NewKey("Sequence", id, name) }
func stakeKey(id string) *record.Key { return record.NewKey("Stake", id) }
func txIDKey(id string) *record.Key { return record.NewKey("TxID", id) }
func paymentKey(id string) *record.Key { return record.NewKey("Payment", id) }
func gatewayKey(id string) *record.Key { return record.NewKey("GatewayPayment", id) }

func userStakeKey(userID string, seq uint64) *record.Key {
	return record.NewKey("UserStake", userID, seq)
}

func activeKey(userID, stakeID string) *record.Key {
	return record.NewKey("Active", userID, stakeID)
}

func txKey(userID string, seq uint64) *record.Key {
	return record.NewKey("Tx", userID, seq)
}

// txRef locates a transaction in its user's log.
type txRef struct {
	UserID string `json:"user_id"`
	Seq    uint64 `json:"seq"`
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, errors.NotFound) {
		return errors.NotFound.WithFormat(format, args...)
	}
	return err
}

// NextSequence increments and returns the named counter of a user. Counters
// start at 1.
func (b *Batch) NextSequence(userID, name string) (uint64, error) {
	var seq uint64
	err := b.getValue(sequenceKey(userID, name), &seq)
	if err != nil && !errors.Is(err, errors.NotFound) {
		return 0, err
	}

	seq++
	err = b.putValue(sequenceKey(userID, name), seq)
	if err != nil {
		return 0, err
	}
	return seq, nil
}

// User loads a user.
func (b *Batch) User(id string) (*staking.User, error) {
	u := new(staking.User)
	err := b.getValue(userKey(id), u)
	if err != nil {
		return nil, notFound(err, "user %s not found", id)
	}
	return u, nil
}

// PutUser stores a user.
func (b *Batch) PutUser(u *staking.User) error {
	if u.ID == "" {
		return errors.InternalError.With("user has no ID")
	}
	return b.putValue(userKey(u.ID), u)
}

// ForEachUser calls the function for every user, ordered by ID.
func (b *Batch) ForEachUser(fn func(*staking.User) error) error {
	return b.forEach(record.NewKey("User"), func(key *record.Key, data []byte) error {
		u := new(staking.User)
		if err := json.Unmarshal(data, u); err != nil {
			return errors.InternalError.WithFormat("decode %v: %w", key, err)
		}
		return fn(u)
	})
}

// UserIDByEmail returns the ID of the user registered with the email.
func (b *Batch) UserIDByEmail(email string) (string, error) {
	var id string
	err := b.getValue(emailKey(email), &id)
	if err != nil {
		return "", notFound(err, "email %s is not registered", email)
	}
	return id, nil
}

// PutEmail registers an email with a user.
func (b *Batch) PutEmail(email, userID string) error {
	return b.putValue(emailKey(email), userID)
}

// Stake loads a stake.
func (b *Batch) Stake(id string) (*staking.Stake, error) {
	s := new(staking.Stake)
	err := b.getValue(stakeKey(id), s)
	if err != nil {
		return nil, notFound(err, "stake %s not found", id)
	}
	return s, nil
}

// AddStake stores a new stake and adds it to its user's stake list.
func (b *Batch) AddStake(s *staking.Stake) error {
	seq, err := b.NextSequence(s.UserID, StakeSequence)
	if err != nil {
		return err
	}

	err = b.putValue(userStakeKey(s.UserID, seq), s.ID)
	if err != nil {
		return err
	}

	return b.PutStake(s)
}

// PutStake stores a stake and updates the active stake index.
func (b *Batch) PutStake(s *staking.Stake) error {
	if s.ID == "" || s.UserID == "" {
		return errors.InternalError.With("stake has no ID or user ID")
	}

	err := b.putValue(stakeKey(s.ID), s)
	if err != nil {
		return err
	}

	if s.IsActive {
		return b.putValue(activeKey(s.UserID, s.ID), s.ID)
	}
	return b.deleteValue(activeKey(s.UserID, s.ID))
}

// UserStakes returns a user's stakes in creation order.
func (b *Batch) UserStakes(userID string) ([]*staking.Stake, error) {
	return b.stakesFromIndex(record.NewKey("UserStake", userID))
}

// ActiveStakes returns a user's active stakes.
func (b *Batch) ActiveStakes(userID string) ([]*staking.Stake, error) {
	return b.stakesFromIndex(record.NewKey("Active", userID))
}

// AllActiveStakes returns every active stake, grouped by user.
func (b *Batch) AllActiveStakes() ([]*staking.Stake, error) {
	return b.stakesFromIndex(record.NewKey("Active"))
}

func (b *Batch) stakesFromIndex(prefix *record.Key) ([]*staking.Stake, error) {
	var ids []string
	err := b.forEach(prefix, func(key *record.Key, data []byte) error {
		var id string
		if err := json.Unmarshal(data, &id); err != nil {
			return errors.InternalError.WithFormat("decode %v: %w", key, err)
		}
		ids = append(ids, id)
		return nil
	})
	if err != nil {
		return nil, err
	}

	stakes := make([]*staking.Stake, 0, len(ids))
	for _, id := range ids {
		s, err := b.Stake(id)
		if err != nil {
			return nil, errors.InternalError.WithFormat("index %v refers to a missing stake: %w", prefix, err)
		}
		stakes = append(stakes, s)
	}
	return stakes, nil
}

// ForEachStake calls the function for every stake, ordered by ID.
func (b *Batch) ForEachStake(fn func(*staking.Stake) error) error {
	return b.forEach(record.NewKey("Stake"), func(key *record.Key, data []byte) error {
		s := new(staking.Stake)
		if err := json.Unmarshal(data, s); err != nil {
			return errors.InternalError.WithFormat("decode %v: %w", key, err)
		}
		return fn(s)
	})
}

// PutTransaction stores a transaction and its ID and payment indices. The
// transaction must have been assigned an ID and sequence number.
func (b *Batch) PutTransaction(tx *staking.Transaction) error {
	if tx.ID == "" || tx.UserID == "" || tx.Seq == 0 {
		return errors.InternalError.With("transaction has no ID, user ID, or sequence number")
	}

	err := b.putValue(txKey(tx.UserID, tx.Seq), tx)
	if err != nil {
		return err
	}

	ref := txRef{UserID: tx.UserID, Seq: tx.Seq}
	err = b.putValue(txIDKey(tx.ID), ref)
	if err != nil {
		return err
	}

	if tx.PaymentID == "" {
		return nil
	}
	return b.putValue(paymentKey(tx.PaymentID), ref)
}

// Transaction loads a transaction by its position in the user's log.
func (b *Batch) Transaction(userID string, seq uint64) (*staking.Transaction, error) {
	tx := new(staking.Transaction)
	err := b.getValue(txKey(userID, seq), tx)
	if err != nil {
		return nil, notFound(err, "transaction %d of user %s not found", seq, userID)
	}
	return tx, nil
}

// TransactionByID loads a transaction by ID.
func (b *Batch) TransactionByID(id string) (*staking.Transaction, error) {
	var ref txRef
	err := b.getValue(txIDKey(id), &ref)
	if err != nil {
		return nil, notFound(err, "transaction %s not found", id)
	}
	return b.Transaction(ref.UserID, ref.Seq)
}

// TransactionByPayment loads the deposit created for a payment. The ID may be
// the payment reference or the processor's ID linked to it.
func (b *Batch) TransactionByPayment(paymentID string) (*staking.Transaction, error) {
	var ref txRef
	err := b.getValue(paymentKey(paymentID), &ref)
	if errors.Is(err, errors.NotFound) {
		err = b.getValue(gatewayKey(paymentID), &ref)
	}
	if err != nil {
		return nil, notFound(err, "payment %s not found", paymentID)
	}
	return b.Transaction(ref.UserID, ref.Seq)
}

// PutGatewayPayment links the processor's ID for a payment to the deposit
// recorded under the payment reference.
func (b *Batch) PutGatewayPayment(gatewayID, paymentID string) error {
	var ref txRef
	err := b.getValue(paymentKey(paymentID), &ref)
	if err != nil {
		return notFound(err, "payment %s not found", paymentID)
	}
	return b.putValue(gatewayKey(gatewayID), ref)
}

// UserTransactions returns a user's transactions in log order.
func (b *Batch) UserTransactions(userID string) ([]*staking.Transaction, error) {
	var txns []*staking.Transaction
	err := b.forEachTransaction(record.NewKey("Tx", userID), func(tx *staking.Transaction) error {
		txns = append(txns, tx)
		return nil
	})
	return txns, err
}

// ForEachTransaction calls the function for every transaction, grouped by
// user and in log order within each user.
func (b *Batch) ForEachTransaction(fn func(*staking.Transaction) error) error {
	return b.forEachTransaction(record.NewKey("Tx"), fn)
}

func (b *Batch) forEachTransaction(prefix *record.Key, fn func(*staking.Transaction) error) error {
	return b.forEach(prefix, func(key *record.Key, data []byte) error {
		tx := new(staking.Transaction)
		if err := json.Unmarshal(data, tx); err != nil {
			return errors.InternalError.WithFormat("decode %v: %w", key, err)
		}
		return fn(tx)
	})
}
