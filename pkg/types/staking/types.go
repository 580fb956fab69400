// Copyright 2025 The Accumulate Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

// Package staking defines the records of the staking ledger.
package staking

import (
	"time"

	"github.com/shopspring/decimal"
)

// DailyRate is the share of a stake's principal paid as reward for each full
// accrual period.
var DailyRate = decimal.RequireFromString("0.30")

// AccrualPeriod is the length of one accrual period.
const AccrualPeriod = 24 * time.Hour

// DateFormat is the layout of calendar-day keys. Days are UTC.
const DateFormat = "2006-01-02"

// TransactionType is the kind of balance-affecting event.
type TransactionType string

const (
	TransactionTypeDeposit TransactionType = "deposit"
	TransactionTypeStake   TransactionType = "stake"
	TransactionTypeUnstake TransactionType = "unstake"
	TransactionTypeReward  TransactionType = "reward"
)

// Valid returns true if the type is known.
func (t TransactionType) Valid() bool {
	switch t {
	case TransactionTypeDeposit,
		TransactionTypeStake,
		TransactionTypeUnstake,
		TransactionTypeReward:
		return true
	}
	return false
}

// TransactionStatus is the status of a transaction.
type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusFailed    TransactionStatus = "failed"
)

// Valid returns true if the status is known.
func (s TransactionStatus) Valid() bool {
	switch s {
	case TransactionStatusPending,
		TransactionStatusCompleted,
		TransactionStatusFailed:
		return true
	}
	return false
}

// Terminal returns true if a transaction with this status can never change.
func (s TransactionStatus) Terminal() bool {
	return s == TransactionStatusCompleted || s == TransactionStatusFailed
}

// User is an account holder.
type User struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Email        string          `json:"email"`
	Balance      decimal.Decimal `json:"balance"`
	StakedAmount decimal.Decimal `json:"staked_amount"`
	TotalRewards decimal.Decimal `json:"total_rewards"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Copy returns a copy of the user.
func (u *User) Copy() *User {
	v := *u
	return &v
}

// Stake is a position committing principal to earn rewards.
type Stake struct {
	ID              string          `json:"id"`
	UserID          string          `json:"user_id"`
	Amount          decimal.Decimal `json:"amount"`
	DailyRate       decimal.Decimal `json:"daily_rate"`
	StartDate       time.Time       `json:"start_date"`
	IsActive        bool            `json:"is_active"`
	TotalEarned     decimal.Decimal `json:"total_earned"`
	LastAccrualTime time.Time       `json:"last_accrual_time"`
	ClosedDate      *time.Time      `json:"closed_date,omitempty"`
}

// Copy returns a copy of the stake.
func (s *Stake) Copy() *Stake {
	v := *s
	if s.ClosedDate != nil {
		t := *s.ClosedDate
		v.ClosedDate = &t
	}
	return &v
}

// Payout is the amount returned to the balance when the stake is closed.
func (s *Stake) Payout() decimal.Decimal {
	return s.Amount.Add(s.TotalEarned)
}

// ElapsedPeriods returns the number of full accrual periods between the last
// accrual and now.
func (s *Stake) ElapsedPeriods(now time.Time) int64 {
	d := now.Sub(s.LastAccrualTime)
	if d < AccrualPeriod {
		return 0
	}
	return int64(d / AccrualPeriod)
}

// RewardFor returns the reward owed for the given number of periods.
func (s *Stake) RewardFor(periods int64) decimal.Decimal {
	return s.Amount.Mul(DailyRate).Mul(decimal.NewFromInt(periods))
}

// Transaction is an entry in a user's transaction log.
type Transaction struct {
	ID        string            `json:"id"`
	UserID    string            `json:"user_id"`
	Type      TransactionType   `json:"type"`
	Amount    decimal.Decimal   `json:"amount"`
	Status    TransactionStatus `json:"status"`
	CreatedAt time.Time         `json:"created_at"`
	StakeID   string            `json:"stake_id,omitempty"`
	PaymentID string            `json:"payment_id,omitempty"`
	Seq       uint64            `json:"seq"`
}

// Copy returns a copy of the transaction.
func (t *Transaction) Copy() *Transaction {
	v := *t
	return &v
}

// Day returns the UTC calendar day of the transaction.
func (t *Transaction) Day() string {
	return t.CreatedAt.UTC().Format(DateFormat)
}
