// Copyright 2025 The Accumulate Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

// Package stakes opens and closes stakes. Every change to a stake is
// committed in the same batch as the balance change and transaction that go
// with it.
package stakes

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gitlab.com/accumulatenetwork/staking-ledger/internal/core/ledger"
	"gitlab.com/accumulatenetwork/staking-ledger/internal/database"
	"gitlab.com/accumulatenetwork/staking-ledger/pkg/errors"
	"gitlab.com/accumulatenetwork/staking-ledger/pkg/types/staking"
)

type Manager struct {
	db            *database.Database
	ledger        *ledger.Ledger
	logger        zerolog.Logger
	settleOnClose bool
}

type Options struct {
	Database *database.Database
	Ledger   *ledger.Ledger
	Logger   zerolog.Logger

	// SettleOnClose accrues the full periods that have not been swept yet
	// when a stake is closed.
	SettleOnClose bool
}

func New(opts Options) *Manager {
	m := new(Manager)
	m.db = opts.Database
	m.ledger = opts.Ledger
	m.logger = opts.Logger.With().Str("module", "stakes").Logger()
	m.settleOnClose = opts.SettleOnClose
	return m
}

// CreateStake moves the amount from the user's balance into a new stake.
func (m *Manager) CreateStake(ctx context.Context, userID string, amount decimal.Decimal) (*staking.Stake, error) {
	if err := staking.CheckAmount(amount); err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, errors.BadRequest.With("stake amount must be greater than zero")
	}

	var stake *staking.Stake
	err := m.ledger.Update(ctx, userID, func(t *ledger.Tx) error {
		s := &staking.Stake{
			ID:              uuid.NewString(),
			UserID:          userID,
			Amount:          amount,
			DailyRate:       staking.DailyRate,
			StartDate:       t.Now(),
			IsActive:        true,
			TotalEarned:     decimal.Zero,
			LastAccrualTime: t.Now(),
		}

		_, err := t.AdjustBalance(ledger.Adjustment{
			Type:    staking.TransactionTypeStake,
			Delta:   amount.Neg(),
			Amount:  amount,
			StakeID: s.ID,
		})
		if err != nil {
			return err
		}

		err = t.Batch().AddStake(s)
		if err != nil {
			return err
		}
		stake = s
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.logger.Debug().Str("user", userID).Str("stake", stake.ID).Str("amount", amount.String()).Msg("Created stake")
	return stake, nil
}

// CloseStake pays the principal and everything the stake has earned back to
// the owner's balance. A closed stake never changes again.
func (m *Manager) CloseStake(ctx context.Context, stakeID string) (*staking.Stake, error) {
	s, err := m.GetStake(ctx, stakeID)
	if err != nil {
		return nil, err
	}

	var stake *staking.Stake
	err = m.ledger.Update(ctx, s.UserID, func(t *ledger.Tx) error {
		// Reload within the lock, accrual may have run since
		s, err := t.Batch().Stake(stakeID)
		if err != nil {
			return err
		}
		if !s.IsActive {
			return errors.AlreadyClosed.WithFormat("stake %s is already closed", stakeID)
		}

		if m.settleOnClose {
			_, err = Accrue(t, s)
			if err != nil {
				return err
			}
		}

		_, err = t.AdjustBalance(ledger.Adjustment{
			Type:    staking.TransactionTypeUnstake,
			Delta:   s.Payout(),
			Amount:  s.Amount,
			StakeID: s.ID,
		})
		if err != nil {
			return err
		}

		now := t.Now()
		s.IsActive = false
		s.ClosedDate = &now
		err = t.Batch().PutStake(s)
		if err != nil {
			return err
		}
		stake = s
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.logger.Debug().Str("user", stake.UserID).Str("stake", stake.ID).Str("payout", stake.Payout().String()).Msg("Closed stake")
	return stake, nil
}

// Accrue credits the rewards for every full period since the stake's last
// accrual. It returns the reward, which is zero if no full period has passed
// or the stake is closed. The stake is updated in place and written to the
// batch.
func Accrue(t *ledger.Tx, s *staking.Stake) (decimal.Decimal, error) {
	if !s.IsActive {
		return decimal.Zero, nil
	}

	periods := s.ElapsedPeriods(t.Now())
	if periods < 1 {
		return decimal.Zero, nil
	}

	reward := s.RewardFor(periods)
	_, err := t.AdjustBalance(ledger.Adjustment{
		Type:    staking.TransactionTypeReward,
		Amount:  reward,
		StakeID: s.ID,
	})
	if err != nil {
		return decimal.Zero, err
	}

	s.TotalEarned = s.TotalEarned.Add(reward)
	s.LastAccrualTime = s.LastAccrualTime.Add(time.Duration(periods) * staking.AccrualPeriod)
	err = t.Batch().PutStake(s)
	if err != nil {
		return decimal.Zero, err
	}
	return reward, nil
}

// GetStake loads a stake.
func (m *Manager) GetStake(ctx context.Context, stakeID string) (*staking.Stake, error) {
	var s *staking.Stake
	err := m.view(ctx, func(batch *database.Batch) error {
		var err error
		s, err = batch.Stake(stakeID)
		return err
	})
	return s, err
}

// ListStakes returns a user's stakes in the order they were created.
func (m *Manager) ListStakes(ctx context.Context, userID string) ([]*staking.Stake, error) {
	var stakes []*staking.Stake
	err := m.view(ctx, func(batch *database.Batch) error {
		_, err := batch.User(userID)
		if err != nil {
			return err
		}
		stakes, err = batch.UserStakes(userID)
		return err
	})
	return stakes, err
}

// ListActiveStakes returns a user's active stakes in the order they were
// created.
func (m *Manager) ListActiveStakes(ctx context.Context, userID string) ([]*staking.Stake, error) {
	stakes, err := m.ListStakes(ctx, userID)
	if err != nil {
		return nil, err
	}

	active := stakes[:0]
	for _, s := range stakes {
		if s.IsActive {
			active = append(active, s)
		}
	}
	return active, nil
}

// ListAllActive returns every active stake.
func (m *Manager) ListAllActive(ctx context.Context) ([]*staking.Stake, error) {
	var stakes []*staking.Stake
	err := m.view(ctx, func(batch *database.Batch) error {
		var err error
		stakes, err = batch.AllActiveStakes()
		return err
	})
	return stakes, err
}

func (m *Manager) view(ctx context.Context, fn func(*database.Batch) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.db.View(fn)
}
