// Copyright 2025 The Accumulate Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

package accrual_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gitlab.com/accumulatenetwork/staking-ledger/internal/core/accrual"
	"gitlab.com/accumulatenetwork/staking-ledger/internal/core/ledger"
	"gitlab.com/accumulatenetwork/staking-ledger/internal/core/stakes"
	"gitlab.com/accumulatenetwork/staking-ledger/internal/database"
	"gitlab.com/accumulatenetwork/staking-ledger/internal/events"
	"gitlab.com/accumulatenetwork/staking-ledger/internal/logging"
	"gitlab.com/accumulatenetwork/staking-ledger/pkg/errors"
	"gitlab.com/accumulatenetwork/staking-ledger/pkg/types/staking"
)

type Sim struct {
	Time      time.Time
	DB        *database.Database
	Bus       *events.Bus
	Ledger    *ledger.Ledger
	Stakes    *stakes.Manager
	Scheduler *accrual.Scheduler
}

func setup(t *testing.T) *Sim {
	sim := new(Sim)
	sim.Time = time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

	logger := logging.NewTestLogger(t, "info")
	sim.DB = database.OpenInMemory(logger)
	sim.Bus = events.NewBus(logger)

	var err error
	sim.Ledger, err = ledger.New(ledger.Options{
		Database: sim.DB,
		Events:   sim.Bus,
		Logger:   logger,
		Now:      func() time.Time { return sim.Time },
	})
	require.NoError(t, err)

	sim.Stakes = stakes.New(stakes.Options{Database: sim.DB, Ledger: sim.Ledger, Logger: logger})

	sim.Scheduler, err = accrual.New(accrual.Options{
		Ledger:   sim.Ledger,
		Stakes:   sim.Stakes,
		Events:   sim.Bus,
		Logger:   logger,
		Schedule: "@every 5m",
	})
	require.NoError(t, err)
	return sim
}

func (s *Sim) stake(t *testing.T, email, amount string) (*staking.User, *staking.Stake) {
	ctx := context.Background()
	u, err := s.Ledger.CreateUser(ctx, "User", email)
	require.NoError(t, err)
	_, err = s.Ledger.Deposit(ctx, u.ID, dec(amount))
	require.NoError(t, err)
	st, err := s.Stakes.CreateStake(ctx, u.ID, dec(amount))
	require.NoError(t, err)
	return u, st
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func requireDecimal(t testing.TB, expected string, actual decimal.Decimal) {
	t.Helper()
	require.Truef(t, dec(expected).Equal(actual), "expected %s, got %v", expected, actual)
}

func TestNotDue(t *testing.T) {
	sim := setup(t)
	sim.stake(t, "a@example.com", "100")

	sim.Time = sim.Time.Add(24*time.Hour - time.Second)
	r, err := sim.Scheduler.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, r.Processed)
	require.Equal(t, 1, r.Skipped)
	require.Equal(t, 0, r.Accrued)
}

func TestSweep(t *testing.T) {
	sim := setup(t)
	ctx := context.Background()
	u, s := sim.stake(t, "a@example.com", "100")

	var sweeps []events.DidSweep
	events.SubscribeSync(sim.Bus, func(e events.DidSweep) { sweeps = append(sweeps, e) })

	sim.Time = sim.Time.Add(2*24*time.Hour + 5*time.Hour)
	r, err := sim.Scheduler.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, r.Accrued)
	requireDecimal(t, "60", r.Total)
	require.Len(t, sweeps, 1)
	require.Equal(t, 1, sweeps[0].Accrued)

	s, err = sim.Stakes.GetStake(ctx, s.ID)
	require.NoError(t, err)
	requireDecimal(t, "60", s.TotalEarned)

	// Advanced by whole periods, not reset to now
	require.Equal(t, s.StartDate.Add(48*time.Hour), s.LastAccrualTime)

	u, err = sim.Ledger.GetUser(ctx, u.ID)
	require.NoError(t, err)
	requireDecimal(t, "60", u.TotalRewards)
	requireDecimal(t, "0", u.Balance)

	txns, err := sim.Ledger.Log().ListByUser(ctx, u.ID)
	require.NoError(t, err)
	last := txns[len(txns)-1]
	require.Equal(t, staking.TransactionTypeReward, last.Type)
	require.Equal(t, staking.TransactionStatusCompleted, last.Status)
	require.Equal(t, s.ID, last.StakeID)
	requireDecimal(t, "60", last.Amount)
}

func TestSweepIsIdempotent(t *testing.T) {
	sim := setup(t)
	ctx := context.Background()
	u, _ := sim.stake(t, "a@example.com", "100")

	sim.Time = sim.Time.Add(30 * time.Hour)
	r, err := sim.Scheduler.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, r.Accrued)

	r, err = sim.Scheduler.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, r.Accrued)
	require.Equal(t, 1, r.Skipped)

	u, err = sim.Ledger.GetUser(ctx, u.ID)
	require.NoError(t, err)
	requireDecimal(t, "30", u.TotalRewards)

	// The remaining 6 hours carry over to the next period
	sim.Time = sim.Time.Add(18 * time.Hour)
	r, err = sim.Scheduler.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, r.Accrued)

	u, err = sim.Ledger.GetUser(ctx, u.ID)
	require.NoError(t, err)
	requireDecimal(t, "60", u.TotalRewards)
}

func TestSweepIsDeterministic(t *testing.T) {
	// Sweeping daily and sweeping once after a week credit the same total
	run := func(step time.Duration) decimal.Decimal {
		sim := setup(t)
		u, _ := sim.stake(t, "a@example.com", "250.5")
		end := sim.Time.Add(7*24*time.Hour + time.Minute)
		for sim.Time.Before(end) {
			sim.Time = sim.Time.Add(step)
			if sim.Time.After(end) {
				sim.Time = end
			}
			_, err := sim.Scheduler.Sweep(context.Background())
			require.NoError(t, err)
		}
		u, err := sim.Ledger.GetUser(context.Background(), u.ID)
		require.NoError(t, err)
		return u.TotalRewards
	}

	a := run(24 * time.Hour)
	b := run(7 * 24 * time.Hour)
	c := run(5 * time.Hour)
	requireDecimal(t, "526.05", a)
	requireDecimal(t, a.String(), b)
	requireDecimal(t, a.String(), c)
}

func TestClosedStakeIsSkipped(t *testing.T) {
	sim := setup(t)
	ctx := context.Background()
	u, s := sim.stake(t, "a@example.com", "100")

	sim.Time = sim.Time.Add(72 * time.Hour)
	_, err := sim.Stakes.CloseStake(ctx, s.ID)
	require.NoError(t, err)

	r, err := sim.Scheduler.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, r.Processed)

	u, err = sim.Ledger.GetUser(ctx, u.ID)
	require.NoError(t, err)
	requireDecimal(t, "0", u.TotalRewards)
	requireDecimal(t, "100", u.Balance)
}

func TestFailureIsIsolated(t *testing.T) {
	sim := setup(t)
	ctx := context.Background()
	u, _ := sim.stake(t, "a@example.com", "100")

	// A stake whose owner does not exist cannot be accrued
	require.NoError(t, sim.DB.Update(func(batch *database.Batch) error {
		return batch.AddStake(&staking.Stake{
			ID:              "orphan",
			UserID:          "ghost",
			Amount:          dec("10"),
			DailyRate:       staking.DailyRate,
			StartDate:       sim.Time,
			IsActive:        true,
			LastAccrualTime: sim.Time,
		})
	}))

	sim.Time = sim.Time.Add(25 * time.Hour)
	r, err := sim.Scheduler.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, r.Processed)
	require.Equal(t, 1, r.Accrued)
	require.Equal(t, 1, r.Failed)

	u, err = sim.Ledger.GetUser(ctx, u.ID)
	require.NoError(t, err)
	requireDecimal(t, "30", u.TotalRewards)

	orphan, err := sim.Stakes.GetStake(ctx, "orphan")
	require.NoError(t, err)
	requireDecimal(t, "0", orphan.TotalEarned)
}

func TestCanceledSweep(t *testing.T) {
	sim := setup(t)
	sim.stake(t, "a@example.com", "100")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := sim.Scheduler.Sweep(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestBadSchedule(t *testing.T) {
	_, err := accrual.New(accrual.Options{
		Logger:   logging.NewTestLogger(t, "info"),
		Schedule: "every five minutes",
	})
	require.ErrorIs(t, err, errors.BadRequest)
}

func TestStartStop(t *testing.T) {
	sim := setup(t)
	require.NoError(t, sim.Scheduler.AddJob("noop", "@every 1h", func(context.Context) error { return nil }))
	require.ErrorIs(t, sim.Scheduler.AddJob("bad", "nope", nil), errors.BadRequest)

	sim.Scheduler.Start()
	sim.Scheduler.Start()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, sim.Scheduler.Stop(ctx))
	require.NoError(t, sim.Scheduler.Stop(ctx))
}
