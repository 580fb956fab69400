// Copyright 2025 The Accumulate Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gitlab.com/accumulatenetwork/staking-ledger/internal/core/ledger"
	"gitlab.com/accumulatenetwork/staking-ledger/internal/database"
	"gitlab.com/accumulatenetwork/staking-ledger/internal/events"
	"gitlab.com/accumulatenetwork/staking-ledger/internal/logging"
	"gitlab.com/accumulatenetwork/staking-ledger/pkg/errors"
	"gitlab.com/accumulatenetwork/staking-ledger/pkg/types/staking"
	"golang.org/x/sync/errgroup"
)

var now = time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

func setup(t *testing.T) *ledger.Ledger {
	logger := logging.NewTestLogger(t, "info")
	l, err := ledger.New(ledger.Options{
		Database: database.OpenInMemory(logger),
		Events:   events.NewBus(logger),
		Logger:   logger,
		Now:      func() time.Time { return now },
	})
	require.NoError(t, err)
	return l
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func requireDecimal(t testing.TB, expected string, actual decimal.Decimal) {
	t.Helper()
	require.Truef(t, dec(expected).Equal(actual), "expected %s, got %v", expected, actual)
}

func TestCreateUser(t *testing.T) {
	l := setup(t)
	ctx := context.Background()

	u, err := l.CreateUser(ctx, " Alice ", "alice@example.com")
	require.NoError(t, err)
	require.NotEmpty(t, u.ID)
	require.Equal(t, "Alice", u.Name)
	require.Equal(t, now, u.CreatedAt)
	requireDecimal(t, "0", u.Balance)
	requireDecimal(t, "0", u.StakedAmount)
	requireDecimal(t, "0", u.TotalRewards)

	v, err := l.GetUser(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, u.Email, v.Email)

	_, err = l.CreateUser(ctx, "Alice 2", "ALICE@example.com")
	require.ErrorIs(t, err, errors.Conflict)

	_, err = l.CreateUser(ctx, "Bob", "not-an-email")
	require.ErrorIs(t, err, errors.BadRequest)

	_, err = l.CreateUser(ctx, "", "bob@example.com")
	require.ErrorIs(t, err, errors.BadRequest)

	users, err := l.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)

	_, err = l.GetUser(ctx, "missing")
	require.ErrorIs(t, err, errors.NotFound)
}

func TestDeposit(t *testing.T) {
	l := setup(t)
	ctx := context.Background()
	u, err := l.CreateUser(ctx, "Alice", "alice@example.com")
	require.NoError(t, err)

	tx, err := l.Deposit(ctx, u.ID, dec("100"))
	require.NoError(t, err)
	require.Equal(t, staking.TransactionTypeDeposit, tx.Type)
	require.Equal(t, staking.TransactionStatusCompleted, tx.Status)
	requireDecimal(t, "100", tx.Amount)

	u, err = l.GetUser(ctx, u.ID)
	require.NoError(t, err)
	requireDecimal(t, "100", u.Balance)

	for _, amount := range []string{"-5", "0"} {
		_, err = l.Deposit(ctx, u.ID, dec(amount))
		require.ErrorIs(t, err, errors.BadRequest)
	}

	txns, err := l.Log().ListByUser(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, txns, 1)

	_, err = l.Deposit(ctx, "missing", dec("1"))
	require.ErrorIs(t, err, errors.NotFound)
}

func TestInsufficientBalance(t *testing.T) {
	l := setup(t)
	ctx := context.Background()
	u, err := l.CreateUser(ctx, "Alice", "alice@example.com")
	require.NoError(t, err)
	_, err = l.Deposit(ctx, u.ID, dec("10"))
	require.NoError(t, err)

	_, err = l.AdjustBalance(ctx, u.ID, ledger.Adjustment{
		Type:    staking.TransactionTypeStake,
		Delta:   dec("-10.01"),
		Amount:  dec("10.01"),
		StakeID: "s1",
	})
	require.ErrorIs(t, err, errors.InsufficientBalance)

	u, err = l.GetUser(ctx, u.ID)
	require.NoError(t, err)
	requireDecimal(t, "10", u.Balance)
	requireDecimal(t, "0", u.StakedAmount)

	txns, err := l.Log().ListByUser(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, txns, 1)
}

func TestUpdateIsAtomic(t *testing.T) {
	l := setup(t)
	ctx := context.Background()
	u, err := l.CreateUser(ctx, "Alice", "alice@example.com")
	require.NoError(t, err)
	_, err = l.Deposit(ctx, u.ID, dec("50"))
	require.NoError(t, err)

	// The first adjustment succeeds but the second fails, so neither is kept
	err = l.Update(ctx, u.ID, func(t *ledger.Tx) error {
		_, err := t.AdjustBalance(ledger.Adjustment{Type: staking.TransactionTypeStake, Delta: dec("-30"), Amount: dec("30"), StakeID: "s1"})
		if err != nil {
			return err
		}
		_, err = t.AdjustBalance(ledger.Adjustment{Type: staking.TransactionTypeStake, Delta: dec("-30"), Amount: dec("30"), StakeID: "s2"})
		return err
	})
	require.ErrorIs(t, err, errors.InsufficientBalance)

	u, err = l.GetUser(ctx, u.ID)
	require.NoError(t, err)
	requireDecimal(t, "50", u.Balance)
	requireDecimal(t, "0", u.StakedAmount)
}

func TestRewardAdjustment(t *testing.T) {
	l := setup(t)
	ctx := context.Background()
	u, err := l.CreateUser(ctx, "Alice", "alice@example.com")
	require.NoError(t, err)

	_, err = l.AdjustBalance(ctx, u.ID, ledger.Adjustment{Type: staking.TransactionTypeReward, Amount: dec("30"), StakeID: "s1"})
	require.NoError(t, err)

	u, err = l.GetUser(ctx, u.ID)
	require.NoError(t, err)
	requireDecimal(t, "0", u.Balance)
	requireDecimal(t, "30", u.TotalRewards)
}

func TestPendingDeposit(t *testing.T) {
	l := setup(t)
	ctx := context.Background()
	u, err := l.CreateUser(ctx, "Alice", "alice@example.com")
	require.NoError(t, err)

	tx, err := l.BeginDeposit(ctx, u.ID, dec("25"), "order-1")
	require.NoError(t, err)
	require.Equal(t, staking.TransactionStatusPending, tx.Status)

	_, err = l.BeginDeposit(ctx, u.ID, dec("25"), "order-1")
	require.ErrorIs(t, err, errors.Conflict)

	pending, err := l.ListPendingDeposits(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	u, err = l.GetUser(ctx, u.ID)
	require.NoError(t, err)
	requireDecimal(t, "0", u.Balance)

	// Finalizing twice credits once
	for i := 0; i < 2; i++ {
		tx, err = l.FinalizeDeposit(ctx, "order-1")
		require.NoError(t, err)
		require.Equal(t, staking.TransactionStatusCompleted, tx.Status)
	}

	u, err = l.GetUser(ctx, u.ID)
	require.NoError(t, err)
	requireDecimal(t, "25", u.Balance)

	_, err = l.FailDeposit(ctx, "order-1")
	require.ErrorIs(t, err, errors.Conflict)

	_, err = l.FinalizeDeposit(ctx, "order-2")
	require.ErrorIs(t, err, errors.NotFound)

	pending, err = l.ListPendingDeposits(ctx)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestFailedDeposit(t *testing.T) {
	l := setup(t)
	ctx := context.Background()
	u, err := l.CreateUser(ctx, "Alice", "alice@example.com")
	require.NoError(t, err)

	_, err = l.BeginDeposit(ctx, u.ID, dec("25"), "order-1")
	require.NoError(t, err)

	tx, err := l.FailDeposit(ctx, "order-1")
	require.NoError(t, err)
	require.Equal(t, staking.TransactionStatusFailed, tx.Status)

	_, err = l.FinalizeDeposit(ctx, "order-1")
	require.ErrorIs(t, err, errors.Conflict)

	u, err = l.GetUser(ctx, u.ID)
	require.NoError(t, err)
	requireDecimal(t, "0", u.Balance)
}

func TestConcurrentDeposits(t *testing.T) {
	l := setup(t)
	ctx := context.Background()
	u, err := l.CreateUser(ctx, "Alice", "alice@example.com")
	require.NoError(t, err)

	var g errgroup.Group
	for i := 0; i < 50; i++ {
		g.Go(func() error {
			_, err := l.Deposit(ctx, u.ID, dec("1.5"))
			return err
		})
	}
	require.NoError(t, g.Wait())

	u, err = l.GetUser(ctx, u.ID)
	require.NoError(t, err)
	requireDecimal(t, "75", u.Balance)

	txns, err := l.Log().ListByUser(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, txns, 50)
	for i, tx := range txns {
		require.Equal(t, uint64(i+1), tx.Seq)
	}
}

func TestEvents(t *testing.T) {
	logger := logging.NewTestLogger(t, "info")
	bus := events.NewBus(logger)
	l, err := ledger.New(ledger.Options{
		Database: database.OpenInMemory(logger),
		Events:   bus,
		Logger:   logger,
	})
	require.NoError(t, err)

	var updated []string
	events.SubscribeSync(bus, func(e events.DidUpdateUser) {
		updated = append(updated, e.UserID)
	})

	ctx := context.Background()
	u, err := l.CreateUser(ctx, "Alice", "alice@example.com")
	require.NoError(t, err)
	_, err = l.Deposit(ctx, u.ID, dec("1"))
	require.NoError(t, err)
	_, err = l.Deposit(ctx, u.ID, dec("-1"))
	require.Error(t, err)

	require.Equal(t, []string{u.ID}, updated)
}

func TestCanceledContext(t *testing.T) {
	l := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := l.CreateUser(ctx, "Alice", "alice@example.com")
	require.ErrorIs(t, err, context.Canceled)
}
