// Copyright 2025 The Accumulate Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

// Package ledger owns user balances. Every change to a balance goes through
// [Ledger.Update], which serializes the changes of one user and commits the
// balance together with the transaction that records it.
package ledger

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gitlab.com/accumulatenetwork/staking-ledger/internal/core/txlog"
	"gitlab.com/accumulatenetwork/staking-ledger/internal/database"
	"gitlab.com/accumulatenetwork/staking-ledger/internal/events"
	"gitlab.com/accumulatenetwork/staking-ledger/pkg/errors"
	"gitlab.com/accumulatenetwork/staking-ledger/pkg/types/staking"
)

var mTransactions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "staking",
	Subsystem: "ledger",
	Name:      "transactions_total",
	Help:      "Number of committed transactions by type and status",
}, []string{"type", "status"})

type Ledger struct {
	db       *database.Database
	log      *txlog.Log
	bus      *events.Bus
	logger   zerolog.Logger
	now      func() time.Time
	validate *validator.Validate
	locks    *keyedMutex
	register sync.Mutex
}

type Options struct {
	Database *database.Database
	Log      *txlog.Log
	Events   *events.Bus
	Logger   zerolog.Logger
	Now      func() time.Time
}

func New(opts Options) (*Ledger, error) {
	l := new(Ledger)
	l.db = opts.Database
	l.bus = opts.Events
	l.logger = opts.Logger.With().Str("module", "ledger").Logger()
	l.now = opts.Now
	if l.now == nil {
		l.now = func() time.Time { return time.Now().UTC() }
	}
	l.log = opts.Log
	if l.log == nil {
		l.log = txlog.New(txlog.Options{Database: l.db, Now: l.now})
	}
	l.locks = newKeyedMutex()

	var err error
	l.validate, err = staking.NewValidator()
	if err != nil {
		return nil, errors.UnknownError.WithFormat("validator: %w", err)
	}
	return l, nil
}

// Log returns the transaction log.
func (l *Ledger) Log() *txlog.Log { return l.log }

// Now returns the current time according to the ledger's clock.
func (l *Ledger) Now() time.Time { return l.now() }

type registration struct {
	Name  string `json:"name" validate:"required"`
	Email string `json:"email" validate:"required,email"`
}

// NormalizeEmail returns the form of an email used to detect duplicate
// registrations.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CreateUser registers a user with zero balances.
func (l *Ledger) CreateUser(ctx context.Context, name, email string) (*staking.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	reg := registration{Name: strings.TrimSpace(name), Email: strings.TrimSpace(email)}
	err := l.validate.Struct(&reg)
	if err != nil {
		return nil, staking.ValidationError(err)
	}

	// Registration is serialized so two requests cannot claim the same email
	l.register.Lock()
	defer l.register.Unlock()

	user := &staking.User{
		ID:           uuid.NewString(),
		Name:         reg.Name,
		Email:        reg.Email,
		Balance:      decimal.Zero,
		StakedAmount: decimal.Zero,
		TotalRewards: decimal.Zero,
		CreatedAt:    l.now(),
	}

	err = l.db.Update(func(batch *database.Batch) error {
		key := NormalizeEmail(reg.Email)
		_, err := batch.UserIDByEmail(key)
		switch {
		case err == nil:
			return errors.Conflict.WithFormat("email %s is already registered", reg.Email)
		case !errors.Is(err, errors.NotFound):
			return err
		}

		err = batch.PutEmail(key, user.ID)
		if err != nil {
			return err
		}
		return batch.PutUser(user)
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info().Str("user", user.ID).Msg("Registered user")
	l.bus.Publish(events.DidCreateUser{UserID: user.ID, Time: user.CreatedAt})
	return user, nil
}

// GetUser returns a snapshot of a user.
func (l *Ledger) GetUser(ctx context.Context, userID string) (*staking.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var user *staking.User
	err := l.db.View(func(batch *database.Batch) error {
		var err error
		user, err = batch.User(userID)
		return err
	})
	return user, err
}

// ListUsers returns every user, ordered by ID.
func (l *Ledger) ListUsers(ctx context.Context) ([]*staking.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var users []*staking.User
	err := l.db.View(func(batch *database.Batch) error {
		return batch.ForEachUser(func(u *staking.User) error {
			users = append(users, u)
			return nil
		})
	})
	return users, err
}

// Deposit credits a user's balance and records a completed deposit.
func (l *Ledger) Deposit(ctx context.Context, userID string, amount decimal.Decimal) (*staking.Transaction, error) {
	if err := staking.CheckAmount(amount); err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, errors.BadRequest.With("deposit amount must be greater than zero")
	}

	return l.AdjustBalance(ctx, userID, Adjustment{
		Type:   staking.TransactionTypeDeposit,
		Delta:  amount,
		Amount: amount,
	})
}

// AdjustBalance applies a single adjustment in its own batch.
func (l *Ledger) AdjustBalance(ctx context.Context, userID string, adj Adjustment) (*staking.Transaction, error) {
	var tx *staking.Transaction
	err := l.Update(ctx, userID, func(t *Tx) error {
		var err error
		tx, err = t.AdjustBalance(adj)
		return err
	})
	return tx, err
}

// Update runs the function while holding the user's lock. Everything the
// function writes to the batch is committed together, or not at all if the
// function fails.
func (l *Ledger) Update(ctx context.Context, userID string, fn func(*Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t, err := l.update(userID, fn)
	if err != nil {
		return err
	}

	if !t.changed() {
		return nil
	}

	for _, tx := range t.txns {
		mTransactions.WithLabelValues(string(tx.Type), string(tx.Status)).Inc()
	}
	l.bus.Publish(events.DidUpdateUser{UserID: userID, Time: t.now})
	return nil
}

func (l *Ledger) update(userID string, fn func(*Tx) error) (*Tx, error) {
	unlock := l.locks.Lock(userID)
	defer unlock()

	batch := l.db.Begin(true)
	defer batch.Discard()

	user, err := batch.User(userID)
	if err != nil {
		return nil, err
	}

	t := &Tx{ledger: l, batch: batch, user: user, now: l.now()}
	err = fn(t)
	if err != nil {
		return nil, err
	}

	err = batch.Commit()
	if err != nil {
		l.logger.Error().Err(err).Str("user", userID).Msg("Commit failed")
		return nil, err
	}
	return t, nil
}
