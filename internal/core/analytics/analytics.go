// Copyright 2025 The Accumulate Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

// Package analytics derives reports from the ledger. Reports are computed
// from the current state of the database and never modify it.
package analytics

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gitlab.com/accumulatenetwork/staking-ledger/internal/database"
	"gitlab.com/accumulatenetwork/staking-ledger/internal/events"
	"gitlab.com/accumulatenetwork/staking-ledger/pkg/types/staking"
	"golang.org/x/exp/slices"
)

const platformKey = "\x00platform"

const recentWindow = 7 * 24 * time.Hour

var (
	hundred     = decimal.NewFromInt(100)
	daysPerWeek = decimal.NewFromInt(7)
	daysPerMon  = decimal.NewFromInt(30)
	daysPerYear = decimal.NewFromInt(365)
)

type Aggregator struct {
	db          *database.Database
	logger      zerolog.Logger
	now         func() time.Time
	dailyWindow int
	cache       *expirable.LRU[string, any]

	// generation counts invalidations per key. A report is only cached if
	// its key was not invalidated while it was built.
	mu         sync.Mutex
	generation map[string]uint64
}

type Options struct {
	Database *database.Database
	Events   *events.Bus
	Logger   zerolog.Logger
	Now      func() time.Time

	// CacheTTL is how long a report is reused. Zero disables caching, as
	// does a nil event bus.
	CacheTTL time.Duration

	// CacheSize is the maximum number of cached reports.
	CacheSize int

	// DailyWindow is the number of days in the platform's daily stats.
	DailyWindow int
}

func New(opts Options) *Aggregator {
	a := new(Aggregator)
	a.db = opts.Database
	a.logger = opts.Logger.With().Str("module", "analytics").Logger()
	a.now = opts.Now
	if a.now == nil {
		a.now = func() time.Time { return time.Now().UTC() }
	}
	a.dailyWindow = opts.DailyWindow
	if a.dailyWindow <= 0 {
		a.dailyWindow = 30
	}

	// Without events the cache cannot be invalidated
	if opts.CacheTTL > 0 && opts.Events != nil {
		size := opts.CacheSize
		if size <= 0 {
			size = 1024
		}
		a.cache = expirable.NewLRU[string, any](size, nil, opts.CacheTTL)
		a.generation = map[string]uint64{}
		events.SubscribeSync(opts.Events, a.didUpdateUser)
		events.SubscribeSync(opts.Events, a.didCreateUser)
	}
	return a
}

func (a *Aggregator) didUpdateUser(e events.DidUpdateUser) {
	a.invalidate(e.UserID, platformKey)
}

func (a *Aggregator) didCreateUser(events.DidCreateUser) {
	a.invalidate(platformKey)
}

func (a *Aggregator) invalidate(keys ...string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, key := range keys {
		a.generation[key]++
		a.cache.Remove(key)
	}
}

func cached[T any](a *Aggregator, key string, fn func() (*T, error)) (*T, error) {
	if a.cache == nil {
		return fn()
	}

	if v, ok := a.cache.Get(key); ok {
		return v.(*T), nil
	}

	a.mu.Lock()
	gen := a.generation[key]
	a.mu.Unlock()

	v, err := fn()
	if err != nil {
		return nil, err
	}

	// A report built across an invalidation may be stale
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.generation[key] == gen {
		a.cache.Add(key, v)
	}
	return v, nil
}

func (a *Aggregator) view(ctx context.Context, fn func(*database.Batch) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.db.View(fn)
}

// UserAnalytics builds the report of one user.
func (a *Aggregator) UserAnalytics(ctx context.Context, userID string) (*staking.UserAnalytics, error) {
	return cached(a, userID, func() (*staking.UserAnalytics, error) {
		var user *staking.User
		var stakes []*staking.Stake
		var txns []*staking.Transaction
		err := a.view(ctx, func(batch *database.Batch) error {
			var err error
			user, err = batch.User(userID)
			if err != nil {
				return err
			}
			stakes, err = batch.UserStakes(userID)
			if err != nil {
				return err
			}
			txns, err = batch.UserTransactions(userID)
			return err
		})
		if err != nil {
			return nil, err
		}
		return buildUserAnalytics(a.now(), user, stakes, txns), nil
	})
}

func buildUserAnalytics(now time.Time, user *staking.User, stakes []*staking.Stake, txns []*staking.Transaction) *staking.UserAnalytics {
	r := new(staking.UserAnalytics)

	invested := decimal.Zero
	biggest := decimal.Zero
	for _, s := range stakes {
		invested = invested.Add(s.Amount)
		if s.Amount.GreaterThan(biggest) {
			biggest = s.Amount
		}
		if s.IsActive {
			r.Portfolio.ActiveStakes++
		} else {
			r.Portfolio.CompletedStakes++
		}
		if r.Milestones.FirstStakeDate == nil || s.StartDate.Before(*r.Milestones.FirstStakeDate) {
			start := s.StartDate
			r.Milestones.FirstStakeDate = &start
		}
	}
	r.Portfolio.TotalStakes = len(stakes)
	r.Portfolio.AverageStakeAmount = mean(invested, len(stakes))
	r.Milestones.BiggestStake = biggest
	r.Milestones.TotalTransactions = len(txns)

	earned := decimal.Zero
	daily := map[string]decimal.Decimal{}
	for _, tx := range txns {
		if tx.Type != staking.TransactionTypeReward {
			continue
		}
		r.Milestones.RewardTransactions++
		if tx.Status != staking.TransactionStatusCompleted {
			continue
		}
		earned = earned.Add(tx.Amount)
		daily[tx.Day()] = daily[tx.Day()].Add(tx.Amount)
	}

	r.Overview.TotalInvested = invested
	r.Overview.TotalEarned = earned
	r.Overview.CurrentStaked = user.StakedAmount
	r.Overview.CurrentBalance = user.Balance
	r.Overview.ROIPercentage = decimal.Zero
	if invested.IsPositive() {
		r.Overview.ROIPercentage = earned.Div(invested).Mul(hundred)
	}
	if d := now.Sub(user.CreatedAt); d > 0 {
		r.Overview.DaysActive = int64(d / staking.AccrualPeriod)
	}

	dates := make([]string, 0, len(daily))
	for date := range daily {
		dates = append(dates, date)
	}
	slices.Sort(dates)

	cumulative := decimal.Zero
	best := decimal.Zero
	r.Performance.DailyData = make([]*staking.DailyReward, 0, len(dates))
	for _, date := range dates {
		amount := daily[date]
		cumulative = cumulative.Add(amount)
		if amount.GreaterThan(best) {
			best = amount
		}
		r.Performance.DailyData = append(r.Performance.DailyData, &staking.DailyReward{
			Date:               date,
			DailyRewards:       amount,
			CumulativeEarnings: cumulative,
		})
	}
	r.Performance.BestDay = best
	r.Performance.AverageDaily = mean(cumulative, len(dates))

	perDay := user.StakedAmount.Mul(staking.DailyRate)
	r.Projections.Daily = perDay
	r.Projections.Weekly = perDay.Mul(daysPerWeek)
	r.Projections.Monthly = perDay.Mul(daysPerMon)
	r.Projections.Yearly = perDay.Mul(daysPerYear)

	roundUser(r)
	return r
}

// PlatformAnalytics builds the report across all users.
func (a *Aggregator) PlatformAnalytics(ctx context.Context) (*staking.PlatformAnalytics, error) {
	return cached(a, platformKey, func() (*staking.PlatformAnalytics, error) {
		now := a.now().UTC()
		p := newPlatformBuilder(now, a.dailyWindow)
		err := a.view(ctx, func(batch *database.Batch) error {
			err := batch.ForEachUser(func(u *staking.User) error {
				p.addUser(u)
				return nil
			})
			if err != nil {
				return err
			}

			err = batch.ForEachStake(func(s *staking.Stake) error {
				p.addStake(s)
				return nil
			})
			if err != nil {
				return err
			}

			return batch.ForEachTransaction(func(tx *staking.Transaction) error {
				p.addTransaction(tx)
				return nil
			})
		})
		if err != nil {
			return nil, err
		}
		return p.build(), nil
	})
}

type platformBuilder struct {
	report      *staking.PlatformAnalytics
	days        map[string]*staking.DailyStat
	recentSince time.Time
	balances    decimal.Decimal
	stakes      int
}

func newPlatformBuilder(now time.Time, window int) *platformBuilder {
	p := new(platformBuilder)
	p.report = new(staking.PlatformAnalytics)
	p.report.Overview.TotalStaked = decimal.Zero
	p.report.Overview.TotalRewardsDistributed = decimal.Zero
	p.balances = decimal.Zero
	p.recentSince = now.Add(-recentWindow)

	// The window ends today and is ordered oldest first
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	p.days = make(map[string]*staking.DailyStat, window)
	p.report.DailyStats = make([]*staking.DailyStat, window)
	for i := range p.report.DailyStats {
		date := today.AddDate(0, 0, i-window+1).Format(staking.DateFormat)
		stat := &staking.DailyStat{Date: date, RewardsDistributed: decimal.Zero}
		p.report.DailyStats[i] = stat
		p.days[date] = stat
	}
	return p
}

func (p *platformBuilder) recent(t time.Time) bool {
	return !t.Before(p.recentSince)
}

func (p *platformBuilder) day(t time.Time) *staking.DailyStat {
	return p.days[t.UTC().Format(staking.DateFormat)]
}

func (p *platformBuilder) addUser(u *staking.User) {
	p.report.Overview.TotalUsers++
	p.balances = p.balances.Add(u.Balance)
	if p.recent(u.CreatedAt) {
		p.report.RecentActivity.NewUsers7d++
	}
	if d := p.day(u.CreatedAt); d != nil {
		d.NewUsers++
	}
}

func (p *platformBuilder) addStake(s *staking.Stake) {
	p.stakes++
	if s.IsActive {
		p.report.Overview.ActiveStakes++
		p.report.Overview.TotalStaked = p.report.Overview.TotalStaked.Add(s.Amount)
	}
	if p.recent(s.StartDate) {
		p.report.RecentActivity.NewStakes7d++
	}
	if d := p.day(s.StartDate); d != nil {
		d.NewStakes++
	}
}

func (p *platformBuilder) addTransaction(tx *staking.Transaction) {
	if p.recent(tx.CreatedAt) {
		p.report.RecentActivity.Transactions7d++
	}

	d := p.day(tx.CreatedAt)
	if d != nil {
		d.TransactionCount++
	}

	if tx.Type != staking.TransactionTypeReward || tx.Status != staking.TransactionStatusCompleted {
		return
	}
	p.report.Overview.TotalRewardsDistributed = p.report.Overview.TotalRewardsDistributed.Add(tx.Amount)
	if d != nil {
		d.RewardsDistributed = d.RewardsDistributed.Add(tx.Amount)
	}
}

func (p *platformBuilder) build() *staking.PlatformAnalytics {
	r := p.report
	r.Overview.TotalPlatformValue = r.Overview.TotalStaked.Add(p.balances)
	r.Overview.CompletionRate = decimal.Zero
	if p.stakes > 0 {
		closed := decimal.NewFromInt(int64(p.stakes - r.Overview.ActiveStakes))
		r.Overview.CompletionRate = closed.Div(decimal.NewFromInt(int64(p.stakes))).Mul(hundred)
	}

	r.Performance.AvgStakeAmount = mean(r.Overview.TotalStaked, r.Overview.ActiveStakes)
	r.Performance.AvgUserBalance = mean(p.balances, r.Overview.TotalUsers)
	r.Performance.DailyRate = staking.DailyRate.Mul(hundred).String() + "%"

	roundPlatform(r)
	return r
}

func mean(sum decimal.Decimal, n int) decimal.Decimal {
	if n == 0 {
		return decimal.Zero
	}
	return sum.Div(decimal.NewFromInt(int64(n)))
}
