// Copyright 2025 The Accumulate Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

package staking

import (
	"time"

	"github.com/shopspring/decimal"
)

// UserAnalytics is the derived report for one user.
type UserAnalytics struct {
	Overview    UserOverview    `json:"overview"`
	Portfolio   Portfolio       `json:"portfolio"`
	Performance UserPerformance `json:"performance"`
	Projections Projections     `json:"projections"`
	Milestones  Milestones      `json:"milestones"`
}

type UserOverview struct {
	TotalInvested  decimal.Decimal `json:"total_invested"`
	TotalEarned    decimal.Decimal `json:"total_earned"`
	CurrentStaked  decimal.Decimal `json:"current_staked"`
	CurrentBalance decimal.Decimal `json:"current_balance"`
	ROIPercentage  decimal.Decimal `json:"roi_percentage"`
	DaysActive     int64           `json:"days_active"`
}

type Portfolio struct {
	ActiveStakes       int             `json:"active_stakes"`
	CompletedStakes    int             `json:"completed_stakes"`
	TotalStakes        int             `json:"total_stakes"`
	AverageStakeAmount decimal.Decimal `json:"average_stake_amount"`
}

type UserPerformance struct {
	DailyData    []*DailyReward  `json:"daily_data"`
	BestDay      decimal.Decimal `json:"best_day"`
	AverageDaily decimal.Decimal `json:"average_daily"`
}

// DailyReward is the reward total of one day and the running total through
// that day.
type DailyReward struct {
	Date               string          `json:"date"`
	DailyRewards       decimal.Decimal `json:"daily_rewards"`
	CumulativeEarnings decimal.Decimal `json:"cumulative_earnings"`
}

type Projections struct {
	Daily   decimal.Decimal `json:"daily"`
	Weekly  decimal.Decimal `json:"weekly"`
	Monthly decimal.Decimal `json:"monthly"`
	Yearly  decimal.Decimal `json:"yearly"`
}

type Milestones struct {
	FirstStakeDate     *time.Time      `json:"first_stake_date"`
	BiggestStake       decimal.Decimal `json:"biggest_stake"`
	TotalTransactions  int             `json:"total_transactions"`
	RewardTransactions int             `json:"reward_transactions"`
}

// PlatformAnalytics is the derived report across all users.
type PlatformAnalytics struct {
	Overview       PlatformOverview    `json:"overview"`
	DailyStats     []*DailyStat        `json:"daily_stats"`
	RecentActivity RecentActivity      `json:"recent_activity"`
	Performance    PlatformPerformance `json:"performance"`
}

type PlatformOverview struct {
	TotalUsers              int             `json:"total_users"`
	TotalStaked             decimal.Decimal `json:"total_staked"`
	TotalRewardsDistributed decimal.Decimal `json:"total_rewards_distributed"`
	TotalPlatformValue      decimal.Decimal `json:"total_platform_value"`
	ActiveStakes            int             `json:"active_stakes"`
	CompletionRate          decimal.Decimal `json:"completion_rate"`
}

// DailyStat is the platform activity of one UTC day.
type DailyStat struct {
	Date               string          `json:"date"`
	NewUsers           int             `json:"new_users"`
	NewStakes          int             `json:"new_stakes"`
	RewardsDistributed decimal.Decimal `json:"rewards_distributed"`
	TransactionCount   int             `json:"transaction_count"`
}

type RecentActivity struct {
	NewUsers7d     int `json:"new_users_7d"`
	NewStakes7d    int `json:"new_stakes_7d"`
	Transactions7d int `json:"transactions_7d"`
}

type PlatformPerformance struct {
	AvgStakeAmount decimal.Decimal `json:"avg_stake_amount"`
	AvgUserBalance decimal.Decimal `json:"avg_user_balance"`
	DailyRate      string          `json:"daily_rate"`
}
