// Copyright 2025 The Accumulate Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

package analytics

import (
	"github.com/shopspring/decimal"
	"gitlab.com/accumulatenetwork/staking-ledger/pkg/types/staking"
)

// Places is the number of decimal places reports are rounded to.
const Places = 2

// Rounding only happens here, after every sum has been computed exactly.

func round(v *decimal.Decimal) {
	*v = v.RoundBank(Places)
}

func roundUser(r *staking.UserAnalytics) {
	for _, v := range []*decimal.Decimal{
		&r.Overview.TotalInvested,
		&r.Overview.TotalEarned,
		&r.Overview.CurrentStaked,
		&r.Overview.CurrentBalance,
		&r.Overview.ROIPercentage,
		&r.Portfolio.AverageStakeAmount,
		&r.Performance.BestDay,
		&r.Performance.AverageDaily,
		&r.Projections.Daily,
		&r.Projections.Weekly,
		&r.Projections.Monthly,
		&r.Projections.Yearly,
		&r.Milestones.BiggestStake,
	} {
		round(v)
	}
	for _, d := range r.Performance.DailyData {
		round(&d.DailyRewards)
		round(&d.CumulativeEarnings)
	}
}

func roundPlatform(r *staking.PlatformAnalytics) {
	for _, v := range []*decimal.Decimal{
		&r.Overview.TotalStaked,
		&r.Overview.TotalRewardsDistributed,
		&r.Overview.TotalPlatformValue,
		&r.Overview.CompletionRate,
		&r.Performance.AvgStakeAmount,
		&r.Performance.AvgUserBalance,
	} {
		round(v)
	}
	for _, d := range r.DailyStats {
		round(&d.RewardsDistributed)
	}
}
