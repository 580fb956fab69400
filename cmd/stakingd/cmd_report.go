// Copyright 2025 The Accumulate Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"gitlab.com/accumulatenetwork/staking-ledger/internal/node"
	"gitlab.com/accumulatenetwork/staking-ledger/pkg/types/staking"
)

var cmdReport = &cobra.Command{
	Use:   "report",
	Short: "Print analytics from the configured store",
}

var cmdReportUser = &cobra.Command{
	Use:   "user [id]",
	Short: "Print the analytics of a user",
	Args:  cobra.ExactArgs(1),
	Run:   reportUser,
}

var cmdReportPlatform = &cobra.Command{
	Use:   "platform",
	Short: "Print the platform analytics",
	Args:  cobra.NoArgs,
	Run:   reportPlatform,
}

var flagReport struct {
	JSON bool
}

func init() {
	cmdMain.AddCommand(cmdReport)
	cmdReport.AddCommand(cmdReportUser, cmdReportPlatform)

	cmdReport.PersistentFlags().BoolVarP(&flagReport.JSON, "json", "j", false, "Print the report as JSON")
}

func openNode() *node.Node {
	cfg, logger := loadConfig()
	n, err := node.New(cfg, logger)
	checkf(err, "initialize")
	return n
}

func reportUser(_ *cobra.Command, args []string) {
	n := openNode()
	defer func() { _ = n.Stop(context.Background()) }()

	r, err := n.Analytics.UserAnalytics(context.Background(), args[0])
	checkf(err, "user %s", args[0])
	if flagReport.JSON {
		printJSON(r)
		return
	}

	printUserReport(os.Stdout, r)
}

func reportPlatform(*cobra.Command, []string) {
	n := openNode()
	defer func() { _ = n.Stop(context.Background()) }()

	r, err := n.Analytics.PlatformAnalytics(context.Background())
	checkf(err, "platform")
	if flagReport.JSON {
		printJSON(r)
		return
	}

	printPlatformReport(os.Stdout, r)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	check(enc.Encode(v))
}

func printUserReport(w io.Writer, r *staking.UserAnalytics) {
	first := "never"
	if r.Milestones.FirstStakeDate != nil {
		first = humanize.Time(*r.Milestones.FirstStakeDate)
	}

	t := newTable(w, "Metric", "Value")
	t.AppendBulk([][]string{
		{"Invested", money(r.Overview.TotalInvested)},
		{"Earned", money(r.Overview.TotalEarned)},
		{"Staked", money(r.Overview.CurrentStaked)},
		{"Balance", money(r.Overview.CurrentBalance)},
		{"ROI", r.Overview.ROIPercentage.String() + "%"},
		{"Days active", humanize.Comma(r.Overview.DaysActive)},
		{"Stakes (active/total)", fmt.Sprintf("%d/%d", r.Portfolio.ActiveStakes, r.Portfolio.TotalStakes)},
		{"Average stake", money(r.Portfolio.AverageStakeAmount)},
		{"Biggest stake", money(r.Milestones.BiggestStake)},
		{"First stake", first},
		{"Transactions", strconv.Itoa(r.Milestones.TotalTransactions)},
		{"Projected daily", money(r.Projections.Daily)},
		{"Projected monthly", money(r.Projections.Monthly)},
	})
	t.Render()

	if len(r.Performance.DailyData) == 0 {
		return
	}

	fmt.Fprintln(w)
	t = newTable(w, "Date", "Rewards", "Cumulative")
	for _, d := range r.Performance.DailyData {
		t.Append([]string{d.Date, money(d.DailyRewards), money(d.CumulativeEarnings)})
	}
	t.Render()
}

func printPlatformReport(w io.Writer, r *staking.PlatformAnalytics) {
	t := newTable(w, "Metric", "Value")
	t.AppendBulk([][]string{
		{"Users", humanize.Comma(int64(r.Overview.TotalUsers))},
		{"Staked", money(r.Overview.TotalStaked)},
		{"Rewards distributed", money(r.Overview.TotalRewardsDistributed)},
		{"Platform value", money(r.Overview.TotalPlatformValue)},
		{"Active stakes", humanize.Comma(int64(r.Overview.ActiveStakes))},
		{"Completion rate", r.Overview.CompletionRate.String() + "%"},
		{"New users (7d)", strconv.Itoa(r.RecentActivity.NewUsers7d)},
		{"New stakes (7d)", strconv.Itoa(r.RecentActivity.NewStakes7d)},
		{"Transactions (7d)", strconv.Itoa(r.RecentActivity.Transactions7d)},
		{"Daily rate", r.Performance.DailyRate},
	})
	t.Render()

	fmt.Fprintln(w)
	t = newTable(w, "Date", "Users", "Stakes", "Rewards", "Transactions")
	for _, d := range r.DailyStats {
		t.Append([]string{
			d.Date,
			strconv.Itoa(d.NewUsers),
			strconv.Itoa(d.NewStakes),
			money(d.RewardsDistributed),
			strconv.Itoa(d.TransactionCount),
		})
	}
	t.Render()
}

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	t := tablewriter.NewWriter(w)
	t.SetHeader(header)
	t.SetAutoFormatHeaders(false)
	t.SetAlignment(tablewriter.ALIGN_RIGHT)
	return t
}

func money(v decimal.Decimal) string {
	return humanize.CommafWithDigits(v.InexactFloat64(), 2)
}
