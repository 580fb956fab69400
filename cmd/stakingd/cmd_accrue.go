// Copyright 2025 The Accumulate Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"gitlab.com/accumulatenetwork/staking-ledger/internal/node"
)

var cmdAccrue = &cobra.Command{
	Use:   "accrue",
	Short: "Run one accrual sweep and exit",
	Long:  "Run one accrual sweep against the configured store and exit. The daemon must not be running.",
	Run:   accrueOnce,
	Args:  cobra.NoArgs,
}

var flagAccrue struct {
	Expire bool
}

func init() {
	cmdMain.AddCommand(cmdAccrue)

	cmdAccrue.Flags().BoolVar(&flagAccrue.Expire, "expire-payments", false, "Also fail pending deposits that have timed out")
}

func accrueOnce(*cobra.Command, []string) {
	cfg, logger := loadConfig()
	n, err := node.New(cfg, logger)
	checkf(err, "initialize")
	defer func() { _ = n.Stop(context.Background()) }()

	start := time.Now()
	r, err := n.Scheduler.Sweep(context.Background())
	checkf(err, "sweep")

	fmt.Printf("Processed %d stakes in %v: %d accrued, %d skipped, %d failed, %s credited\n",
		r.Processed, time.Since(start).Round(time.Millisecond), r.Accrued, r.Skipped, r.Failed, r.Total.StringFixedBank(2))

	if flagAccrue.Expire {
		count, err := n.Payment.ExpirePending(context.Background())
		checkf(err, "expire payments")
		fmt.Printf("Expired %d pending deposits\n", count)
	}

	if r.Failed > 0 {
		warnf("%d stakes failed and will be retried by the next sweep", r.Failed)
	}
}
