// Copyright 2025 The Accumulate Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gitlab.com/accumulatenetwork/staking-ledger/internal/node"
	"gitlab.com/accumulatenetwork/staking-ledger/pkg/database/keyvalue/badger"
)

var cmdRun = &cobra.Command{
	Use:   "run",
	Short: "Run the daemon",
	Run:   runNode,
	Args:  cobra.NoArgs,
}

var flagRun = struct {
	Truncate     bool
	StopAfter    time.Duration
	ShutdownWait time.Duration
}{}

func init() {
	cmdMain.AddCommand(cmdRun)

	cmdRun.Flags().BoolVar(&flagRun.Truncate, "truncate", false, "Truncate Badger if necessary")
	cmdRun.Flags().DurationVar(&flagRun.ShutdownWait, "shutdown-timeout", 10*time.Second, "How long to wait for requests and jobs when stopping")
	cmdRun.Flags().DurationVar(&flagRun.StopAfter, "ci-stop-after", 0, "FOR CI ONLY - stop the node after some time")
	cmdRun.Flag("ci-stop-after").Hidden = true

	cmdRun.PreRun = func(*cobra.Command, []string) {
		badger.TruncateBadger = flagRun.Truncate
	}
}

func runNode(*cobra.Command, []string) {
	cfg, logger := loadConfig()
	if cfg.Payment.DemoMode {
		warnf("Demo mode is enabled, deposits are credited without payment")
	}

	n, err := node.New(cfg, logger)
	checkf(err, "initialize")
	check(n.Start())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if flagRun.StopAfter > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, flagRun.StopAfter)
		defer cancel()
	}

	select {
	case <-ctx.Done():
	case <-n.Done():
	}

	stop, cancelStop := context.WithTimeout(context.Background(), flagRun.ShutdownWait)
	defer cancelStop()
	err = n.Stop(stop)
	if err != nil {
		logger.Error().Err(err).Msg("Shutdown was not clean")
	}
}
