// Copyright 2025 The Accumulate Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gitlab.com/accumulatenetwork/staking-ledger/config"
)

var cmdInit = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration to the work dir",
	Run:   initWorkDir,
	Args:  cobra.NoArgs,
}

var flagInit struct {
	Reset   bool
	Storage string
	Listen  string
	Demo    bool
}

func init() {
	cmdMain.AddCommand(cmdInit)

	cmdInit.Flags().BoolVar(&flagInit.Reset, "reset", false, "Overwrite an existing configuration")
	cmdInit.Flags().StringVar(&flagInit.Storage, "storage", string(config.BadgerStorage), "Storage backend (memory, bolt, badger, leveldb)")
	cmdInit.Flags().StringVarP(&flagInit.Listen, "listen", "l", "", "Address the API listens on")
	cmdInit.Flags().BoolVar(&flagInit.Demo, "demo", true, "Credit deposits without a payment gateway")
}

func initWorkDir(cmd *cobra.Command, _ []string) {
	file := config.FilePath(flagMain.WorkDir)
	if _, err := os.Stat(file); err == nil && !flagInit.Reset {
		fatalf("%s already exists, use --reset to overwrite it", file)
	}

	cfg := config.Default(flagMain.WorkDir)
	cfg.Storage.Type = config.StorageType(flagInit.Storage)
	cfg.Payment.DemoMode = flagInit.Demo
	if flagInit.Listen != "" {
		cfg.API.ListenAddress = flagInit.Listen
	}

	switch cfg.Storage.Type {
	case config.BoltStorage:
		cfg.Storage.Path = "data/staking.bolt"
	case config.LevelDBStorage:
		cfg.Storage.Path = "data/staking.leveldb"
	case config.MemoryStorage:
		warnf("The memory backend does not persist anything")
	}

	if !cfg.Payment.DemoMode {
		// Validation requires the secrets, which are expected to come from .env
		cfg.Payment.APIKey = "${NOWPAYMENTS_API_KEY}"
		cfg.Payment.IPNSecret = "${NOWPAYMENTS_IPN_SECRET}"
	}

	check(cfg.Validate())
	check(config.Store(cfg))
	fmt.Printf("Wrote %s\n", file)
}
