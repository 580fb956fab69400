// Copyright 2025 The Accumulate Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gitlab.com/accumulatenetwork/staking-ledger/config"
	"gitlab.com/accumulatenetwork/staking-ledger/internal/logging"
	"golang.org/x/term"
)

var cmdMain = &cobra.Command{
	Use:   "stakingd",
	Short: "Staking ledger daemon",
	Run:   printUsageAndExit1,
}

var flagMain struct {
	WorkDir string
}

func init() {
	defaultWorkDir := ".stakingd"
	if home, err := os.UserHomeDir(); err == nil {
		defaultWorkDir = filepath.Join(home, ".stakingd")
	}

	cmdMain.PersistentFlags().StringVarP(&flagMain.WorkDir, "work-dir", "w", defaultWorkDir, "Working directory for configuration and data")

	if os.Getenv("FORCE_COLOR") != "" {
		color.NoColor = false
	} else if !term.IsTerminal(int(os.Stderr.Fd())) {
		color.NoColor = true
	}
}

func main() {
	_ = cmdMain.Execute()
}

func printUsageAndExit1(cmd *cobra.Command, _ []string) {
	_ = cmd.Usage()
	os.Exit(1)
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, color.RedString("Error: ")+format+"\n", args...)
	os.Exit(1)
}

func warnf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, color.YellowString("Warning: ")+format+"\n", args...)
}

func check(err error) {
	if err != nil {
		fatalf("%v", err)
	}
}

func checkf(err error, format string, otherArgs ...interface{}) {
	if err != nil {
		fatalf(format+": %v", append(otherArgs, err)...)
	}
}

// loadConfig loads the configuration of the work dir and creates a logger
// for it.
func loadConfig() (*config.Config, zerolog.Logger) {
	cfg, err := config.Load(flagMain.WorkDir)
	checkf(err, "load configuration (run init first?)")

	logger, err := logging.NewLogger(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	checkf(err, "create logger")
	return cfg, logger
}
