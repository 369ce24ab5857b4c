// SPDX-FileCopyrightText: 2025 The spinscp-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// scp-tool exercises an SCP connection to a SpiNNaker machine: querying
// firmware versions, reading and writing memory and running a small
// read/write benchmark.
package main

import (
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/pkg/profile"
	"github.com/spf13/cobra"
)

var (
	configFile  string
	enableProf  bool
	flagHost    string
	flagPort    int
	flagDataLen int
	flagWindow  int
	flagTimeout int
	flagTries   int
)

var rootCmd = &cobra.Command{
	Use:   "scp-tool",
	Short: "Talk SCP to a SpiNNaker machine",
	Long: "scp-tool drives the SpiNNaker Command Protocol over UDP: query the\n" +
		"firmware version of cores, read and write machine memory, or benchmark\n" +
		"bulk transfers.",
	SilenceUsage: true,
}

// prof is the running profiler session, if any.
var prof interface{ Stop() }

func main() {
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if enableProf {
			prof = profile.Start(profile.ProfilePath("."))
		}
	}
	rootCmd.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		if prof != nil {
			prof.Stop()
		}
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "TOML configuration file")
	rootCmd.PersistentFlags().BoolVar(&enableProf, "profile", false, "write a CPU profile to the working directory")
	rootCmd.PersistentFlags().StringVar(&flagHost, "host", "", "machine hostname or IPv4 address")
	rootCmd.PersistentFlags().IntVar(&flagPort, "port", 0, "SCP port, 17893 unless overridden")
	rootCmd.PersistentFlags().IntVar(&flagDataLen, "scp-data-length", 0, "maximum SCP data field length the machine supports")
	rootCmd.PersistentFlags().IntVar(&flagWindow, "n-outstanding", 0, "number of simultaneous commands in flight")
	rootCmd.PersistentFlags().IntVar(&flagTimeout, "timeout-ms", 0, "per-attempt response timeout in milliseconds")
	rootCmd.PersistentFlags().IntVar(&flagTries, "n-tries", 0, "transmission attempts before giving up")

	rootCmd.AddCommand(verCmd, readCmd, writeCmd, benchCmd)

	if err := rootCmd.Execute(); err != nil {
		log.WithError(err).Error("scp-tool errored")
		os.Exit(1)
	}
}
