// SPDX-FileCopyrightText: 2025 The spinscp-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/spinscp/spinscp-go/pkg/transport"
)

var (
	memCPU     int
	memChip    int
	memOutFile string
)

// runBulk performs one bulk operation and waits for its completion.
func runBulk(run func(conn *transport.Connection, cb transport.BulkCallback)) error {
	conn, err := dialFromConfig()
	if err != nil {
		return err
	}
	defer conn.Close()

	done := make(chan error, 1)
	run(conn, func(err error, _ []byte) {
		done <- err
	})
	return <-done
}

func memDest() transport.CoreAddr {
	return transport.CoreAddr{Chip: uint16(memChip), CPU: uint8(memCPU)}
}

func parseAddress(s string) (uint32, error) {
	addr, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("address %q: %v", s, err)
	}
	return uint32(addr), nil
}

var readCmd = &cobra.Command{
	Use:   "read address length",
	Short: "Read machine memory",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, err := parseAddress(args[0])
		if err != nil {
			return err
		}
		length, err := strconv.ParseUint(args[1], 0, 32)
		if err != nil {
			return fmt.Errorf("length %q: %v", args[1], err)
		}

		buf := make([]byte, length)
		if err := runBulk(func(conn *transport.Connection, cb transport.BulkCallback) {
			conn.Read(memDest(), addr, buf, cb)
		}); err != nil {
			return err
		}

		if memOutFile != "" {
			return os.WriteFile(memOutFile, buf, 0644)
		}
		fmt.Print(hex.Dump(buf))
		return nil
	},
}

var writeCmd = &cobra.Command{
	Use:   "write address file",
	Short: "Write a file into machine memory",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, err := parseAddress(args[0])
		if err != nil {
			return err
		}
		data, err := os.ReadFile(args[1])
		if err != nil {
			return err
		}

		return runBulk(func(conn *transport.Connection, cb transport.BulkCallback) {
			conn.Write(memDest(), addr, data, cb)
		})
	},
}

func init() {
	for _, cmd := range []*cobra.Command{readCmd, writeCmd} {
		cmd.Flags().IntVar(&memChip, "chip", 0, "packed chip address, X in the high byte")
		cmd.Flags().IntVar(&memCPU, "cpu", 0, "CPU whose memory view is used")
	}
	readCmd.Flags().StringVarP(&memOutFile, "out", "o", "", "write the data to this file instead of hex-dumping")
}
