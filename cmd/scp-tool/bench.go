// SPDX-FileCopyrightText: 2025 The spinscp-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"bytes"
	"fmt"
	"math/rand"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"

	"github.com/spinscp/spinscp-go/pkg/transport"
)

var (
	benchSize int
	benchAddr string
)

var (
	okStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	failStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
)

// benchCmd mirrors the classic first session against a machine: write a
// block of random data, read it back, check it survived and report the
// throughput of both directions.
var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Benchmark bulk transfers against the machine",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, err := parseAddress(benchAddr)
		if err != nil {
			return err
		}

		conn, err := dialFromConfig()
		if err != nil {
			return err
		}
		defer conn.Close()

		data := make([]byte, benchSize)
		rand.Read(data)
		readBack := make([]byte, benchSize)

		await := func(run func(cb transport.BulkCallback)) (time.Duration, error) {
			done := make(chan error, 1)
			start := time.Now()
			run(func(err error, _ []byte) {
				done <- err
			})
			err := <-done
			return time.Since(start), err
		}

		var errs error

		wrote, err := await(func(cb transport.BulkCallback) {
			conn.Write(memDest(), addr, data, cb)
		})
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("write: %w", err))
		} else {
			fmt.Printf("wrote   %s in %v (%s)\n", byteCount(benchSize), wrote, throughput(benchSize, wrote))
		}

		read, err := await(func(cb transport.BulkCallback) {
			conn.Read(memDest(), addr, readBack, cb)
		})
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("read: %w", err))
		} else {
			fmt.Printf("read    %s in %v (%s)\n", byteCount(benchSize), read, throughput(benchSize, read))
		}

		if errs == nil && !bytes.Equal(data, readBack) {
			errs = multierror.Append(errs, fmt.Errorf("data read back differs from data written"))
		}

		if errs != nil {
			fmt.Println(failStyle.Render("FAILED"))
			return errs
		}
		fmt.Println(okStyle.Render("OK") + ": data read back matched the data written")
		return nil
	},
}

func byteCount(n int) string {
	switch {
	case n >= 1024*1024:
		return fmt.Sprintf("%.1f MiB", float64(n)/1024/1024)
	case n >= 1024:
		return fmt.Sprintf("%.1f KiB", float64(n)/1024)
	default:
		return fmt.Sprintf("%d B", n)
	}
}

func throughput(n int, d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return fmt.Sprintf("%.3f Mbit/s", float64(n)*8/d.Seconds()/1024/1024)
}

func init() {
	benchCmd.Flags().IntVar(&benchSize, "size", 128*1024, "bytes to transfer")
	benchCmd.Flags().StringVar(&benchAddr, "address", "0x60240000", "machine address to test against")
	benchCmd.Flags().IntVar(&memChip, "chip", 0, "packed chip address, X in the high byte")
	benchCmd.Flags().IntVar(&memCPU, "cpu", 0, "CPU whose memory view is used")
}
