// SPDX-FileCopyrightText: 2025 The spinscp-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/spinscp/spinscp-go/pkg/scp"
	"github.com/spinscp/spinscp-go/pkg/transport"
)

var verCPUs int

var coreStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))

var verCmd = &cobra.Command{
	Use:   "ver",
	Short: "Query the firmware version of CPUs on chip (0, 0)",
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, err := dialFromConfig()
		if err != nil {
			return err
		}
		defer conn.Close()

		type verResult struct {
			cpu  int
			err  error
			resp scp.Response
		}

		results := make(chan verResult, verCPUs)
		for cpu := 0; cpu < verCPUs; cpu++ {
			cpu := cpu
			conn.SendSCP(transport.CoreAddr{Chip: 0, CPU: uint8(cpu)},
				scp.CmdVer, 3, 3, 0, 0, 0, nil, make([]byte, 256),
				func(err error, resp *scp.Response) {
					res := verResult{cpu: cpu, err: err}
					if resp != nil {
						res.resp = *resp
					}
					results <- res
				})
		}

		var firstErr error
		for i := 0; i < verCPUs; i++ {
			select {
			case res := <-results:
				if res.err != nil {
					fmt.Printf("CPU %2d: %v\n", res.cpu, res.err)
					if firstErr == nil {
						firstErr = res.err
					}
					continue
				}
				if res.resp.CmdRC != scp.CmdOK {
					fmt.Printf("CPU %2d: cmd_rc %d\n", res.cpu, res.resp.CmdRC)
					continue
				}
				v, vErr := scp.ParseVersion(res.resp)
				if vErr != nil {
					fmt.Printf("CPU %2d: %v\n", res.cpu, vErr)
					continue
				}
				fmt.Printf("%s %s v%.2f\n",
					coreStyle.Render(fmt.Sprintf("(%d, %d, %2d)", v.X, v.Y, v.CPU)),
					v.Name, v.Version)

			case <-time.After(time.Minute):
				return fmt.Errorf("timed out awaiting version responses")
			}
		}

		return firstErr
	},
}

func init() {
	verCmd.Flags().IntVar(&verCPUs, "cpus", 1, "number of CPUs to query on chip (0, 0)")
}
