// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/mintylink/pkg/minty"
)

var (
	pingTimeout int
	pingCount   int
)

var pingCmd = &cobra.Command{
	Use:   "ping [address]",
	Short: "Test the holder link by sending PING and waiting for PONG",
	Long: `Send PING commands to a holder and wait for the PONG answer.

This is useful for verifying:
  - The holder is reachable at the given address
  - The websocket (or serial) link is established
  - The holder firmware is processing commands
  - Bidirectional message flow works

Exit codes:
  0 - All pings successful
  1 - One or more pings failed/timed out
  2 - Connection error`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPing,
}

func init() {
	rootCmd.AddCommand(pingCmd)
	pingCmd.Flags().IntVar(&pingTimeout, "timeout", 5, "Timeout in seconds for each ping")
	pingCmd.Flags().IntVar(&pingCount, "count", 3, "Number of pings to send")
}

func runPing(cmd *cobra.Command, args []string) error {
	addr, err := deviceAddress(args)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	mgr := newLinkManager(newIdentity(), nil)
	if err := mgr.Connect(ctx, addr); err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer mgr.Disconnect()

	fmt.Printf("Mintylink - Ping Test\n")
	fmt.Printf("Connection: %s\n", mgr.Describe(addr))
	fmt.Printf("Timeout: %d seconds per ping\n", pingTimeout)
	fmt.Printf("Count: %d pings\n\n", pingCount)

	successCount := 0
	failCount := 0

	for i := 1; i <= pingCount; i++ {
		fmt.Printf("Ping %d/%d: ", i, pingCount)

		startTime := time.Now()
		if err := mgr.Send(minty.NewPingRequest()); err != nil {
			fmt.Printf("SEND FAILED: %v\n", err)
			failCount++
			continue
		}

		if waitForPong(mgr.Events(), time.Duration(pingTimeout)*time.Second) {
			fmt.Printf("PONG from holder, rtt=%v\n", time.Since(startTime).Round(time.Millisecond))
			successCount++
		} else {
			fmt.Printf("TIMEOUT (no response in %ds)\n", pingTimeout)
			failCount++
		}

		if ctx.Err() != nil {
			break
		}
		if i < pingCount {
			time.Sleep(100 * time.Millisecond)
		}
	}

	fmt.Printf("\n--- Ping statistics ---\n")
	fmt.Printf("%d pings sent, %d responses received, %.0f%% packet loss\n",
		pingCount, successCount, float64(failCount)/float64(pingCount)*100)

	if failCount > 0 {
		os.Exit(1)
	}
	return nil
}

// waitForPong skips other traffic until a PONG arrives. A dropped link
// counts as a timeout.
func waitForPong(events <-chan minty.Event, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-events:
			switch ev.(type) {
			case minty.Pong:
				return true
			case minty.Disconnected:
				return false
			}
		case <-deadline:
			return false
		}
	}
}
