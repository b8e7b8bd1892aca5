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
	statusTimeout int
)

var statusCmd = &cobra.Command{
	Use:   "status [address]",
	Short: "Test the connection by requesting the holder status",
	Long: `Send GET_STATUS to a holder and wait for a decoded answer until timeout.

Any recognised protocol message from the holder counts as an answer; lines
that cannot be decoded are skipped and counted.

Exit codes:
  0 - Holder answered before timeout
  1 - Timeout reached without a recognised message
  2 - Connection error`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().IntVar(&statusTimeout, "timeout", 10, "Timeout in seconds to wait for an answer")
}

func runStatus(cmd *cobra.Command, args []string) error {
	addr, err := deviceAddress(args)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	mgr := newLinkManager(newIdentity(), nil)

	fmt.Printf("Mintylink - Status\n")
	fmt.Printf("Connection: %s\n", mgr.Describe(addr))
	fmt.Printf("Timeout: %d seconds\n", statusTimeout)

	if err := mgr.Connect(ctx, addr); err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer mgr.Disconnect()

	if err := mgr.Send(minty.NewStatusRequest()); err != nil {
		fmt.Fprintf(os.Stderr, "Send error: %v\n", err)
		os.Exit(2)
	}
	fmt.Printf("Waiting for holder status...\n\n")

	deadline := time.After(time.Duration(statusTimeout) * time.Second)
	skipped := 0
	for {
		select {
		case ev := <-mgr.Events():
			switch e := ev.(type) {
			case minty.Unknown:
				skipped++
				continue
			case minty.Connected:
				if e.DeviceID == "" {
					continue
				}
			case minty.Disconnected:
				fmt.Fprintf(os.Stderr, "Connection lost: %s\n", e.Reason)
				os.Exit(2)
			}
			if skipped > 0 {
				fmt.Printf("(skipped %d unrecognised lines)\n", skipped)
			}
			fmt.Printf("SUCCESS: Holder answered\n")
			fmt.Printf("  Kind: %s\n", minty.FormatKind(ev.Kind()))
			if details := minty.FormatDetails(ev); details != "" {
				fmt.Printf("  Details:%s\n", details)
			}
			return nil

		case <-deadline:
			fmt.Fprintf(os.Stderr, "TIMEOUT: No answer received within %d seconds\n", statusTimeout)
			os.Exit(1)

		case <-ctx.Done():
			return nil
		}
	}
}
