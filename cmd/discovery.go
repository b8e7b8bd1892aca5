// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/mintylink/pkg/discovery"
)

var (
	discoveryTimeout  int
	discoveryStrategy string
)

var discoveryCmd = &cobra.Command{
	Use:   "discovery",
	Short: "Find holders on the local network",
	Long: `Locate Minty holders on the local network.

Strategies:
  broadcast (default): Send MINTY_DISCOVER as a UDP broadcast and collect
                       MINTY_ESP32 replies. Stops after a few replies or when
                       the network goes quiet.

  scan:                Probe every address of the local /24 subnet for an
                       open holder control port. Slower, but works where
                       broadcasts are filtered.

Examples:
  mintylink discovery
  mintylink discovery --strategy scan --timeout 30

Exit codes:
  0 - Discovery successful (at least one holder found)
  1 - Discovery failed (no holders or timeout)
  2 - Discovery could not start`,
	RunE: runDiscovery,
}

func init() {
	rootCmd.AddCommand(discoveryCmd)
	discoveryCmd.Flags().IntVar(&discoveryTimeout, "timeout", 15, "Timeout in seconds for discovery")
	discoveryCmd.Flags().StringVar(&discoveryStrategy, "strategy", "broadcast", "Discovery strategy (broadcast or scan)")
}

func runDiscovery(cmd *cobra.Command, args []string) error {
	strategy, err := discovery.ParseStrategy(discoveryStrategy)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()
	ctx, stop := context.WithTimeout(ctx, time.Duration(discoveryTimeout)*time.Second)
	defer stop()

	fmt.Printf("Mintylink - Holder Discovery\n")
	fmt.Printf("Strategy: %s\n", strategy)
	fmt.Printf("Timeout: %d seconds\n\n", discoveryTimeout)

	svc := newDiscoveryService()
	start := time.Now()
	found := 0

	for ev := range svc.Discover(ctx, strategy) {
		switch ev.Kind {
		case discovery.Found:
			found++
			fmt.Printf("Holder %d:\n", found)
			if ev.Device.DeviceID != "" {
				fmt.Printf("  Device ID: %s\n", ev.Device.DeviceID)
			}
			fmt.Printf("  Address: %s\n", ev.Device.Host)
			fmt.Printf("  Found after: %v\n\n", time.Since(start).Round(time.Millisecond))
		case discovery.Error:
			fmt.Fprintf(os.Stderr, "Discovery error: %v\n", ev.Err)
			os.Exit(2)
		}
	}

	if found == 0 {
		if ctx.Err() == context.DeadlineExceeded {
			fmt.Fprintf(os.Stderr, "TIMEOUT: No holders found within %d seconds\n", discoveryTimeout)
		} else {
			fmt.Fprintf(os.Stderr, "No holders found\n")
		}
		os.Exit(1)
	}

	fmt.Printf("--- Discovery complete ---\n")
	fmt.Printf("%d holder(s) found in %v\n", found, time.Since(start).Round(time.Millisecond))
	return nil
}
