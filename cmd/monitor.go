// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/mintylink/pkg/link"
	"github.com/Thermoquad/mintylink/pkg/minty"
)

var (
	monitorRecord   string
	monitorDuration time.Duration
)

var monitorCmd = &cobra.Command{
	Use:   "monitor [address]",
	Short: "Display holder messages in human-readable format",
	Long: `Connect to a holder and print every protocol message as it arrives.

Each line shows the timestamp, message kind and decoded fields. With --record
the raw traffic is also written to a capture file that 'mintylink replay' can
play back. With --duration the monitor stops on its own and reports whether
the link stayed up for the whole run.

Supports both serial and WebSocket connections.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runMonitor,
}

func init() {
	monitorCmd.Flags().StringVar(&monitorRecord, "record", "", "Write a capture of all traffic to this file")
	monitorCmd.Flags().DurationVar(&monitorDuration, "duration", 0, "Stop after this long (0 = until Ctrl+C)")
	rootCmd.AddCommand(monitorCmd)
}

// captureTap writes every line crossing the link to a capture file
type captureTap struct {
	mu  sync.Mutex
	w   *minty.CaptureWriter
	err error
}

func (c *captureTap) tap(dir minty.Direction, line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return
	}
	c.err = c.w.Write(time.Now(), dir, line)
}

func runMonitor(cmd *cobra.Command, args []string) error {
	addr, err := deviceAddress(args)
	if err != nil {
		return err
	}

	var capture *captureTap
	if monitorRecord != "" {
		f, err := os.Create(monitorRecord)
		if err != nil {
			return fmt.Errorf("failed to create capture file: %w", err)
		}
		defer f.Close()
		capture = &captureTap{w: minty.NewCaptureWriter(f)}
	}

	var tap link.Tap
	if capture != nil {
		tap = capture.tap
	}
	mgr := newLinkManager(newIdentity(), tap)

	ctx, cancel := signalContext()
	defer cancel()
	if monitorDuration > 0 {
		var stop context.CancelFunc
		ctx, stop = context.WithTimeout(ctx, monitorDuration)
		defer stop()
	}

	fmt.Printf("Mintylink - Monitor\n")
	fmt.Printf("Connection: %s\n", mgr.Describe(addr))
	if monitorRecord != "" {
		fmt.Printf("Recording: %s\n", monitorRecord)
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	if err := mgr.Connect(ctx, addr); err != nil {
		return err
	}
	defer mgr.Disconnect()

	stats := minty.NewStatistics()
	dropped := false

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case ev := <-mgr.Events():
			stats.Update(ev, minty.ValidateEvent(ev))
			fmt.Print(minty.FormatEvent(time.Now(), ev))
			if d, ok := ev.(minty.Disconnected); ok {
				fmt.Printf("Connection closed: %s\n", d.Reason)
				dropped = true
				break loop
			}
		}
	}

	stats.CalculateRates()
	fmt.Printf("\n%s\n", stats.String())

	if capture != nil && capture.err != nil {
		return fmt.Errorf("capture incomplete: %w", capture.err)
	}
	if monitorDuration > 0 {
		if dropped {
			return fmt.Errorf("link dropped before %s elapsed", monitorDuration)
		}
		fmt.Printf("Link stayed up for %s\n", monitorDuration)
	}
	return nil
}
