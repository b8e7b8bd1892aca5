// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/mintylink/pkg/link"
	"github.com/Thermoquad/mintylink/pkg/minty"
)

var (
	showAll       bool
	statsInterval int
	useTUI        bool
)

var errorDetectionCmd = &cobra.Command{
	Use:   "error_detection [address]",
	Short: "Detect and analyze malformed or inconsistent holder messages",
	Long: `Track protocol anomalies with statistics.

This command validates each message from the holder and detects:
  - Unrecognized lines (unknown tags, malformed fields)
  - Invalid counts (daily count or progress outside 0-3)
  - Invalid durations (negative session lengths)
  - Inconsistent verdicts (valid sessions under 60s, short sessions that
    meet their own requirement)
  - Statistics and trends (line rate, error rate, per-kind counts)

By default, only anomalies are displayed. Use --show-all to display valid
messages too.

Messages are validated in real-time, with anomalies highlighted immediately
and periodic statistics summaries displayed at configurable intervals.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runErrorDetection,
}

func init() {
	rootCmd.AddCommand(errorDetectionCmd)
	errorDetectionCmd.Flags().BoolVar(&showAll, "show-all", false, "Show all messages (not just anomalies)")
	errorDetectionCmd.Flags().IntVar(&statsInterval, "stats-interval", 10, "Statistics update interval (seconds)")
	errorDetectionCmd.Flags().BoolVar(&useTUI, "tui", true, "Use terminal UI (false for text mode)")
}

func runErrorDetection(cmd *cobra.Command, args []string) error {
	addr, err := deviceAddress(args)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	mgr := newLinkManager(newIdentity(), nil)
	if err := mgr.Connect(ctx, addr); err != nil {
		return err
	}
	defer mgr.Disconnect()

	if useTUI && isTerminal() {
		return runTUIMode(ctx, mgr, mgr.Describe(addr))
	}
	return runTextMode(ctx, mgr, mgr.Describe(addr))
}

// printValidationErrors prints the anomalies found in a message
func printValidationErrors(ts time.Time, ev minty.Event, errors []minty.ValidationError) {
	timestamp := ts.Format("15:04:05.000")
	fmt.Printf("[%s] \033[1;33mVALIDATION ERROR:\033[0m %s\n", timestamp, minty.FormatKind(ev.Kind()))

	for i, err := range errors {
		switch err.Type {
		case minty.AnomalyInvalidCount, minty.AnomalyInvalidDuration:
			fmt.Printf("  Issue %d: \033[1;31m%s\033[0m\n", i+1, err.Message)

		case minty.AnomalyInconsistentVerdict:
			fmt.Printf("  Issue %d: \033[1;33m%s\033[0m\n", i+1, err.Message)
			if required, ok := err.Details["required"].(int); ok {
				fmt.Printf("    required=%ds\n", required)
			}

		case minty.AnomalyUnknownTag:
			fmt.Printf("  Issue %d: \033[1;33m%s\033[0m\n", i+1, err.Message)

		default:
			fmt.Printf("  Issue %d: %s\n", i+1, err.Message)
		}
	}

	if details := minty.FormatDetails(ev); details != "" {
		fmt.Printf(" %s\n", details)
	}
	fmt.Printf("  >>> MESSAGE REJECTED <<<\n\n")
}

// runTUIMode runs error detection in TUI mode
func runTUIMode(ctx context.Context, mgr *link.Manager, connInfo string) error {
	m := initialModel(connInfo, statsInterval, showAll)
	p := tea.NewProgram(m, tea.WithContext(ctx))

	// Link reader goroutine
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-mgr.Events():
				p.Send(lineMsg{
					at:               time.Now(),
					event:            ev,
					validationErrors: minty.ValidateEvent(ev),
				})
			}
		}
	}()

	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("TUI error: %v", err)
	}
	return nil
}

// runTextMode runs error detection in text mode
func runTextMode(ctx context.Context, mgr *link.Manager, connInfo string) error {
	fmt.Printf("Mintylink - Error Detection Mode\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Statistics interval: %d seconds\n", statsInterval)
	if showAll {
		fmt.Printf("Mode: All messages\n")
	} else {
		fmt.Printf("Mode: Anomalies only\n")
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	stats := minty.NewStatistics()

	statsTicker := time.NewTicker(time.Duration(statsInterval) * time.Second)
	defer statsTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			fmt.Println()
			fmt.Print(stats.String())
			return nil

		case ev := <-mgr.Events():
			now := time.Now()
			validationErrors := minty.ValidateEvent(ev)
			stats.Update(ev, validationErrors)

			switch {
			case len(validationErrors) > 0:
				printValidationErrors(now, ev, validationErrors)
			case ev.Kind() == minty.KindSessionOutcome:
				// Always print session outcomes
				fmt.Print(minty.FormatEvent(now, ev))
			case showAll:
				fmt.Print(minty.FormatEvent(now, ev))
			}

			if d, ok := ev.(minty.Disconnected); ok {
				fmt.Printf("\nConnection closed: %s\n\n", d.Reason)
				fmt.Print(stats.String())
				return nil
			}

		case <-statsTicker.C:
			fmt.Println()
			fmt.Print(stats.String())
			fmt.Println()
		}
	}
}
