// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/mintylink/pkg/discovery"
	"github.com/Thermoquad/mintylink/pkg/engine"
	"github.com/Thermoquad/mintylink/pkg/link"
	"github.com/Thermoquad/mintylink/pkg/minty"
)

var (
	controlReconnect bool
)

var controlCmd = &cobra.Command{
	Use:   "control [address]",
	Short: "Interactive TUI for following brushing sessions",
	Long: `Follow brushing sessions and daily progress via an interactive terminal UI.

This command connects to a Minty holder over WebSocket (or UART) and shows
the live session, today's progress toward the daily goal and the event log.
Valid sessions are stored in the local progress database.

Features:
  - Holder discovery (UDP broadcast or subnet scan)
  - Live session timer
  - Daily progress with morning/afternoon/evening dots
  - Raw command input
  - Statistics tracking
  - Event logging
  - Optional automatic reconnection on connection loss (--reconnect)

Without an address the TUI starts with a broadcast discovery. Tab switches
between the holder list and the command input.

When stdout is not a terminal the event log is printed as plain text.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runControl,
}

func init() {
	rootCmd.AddCommand(controlCmd)
	controlCmd.Flags().BoolVar(&controlReconnect, "reconnect", false, "Reconnect with backoff when the link drops")
}

const (
	minReconnectBackoff = 1 * time.Second
	maxReconnectBackoff = 30 * time.Second
)

// nextBackoff doubles the reconnect delay up to the maximum
func nextBackoff(d time.Duration) time.Duration {
	if d < minReconnectBackoff {
		return minReconnectBackoff
	}
	d *= 2
	if d > maxReconnectBackoff {
		d = maxReconnectBackoff
	}
	return d
}

// tapLine is one line crossing the link, observed for statistics
type tapLine struct {
	dir  minty.Direction
	line string
}

// lineTap forwards link traffic without ever blocking the receive loop
type lineTap chan tapLine

func (t lineTap) tap(dir minty.Direction, line string) {
	select {
	case t <- tapLine{dir: dir, line: line}:
	default:
	}
}

func runControl(cmd *cobra.Command, args []string) error {
	tui := isTerminal()
	if tui {
		// Log output would tear the alt screen
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	lines := make(lineTap, 256)
	eng, cleanup, err := newEngine(link.Tap(lines.tap))
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := signalContext()
	defer cancel()

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		eng.Run(ctx)
	}()
	defer func() {
		eng.Disconnect()
		cancel()
		<-runDone
	}()

	var addr *minty.DeviceAddress
	if a, err := deviceAddress(args); err == nil {
		addr = &a
	}

	if !tui {
		return runControlText(ctx, eng, addr)
	}

	m := initialControlModel(eng, addr, controlReconnect)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion(), tea.WithContext(ctx))

	// Forwarder goroutine. Engine calls that block (Connect, Discover)
	// run as tea.Cmds, never here.
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case u := <-eng.Updates():
				p.Send(engineUpdateMsg{update: u})
			case l := <-lines:
				p.Send(tapMsg(l))
			}
		}
	}()

	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("TUI error: %v", err)
	}
	return nil
}

// runControlText prints the event log until interrupted. Without an
// address the first holder found by broadcast discovery is used.
func runControlText(ctx context.Context, eng *engine.Engine, addr *minty.DeviceAddress) error {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case u := <-eng.Updates():
				if entry, ok := u.(engine.EventLog); ok {
					fmt.Println(entry.String())
				}
			}
		}
	}()

	if addr == nil {
		found, err := eng.Discover(ctx, discovery.Broadcast)
		if err != nil {
			return err
		}
		if len(found) == 0 {
			return fmt.Errorf("no holders found")
		}
		addr = &found[0]
	}

	backoff := time.Duration(0)
	for {
		if err := eng.Connect(ctx, *addr); err != nil {
			if errors.Is(err, engine.ErrNoUser) || !controlReconnect {
				return err
			}
		} else {
			backoff = 0
			waitForDisconnect(ctx, eng)
		}

		if !controlReconnect || ctx.Err() != nil {
			return nil
		}
		backoff = nextBackoff(backoff)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
	}
}

// waitForDisconnect polls the link state until it leaves Connected
func waitForDisconnect(ctx context.Context, eng *engine.Engine) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if eng.State().Link.State != link.Connected {
				return
			}
		}
	}
}
