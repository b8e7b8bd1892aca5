// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/mintylink/pkg/clock"
	"github.com/Thermoquad/mintylink/pkg/engine"
	"github.com/Thermoquad/mintylink/pkg/identity"
	"github.com/Thermoquad/mintylink/pkg/link"
	"github.com/Thermoquad/mintylink/pkg/minty"
	"github.com/Thermoquad/mintylink/pkg/progress"
	"github.com/Thermoquad/mintylink/pkg/session"
)

var (
	replayPersist bool
)

var replayCmd = &cobra.Command{
	Use:   "replay <capture>",
	Short: "Play a recorded capture through the session engine",
	Long: `Feed the holder messages of a capture written by 'mintylink monitor --record'
through the session engine and print the resulting event log.

Time is simulated from the capture timestamps, so a recorded morning of
brushing replays in an instant with the same session durations. The --mode
flag selects who decides session validity, which makes replay a way to
compare device and client timing on real traffic.

Sessions are only written to the progress database with --persist.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	rootCmd.AddCommand(replayCmd)
	replayCmd.Flags().BoolVar(&replayPersist, "persist", false, "Store replayed sessions in the progress database")
}

// replayLink serves recorded events to the engine
type replayLink struct {
	events chan minty.Event

	mu     sync.Mutex
	status link.Status
}

func newReplayLink() *replayLink {
	return &replayLink{events: make(chan minty.Event)}
}

func (l *replayLink) Connect(ctx context.Context, addr minty.DeviceAddress) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.status = link.Status{State: link.Connected, Address: addr}
	return nil
}

func (l *replayLink) Disconnect() {}

func (l *replayLink) Send(minty.Command) error { return nil }

func (l *replayLink) Events() <-chan minty.Event { return l.events }

func (l *replayLink) Status() link.Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

// deliver hands ev to the engine. The Pong that follows is only taken
// once ev has been handled, so time never moves under a running handler.
func (l *replayLink) deliver(ctx context.Context, ev minty.Event) error {
	for _, e := range []minty.Event{ev, minty.Pong{}} {
		select {
		case l.events <- e:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// replayResult summarises a replay
type replayResult struct {
	Lines    int
	Sessions int
	Valid    int
	Progress progress.DailyProgress
}

func runReplay(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open capture: %w", err)
	}
	defer f.Close()

	mode, err := session.ParseMode(cfg.Session.Mode)
	if err != nil {
		return err
	}

	var st progress.Store
	id := identity.Chain(newIdentity(), identity.Static("replay"))
	if replayPersist {
		s, err := openStore(id)
		if err != nil {
			return err
		}
		defer s.Close()
		st = s
	}

	ctx, cancel := signalContext()
	defer cancel()

	fmt.Printf("Mintylink - Replay\n")
	fmt.Printf("Capture: %s\n", args[0])
	fmt.Printf("Mode: %s\n\n", mode)

	res, err := replayCapture(ctx, minty.NewCaptureReader(f), replayOptions{
		mode:        mode,
		minDuration: time.Duration(cfg.Session.MinimumSeconds) * time.Second,
		identity:    id,
		store:       st,
		out:         os.Stdout,
	})
	if err != nil {
		return err
	}

	fmt.Printf("\n--- Replay complete ---\n")
	fmt.Printf("%d lines, %d sessions (%d valid)\n", res.Lines, res.Sessions, res.Valid)
	fmt.Printf("Progress: %d/%d%s\n", res.Progress.CompletedSessions, res.Progress.Total(), minty.FormatDetails(res.Progress.Dots()))
	return nil
}

type replayOptions struct {
	mode        session.Mode
	minDuration time.Duration
	identity    identity.Provider
	store       progress.Store
	out         io.Writer
}

// replayCapture drives an engine from the inbound records of a capture
func replayCapture(ctx context.Context, r *minty.CaptureReader, opts replayOptions) (replayResult, error) {
	var res replayResult

	first, err := r.Next()
	if errors.Is(err, io.EOF) {
		return res, fmt.Errorf("capture is empty")
	}
	if err != nil {
		return res, err
	}

	fc := clock.Fake(first.Time())
	rl := newReplayLink()
	eng := engine.New(engine.Config{
		Link:        rl,
		Identity:    opts.identity,
		Store:       opts.store,
		Mode:        opts.mode,
		MinDuration: opts.minDuration,
		Clock:       fc,
		Logger:      logger.With("component", "replay"),
	})

	runCtx, stop := context.WithCancel(ctx)
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		eng.Run(runCtx)
	}()

	printed := make(chan struct{})
	go func() {
		defer close(printed)
		show := func(u engine.Update) {
			switch u := u.(type) {
			case engine.EventLog:
				fmt.Fprintln(opts.out, u.String())
			case engine.SessionOutcome:
				res.Sessions++
				if u.Valid {
					res.Valid++
				}
			}
		}
		for {
			select {
			case u := <-eng.Updates():
				show(u)
			case <-runDone:
				for {
					select {
					case u := <-eng.Updates():
						show(u)
					default:
						return
					}
				}
			}
		}
	}()

	finish := func() {
		eng.Flush()
		stop()
		<-runDone
		<-printed
		res.Progress = eng.Progress()
	}

	if err := eng.Connect(ctx, minty.DeviceAddress{Host: "replay"}); err != nil {
		finish()
		return res, err
	}
	if err := rl.deliver(runCtx, minty.Connected{}); err != nil {
		finish()
		return res, err
	}

	rec := first
	for {
		if rec.Direction == minty.Inbound {
			if d := rec.Time().Sub(fc.Now()); d > 0 {
				fc.Advance(d)
			}
			res.Lines++
			if err := rl.deliver(runCtx, minty.Decode(rec.Line)); err != nil {
				finish()
				return res, err
			}
		}

		rec, err = r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			finish()
			return res, fmt.Errorf("capture truncated after %d lines: %w", res.Lines, err)
		}
	}

	if err := rl.deliver(runCtx, minty.Disconnected{Reason: "end of capture"}); err != nil {
		finish()
		return res, err
	}
	finish()
	return res, nil
}
