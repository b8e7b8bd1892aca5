// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package session tracks a single brushing session between the brush
// leaving the holder and coming back.
//
// A Machine is not safe for concurrent use. It is driven from one
// goroutine that feeds it link events and ticks from TickC.
package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/Thermoquad/mintylink/pkg/clock"
	"github.com/Thermoquad/mintylink/pkg/minty"
)

// Mode selects who decides whether a session is valid
type Mode int

const (
	// DeviceAuthoritative relays SESSION_VALID, SESSION_TOO_SHORT and
	// SESSION_COMPLETE verdicts from the holder
	DeviceAuthoritative Mode = iota
	// ClientAuthoritative times the session locally and compares it
	// against MinDuration
	ClientAuthoritative
)

func (m Mode) String() string {
	if m == ClientAuthoritative {
		return "client"
	}
	return "device"
}

// ParseMode accepts "device" or "client"
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "device":
		return DeviceAuthoritative, nil
	case "client":
		return ClientAuthoritative, nil
	}
	return DeviceAuthoritative, fmt.Errorf("invalid session mode %q (use device or client)", s)
}

// State of the machine
type State int

const (
	Idle State = iota
	InProgress
)

func (s State) String() string {
	if s == InProgress {
		return "in progress"
	}
	return "idle"
}

// TickInterval is the live duration refresh rate
const TickInterval = time.Second

// Result describes what handling one event did
type Result struct {
	Started bool                  // Idle -> InProgress
	Ended   bool                  // InProgress -> Idle because the brush came back
	Ignored bool                  // Duplicate removal while already InProgress
	Aborted bool                  // Session discarded because the link dropped
	Elapsed time.Duration         // Measured duration when the session ended
	Outcome *minty.SessionOutcome // Completed session, valid or not
}

// Machine is the session state machine
type Machine struct {
	mode        Mode
	minDuration time.Duration
	clock       clock.Clock

	state     State
	startedAt time.Time
	ticker    *clock.Ticker
}

// Option configures a Machine
type Option func(*Machine)

// WithClock replaces the real clock
func WithClock(c clock.Clock) Option {
	return func(m *Machine) { m.clock = c }
}

// WithMinDuration changes the client-side validity threshold
func WithMinDuration(d time.Duration) Option {
	return func(m *Machine) { m.minDuration = d }
}

// New creates an idle machine
func New(mode Mode, opts ...Option) *Machine {
	m := &Machine{
		mode:        mode,
		minDuration: minty.MinSessionSeconds * time.Second,
		clock:       clock.Real(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Mode returns the validity mode
func (m *Machine) Mode() Mode { return m.mode }

// State returns the current state
func (m *Machine) State() State { return m.state }

// Elapsed returns the time since the session started, or 0 when idle
func (m *Machine) Elapsed() time.Duration {
	if m.state != InProgress {
		return 0
	}
	return m.clock.Now().Sub(m.startedAt)
}

// TickC delivers 1 Hz ticks while a session is in progress. It returns
// nil when idle, so a select on it blocks forever.
func (m *Machine) TickC() <-chan time.Time {
	if m.ticker == nil {
		return nil
	}
	return m.ticker.C
}

// Handle feeds one protocol event into the machine
func (m *Machine) Handle(ev minty.Event) Result {
	switch e := ev.(type) {
	case minty.ToothbrushRemoved:
		if m.state == InProgress {
			return Result{Ignored: true}
		}
		m.start()
		return Result{Started: true}

	case minty.ToothbrushReturned:
		if m.state != InProgress {
			return Result{}
		}
		elapsed := m.stop()
		res := Result{Ended: true, Elapsed: elapsed}
		if m.mode == ClientAuthoritative {
			secs := int(elapsed / time.Second)
			res.Outcome = &minty.SessionOutcome{
				DurationSeconds: secs,
				Valid:           elapsed >= m.minDuration,
			}
		}
		return res

	case minty.SessionOutcome:
		if m.mode != DeviceAuthoritative {
			return Result{}
		}
		res := Result{Outcome: &e}
		if m.state == InProgress {
			res.Ended = true
			res.Elapsed = m.stop()
		}
		return res

	case minty.Disconnected:
		if m.state != InProgress {
			return Result{}
		}
		elapsed := m.stop()
		return Result{Aborted: true, Elapsed: elapsed}
	}
	return Result{}
}

// Reset discards any session in progress without an outcome
func (m *Machine) Reset() {
	if m.state == InProgress {
		m.stop()
	}
}

func (m *Machine) start() {
	m.state = InProgress
	m.startedAt = m.clock.Now()
	m.ticker = m.clock.NewTicker(TickInterval)
}

func (m *Machine) stop() time.Duration {
	elapsed := m.clock.Now().Sub(m.startedAt)
	m.state = Idle
	m.startedAt = time.Time{}
	if m.ticker != nil {
		m.ticker.Stop()
		m.ticker = nil
	}
	return elapsed
}
