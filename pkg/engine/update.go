// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package engine

import (
	"time"

	"github.com/Thermoquad/mintylink/pkg/minty"
	"github.com/Thermoquad/mintylink/pkg/progress"
)

// Update is a state change surfaced to the presentation layer
type Update interface {
	isUpdate()
}

// Connected reports an open link
type Connected struct {
	Address minty.DeviceAddress
}

// Disconnected reports a closed link
type Disconnected struct {
	Reason string
}

// ToothbrushRemoved reports the start of a session
type ToothbrushRemoved struct{}

// ToothbrushReturned reports the brush back in the holder
type ToothbrushReturned struct{}

// SessionTick carries the live duration of the session in progress
type SessionTick struct {
	Elapsed time.Duration
}

// SessionOutcome reports a finished session. Counted is false for
// invalid sessions and for sessions past the daily goal.
type SessionOutcome struct {
	DurationSeconds int
	Valid           bool
	Period          progress.Period
	Counted         bool
}

type ProgressUpdate struct {
	Current int
	Total   int
}

type DotsUpdate struct {
	Morning   bool
	Afternoon bool
	Evening   bool
}

// EventLog is a new entry in the user-facing event log
type EventLog struct {
	At   time.Time
	Text string
}

// LogCleared reports that the event log was emptied
type LogCleared struct{}

// Error is a user-facing failure message
type Error struct {
	Message string
}

func (Connected) isUpdate()          {}
func (Disconnected) isUpdate()       {}
func (ToothbrushRemoved) isUpdate()  {}
func (ToothbrushReturned) isUpdate() {}
func (SessionTick) isUpdate()        {}
func (SessionOutcome) isUpdate()     {}
func (ProgressUpdate) isUpdate()     {}
func (DotsUpdate) isUpdate()         {}
func (EventLog) isUpdate()           {}
func (LogCleared) isUpdate()         {}
func (Error) isUpdate()              {}

// String formats the entry the way the event log displays it
func (e EventLog) String() string {
	return "[" + e.At.Format("15:04:05") + "] " + e.Text
}
