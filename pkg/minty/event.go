// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package minty

// DeviceAddress locates a holder on the local network
type DeviceAddress struct {
	Host     string // IP address, optionally with ":port"
	DeviceID string // Identifier reported by discovery (may be empty)
}

// String returns the host, annotated with the device identifier when known
func (a DeviceAddress) String() string {
	if a.DeviceID == "" {
		return a.Host
	}
	return a.DeviceID + " (" + a.Host + ")"
}

// Event is a decoded protocol message. Events are immutable values.
type Event interface {
	Kind() Kind
}

// Connected is emitted when the link opens (empty DeviceID) and when the
// holder greets the client with CONNECTED:<deviceId>
type Connected struct {
	DeviceID string
}

// Disconnected is emitted exactly once per teardown of a link
type Disconnected struct {
	Reason string
}

// ToothbrushRemoved reports the brush leaving the holder
type ToothbrushRemoved struct{}

// ToothbrushReturned reports the brush back in the holder
// (TOOTHBRUSH_DETECTED and TOOTHBRUSH_RETURNED)
type ToothbrushReturned struct{}

// SessionOutcome reports a finished session and its validity.
// DailyCount is set only by SESSION_VALID, RequiredSeconds only by SESSION_TOO_SHORT.
type SessionOutcome struct {
	DurationSeconds int
	Valid           bool
	DailyCount      int
	HasDailyCount   bool
	RequiredSeconds int
}

// ProgressReport carries the holder's view of today's completed sessions
type ProgressReport struct {
	Current int
	Total   int
}

// DotsReport carries the per-period completion flags
type DotsReport struct {
	Morning   bool
	Afternoon bool
	Evening   bool
}

// EventLog is free text meant for the user-facing event log
type EventLog struct {
	Text string
}

// Status is free text describing the holder state
type Status struct {
	Text string
}

// SessionLimitReached reports that the daily goal is already met
type SessionLimitReached struct{}

// NewDay reports a calendar rollover on the holder
type NewDay struct{}

// Pong answers a PING command
type Pong struct{}

// Unknown holds a line that could not be decoded
type Unknown struct {
	Raw string
}

func (Connected) Kind() Kind           { return KindConnected }
func (Disconnected) Kind() Kind        { return KindDisconnected }
func (ToothbrushRemoved) Kind() Kind   { return KindToothbrushRemoved }
func (ToothbrushReturned) Kind() Kind  { return KindToothbrushReturned }
func (SessionOutcome) Kind() Kind      { return KindSessionOutcome }
func (ProgressReport) Kind() Kind      { return KindProgressReport }
func (DotsReport) Kind() Kind          { return KindDotsReport }
func (EventLog) Kind() Kind            { return KindEventLog }
func (Status) Kind() Kind              { return KindStatus }
func (SessionLimitReached) Kind() Kind { return KindSessionLimitReached }
func (NewDay) Kind() Kind              { return KindNewDay }
func (Pong) Kind() Kind                { return KindPong }
func (Unknown) Kind() Kind             { return KindUnknown }
