// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package minty implements the Minty holder text protocol.
//
// The holder controller speaks a line-oriented ASCII protocol over a
// persistent socket. Each frame is exactly one line made of colon
// separated tokens: the first token is the message tag, the rest are
// positional fields. This package turns lines into typed events and
// commands into lines. It performs no I/O and keeps no state.
package minty

// FieldSeparator splits a protocol line into tag and fields
const FieldSeparator = ":"

// Device to client message tags
const (
	TagConnected           = "CONNECTED"
	TagToothbrushRemoved   = "TOOTHBRUSH_REMOVED"
	TagToothbrushDetected  = "TOOTHBRUSH_DETECTED"
	TagToothbrushReturned  = "TOOTHBRUSH_RETURNED"
	TagSessionValid        = "SESSION_VALID"
	TagSessionTooShort     = "SESSION_TOO_SHORT"
	TagSessionComplete     = "SESSION_COMPLETE"
	TagProgress            = "PROGRESS"
	TagDots                = "DOTS"
	TagEvent               = "EVENT"
	TagStatus              = "STATUS"
	TagFeedback            = "FEEDBACK"
	TagSessionLimitReached = "SESSION_LIMIT_REACHED"
	TagNewDay              = "NEW_DAY"
	TagPong                = "PONG"
)

// Client to device command tags
const (
	CmdUserID    = "USER_ID"
	CmdGetStatus = "GET_STATUS"
	CmdPing      = "PING"
)

// SESSION_COMPLETE verdicts
const (
	VerdictValid    = "VALID"
	VerdictTooShort = "TOO_SHORT"
)

// FEEDBACK values
const (
	FeedbackSuccess  = "SUCCESS"
	FeedbackTooShort = "TOO_SHORT"
)

// Network constants
const (
	// ControlPort is the websocket port served by the holder
	ControlPort = 81

	// DiscoveryPort is the UDP port the holder listens on for discovery requests
	DiscoveryPort = 8888

	// DiscoveryRequest is the datagram payload broadcast by clients
	DiscoveryRequest = "MINTY_DISCOVER"

	// DiscoveryResponse prefixes every valid discovery reply ("MINTY_ESP32:<deviceId>")
	DiscoveryResponse = "MINTY_ESP32"
)

// Session rules
const (
	// MinSessionSeconds is the validity threshold for a brushing session
	MinSessionSeconds = 60

	// DailySessionGoal is the number of sessions counted per day
	DailySessionGoal = 3
)

// Kind identifies the concrete type of an Event
type Kind uint8

const (
	KindUnknown Kind = iota
	KindConnected
	KindDisconnected
	KindToothbrushRemoved
	KindToothbrushReturned
	KindSessionOutcome
	KindProgressReport
	KindDotsReport
	KindEventLog
	KindStatus
	KindSessionLimitReached
	KindNewDay
	KindPong
)
