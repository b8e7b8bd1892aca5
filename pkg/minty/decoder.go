// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package minty

import (
	"strconv"
	"strings"
)

// Decode turns one protocol line into an Event.
//
// Decoding never fails: a line with an unrecognized tag or too few
// fields becomes Unknown, numeric fields that do not parse become 0.
// New firmware messages therefore pass through as Unknown instead of
// breaking the client.
func Decode(line string) Event {
	line = strings.TrimRight(line, "\r\n")
	tag, rest, hasRest := strings.Cut(line, FieldSeparator)
	fields := splitFields(rest, hasRest)

	switch tag {
	case TagConnected:
		if !hasRest {
			return Unknown{Raw: line}
		}
		return Connected{DeviceID: rest}

	case TagToothbrushRemoved:
		return ToothbrushRemoved{}

	case TagToothbrushDetected, TagToothbrushReturned:
		return ToothbrushReturned{}

	case TagSessionValid:
		// SESSION_VALID:<durationSec>:<dailyCount>
		if len(fields) < 2 {
			return Unknown{Raw: line}
		}
		return SessionOutcome{
			DurationSeconds: parseInt(fields[0]),
			Valid:           true,
			DailyCount:      parseInt(fields[1]),
			HasDailyCount:   true,
		}

	case TagSessionTooShort:
		// SESSION_TOO_SHORT:<durationSec>:<requiredSec>
		if len(fields) < 2 {
			return Unknown{Raw: line}
		}
		return SessionOutcome{
			DurationSeconds: parseInt(fields[0]),
			Valid:           false,
			RequiredSeconds: parseInt(fields[1]),
		}

	case TagSessionComplete:
		// SESSION_COMPLETE:<durationSec>:<VALID|TOO_SHORT>
		if len(fields) < 2 {
			return Unknown{Raw: line}
		}
		return SessionOutcome{
			DurationSeconds: parseInt(fields[0]),
			Valid:           fields[1] == VerdictValid || parseBool(fields[1]),
		}

	case TagProgress:
		// PROGRESS:<current>:<total>
		if len(fields) < 2 {
			return Unknown{Raw: line}
		}
		return ProgressReport{
			Current: parseInt(fields[0]),
			Total:   parseInt(fields[1]),
		}

	case TagDots:
		// DOTS:<morning>:<afternoon>:<evening>
		if len(fields) < 3 {
			return Unknown{Raw: line}
		}
		return DotsReport{
			Morning:   parseBool(fields[0]),
			Afternoon: parseBool(fields[1]),
			Evening:   parseBool(fields[2]),
		}

	case TagEvent:
		if !hasRest {
			return Unknown{Raw: line}
		}
		return EventLog{Text: rest}

	case TagStatus:
		if !hasRest {
			return Unknown{Raw: line}
		}
		return Status{Text: rest}

	case TagFeedback:
		if !hasRest {
			return Unknown{Raw: line}
		}
		return EventLog{Text: feedbackText(rest)}

	case TagSessionLimitReached:
		return SessionLimitReached{}

	case TagNewDay:
		return NewDay{}

	case TagPong:
		return Pong{}
	}

	return Unknown{Raw: line}
}

// splitFields returns the positional fields following the tag
func splitFields(rest string, hasRest bool) []string {
	if !hasRest {
		return nil
	}
	return strings.Split(rest, FieldSeparator)
}

// parseInt parses a numeric field, defaulting to 0
func parseInt(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}

// parseBool accepts "1" and "true" as true, anything else is false
func parseBool(s string) bool {
	s = strings.TrimSpace(s)
	return s == "1" || s == "true"
}

func feedbackText(feedback string) string {
	switch feedback {
	case FeedbackSuccess:
		return "Session completed successfully!"
	case FeedbackTooShort:
		return "Session too short, try again"
	default:
		return "Feedback: " + feedback
	}
}
