// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package minty

import (
	"fmt"
	"time"
)

// FormatEvent formats an event into a human-readable log line
func FormatEvent(ts time.Time, ev Event) string {
	return fmt.Sprintf("[%s] %s%s\n", ts.Format("15:04:05.000"), FormatKind(ev.Kind()), FormatDetails(ev))
}

// FormatKind returns the human-readable name for an event kind
func FormatKind(k Kind) string {
	switch k {
	case KindConnected:
		return "CONNECTED"
	case KindDisconnected:
		return "DISCONNECTED"
	case KindToothbrushRemoved:
		return "TOOTHBRUSH_REMOVED"
	case KindToothbrushReturned:
		return "TOOTHBRUSH_RETURNED"
	case KindSessionOutcome:
		return "SESSION_OUTCOME"
	case KindProgressReport:
		return "PROGRESS"
	case KindDotsReport:
		return "DOTS"
	case KindEventLog:
		return "EVENT"
	case KindStatus:
		return "STATUS"
	case KindSessionLimitReached:
		return "SESSION_LIMIT_REACHED"
	case KindNewDay:
		return "NEW_DAY"
	case KindPong:
		return "PONG"
	default:
		return "UNKNOWN"
	}
}

// FormatDetails formats the event fields, prefixed with a space when non-empty
func FormatDetails(ev Event) string {
	switch e := ev.(type) {
	case Connected:
		if e.DeviceID == "" {
			return ""
		}
		return fmt.Sprintf(" device=%s", e.DeviceID)

	case Disconnected:
		if e.Reason == "" {
			return ""
		}
		return fmt.Sprintf(" reason=%q", e.Reason)

	case SessionOutcome:
		verdict := VerdictTooShort
		if e.Valid {
			verdict = VerdictValid
		}
		result := fmt.Sprintf(" %s duration=%s", verdict, FormatSeconds(e.DurationSeconds))
		if e.HasDailyCount {
			result += fmt.Sprintf(" today=%d/%d", e.DailyCount, DailySessionGoal)
		}
		if e.RequiredSeconds > 0 {
			result += fmt.Sprintf(" required=%s", FormatSeconds(e.RequiredSeconds))
		}
		return result

	case ProgressReport:
		return fmt.Sprintf(" %d/%d", e.Current, e.Total)

	case DotsReport:
		return fmt.Sprintf(" AM=%s NN=%s PM=%s", formatDot(e.Morning), formatDot(e.Afternoon), formatDot(e.Evening))

	case EventLog:
		return " " + e.Text

	case Status:
		return " " + e.Text

	case Unknown:
		return fmt.Sprintf(" raw=%q", e.Raw)
	}
	return ""
}

// FormatSeconds renders a duration in seconds as m:ss
func FormatSeconds(seconds int) string {
	if seconds < 0 {
		return "-" + FormatSeconds(-seconds)
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}

func formatDot(done bool) string {
	if done {
		return "●"
	}
	return "○"
}
