// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package minty

import "fmt"

// AnomalyType represents different types of protocol anomalies
type AnomalyType int

const (
	AnomalyUnknownTag AnomalyType = iota
	AnomalyInvalidCount
	AnomalyInvalidDuration
	AnomalyInconsistentVerdict
)

// ValidationError represents an event that decoded but makes no sense
type ValidationError struct {
	Type    AnomalyType
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

// ValidateEvent checks a decoded event for anomalies.
// Returns a slice of validation errors (empty if the event is sane)
func ValidateEvent(ev Event) []ValidationError {
	switch e := ev.(type) {
	case Unknown:
		return []ValidationError{{
			Type:    AnomalyUnknownTag,
			Message: fmt.Sprintf("Unrecognized line %q", e.Raw),
			Details: map[string]interface{}{"raw": e.Raw},
		}}
	case SessionOutcome:
		return validateSessionOutcome(e)
	case ProgressReport:
		return validateProgressReport(e)
	}
	return []ValidationError{}
}

func validateSessionOutcome(e SessionOutcome) []ValidationError {
	errors := []ValidationError{}

	if e.DurationSeconds < 0 {
		errors = append(errors, ValidationError{
			Type:    AnomalyInvalidDuration,
			Message: fmt.Sprintf("Negative session duration=%d", e.DurationSeconds),
			Details: map[string]interface{}{"duration": e.DurationSeconds},
		})
	}

	if e.HasDailyCount && (e.DailyCount < 0 || e.DailyCount > DailySessionGoal) {
		errors = append(errors, ValidationError{
			Type:    AnomalyInvalidCount,
			Message: fmt.Sprintf("Daily count=%d outside 0-%d", e.DailyCount, DailySessionGoal),
			Details: map[string]interface{}{"count": e.DailyCount, "max": DailySessionGoal},
		})
	}

	// A short session reported as valid means the holder and client disagree on the threshold
	if e.Valid && e.DurationSeconds >= 0 && e.DurationSeconds < MinSessionSeconds {
		errors = append(errors, ValidationError{
			Type:    AnomalyInconsistentVerdict,
			Message: fmt.Sprintf("Valid session shorter than %ds (duration=%d)", MinSessionSeconds, e.DurationSeconds),
			Details: map[string]interface{}{"duration": e.DurationSeconds, "min": MinSessionSeconds},
		})
	}
	if e.RequiredSeconds > 0 && !e.Valid && e.DurationSeconds >= e.RequiredSeconds {
		errors = append(errors, ValidationError{
			Type:    AnomalyInconsistentVerdict,
			Message: fmt.Sprintf("Too short session meets requirement (duration=%d, required=%d)", e.DurationSeconds, e.RequiredSeconds),
			Details: map[string]interface{}{"duration": e.DurationSeconds, "required": e.RequiredSeconds},
		})
	}

	return errors
}

func validateProgressReport(e ProgressReport) []ValidationError {
	if e.Current < 0 || e.Total <= 0 || e.Current > e.Total {
		return []ValidationError{{
			Type:    AnomalyInvalidCount,
			Message: fmt.Sprintf("Invalid progress %d/%d", e.Current, e.Total),
			Details: map[string]interface{}{"current": e.Current, "total": e.Total},
		}}
	}
	return []ValidationError{}
}
