// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package progress keeps the in-memory view of today's brushing goal.
//
// The Progress Store is the source of truth; the Aggregator is a cache
// that gives immediate feedback and is reconciled on connect.
package progress

import (
	"context"
	"sync"
	"time"

	"github.com/Thermoquad/mintylink/pkg/minty"
)

// DateLayout keys a DailyProgress by local calendar day
const DateLayout = "2006-01-02"

// DefaultScore is recorded for sessions when no quality score is known
const DefaultScore = 85

// Period is the part of the day a counted session fills
type Period string

const (
	Morning   Period = "morning"
	Afternoon Period = "afternoon"
	Evening   Period = "evening"
	General   Period = "general"
)

// PeriodFor returns the period filled by the next session given the
// number already completed today
func PeriodFor(completedBefore int) Period {
	switch completedBefore {
	case 0:
		return Morning
	case 1:
		return Afternoon
	case 2:
		return Evening
	default:
		return General
	}
}

// DailyProgress is one day's goal state
type DailyProgress struct {
	Date              string `json:"date" yaml:"date"`
	CompletedSessions int    `json:"completed_sessions" yaml:"completed_sessions"`
	Morning           bool   `json:"morning" yaml:"morning"`
	Afternoon         bool   `json:"afternoon" yaml:"afternoon"`
	Evening           bool   `json:"evening" yaml:"evening"`
}

// Total is the daily goal
func (DailyProgress) Total() int { return minty.DailySessionGoal }

// Dots returns the period flags as a protocol dots report
func (p DailyProgress) Dots() minty.DotsReport {
	return minty.DotsReport{Morning: p.Morning, Afternoon: p.Afternoon, Evening: p.Evening}
}

// Mark sets the flag of a period. General has no flag.
func (p *DailyProgress) Mark(period Period) {
	switch period {
	case Morning:
		p.Morning = true
	case Afternoon:
		p.Afternoon = true
	case Evening:
		p.Evening = true
	}
}

// Store persists sessions and daily progress
type Store interface {
	// SaveSession records a finished valid session
	SaveSession(ctx context.Context, period Period, durationSec int, score int) error
	// TodayProgress returns today's progress, or nil when nothing was recorded
	TodayProgress(ctx context.Context) (*DailyProgress, error)
}

// Aggregator is the current-day cache. Safe for concurrent use.
type Aggregator struct {
	mu    sync.Mutex
	now   func() time.Time
	today DailyProgress
}

// NewAggregator creates an empty cache for the current day
func NewAggregator(now func() time.Time) *Aggregator {
	if now == nil {
		now = time.Now
	}
	a := &Aggregator{now: now}
	a.today = DailyProgress{Date: a.date()}
	return a
}

func (a *Aggregator) date() string {
	return a.now().Format(DateLayout)
}

// Snapshot returns a copy of the cached progress. The cache keeps its
// day until Reset or RefreshFromStore replaces it.
func (a *Aggregator) Snapshot() DailyProgress {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.today
}

// ApplyOutcome counts a valid session. It returns the period the
// session fills and whether it was counted: invalid sessions and
// sessions past the daily goal are not.
func (a *Aggregator) ApplyOutcome(o minty.SessionOutcome) (Period, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !o.Valid {
		return "", false
	}
	period := PeriodFor(a.today.CompletedSessions)
	if a.today.CompletedSessions >= minty.DailySessionGoal {
		return period, false
	}
	a.today.CompletedSessions++
	a.today.Mark(period)
	return period, true
}

// ApplyCountedOutcome adopts a valid session the holder already counted.
// dailyCount includes this session. The matching period flag is raised
// unless the session lies past the daily goal.
func (a *Aggregator) ApplyCountedOutcome(dailyCount int) (DailyProgress, Period, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	period := PeriodFor(dailyCount - 1)
	counted := dailyCount >= 1 && dailyCount <= minty.DailySessionGoal
	a.today.CompletedSessions = clamp(dailyCount)
	if counted {
		a.today.Mark(period)
	}
	return a.today, period, counted
}

// ApplyProgressReport adopts the holder's count, clamped to the goal
func (a *Aggregator) ApplyProgressReport(r minty.ProgressReport) DailyProgress {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.today.CompletedSessions = clamp(r.Current)
	return a.today
}

// ApplyDotsReport adopts the holder's period flags
func (a *Aggregator) ApplyDotsReport(r minty.DotsReport) DailyProgress {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.today.Morning = r.Morning
	a.today.Afternoon = r.Afternoon
	a.today.Evening = r.Evening
	return a.today
}

// RefreshFromStore replaces the cache with the store's copy of today.
// A day without records resets the cache to zero.
func (a *Aggregator) RefreshFromStore(ctx context.Context, s Store) (DailyProgress, error) {
	stored, err := s.TodayProgress(ctx)
	if err != nil {
		return a.Snapshot(), err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if stored == nil {
		a.today = DailyProgress{Date: a.date()}
		return a.today, nil
	}
	fresh := *stored
	fresh.CompletedSessions = clamp(fresh.CompletedSessions)
	if fresh.Date == "" {
		fresh.Date = a.date()
	}
	a.today = fresh
	return a.today, nil
}

// Reset zeroes the counter and flags
func (a *Aggregator) Reset() DailyProgress {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.today = DailyProgress{Date: a.date()}
	return a.today
}

func clamp(n int) int {
	if n < 0 {
		return 0
	}
	if n > minty.DailySessionGoal {
		return minty.DailySessionGoal
	}
	return n
}
