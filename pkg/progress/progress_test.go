// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package progress

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Thermoquad/mintylink/pkg/minty"
)

type fakeStore struct {
	today *DailyProgress
	err   error
}

func (f *fakeStore) SaveSession(ctx context.Context, period Period, durationSec int, score int) error {
	return nil
}

func (f *fakeStore) TodayProgress(ctx context.Context) (*DailyProgress, error) {
	return f.today, f.err
}

func fixedNow(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

var valid = minty.SessionOutcome{DurationSeconds: 75, Valid: true}

func TestPeriodFor(t *testing.T) {
	expected := []Period{Morning, Afternoon, Evening, General, General}
	for i, p := range expected {
		if got := PeriodFor(i); got != p {
			t.Errorf("PeriodFor(%d) = %s, expected %s", i, got, p)
		}
	}
}

func TestApplyOutcome_CountsAndCaps(t *testing.T) {
	a := NewAggregator(fixedNow(time.Date(2025, 3, 14, 8, 0, 0, 0, time.Local)))

	periods := []Period{Morning, Afternoon, Evening}
	for i, expected := range periods {
		period, counted := a.ApplyOutcome(valid)
		if !counted || period != expected {
			t.Fatalf("session %d: got (%s, %v), expected (%s, true)", i, period, counted, expected)
		}
	}

	period, counted := a.ApplyOutcome(valid)
	if counted || period != General {
		t.Errorf("fourth session: got (%s, %v), expected (general, false)", period, counted)
	}

	snap := a.Snapshot()
	if snap.CompletedSessions != 3 {
		t.Errorf("expected count capped at 3, got %d", snap.CompletedSessions)
	}
	if !snap.Morning || !snap.Afternoon || !snap.Evening {
		t.Errorf("expected all dots set, got %+v", snap)
	}
	if snap.Date != "2025-03-14" {
		t.Errorf("unexpected date %q", snap.Date)
	}
}

func TestApplyOutcome_InvalidNotCounted(t *testing.T) {
	a := NewAggregator(nil)
	if _, counted := a.ApplyOutcome(minty.SessionOutcome{DurationSeconds: 45}); counted {
		t.Error("invalid session must not count")
	}
	if a.Snapshot().CompletedSessions != 0 {
		t.Error("count changed")
	}
}

func TestCountStaysInRange(t *testing.T) {
	a := NewAggregator(nil)
	inputs := []minty.Event{
		minty.ProgressReport{Current: 7, Total: 3},
		valid,
		minty.ProgressReport{Current: -2, Total: 3},
		valid, valid, valid, valid,
	}
	for i, ev := range inputs {
		switch e := ev.(type) {
		case minty.ProgressReport:
			a.ApplyProgressReport(e)
		case minty.SessionOutcome:
			a.ApplyOutcome(e)
		}
		if n := a.Snapshot().CompletedSessions; n < 0 || n > 3 {
			t.Fatalf("step %d: count %d out of range", i, n)
		}
	}
}

func TestApplyReports(t *testing.T) {
	a := NewAggregator(nil)
	p := a.ApplyProgressReport(minty.ProgressReport{Current: 2, Total: 3})
	if p.CompletedSessions != 2 {
		t.Errorf("expected 2, got %d", p.CompletedSessions)
	}
	p = a.ApplyDotsReport(minty.DotsReport{Morning: true, Evening: true})
	if !p.Morning || p.Afternoon || !p.Evening {
		t.Errorf("unexpected dots %+v", p)
	}
	if p.Dots() != (minty.DotsReport{Morning: true, Evening: true}) {
		t.Errorf("Dots() mismatch")
	}
}

func TestReset(t *testing.T) {
	a := NewAggregator(nil)
	a.ApplyOutcome(valid)
	a.ApplyOutcome(valid)

	p := a.Reset()
	if p.CompletedSessions != 0 || p.Morning || p.Afternoon || p.Evening {
		t.Errorf("expected zeroed progress, got %+v", p)
	}
}

func TestApplyCountedOutcome(t *testing.T) {
	tests := []struct {
		name       string
		dailyCount int
		period     Period
		counted    bool
		want       DailyProgress
	}{
		{"first", 1, Morning, true, DailyProgress{CompletedSessions: 1, Morning: true}},
		{"second", 2, Afternoon, true, DailyProgress{CompletedSessions: 2, Afternoon: true}},
		{"third", 3, Evening, true, DailyProgress{CompletedSessions: 3, Evening: true}},
		{"past goal", 4, General, false, DailyProgress{CompletedSessions: 3}},
		{"zero", 0, General, false, DailyProgress{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAggregator(fixedNow(time.Date(2025, 3, 14, 12, 0, 0, 0, time.Local)))
			p, period, counted := a.ApplyCountedOutcome(tt.dailyCount)
			if period != tt.period || counted != tt.counted {
				t.Errorf("got period=%s counted=%v, want %s %v", period, counted, tt.period, tt.counted)
			}
			tt.want.Date = "2025-03-14"
			if p != tt.want {
				t.Errorf("got %+v, want %+v", p, tt.want)
			}
			if a.Snapshot() != p {
				t.Errorf("snapshot %+v differs from result %+v", a.Snapshot(), p)
			}
		})
	}
}

func TestNoImplicitRollover(t *testing.T) {
	now := time.Date(2025, 3, 14, 23, 59, 0, 0, time.Local)
	a := NewAggregator(func() time.Time { return now })
	a.ApplyOutcome(valid)

	now = now.Add(2 * time.Minute)
	snap := a.Snapshot()
	if snap.Date != "2025-03-14" || snap.CompletedSessions != 1 {
		t.Errorf("cache changed without a reset: %+v", snap)
	}

	snap = a.Reset()
	if snap.Date != "2025-03-15" || snap.CompletedSessions != 0 {
		t.Errorf("expected a fresh day after reset, got %+v", snap)
	}
}

func TestRefreshFromStore(t *testing.T) {
	a := NewAggregator(fixedNow(time.Date(2025, 3, 14, 12, 0, 0, 0, time.Local)))
	a.ApplyOutcome(valid)

	store := &fakeStore{today: &DailyProgress{Date: "2025-03-14", CompletedSessions: 2, Morning: true, Afternoon: true}}
	p, err := a.RefreshFromStore(context.Background(), store)
	if err != nil {
		t.Fatal(err)
	}
	if p.CompletedSessions != 2 || !p.Afternoon {
		t.Errorf("store copy not adopted: %+v", p)
	}

	store.today = nil
	p, _ = a.RefreshFromStore(context.Background(), store)
	if p.CompletedSessions != 0 || p.Morning {
		t.Errorf("missing day should reset the cache, got %+v", p)
	}

	a.ApplyOutcome(valid)
	store.err = errors.New("offline")
	p, err = a.RefreshFromStore(context.Background(), store)
	if err == nil {
		t.Fatal("expected store error")
	}
	if p.CompletedSessions != 1 {
		t.Errorf("cache should survive a failed refresh, got %+v", p)
	}
}
