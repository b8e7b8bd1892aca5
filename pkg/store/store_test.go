// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/Thermoquad/mintylink/pkg/progress"
)

func openTestStore(t *testing.T, now *time.Time) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "minty.db"), "user-1", WithNow(func() time.Time { return *now }))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_RequiresUser(t *testing.T) {
	if _, err := Open(filepath.Join(t.TempDir(), "x.db"), ""); err == nil {
		t.Error("expected error without user id")
	}
}

func TestSaveSession_UpdatesProgress(t *testing.T) {
	now := time.Date(2025, 3, 14, 8, 0, 0, 0, time.Local)
	s := openTestStore(t, &now)
	ctx := context.Background()

	p, err := s.TodayProgress(ctx)
	if err != nil || p != nil {
		t.Fatalf("expected no progress yet, got %+v %v", p, err)
	}

	if err := s.SaveSession(ctx, progress.Morning, 75, progress.DefaultScore); err != nil {
		t.Fatal(err)
	}
	now = now.Add(6 * time.Hour)
	if err := s.SaveSession(ctx, progress.Afternoon, 90, progress.DefaultScore); err != nil {
		t.Fatal(err)
	}

	p, err = s.TodayProgress(ctx)
	if err != nil {
		t.Fatal(err)
	}
	expected := progress.DailyProgress{Date: "2025-03-14", CompletedSessions: 2, Morning: true, Afternoon: true}
	if *p != expected {
		t.Errorf("expected %+v, got %+v", expected, *p)
	}
}

func TestSaveSession_CapsAtGoal(t *testing.T) {
	now := time.Date(2025, 3, 14, 8, 0, 0, 0, time.Local)
	s := openTestStore(t, &now)
	ctx := context.Background()

	for _, period := range []progress.Period{progress.Morning, progress.Afternoon, progress.Evening, progress.Evening} {
		if err := s.SaveSession(ctx, period, 60, progress.DefaultScore); err != nil {
			t.Fatal(err)
		}
		now = now.Add(time.Minute)
	}
	if err := s.SaveSession(ctx, progress.General, 60, progress.DefaultScore); err != nil {
		t.Fatal(err)
	}

	p, _ := s.TodayProgress(ctx)
	if p.CompletedSessions != 3 {
		t.Errorf("expected count capped at 3, got %d", p.CompletedSessions)
	}

	history, err := s.History(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 5 {
		t.Errorf("expected all 5 sessions recorded, got %d", len(history))
	}
}

func TestHistory_NewestFirst(t *testing.T) {
	now := time.Date(2025, 3, 14, 8, 0, 0, 0, time.Local)
	s := openTestStore(t, &now)
	ctx := context.Background()

	for i := 1; i <= 4; i++ {
		if err := s.SaveSession(ctx, progress.General, i*10, progress.DefaultScore); err != nil {
			t.Fatal(err)
		}
		now = now.Add(time.Minute)
	}

	history, err := s.History(ctx, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 3 {
		t.Fatalf("expected limit of 3, got %d", len(history))
	}
	if history[0].DurationSeconds != 40 || history[2].DurationSeconds != 20 {
		t.Errorf("unexpected order: %+v", history)
	}
	if history[0].Score != progress.DefaultScore || history[0].UserID != "user-1" || history[0].ID == "" {
		t.Errorf("unexpected record %+v", history[0])
	}
}

func TestTotals(t *testing.T) {
	now := time.Date(2025, 3, 14, 8, 0, 0, 0, time.Local)
	s := openTestStore(t, &now)
	ctx := context.Background()

	now = now.AddDate(0, 0, -2)
	s.SaveSession(ctx, progress.Morning, 100, progress.DefaultScore)
	now = now.AddDate(0, 0, -10)
	s.SaveSession(ctx, progress.Morning, 500, progress.DefaultScore)
	now = now.AddDate(0, 0, 12)
	s.SaveSession(ctx, progress.Morning, 70, progress.DefaultScore)
	s.SaveSession(ctx, progress.Afternoon, 80, progress.DefaultScore)

	total, err := s.TodayTotalSeconds(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if total != 150 {
		t.Errorf("expected 150s today, got %d", total)
	}

	week, err := s.WeeklyTotals(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(week) != 7 {
		t.Fatalf("expected 7 days, got %d", len(week))
	}
	if week[6].Date != "2025-03-14" || week[6].Sessions != 2 || week[6].Seconds != 150 {
		t.Errorf("unexpected today entry %+v", week[6])
	}
	if week[4].Date != "2025-03-12" || week[4].Sessions != 1 {
		t.Errorf("unexpected entry %+v", week[4])
	}
	if week[0].Date != "2025-03-08" || week[0].Sessions != 0 {
		t.Errorf("sessions older than a week should be excluded, got %+v", week[0])
	}
}

func TestStoresAreScopedByUser(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.db")
	ctx := context.Background()

	a, err := Open(path, "alice")
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	b, err := Open(path, "bob")
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	if err := a.SaveSession(ctx, progress.Morning, 70, progress.DefaultScore); err != nil {
		t.Fatal(err)
	}
	if p, _ := b.TodayProgress(ctx); p != nil {
		t.Errorf("bob should see no progress, got %+v", p)
	}
}

var _ progress.Store = (*Store)(nil)
