// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package store persists brushing sessions and daily progress in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/Thermoquad/mintylink/pkg/progress"

	_ "modernc.org/sqlite" // SQLite driver.
)

// DefaultHistoryLimit is the number of sessions History returns by default
const DefaultHistoryLimit = 30

// SessionRecord is one persisted brushing session
type SessionRecord struct {
	ID              string          `json:"id" yaml:"id"`
	UserID          string          `json:"user_id" yaml:"user_id"`
	Date            string          `json:"date" yaml:"date"`
	Timestamp       time.Time       `json:"timestamp" yaml:"timestamp"`
	Type            progress.Period `json:"session_type" yaml:"session_type"`
	DurationSeconds int             `json:"duration" yaml:"duration"`
	Score           int             `json:"score" yaml:"score"`
}

// DayTotal aggregates the sessions of one day
type DayTotal struct {
	Date     string `json:"date" yaml:"date"`
	Weekday  string `json:"weekday" yaml:"weekday"`
	Sessions int    `json:"sessions" yaml:"sessions"`
	Seconds  int    `json:"seconds" yaml:"seconds"`
}

// Store wraps SQLite access for one user's data
type Store struct {
	db     *sql.DB
	userID string
	now    func() time.Time
}

// Option configures a Store
type Option func(*Store)

// WithNow replaces the wall clock used for dates and timestamps
func WithNow(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open opens or creates the SQLite database and applies migrations
func Open(path, userID string, opts ...Option) (*Store, error) {
	if userID == "" {
		return nil, errors.New("store: user id is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection: SQLite has a single writer, and ":memory:" is per connection
	db.SetMaxOpenConns(1)
	s := &Store{db: db, userID: userID, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			date TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			session_type TEXT NOT NULL,
			duration_seconds INTEGER NOT NULL,
			score INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS daily_progress (
			user_id TEXT NOT NULL,
			date TEXT NOT NULL,
			completed_sessions INTEGER NOT NULL,
			morning INTEGER NOT NULL,
			afternoon INTEGER NOT NULL,
			evening INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (user_id, date)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_user_created ON sessions(user_id, created_at);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_user_date ON sessions(user_id, date);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) today() string {
	return s.now().Format(progress.DateLayout)
}

// SaveSession records a valid session and bumps today's progress. A
// session of the General period is recorded without touching progress.
func (s *Store) SaveSession(ctx context.Context, period progress.Period, durationSec int, score int) (err error) {
	now := s.now()
	date := now.Format(progress.DateLayout)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, date, created_at, session_type, duration_seconds, score)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), s.userID, date, now.UnixMilli(), string(period), durationSec, score,
	)
	if err != nil {
		return fmt.Errorf("store: insert session: %w", err)
	}

	if period != progress.General {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO daily_progress (user_id, date, completed_sessions, morning, afternoon, evening, updated_at)
			 VALUES (?, ?, 1, ?, ?, ?, ?)
			 ON CONFLICT (user_id, date) DO UPDATE SET
				completed_sessions = MIN(completed_sessions + 1, ?),
				morning = morning OR excluded.morning,
				afternoon = afternoon OR excluded.afternoon,
				evening = evening OR excluded.evening,
				updated_at = excluded.updated_at`,
			s.userID, date,
			period == progress.Morning, period == progress.Afternoon, period == progress.Evening,
			now.UnixMilli(), progress.DailyProgress{}.Total(),
		)
		if err != nil {
			return fmt.Errorf("store: update progress: %w", err)
		}
	}

	return tx.Commit()
}

// TodayProgress returns today's progress, or nil when nothing was recorded
func (s *Store) TodayProgress(ctx context.Context) (*progress.DailyProgress, error) {
	return s.Progress(ctx, s.today())
}

// Progress returns the progress recorded for date, or nil
func (s *Store) Progress(ctx context.Context, date string) (*progress.DailyProgress, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT completed_sessions, morning, afternoon, evening
		 FROM daily_progress WHERE user_id = ? AND date = ?`,
		s.userID, date,
	)
	p := progress.DailyProgress{Date: date}
	if err := row.Scan(&p.CompletedSessions, &p.Morning, &p.Afternoon, &p.Evening); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

// History returns up to limit sessions, newest first
func (s *Store) History(ctx context.Context, limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, date, created_at, session_type, duration_seconds, score
		 FROM sessions WHERE user_id = ?
		 ORDER BY created_at DESC, rowid DESC
		 LIMIT ?`,
		s.userID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []SessionRecord{}
	for rows.Next() {
		var rec SessionRecord
		var created int64
		var kind string
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Date, &created, &kind, &rec.DurationSeconds, &rec.Score); err != nil {
			return nil, err
		}
		rec.Timestamp = time.UnixMilli(created)
		rec.Type = progress.Period(kind)
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// TodayTotalSeconds returns the brushing time recorded today
func (s *Store) TodayTotalSeconds(ctx context.Context) (int, error) {
	var total int
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(duration_seconds), 0) FROM sessions WHERE user_id = ? AND date = ?`,
		s.userID, s.today(),
	).Scan(&total)
	return total, err
}

// WeeklyTotals returns one entry per day for the last seven days,
// oldest first, including days without sessions
func (s *Store) WeeklyTotals(ctx context.Context) ([]DayTotal, error) {
	now := s.now()
	days := make([]DayTotal, 7)
	index := make(map[string]int, 7)
	for i := range days {
		d := now.AddDate(0, 0, i-6)
		days[i] = DayTotal{Date: d.Format(progress.DateLayout), Weekday: d.Weekday().String()}
		index[days[i].Date] = i
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT date, COUNT(*), COALESCE(SUM(duration_seconds), 0)
		 FROM sessions WHERE user_id = ? AND date >= ? AND date <= ?
		 GROUP BY date`,
		s.userID, days[0].Date, days[6].Date,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var date string
		var count, seconds int
		if err := rows.Scan(&date, &count, &seconds); err != nil {
			return nil, err
		}
		if i, ok := index[date]; ok {
			days[i].Sessions = count
			days[i].Seconds = seconds
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return days, nil
}
