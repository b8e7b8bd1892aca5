// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package minty

import (
	"fmt"
	"sort"
	"time"
)

// Statistics tracks line statistics and anomaly rates
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	TotalLines    uint64
	ValidLines    uint64
	UnknownLines  uint64
	InvalidCounts uint64
	BadDurations  uint64
	Inconsistent  uint64
	ByKind        map[Kind]uint64

	// Rates (calculated)
	LineRate  float64 // lines/sec
	ErrorRate float64 // anomalies/sec

	now func() time.Time
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	return newStatistics(time.Now)
}

func newStatistics(now func() time.Time) *Statistics {
	t := now()
	return &Statistics{
		StartTime:      t,
		LastUpdateTime: t,
		ByKind:         make(map[Kind]uint64),
		now:            now,
	}
}

// Update updates statistics based on an event and its validation errors
func (s *Statistics) Update(ev Event, validationErrors []ValidationError) {
	s.TotalLines++
	s.ByKind[ev.Kind()]++

	if len(validationErrors) == 0 {
		s.ValidLines++
	}
	for _, err := range validationErrors {
		switch err.Type {
		case AnomalyUnknownTag:
			s.UnknownLines++
		case AnomalyInvalidCount:
			s.InvalidCounts++
		case AnomalyInvalidDuration:
			s.BadDurations++
		case AnomalyInconsistentVerdict:
			s.Inconsistent++
		}
	}

	s.LastUpdateTime = s.now()
}

// Anomalies returns the total number of anomalies seen
func (s *Statistics) Anomalies() uint64 {
	return s.UnknownLines + s.InvalidCounts + s.BadDurations + s.Inconsistent
}

// CalculateRates calculates line and error rates
func (s *Statistics) CalculateRates() {
	elapsed := s.now().Sub(s.StartTime).Seconds()
	if elapsed > 0 {
		s.LineRate = float64(s.TotalLines) / elapsed
		s.ErrorRate = float64(s.Anomalies()) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	var validPercent, unknownPercent float64
	if s.TotalLines > 0 {
		validPercent = float64(s.ValidLines) * 100.0 / float64(s.TotalLines)
		unknownPercent = float64(s.UnknownLines) * 100.0 / float64(s.TotalLines)
	}

	elapsed := s.now().Sub(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Total Lines:     %8d\n", s.TotalLines)
	result += fmt.Sprintf("Valid Lines:     %8d (%.1f%%)\n", s.ValidLines, validPercent)

	if s.UnknownLines > 0 {
		result += fmt.Sprintf("Unknown Lines:   %8d (%.1f%%)\n", s.UnknownLines, unknownPercent)
	}
	if s.InvalidCounts > 0 {
		result += fmt.Sprintf("Invalid Counts:  %8d\n", s.InvalidCounts)
	}
	if s.BadDurations > 0 {
		result += fmt.Sprintf("Bad Durations:   %8d\n", s.BadDurations)
	}
	if s.Inconsistent > 0 {
		result += fmt.Sprintf("Inconsistent:    %8d\n", s.Inconsistent)
	}

	kinds := make([]Kind, 0, len(s.ByKind))
	for k := range s.ByKind {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	for _, k := range kinds {
		result += fmt.Sprintf("  %-22s %5d\n", FormatKind(k)+":", s.ByKind[k])
	}

	result += fmt.Sprintf("Line Rate:       %8.1f lines/sec\n", s.LineRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	now := s.now
	*s = *newStatistics(now)
}
