// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/mintylink/pkg/minty"
)

// Error log entry
type errorLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool // true for errors, false for warnings
}

// Last known holder state, rebuilt from the message stream
type holderState struct {
	deviceID    string
	brushOut    bool
	brushSince  time.Time
	lastOutcome *minty.SessionOutcome
	progress    *minty.ProgressReport
	dots        *minty.DotsReport
	status      string
}

// TUI model
type model struct {
	connInfo      string
	statsInterval int
	showAll       bool
	stats         *minty.Statistics
	errorLog      []errorLogEntry
	maxLogEntries int
	width         int
	height        int
	quitting      bool
	disconnected  string
	holder        *holderState
}

// Messages
type tickMsg time.Time
type lineMsg struct {
	at               time.Time
	event            minty.Event
	validationErrors []minty.ValidationError
}

func initialModel(connInfo string, statsInterval int, showAll bool) model {
	return model{
		connInfo:      connInfo,
		statsInterval: statsInterval,
		showAll:       showAll,
		stats:         minty.NewStatistics(),
		errorLog:      make([]errorLogEntry, 0),
		maxLogEntries: 100,
		width:         80,
		height:        24,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		tea.EnterAltScreen,
	)
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			m.stats.Reset()
			m.addLogEntry("Statistics reset", false)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		m.stats.CalculateRates()
		return m, tickCmd()

	case lineMsg:
		m.stats.Update(msg.event, msg.validationErrors)
		m.trackHolder(msg.at, msg.event)

		kind := minty.FormatKind(msg.event.Kind())
		if len(msg.validationErrors) > 0 {
			for _, err := range msg.validationErrors {
				m.addLogEntryAt(msg.at, fmt.Sprintf("%s: %s", kind, err.Message), true)
			}
		} else if m.showAll {
			m.addLogEntryAt(msg.at, kind+minty.FormatDetails(msg.event), false)
		}
	}

	return m, nil
}

func (m *model) addLogEntry(message string, isError bool) {
	m.addLogEntryAt(time.Now(), message, isError)
}

func (m *model) addLogEntryAt(ts time.Time, message string, isError bool) {
	entry := errorLogEntry{
		timestamp: ts,
		message:   message,
		isError:   isError,
	}
	m.errorLog = append(m.errorLog, entry)

	// Keep only last N entries
	if len(m.errorLog) > m.maxLogEntries {
		m.errorLog = m.errorLog[len(m.errorLog)-m.maxLogEntries:]
	}
}

// trackHolder folds a message into the holder state panel
func (m *model) trackHolder(ts time.Time, ev minty.Event) {
	if m.holder == nil {
		m.holder = &holderState{}
	}
	h := m.holder

	switch e := ev.(type) {
	case minty.Connected:
		if e.DeviceID != "" {
			h.deviceID = e.DeviceID
		}
	case minty.Disconnected:
		m.disconnected = e.Reason
		m.addLogEntryAt(ts, "Link closed: "+e.Reason, true)
	case minty.ToothbrushRemoved:
		h.brushOut = true
		h.brushSince = ts
	case minty.ToothbrushReturned:
		h.brushOut = false
	case minty.SessionOutcome:
		h.lastOutcome = &e
	case minty.ProgressReport:
		h.progress = &e
	case minty.DotsReport:
		h.dots = &e
	case minty.Status:
		h.status = e.Text
	case minty.NewDay:
		h.progress = nil
		h.dots = nil
	}
}

func (m model) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	// Styles
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	statsLabelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	statsValueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	warningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	// Header
	var s strings.Builder
	s.WriteString(titleStyle.Render("MINTYLINK - ERROR DETECTION"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | Mode: %s | 'r' reset stats | 'q' quit",
		m.connInfo, func() string {
			if m.showAll {
				return "All messages"
			}
			return "Anomalies only"
		}())))
	s.WriteString("\n\n")

	// Link status
	if m.disconnected != "" {
		s.WriteString(errorStyle.Render("✗ Disconnected: " + m.disconnected))
	} else if m.holder == nil {
		s.WriteString(warningStyle.Render("⏳ Waiting for holder..."))
	} else {
		s.WriteString(statsValueStyle.Render("✓ Connected"))
		if m.holder.deviceID != "" {
			s.WriteString(headerStyle.Render(" (" + m.holder.deviceID + ")"))
		}
	}
	s.WriteString("\n\n")

	// Statistics
	m.stats.CalculateRates()
	var validPercent, errorPercent float64
	anomalies := m.stats.Anomalies()
	if m.stats.TotalLines > 0 {
		validPercent = float64(m.stats.ValidLines) * 100.0 / float64(m.stats.TotalLines)
		errorPercent = float64(anomalies) * 100.0 / float64(m.stats.TotalLines)
	}

	statsContent := strings.Builder{}
	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		statsLabelStyle.Render("Total:"), statsValueStyle.Render(fmt.Sprintf("%d", m.stats.TotalLines)),
		statsLabelStyle.Render("Valid:"), statsValueStyle.Render(fmt.Sprintf("%d (%.1f%%)", m.stats.ValidLines, validPercent)),
		statsLabelStyle.Render("Anomalies:"), errorStyle.Render(fmt.Sprintf("%d (%.1f%%)", anomalies, errorPercent)),
	))

	if m.stats.UnknownLines > 0 {
		statsContent.WriteString(fmt.Sprintf("%s %s\n",
			statsLabelStyle.Render("Unknown:"), warningStyle.Render(fmt.Sprintf("%d", m.stats.UnknownLines)),
		))
	}

	if m.stats.InvalidCounts > 0 || m.stats.BadDurations > 0 || m.stats.Inconsistent > 0 {
		statsContent.WriteString(fmt.Sprintf("%s %s (%s: %d, %s: %d)\n",
			statsLabelStyle.Render("Invalid counts:"), errorStyle.Render(fmt.Sprintf("%d", m.stats.InvalidCounts)),
			headerStyle.Render("bad durations"), m.stats.BadDurations,
			headerStyle.Render("inconsistent"), m.stats.Inconsistent,
		))
	}

	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s",
		statsLabelStyle.Render("Line Rate:"), statsValueStyle.Render(fmt.Sprintf("%.1f lines/s", m.stats.LineRate)),
		statsLabelStyle.Render("Error Rate:"), func() string {
			if m.stats.ErrorRate > 0 {
				return errorStyle.Render(fmt.Sprintf("%.1f err/s", m.stats.ErrorRate))
			}
			return statsValueStyle.Render(fmt.Sprintf("%.1f err/s", m.stats.ErrorRate))
		}(),
	))

	s.WriteString(boxStyle.Render(statsContent.String()))
	s.WriteString("\n\n")

	// Holder section (only shown once the holder has spoken)
	if h := m.holder; h != nil {
		s.WriteString(statsLabelStyle.Render("Holder:"))
		s.WriteString("\n")

		holderContent := strings.Builder{}

		brush := "In holder"
		if h.brushOut {
			brush = "Brushing (" + minty.FormatSeconds(int(time.Since(h.brushSince).Seconds())) + ")"
		}
		holderContent.WriteString(fmt.Sprintf("%s %s\n",
			statsLabelStyle.Render("Toothbrush:"), statsValueStyle.Render(brush),
		))

		if h.progress != nil {
			holderContent.WriteString(fmt.Sprintf("%s %s",
				statsLabelStyle.Render("Progress:"),
				statsValueStyle.Render(fmt.Sprintf("%d/%d", h.progress.Current, h.progress.Total)),
			))
			if h.dots != nil {
				holderContent.WriteString(headerStyle.Render(minty.FormatDetails(*h.dots)))
			}
			holderContent.WriteString("\n")
		}

		if o := h.lastOutcome; o != nil {
			verdict := statsValueStyle.Render("valid")
			if !o.Valid {
				verdict = warningStyle.Render("too short")
			}
			holderContent.WriteString(fmt.Sprintf("%s %s %s\n",
				statsLabelStyle.Render("Last session:"), minty.FormatSeconds(o.DurationSeconds), verdict,
			))
		}

		if h.status != "" {
			holderContent.WriteString(fmt.Sprintf("%s %s\n",
				statsLabelStyle.Render("Status:"), statsValueStyle.Render(h.status),
			))
		}

		s.WriteString(boxStyle.Render(strings.TrimSuffix(holderContent.String(), "\n")))
		s.WriteString("\n\n")
	}

	// Error log
	s.WriteString(statsLabelStyle.Render("Recent Events:"))
	s.WriteString("\n")

	// Calculate how many log entries we can show
	logHeight := m.height - 17 // Reserve space for header, stats and holder
	if logHeight < 5 {
		logHeight = 5
	}

	logContent := strings.Builder{}
	startIdx := len(m.errorLog) - logHeight
	if startIdx < 0 {
		startIdx = 0
	}

	if len(m.errorLog) == 0 {
		logContent.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for i := startIdx; i < len(m.errorLog); i++ {
			entry := m.errorLog[i]
			timestamp := entry.timestamp.Format("01/02/06 15:04:05.000")
			if entry.isError {
				logContent.WriteString(fmt.Sprintf("%s %s\n",
					headerStyle.Render(timestamp),
					errorStyle.Render("✗ "+entry.message),
				))
			} else {
				logContent.WriteString(fmt.Sprintf("%s %s\n",
					headerStyle.Render(timestamp),
					warningStyle.Render("ℹ "+entry.message),
				))
			}
		}
	}

	s.WriteString(boxStyle.Width(m.width - 4).Render(logContent.String()))

	return s.String()
}
