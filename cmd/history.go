// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Thermoquad/mintylink/pkg/minty"
	"github.com/Thermoquad/mintylink/pkg/progress"
	"github.com/Thermoquad/mintylink/pkg/store"
)

var (
	historyLimit  int
	historyFormat string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show stored brushing sessions and progress",
	Long: `Print today's progress, the last seven days and the most recent sessions
from the local progress database.

Formats:
  text (default): human-readable tables
  yaml:           machine-readable document`,
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntVar(&historyLimit, "limit", store.DefaultHistoryLimit, "Number of sessions to show")
	historyCmd.Flags().StringVar(&historyFormat, "format", "text", "Output format (text or yaml)")
}

// historyReport is the yaml form of the history output
type historyReport struct {
	User         string                 `yaml:"user"`
	Today        progress.DailyProgress `yaml:"today"`
	TodaySeconds int                    `yaml:"today_seconds"`
	Week         []store.DayTotal       `yaml:"week"`
	Sessions     []store.SessionRecord  `yaml:"sessions"`
}

func runHistory(cmd *cobra.Command, args []string) error {
	if historyFormat != "text" && historyFormat != "yaml" {
		return fmt.Errorf("invalid format %q (use text or yaml)", historyFormat)
	}

	id := newIdentity()
	st, err := openStore(id)
	if err != nil {
		return err
	}
	defer st.Close()

	user, _ := id.CurrentUserID()
	report, err := loadHistory(cmd.Context(), st, user, historyLimit)
	if err != nil {
		return err
	}

	if historyFormat == "yaml" {
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(report)
	}
	printHistory(os.Stdout, report)
	return nil
}

func loadHistory(ctx context.Context, st *store.Store, user string, limit int) (historyReport, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	report := historyReport{User: user}

	today, err := st.TodayProgress(ctx)
	if err != nil {
		return report, err
	}
	if today != nil {
		report.Today = *today
	}

	if report.TodaySeconds, err = st.TodayTotalSeconds(ctx); err != nil {
		return report, err
	}
	if report.Week, err = st.WeeklyTotals(ctx); err != nil {
		return report, err
	}
	if report.Sessions, err = st.History(ctx, limit); err != nil {
		return report, err
	}
	return report, nil
}

func printHistory(w io.Writer, r historyReport) {
	fmt.Fprintf(w, "Mintylink - Brushing History\n")
	fmt.Fprintf(w, "User: %s\n\n", r.User)

	dots := minty.FormatDetails(r.Today.Dots())
	fmt.Fprintf(w, "Today: %d/%d sessions,%s, %s brushed\n\n",
		r.Today.CompletedSessions, r.Today.Total(), dots, minty.FormatSeconds(r.TodaySeconds))

	fmt.Fprintf(w, "--- Last 7 days ---\n")
	for _, d := range r.Week {
		bar := strings.Repeat("█", d.Sessions) + strings.Repeat(" ", max(0, minty.DailySessionGoal+1-d.Sessions))
		fmt.Fprintf(w, "%s %s  %s %2d sessions  %s\n", d.Weekday[:3], d.Date, bar, d.Sessions, minty.FormatSeconds(d.Seconds))
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "--- Recent sessions ---\n")
	if len(r.Sessions) == 0 {
		fmt.Fprintf(w, "  (no sessions yet)\n")
		return
	}
	for _, s := range r.Sessions {
		fmt.Fprintf(w, "%s  %-9s  %6s  score=%d\n",
			s.Timestamp.Local().Format("2006-01-02 15:04"), s.Type, minty.FormatSeconds(s.DurationSeconds), s.Score)
	}
}
