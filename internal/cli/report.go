package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sjawhar/salon-coach/internal/indicator"
	"github.com/sjawhar/salon-coach/internal/report"
)

func init() {
	reportCmd := &cobra.Command{
		Use:   "report <session-id>",
		Short: "Print the stored report of a completed session",
		Args:  cobra.ExactArgs(1),
		RunE:  runReport,
	}
	reportCmd.Flags().StringP("format", "f", "json", "Output format: json or text")

	sessionsCmd := &cobra.Command{
		Use:   "sessions",
		Short: "List sessions created on a day",
		Args:  cobra.NoArgs,
		RunE:  runSessions,
	}
	sessionsCmd.Flags().String("date", "", "Day as YYYY-MM-DD (default: today, UTC)")
	sessionsCmd.Flags().String("salon", "", "Only sessions of this salon")

	RootCmd.AddCommand(reportCmd, sessionsCmd)
}

func runReport(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	if format != "json" && format != "text" {
		return fmt.Errorf("unknown format %q: expected json or text", format)
	}

	cfg, _, _, err := loadConfig(io.Discard)
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	r, err := store.GetReport(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("get report %s: %w", args[0], err)
	}

	if format == "text" {
		_, err = io.WriteString(cmd.OutOrStdout(), formatReport(r))
		return err
	}
	return writeIndented(cmd.OutOrStdout(), r)
}

func runSessions(cmd *cobra.Command, _ []string) error {
	date, _ := cmd.Flags().GetString("date")
	salon, _ := cmd.Flags().GetString("salon")
	if date == "" {
		date = time.Now().UTC().Format("2006-01-02")
	}
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return fmt.Errorf("invalid date %q: expected YYYY-MM-DD", date)
	}

	cfg, _, _, err := loadConfig(io.Discard)
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	sessions, err := store.GetSessionsByDate(cmd.Context(), date, salon)
	if err != nil {
		return err
	}
	return writeIndented(cmd.OutOrStdout(), sessions)
}

func writeIndented(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

// formatReport renders a report for reading in a terminal.
func formatReport(r report.Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Session %s\n", r.SessionID)
	fmt.Fprintf(&b, "Overall score: %d", r.OverallScore)
	if r.IsConverted {
		b.WriteString(" (converted)")
	}
	b.WriteString("\n\n")

	for _, t := range indicator.All() {
		m, ok := r.Metrics.Get(t)
		if !ok {
			fmt.Fprintf(&b, "  %-18s %5s\n", t, "-")
			continue
		}
		fmt.Fprintf(&b, "  %-18s %5.1f\n", t, m.Score)
	}

	writeList(&b, "Strengths", r.Strengths)
	writeList(&b, "Improvements", r.Improvements)
	writeList(&b, "Action items", r.ActionItems)

	if r.Summary != "" {
		fmt.Fprintf(&b, "\n%s\n", r.Summary)
	}
	if r.Feedback != "" {
		fmt.Fprintf(&b, "\n%s\n", r.Feedback)
	}
	return b.String()
}

func writeList(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "\n%s:\n", title)
	for _, item := range items {
		fmt.Fprintf(b, "  - %s\n", item)
	}
}
