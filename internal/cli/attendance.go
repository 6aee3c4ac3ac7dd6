package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/Rishiwins/attendance-tracker/internal/attendance"
)

// NewSummaryCommand creates the summary command
func NewSummaryCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "summary [date]",
		Short: "Print the attendance summary of a day",
		Long: `Print every active person's attendance for a day (YYYY-MM-DD, default today).

Example:
  attendd summary
  attendd summary 2024-03-04 --format json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			date := ""
			if len(args) == 1 {
				date = args[0]
			}
			return withSession(cmd, rootOpts, func(ctx context.Context, s *session, p printer) error {
				sum, err := summarizeDate(ctx, s.engine, date)
				if err != nil {
					return err
				}
				return printSummary(p, sum)
			})
		},
	}
}

// ReportOptions holds flags for the report command
type ReportOptions struct {
	*RootOptions
	From string
	To   string
}

// NewReportCommand creates the report command
func NewReportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print per-person attendance totals for a date range",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, rootOpts, func(ctx context.Context, s *session, p printer) error {
				to := s.engine.Today()
				if opts.To != "" {
					var err error
					if to, err = attendance.ParseDate(opts.To); err != nil {
						return err
					}
				}
				from := to.AddDays(-6)
				if opts.From != "" {
					var err error
					if from, err = attendance.ParseDate(opts.From); err != nil {
						return err
					}
				}
				rep, err := s.engine.Report(ctx, from, to)
				if err != nil {
					return err
				}
				return printReport(p, rep)
			})
		},
	}
	cmd.Flags().StringVar(&opts.From, "from", "", "first day, YYYY-MM-DD (default six days before --to)")
	cmd.Flags().StringVar(&opts.To, "to", "", "last day, YYYY-MM-DD (default today)")
	return cmd
}

// ManualOptions holds flags for the manual command
type ManualOptions struct {
	*RootOptions
	Date     string
	CheckIn  string
	CheckOut string
	Notes    string
}

// NewManualCommand creates the manual command
func NewManualCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ManualOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "manual <person-id>",
		Short: "Set check-in and/or check-out of a person by hand",
		Long: `Correct a person's record for a day. Times are HH:MM in the configured
time zone or RFC 3339 timestamps.

Example:
  attendd manual alice --date 2024-03-04 --in 09:05 --out 17:45 --notes "badge at home"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, rootOpts, func(ctx context.Context, s *session, p printer) error {
				rec, err := markManual(ctx, s.engine, args[0], opts, cmd.Flags().Changed("notes"))
				if err != nil {
					return err
				}
				return printRecords(p, []attendance.Record{rec})
			})
		},
	}
	cmd.Flags().StringVar(&opts.Date, "date", "", "day, YYYY-MM-DD (default today)")
	cmd.Flags().StringVar(&opts.CheckIn, "in", "", "check-in time")
	cmd.Flags().StringVar(&opts.CheckOut, "out", "", "check-out time")
	cmd.Flags().StringVar(&opts.Notes, "notes", "", "notes stored on the record")
	return cmd
}

func markManual(ctx context.Context, engine *attendance.Engine, personID string, opts *ManualOptions, withNotes bool) (attendance.Record, error) {
	date := engine.Today()
	if opts.Date != "" {
		var err error
		if date, err = attendance.ParseDate(opts.Date); err != nil {
			return attendance.Record{}, err
		}
	}

	entry := attendance.ManualEntry{PersonID: personID, Date: date}
	for _, f := range []struct {
		value string
		dst   **time.Time
	}{{opts.CheckIn, &entry.CheckIn}, {opts.CheckOut, &entry.CheckOut}} {
		if f.value == "" {
			continue
		}
		t, err := date.At(f.value, engine.Location())
		if err != nil {
			return attendance.Record{}, err
		}
		*f.dst = &t
	}
	if withNotes {
		entry.Notes = &opts.Notes
	}
	return engine.MarkManual(ctx, entry)
}

// withSession opens the store for a one-shot command and maps engine errors
// to exit codes.
func withSession(cmd *cobra.Command, opts *RootOptions, fn func(ctx context.Context, s *session, p printer) error) error {
	s, err := openSession(opts, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer s.close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := fn(ctx, s, printer{format: opts.Format, w: cmd.OutOrStdout()}); err != nil {
		if GetExitCode(err) != ExitFailure {
			return err
		}
		return WrapExitError(exitCodeFor(err), cmd.Name()+" failed", err)
	}
	return nil
}

func exitCodeFor(err error) int {
	switch {
	case errorsIsAny(err, attendance.ErrInvalidInput, attendance.ErrNotFound, attendance.ErrInvalidState):
		return ExitCommandError
	default:
		return ExitFailure
	}
}

func printSummary(p printer, s attendance.Summary) error {
	if p.format == "json" {
		return p.json(s)
	}
	rows := make([][]string, 0, len(s.Entries))
	for _, e := range s.Entries {
		late := ""
		if e.IsLate {
			late = "late"
		}
		rows = append(rows, []string{
			e.PersonID, e.Name, string(e.Status), clock(e.CheckIn), clock(e.CheckOut),
			hours(e.TotalHours), hours(e.BreakHours), late,
		})
	}
	if err := p.table([]string{"PERSON", "NAME", "STATUS", "IN", "OUT", "HOURS", "BREAK", ""}, rows); err != nil {
		return err
	}
	return footer(p.w, "%s: %d total, %d present, %d partial, %d absent, %d late\n",
		s.Date, s.Total, s.Present, s.Partial, s.Absent, s.Late)
}

func printReport(p printer, r attendance.Report) error {
	if p.format == "json" {
		return p.json(r)
	}
	rows := make([][]string, 0, len(r.Persons))
	for _, pr := range r.Persons {
		rows = append(rows, []string{
			pr.PersonID, pr.Name, strconv.Itoa(pr.PresentDays), strconv.Itoa(pr.AbsentDays),
			strconv.Itoa(pr.LateDays), hours(pr.TotalHours), hours(pr.AverageHours),
		})
	}
	if err := p.table([]string{"PERSON", "NAME", "PRESENT", "ABSENT", "LATE", "HOURS", "AVG"}, rows); err != nil {
		return err
	}
	return footer(p.w, "%s..%s\n", r.From, r.To)
}

func printRecords(p printer, records []attendance.Record) error {
	if p.format == "json" {
		if len(records) == 1 {
			return p.json(records[0])
		}
		return p.json(records)
	}
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		rows = append(rows, []string{
			r.PersonID, r.Date.String(), string(r.Status), clock(r.CheckIn), clock(r.CheckOut),
			hours(r.TotalHours), hours(r.BreakHours), r.Notes,
		})
	}
	return p.table([]string{"PERSON", "DATE", "STATUS", "IN", "OUT", "HOURS", "BREAK", "NOTES"}, rows)
}

func clock(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format("15:04")
}

func hours(h float64) string { return strconv.FormatFloat(h, 'f', 2, 64) }

func footer(w io.Writer, format string, args ...any) error {
	_, err := fmt.Fprintf(w, "\n"+format, args...)
	return err
}
