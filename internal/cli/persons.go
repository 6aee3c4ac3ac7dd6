package cli

import (
	"context"
	"errors"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Rishiwins/attendance-tracker/internal/attendance"
)

// PersonOptions holds flags for persons add
type PersonOptions struct {
	*RootOptions
	Code       string
	Department string
	Email      string
	Inactive   bool
}

// NewPersonsCommand creates the persons command group
func NewPersonsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "persons",
		Short: "Manage registered persons",
	}
	cmd.AddCommand(newPersonsAddCommand(rootOpts))
	cmd.AddCommand(newPersonsListCommand(rootOpts))
	return cmd
}

func newPersonsAddCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PersonOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "add <id> <name>",
		Short: "Register or update a person",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, rootOpts, func(ctx context.Context, s *session, p printer) error {
				person := attendance.Person{
					ID:         args[0],
					Name:       args[1],
					Code:       opts.Code,
					Department: opts.Department,
					Email:      opts.Email,
					Active:     !opts.Inactive,
				}
				if err := s.engine.RegisterPerson(ctx, person); err != nil {
					return err
				}
				return printPersons(p, []attendance.Person{person})
			})
		},
	}
	cmd.Flags().StringVar(&opts.Code, "code", "", "employee or student code")
	cmd.Flags().StringVar(&opts.Department, "department", "", "department")
	cmd.Flags().StringVar(&opts.Email, "email", "", "email address")
	cmd.Flags().BoolVar(&opts.Inactive, "inactive", false, "register as inactive")
	return cmd
}

func newPersonsListCommand(rootOpts *RootOptions) *cobra.Command {
	var activeOnly bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered persons",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, rootOpts, func(ctx context.Context, s *session, p printer) error {
				persons, err := s.engine.Persons(ctx, activeOnly)
				if err != nil {
					return err
				}
				return printPersons(p, persons)
			})
		},
	}
	cmd.Flags().BoolVar(&activeOnly, "active", false, "only active persons")
	return cmd
}

func printPersons(p printer, persons []attendance.Person) error {
	if p.format == "json" {
		return p.json(persons)
	}
	rows := make([][]string, 0, len(persons))
	for _, ps := range persons {
		rows = append(rows, []string{ps.ID, ps.Name, ps.Code, ps.Department, ps.Email, strconv.FormatBool(ps.Active)})
	}
	return p.table([]string{"ID", "NAME", "CODE", "DEPARTMENT", "EMAIL", "ACTIVE"}, rows)
}

func errorsIsAny(err error, targets ...error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}
