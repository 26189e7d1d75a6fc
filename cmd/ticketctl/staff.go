package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/spf13/cobra"

	"github.com/spec-kit/support-desk/internal/auth"
	"github.com/spec-kit/support-desk/internal/domain"
	"github.com/spec-kit/support-desk/internal/repository"
	"github.com/spec-kit/support-desk/internal/service"
)

func newStaffCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "staff",
		Short: "Manage the staff roster",
		Long: `Manage the staff roster.

Roster changes apply to sessions issued afterwards; signed-in users keep
their current capability until they sign in again.`,
	}
	cmd.AddCommand(newStaffGrantCommand(), newStaffRevokeCommand(), newStaffListCommand())
	return cmd
}

func staffService(e *env) (*service.StaffService, repository.UserRepository) {
	pool := e.pg.PoolHandle()
	users := repository.NewUserRepository(pool)
	return service.NewStaffService(users, repository.NewStaffRepository(pool)), users
}

func newStaffGrantCommand() *cobra.Command {
	var name, password string
	cmd := &cobra.Command{
		Use:   "grant <email>",
		Short: "Grant staff capability, creating the account when --password is given",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			email := domain.NormalizeEmail(args[0])
			return withEnv(cmd, func(ctx context.Context, e *env) error {
				roster, users := staffService(e)
				if password != "" {
					created, err := ensureAccount(ctx, users, name, email, password, e.cfg.Auth.BcryptCost)
					if err != nil {
						return err
					}
					if created {
						fmt.Fprintf(cmd.OutOrStdout(), "created account %s\n", email)
					}
				}
				member, err := roster.Grant(ctx, email)
				if err != nil {
					return fmt.Errorf("grant %s: %w", email, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "granted staff to %s (%s)\n", member.Email, member.UserID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "Support", "display name for a newly created account")
	cmd.Flags().StringVar(&password, "password", "", "create the account with this password if it does not exist")
	return cmd
}

// ensureAccount creates the user unless one already exists with email.
func ensureAccount(ctx context.Context, users repository.UserRepository, name, email, password string, cost int) (bool, error) {
	if _, err := users.GetByEmail(ctx, email); err == nil {
		return false, nil
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return false, fmt.Errorf("look up %s: %w", email, err)
	}
	hash, err := auth.HashPassword(password, cost)
	if err != nil {
		return false, err
	}
	if err := users.Create(ctx, &domain.User{Name: name, Email: email, PasswordHash: hash}); err != nil {
		return false, fmt.Errorf("create %s: %w", email, err)
	}
	return true, nil
}

func newStaffRevokeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <email>",
		Short: "Remove staff capability",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, func(ctx context.Context, e *env) error {
				roster, _ := staffService(e)
				if err := roster.Revoke(ctx, args[0]); err != nil {
					return fmt.Errorf("revoke %s: %w", args[0], err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "revoked staff from %s\n", args[0])
				return nil
			})
		},
	}
}

func newStaffListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List staff members",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEnv(cmd, func(ctx context.Context, e *env) error {
				roster, _ := staffService(e)
				members, err := roster.List(ctx)
				if err != nil {
					return err
				}
				return printRoster(cmd.OutOrStdout(), members)
			})
		},
	}
}

func printRoster(out io.Writer, members []repository.StaffMember) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "USER ID\tNAME\tEMAIL\tGRANTED")
	for _, m := range members {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", m.UserID, m.Name, m.Email, m.GrantedAt.UTC().Format(time.RFC3339))
	}
	return w.Flush()
}
