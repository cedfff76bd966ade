package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/JonMunkholm/roster/internal/admin"
	"github.com/JonMunkholm/roster/internal/auth"
	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back schema migrations",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runMigrate(cmd.Context(), cmd.OutOrStdout(), true)
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the most recent migration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runMigrate(cmd.Context(), cmd.OutOrStdout(), false)
			},
		},
	)
	return cmd
}

func runMigrate(ctx context.Context, w io.Writer, up bool) error {
	_, st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	// Migration progress is operator output, so it goes to stdout.
	logger := slog.New(slog.NewTextHandler(w, nil))
	if up {
		return st.Migrate(logger)
	}
	return st.MigrateDown(logger)
}

type resetOptions struct {
	yes       bool
	withTerms bool
}

func newResetCmd() *cobra.Command {
	var opts resetOptions

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete every account (and optionally every term)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !opts.yes {
				return withCode(exitUsage, errors.New("reset is destructive; pass --yes to confirm"))
			}
			_, st, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			res, err := admin.ResetAll(cmd.Context(), st, opts.withTerms)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d accounts, %d terms\n", res.Accounts, res.Terms)
			return nil
		},
	}

	cmd.Flags().BoolVar(&opts.yes, "yes", false, "Confirm the reset")
	cmd.Flags().BoolVar(&opts.withTerms, "terms", false, "Delete terms as well")
	return cmd
}

type hashOptions struct {
	user string
}

func newHashPasswordCmd() *cobra.Command {
	var opts hashOptions

	cmd := &cobra.Command{
		Use:   "hash-password",
		Short: "Read a password from stdin and print its bcrypt hash",
		Long: `Read one line from stdin and print its bcrypt hash. With --user the
output is a ready-to-use AUTH_USERS entry.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHashPassword(cmd.InOrStdin(), cmd.OutOrStdout(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.user, "user", "", "Prefix the hash with user: for AUTH_USERS")
	return cmd
}

func runHashPassword(r io.Reader, w io.Writer, opts hashOptions) error {
	if strings.ContainsAny(opts.user, ":,") {
		return withCode(exitUsage, fmt.Errorf("user name %q must not contain ':' or ','", opts.user))
	}

	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read password: %w", err)
	}
	pass := strings.TrimRight(line, "\r\n")
	if pass == "" {
		return withCode(exitUsage, errors.New("empty password"))
	}

	hash, err := auth.HashPassword(pass)
	if err != nil {
		return err
	}
	if opts.user != "" {
		hash = opts.user + ":" + hash
	}
	_, err = fmt.Fprintln(w, hash)
	return err
}
