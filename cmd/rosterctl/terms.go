package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/JonMunkholm/roster/internal/roster"
	"github.com/spf13/cobra"
)

func newTermsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "terms",
		Short: "List, create and activate terms",
	}
	cmd.AddCommand(newTermsListCmd(), newTermsCreateCmd(), newTermsActivateCmd())
	return cmd
}

func newTermsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every term",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, st, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			terms, err := st.Terms().List(cmd.Context())
			if err != nil {
				return err
			}
			printTerms(cmd.OutOrStdout(), terms)
			return nil
		},
	}
}

func newTermsCreateCmd() *cobra.Command {
	var activate bool

	cmd := &cobra.Command{
		Use:   "create LABEL",
		Short: "Create a term",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			label := strings.TrimSpace(args[0])
			if label == "" {
				return withCode(exitUsage, errors.New("term label is empty"))
			}

			_, st, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			term, err := st.Terms().Create(cmd.Context(), label)
			if err != nil {
				return err
			}
			if activate {
				if err := st.SetActiveTerm(cmd.Context(), term.ID); err != nil {
					return err
				}
				term.IsActive = true
			}
			printTerms(cmd.OutOrStdout(), []roster.Term{term})
			return nil
		},
	}
	cmd.Flags().BoolVar(&activate, "activate", false, "Make the new term the active one")
	return cmd
}

func newTermsActivateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "activate TERM",
		Short: "Make TERM (id or label) the only active term",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(args[0]) == "" {
				return withCode(exitUsage, errors.New("term is empty"))
			}

			_, st, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			id, err := resolveTermRef(cmd.Context(), st.Terms(), args[0])
			if err != nil {
				return err
			}
			if err := st.SetActiveTerm(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "active term: %s\n", id)
			return nil
		},
	}
}

func printTerms(w io.Writer, terms []roster.Term) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tLABEL\tACTIVE\tCREATED")
	for _, t := range terms {
		active := ""
		if t.IsActive {
			active = "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", t.ID, t.Label, active, t.CreatedAt.Format(time.DateTime))
	}
	_ = tw.Flush()
}
