package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/JonMunkholm/roster/internal/core"
	"github.com/spf13/cobra"
)

func newAccountsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Inspect and export accounts",
	}
	cmd.AddCommand(newAccountsExportCmd(), newAccountsTemplateCmd())
	return cmd
}

type exportOptions struct {
	format string
	out    string
}

func newAccountsExportCmd() *cobra.Command {
	var opts exportOptions

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export every account as CSV or XLSX",
		Long: `Export every account. The CSV layout matches the roster header, so an
export can be ingested again unchanged. XLSX needs --out.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := exportFormat(opts)
			if err != nil {
				return err
			}
			return runExport(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), format, opts.out)
		},
	}
	cmd.Flags().StringVar(&opts.format, "format", "", "csv or xlsx (default: from --out extension, else csv)")
	cmd.Flags().StringVarP(&opts.out, "out", "o", "", "Write to this file instead of stdout")
	return cmd
}

// exportFormat settles the format from the flags. XLSX is binary and is
// never written to stdout.
func exportFormat(opts exportOptions) (string, error) {
	format := strings.ToLower(opts.format)
	if format == "" {
		format = "csv"
		if strings.EqualFold(filepath.Ext(opts.out), ".xlsx") {
			format = "xlsx"
		}
	}
	switch format {
	case "csv":
	case "xlsx":
		if opts.out == "" {
			return "", withCode(exitUsage, errors.New("xlsx export needs --out"))
		}
	default:
		return "", withCode(exitUsage, fmt.Errorf("unknown format %q (want csv or xlsx)", opts.format))
	}
	return format, nil
}

func runExport(ctx context.Context, stdout, stderr io.Writer, format, out string) (err error) {
	_, st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	w := stdout
	if out != "" {
		f, err := os.Create(out)
		if err != nil {
			return fmt.Errorf("create %s: %w", out, err)
		}
		defer func() {
			if cerr := f.Close(); err == nil && cerr != nil {
				err = cerr
			}
			if err != nil {
				_ = os.Remove(out)
			}
		}()
		w = f
	}

	exporter := core.NewExporter(st.Accounts())
	var n int
	if format == "xlsx" {
		n, err = exporter.ExportXLSX(ctx, w)
	} else {
		n, err = exporter.ExportCSV(ctx, w)
	}
	if err != nil {
		return err
	}
	if out != "" {
		fmt.Fprintf(stderr, "exported %d accounts to %s\n", n, out)
	}
	return nil
}

func newAccountsTemplateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "template",
		Short: "Print a header-only roster CSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return core.WriteTemplate(cmd.OutOrStdout())
		},
	}
}
