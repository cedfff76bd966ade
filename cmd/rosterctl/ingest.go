package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/JonMunkholm/roster/internal/core"
	"github.com/JonMunkholm/roster/internal/logging"
	"github.com/JonMunkholm/roster/internal/roster"
	"github.com/JonMunkholm/roster/internal/store"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

type ingestOptions struct {
	term       string
	force      bool
	jsonOut    bool
	reportPath string
	quiet      bool
}

func newIngestCmd() *cobra.Command {
	var opts ingestOptions

	cmd := &cobra.Command{
		Use:   "ingest FILE",
		Short: "Reconcile the accounts table with a roster CSV",
		Long: `Validate FILE, then create or update one account per row, stamp every
applied row with the target term, and deactivate accounts the file does not
name. Without --force, rows whose school id already exists are reported as
failed instead of being overwritten.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.term, "term", "", "Target term id or label (default: the active term)")
	cmd.Flags().BoolVar(&opts.force, "force", false, "Overwrite accounts that already exist")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "Print the report as JSON")
	cmd.Flags().StringVar(&opts.reportPath, "report", "", "Also write the JSON report to this path")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "Do not print progress")
	return cmd
}

func runIngest(ctx context.Context, stdout, stderr io.Writer, path string, opts ingestOptions) error {
	cfg, st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	target, err := resolveTermRef(ctx, st.Terms(), opts.term)
	if err != nil {
		return err
	}

	ingester := core.NewIngester(core.NewStoreBackend(st),
		core.OptionsFromConfig(cfg, st.MaxConns(), logging.NewSlogSink(nil))...)

	var progress core.ProgressFunc
	if !opts.quiet {
		progress = progressPrinter(stderr)
	}

	report, err := ingester.Ingest(ctx, path, target, opts.force, progress)
	var ingErr *core.IngestError
	if errors.As(err, &ingErr) {
		report = ingErr.Report
	}
	if report != nil {
		if werr := emitReport(stdout, report, opts); werr != nil {
			return errors.Join(err, werr)
		}
	}

	var verrs core.ValidationErrors
	if errors.As(err, &verrs) {
		printValidationErrors(stderr, verrs)
	}
	if err != nil {
		return err
	}
	if report.Cancelled || report.Failed > 0 {
		return withCode(exitPartial, fmt.Errorf("%d of %d rows failed", report.Failed, report.TotalProcessed))
	}
	return nil
}

func emitReport(w io.Writer, report *core.IngestReport, opts ingestOptions) error {
	if opts.reportPath != "" {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return fmt.Errorf("encode report: %w", err)
		}
		if err := os.WriteFile(opts.reportPath, data, 0o644); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
	}
	if opts.jsonOut {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	printIngestReport(w, report)
	return nil
}

type validateOptions struct {
	jsonOut bool
}

func newValidateCmd() *cobra.Command {
	var opts validateOptions

	cmd := &cobra.Command{
		Use:   "validate FILE",
		Short: "Check a roster CSV without writing anything",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), args[0], opts)
		},
	}
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "Print the validation report as JSON")
	return cmd
}

func runValidate(ctx context.Context, stdout, stderr io.Writer, path string, opts validateOptions) error {
	cfg, st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	validator := core.NewValidator(st.Accounts(), st.Terms(), cfg.Ingest.MaxFileSize)
	result, err := validator.Validate(ctx, path)
	if result != nil {
		if opts.jsonOut {
			enc := json.NewEncoder(stdout)
			enc.SetIndent("", "  ")
			if encErr := enc.Encode(result); encErr != nil {
				return errors.Join(err, encErr)
			}
		} else {
			printValidation(stdout, result)
		}
	}

	var verrs core.ValidationErrors
	if errors.As(err, &verrs) {
		printValidationErrors(stderr, verrs)
	}
	return err
}

// termLookup is the part of the term repository rosterctl resolves names with.
type termLookup interface {
	Get(ctx context.Context, id uuid.UUID) (roster.Term, error)
	GetByLabel(ctx context.Context, label string) (roster.Term, error)
	Active(ctx context.Context) (roster.Term, error)
}

// resolveTermRef maps a term id or label to an id. An empty ref is the
// active term.
func resolveTermRef(ctx context.Context, terms termLookup, ref string) (uuid.UUID, error) {
	ref = strings.TrimSpace(ref)
	var (
		term roster.Term
		err  error
	)
	switch id, perr := uuid.Parse(ref); {
	case ref == "":
		term, err = terms.Active(ctx)
		if errors.Is(err, store.ErrNotFound) {
			return uuid.Nil, core.ErrNoActiveTerm
		}
	case perr == nil:
		term, err = terms.Get(ctx, id)
	default:
		term, err = terms.GetByLabel(ctx, ref)
	}
	if errors.Is(err, store.ErrNotFound) {
		return uuid.Nil, fmt.Errorf("%w: %s", core.ErrTargetTermNotFound, ref)
	}
	if err != nil {
		return uuid.Nil, err
	}
	return term.ID, nil
}

// progressPrinter reports every tenth of the run on its own line.
func progressPrinter(w io.Writer) core.ProgressFunc {
	last := -1
	return func(fraction float64) {
		step := int(fraction * 10)
		if step == last {
			return
		}
		last = step
		fmt.Fprintf(w, "progress: %3d%%\n", step*10)
	}
}

func printIngestReport(w io.Writer, r *core.IngestReport) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "file\t%s\n", r.Validation.FileName)
	fmt.Fprintf(tw, "target term\t%s\n", r.TargetTerm)
	fmt.Fprintf(tw, "force update\t%t\n", r.ForceUpdate)
	fmt.Fprintf(tw, "processed\t%d\n", r.TotalProcessed)
	fmt.Fprintf(tw, "successful\t%d (created %d, updated %d)\n", r.Successful, r.Created, r.Updated)
	fmt.Fprintf(tw, "failed\t%d\n", r.Failed)
	fmt.Fprintf(tw, "skipped\t%d\n", r.Skipped)
	fmt.Fprintf(tw, "deactivated before apply\t%d\n", r.PreDeactivated)
	fmt.Fprintf(tw, "reactivated\t%d\n", r.Reactivated)
	fmt.Fprintf(tw, "accounts\t%d total, %d active, %d inactive\n",
		r.ActivationCounts.TotalAccounts, r.ActivationCounts.Activated, r.ActivationCounts.Deactivated)
	fmt.Fprintf(tw, "duration\t%s\n", r.Duration.Round(time.Millisecond))
	if r.Cancelled {
		fmt.Fprintf(tw, "cancelled\ttrue\n")
	}
	_ = tw.Flush()

	for _, d := range r.ErrorDetails {
		fmt.Fprintf(w, "  %s\n", d)
	}
}

func printValidation(w io.Writer, v *core.Validation) {
	rep := v.Report
	status := "valid"
	if !rep.IsValid {
		status = "invalid"
	}
	fmt.Fprintf(w, "%s: %s, %d rows (%d invalid), %d bytes\n",
		rep.FileName, status, rep.TotalRows, rep.InvalidRows, rep.FileSizeBytes)
	if rep.IsValid {
		fmt.Fprintf(w, "new accounts: %d, existing accounts: %d\n", v.Existing.NewCount, v.Existing.ExistingCount)
	}
}

func printValidationErrors(w io.Writer, errs core.ValidationErrors) {
	for _, e := range errs {
		fmt.Fprintf(w, "  [%s] %s\n", e.Kind, e.Error())
	}
}
