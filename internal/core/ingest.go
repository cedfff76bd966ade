package core

// ingest.go reconciles the accounts table with a roster file.
//
// A run moves through fixed phases: validate, read, deactivate accounts
// absent from the file, transform and classify rows, apply them in chunks on
// a worker pool, reactivate every account named by the file, and count.
// Each apply chunk is its own writer transaction with one savepoint per row,
// so a failing row never takes its neighbours down with it.

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/JonMunkholm/roster/internal/config"
	"github.com/JonMunkholm/roster/internal/logging"
	"github.com/JonMunkholm/roster/internal/roster"
	"github.com/JonMunkholm/roster/internal/schema"
	"github.com/JonMunkholm/roster/internal/store"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// DefaultChunkSize is the number of rows applied per writer transaction.
const DefaultChunkSize = 500

// lookupBatch bounds the id array sent per classification query.
const lookupBatch = 5000

// ErrTargetTermNotFound is returned when the run's target term does not exist.
var ErrTargetTermNotFound = errors.New("target term not found")

// DefaultWorkers is the apply pool size: hardware parallelism, at least 4.
func DefaultWorkers() int {
	return max(runtime.NumCPU(), 4)
}

// Ingester applies roster files to a Backend. It is safe for concurrent
// use; each Ingest call owns its work channel and progress tracker.
type Ingester struct {
	backend   Backend
	validator *Validator
	retry     RetryPolicy
	workers   int
	chunkSize int
	batchSize int
	sink      logging.Sink
}

// IngesterOption configures an Ingester.
type IngesterOption func(*Ingester)

// WithRetryPolicy sets the backoff used for Busy and Locked failures.
func WithRetryPolicy(p RetryPolicy) IngesterOption {
	return func(in *Ingester) { in.retry = p }
}

// WithWorkers sets the number of chunk writers. Non-positive values are ignored.
func WithWorkers(n int) IngesterOption {
	return func(in *Ingester) {
		if n > 0 {
			in.workers = n
		}
	}
}

// WithChunkSize sets the rows applied per writer scope. Non-positive values are ignored.
func WithChunkSize(n int) IngesterOption {
	return func(in *Ingester) {
		if n > 0 {
			in.chunkSize = n
		}
	}
}

// WithTransformBatchSize sets the rows transformed per batch. Non-positive values are ignored.
func WithTransformBatchSize(n int) IngesterOption {
	return func(in *Ingester) {
		if n > 0 {
			in.batchSize = n
		}
	}
}

// WithMaxFileSize sets the largest roster the validator accepts.
func WithMaxFileSize(n int64) IngesterOption {
	return func(in *Ingester) {
		in.validator = NewValidator(in.backend.Accounts(), in.backend.Terms(), n)
	}
}

// WithSink routes operator log lines. The default discards them.
func WithSink(s logging.Sink) IngesterOption {
	return func(in *Ingester) {
		if s != nil {
			in.sink = s
		}
	}
}

// OptionsFromConfig maps the ingest and retry sections to ingester options.
// Workers are capped one below maxConns so readers always find a free
// connection; a non-positive maxConns leaves the worker count uncapped.
func OptionsFromConfig(cfg *config.Config, maxConns int, sink logging.Sink) []IngesterOption {
	workers := cfg.Ingest.WorkerCount()
	if maxConns > 1 {
		workers = min(workers, maxConns-1)
	}
	return []IngesterOption{
		WithRetryPolicy(RetryPolicyFromConfig(cfg.Retry)),
		WithWorkers(workers),
		WithChunkSize(cfg.Ingest.ChunkSize),
		WithTransformBatchSize(cfg.Ingest.TransformBatchSize),
		WithMaxFileSize(cfg.Ingest.MaxFileSize),
		WithSink(sink),
	}
}

// NewIngester creates an ingester over backend.
func NewIngester(backend Backend, opts ...IngesterOption) *Ingester {
	in := &Ingester{
		backend:   backend,
		validator: NewValidator(backend.Accounts(), backend.Terms(), DefaultMaxFileSize),
		retry:     DefaultRetryPolicy(),
		workers:   DefaultWorkers(),
		chunkSize: DefaultChunkSize,
		batchSize: DefaultTransformBatchSize,
		sink:      logging.Discard,
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Validator exposes the ingester's validator for dry runs.
func (in *Ingester) Validator() *Validator {
	return in.validator
}

// applyItem is a classified draft waiting for a worker.
type applyItem struct {
	outcome  int // index into the run's outcomes
	row      int
	schoolID string
	draft    roster.AccountDraft
	op       ApplyOp
	id       uuid.UUID
}

// ingestRun holds the mutable state of one Ingest call.
type ingestRun struct {
	in     *Ingester
	target uuid.UUID
	force  bool

	mu       sync.Mutex
	report   *IngestReport
	outcomes []RowOutcome
}

// Ingest validates the roster at path and reconciles the store with it.
//
// Validation failures return ValidationErrors and no report. Once the store
// has been touched, fatal failures return an *IngestError carrying the
// report so far. Cancelling ctx stops dispatching new chunks; chunks in
// flight still commit, reactivation is skipped and the report is marked
// Cancelled.
func (in *Ingester) Ingest(ctx context.Context, path string, target uuid.UUID, forceUpdate bool, progress ProgressFunc) (*IngestReport, error) {
	start := time.Now()
	run := &ingestRun{
		in:     in,
		target: target,
		force:  forceUpdate,
		report: &IngestReport{
			TargetTerm:   target,
			ForceUpdate:  forceUpdate,
			ErrorDetails: []ErrorDetail{},
		},
	}
	in.emit(slog.LevelInfo, "ingest started: file=%s target=%s force_update=%t", path, target, forceUpdate)

	// Phase 1: validate.
	validation, err := in.validator.Validate(ctx, path)
	if err != nil {
		in.emit(slog.LevelWarn, "ingest rejected: %v", err)
		return nil, err
	}
	run.report.Validation = validation.Report
	run.report.ExistingAccountInfo = validation.Existing

	if _, err := in.backend.Terms().Get(ctx, target); err != nil {
		if store.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrTargetTermNotFound, target)
		}
		return nil, fmt.Errorf("look up target term: %w", err)
	}

	// Phase 2: read rows and collect the school ids named by the file.
	header, rows, err := readRows(ctx, path)
	if err != nil {
		if ctx.Err() != nil {
			return run.finish(ctx, start, nil, true)
		}
		return nil, fmt.Errorf("read roster: %w", err)
	}
	run.outcomes = make([]RowOutcome, len(rows))
	for i, row := range rows {
		run.outcomes[i] = RowOutcome{Row: row.Number, State: StateDrafted}
	}
	schoolIDs := fileSchoolIDs(header, rows)
	tracker := newProgressTracker(len(rows), progress)

	if ctx.Err() != nil {
		return run.finish(ctx, start, tracker, true)
	}

	// Phase 3: deactivate every account the file does not name.
	err = in.write(ctx, func(ctx context.Context, tx Tx) error {
		n, err := tx.Accounts().DeactivateAbsent(ctx, schoolIDs)
		run.report.PreDeactivated = n
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return run.finish(ctx, start, tracker, true)
		}
		return nil, run.fail(PhaseDeactivating, start, err)
	}
	in.emit(slog.LevelInfo, "deactivated %d accounts absent from %d school ids", run.report.PreDeactivated, len(schoolIDs))

	// Phase 4: transform, resolve duplicates, classify.
	items, credited, cancelled, err := run.prepare(ctx, header, rows)
	if err != nil {
		return nil, run.fail(PhaseTransforming, start, err)
	}
	tracker.Advance(credited)
	if cancelled {
		return run.finish(ctx, start, tracker, true)
	}

	// Phase 5: apply on the worker pool.
	cancelled, err = run.apply(ctx, items, tracker)
	if err != nil {
		return nil, run.fail(PhaseApplying, start, err)
	}
	if cancelled {
		return run.finish(ctx, start, tracker, true)
	}

	// Phase 6: reactivate every account the file names.
	err = in.write(ctx, func(ctx context.Context, tx Tx) error {
		n, err := tx.Accounts().ActivateSchoolIDs(ctx, schoolIDs)
		run.report.Reactivated = n
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return run.finish(ctx, start, tracker, true)
		}
		return nil, run.fail(PhaseActivating, start, err)
	}

	// Phases 7 and 8: every scope above has committed; count.
	return run.finish(ctx, start, tracker, false)
}

// write runs fn in a writer scope, retrying Busy and Locked failures.
func (in *Ingester) write(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	_, err := in.retry.Do(ctx, func() error {
		return in.backend.Write(ctx, fn)
	})
	return err
}

func (in *Ingester) emit(level slog.Level, format string, args ...any) {
	in.sink.Emit(level, "roster::ingest", fmt.Sprintf(format, args...), time.Now())
}

// prepare transforms rows on the worker pool, resolves duplicate school ids
// last-wins and classifies winners as create or update. It returns the
// apply items in file order and the number of rows already terminal.
func (r *ingestRun) prepare(ctx context.Context, header []string, rows []Row) ([]applyItem, int, bool, error) {
	results := make([]TransformResult, len(rows))

	transformer, headerErr := NewTransformer(header, r.in.backend.Terms())
	if headerErr != nil {
		for i, row := range rows {
			results[i] = TransformResult{Row: row.Number, Err: headerErr}
		}
	} else {
		batches := chunk(rows, r.in.batchSize)
		var g errgroup.Group
		g.SetLimit(r.in.workers)
		offset := 0
		for _, batch := range batches {
			batch, at := batch, offset
			offset += len(batch)
			g.Go(func() error {
				if err := ctx.Err(); err != nil {
					return err
				}
				copy(results[at:], transformer.TransformBatch(ctx, batch))
				return nil
			})
		}
		if err := g.Wait(); err != nil || ctx.Err() != nil {
			return nil, 0, true, nil
		}
	}

	// Last successful occurrence of each school id wins.
	winner := make(map[string]int, len(results))
	for i, res := range results {
		if res.Err == nil {
			winner[res.Draft.SchoolID] = i
		}
	}

	credited := 0
	var pending []int
	for i, res := range results {
		o := &r.outcomes[i]
		if res.Err != nil {
			o.SchoolID = rowSchoolID(header, rows[i].Record)
			o.State = StateFailed
			o.Error = res.Err.Error()
			r.report.Failed++
			r.report.ErrorDetails = append(r.report.ErrorDetails, ErrorDetail{
				Row:      res.Row,
				SchoolID: o.SchoolID,
				Kind:     transformKind(res.Err),
				Message:  o.Error,
			})
			credited++
			continue
		}

		o.SchoolID = res.Draft.SchoolID
		if winner[res.Draft.SchoolID] != i {
			o.State = StateSuperseded
			credited++
			continue
		}
		pending = append(pending, i)
	}

	ids := make([]string, len(pending))
	for n, i := range pending {
		ids[n] = results[i].Draft.SchoolID
	}
	existing := make(map[string]uuid.UUID, len(ids))
	for _, batch := range chunk(ids, lookupBatch) {
		found, err := r.in.backend.Accounts().LookupIDs(ctx, batch)
		if err != nil {
			if ctx.Err() != nil {
				return nil, credited, true, nil
			}
			return nil, credited, false, fmt.Errorf("classify rows: %w", err)
		}
		for k, v := range found {
			existing[k] = v
		}
	}

	items := make([]applyItem, 0, len(pending))
	for _, i := range pending {
		res := results[i]
		item := applyItem{
			outcome:  i,
			row:      res.Row,
			schoolID: res.Draft.SchoolID,
			draft:    res.Draft,
			op:       OpCreate,
		}
		if id, ok := existing[item.schoolID]; ok {
			item.op = OpUpdate
			item.id = id
		}
		r.outcomes[i].Op = item.op
		r.outcomes[i].State = StateClassified
		items = append(items, item)
	}
	return items, credited, false, nil
}

// apply feeds chunks to a fixed worker pool. It reports cancelled when some
// chunk was never applied because ctx ended.
func (r *ingestRun) apply(ctx context.Context, items []applyItem, tracker *progressTracker) (bool, error) {
	chunks := chunk(items, r.in.chunkSize)
	if len(chunks) == 0 {
		return ctx.Err() != nil, nil
	}

	workers := min(r.in.workers, len(chunks))
	work := make(chan []applyItem, workers)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers + 1)

	g.Go(func() error {
		defer close(work)
		for _, c := range chunks {
			select {
			case <-gctx.Done():
				return nil
			case work <- c:
			}
		}
		return nil
	})

	// Chunks already handed to a worker finish even if ctx is cancelled.
	wctx := context.WithoutCancel(ctx)
	var applied atomic.Int64
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for c := range work {
				if gctx.Err() != nil {
					continue
				}
				if err := r.applyChunk(wctx, c); err != nil {
					return err
				}
				applied.Add(1)
				tracker.Advance(len(c))
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return false, err
	}
	return applied.Load() < int64(len(chunks)), nil
}

// chunkResult collects outcomes of one chunk until its scope commits.
type chunkResult struct {
	outcomes []RowOutcome
	indexes  []int
	kinds    []string
}

// applyChunk applies items in file order inside one writer scope. The
// scope is retried as a whole when the writer cannot be acquired.
func (r *ingestRun) applyChunk(ctx context.Context, items []applyItem) error {
	var res chunkResult
	_, err := r.in.retry.Do(ctx, func() error {
		res = chunkResult{}
		return r.in.backend.Write(ctx, func(ctx context.Context, tx Tx) error {
			for _, item := range items {
				o, kind := r.applyRow(ctx, tx, item)
				res.indexes = append(res.indexes, item.outcome)
				res.outcomes = append(res.outcomes, o)
				res.kinds = append(res.kinds, kind)
			}
			return nil
		})
	})
	if err != nil {
		return fmt.Errorf("apply rows %d-%d: %w", items[0].row, items[len(items)-1].row, err)
	}
	r.merge(res)
	return nil
}

// applyRow runs one create or update in its own savepoint. The returned
// kind names the failure class of a failed row.
func (r *ingestRun) applyRow(ctx context.Context, tx Tx, item applyItem) (RowOutcome, string) {
	o := RowOutcome{
		Row:      item.row,
		SchoolID: item.schoolID,
		Op:       item.op,
		State:    StateAttempting,
	}

	if item.op == OpUpdate && !r.force {
		o.State = StateFailed
		o.Account = item.id
		o.Error = fmt.Sprintf("Account with school_id %s already exists", item.schoolID)
		return o, DetailExists
	}

	draft := item.draft
	target := r.target
	draft.TermRef = &target

	var account roster.Account
	attempts, err := r.in.retry.Do(ctx, func() error {
		return tx.Savepoint(ctx, func(ctx context.Context) error {
			var err error
			if item.op == OpCreate {
				account, err = tx.Accounts().Create(ctx, draft)
			} else {
				account, err = tx.Accounts().Update(ctx, item.id, draft.Patch())
			}
			return err
		})
	})
	o.Attempts = attempts

	switch {
	case err == nil:
		o.State = StateCommitted
		o.Account = account.ID
	case store.IsUniqueViolation(err):
		o.State = StateSkippedUnique
	default:
		o.State = StateFailed
		o.Error = err.Error()
		return o, store.Classify(err).String()
	}
	return o, ""
}

// merge folds a committed chunk into the report.
func (r *ingestRun) merge(res chunkResult) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for n, o := range res.outcomes {
		r.outcomes[res.indexes[n]] = o
		switch o.State {
		case StateCommitted:
			r.report.Successful++
			if o.Op == OpCreate {
				r.report.Created++
			} else {
				r.report.Updated++
			}
		case StateSkippedUnique:
			r.report.Skipped++
		case StateFailed:
			r.report.Failed++
			r.report.ErrorDetails = append(r.report.ErrorDetails, ErrorDetail{
				Row:      o.Row,
				SchoolID: o.SchoolID,
				Kind:     res.kinds[n],
				Message:  o.Error,
			})
		}
	}
}

// finish counts activation with a detached context and seals the report.
func (r *ingestRun) finish(ctx context.Context, start time.Time, tracker *progressTracker, cancelled bool) (*IngestReport, error) {
	counts, err := r.in.backend.Accounts().CountActivation(context.WithoutCancel(ctx))
	if err != nil {
		return nil, r.fail(PhaseCounting, start, fmt.Errorf("count accounts: %w", err))
	}
	r.report.ActivationCounts = counts
	r.seal(start)

	if cancelled {
		r.report.Cancelled = true
		r.report.ErrorDetails = append(r.report.ErrorDetails, ErrorDetail{Kind: DetailCancelled, Message: "Cancelled"})
		r.in.emit(slog.LevelWarn, "ingest cancelled after %d rows", r.report.TotalProcessed)
		return r.report, nil
	}

	if tracker != nil {
		tracker.Finish()
	}
	r.in.emit(slog.LevelInfo, "ingest finished: processed=%d successful=%d failed=%d skipped=%d active=%d inactive=%d in %s",
		r.report.TotalProcessed, r.report.Successful, r.report.Failed, r.report.Skipped,
		counts.Activated, counts.Deactivated, r.report.Duration.Round(time.Millisecond))
	return r.report, nil
}

func (r *ingestRun) fail(phase IngestPhase, start time.Time, err error) error {
	r.seal(start)
	r.in.emit(slog.LevelError, "ingest aborted while %s: %v", phase, err)
	return &IngestError{Phase: phase, Report: r.report, Err: err}
}

// seal derives totals from row outcomes and orders error details by row.
func (r *ingestRun) seal(start time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	processed := 0
	for _, o := range r.outcomes {
		switch o.State {
		case StateCommitted, StateSkippedUnique, StateFailed, StateSuperseded:
			processed++
		}
	}
	r.report.TotalProcessed = processed
	r.report.Outcomes = r.outcomes
	sort.SliceStable(r.report.ErrorDetails, func(i, j int) bool {
		return r.report.ErrorDetails[i].Row < r.report.ErrorDetails[j].Row
	})
	r.report.Duration = time.Since(start)
}

// readRows loads the header and every non-blank record of a validated file.
func readRows(ctx context.Context, path string) ([]string, []Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	reader := newRosterCSVReader(f)
	header, err := readHeader(reader)
	if err != nil {
		return nil, nil, fmt.Errorf("read header: %w", err)
	}

	var rows []Row
	for n := 0; ; {
		if n%ContextCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, nil, err
			}
		}
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, err
		}
		if isEmptyRow(record) {
			continue
		}
		n++
		rows = append(rows, Row{Number: n, Record: record})
	}
	return header, rows, nil
}

// fileSchoolIDs returns the distinct trimmed student ids in file order.
func fileSchoolIDs(header []string, rows []Row) []string {
	idx := MakeHeaderIndex(header)
	seen := make(map[string]struct{}, len(rows))
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		v, _ := idx.Cell(row.Record, schema.ColStudentID)
		id := roster.NormalizeSchoolID(v)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}

func rowSchoolID(header []string, record []string) string {
	v, _ := MakeHeaderIndex(header).Cell(record, schema.ColStudentID)
	return roster.NormalizeSchoolID(v)
}

func transformKind(err error) string {
	var te *TransformError
	if errors.As(err, &te) {
		return string(te.Kind)
	}
	return store.Classify(err).String()
}
