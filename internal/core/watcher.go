package core

// watcher.go ingests rosters dropped into a watch directory on a cron
// schedule. Each *.csv file is ingested against the active term with
// force_update set, one file at a time, then moved into processed/ or
// failed/ next to a JSON report.

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/JonMunkholm/roster/internal/roster"
	"github.com/JonMunkholm/roster/internal/store"
	"github.com/robfig/cron/v3"
)

const (
	processedDir = "processed"
	failedDir    = "failed"
)

// ActiveTermSource returns the term watch-folder rosters are ingested into.
type ActiveTermSource interface {
	Active(ctx context.Context) (roster.Term, error)
}

// WatchResult summarizes one scan of the watch directory.
type WatchResult struct {
	Processed []string
	Failed    []string
	Skipped   []string // left in place for the next scan
}

// Watcher periodically scans a directory for rosters.
type Watcher struct {
	svc      *Service
	terms    ActiveTermSource
	dir      string
	schedule string
	logger   *slog.Logger
	now      func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

// NewWatcher validates the schedule and prepares the output directories.
func NewWatcher(svc *Service, terms ActiveTermSource, dir, schedule string) (*Watcher, error) {
	if dir == "" {
		return nil, errors.New("watch directory is empty")
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid watch schedule %q: %w", schedule, err)
	}
	for _, sub := range []string{processedDir, failedDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("create %s dir: %w", sub, err)
		}
	}
	return &Watcher{
		svc:      svc,
		terms:    terms,
		dir:      dir,
		schedule: schedule,
		logger:   slog.With("component", "watcher", "dir", dir),
		now:      time.Now,
	}, nil
}

// Start runs Scan on the schedule until ctx is cancelled or Stop is called.
// A scan still running when the next tick fires is skipped.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cron != nil {
		return errors.New("watcher already started")
	}

	logger := cronLogger{w.logger}
	c := cron.New(cron.WithLogger(logger), cron.WithChain(
		cron.Recover(logger),
		cron.SkipIfStillRunning(logger),
	))
	if _, err := c.AddFunc(w.schedule, func() {
		if _, err := w.Scan(ctx); err != nil && !errors.Is(err, ErrNoActiveTerm) {
			w.logger.Error("watch scan failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule watch scan: %w", err)
	}
	c.Start()
	w.cron = c

	w.logger.Info("watcher started", "schedule", w.schedule)

	go func() {
		<-ctx.Done()
		w.Stop()
	}()
	return nil
}

// Stop halts the schedule and waits for a running scan to return.
func (w *Watcher) Stop() {
	w.mu.Lock()
	c := w.cron
	w.cron = nil
	w.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
	w.logger.Info("watcher stopped")
}

// Scan ingests every roster currently in the directory. Files are handled
// in name order. Returns ErrNoActiveTerm without touching any file when no
// term is active.
func (w *Watcher) Scan(ctx context.Context) (WatchResult, error) {
	var res WatchResult

	term, err := w.terms.Active(ctx)
	if errors.Is(err, store.ErrNotFound) {
		w.logger.Debug("no active term, skipping scan")
		return res, ErrNoActiveTerm
	}
	if err != nil {
		return res, fmt.Errorf("load active term: %w", err)
	}

	files, err := w.pending()
	if err != nil {
		return res, err
	}

	for i, name := range files {
		if ctx.Err() != nil {
			res.Skipped = append(res.Skipped, files[i:]...)
			return res, ctx.Err()
		}

		ok, err := w.ingestFile(ctx, name, term)
		switch {
		case errors.Is(err, ErrTooManyIngests):
			// Service is saturated; retry on the next tick.
			res.Skipped = append(res.Skipped, files[i:]...)
			w.logger.Info("ingest slots busy, deferring files", "remaining", len(files)-i)
			return res, nil
		case err != nil:
			return res, err
		case ok:
			res.Processed = append(res.Processed, name)
		default:
			res.Failed = append(res.Failed, name)
		}
	}
	return res, nil
}

// pending lists *.csv files in the directory, sorted by name.
func (w *Watcher) pending() ([]string, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, fmt.Errorf("read watch dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.EqualFold(filepath.Ext(e.Name()), ".csv") {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)
	return names, nil
}

// ingestFile runs one roster through the service and files it away. It
// reports whether the run completed. Errors are returned only when the file
// could not be started or moved.
func (w *Watcher) ingestFile(ctx context.Context, name string, term roster.Term) (bool, error) {
	path := filepath.Join(w.dir, name)
	logger := w.logger.With("file", name, "term", term.Label)

	id, err := w.svc.StartIngest(ctx, IngestRequest{
		Path:        path,
		FileName:    name,
		TargetTerm:  term.ID,
		ForceUpdate: true,
	})
	if err != nil {
		return false, err
	}

	report, runErr := w.svc.GetResult(context.WithoutCancel(ctx), id)
	ok := runErr == nil && report != nil && !report.Cancelled

	dest := processedDir
	if !ok {
		dest = failedDir
		logger.Warn("watch ingest failed", "ingest_id", id, "error", runErr)
	} else {
		logger.Info("watch ingest complete", "ingest_id", id, "processed", report.TotalProcessed, "failed", report.Failed)
	}

	if err := w.archive(name, dest, report, runErr); err != nil {
		return ok, err
	}
	return ok, nil
}

type watchReport struct {
	File   string        `json:"file"`
	Error  *UserMessage  `json:"error,omitempty"`
	Report *IngestReport `json:"report,omitempty"`
}

// archive moves the roster into dest with a timestamp prefix and writes its
// report alongside.
func (w *Watcher) archive(name, dest string, report *IngestReport, runErr error) error {
	stamped := w.now().UTC().Format("20060102T150405") + "_" + name
	target := filepath.Join(w.dir, dest, stamped)
	if err := os.Rename(filepath.Join(w.dir, name), target); err != nil {
		return fmt.Errorf("move %s to %s: %w", name, dest, err)
	}

	out := watchReport{File: name, Report: report}
	if runErr != nil {
		msg := MapError(runErr)
		out.Error = &msg
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	reportPath := strings.TrimSuffix(target, filepath.Ext(target)) + ".report.json"
	if err := os.WriteFile(reportPath, data, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error(msg, append(keysAndValues, "error", err)...)
}
