package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/JonMunkholm/roster/internal/logging"
	"github.com/google/uuid"
)

// DefaultIngestTimeout is the maximum duration of one background ingest.
const DefaultIngestTimeout = 30 * time.Minute

// DefaultRetention is how long a finished ingest stays queryable.
const DefaultRetention = 5 * time.Minute

// ErrIngestNotFound is returned for unknown or evicted ingest ids.
var ErrIngestNotFound = errors.New("ingest not found")

// IngestRequest describes one background ingest.
type IngestRequest struct {
	Path        string
	FileName    string // Display name; defaults to the base of Path
	TargetTerm  uuid.UUID
	ForceUpdate bool
	RemoveFile  bool // Delete Path when the run ends (uploaded temp files)
}

// Service runs ingests in the background and tracks their progress.
type Service struct {
	ingester  *Ingester
	limiter   *IngestLimiter
	timeout   time.Duration
	retention time.Duration

	mu      sync.RWMutex
	ingests map[string]*activeIngest
}

type activeIngest struct {
	ID       string
	FileName string
	cancel   context.CancelFunc
	done     chan struct{}

	mu        sync.Mutex
	progress  IngestProgress
	report    *IngestReport
	err       error
	listeners []chan IngestProgress
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

func WithIngestTimeout(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func WithRetention(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.retention = d
		}
	}
}

// NewService creates a Service. A nil limiter uses the defaults.
func NewService(ingester *Ingester, limiter *IngestLimiter, opts ...ServiceOption) *Service {
	if limiter == nil {
		limiter = NewIngestLimiter(0, 0)
	}
	s := &Service{
		ingester:  ingester,
		limiter:   limiter,
		timeout:   DefaultIngestTimeout,
		retention: DefaultRetention,
		ingests:   make(map[string]*activeIngest),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ingester returns the engine behind the service.
func (s *Service) Ingester() *Ingester {
	return s.ingester
}

// Limiter returns the concurrency limiter for status reporting.
func (s *Service) Limiter() *IngestLimiter {
	return s.limiter
}

// StartIngest begins an asynchronous ingest and returns its id. Use
// SubscribeProgress or GetResult to follow it.
//
// Returns ErrTooManyIngests if no slot frees up within the limiter's wait.
func (s *Service) StartIngest(ctx context.Context, req IngestRequest) (string, error) {
	if err := s.limiter.Acquire(ctx); err != nil {
		if req.RemoveFile {
			_ = os.Remove(req.Path)
		}
		return "", err
	}

	id := uuid.NewString()
	name := req.FileName
	if name == "" {
		name = filepath.Base(req.Path)
	}

	runCtx, cancel := context.WithTimeout(context.Background(), s.timeout)
	ing := &activeIngest{
		ID:       id,
		FileName: name,
		cancel:   cancel,
		done:     make(chan struct{}),
		progress: IngestProgress{
			IngestID: id,
			FileName: name,
			Phase:    PhaseStarting,
		},
	}

	s.mu.Lock()
	s.ingests[id] = ing
	s.mu.Unlock()

	logger := logging.WithFields(ctx, "ingest_id", id, "file", name, "term_id", req.TargetTerm)
	logger.Info("ingest queued", append([]any{"force_update", req.ForceUpdate}, requestAttrs(ctx)...)...)

	go func() {
		defer s.limiter.Release()
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				logger.Error("panic in ingest", "panic", r)
				ing.finish(nil, fmt.Errorf("internal error: %v", r))
				s.cleanup(id)
			}
		}()
		if req.RemoveFile {
			defer os.Remove(req.Path)
		}
		s.run(runCtx, ing, req, logger)
	}()

	return id, nil
}

func (s *Service) run(ctx context.Context, ing *activeIngest, req IngestRequest, logger *slog.Logger) {
	ing.update(PhaseValidating, 0)

	report, err := s.ingester.Ingest(ctx, req.Path, req.TargetTerm, req.ForceUpdate, func(f float64) {
		ing.update(PhaseApplying, f)
	})

	switch {
	case err != nil:
		logger.Warn("ingest failed", "error", err)
	case report.Cancelled:
		logger.Info("ingest cancelled", "processed", report.TotalProcessed)
	default:
		logger.Info("ingest complete",
			"processed", report.TotalProcessed,
			"created", report.Created,
			"updated", report.Updated,
			"failed", report.Failed,
			"duration", report.Duration,
		)
	}

	ing.finish(report, err)
	s.cleanup(ing.ID)
}

// update records progress and fans it out without blocking.
func (ing *activeIngest) update(phase IngestPhase, fraction float64) {
	ing.mu.Lock()
	defer ing.mu.Unlock()

	ing.progress.Phase = phase
	if fraction > ing.progress.Fraction {
		ing.progress.Fraction = fraction
	}
	ing.notifyLocked()
}

// finish publishes the terminal state and closes every listener.
func (ing *activeIngest) finish(report *IngestReport, err error) {
	ing.mu.Lock()
	defer ing.mu.Unlock()

	select {
	case <-ing.done:
		return
	default:
	}

	ing.err = err
	ing.report = report
	var ierr *IngestError
	if report == nil && errors.As(err, &ierr) {
		ing.report = ierr.Report
	}

	switch {
	case errors.Is(err, context.Canceled):
		ing.progress.Phase = PhaseCancelled
	case err != nil:
		ing.progress.Phase = PhaseFailed
		ing.progress.Error = FormatUserError(err)
	case report.Cancelled:
		ing.progress.Phase = PhaseCancelled
	default:
		ing.progress.Phase = PhaseComplete
		ing.progress.Fraction = 1
	}
	ing.notifyLocked()

	for _, ch := range ing.listeners {
		close(ch)
	}
	ing.listeners = nil
	close(ing.done)
}

// notifyLocked must be called with ing.mu held.
func (ing *activeIngest) notifyLocked() {
	for _, ch := range ing.listeners {
		select {
		case ch <- ing.progress:
		default:
			// Listener is slow, skip this update
		}
	}
}

// cleanup removes the ingest from tracking after the retention period.
func (s *Service) cleanup(id string) {
	time.AfterFunc(s.retention, func() {
		s.mu.Lock()
		delete(s.ingests, id)
		s.mu.Unlock()
	})
}

func (s *Service) lookup(id string) (*activeIngest, error) {
	s.mu.RLock()
	ing, ok := s.ingests[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrIngestNotFound, id)
	}
	return ing, nil
}

// SubscribeProgress returns a channel of progress updates. It receives the
// current state immediately and is closed once the ingest ends.
func (s *Service) SubscribeProgress(id string) (<-chan IngestProgress, error) {
	ing, err := s.lookup(id)
	if err != nil {
		return nil, err
	}

	ch := make(chan IngestProgress, 16)

	ing.mu.Lock()
	defer ing.mu.Unlock()
	ch <- ing.progress
	select {
	case <-ing.done:
		close(ch)
	default:
		ing.listeners = append(ing.listeners, ch)
	}
	return ch, nil
}

// GetProgress returns the current progress without blocking.
func (s *Service) GetProgress(id string) (IngestProgress, error) {
	ing, err := s.lookup(id)
	if err != nil {
		return IngestProgress{}, err
	}
	ing.mu.Lock()
	defer ing.mu.Unlock()
	return ing.progress, nil
}

// GetResult blocks until the ingest ends or ctx is done. A failed run
// returns its error together with whatever report it produced.
func (s *Service) GetResult(ctx context.Context, id string) (*IngestReport, error) {
	ing, err := s.lookup(id)
	if err != nil {
		return nil, err
	}

	select {
	case <-ing.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	ing.mu.Lock()
	defer ing.mu.Unlock()
	return ing.report, ing.err
}

// CancelIngest asks a running ingest to stop. Chunks already applying
// still commit.
func (s *Service) CancelIngest(id string) error {
	ing, err := s.lookup(id)
	if err != nil {
		return err
	}
	ing.cancel()
	return nil
}

// ActiveIngests returns the progress of every tracked ingest.
func (s *Service) ActiveIngests() []IngestProgress {
	s.mu.RLock()
	list := make([]*activeIngest, 0, len(s.ingests))
	for _, ing := range s.ingests {
		list = append(list, ing)
	}
	s.mu.RUnlock()

	out := make([]IngestProgress, 0, len(list))
	for _, ing := range list {
		ing.mu.Lock()
		out = append(out, ing.progress)
		ing.mu.Unlock()
	}
	return out
}

// CancelAll cancels every running ingest.
func (s *Service) CancelAll() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ing := range s.ingests {
		ing.cancel()
	}
}

// WaitForIngests blocks until no ingest holds a limiter slot or ctx ends.
// Used for graceful shutdown.
func (s *Service) WaitForIngests(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}
