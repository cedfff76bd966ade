package core

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

func newTestService(b *memBackend, opts ...ServiceOption) *Service {
	return NewService(newTestIngester(b), NewIngestLimiter(1, 50*time.Millisecond), opts...)
}

func TestServiceRunsIngestInBackground(t *testing.T) {
	b := newMemBackend()
	term := b.addTerm("Fall 2025")
	path := writeRoster(t, "S001,Ada,,Lovelace,female,1", "S002,Alan,,Turing,male,1")
	svc := newTestService(b)

	id, err := svc.StartIngest(context.Background(), IngestRequest{Path: path, TargetTerm: term.ID})
	if err != nil {
		t.Fatalf("StartIngest() error = %v", err)
	}

	updates, err := svc.SubscribeProgress(id)
	if err != nil {
		t.Fatalf("SubscribeProgress() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	report, err := svc.GetResult(ctx, id)
	if err != nil {
		t.Fatalf("GetResult() error = %v", err)
	}
	if report.Created != 2 {
		t.Errorf("Created = %d, want 2", report.Created)
	}

	var last IngestProgress
	for p := range updates {
		last = p
	}
	if last.Phase != PhaseComplete || last.Fraction != 1 || last.FileName != "roster.csv" {
		t.Errorf("last progress = %+v, want complete", last)
	}

	p, err := svc.GetProgress(id)
	if err != nil || p.Phase != PhaseComplete {
		t.Errorf("GetProgress() = %+v, %v", p, err)
	}
}

func TestServiceSubscribeAfterFinish(t *testing.T) {
	b := newMemBackend()
	term := b.addTerm("Fall 2025")
	svc := newTestService(b)

	id, _ := svc.StartIngest(context.Background(), IngestRequest{Path: writeRoster(t, "S1,A,,L,male,1"), TargetTerm: term.ID})
	if _, err := svc.GetResult(context.Background(), id); err != nil {
		t.Fatal(err)
	}

	ch, err := svc.SubscribeProgress(id)
	if err != nil {
		t.Fatal(err)
	}
	p, ok := <-ch
	if !ok || p.Phase != PhaseComplete {
		t.Errorf("first update = %+v (ok=%v), want complete", p, ok)
	}
	if _, ok := <-ch; ok {
		t.Error("channel should be closed after a finished ingest")
	}
}

func TestServiceFailedIngest(t *testing.T) {
	b := newMemBackend()
	svc := newTestService(b)

	id, err := svc.StartIngest(context.Background(), IngestRequest{Path: writeRoster(t, "S1,A,,L,male,1"), TargetTerm: uuid.New()})
	if err != nil {
		t.Fatal(err)
	}
	_, err = svc.GetResult(context.Background(), id)
	if !errors.Is(err, ErrTargetTermNotFound) {
		t.Fatalf("GetResult() error = %v, want ErrTargetTermNotFound", err)
	}

	p, _ := svc.GetProgress(id)
	if p.Phase != PhaseFailed || p.Error == "" {
		t.Errorf("progress = %+v, want failed with message", p)
	}
}

func TestServiceCancelIngest(t *testing.T) {
	b := newMemBackend()
	term := b.addTerm("Fall 2025")
	reached := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	b.onWrite = func() {
		once.Do(func() { close(reached) })
		<-release
	}
	svc := newTestService(b)

	id, err := svc.StartIngest(context.Background(), IngestRequest{Path: writeRoster(t, "S1,A,,L,male,1"), TargetTerm: term.ID})
	if err != nil {
		t.Fatal(err)
	}
	<-reached
	if err := svc.CancelIngest(id); err != nil {
		t.Fatalf("CancelIngest() error = %v", err)
	}
	close(release)

	report, err := svc.GetResult(context.Background(), id)
	if err != nil {
		t.Fatalf("GetResult() error = %v", err)
	}
	if !report.Cancelled {
		t.Errorf("report = %+v, want cancelled", report)
	}
	if p, _ := svc.GetProgress(id); p.Phase != PhaseCancelled {
		t.Errorf("phase = %s, want cancelled", p.Phase)
	}
}

func TestServiceLimitsConcurrency(t *testing.T) {
	b := newMemBackend()
	term := b.addTerm("Fall 2025")
	release := make(chan struct{})
	b.onWrite = func() { <-release }
	svc := newTestService(b)

	first, err := svc.StartIngest(context.Background(), IngestRequest{Path: writeRoster(t, "S1,A,,L,male,1"), TargetTerm: term.ID})
	if err != nil {
		t.Fatal(err)
	}

	tmp := writeRoster(t, "S2,A,,L,male,1")
	_, err = svc.StartIngest(context.Background(), IngestRequest{Path: tmp, TargetTerm: term.ID, RemoveFile: true})
	if !errors.Is(err, ErrTooManyIngests) {
		t.Errorf("second StartIngest() error = %v, want ErrTooManyIngests", err)
	}
	if _, statErr := os.Stat(tmp); !os.IsNotExist(statErr) {
		t.Error("rejected upload should be removed")
	}

	close(release)
	if _, err := svc.GetResult(context.Background(), first); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := svc.WaitForIngests(ctx); err != nil {
		t.Errorf("WaitForIngests() error = %v", err)
	}
}

func TestServiceEvictsFinishedIngests(t *testing.T) {
	b := newMemBackend()
	term := b.addTerm("Fall 2025")
	svc := newTestService(b, WithRetention(10*time.Millisecond))

	id, _ := svc.StartIngest(context.Background(), IngestRequest{Path: writeRoster(t, "S1,A,,L,male,1"), TargetTerm: term.ID})
	if _, err := svc.GetResult(context.Background(), id); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := svc.GetProgress(id); errors.Is(err, ErrIngestNotFound) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("finished ingest was never evicted")
}

func TestServiceUnknownID(t *testing.T) {
	svc := newTestService(newMemBackend())
	if _, err := svc.GetProgress("nope"); !errors.Is(err, ErrIngestNotFound) {
		t.Errorf("GetProgress() error = %v", err)
	}
	if err := svc.CancelIngest("nope"); !errors.Is(err, ErrIngestNotFound) {
		t.Errorf("CancelIngest() error = %v", err)
	}
	if _, err := svc.SubscribeProgress("nope"); !errors.Is(err, ErrIngestNotFound) {
		t.Errorf("SubscribeProgress() error = %v", err)
	}
}
