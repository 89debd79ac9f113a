package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/bookshelf/api/internal/apperr"
	"github.com/bookshelf/api/internal/client"
	"github.com/bookshelf/api/internal/model"
)

func TestBatchGeneratesWholeBook(t *testing.T) {
	env := newTestEnv(t, 10)
	ctx := context.Background()

	initial, err := env.batch.Start(ctx, env.book.ID, nil, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if initial.Status != model.JobStatusRunning {
		t.Errorf("initial status = %s, want RUNNING", initial.Status)
	}
	if initial.StartPage != 1 || initial.TotalPages != 10 || initial.CurrentPage != 0 {
		t.Errorf("initial = start %d current %d total %d, want 1/0/10",
			initial.StartPage, initial.CurrentPage, initial.TotalPages)
	}

	job := env.wait(t)
	if job.Status != model.JobStatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", job.Status)
	}
	if job.CurrentPage != 10 {
		t.Errorf("currentPage = %d, want 10", job.CurrentPage)
	}
	if job.ProgressPercentage != 100 {
		t.Errorf("progress = %v, want 100", job.ProgressPercentage)
	}
	if job.PagesSynthesized != 10 || job.PagesProcessed != 10 {
		t.Errorf("synthesized %d processed %d, want 10/10", job.PagesSynthesized, job.PagesProcessed)
	}
	if job.CompletedAt == nil {
		t.Error("expected completedAt to be set")
	}
	if got := len(env.backend.Calls()); got != 10 {
		t.Errorf("backend calls = %d, want 10", got)
	}
	for page := 1; page <= 10; page++ {
		if !env.cache.Has(ctx, env.book.ID, page) {
			t.Errorf("page %d not cached", page)
		}
	}
}

func TestBatchProgressIsMonotonic(t *testing.T) {
	env := newTestEnv(t, 6)

	if _, err := env.batch.Start(context.Background(), env.book.ID, intPtr(2), intPtr(5)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	env.wait(t)

	env.notifier.mu.Lock()
	defer env.notifier.mu.Unlock()

	if len(env.notifier.progress) != 4 {
		t.Fatalf("progress broadcasts = %d, want 4", len(env.notifier.progress))
	}
	lastPage, lastPct := 1, 0.0
	for _, snap := range env.notifier.progress {
		if snap.CurrentPage <= lastPage || snap.ProgressPercentage <= lastPct {
			t.Errorf("progress went from page %d (%.0f%%) to page %d (%.0f%%)",
				lastPage, lastPct, snap.CurrentPage, snap.ProgressPercentage)
		}
		lastPage, lastPct = snap.CurrentPage, snap.ProgressPercentage
	}
	if lastPct != 100 {
		t.Errorf("final broadcast progress = %v, want 100", lastPct)
	}
	if len(env.notifier.complete) != 1 || env.notifier.complete[0].Status != model.JobStatusCompleted {
		t.Errorf("expected one COMPLETED broadcast, got %d", len(env.notifier.complete))
	}
}

func TestBatchSkipsCachedPages(t *testing.T) {
	env := newTestEnv(t, 5)
	ctx := context.Background()

	if err := env.cache.Put(ctx, env.book.ID, 3, []byte("existing")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if _, err := env.batch.Start(ctx, env.book.ID, intPtr(3), intPtr(3)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	job := env.wait(t)

	if job.Status != model.JobStatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", job.Status)
	}
	if job.PagesSynthesized != 0 {
		t.Errorf("pagesSynthesized = %d, want 0", job.PagesSynthesized)
	}
	if job.ProgressPercentage != 100 {
		t.Errorf("progress = %v, want 100", job.ProgressPercentage)
	}
	if calls := env.backend.Calls(); len(calls) != 0 {
		t.Errorf("backend called %d times, want 0", len(calls))
	}
}

func TestBatchRejectsInvalidRange(t *testing.T) {
	tests := []struct {
		name       string
		start, end *int
	}{
		{"start zero", intPtr(0), intPtr(5)},
		{"start after end", intPtr(8), intPtr(5)},
		{"end past book", intPtr(1), intPtr(11)},
		{"start past book", intPtr(11), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, 10)
			ctx := context.Background()

			_, err := env.batch.Start(ctx, env.book.ID, tt.start, tt.end)
			var rangeErr *apperr.InvalidRangeError
			if !errors.As(err, &rangeErr) {
				t.Fatalf("err = %v, want InvalidRangeError", err)
			}

			job, err := env.batch.GetProgress(ctx, env.book.ID)
			if err != nil {
				t.Fatalf("GetProgress: %v", err)
			}
			if job.Status != model.JobStatusIdle {
				t.Errorf("status = %s, want IDLE (no job recorded)", job.Status)
			}
		})
	}
}

func TestBatchNonPositiveEndPageRunsToLastPage(t *testing.T) {
	for _, end := range []int{0, -1} {
		t.Run(fmt.Sprintf("end %d", end), func(t *testing.T) {
			env := newTestEnv(t, 10)
			ctx := context.Background()

			job, err := env.batch.Start(ctx, env.book.ID, nil, intPtr(end))
			if err != nil {
				t.Fatalf("Start: %v", err)
			}
			if job.StartPage != 1 || job.TotalPages != 10 {
				t.Errorf("range = %d-%d, want 1-10", job.StartPage, job.TotalPages)
			}

			job = env.wait(t)
			if job.Status != model.JobStatusCompleted {
				t.Fatalf("status = %s, want COMPLETED", job.Status)
			}
			if job.PagesSynthesized != 10 {
				t.Errorf("pagesSynthesized = %d, want 10", job.PagesSynthesized)
			}
		})
	}
}

func TestBatchUnknownBook(t *testing.T) {
	env := newTestEnv(t, 3)
	ctx := context.Background()
	missing := "9d7c1b0e-1111-4222-8333-444455556666"

	if _, err := env.batch.Start(ctx, missing, nil, nil); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Start err = %v, want ErrNotFound", err)
	}
	if _, err := env.batch.GetProgress(ctx, missing); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("GetProgress err = %v, want ErrNotFound", err)
	}
}

func TestBatchIdleProgress(t *testing.T) {
	env := newTestEnv(t, 7)

	job, err := env.batch.GetProgress(context.Background(), env.book.ID)
	if err != nil {
		t.Fatalf("GetProgress: %v", err)
	}
	if job.Status != model.JobStatusIdle || job.CurrentPage != 0 || job.TotalPages != 7 {
		t.Errorf("got %s current %d total %d, want IDLE/0/7", job.Status, job.CurrentPage, job.TotalPages)
	}
	if job.ProgressPercentage != 0 {
		t.Errorf("progress = %v, want 0", job.ProgressPercentage)
	}
}

func TestBatchRejectsConcurrentStart(t *testing.T) {
	env := newTestEnv(t, 3)
	ctx := context.Background()
	release := env.backend.hold(pageText(1))
	defer release()

	if _, err := env.batch.Start(ctx, env.book.ID, nil, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	env.backend.waitEntered(t, pageText(1))

	if _, err := env.batch.Start(ctx, env.book.ID, nil, nil); !errors.Is(err, apperr.ErrJobRunning) {
		t.Errorf("second Start err = %v, want ErrJobRunning", err)
	}

	release()
	if job := env.wait(t); job.Status != model.JobStatusCompleted {
		t.Errorf("status = %s, want COMPLETED", job.Status)
	}

	// a finished job may be replaced
	if _, err := env.batch.Start(ctx, env.book.ID, nil, nil); err != nil {
		t.Errorf("restart after completion: %v", err)
	}
	env.wait(t)
}

func TestBatchCancelStopsAtPageBoundary(t *testing.T) {
	env := newTestEnv(t, 10)
	ctx := context.Background()
	release := env.backend.hold(pageText(4))
	defer release()

	if _, err := env.batch.Start(ctx, env.book.ID, nil, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	env.backend.waitEntered(t, pageText(4))

	if !env.batch.Cancel(env.book.ID) {
		t.Fatal("Cancel returned false for a running job")
	}
	release()

	job := env.wait(t)
	if job.Status != model.JobStatusCancelled {
		t.Fatalf("status = %s, want CANCELLED", job.Status)
	}
	if job.CurrentPage != 4 {
		t.Errorf("currentPage = %d, want 4", job.CurrentPage)
	}
	if !env.cache.Has(ctx, env.book.ID, 4) {
		t.Error("in-flight page 4 should have completed")
	}
	for _, text := range env.backend.Calls() {
		for page := 5; page <= 10; page++ {
			if text == pageText(page) {
				t.Errorf("page %d generated after cancellation", page)
			}
		}
	}
	if env.batch.Cancel(env.book.ID) {
		t.Error("Cancel on a finished job should be a no-op")
	}
}

func TestBatchCancelWithoutJob(t *testing.T) {
	env := newTestEnv(t, 2)
	if env.batch.Cancel(env.book.ID) {
		t.Error("Cancel without a job should report false")
	}
	if job, _ := env.batch.GetProgress(context.Background(), env.book.ID); job.Status != model.JobStatusIdle {
		t.Errorf("status = %s, want IDLE", job.Status)
	}
}

func TestBatchFailureRecordsError(t *testing.T) {
	env := newTestEnv(t, 6)
	env.backend.fail(pageText(4), &client.StatusError{
		Backend:    "stub",
		StatusCode: http.StatusBadRequest,
		Body:       "invalid voice",
	})

	if _, err := env.batch.Start(context.Background(), env.book.ID, nil, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	job := env.wait(t)

	if job.Status != model.JobStatusFailed {
		t.Fatalf("status = %s, want FAILED", job.Status)
	}
	if job.CurrentPage != 3 {
		t.Errorf("currentPage = %d, want 3", job.CurrentPage)
	}
	if job.ErrorCode == nil || *job.ErrorCode != apperr.CodeSynthesis {
		t.Errorf("errorCode = %v, want %s", job.ErrorCode, apperr.CodeSynthesis)
	}
	if job.ErrorMessage == nil || *job.ErrorMessage == "" {
		t.Error("expected errorMessage to be set")
	}

	env.notifier.mu.Lock()
	defer env.notifier.mu.Unlock()
	if len(env.notifier.errors) != 1 || env.notifier.errors[0] != apperr.CodeSynthesis {
		t.Errorf("error broadcasts = %v", env.notifier.errors)
	}
}

func TestBatchRecordsTruncatedPages(t *testing.T) {
	env := newTestEnv(t, 3)
	env.extractor.text = func(page int) string {
		if page == 2 {
			return fmt.Sprintf("%06000d", 2)
		}
		return pageText(page)
	}

	if _, err := env.batch.Start(context.Background(), env.book.ID, nil, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	job := env.wait(t)

	if len(job.TruncatedPages) != 1 || job.TruncatedPages[0] != 2 {
		t.Errorf("truncatedPages = %v, want [2]", job.TruncatedPages)
	}
}

func TestBatchClearProgress(t *testing.T) {
	env := newTestEnv(t, 2)
	ctx := context.Background()
	release := env.backend.hold(pageText(1))
	defer release()

	if _, err := env.batch.Start(ctx, env.book.ID, nil, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	env.backend.waitEntered(t, pageText(1))

	if err := env.batch.ClearProgress(env.book.ID); !errors.Is(err, apperr.ErrJobRunning) {
		t.Errorf("ClearProgress while running = %v, want ErrJobRunning", err)
	}

	release()
	env.wait(t)

	if err := env.batch.ClearProgress(env.book.ID); err != nil {
		t.Fatalf("ClearProgress: %v", err)
	}
	job, _ := env.batch.GetProgress(ctx, env.book.ID)
	if job.Status != model.JobStatusIdle {
		t.Errorf("status after clear = %s, want IDLE", job.Status)
	}
}

func TestBatchProgressIsACopy(t *testing.T) {
	env := newTestEnv(t, 2)
	ctx := context.Background()

	if _, err := env.batch.Start(ctx, env.book.ID, nil, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	job := env.wait(t)
	job.Status = model.JobStatusFailed
	job.CurrentPage = 99

	again, _ := env.batch.GetProgress(ctx, env.book.ID)
	if again.Status != model.JobStatusCompleted || again.CurrentPage != 2 {
		t.Errorf("stored job changed through a returned copy: %s page %d", again.Status, again.CurrentPage)
	}
}

func TestBatchShutdown(t *testing.T) {
	env := newTestEnv(t, 5)
	ctx := context.Background()
	release := env.backend.hold(pageText(2))
	defer release()

	if _, err := env.batch.Start(ctx, env.book.ID, nil, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	env.backend.waitEntered(t, pageText(2))

	done := make(chan error, 1)
	go func() {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		done <- env.batch.Shutdown(shutdownCtx)
	}()
	waitClosed(t, env.batch)
	release()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Shutdown: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Shutdown did not return")
	}

	job, _ := env.batch.GetProgress(ctx, env.book.ID)
	if job.Status != model.JobStatusCancelled {
		t.Errorf("status = %s, want CANCELLED", job.Status)
	}
	if _, err := env.batch.Start(ctx, env.book.ID, nil, nil); !errors.Is(err, ErrShuttingDown) {
		t.Errorf("Start after Shutdown = %v, want ErrShuttingDown", err)
	}
}

func TestBatchShutdownAbortsInFlightPageAtDeadline(t *testing.T) {
	env := newTestEnv(t, 3)
	ctx := context.Background()
	release := env.backend.hold(pageText(1))
	defer release()

	if _, err := env.batch.Start(ctx, env.book.ID, nil, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	env.backend.waitEntered(t, pageText(1))

	shutdownCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if err := env.batch.Shutdown(shutdownCtx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Shutdown = %v, want DeadlineExceeded", err)
	}

	job, _ := env.batch.GetProgress(ctx, env.book.ID)
	if job.Status != model.JobStatusCancelled {
		t.Errorf("status = %s, want CANCELLED after the in-flight page was aborted", job.Status)
	}
	if job.ErrorCode != nil {
		t.Errorf("errorCode = %s, want none", *job.ErrorCode)
	}
}

func waitClosed(t *testing.T, s *BatchService) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.RLock()
		closed := s.closed
		s.mu.RUnlock()
		if closed {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("Shutdown never started")
}
