package service

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bookshelf/api/internal/apperr"
	"github.com/bookshelf/api/internal/model"
)

// ErrShuttingDown is returned by Start once Shutdown has been called.
var ErrShuttingDown = errors.New("batch service is shutting down")

// PageGenerator narrates one page into the cache, skipping cached pages
type PageGenerator interface {
	GeneratePage(ctx context.Context, book *model.Book, page int) (*PageResult, error)
}

// ProgressNotifier receives job updates, e.g. to push them to websocket subscribers
type ProgressNotifier interface {
	BroadcastProgress(job *model.AudioGenerationJob)
	BroadcastComplete(job *model.AudioGenerationJob)
	BroadcastError(bookID, code, message string)
}

type batchJob struct {
	mu        sync.Mutex
	rec       model.AudioGenerationJob
	cancelled atomic.Bool
	done      chan struct{}
}

func (j *batchJob) snapshot() *model.AudioGenerationJob {
	j.mu.Lock()
	defer j.mu.Unlock()
	return copyJob(&j.rec)
}

func copyJob(rec *model.AudioGenerationJob) *model.AudioGenerationJob {
	c := *rec
	if rec.TruncatedPages != nil {
		c.TruncatedPages = append([]int(nil), rec.TruncatedPages...)
	}
	return &c
}

// BatchService runs page-by-page narration of a book in the background.
// It keeps one job record per book; only that job's goroutine writes it.
type BatchService struct {
	books    BookLookup
	pages    PageGenerator
	notifier ProgressNotifier
	now      func() time.Time

	// ctx is the parent of every job; cancelled when Shutdown gives up waiting
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	jobs   map[string]*batchJob
	closed bool
	wg     sync.WaitGroup
}

func NewBatchService(books BookLookup, pages PageGenerator, notifier ProgressNotifier) *BatchService {
	ctx, cancel := context.WithCancel(context.Background())
	return &BatchService{
		books:    books,
		pages:    pages,
		notifier: notifier,
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
		jobs:     make(map[string]*batchJob),
	}
}

// Start validates the range and launches a job for the book, returning the
// initial record without waiting for any page. A nil start defaults to page
// 1 and a nil or non-positive end to the last page; an explicit start must
// lie inside the book. A book with a running job is rejected with
// apperr.ErrJobRunning.
func (s *BatchService) Start(ctx context.Context, bookID string, startPage, endPage *int) (*model.AudioGenerationJob, error) {
	book, err := s.books.GetBook(ctx, bookID)
	if err != nil {
		return nil, err
	}

	start, end := 1, book.PageCount
	if startPage != nil {
		start = *startPage
	}
	if endPage != nil && *endPage > 0 {
		end = *endPage
	}
	if err := validateRange(start, end, book.PageCount); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrShuttingDown
	}
	if existing, ok := s.jobs[bookID]; ok {
		existing.mu.Lock()
		running := existing.rec.Status == model.JobStatusRunning
		existing.mu.Unlock()
		if running {
			s.mu.Unlock()
			return nil, apperr.ErrJobRunning
		}
	}

	startedAt := s.now()
	job := &batchJob{
		rec: model.AudioGenerationJob{
			BookID:      bookID,
			Status:      model.JobStatusRunning,
			StartPage:   start,
			CurrentPage: start - 1,
			TotalPages:  end,
			StartedAt:   &startedAt,
		},
		done: make(chan struct{}),
	}
	s.jobs[bookID] = job
	s.wg.Add(1)
	s.mu.Unlock()

	log.Printf("[Batch] Starting audio generation for book %s, pages %d to %d (%d pages)", bookID, start, end, end-start+1)
	initial := job.snapshot()
	go s.run(job, book, start, end)

	return initial, nil
}

func validateRange(start, end, total int) error {
	switch {
	case start < 1 || start > total:
		return &apperr.InvalidRangeError{StartPage: start, EndPage: end, TotalPages: total,
			Reason: "start page must be between 1 and the page count"}
	case end < start || end > total:
		return &apperr.InvalidRangeError{StartPage: start, EndPage: end, TotalPages: total,
			Reason: "end page must be between the start page and the page count"}
	}
	return nil
}

func (s *BatchService) run(job *batchJob, book *model.Book, start, end int) {
	defer s.wg.Done()
	defer close(job.done)

	pagesInRange := end - start + 1
	processed := 0

	for page := start; page <= end; page++ {
		if job.cancelled.Load() || s.ctx.Err() != nil {
			log.Printf("[Batch] Generation cancelled for book %s before page %d", book.ID, page)
			s.finish(job, model.JobStatusCancelled)
			return
		}

		res, err := s.pages.GeneratePage(s.ctx, book, page)
		if err != nil {
			if s.ctx.Err() != nil {
				log.Printf("[Batch] Generation of book %s aborted at page %d by shutdown", book.ID, page)
				s.finish(job, model.JobStatusCancelled)
				return
			}
			s.fail(job, page, err)
			return
		}

		processed++
		job.mu.Lock()
		job.rec.CurrentPage = page
		job.rec.PagesProcessed = processed
		if res.Synthesized {
			job.rec.PagesSynthesized++
		}
		if res.Truncated {
			job.rec.TruncatedPages = append(job.rec.TruncatedPages, page)
		}
		job.rec.ProgressPercentage = float64(processed) * 100 / float64(pagesInRange)
		snap := copyJob(&job.rec)
		job.mu.Unlock()

		if s.notifier != nil {
			s.notifier.BroadcastProgress(snap)
		}
	}

	log.Printf("[Batch] Generation completed for book %s (pages %d to %d)", book.ID, start, end)
	s.finish(job, model.JobStatusCompleted)
}

func (s *BatchService) finish(job *batchJob, status model.JobStatus) {
	job.mu.Lock()
	completedAt := s.now()
	job.rec.Status = status
	job.rec.CompletedAt = &completedAt
	snap := copyJob(&job.rec)
	job.mu.Unlock()

	if s.notifier != nil {
		s.notifier.BroadcastComplete(snap)
	}
}

func (s *BatchService) fail(job *batchJob, page int, err error) {
	code := apperr.CodeOf(err)
	msg := err.Error()

	job.mu.Lock()
	completedAt := s.now()
	job.rec.Status = model.JobStatusFailed
	job.rec.ErrorMessage = &msg
	job.rec.ErrorCode = &code
	job.rec.CompletedAt = &completedAt
	bookID := job.rec.BookID
	job.mu.Unlock()

	log.Printf("[Batch] Generation failed for book %s at page %d: %v", bookID, page, err)
	if s.notifier != nil {
		s.notifier.BroadcastError(bookID, code, msg)
	}
}

// GetProgress returns a copy of the book's job record, or an IDLE status
// built from the book when no job was started.
func (s *BatchService) GetProgress(ctx context.Context, bookID string) (*model.AudioGenerationJob, error) {
	s.mu.RLock()
	job, ok := s.jobs[bookID]
	s.mu.RUnlock()
	if ok {
		return job.snapshot(), nil
	}

	book, err := s.books.GetBook(ctx, bookID)
	if err != nil {
		return nil, err
	}
	return &model.AudioGenerationJob{
		BookID:     bookID,
		Status:     model.JobStatusIdle,
		TotalPages: book.PageCount,
	}, nil
}

// Cancel asks the book's running job to stop at the next page boundary.
// The page being narrated still completes. It reports whether a running
// job was flagged; with no running job it does nothing.
func (s *BatchService) Cancel(bookID string) bool {
	s.mu.RLock()
	job, ok := s.jobs[bookID]
	s.mu.RUnlock()
	if !ok {
		return false
	}

	job.mu.Lock()
	defer job.mu.Unlock()
	if job.rec.Status != model.JobStatusRunning {
		return false
	}
	job.cancelled.Store(true)
	log.Printf("[Batch] Cancellation requested for book %s", bookID)
	return true
}

// Wait blocks until the book's current job has stopped or ctx is done.
func (s *BatchService) Wait(ctx context.Context, bookID string) error {
	s.mu.RLock()
	job, ok := s.jobs[bookID]
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	select {
	case <-job.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ClearProgress forgets a finished job so the book reports IDLE again.
func (s *BatchService) ClearProgress(bookID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[bookID]
	if !ok {
		return nil
	}
	job.mu.Lock()
	running := job.rec.Status == model.JobStatusRunning
	job.mu.Unlock()
	if running {
		return apperr.ErrJobRunning
	}
	delete(s.jobs, bookID)
	return nil
}

// Stop cancels the book's job, waits for it and drops its record.
func (s *BatchService) Stop(ctx context.Context, bookID string) error {
	s.Cancel(bookID)
	if err := s.Wait(ctx, bookID); err != nil {
		return err
	}
	return s.ClearProgress(bookID)
}

// Shutdown cancels every running job and waits for the workers. When ctx
// expires first, in-flight page synthesis is aborted too.
func (s *BatchService) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	for _, job := range s.jobs {
		job.cancelled.Store(true)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		<-done
		return ctx.Err()
	}
}
