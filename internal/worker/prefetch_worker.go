package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/hibiken/asynq"

	"github.com/bookshelf/api/internal/apperr"
	"github.com/bookshelf/api/internal/model"
)

// PageEnsurer narrates a page unless it is already cached
type PageEnsurer interface {
	EnsurePage(ctx context.Context, bookID string, page int) error
}

// PrefetchWorker processes page prefetch tasks
type PrefetchWorker struct {
	pages PageEnsurer
}

// NewPrefetchWorker creates a new prefetch worker
func NewPrefetchWorker(pages PageEnsurer) *PrefetchWorker {
	return &PrefetchWorker{pages: pages}
}

// ProcessTask handles prefetch task processing
func (w *PrefetchWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload model.PrefetchPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %v: %w", err, asynq.SkipRetry)
	}

	log.Printf("[Prefetch] Narrating book %s page %d", payload.BookID, payload.Page)

	err := w.pages.EnsurePage(ctx, payload.BookID, payload.Page)
	if err == nil {
		return nil
	}

	// the book is gone or shrank; retrying cannot help
	var rangeErr *apperr.InvalidRangeError
	if errors.Is(err, apperr.ErrNotFound) || errors.As(err, &rangeErr) {
		log.Printf("[Prefetch] Dropping book %s page %d: %v", payload.BookID, payload.Page, err)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	log.Printf("[Prefetch] Book %s page %d failed: %v", payload.BookID, payload.Page, err)
	return err
}
