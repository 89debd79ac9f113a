package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/hibiken/asynq"

	"github.com/bookshelf/api/internal/model"
)

const (
	TaskTypePrefetch = "audio:prefetch"
	QueuePrefetch    = "prefetch"
)

// AsynqPrefetcher queues page narration on the asynq prefetch queue.
// A page already waiting in the queue is not queued twice.
type AsynqPrefetcher struct {
	asynqClient *asynq.Client
}

func NewAsynqPrefetcher(asynqClient *asynq.Client) *AsynqPrefetcher {
	return &AsynqPrefetcher{asynqClient: asynqClient}
}

func (p *AsynqPrefetcher) Prefetch(ctx context.Context, bookID string, pages []int) error {
	for _, page := range pages {
		task, err := NewPrefetchTask(bookID, page)
		if err != nil {
			return fmt.Errorf("failed to create task: %w", err)
		}

		_, err = p.asynqClient.EnqueueContext(ctx, task,
			asynq.Queue(QueuePrefetch),
			asynq.MaxRetry(2),
			asynq.TaskID(prefetchTaskID(bookID, page)),
		)
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to enqueue task: %w", err)
		}
		log.Printf("[Prefetch] Queued book %s page %d", bookID, page)
	}
	return nil
}

func prefetchTaskID(bookID string, page int) string {
	return fmt.Sprintf("prefetch:%s:%d", bookID, page)
}

// NewPrefetchTask builds the task narrating one page in the background
func NewPrefetchTask(bookID string, page int) (*asynq.Task, error) {
	data, err := json.Marshal(model.PrefetchPayload{BookID: bookID, Page: page})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypePrefetch, data), nil
}
