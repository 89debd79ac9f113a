// Package store persists book records.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/bookshelf/api/internal/apperr"
	"github.com/bookshelf/api/internal/model"
)

// BookStore looks up and persists books. Get wraps apperr.ErrNotFound for unknown ids.
type BookStore interface {
	Get(ctx context.Context, id string) (*model.Book, error)
	Save(ctx context.Context, book *model.Book) error
	Delete(ctx context.Context, id string) error
}

// RedisBookStore keeps each book as JSON under book:<id>
type RedisBookStore struct {
	redis *redis.Client
}

func NewRedisBookStore(redisClient *redis.Client) *RedisBookStore {
	return &RedisBookStore{redis: redisClient}
}

func bookKey(id string) string {
	return fmt.Sprintf("book:%s", id)
}

func (s *RedisBookStore) Get(ctx context.Context, id string) (*model.Book, error) {
	data, err := s.redis.Get(ctx, bookKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("book %s: %w", id, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load book: %w", err)
	}

	var book model.Book
	if err := json.Unmarshal(data, &book); err != nil {
		return nil, fmt.Errorf("failed to unmarshal book: %w", err)
	}
	return &book, nil
}

func (s *RedisBookStore) Save(ctx context.Context, book *model.Book) error {
	data, err := json.Marshal(book)
	if err != nil {
		return fmt.Errorf("failed to marshal book: %w", err)
	}
	if err := s.redis.Set(ctx, bookKey(book.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save book: %w", err)
	}
	return nil
}

func (s *RedisBookStore) Delete(ctx context.Context, id string) error {
	n, err := s.redis.Del(ctx, bookKey(id)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete book: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("book %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}

// MemoryBookStore is used when redis is unavailable and in tests
type MemoryBookStore struct {
	mu    sync.RWMutex
	books map[string]model.Book
}

func NewMemoryBookStore() *MemoryBookStore {
	return &MemoryBookStore{books: make(map[string]model.Book)}
}

func (s *MemoryBookStore) Get(_ context.Context, id string) (*model.Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	book, ok := s.books[id]
	if !ok {
		return nil, fmt.Errorf("book %s: %w", id, apperr.ErrNotFound)
	}
	return &book, nil
}

func (s *MemoryBookStore) Save(_ context.Context, book *model.Book) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.books[book.ID] = *book
	return nil
}

func (s *MemoryBookStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.books[id]; !ok {
		return fmt.Errorf("book %s: %w", id, apperr.ErrNotFound)
	}
	delete(s.books, id)
	return nil
}
