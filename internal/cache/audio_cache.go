// Package cache stores narrated page audio keyed by book and page number.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path"

	"github.com/google/uuid"

	"github.com/bookshelf/api/internal/apperr"
)

// ErrInvalidKey is returned for book ids that are not UUIDs or page numbers below 1.
var ErrInvalidKey = errors.New("invalid cache key")

// Store is a flat key/value blob store. Keys use forward slashes.
// Read must return an error wrapping apperr.ErrNotFound for a missing key.
type Store interface {
	Exists(ctx context.Context, key string) (bool, error)
	Read(ctx context.Context, key string) ([]byte, error)
	Write(ctx context.Context, key string, data []byte) error
	DeletePrefix(ctx context.Context, prefix string) (int, error)
}

// AudioCache is the per-page narration cache. A page is written whole or not
// at all, so readers never observe a partial file.
type AudioCache struct {
	store Store
}

func NewAudioCache(store Store) *AudioCache {
	return &AudioCache{store: store}
}

// PageKey returns the storage key of a page, e.g. "<bookId>/page-3.mp3".
func PageKey(bookID string, page int) string {
	return path.Join(bookID, fmt.Sprintf("page-%d.mp3", page))
}

func validateKey(bookID string, page int) error {
	if _, err := uuid.Parse(bookID); err != nil {
		return fmt.Errorf("%w: book id %q", ErrInvalidKey, bookID)
	}
	if page < 1 {
		return fmt.Errorf("%w: page %d", ErrInvalidKey, page)
	}
	return nil
}

// Has reports whether audio for the page exists. Lookup failures count as a miss.
func (c *AudioCache) Has(ctx context.Context, bookID string, page int) bool {
	if validateKey(bookID, page) != nil {
		return false
	}
	ok, err := c.store.Exists(ctx, PageKey(bookID, page))
	if err != nil {
		log.Printf("[AudioCache] Exists %s page %d: %v", bookID, page, err)
		return false
	}
	return ok
}

// Get returns the cached bytes, an error wrapping apperr.ErrAudioNotCached on a
// miss, or an *apperr.StorageError when the store fails.
func (c *AudioCache) Get(ctx context.Context, bookID string, page int) ([]byte, error) {
	key := PageKey(bookID, page)
	if err := validateKey(bookID, page); err != nil {
		return nil, &apperr.StorageError{Op: "read", Key: key, Err: err}
	}

	data, err := c.store.Read(ctx, key)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, fmt.Errorf("page %d of book %s: %w", page, bookID, apperr.ErrAudioNotCached)
		}
		return nil, &apperr.StorageError{Op: "read", Key: key, Err: err}
	}
	return data, nil
}

// Put creates or replaces the page audio.
func (c *AudioCache) Put(ctx context.Context, bookID string, page int, data []byte) error {
	key := PageKey(bookID, page)
	if err := validateKey(bookID, page); err != nil {
		return &apperr.StorageError{Op: "write", Key: key, Err: err}
	}
	if err := c.store.Write(ctx, key, data); err != nil {
		return &apperr.StorageError{Op: "write", Key: key, Err: err}
	}
	return nil
}

// DeleteAll removes every cached page of a book. A book without cached audio
// is not an error; individual removal failures are logged by the store.
func (c *AudioCache) DeleteAll(ctx context.Context, bookID string) error {
	if _, err := uuid.Parse(bookID); err != nil {
		return &apperr.StorageError{Op: "delete", Key: bookID, Err: ErrInvalidKey}
	}
	n, err := c.store.DeletePrefix(ctx, bookID+"/")
	if err != nil {
		return &apperr.StorageError{Op: "delete", Key: bookID, Err: err}
	}
	log.Printf("[AudioCache] Deleted %d cached pages for book %s", n, bookID)
	return nil
}
