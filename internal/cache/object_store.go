package cache

import (
	"context"
	"log"
	"strings"
)

// ObjectClient is the subset of an S3-compatible bucket client the object store uses.
type ObjectClient interface {
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
	GetObject(ctx context.Context, key string) ([]byte, error)
	HeadObject(ctx context.Context, key string) (bool, error)
	ListKeys(ctx context.Context, prefix string) ([]string, error)
	DeleteObject(ctx context.Context, key string) error
}

// ObjectStore keeps page audio in an object bucket under a key prefix.
// PutObject replaces an object whole, so writes need no temp key.
type ObjectStore struct {
	client ObjectClient
	prefix string
}

func NewObjectStore(client ObjectClient, prefix string) *ObjectStore {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &ObjectStore{client: client, prefix: prefix}
}

func (s *ObjectStore) Exists(ctx context.Context, key string) (bool, error) {
	return s.client.HeadObject(ctx, s.prefix+key)
}

func (s *ObjectStore) Read(ctx context.Context, key string) ([]byte, error) {
	return s.client.GetObject(ctx, s.prefix+key)
}

func (s *ObjectStore) Write(ctx context.Context, key string, data []byte) error {
	return s.client.PutObject(ctx, s.prefix+key, data, "audio/mpeg")
}

func (s *ObjectStore) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	keys, err := s.client.ListKeys(ctx, s.prefix+prefix)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, key := range keys {
		if err := s.client.DeleteObject(ctx, key); err != nil {
			log.Printf("[ObjectStore] Failed to delete %s: %v", key, err)
			continue
		}
		removed++
	}
	return removed, nil
}
