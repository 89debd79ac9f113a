package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// SpeechBackend turns text into MP3 audio with a fixed, preconfigured voice
type SpeechBackend interface {
	Name() string
	Synthesize(ctx context.Context, text string) ([]byte, error)
	IsConfigured() bool
}

// ByteLimited is implemented by backends whose input cap counts UTF-8
// bytes rather than characters.
type ByteLimited interface {
	MaxInputBytes() int
}

// StatusError is returned when a backend answers with a non-2xx status
type StatusError struct {
	Backend    string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s error (status %d): %s", e.Backend, e.StatusCode, e.Body)
}

// IsRetryable reports whether err is worth another attempt. Client errors
// other than 408 and 429 are permanent.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == http.StatusRequestTimeout,
			statusErr.StatusCode == http.StatusTooManyRequests:
			return true
		case statusErr.StatusCode >= 400 && statusErr.StatusCode < 500:
			return false
		}
	}
	return true
}
