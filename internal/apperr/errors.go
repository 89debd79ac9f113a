// Package apperr holds the error taxonomy shared by the narration services
// and mapped to HTTP responses by the handlers.
package apperr

import (
	"errors"
	"fmt"
)

// Error codes, stable across releases. They are exposed to clients both in
// error envelopes and in the errorCode field of a failed generation job.
const (
	CodeInvalidRange = "INVALID_RANGE"
	CodeNotFound     = "NOT_FOUND"
	CodeJobRunning   = "JOB_RUNNING"
	CodeStorage      = "STORAGE_ERROR"
	CodeSynthesis    = "SYNTHESIS_ERROR"
	CodeProcessing   = "PROCESSING_ERROR"
	CodeInternal     = "INTERNAL_ERROR"
)

var (
	// ErrNotFound is returned when a book or a cached page does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAudioNotCached marks a cache miss. It wraps ErrNotFound.
	ErrAudioNotCached = fmt.Errorf("page audio %w", ErrNotFound)
	// ErrJobRunning is returned when a generation job is already running for a book.
	ErrJobRunning = errors.New("audio generation already running")
)

// InvalidRangeError reports a page or page range outside the book.
type InvalidRangeError struct {
	StartPage  int
	EndPage    int
	TotalPages int
	Reason     string
}

func (e *InvalidRangeError) Error() string {
	return fmt.Sprintf("invalid page range %d-%d (book has %d pages): %s",
		e.StartPage, e.EndPage, e.TotalPages, e.Reason)
}

func (e *InvalidRangeError) Code() string { return CodeInvalidRange }

// StorageError wraps a cache read or write failure.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Code() string { return CodeStorage }

// SynthesisError wraps a failure of the speech backend, including timeouts.
type SynthesisError struct {
	Backend string
	Err     error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("speech synthesis (%s): %v", e.Backend, e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }

func (e *SynthesisError) Code() string { return CodeSynthesis }

// ProcessingError reports an unreadable PDF or a page that cannot be extracted.
type ProcessingError struct {
	Path string
	Page int
	Err  error
}

func (e *ProcessingError) Error() string {
	if e.Page > 0 {
		return fmt.Sprintf("process pdf %s page %d: %v", e.Path, e.Page, e.Err)
	}
	return fmt.Sprintf("process pdf %s: %v", e.Path, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }

func (e *ProcessingError) Code() string { return CodeProcessing }

// CodeOf returns the stable code for err, falling back to CodeInternal.
func CodeOf(err error) string {
	var coded interface{ Code() string }
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrJobRunning):
		return CodeJobRunning
	case errors.As(err, &coded):
		return coded.Code()
	default:
		return CodeInternal
	}
}
