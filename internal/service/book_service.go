package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bookshelf/api/internal/apperr"
	"github.com/bookshelf/api/internal/model"
	"github.com/bookshelf/api/internal/pdf"
	"github.com/bookshelf/api/internal/store"
)

// CleanupFunc releases per-book resources when a book is deleted
type CleanupFunc func(ctx context.Context, bookID string) error

// BookService manages uploaded PDFs and their book records
type BookService struct {
	store    store.BookStore
	pdfs     pdf.TextExtractor
	pdfDir   string
	cleanups []CleanupFunc
}

func NewBookService(bookStore store.BookStore, extractor pdf.TextExtractor, pdfDir string) (*BookService, error) {
	if err := os.MkdirAll(pdfDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create pdf directory: %w", err)
	}
	return &BookService{
		store:  bookStore,
		pdfs:   extractor,
		pdfDir: pdfDir,
	}, nil
}

// OnDelete registers fn to run before a book record is removed
func (s *BookService) OnDelete(fn CleanupFunc) {
	s.cleanups = append(s.cleanups, fn)
}

// Create stores an uploaded PDF and registers it as a new book
func (s *BookService) Create(ctx context.Context, title, filename string, body io.Reader) (*model.Book, error) {
	id := uuid.New().String()
	path := filepath.Join(s.pdfDir, id+".pdf")

	size, err := writeFileAtomic(path, body)
	if err != nil {
		return nil, &apperr.StorageError{Op: "write", Key: path, Err: err}
	}

	pageCount, err := s.pdfs.PageCount(path)
	if err != nil {
		os.Remove(path)
		return nil, err
	}
	if pageCount < 1 {
		os.Remove(path)
		return nil, &apperr.ProcessingError{Path: path, Err: errors.New("pdf has no pages")}
	}

	title = strings.TrimSpace(title)
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	}

	book := &model.Book{
		ID:        id,
		Title:     title,
		PageCount: pageCount,
		PDFPath:   path,
		FileSize:  size,
		CreatedAt: time.Now(),
	}
	if err := s.store.Save(ctx, book); err != nil {
		os.Remove(path)
		return nil, err
	}

	log.Printf("[Books] Stored book %s (%q, %d pages)", id, title, pageCount)
	return book, nil
}

// GetBook returns the book or an error wrapping apperr.ErrNotFound.
// Ids that are not UUIDs never match a book.
func (s *BookService) GetBook(ctx context.Context, bookID string) (*model.Book, error) {
	if _, err := uuid.Parse(bookID); err != nil {
		return nil, fmt.Errorf("book %q: %w", bookID, apperr.ErrNotFound)
	}
	return s.store.Get(ctx, bookID)
}

// Delete stops narration work for the book, purges its audio and PDF and
// removes the record.
func (s *BookService) Delete(ctx context.Context, bookID string) error {
	book, err := s.GetBook(ctx, bookID)
	if err != nil {
		return err
	}

	for _, fn := range s.cleanups {
		if err := fn(ctx, bookID); err != nil {
			return fmt.Errorf("failed to clean up book %s: %w", bookID, err)
		}
	}

	if err := os.Remove(book.PDFPath); err != nil && !os.IsNotExist(err) {
		log.Printf("[Books] Failed to delete %s: %v", book.PDFPath, err)
	}
	if f, ok := s.pdfs.(interface{ Forget(string) }); ok {
		f.Forget(book.PDFPath)
	}

	return s.store.Delete(ctx, bookID)
}

func writeFileAtomic(path string, body io.Reader) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return 0, err
	}
	tmpPath := tmp.Name()

	n, err := io.Copy(tmp, body)
	closeErr := tmp.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmpPath)
		return 0, err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return 0, err
	}
	return n, nil
}
