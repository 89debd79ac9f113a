package service

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/bookshelf/api/internal/apperr"
	"github.com/bookshelf/api/internal/cache"
	"github.com/bookshelf/api/internal/model"
	"github.com/bookshelf/api/internal/pdf"
	"github.com/bookshelf/api/internal/speech"
)

// BookLookup resolves a book id to its record
type BookLookup interface {
	GetBook(ctx context.Context, bookID string) (*model.Book, error)
}

// Prefetcher schedules background narration of pages a reader is likely to open next
type Prefetcher interface {
	Prefetch(ctx context.Context, bookID string, pages []int) error
}

// PageAudio is the narration of a single page
type PageAudio struct {
	Audio     []byte
	Cached    bool
	Truncated bool
}

// PageResult describes what generating one page did
type PageResult struct {
	Synthesized bool
	Truncated   bool
	Audio       []byte
}

// NarrationService narrates single pages cache-first
type NarrationService struct {
	books         BookLookup
	cache         *cache.AudioCache
	text          pdf.TextExtractor
	synth         *speech.Synthesizer
	prefetcher    Prefetcher
	prefetchPages int
}

func NewNarrationService(books BookLookup, audioCache *cache.AudioCache, text pdf.TextExtractor, synth *speech.Synthesizer) *NarrationService {
	return &NarrationService{
		books: books,
		cache: audioCache,
		text:  text,
		synth: synth,
	}
}

// WithPrefetch enables background narration of the next pages after a
// synchronous page request.
func (s *NarrationService) WithPrefetch(p Prefetcher, pages int) *NarrationService {
	s.prefetcher = p
	s.prefetchPages = pages
	return s
}

func validatePage(book *model.Book, page int) error {
	if page < 1 || page > book.PageCount {
		return &apperr.InvalidRangeError{
			StartPage:  page,
			EndPage:    page,
			TotalPages: book.PageCount,
			Reason:     "page number out of range",
		}
	}
	return nil
}

// GetPageAudio returns the page audio, synthesizing and caching it on a miss.
func (s *NarrationService) GetPageAudio(ctx context.Context, bookID string, page int) (*PageAudio, error) {
	book, err := s.books.GetBook(ctx, bookID)
	if err != nil {
		return nil, err
	}
	if err := validatePage(book, page); err != nil {
		return nil, err
	}

	audio, err := s.cache.Get(ctx, bookID, page)
	if err == nil {
		log.Printf("[Narration] Serving cached audio for book %s page %d", bookID, page)
		s.prefetchAfter(ctx, book, page)
		return &PageAudio{Audio: audio, Cached: true}, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}

	log.Printf("[Narration] Generating audio for book %s page %d (not in cache)", bookID, page)
	res, err := s.GeneratePage(ctx, book, page)
	if err != nil {
		return nil, err
	}
	if !res.Synthesized {
		// written concurrently between the lookup above and GeneratePage
		if audio, err = s.cache.Get(ctx, bookID, page); err != nil {
			return nil, err
		}
		res.Audio = audio
	}

	s.prefetchAfter(ctx, book, page)
	return &PageAudio{Audio: res.Audio, Truncated: res.Truncated}, nil
}

// GeneratePage makes sure the page is cached. It only extracts text and
// calls the speech backend when the cache has no audio for the page.
func (s *NarrationService) GeneratePage(ctx context.Context, book *model.Book, page int) (*PageResult, error) {
	if s.cache.Has(ctx, book.ID, page) {
		return &PageResult{}, nil
	}

	text, err := s.text.ExtractPageText(ctx, book.PDFPath, page)
	if err != nil {
		return nil, err
	}
	return s.narrate(ctx, book, page, text)
}

// narrate synthesizes already extracted page text and caches the audio.
func (s *NarrationService) narrate(ctx context.Context, book *model.Book, page int, text string) (*PageResult, error) {
	res, err := s.synth.Synthesize(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("page %d: %w", page, err)
	}
	if res.Truncated {
		log.Printf("[Narration] Page %d of book %s truncated to %d characters", page, book.ID, s.synth.MaxChars())
	}

	if err := s.cache.Put(ctx, book.ID, page, res.Audio); err != nil {
		return nil, fmt.Errorf("page %d: %w", page, err)
	}
	log.Printf("[Narration] Cached audio for book %s page %d", book.ID, page)

	return &PageResult{Synthesized: true, Truncated: res.Truncated, Audio: res.Audio}, nil
}

// EnsurePage narrates a page if it is not cached yet.
func (s *NarrationService) EnsurePage(ctx context.Context, bookID string, page int) error {
	book, err := s.books.GetBook(ctx, bookID)
	if err != nil {
		return err
	}
	if err := validatePage(book, page); err != nil {
		return err
	}
	_, err = s.GeneratePage(ctx, book, page)
	return err
}

// IsCached reports whether the page audio exists without generating it.
func (s *NarrationService) IsCached(ctx context.Context, bookID string, page int) bool {
	return s.cache.Has(ctx, bookID, page)
}

// DeleteBookAudio purges every cached page of a book.
func (s *NarrationService) DeleteBookAudio(ctx context.Context, bookID string) error {
	return s.cache.DeleteAll(ctx, bookID)
}

// PageTextWithTimings returns the narrated text of a page with estimated
// word timings, generating the audio first if needed.
func (s *NarrationService) PageTextWithTimings(ctx context.Context, bookID string, page int) (*model.PageTextWithTimings, error) {
	book, err := s.books.GetBook(ctx, bookID)
	if err != nil {
		return nil, err
	}
	if err := validatePage(book, page); err != nil {
		return nil, err
	}

	text, err := s.text.ExtractPageText(ctx, book.PDFPath, page)
	if err != nil {
		return nil, err
	}
	if !s.cache.Has(ctx, book.ID, page) {
		if _, err := s.narrate(ctx, book, page, text); err != nil {
			return nil, err
		}
	}

	narrated, truncated := s.synth.Fit(text)
	return &model.PageTextWithTimings{
		Text:        narrated,
		WordTimings: speech.EstimateWordTimings(narrated),
		AudioURL:    PageAudioURL(bookID, page),
		Truncated:   truncated,
	}, nil
}

// PageAudioURL is the API path serving a page's audio
func PageAudioURL(bookID string, page int) string {
	return fmt.Sprintf("/api/books/%s/pages/%d/audio", bookID, page)
}

func (s *NarrationService) prefetchAfter(ctx context.Context, book *model.Book, page int) {
	if s.prefetcher == nil || s.prefetchPages <= 0 {
		return
	}
	var pages []int
	for p := page + 1; p <= book.PageCount && p <= page+s.prefetchPages; p++ {
		if !s.cache.Has(ctx, book.ID, p) {
			pages = append(pages, p)
		}
	}
	if len(pages) == 0 {
		return
	}
	if err := s.prefetcher.Prefetch(ctx, book.ID, pages); err != nil {
		log.Printf("[Narration] Prefetch for book %s failed: %v", book.ID, err)
	}
}
