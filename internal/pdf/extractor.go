// Package pdf reads page counts and page text out of uploaded PDFs.
package pdf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	pdftext "github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/bookshelf/api/internal/apperr"
)

// EmptyPageText is narrated for pages without extractable text.
const EmptyPageText = "This page appears to be empty or contains only images."

const maxOpenDocuments = 4

// TextExtractor is what the narration pipeline needs from a PDF.
type TextExtractor interface {
	PageCount(path string) (int, error)
	ExtractPageText(ctx context.Context, path string, page int) (string, error)
}

type document struct {
	mu      sync.Mutex
	reader  *pdftext.Reader
	pages   int
	modTime time.Time
	used    time.Time
}

// Extractor validates PDFs with pdfcpu, decodes page text with
// ledongthuc/pdf (font encodings and ToUnicode maps included) and keeps the
// few most recently used documents in memory so a batch run does not
// re-parse the file per page.
type Extractor struct {
	conf *model.Configuration

	mu   sync.Mutex
	docs map[string]*document
}

func NewExtractor() *Extractor {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &Extractor{
		conf: conf,
		docs: make(map[string]*document),
	}
}

// PageCount returns the number of pages of the PDF at path.
func (e *Extractor) PageCount(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, &apperr.ProcessingError{Path: path, Err: err}
	}
	defer f.Close()

	n, err := api.PageCount(f, e.conf)
	if err != nil {
		return 0, &apperr.ProcessingError{Path: path, Err: err}
	}
	return n, nil
}

// ExtractPageText returns the text of a 1-based page, or EmptyPageText when
// the page has no text.
func (e *Extractor) ExtractPageText(ctx context.Context, path string, page int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	doc, err := e.open(path)
	if err != nil {
		return "", &apperr.ProcessingError{Path: path, Err: err}
	}

	doc.mu.Lock()
	defer doc.mu.Unlock()

	if page < 1 || page > doc.pages {
		return "", &apperr.ProcessingError{
			Path: path,
			Page: page,
			Err:  fmt.Errorf("page out of range (document has %d pages)", doc.pages),
		}
	}

	p := doc.reader.Page(page)
	if p.V.IsNull() {
		return EmptyPageText, nil
	}

	fonts := make(map[string]*pdftext.Font)
	for _, name := range p.Fonts() {
		f := p.Font(name)
		fonts[name] = &f
	}
	raw, err := p.GetPlainText(fonts)
	if err != nil {
		return "", &apperr.ProcessingError{Path: path, Page: page, Err: err}
	}

	text := normalizeText(raw)
	if text == "" {
		return EmptyPageText, nil
	}
	return text, nil
}

// normalizeText collapses runs of whitespace inside each line and drops
// blank lines.
func normalizeText(raw string) string {
	var lines []string
	for _, line := range strings.Split(raw, "\n") {
		if fields := strings.Fields(line); len(fields) > 0 {
			lines = append(lines, strings.Join(fields, " "))
		}
	}
	return strings.Join(lines, "\n")
}

// Forget drops a cached document, e.g. after its file was deleted.
func (e *Extractor) Forget(path string) {
	e.mu.Lock()
	delete(e.docs, path)
	e.mu.Unlock()
}

func (e *Extractor) open(path string) (*document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if doc, ok := e.docs[path]; ok && doc.modTime.Equal(info.ModTime()) {
		doc.used = time.Now()
		return doc, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	pdfCtx, err := api.ReadContext(bytes.NewReader(data), e.conf)
	if err != nil {
		return nil, fmt.Errorf("failed to read pdf: %w", err)
	}
	if err := api.ValidateContext(pdfCtx); err != nil {
		return nil, fmt.Errorf("failed to validate pdf: %w", err)
	}
	if pdfCtx.PageCount == 0 {
		return nil, errors.New("pdf has no pages")
	}
	reader, err := pdftext.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open pdf text layer: %w", err)
	}

	if len(e.docs) >= maxOpenDocuments {
		e.evictOldest()
	}
	doc := &document{reader: reader, pages: pdfCtx.PageCount, modTime: info.ModTime(), used: time.Now()}
	e.docs[path] = doc
	return doc, nil
}

func (e *Extractor) evictOldest() {
	var oldest string
	var oldestTime time.Time
	for p, doc := range e.docs {
		if oldest == "" || doc.used.Before(oldestTime) {
			oldest = p
			oldestTime = doc.used
		}
	}
	delete(e.docs, oldest)
}
