package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/bookshelf/api/internal/apperr"
	"github.com/bookshelf/api/internal/cache"
	"github.com/bookshelf/api/internal/model"
	"github.com/bookshelf/api/internal/speech"
	"github.com/bookshelf/api/internal/store"
)

func pageText(page int) string {
	return fmt.Sprintf("Text of page %d.", page)
}

// stubExtractor serves fixed text for every page of every book
type stubExtractor struct {
	pages    int
	countErr error
	text     func(page int) string

	extractions atomic.Int32
}

func (e *stubExtractor) PageCount(string) (int, error) {
	return e.pages, e.countErr
}

func (e *stubExtractor) ExtractPageText(_ context.Context, path string, page int) (string, error) {
	e.extractions.Add(1)
	if page < 1 || page > e.pages {
		return "", &apperr.ProcessingError{Path: path, Page: page, Err: fmt.Errorf("no page %d", page)}
	}
	if e.text != nil {
		return e.text(page), nil
	}
	return pageText(page), nil
}

// gatedBackend records every call and can hold or fail calls for given text
type gatedBackend struct {
	mu      sync.Mutex
	calls   []string
	gates   map[string]chan struct{}
	failOn  map[string]error
	entered chan string
}

func newGatedBackend() *gatedBackend {
	return &gatedBackend{
		gates:   make(map[string]chan struct{}),
		failOn:  make(map[string]error),
		entered: make(chan string, 16),
	}
}

// hold makes calls for text block until the returned func is called
func (b *gatedBackend) hold(text string) func() {
	ch := make(chan struct{})
	b.mu.Lock()
	b.gates[text] = ch
	b.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

func (b *gatedBackend) fail(text string, err error) {
	b.mu.Lock()
	b.failOn[text] = err
	b.mu.Unlock()
}

func (b *gatedBackend) Name() string { return "stub" }

func (b *gatedBackend) IsConfigured() bool { return true }

func (b *gatedBackend) Synthesize(ctx context.Context, text string) ([]byte, error) {
	b.mu.Lock()
	b.calls = append(b.calls, text)
	gate := b.gates[text]
	failErr := b.failOn[text]
	b.mu.Unlock()

	if gate != nil {
		b.entered <- text
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if failErr != nil {
		return nil, failErr
	}
	return []byte("audio:" + text), nil
}

func (b *gatedBackend) Calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.calls...)
}

func (b *gatedBackend) waitEntered(t *testing.T, text string) {
	t.Helper()
	select {
	case got := <-b.entered:
		if got != text {
			t.Fatalf("backend entered with %q, want %q", got, text)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("backend never received %q", text)
	}
}

// recordingNotifier keeps every broadcast for later inspection
type recordingNotifier struct {
	mu       sync.Mutex
	progress []*model.AudioGenerationJob
	complete []*model.AudioGenerationJob
	errors   []string
}

func (n *recordingNotifier) BroadcastProgress(job *model.AudioGenerationJob) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.progress = append(n.progress, job)
}

func (n *recordingNotifier) BroadcastComplete(job *model.AudioGenerationJob) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.complete = append(n.complete, job)
}

func (n *recordingNotifier) BroadcastError(bookID, code, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.errors = append(n.errors, code)
}

type testEnv struct {
	books     *BookService
	book      *model.Book
	cache     *cache.AudioCache
	backend   *gatedBackend
	extractor *stubExtractor
	narration *NarrationService
	batch     *BatchService
	notifier  *recordingNotifier
}

func newTestEnv(t *testing.T, pageCount int) *testEnv {
	t.Helper()

	extractor := &stubExtractor{pages: pageCount}
	books, err := NewBookService(store.NewMemoryBookStore(), extractor, t.TempDir())
	if err != nil {
		t.Fatalf("NewBookService: %v", err)
	}

	book := &model.Book{
		ID:        uuid.New().String(),
		Title:     "Test Book",
		PageCount: pageCount,
		PDFPath:   "test.pdf",
		CreatedAt: time.Now(),
	}
	if err := books.store.Save(context.Background(), book); err != nil {
		t.Fatalf("Save: %v", err)
	}

	fs, err := cache.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	audioCache := cache.NewAudioCache(fs)

	backend := newGatedBackend()
	synth := speech.NewSynthesizer(backend, speech.Options{
		MaxRetries: 0,
		RetryDelay: time.Millisecond,
	})

	narration := NewNarrationService(books, audioCache, extractor, synth)
	notifier := &recordingNotifier{}
	batch := NewBatchService(books, narration, notifier)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		batch.Shutdown(ctx)
	})

	return &testEnv{
		books:     books,
		book:      book,
		cache:     audioCache,
		backend:   backend,
		extractor: extractor,
		narration: narration,
		batch:     batch,
		notifier:  notifier,
	}
}

func (e *testEnv) wait(t *testing.T) *model.AudioGenerationJob {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.batch.Wait(ctx, e.book.ID); err != nil {
		t.Fatalf("job did not finish: %v", err)
	}
	job, err := e.batch.GetProgress(context.Background(), e.book.ID)
	if err != nil {
		t.Fatalf("GetProgress: %v", err)
	}
	return job
}

func intPtr(v int) *int { return &v }
