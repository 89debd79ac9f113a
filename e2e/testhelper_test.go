package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/bookshelf/api/internal/cache"
	"github.com/bookshelf/api/internal/client"
	"github.com/bookshelf/api/internal/handler"
	"github.com/bookshelf/api/internal/middleware"
	"github.com/bookshelf/api/internal/pdf"
	"github.com/bookshelf/api/internal/service"
	"github.com/bookshelf/api/internal/speech"
	"github.com/bookshelf/api/internal/store"
	ws "github.com/bookshelf/api/internal/websocket"
)

// testApp holds all components needed for testing
type testApp struct {
	app    *fiber.App
	speech *client.MockSpeechClient
	batch  *service.BatchService
}

// setupApp creates a Fiber app wired like main.go, with books in memory,
// audio on a temp dir and the mock speech backend.
func setupApp(t *testing.T) *testApp {
	return setupAppWithLimit(t, 10000)
}

func setupAppWithLimit(t *testing.T, requestsPerMinute int) *testApp {
	t.Helper()

	validate := validator.New()

	hub := ws.NewHub()
	go hub.Run()
	t.Cleanup(hub.Stop)

	extractor := pdf.NewExtractor()
	bookService, err := service.NewBookService(store.NewMemoryBookStore(), extractor, t.TempDir())
	if err != nil {
		t.Fatalf("NewBookService: %v", err)
	}

	audioStore, err := cache.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	mock := client.NewMockSpeechClient()
	synth := speech.NewSynthesizer(mock, speech.Options{RetryDelay: time.Millisecond})
	narrationService := service.NewNarrationService(bookService, cache.NewAudioCache(audioStore), extractor, synth)
	batchService := service.NewBatchService(bookService, narrationService, hub)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		batchService.Shutdown(ctx)
	})

	bookService.OnDelete(batchService.Stop)
	bookService.OnDelete(narrationService.DeleteBookAudio)

	rateLimiter := middleware.NewTokenBucketLimiter(requestsPerMinute, time.Minute)
	t.Cleanup(rateLimiter.Stop)

	app := fiber.New(fiber.Config{
		BodyLimit: 50 * 1024 * 1024,
	})

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"redis":  false,
				"speech": mock.Name(),
			},
		})
	})

	handler.Register(app, handler.Routes{
		Books:     handler.NewBookHandler(bookService, validate),
		Audio:     handler.NewAudioHandler(bookService, narrationService, batchService),
		RateLimit: rateLimiter.Handler(),
		// no redis in tests, so the quota limiter passes everything
		GenerateQuota: middleware.NewQuotaLimiter(nil).GenerateLimit(1),
	})

	return &testApp{app: app, speech: mock, batch: batchService}
}

// buildPDF returns a minimal PDF with one content stream per page.
func buildPDF(contents ...string) []byte {
	var buf bytes.Buffer
	var offsets []int
	obj := func(body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", len(offsets), body)
	}

	buf.WriteString("%PDF-1.4\n")

	kids := ""
	for i := range contents {
		kids += fmt.Sprintf("%d 0 R ", 4+2*i)
	}
	obj("<< /Type /Catalog /Pages 2 0 R >>")
	obj(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", kids, len(contents)))
	obj("<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>")
	for i, c := range contents {
		obj(fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>", 5+2*i))
		obj(fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(c), c))
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(offsets)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xref)
	return buf.Bytes()
}

func samplePDF() []byte {
	return buildPDF(
		"BT /F1 12 Tf 72 720 Td (Chapter One) Tj ET",
		"BT /F1 12 Tf 72 720 Td (It was a dark and stormy night.) Tj ET",
		"BT /F1 12 Tf 72 720 Td (The End) Tj ET",
	)
}

// uploadBook posts a PDF as multipart form data.
func uploadBook(t *testing.T, app *fiber.App, title, filename, contentType string, data []byte) *http.Response {
	t.Helper()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if title != "" {
		w.WriteField("title", title)
	}
	if data != nil {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, filename))
		h.Set("Content-Type", contentType)
		part, err := w.CreatePart(h)
		if err != nil {
			t.Fatalf("create part: %v", err)
		}
		part.Write(data)
	}
	w.Close()

	req, _ := http.NewRequest(http.MethodPost, "/api/books", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	return resp
}

// createBook uploads the sample PDF and returns the new book's id.
func createBook(t *testing.T, app *fiber.App) string {
	t.Helper()
	resp := uploadBook(t, app, "Sample", "sample.pdf", "application/pdf", samplePDF())
	assertStatus(t, resp, http.StatusCreated)
	book := parseJSON(t, resp)
	id, _ := book["id"].(string)
	if id == "" {
		t.Fatalf("no id in %v", book)
	}
	return id
}

// waitForJob blocks until the book's generation job stops.
func waitForJob(t *testing.T, ta *testApp, bookID string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := ta.batch.Wait(ctx, bookID); err != nil {
		t.Fatalf("job did not finish: %v", err)
	}
}

// doRequest is a helper to perform HTTP requests against the test app.
func doRequest(app *fiber.App, method, path string, body string, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return app.Test(req, -1)
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

// parseJSON parses response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

// assertErrorCode checks the code of a JSON error envelope.
func assertErrorCode(t *testing.T, resp *http.Response, expected string) {
	t.Helper()
	result := parseJSON(t, resp)
	errObj, ok := result["error"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected error envelope, got %v", result)
	}
	if errObj["code"] != expected {
		t.Errorf("expected error code %s, got %v", expected, errObj["code"])
	}
}
