package pdf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/bookshelf/api/internal/apperr"
)

const helvetica = "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>"

// writeTestPDF writes a minimal uncompressed PDF with one content stream per page.
func writeTestPDF(t *testing.T, dir string, contents []string) string {
	t.Helper()
	return writeTestPDFWithFont(t, dir, helvetica, contents)
}

// writeTestPDFWithFont is writeTestPDF with every page using font as /F1.
func writeTestPDFWithFont(t *testing.T, dir, font string, contents []string) string {
	t.Helper()

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
	obj(font)
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

	path := filepath.Join(dir, "book.pdf")
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatalf("write pdf: %v", err)
	}
	return path
}

func TestExtractor(t *testing.T) {
	path := writeTestPDF(t, t.TempDir(), []string{
		"BT /F1 12 Tf 72 720 Td (Chapter One. ) Tj 0 -14 Td [(It was a ) -20 (dark   night.)] TJ ET",
		"0 0 m 100 100 l S",
	})
	e := NewExtractor()
	ctx := context.Background()

	n, err := e.PageCount(path)
	if err != nil {
		t.Fatalf("PageCount: %v", err)
	}
	if n != 2 {
		t.Fatalf("PageCount = %d, want 2", n)
	}

	text, err := e.ExtractPageText(ctx, path, 1)
	if err != nil {
		t.Fatalf("ExtractPageText: %v", err)
	}
	if text != "Chapter One.\nIt was a dark night." && text != "Chapter One. It was a dark night." {
		t.Errorf("page 1 text = %q", text)
	}

	text, err = e.ExtractPageText(ctx, path, 2)
	if err != nil {
		t.Fatalf("ExtractPageText page 2: %v", err)
	}
	if text != EmptyPageText {
		t.Errorf("page 2 text = %q, want placeholder", text)
	}

	var procErr *apperr.ProcessingError
	if _, err := e.ExtractPageText(ctx, path, 3); !errors.As(err, &procErr) {
		t.Errorf("page 3 = %v, want ProcessingError", err)
	}
}

func TestExtractorUnreadable(t *testing.T) {
	dir := t.TempDir()
	garbage := filepath.Join(dir, "garbage.pdf")
	if err := os.WriteFile(garbage, []byte("not a pdf at all"), 0644); err != nil {
		t.Fatal(err)
	}
	e := NewExtractor()

	for _, path := range []string{garbage, filepath.Join(dir, "missing.pdf")} {
		if _, err := e.ExtractPageText(context.Background(), path, 1); apperr.CodeOf(err) != apperr.CodeProcessing {
			t.Errorf("%s: got %v, want processing error", filepath.Base(path), err)
		}
		if _, err := e.PageCount(path); apperr.CodeOf(err) != apperr.CodeProcessing {
			t.Errorf("%s PageCount: got %v, want processing error", filepath.Base(path), err)
		}
	}
}

func TestExtractorDecodesFontEncoding(t *testing.T) {
	// codes 65 and 66 are remapped to the glyphs H and i
	font := "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding << /Type /Encoding /Differences [65 /H /i] >> >>"
	path := writeTestPDFWithFont(t, t.TempDir(), font, []string{
		"BT /F1 12 Tf 72 720 Td (AB) Tj ET",
	})

	text, err := NewExtractor().ExtractPageText(context.Background(), path, 1)
	if err != nil {
		t.Fatalf("ExtractPageText: %v", err)
	}
	if text != "Hi" {
		t.Errorf("text = %q, want %q", text, "Hi")
	}
}

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"Hello,   world", "Hello, world"},
		{"  First line \n\n\tSecond  line\n", "First line\nSecond line"},
		{" \n \t ", ""},
	}
	for _, tt := range tests {
		if got := normalizeText(tt.raw); got != tt.want {
			t.Errorf("normalizeText(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}
