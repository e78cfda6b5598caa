package docparse

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func newTestPipeline(t *testing.T) (*Pipeline, *bytes.Buffer) {
	t.Helper()
	var logs bytes.Buffer
	return New(Config{Logger: slog.New(slog.NewJSONHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))}), &logs
}

func TestExtract_AllFormats(t *testing.T) {
	pipe, _ := newTestPipeline(t)
	tests := []struct {
		name   string
		src    Source
		format Format
		text   string
	}{
		{
			name:   "pdf",
			src:    Source{Name: "a.pdf", ContentType: MIMEPDF, Data: buildPDF(testPDF{pages: []string{textPage("PDF body text")}})},
			format: FormatPDF,
			text:   "PDF body text",
		},
		{
			name:   "docx",
			src:    Source{Name: "a.docx", ContentType: MIMEDOCX, Data: simpleDocx(t, wPara("DOCX body text"))},
			format: FormatDOCX,
			text:   "DOCX body text",
		},
		{
			name:   "txt",
			src:    Source{Name: "a.txt", ContentType: "text/plain; charset=utf-8", Data: []byte("TXT body text")},
			format: FormatTXT,
			text:   "TXT body text",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ext, err := pipe.Extract(context.Background(), tt.src, Options{})
			if err != nil {
				t.Fatalf("extract: %v", err)
			}
			if ext.SourceFormat != tt.format {
				t.Errorf("format: got %q, want %q", ext.SourceFormat, tt.format)
			}
			if ext.Text != tt.text {
				t.Errorf("text: got %q, want %q", ext.Text, tt.text)
			}
			if ext.Pages == nil || ext.Tables == nil || ext.Metadata == nil {
				t.Error("pages, tables and metadata must be non-nil")
			}
		})
	}
}

func TestExtract_Unsupported(t *testing.T) {
	pipe, _ := newTestPipeline(t)
	png := []byte("\x89PNG\r\n\x1a\n rest of image")
	for _, src := range []Source{
		{Name: "photo.png", ContentType: "image/png", Data: png},
		{Name: "photo.png", ContentType: "", Data: png},
		{Name: "", ContentType: "", Data: png},
	} {
		_, err := pipe.Extract(context.Background(), src, Options{})
		if !errors.Is(err, ErrUnsupportedFormat) {
			t.Errorf("%+v: expected ErrUnsupportedFormat, got %v", src.Name, err)
		}
	}
}

func TestExtract_TooLarge(t *testing.T) {
	pipe := New(Config{MaxFileSize: 16, Logger: slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))})
	_, err := pipe.Extract(context.Background(), Source{
		Name: "big.txt", ContentType: MIMETXT, Data: bytes.Repeat([]byte("x"), 17),
	}, Options{})
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}

	// Exactly at the limit is accepted.
	if _, err := pipe.Extract(context.Background(), Source{
		Name: "ok.txt", ContentType: MIMETXT, Data: bytes.Repeat([]byte("x"), 16),
	}, Options{}); err != nil {
		t.Fatalf("at limit: %v", err)
	}
}

func TestExtract_SizeCheckedBeforeFormat(t *testing.T) {
	pipe := New(Config{MaxFileSize: 4, Logger: slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))})
	_, err := pipe.Extract(context.Background(), Source{Name: "x.png", ContentType: "image/png", Data: []byte("12345")}, Options{})
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
}

func TestExtract_Empty(t *testing.T) {
	pipe, _ := newTestPipeline(t)
	for _, f := range []string{"empty.pdf", "empty.txt", "empty.docx"} {
		_, err := pipe.Extract(context.Background(), Source{Name: f}, Options{})
		if !errors.Is(err, ErrExtractionFailed) {
			t.Errorf("%s: expected ErrExtractionFailed, got %v", f, err)
		}
		if r := ReasonOf(err); r != ReasonEmpty {
			t.Errorf("%s: reason %q, want %q", f, r, ReasonEmpty)
		}
	}
}

func TestExtract_ErrorsAreSanitized(t *testing.T) {
	// WHAT: parser error text never reaches the returned error.
	// WHY: messages may be shown to untrusted callers; causes go to the log.
	pipe, logs := newTestPipeline(t)
	_, err := pipe.Extract(context.Background(), Source{
		Name: "bad.docx", ContentType: MIMEDOCX, Data: []byte("definitely not a zip archive"),
	}, Options{})
	if !errors.Is(err, ErrExtractionFailed) {
		t.Fatalf("expected ErrExtractionFailed, got %v", err)
	}
	if err.Error() != "docparse: extraction_failed (corrupt)" {
		t.Errorf("error text: got %q", err.Error())
	}
	if PublicMessage(err) != "Document processing failed." {
		t.Errorf("public message: got %q", PublicMessage(err))
	}
	if !strings.Contains(logs.String(), "zip") {
		t.Errorf("cause not logged: %s", logs.String())
	}
}

func TestExtract_EncryptedPDF(t *testing.T) {
	pipe, _ := newTestPipeline(t)
	_, err := pipe.Extract(context.Background(), Source{
		Name: "locked.pdf", ContentType: MIMEPDF,
		Data: buildPDF(testPDF{pages: []string{textPage("secret")}, encrypt: true}),
	}, Options{})
	if !errors.Is(err, ErrExtractionFailed) || ReasonOf(err) != ReasonEncrypted {
		t.Fatalf("expected encrypted extraction failure, got %v", err)
	}
}

func TestExtract_Idempotent(t *testing.T) {
	// WHAT: identical input gives byte-identical JSON.
	pipe, _ := newTestPipeline(t)
	sources := []Source{
		{Name: "a.pdf", ContentType: MIMEPDF, Data: buildPDF(testPDF{
			pages: []string{textPage("one", "two"), tablePage([]int{72, 300}, []string{"k", "v"}, []string{"k2", "v2"})},
			info:  "/Title (Same) /Producer (test)",
		})},
		{Name: "a.docx", ContentType: MIMEDOCX, Data: simpleDocx(t, reportBody())},
		{Name: "a.txt", ContentType: MIMETXT, Data: []byte("line\r\nline2 caf\xe9")},
	}
	for _, src := range sources {
		var first []byte
		for i := 0; i < 3; i++ {
			ext, err := pipe.Extract(context.Background(), src, Options{})
			if err != nil {
				t.Fatalf("%s: %v", src.Name, err)
			}
			out, err := json.Marshal(ext)
			if err != nil {
				t.Fatal(err)
			}
			if i == 0 {
				first = out
				continue
			}
			if !bytes.Equal(first, out) {
				t.Fatalf("%s: run %d differs\n%s\n%s", src.Name, i, first, out)
			}
		}
	}
}

func TestExtract_Concurrent(t *testing.T) {
	pipe, _ := newTestPipeline(t)
	raw := buildPDF(testPDF{pages: []string{textPage("shared"), textPage("pipeline")}})

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var src Source
			if i%2 == 0 {
				src = Source{Name: "c.pdf", Data: raw}
			} else {
				src = Source{Name: "c.txt", Data: []byte("concurrent text")}
			}
			if _, err := pipe.Extract(context.Background(), src, Options{MaxPages: 1}); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestExtract_Deadline(t *testing.T) {
	pipe, _ := newTestPipeline(t)
	ctx, cancel := context.WithTimeout(context.Background(), 0)
	defer cancel()
	<-ctx.Done()

	_, err := pipe.Extract(ctx, Source{
		Name: "slow.pdf", Data: buildPDF(testPDF{pages: []string{textPage("x")}}),
	}, Options{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
	if PublicMessage(err) != "Document processing timed out." {
		t.Errorf("public message: got %q", PublicMessage(err))
	}
}

func TestExtractReader_TooLarge(t *testing.T) {
	pipe := New(Config{MaxFileSize: 8, Logger: slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))})
	_, err := pipe.ExtractReader(context.Background(), strings.NewReader("0123456789"), "n.txt", "", Options{})
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
}

func TestExtractFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "memo.docx")
	if err := os.WriteFile(path, simpleDocx(t, wPara("From disk")), 0o644); err != nil {
		t.Fatal(err)
	}
	pipe, _ := newTestPipeline(t)
	ext, err := pipe.ExtractFile(context.Background(), path, Options{})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if ext.Text != "From disk" || ext.Metadata["filename"] != "memo.docx" {
		t.Errorf("got text %q filename %v", ext.Text, ext.Metadata["filename"])
	}

	for _, bad := range []string{filepath.Join(dir, "missing.pdf"), dir} {
		_, err := pipe.ExtractFile(context.Background(), bad, Options{})
		if !errors.Is(err, ErrNotFound) || errors.Is(err, ErrInternal) {
			t.Errorf("%s: got %v", bad, err)
		}
		if PublicMessage(err) != "Document not found or not readable." {
			t.Errorf("%s: public message %q", bad, PublicMessage(err))
		}
	}
}

func TestPublicMessage(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&Error{Kind: KindUnsupportedFormat}, "Unsupported file format. Supported formats: PDF, TXT, DOCX."},
		{&Error{Kind: KindTooLarge}, "File too large. Maximum size is 50 MB."},
		{&Error{Kind: KindExtractionFailed, Reason: ReasonEncrypted}, "Document processing failed."},
		{&Error{Kind: KindNotFound}, "Document not found or not readable."},
		{&Error{Kind: KindInternal}, "An internal error occurred."},
		{errors.New("pdfcpu: some internal parser detail"), "An internal error occurred."},
		{context.Canceled, "Document processing was cancelled."},
	}
	for _, tt := range tests {
		if got := PublicMessage(tt.err); got != tt.want {
			t.Errorf("PublicMessage(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestExtract_Observer(t *testing.T) {
	var mu sync.Mutex
	var got []Outcome
	pipe := New(Config{
		Logger: slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)),
		Observer: func(_ context.Context, o Outcome) {
			mu.Lock()
			got = append(got, o)
			mu.Unlock()
		},
	})

	pipe.Extract(context.Background(), Source{Name: "/tmp/ok.txt", Data: []byte("hello")}, Options{})
	pipe.Extract(context.Background(), Source{Name: "bad.png", Data: []byte("x")}, Options{})

	if len(got) != 2 {
		t.Fatalf("outcomes: got %d, want 2", len(got))
	}
	ok := got[0]
	if ok.Err != nil || ok.Format != FormatTXT || ok.Filename != "ok.txt" || ok.Pages != 1 || ok.Size != 5 {
		t.Errorf("success outcome: %+v", ok)
	}
	bad := got[1]
	if !errors.Is(bad.Err, ErrUnsupportedFormat) || bad.Format != "" || bad.Pages != 0 {
		t.Errorf("failure outcome: %+v", bad)
	}
}
