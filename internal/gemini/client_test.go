package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/JaapHaitsma/pdf2epub/internal/epub"
	"github.com/JaapHaitsma/pdf2epub/internal/uploadcache"
)

func newTestClient(baseURL string) *Client {
	return NewClient(Config{
		APIKey:     "test-key",
		BaseURL:    baseURL,
		Model:      "test-model",
		RetryDelay: time.Millisecond,
		Uploads:    uploadcache.NewMemStore(),
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

// sseBody renders text chunks as the SSE stream the generate endpoint emits,
// attaching finishReason to the last chunk.
func sseBody(finish string, chunks ...string) string {
	var b strings.Builder
	for i, text := range chunks {
		chunk := map[string]any{
			"candidates": []map[string]any{{
				"content": map[string]any{"parts": []map[string]any{{"text": text}}},
			}},
		}
		if i == len(chunks)-1 && finish != "" {
			chunk["candidates"].([]map[string]any)[0]["finishReason"] = finish
		}
		data, _ := json.Marshal(chunk)
		fmt.Fprintf(&b, "data: %s\n\n", data)
	}
	return b.String()
}

func testFile() *File {
	return &File{Name: "files/abc", URI: "https://files.test/abc", MimeType: "application/pdf", State: "ACTIVE"}
}

func TestSectionsStreaming(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "streamGenerateContent") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		io.WriteString(w, sseBody("STOP",
			`{"sections": [{"index": 1, "type": "chapter",`,
			` "title": "One"}, {"index": 2, "type": "chapter", "title": "Two"}]}`,
		))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	secs, err := c.Sections(context.Background(), testFile())
	if err != nil {
		t.Fatalf("Sections: %v", err)
	}
	if len(secs) != 2 {
		t.Fatalf("expected 2 sections, got %d", len(secs))
	}
	if secs[0].Title != "One" || secs[1].Index != 2 {
		t.Fatalf("unexpected sections: %+v", secs)
	}
}

func TestSectionsMissingKeyIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, sseBody("STOP", `{"chapters": []}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	if _, err := c.Sections(context.Background(), testFile()); err == nil {
		t.Fatal("expected structure error for missing sections key")
	}
}

func TestGenerateContinuation(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		body, _ := io.ReadAll(r.Body)
		switch n {
		case 1:
			io.WriteString(w, sseBody("MAX_TOKENS", `{"sections": [{"index": 1,`))
		case 2:
			// The continuation request replays the partial and asks to resume.
			if !strings.Contains(string(body), `{\"sections\": [{\"index\": 1,`) {
				t.Errorf("continuation request missing model partial: %s", body)
			}
			if !strings.Contains(string(body), "Continue your previous output") {
				t.Errorf("continuation request missing continue prompt")
			}
			io.WriteString(w, sseBody("STOP", ` "type": "chapter", "title": "One"}]}`))
		default:
			t.Errorf("unexpected extra request %d", n)
		}
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	secs, err := c.Sections(context.Background(), testFile())
	if err != nil {
		t.Fatalf("Sections: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 requests, got %d", calls.Load())
	}
	if len(secs) != 1 || secs[0].Title != "One" {
		t.Fatalf("unexpected sections: %+v", secs)
	}
}

func TestStreamFailureFallsBackToNonStreaming(t *testing.T) {
	var sawFallback atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "streamGenerateContent") {
			w.WriteHeader(http.StatusGatewayTimeout)
			return
		}
		sawFallback.Store(true)
		resp := map[string]any{
			"candidates": []map[string]any{{
				"content":      map[string]any{"parts": []map[string]any{{"text": `{"sections": [{"index": 1, "title": "One"}]}`}}},
				"finishReason": "STOP",
			}},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	secs, err := c.Sections(context.Background(), testFile())
	if err != nil {
		t.Fatalf("Sections: %v", err)
	}
	if !sawFallback.Load() {
		t.Fatal("non-streaming fallback was never hit")
	}
	if len(secs) != 1 {
		t.Fatalf("expected 1 section, got %d", len(secs))
	}
}

func TestSectionContentAliasKeys(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, sseBody("STOP",
			`{"html": "<p>body</p>", "images": [{"filename": "fig.png", "label": "Figure 1", "box_2d": [0.1, 0.1, 0.5, 0.5], "page_index": 3}]}`,
		))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	got, err := c.SectionContent(context.Background(), testFile(), epub.Section{Index: 1, Type: "chapter", Title: "One"})
	if err != nil {
		t.Fatalf("SectionContent: %v", err)
	}
	if got.XHTML != "<p>body</p>" {
		t.Fatalf("alias key not resolved, got %q", got.XHTML)
	}
	if len(got.Images) != 1 || got.Images[0].PageIndex != 3 {
		t.Fatalf("unexpected images: %+v", got.Images)
	}
}

func TestMetadataAliasResolution(t *testing.T) {
	fields := map[string]any{
		"book_title": "A Title",
		"author":     "Single Author",
		"identifier": "978-0-00-000000-0",
		"lang":       "en",
		"published":  "2001",
		"summary":    "About things.",
		"keywords":   []any{"one", "two"},
	}
	md := resolveMetadata(fields)
	if md.Title != "A Title" {
		t.Errorf("title: %q", md.Title)
	}
	if len(md.Authors) != 1 || md.Authors[0] != "Single Author" {
		t.Errorf("authors: %+v", md.Authors)
	}
	if md.ISBN != "978-0-00-000000-0" || md.Language != "en" || md.Date != "2001" {
		t.Errorf("scalar aliases: %+v", md)
	}
	if md.Description != "About things." {
		t.Errorf("description: %q", md.Description)
	}
	if len(md.Subjects) != 2 || md.Subjects[1] != "two" {
		t.Errorf("subjects: %+v", md.Subjects)
	}
}

func TestMetadataSwallowsLooseShapes(t *testing.T) {
	md := resolveMetadata(map[string]any{
		"authors":  42.0,
		"subjects": "solo",
	})
	if md.Authors != nil {
		t.Errorf("non-list authors should be dropped: %+v", md.Authors)
	}
	if len(md.Subjects) != 1 || md.Subjects[0] != "solo" {
		t.Errorf("string subjects should coerce to list: %+v", md.Subjects)
	}
}

func TestUploadPDFCacheHitSkipsUpload(t *testing.T) {
	var uploads atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/upload/"):
			uploads.Add(1)
			w.WriteHeader(http.StatusInternalServerError)
		case strings.HasPrefix(r.URL.Path, "/v1beta/files/"):
			json.NewEncoder(w).Encode(File{Name: "files/cached", URI: "uri", State: "ACTIVE"})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	dir := t.TempDir()
	path := filepath.Join(dir, "book.pdf")
	if err := os.WriteFile(path, []byte("%PDF-1.4 fake"), 0o644); err != nil {
		t.Fatal(err)
	}
	hash, err := uploadcache.HashFile(path)
	if err != nil {
		t.Fatal(err)
	}

	c := newTestClient(srv.URL)
	c.uploads.Put(hash, uploadcache.Entry{Name: "files/cached", UploadedAt: time.Now()})

	f, err := c.UploadPDF(context.Background(), path)
	if err != nil {
		t.Fatalf("UploadPDF: %v", err)
	}
	if f.Name != "files/cached" {
		t.Fatalf("expected cached handle, got %q", f.Name)
	}
	if uploads.Load() != 0 {
		t.Fatalf("upload endpoint hit %d times despite cache", uploads.Load())
	}
}

func TestUploadPDFUploadsAndCaches(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/upload/v1beta/files" && r.Header.Get("X-Goog-Upload-Command") == "start":
			w.Header().Set("X-Goog-Upload-URL", "http://"+r.Host+"/upload/session")
		case r.URL.Path == "/upload/session":
			json.NewEncoder(w).Encode(fileEnvelope{File: File{Name: "files/new", URI: "uri", State: "ACTIVE"}})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	dir := t.TempDir()
	path := filepath.Join(dir, "book.pdf")
	if err := os.WriteFile(path, []byte("%PDF-1.4 fake"), 0o644); err != nil {
		t.Fatal(err)
	}

	c := newTestClient(srv.URL)
	f, err := c.UploadPDF(context.Background(), path)
	if err != nil {
		t.Fatalf("UploadPDF: %v", err)
	}
	if f.Name != "files/new" {
		t.Fatalf("unexpected handle %q", f.Name)
	}

	hash, _ := uploadcache.HashFile(path)
	if _, ok := c.uploads.Get(hash); !ok {
		t.Fatal("upload not recorded in cache")
	}
}

func TestDebugDumpWritesRawResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, sseBody("STOP", "```json\n{\"title\": \"A Title\"}\n```"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	c := NewClient(Config{
		APIKey:     "test-key",
		BaseURL:    srv.URL,
		RetryDelay: time.Millisecond,
		Uploads:    uploadcache.NewMemStore(),
		DebugDir:   dir,
		DebugStem:  "book",
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	md, err := c.Metadata(context.Background(), testFile())
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}
	if md.Title != "A Title" {
		t.Fatalf("fenced metadata not repaired: %+v", md)
	}
	raw, err := os.ReadFile(filepath.Join(dir, "book_metadata_raw.json"))
	if err != nil {
		t.Fatalf("debug dump missing: %v", err)
	}
	if !strings.Contains(string(raw), "```json") {
		t.Fatalf("debug dump should hold the pre-repair text, got %q", raw)
	}
}
