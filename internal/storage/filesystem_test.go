package storage

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"promptgrid/internal/domain"
)

func TestWriteAndOpen(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), "/media")
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	key, err := store.Write(context.Background(), "u1/Main/A1/out.txt", []byte("hello"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if key != "u1/Main/A1/out.txt" {
		t.Fatalf("key = %q", key)
	}

	rc, err := store.Open(key)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "hello" {
		t.Fatalf("data = %q", data)
	}
}

func TestOpenMissingKey(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), "/media")
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if _, err := store.Open("nope/missing.png"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSanitizeKeyRejectsTraversal(t *testing.T) {
	for _, key := range []string{"", "../escape", "a/../../b", "."} {
		if _, err := sanitizeKey(key); err == nil {
			t.Fatalf("sanitizeKey(%q) should fail", key)
		}
	}
	got, err := sanitizeKey("/leading/slash.png")
	if err != nil || got != "leading/slash.png" {
		t.Fatalf("sanitizeKey = (%q, %v)", got, err)
	}
}

func TestUploadFromURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("fake png bytes"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	store, err := NewFileStore(dir, "/media")
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	got, err := store.UploadFromURL(context.Background(), srv.URL+"/asset.png", "u1/Main/B2")
	if err != nil {
		t.Fatalf("UploadFromURL: %v", err)
	}
	if !strings.HasPrefix(got, "/media/u1/Main/B2/") || !strings.HasSuffix(got, ".png") {
		t.Fatalf("url = %q", got)
	}

	onDisk := filepath.Join(dir, strings.TrimPrefix(got, "/media/"))
	data, err := os.ReadFile(onDisk)
	if err != nil {
		t.Fatalf("stored file: %v", err)
	}
	if string(data) != "fake png bytes" {
		t.Fatalf("stored data = %q", data)
	}

	// Re-uploading the same asset is idempotent on the key.
	again, err := store.UploadFromURL(context.Background(), srv.URL+"/asset.png", "u1/Main/B2")
	if err != nil {
		t.Fatalf("UploadFromURL again: %v", err)
	}
	if again != got {
		t.Fatalf("urls differ: %q vs %q", again, got)
	}
}

func TestUploadFromURLRejectsErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer srv.Close()

	store, err := NewFileStore(t.TempDir(), "/media")
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if _, err := store.UploadFromURL(context.Background(), srv.URL+"/x.png", "u1"); !errors.Is(err, domain.ErrUploadFailed) {
		t.Fatalf("err = %v, want ErrUploadFailed", err)
	}
}
