package qwen

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"promptgrid/internal/domain"
	"promptgrid/internal/engine"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewClient(Options{
		APIKey:     "test-key",
		BaseURL:    srv.URL,
		HTTPClient: srv.Client(),
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func TestGenerateTextRequiresKey(t *testing.T) {
	client, err := NewClient(Options{})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	_, err = client.Generate(context.Background(), engine.GenerateRequest{
		Prompt: "hello",
		Model:  "qwen-plus",
		Type:   domain.GenerationTypeText,
	})
	if !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("err = %v, want ErrMissingAPIKey", err)
	}
}

func TestGenerateText(t *testing.T) {
	var gotPath, gotAuth string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		var req generationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "qwen-plus" {
			t.Errorf("model = %q", req.Model)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"output": map[string]any{
				"choices": []map[string]any{{
					"message": map[string]any{
						"content": []map[string]any{{"text": "a completion"}},
					},
				}},
			},
			"request_id": "req-1",
		})
	})

	res, err := client.Generate(context.Background(), engine.GenerateRequest{
		Prompt:      "write a line",
		Model:       "qwen-plus",
		Type:        domain.GenerationTypeText,
		Temperature: 0.4,
		MaxTokens:   256,
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Output != "a completion" {
		t.Fatalf("output = %q", res.Output)
	}
	if res.JobID != "" {
		t.Fatalf("unexpected job id %q", res.JobID)
	}
	if !strings.HasSuffix(gotPath, "/services/aigc/text-generation/generation") {
		t.Fatalf("path = %q", gotPath)
	}
	if gotAuth != "Bearer test-key" {
		t.Fatalf("auth = %q", gotAuth)
	}
}

func TestGenerateImageReturnsURL(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/services/aigc/multimodal-generation/generation") {
			t.Errorf("path = %q", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"output": map[string]any{
				"choices": []map[string]any{{
					"message": map[string]any{
						"content": []map[string]any{{"image": "https://cdn.example/img.png"}},
					},
				}},
			},
		})
	})

	res, err := client.Generate(context.Background(), engine.GenerateRequest{
		Prompt: "a lighthouse",
		Model:  "qwen-image-plus",
		Type:   domain.GenerationTypeImage,
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Output != "https://cdn.example/img.png" {
		t.Fatalf("output = %q", res.Output)
	}
}

func TestGenerateSurfacesAPIErrors(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"code":    "InvalidParameter",
			"message": "size not supported",
		})
	})

	_, err := client.Generate(context.Background(), engine.GenerateRequest{
		Prompt: "x",
		Model:  "qwen-image-plus",
		Type:   domain.GenerationTypeImage,
	})
	if err == nil || !strings.Contains(err.Error(), "InvalidParameter") {
		t.Fatalf("err = %v", err)
	}
}

func TestGenerateRejectsVideo(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("backend should not be called")
	})
	_, err := client.Generate(context.Background(), engine.GenerateRequest{
		Prompt: "x",
		Model:  "qwen-plus",
		Type:   domain.GenerationTypeVideo,
	})
	if err == nil {
		t.Fatal("expected error for video type")
	}
}
