package openai_provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer key" {
			t.Errorf("unexpected auth header %q", auth)
		}
		_, _ = w.Write([]byte(`{"choices": [{"message": {"content": "{\"issues\": []}"}}]}`))
	}))
	defer srv.Close()

	c := NewClient("openai", srv.URL, "key", "gpt-4o", 0, 0, 5*time.Second)
	out, err := c.Generate(context.Background(), "prompt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != `{"issues": []}` {
		t.Fatalf("unexpected content %q", out)
	}
}

func TestGenerateUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": {"message": "overloaded"}}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient("perplexity", srv.URL, "key", "sonar-pro", 0, 0, 5*time.Second)
	_, err := c.Generate(context.Background(), "prompt")
	var comm *CommError
	if !errors.As(err, &comm) {
		t.Fatalf("expected *CommError, got %T: %v", err, err)
	}
	if comm.Provider != "perplexity" {
		t.Fatalf("unexpected provider %q", comm.Provider)
	}
}

func TestGenerateTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewClient("openai", srv.URL, "key", "gpt-4o", 0, 0, 10*time.Millisecond)
	_, err := c.Generate(context.Background(), "prompt")
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestGenerateNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices": []}`))
	}))
	defer srv.Close()

	c := NewClient("openai", srv.URL, "key", "gpt-4o", 0, 0, 5*time.Second)
	if _, err := c.Generate(context.Background(), "prompt"); err == nil {
		t.Fatal("expected an error for empty choices")
	}
}
