package openai_provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestCompleteWithoutKeySimulates(t *testing.T) {
	c := NewClient("", "", "test-model", 0.25, 0, time.Second)
	got := c.Complete(context.Background(), []Message{
		{Role: "system", Content: "tutor"},
		{Role: "user", Content: "quanto é 2+2?"},
	})
	if !strings.Contains(got, "[SIMULAÇÃO LLM]") {
		t.Fatalf("reply = %q", got)
	}
	if !strings.Contains(got, "quanto é 2+2?") {
		t.Fatalf("last user message not echoed: %q", got)
	}
}

func TestCompleteHappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer k" {
			t.Errorf("auth header = %q", got)
		}
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "test-model" || len(req.Messages) != 2 {
			t.Errorf("request = %+v", req)
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": "4"}},
			},
		})
	}))
	defer srv.Close()

	c := NewClient("k", srv.URL, "test-model", 0.25, 256, time.Second)
	got := c.Complete(context.Background(), []Message{
		{Role: "system", Content: "tutor"},
		{Role: "user", Content: "quanto é 2+2?"},
	})
	if got != "4" {
		t.Fatalf("reply = %q", got)
	}
}

func TestCompleteServerErrorSimulates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient("k", srv.URL, "test-model", 0.25, 0, time.Second)
	got := c.Complete(context.Background(), []Message{{Role: "user", Content: "oi"}})
	if !strings.Contains(got, "[SIMULAÇÃO LLM]") {
		t.Fatalf("reply = %q", got)
	}
}

func TestCompleteEmptyChoicesSimulates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"choices": []interface{}{}})
	}))
	defer srv.Close()

	c := NewClient("k", srv.URL, "test-model", 0.25, 0, time.Second)
	got := c.Complete(context.Background(), []Message{{Role: "user", Content: "oi"}})
	if !strings.Contains(got, "[SIMULAÇÃO LLM]") {
		t.Fatalf("reply = %q", got)
	}
}
