package llm_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"shelfscan/internal/llm"
	"shelfscan/internal/retry"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *llm.Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return llm.NewClient(
		llm.Config{APIKey: "test-key", BaseURL: server.URL, Model: "test-model"},
		llm.WithRetryPolicy(retry.Policy{MaxAttempts: 1}),
	)
}

func TestCompleteJSONReturnsContentAndUsage(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", got)
		}
		fmt.Fprint(w, `{
			"choices":[{"message":{"content":"{\"ok\":true}"}}],
			"usage":{"prompt_tokens":12,"completion_tokens":3,"total_tokens":15}
		}`)
	})

	content, usage, err := client.CompleteJSON(context.Background(), "system", "user")
	if err != nil {
		t.Fatalf("CompleteJSON: %v", err)
	}
	if content != `{"ok":true}` {
		t.Fatalf("unexpected content %q", content)
	}
	if usage.TotalTokens != 15 || usage.PromptTokens != 12 {
		t.Fatalf("unexpected usage %+v", usage)
	}
}

func TestCompleteJSONSurfacesHTTPStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusPaymentRequired)
	})

	_, _, err := client.CompleteJSON(context.Background(), "system", "user")
	if err == nil {
		t.Fatal("expected error for http status")
	}
	if !strings.Contains(err.Error(), "http 402") {
		t.Fatalf("expected status in error, got %v", err)
	}
}

func TestCompleteJSONRequiresPrompts(t *testing.T) {
	client := llm.NewClient(llm.Config{APIKey: "k"})
	if _, _, err := client.CompleteJSON(context.Background(), "", "user"); err == nil {
		t.Fatal("expected error for empty system prompt")
	}
	if _, _, err := client.CompleteJSON(context.Background(), "system", ""); err == nil {
		t.Fatal("expected error for empty user prompt")
	}
}

func TestUsageAdd(t *testing.T) {
	var total llm.Usage
	total.Add(llm.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15})
	total.Add(llm.Usage{PromptTokens: 1, CompletionTokens: 2, TotalTokens: 3})
	if total.TotalTokens != 18 || total.PromptTokens != 11 || total.CompletionTokens != 7 {
		t.Fatalf("unexpected accumulated usage %+v", total)
	}
}

func TestDecodeJSONHandlesFences(t *testing.T) {
	cases := []struct {
		name    string
		payload string
	}{
		{"direct", `{"brand":"Acme"}`},
		{"fenced", "```json\n{\"brand\":\"Acme\"}\n```"},
		{"prose", "Here is the result: {\"brand\":\"Acme\"} hope it helps"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var out struct {
				Brand string `json:"brand"`
			}
			if err := llm.DecodeJSON(tc.payload, &out); err != nil {
				t.Fatalf("DecodeJSON: %v", err)
			}
			if out.Brand != "Acme" {
				t.Fatalf("unexpected decode %+v", out)
			}
		})
	}
}

func TestDecodeJSONRejectsGarbage(t *testing.T) {
	var out map[string]any
	if err := llm.DecodeJSON("not json at all", &out); err == nil {
		t.Fatal("expected decode failure")
	}
	if err := llm.DecodeJSON("", &out); err == nil {
		t.Fatal("expected failure on empty payload")
	}
}
