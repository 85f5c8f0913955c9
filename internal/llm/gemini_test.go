package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func geminiReply(w http.ResponseWriter, text, finish string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"candidates": []map[string]any{{
			"content":      map[string]any{"role": "model", "parts": []map[string]any{{"text": text}}},
			"finishReason": finish,
		}},
	})
}

func TestConvertGeminiMessagesSplitsSystemPrompt(t *testing.T) {
	system, contents := convertGeminiMessages([]Message{
		{Role: RoleSystem, Content: "You coach salon stylists."},
		{Role: RoleUser, Content: "talk_ratio 100, emotion 40"},
		{Role: RoleAssistant, Content: "{\"summary\": \"ok\"}"},
		{Role: RoleUser, Content: "shorter please"},
	})

	if system == nil || len(system.Parts) != 1 || system.Parts[0].Text != "You coach salon stylists." {
		t.Fatalf("unexpected system instruction: %#v", system)
	}
	if len(contents) != 3 {
		t.Fatalf("expected 3 turns, got %d", len(contents))
	}
	roles := []string{contents[0].Role, contents[1].Role, contents[2].Role}
	if strings.Join(roles, ",") != "user,model,user" {
		t.Fatalf("expected user,model,user roles, got %v", roles)
	}
}

func TestGeminiCompleteSendsTokenLimit(t *testing.T) {
	var body map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "gemini-test") {
			t.Errorf("expected model in path, got %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		geminiReply(w, "  {\"summary\": \"Warm session.\"}  ", "STOP")
	}))
	defer server.Close()

	client, err := NewClient("gemini", "test-key", "gemini-test", WithBaseURL(server.URL), WithMaxTokens(256), WithJSONOutput())
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	got, err := client.Complete(context.Background(), sessionPrompt())
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if got != "{\"summary\": \"Warm session.\"}" {
		t.Fatalf("expected trimmed text, got %q", got)
	}

	gen, _ := body["generationConfig"].(map[string]any)
	if gen == nil || gen["maxOutputTokens"] != float64(256) {
		t.Fatalf("expected maxOutputTokens 256, got %v", body["generationConfig"])
	}
	if gen["responseMimeType"] != "application/json" {
		t.Fatalf("expected JSON response mime type, got %v", gen["responseMimeType"])
	}
}

func TestGeminiCompleteTruncated(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		geminiReply(w, "{\"summary\": \"Warm", "MAX_TOKENS")
	}))
	defer server.Close()

	client, err := newGeminiClient("test-key", "gemini-test", &clientOptions{baseURL: server.URL, maxTokens: 16})
	if err != nil {
		t.Fatalf("newGeminiClient failed: %v", err)
	}

	_, err = client.Complete(context.Background(), sessionPrompt())
	if !errors.Is(err, ErrTruncated) {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
}

func TestGeminiCompleteRequiresUserMessage(t *testing.T) {
	client, err := newGeminiClient("test-key", "gemini-test", &clientOptions{baseURL: "http://127.0.0.1:1"})
	if err != nil {
		t.Fatalf("newGeminiClient failed: %v", err)
	}
	if _, err := client.Complete(context.Background(), []Message{{Role: RoleSystem, Content: "only rules"}}); err == nil {
		t.Fatal("expected error without a user message")
	}
}

func TestGeminiCompleteEmptyResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		geminiReply(w, "", "STOP")
	}))
	defer server.Close()

	client, err := newGeminiClient("test-key", "gemini-test", &clientOptions{baseURL: server.URL})
	if err != nil {
		t.Fatalf("newGeminiClient failed: %v", err)
	}

	_, err = client.Complete(context.Background(), []Message{{Role: RoleUser, Content: "overall score 50"}})
	if err == nil || !strings.Contains(err.Error(), "empty response") {
		t.Fatalf("expected empty response error, got %v", err)
	}
}
