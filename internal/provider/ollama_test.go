package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func olServer(t *testing.T, handler http.HandlerFunc) *Ollama {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewOllama(srv.URL, "llama3.2")
}

func TestOllamaChat(t *testing.T) {
	var gotReq olChatRequest
	backend := olServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %q", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		fmt.Fprint(w, `{
			"model": "llama3.2",
			"message": {"role": "assistant", "content": "local answer"},
			"done": true, "done_reason": "stop",
			"prompt_eval_count": 12, "eval_count": 4
		}`)
	})

	temp := 0.6
	resp, err := backend.Chat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}},
		Options{Temperature: &temp, MaxTokens: 80})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if resp.Text != "local answer" {
		t.Errorf("Text = %q", resp.Text)
	}
	if resp.Usage.TotalTokens != 16 {
		t.Errorf("TotalTokens = %d", resp.Usage.TotalTokens)
	}
	if resp.Backend != "ollama" {
		t.Errorf("Backend = %q", resp.Backend)
	}

	if gotReq.Stream {
		t.Error("non-streaming chat set stream: true")
	}
	if gotReq.Options["temperature"] != 0.6 {
		t.Errorf("wire temperature = %v", gotReq.Options["temperature"])
	}
	if gotReq.Options["num_predict"] != float64(80) {
		t.Errorf("wire num_predict = %v", gotReq.Options["num_predict"])
	}
}

func TestOllamaToolCallStructuredArguments(t *testing.T) {
	backend := olServer(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{
			"message": {"role": "assistant", "content": "",
				"tool_calls": [{"function": {"name": "searchNotes",
					"arguments": {"query": "meeting notes", "topK": 3}}}]},
			"done": true
		}`)
	})

	resp, err := backend.ChatWithTools(context.Background(),
		[]Message{{Role: RoleUser, Content: "find my meeting notes"}}, nil, Options{})
	if err != nil {
		t.Fatalf("ChatWithTools: %v", err)
	}

	if resp.ToolCall == nil {
		t.Fatal("no tool call parsed")
	}
	if resp.ToolCall.Name != "searchNotes" {
		t.Errorf("tool name = %q", resp.ToolCall.Name)
	}
	if resp.ToolCall.Arguments["query"] != "meeting notes" {
		t.Errorf("arguments = %v", resp.ToolCall.Arguments)
	}
	if resp.ToolCall.Raw == "" {
		t.Error("Raw serialized arguments missing")
	}
	if resp.FinishReason != FinishToolCalls {
		t.Errorf("FinishReason = %q", resp.FinishReason)
	}
}

func TestOllamaDoneReasonLength(t *testing.T) {
	backend := olServer(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"message": {"role": "assistant", "content": "truncat"}, "done": true, "done_reason": "length"}`)
	})

	resp, err := backend.Chat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if resp.FinishReason != FinishLength {
		t.Errorf("FinishReason = %q, want %q", resp.FinishReason, FinishLength)
	}
}

func TestOllamaStreamNDJSON(t *testing.T) {
	backend := olServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req olChatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if !req.Stream {
			t.Error("streaming call did not set stream: true")
		}
		fmt.Fprint(w, `{"message": {"content": "Hel"}, "done": false}`+"\n")
		fmt.Fprint(w, "this line is not json\n")
		fmt.Fprint(w, `{"message": {"content": "lo"}, "done": false}`+"\n")
		fmt.Fprint(w, `{"message": {"content": ""}, "done": true, "done_reason": "stop", "prompt_eval_count": 3, "eval_count": 2}`+"\n")
	})

	var chunks []StreamChunk
	resp, err := backend.Stream(context.Background(), []Message{{Role: RoleUser, Content: "hi"}},
		func(c StreamChunk) { chunks = append(chunks, c) }, Options{})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	if resp.Text != "Hello" {
		t.Errorf("accumulated text = %q", resp.Text)
	}
	if resp.Usage.TotalTokens != 5 {
		t.Errorf("usage = %+v", resp.Usage)
	}
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	if !chunks[2].Done {
		t.Error("last chunk is not terminal")
	}
}

func TestOllamaErrorStatus(t *testing.T) {
	backend := olServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error": "model 'llama3.2' not found"}`)
	})

	_, err := backend.Chat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, Options{})
	if !IsKind(err, KindModelNotFound) {
		t.Errorf("want KindModelNotFound, got %v", err)
	}
}

func TestOllamaEmptyResponse(t *testing.T) {
	backend := olServer(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"message": {"role": "assistant", "content": ""}, "done": true}`)
	})

	_, err := backend.Chat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, Options{})
	if !IsKind(err, KindMalformedResponse) {
		t.Errorf("want KindMalformedResponse, got %v", err)
	}
}
