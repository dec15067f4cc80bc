package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(Config{
		APIKey:      "test-key",
		BaseURL:     server.URL,
		Model:       "test-model",
		MaxAttempts: 3,
		Timeout:     5 * time.Second,
	}, zap.NewNop())
}

func writeCompletion(w http.ResponseWriter, content string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"id":     "chatcmpl-test",
		"object": "chat.completion",
		"model":  "test-model",
		"choices": []map[string]any{{
			"index":         0,
			"finish_reason": "stop",
			"message":       map[string]any{"role": "assistant", "content": content},
		}},
	})
}

func writeAPIError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"message": msg, "type": "test_error"},
	})
}

func TestCompleteReturnsText(t *testing.T) {
	var gotBody struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		writeCompletion(w, "Paris")
	})

	out, err := client.Complete(context.Background(), "what is the capital of France?")
	require.NoError(t, err)
	assert.Equal(t, "Paris", out)
	assert.Equal(t, "test-model", gotBody.Model)
	require.Len(t, gotBody.Messages, 1)
	assert.Equal(t, "user", gotBody.Messages[0].Role)
	assert.Equal(t, "what is the capital of France?", gotBody.Messages[0].Content)
}

func TestDecideAcceptsChoiceValue(t *testing.T) {
	var calls atomic.Int64
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeCompletion(w, `{"decision":"workflow"}`)
	})

	out, err := client.Decide(context.Background(), "route this", []string{"workflow", "direct", "unsafe"})
	require.NoError(t, err)
	assert.Equal(t, "workflow", out)
	assert.EqualValues(t, 1, calls.Load())
}

func TestDecideRetriesOutOfChoiceValueThenErrors(t *testing.T) {
	var calls atomic.Int64
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeCompletion(w, `{"decision":"banana"}`)
	})

	_, err := client.Decide(context.Background(), "route this", []string{"workflow", "direct", "unsafe"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not in allowed set")
	assert.EqualValues(t, 3, calls.Load())
}

func TestDecideRetriesMalformedDecision(t *testing.T) {
	var calls atomic.Int64
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 2 {
			writeCompletion(w, "not json at all")
			return
		}
		writeCompletion(w, `{"decision":"direct"}`)
	})

	out, err := client.Decide(context.Background(), "route this", []string{"workflow", "direct", "unsafe"})
	require.NoError(t, err)
	assert.Equal(t, "direct", out)
	assert.EqualValues(t, 2, calls.Load())
}

func TestDecideRetriesServerErrorsToSuccess(t *testing.T) {
	var calls atomic.Int64
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			writeAPIError(w, http.StatusInternalServerError, "upstream exploded")
			return
		}
		writeCompletion(w, `{"decision":"workflow"}`)
	})

	out, err := client.Decide(context.Background(), "route this", []string{"workflow", "direct", "unsafe"})
	require.NoError(t, err)
	assert.Equal(t, "workflow", out)
	assert.EqualValues(t, 3, calls.Load())
}

func TestDecideDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int64
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeAPIError(w, http.StatusBadRequest, "bad schema")
	})

	_, err := client.Decide(context.Background(), "route this", []string{"workflow", "direct", "unsafe"})
	require.Error(t, err)
	assert.EqualValues(t, 1, calls.Load())
}

func TestCompleteExhaustsAttemptsOnPersistentFailure(t *testing.T) {
	var calls atomic.Int64
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeAPIError(w, http.StatusServiceUnavailable, "down for maintenance")
	})

	_, err := client.Complete(context.Background(), "hello")
	require.Error(t, err)
	assert.EqualValues(t, 3, calls.Load())
}

func TestToolCallParsesToolCalls(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":     "chatcmpl-test",
			"object": "chat.completion",
			"model":  "test-model",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "tool_calls",
				"message": map[string]any{
					"role":    "assistant",
					"content": "",
					"tool_calls": []map[string]any{{
						"id":   "call_1",
						"type": "function",
						"function": map[string]any{
							"name":      "web_search",
							"arguments": `{"query":"go generics"}`,
						},
					}},
				},
			}},
		})
	})

	resp, err := client.ToolCall(context.Background(), []Message{{Role: RoleUser, Content: "search it"}})
	require.NoError(t, err)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "call_1", resp.ToolCalls[0].ID)
	assert.Equal(t, "web_search", resp.ToolCalls[0].Name)
	assert.JSONEq(t, `{"query":"go generics"}`, string(resp.ToolCalls[0].Arguments))
}
