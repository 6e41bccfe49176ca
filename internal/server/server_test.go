package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stanwall/difybridge/internal/dify"
	"github.com/stanwall/difybridge/internal/domain"
	"github.com/stanwall/difybridge/internal/pipe"
	"github.com/stanwall/difybridge/internal/scrape"
	"github.com/stanwall/difybridge/internal/store"
)

// newTestRouter wires the full stack against a fake Dify backend.
func newTestRouter(t *testing.T, difyHandler http.HandlerFunc) (http.Handler, store.Store) {
	t.Helper()

	upstream := httptest.NewServer(difyHandler)
	t.Cleanup(upstream.Close)

	st, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	client := dify.NewClient(upstream.URL, "test-key")
	return NewRouter(Deps{
		Pipe:    pipe.New(client, st, "Test Workflow", "dify_id"),
		Scraper: scrape.New(scrape.Options{APIURL: upstream.URL, VerifySSL: true, FollowRedirects: true}),
		Store:   st,
		Dify:    client,
	}), st
}

func TestHealth(t *testing.T) {
	r, _ := newTestRouter(t, func(w http.ResponseWriter, req *http.Request) {})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "ok", resp.Status)
	require.NotEmpty(t, resp.Uptime)
}

func TestModelsListing(t *testing.T) {
	r, _ := newTestRouter(t, func(w http.ResponseWriter, req *http.Request) {})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/v1/models", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Object string       `json:"object"`
		Data   []modelEntry `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "list", resp.Object)
	require.Len(t, resp.Data, 1)
	require.Equal(t, "dify.dify_id", resp.Data[0].ID)
	require.Equal(t, "dify/Test Workflow", resp.Data[0].Name)
}

func TestChatCompletionsBlocking(t *testing.T) {
	r, st := newTestRouter(t, func(w http.ResponseWriter, req *http.Request) {
		fmt.Fprint(w, `{"conversation_id":"conv-C","message_id":"msg-M","answer":"hi there","metadata":{"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}}`)
	})

	body := `{"model":"dify.dify_id","messages":[{"id":"local-M","role":"user","content":"hello"}],"chat_id":"chat-1","message_id":"local-M"}`
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("POST", "/v1/chat/completions", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp chatCompletionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "chat.completion", resp.Object)
	require.Len(t, resp.Choices, 1)
	require.Equal(t, "hi there", resp.Choices[0].Message.Content)
	require.Equal(t, "stop", *resp.Choices[0].FinishReason)
	require.Equal(t, 5, resp.Usage.TotalTokens)

	state, err := st.Chat(context.Background(), "chat-1")
	require.NoError(t, err)
	require.Equal(t, "conv-C", state.ConversationID)
	require.Equal(t, []domain.MessageRef{{LocalID: "local-M", RemoteID: "msg-M"}}, state.History)
}

func TestChatCompletionsHeaderFallback(t *testing.T) {
	r, st := newTestRouter(t, func(w http.ResponseWriter, req *http.Request) {
		fmt.Fprint(w, `{"conversation_id":"conv-H","message_id":"msg-H","answer":"ok","metadata":{"usage":{}}}`)
	})

	body := `{"model":"dify.dify_id","messages":[{"role":"user","content":"hello"}]}`
	req := httptest.NewRequest("POST", "/v1/chat/completions", strings.NewReader(body))
	req.Header.Set("X-Chat-ID", "chat-h")
	req.Header.Set("X-Message-ID", "local-h")

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	state, err := st.Chat(context.Background(), "chat-h")
	require.NoError(t, err)
	require.Equal(t, "conv-H", state.ConversationID)
	require.Equal(t, []domain.MessageRef{{LocalID: "local-h", RemoteID: "msg-H"}}, state.History)
}

func TestChatCompletionsModelSwitchIs400(t *testing.T) {
	r, st := newTestRouter(t, func(w http.ResponseWriter, req *http.Request) {})

	require.NoError(t, st.SaveChat(context.Background(), "chat-1", &domain.ChatState{Model: "first"}))

	body := `{"model":"dify.second","messages":[
		{"role":"user","content":"one"},
		{"role":"assistant","content":"ok"},
		{"role":"user","content":"two"}
	],"chat_id":"chat-1"}`
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("POST", "/v1/chat/completions", strings.NewReader(body)))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "first")
}

func TestChatCompletionsStreaming(t *testing.T) {
	r, _ := newTestRouter(t, func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"event\":\"message\",\"answer\":\"chunk one\"}\n\n")
		fmt.Fprint(w, "data: {\"event\":\"message_end\",\"conversation_id\":\"c\",\"message_id\":\"m\"}\n\n")
	})

	body := `{"model":"dify.dify_id","messages":[{"role":"user","content":"hello"}],"stream":true,"chat_id":"chat-1"}`
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("POST", "/v1/chat/completions", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	var deltas []string
	sawDone := false
	scanner := bufio.NewScanner(rec.Body)
	for scanner.Scan() {
		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		if data == "[DONE]" {
			sawDone = true
			continue
		}
		var chunk chatCompletionResponse
		require.NoError(t, json.Unmarshal([]byte(data), &chunk))
		require.Equal(t, "chat.completion.chunk", chunk.Object)
		if chunk.Choices[0].Delta != nil && chunk.Choices[0].Delta.Content != "" {
			deltas = append(deltas, chunk.Choices[0].Delta.Content)
		}
	}
	require.Equal(t, []string{"chunk one"}, deltas)
	require.True(t, sawDone)
}

func TestScrapeEndpoint(t *testing.T) {
	r, _ := newTestRouter(t, func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path == "/scrape" {
			fmt.Fprint(w, `{"success":true,"data":{"markdown":"scraped body"}}`)
		}
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("POST", "/api/scrape", strings.NewReader(`{"url":"https://example.com"}`)))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Contains(t, resp["result"], "scraped body")

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("POST", "/api/scrape", strings.NewReader(`{}`)))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
