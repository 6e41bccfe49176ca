package pipe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/stanwall/difybridge/internal/dify"
	"github.com/stanwall/difybridge/internal/domain"
	"github.com/stanwall/difybridge/internal/store"
)

func userMessage(id, text string) Message {
	return Message{ID: id, Role: "user", Content: Text(text)}
}

func assistantMessage(text string) Message {
	return Message{Role: "assistant", Content: Text(text)}
}

func TestExchangeTaskShortCircuits(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	reply, err := s.Exchange(ctx, Request{
		Model:    "dify.my-workflow",
		Task:     TaskTitleGeneration,
		Messages: []Message{userMessage("m1", "hi")},
	})
	require.NoError(t, err)
	require.Equal(t, "my-workflow", reply.Text)

	reply, err = s.Exchange(ctx, Request{
		Model:    "dify.my-workflow",
		Task:     TaskTagsGeneration,
		Messages: []Message{userMessage("m1", "hi")},
	})
	require.NoError(t, err)
	require.JSONEq(t, `{"tags":["my-workflow"]}`, reply.Text)
}

func TestExchangeBlocking(t *testing.T) {
	var gotReq dify.ChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat-messages", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"conversation_id": "conv-C",
			"message_id": "msg-M",
			"answer": "The answer",
			"metadata": {"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15, "total_price": "0.0010", "currency": "USD"}}
		}`)
	}))
	defer srv.Close()

	st, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)
	s := New(dify.NewClient(srv.URL, "test-key"), st, "Test Workflow", "dify_id")
	ctx := context.Background()

	reply, err := s.Exchange(ctx, Request{
		Model: "dify.my-model",
		Messages: []Message{
			{Role: "system", Content: Text("be terse")},
			userMessage("local-M", "hello"),
		},
		ChatID:    "chat-1",
		MessageID: "local-M",
		User:      domain.Identity{ID: "u-1", Email: "user@example.com"},
	})
	require.NoError(t, err)
	require.Equal(t, "The answer", reply.Text)
	require.NotNil(t, reply.Usage)
	require.Equal(t, 15, reply.Usage.TotalTokens)

	// Manifold prefix stripped, system message popped into inputs
	require.Equal(t, "my-model", gotReq.Inputs.Model)
	require.Equal(t, "be terse", gotReq.Inputs.SystemMessage)
	require.Equal(t, "hello", gotReq.Query)
	require.Equal(t, "blocking", gotReq.ResponseMode)
	require.Equal(t, "user@example.com", gotReq.User)

	// Persisted state carries the remote ids and the accumulated cost
	state, err := st.Chat(ctx, "chat-1")
	require.NoError(t, err)
	require.Equal(t, "conv-C", state.ConversationID)
	require.Equal(t, []domain.MessageRef{{LocalID: "local-M", RemoteID: "msg-M"}}, state.History)
	require.True(t, state.TotalCost.Equal(decimal.RequireFromString("0.001")))
	require.Equal(t, "USD", state.Currency)
}

func TestExchangeBlockingUpstreamErrorBecomesText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"code":"invalid_param"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	st, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)
	s := New(dify.NewClient(srv.URL, "k"), st, "wf", "dify_id")

	reply, err := s.Exchange(context.Background(), Request{
		Model:    "dify.m",
		Messages: []Message{userMessage("m1", "hi")},
		ChatID:   "chat-1",
	})
	require.NoError(t, err)
	require.Contains(t, reply.Text, "Error:")
	require.Contains(t, reply.Text, "400")
}

func TestExchangeModelSwitchIsHardError(t *testing.T) {
	st, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)
	s := New(nil, st, "wf", "dify_id")
	ctx := context.Background()

	seedChat(t, st, "chat-1", &domain.ChatState{Model: "first"})

	_, err = s.Exchange(ctx, Request{
		Model: "dify.second",
		Messages: []Message{
			userMessage("m1", "one"),
			assistantMessage("ok"),
			userMessage("m2", "two"),
		},
		ChatID: "chat-1",
	})
	var switchErr *domain.ModelSwitchError
	require.ErrorAs(t, err, &switchErr)
	require.Equal(t, "first", switchErr.BoundModel)
}

func TestExchangeStreaming(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req dify.ChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "streaming", req.ResponseMode)

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"event\":\"message\",\"answer\":\"Hel\"}\n\n")
		fmt.Fprint(w, "data: {\"event\":\"message\",\"answer\":\"lo\"}\n\n")
		fmt.Fprint(w, "data: not json at all\n\n")
		fmt.Fprint(w, "data: {\"event\":\"message_end\",\"conversation_id\":\"conv-C\",\"message_id\":\"msg-M\",\"metadata\":{\"usage\":{\"total_price\":\"0.002\",\"currency\":\"USD\"}}}\n\n")
	}))
	defer srv.Close()

	st, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)
	s := New(dify.NewClient(srv.URL, "k"), st, "wf", "dify_id")
	ctx := context.Background()

	reply, err := s.Exchange(ctx, Request{
		Model:     "dify.m",
		Messages:  []Message{userMessage("local-M", "hi")},
		Stream:    true,
		ChatID:    "chat-1",
		MessageID: "local-M",
	})
	require.NoError(t, err)
	require.NotNil(t, reply.Stream)

	var full string
	for chunk := range reply.Stream {
		full += chunk
	}
	require.Equal(t, "Hello", full)

	// The stream channel closes only after the commit ran
	state, err := st.Chat(ctx, "chat-1")
	require.NoError(t, err)
	require.Equal(t, "conv-C", state.ConversationID)
	require.Equal(t, []domain.MessageRef{{LocalID: "local-M", RemoteID: "msg-M"}}, state.History)
	require.True(t, state.TotalCost.Equal(decimal.RequireFromString("0.002")))
}

func TestExchangeStreamingErrorEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"event\":\"error\",\"status\":400,\"message\":\"Bad query\",\"code\":\"bad_request\"}\n\n")
	}))
	defer srv.Close()

	st, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)
	s := New(dify.NewClient(srv.URL, "k"), st, "wf", "dify_id")

	reply, err := s.Exchange(context.Background(), Request{
		Model:    "dify.m",
		Messages: []Message{userMessage("m1", "hi")},
		Stream:   true,
		ChatID:   "chat-1",
	})
	require.NoError(t, err)

	var chunks []string
	for chunk := range reply.Stream {
		chunks = append(chunks, chunk)
	}
	require.Equal(t, []string{"Error: Error 400: Bad query (bad_request)"}, chunks)
}

func TestExchangeConsumesPendingUpload(t *testing.T) {
	var gotReq dify.ChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		fmt.Fprint(w, `{"conversation_id":"c","message_id":"m","answer":"ok","metadata":{"usage":{}}}`)
	}))
	defer srv.Close()

	st, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)
	s := New(dify.NewClient(srv.URL, "k"), st, "wf", "dify_id")
	ctx := context.Background()

	require.NoError(t, st.QueuePendingUpload(ctx, domain.PendingUpload{
		Name:     "report.pdf",
		FileID:   "file-7",
		UserID:   "u-1",
		QueuedAt: time.Now(),
	}))

	_, err = s.Exchange(ctx, Request{
		Model:    "dify.m",
		Messages: []Message{userMessage("m1", "summarize the file")},
		ChatID:   "chat-1",
	})
	require.NoError(t, err)

	require.Len(t, gotReq.Files, 1)
	require.Equal(t, "document", gotReq.Files[0].Type)
	require.Equal(t, "local_file", gotReq.Files[0].TransferMethod)
	require.Equal(t, "file-7", gotReq.Files[0].UploadFileID)

	// Slot consumed, file recorded on the chat
	pending, err := st.TakePendingUpload(ctx)
	require.NoError(t, err)
	require.Nil(t, pending)

	state, err := st.Chat(ctx, "chat-1")
	require.NoError(t, err)
	require.Equal(t, []domain.FileRef{{ID: "file-7", Name: "report.pdf", Type: "document"}}, state.Files)
}

func TestExchangeEmptyMessages(t *testing.T) {
	s, _ := newTestService(t)

	_, err := s.Exchange(context.Background(), Request{Model: "dify.m"})
	require.ErrorIs(t, err, domain.ErrEmptyMessages)
}

func TestModels(t *testing.T) {
	s, _ := newTestService(t)
	models := s.Models()
	require.Equal(t, []ModelInfo{{ID: "dify_id", Name: "Test Workflow"}}, models)
}
