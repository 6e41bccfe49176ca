package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/stanwall/difybridge/internal/domain"
	"github.com/stanwall/difybridge/internal/pipe"
)

// chatCompletionRequest is the OpenAI-style body plus bridge extensions.
// chat_id, message_id and task may also arrive as X-Chat-ID,
// X-Message-ID and X-Task headers.
type chatCompletionRequest struct {
	Model     string         `json:"model"`
	Messages  []pipe.Message `json:"messages"`
	Stream    bool           `json:"stream"`
	User      string         `json:"user"`
	ChatID    string         `json:"chat_id"`
	MessageID string         `json:"message_id"`
	Task      string         `json:"task"`
}

type chatCompletionChoice struct {
	Index        int         `json:"index"`
	Message      *choiceText `json:"message,omitempty"`
	Delta        *choiceText `json:"delta,omitempty"`
	FinishReason *string     `json:"finish_reason"`
}

type choiceText struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	ID      string                 `json:"id"`
	Object  string                 `json:"object"`
	Created int64                  `json:"created"`
	Model   string                 `json:"model"`
	Choices []chatCompletionChoice `json:"choices"`
	Usage   *completionUsage       `json:"usage,omitempty"`
}

type completionUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func (h *handler) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req chatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if req.ChatID == "" {
		req.ChatID = r.Header.Get("X-Chat-ID")
	}
	if req.MessageID == "" {
		req.MessageID = r.Header.Get("X-Message-ID")
	}
	if req.Task == "" {
		req.Task = r.Header.Get("X-Task")
	}

	reply, err := h.pipe.Exchange(r.Context(), pipe.Request{
		Model:     req.Model,
		Messages:  req.Messages,
		Stream:    req.Stream,
		ChatID:    req.ChatID,
		MessageID: req.MessageID,
		Task:      req.Task,
		User:      domain.Identity{ID: req.User},
	})
	if err != nil {
		var switchErr *domain.ModelSwitchError
		if errors.As(err, &switchErr) || errors.Is(err, domain.ErrEmptyMessages) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		slog.Error("chat completion", "error", err, "chat_id", req.ChatID)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	id := "chatcmpl-" + uuid.NewString()
	if req.Stream {
		h.streamCompletion(w, r, id, req.Model, reply)
		return
	}

	text := reply.Text
	if reply.Stream != nil {
		for chunk := range reply.Stream {
			text += chunk
		}
	}

	stop := "stop"
	resp := chatCompletionResponse{
		ID:      id,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []chatCompletionChoice{{
			Message:      &choiceText{Role: "assistant", Content: text},
			FinishReason: &stop,
		}},
	}
	if reply.Usage != nil {
		resp.Usage = &completionUsage{
			PromptTokens:     reply.Usage.PromptTokens,
			CompletionTokens: reply.Usage.CompletionTokens,
			TotalTokens:      reply.Usage.TotalTokens,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) streamCompletion(w http.ResponseWriter, r *http.Request, id, model string, reply *pipe.Reply) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	created := time.Now().Unix()
	writeChunk := func(delta *choiceText, finish *string) {
		chunk := chatCompletionResponse{
			ID:      id,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   model,
			Choices: []chatCompletionChoice{{Delta: delta, FinishReason: finish}},
		}
		data, err := json.Marshal(chunk)
		if err != nil {
			slog.Error("marshal stream chunk", "error", err)
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}

	if reply.Stream != nil {
		for chunk := range reply.Stream {
			select {
			case <-r.Context().Done():
				return
			default:
			}
			writeChunk(&choiceText{Content: chunk}, nil)
		}
	} else if reply.Text != "" {
		writeChunk(&choiceText{Role: "assistant", Content: reply.Text}, nil)
	}

	stop := "stop"
	writeChunk(&choiceText{}, &stop)
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}
