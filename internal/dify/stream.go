package dify

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

type StreamEventType string

const (
	EventMessage     StreamEventType = "message"
	EventMessageFile StreamEventType = "message_file"
	EventMessageEnd  StreamEventType = "message_end"
	EventError       StreamEventType = "error"
	EventPing        StreamEventType = "ping"
)

type StreamEvent struct {
	Event          StreamEventType `json:"event"`
	Answer         string          `json:"answer"`
	ConversationID string          `json:"conversation_id"`
	MessageID      string          `json:"message_id"`
	Metadata       *struct {
		Usage Usage `json:"usage"`
	} `json:"metadata"`

	// error event fields
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// StreamChatMessage opens a streaming chat exchange and returns a channel
// of decoded SSE events. The channel closes when the upstream stream ends,
// a message_end or error event has been delivered, or the context is
// cancelled. Malformed data lines are logged and skipped.
func (c *Client) StreamChatMessage(ctx context.Context, chatReq ChatRequest) (<-chan StreamEvent, error) {
	chatReq.ResponseMode = "streaming"

	payload, err := json.Marshal(chatReq)
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat-messages", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chat request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("HTTP Error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	events := make(chan StreamEvent)
	go c.readEvents(ctx, resp.Body, events)
	return events, nil
}

func (c *Client) readEvents(ctx context.Context, body io.ReadCloser, events chan<- StreamEvent) {
	defer close(events)
	defer body.Close()

	reader := bufio.NewReader(body)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			data, ok := bytes.CutPrefix(bytes.TrimSpace(line), []byte("data: "))
			if ok && len(data) > 0 {
				var event StreamEvent
				if parseErr := json.Unmarshal(data, &event); parseErr != nil {
					slog.Debug("skip malformed stream line", "error", parseErr, "line", string(data))
				} else {
					select {
					case events <- event:
					case <-ctx.Done():
						return
					}
					// Consumers stop at these events; close the body
					// instead of blocking on a channel nobody reads
					if event.Event == EventMessageEnd || event.Event == EventError {
						return
					}
				}
			}
		}
		if err != nil {
			if err != io.EOF && ctx.Err() == nil {
				slog.Error("read stream", "error", err)
			}
			return
		}
	}
}
