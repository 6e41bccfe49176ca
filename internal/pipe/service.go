// Package pipe implements the conversation pipe: it shapes host chat
// requests into Dify chat-message exchanges and tracks the mapping
// between local chats and remote conversations.
package pipe

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/stanwall/difybridge/internal/dify"
	"github.com/stanwall/difybridge/internal/domain"
	"github.com/stanwall/difybridge/internal/store"
)

const (
	TaskTitleGeneration = "title_generation"
	TaskTagsGeneration  = "tags_generation"
)

type Service struct {
	dify     *dify.Client
	store    store.Store
	workflow string
	modelID  string
}

func New(client *dify.Client, st store.Store, workflow, modelID string) *Service {
	return &Service{
		dify:     client,
		store:    st,
		workflow: workflow,
		modelID:  modelID,
	}
}

// Request is one turn handed to the pipe by a front end. ChatID and
// MessageID are the host's identifiers for the chat session and the
// current message; when empty, fresh ids are generated and the turn has
// no continuity with previous ones.
type Request struct {
	Model     string
	Messages  []Message
	Stream    bool
	ChatID    string
	MessageID string
	Task      string
	User      domain.Identity
}

// Reply carries either a complete answer or a stream of text chunks,
// never both. Upstream failures arrive as "Error: ..." text rather than
// an error value, matching what the front ends show verbatim.
type Reply struct {
	Text   string
	Stream <-chan string
	Usage  *dify.Usage
}

type ModelInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Models returns the manifold listing: this bridge exposes exactly one
// entry, the configured Dify workflow.
func (s *Service) Models() []ModelInfo {
	return []ModelInfo{
		{ID: s.modelID, Name: s.workflow},
	}
}

// Exchange runs one request/response cycle against Dify. A model-switch
// policy violation is returned as an error; transport and protocol
// failures are folded into the reply as "Error: ..." text.
func (s *Service) Exchange(ctx context.Context, req Request) (*Reply, error) {
	// The manifold prefixes model names with "<manifold id>.".
	modelName := req.Model
	if i := strings.Index(modelName, "."); i >= 0 {
		modelName = modelName[i+1:]
	}

	// Host maintenance tasks never reach Dify.
	switch req.Task {
	case TaskTitleGeneration:
		return &Reply{Text: modelName}, nil
	case TaskTagsGeneration:
		return &Reply{Text: fmt.Sprintf(`{"tags":[%q]}`, modelName)}, nil
	}

	systemMessage, messages := popSystemMessage(req.Messages)
	if len(messages) == 0 {
		return nil, domain.ErrEmptyMessages
	}

	chatID := req.ChatID
	if chatID == "" {
		chatID = uuid.NewString()
	}
	messageID := req.MessageID
	if messageID == "" {
		messageID = uuid.NewString()
	}

	state, parentID, err := s.prepare(ctx, chatID, modelName, len(messages))
	if err != nil {
		return nil, err
	}

	last := messages[len(messages)-1]
	user := req.User.DifyUser()

	var files []dify.FileAttachment
	for _, image := range last.Content.Images {
		info, err := s.uploadImage(ctx, image, user)
		if err != nil {
			slog.Error("upload image", "error", err, "chat_id", chatID)
			return &Reply{Text: "Error: " + err.Error()}, nil
		}
		files = append(files, dify.FileAttachment{
			Type:           "image",
			TransferMethod: "local_file",
			UploadFileID:   info.ID,
		})
		state.Files = append(state.Files, domain.FileRef{ID: info.ID, Name: info.Name, Type: "image"})
	}

	// Attach the queued file, if any. Failure to take the slot is logged
	// and the exchange continues without the file.
	if pending, err := s.store.TakePendingUpload(ctx); err != nil {
		slog.Error("take pending upload", "error", err)
	} else if pending != nil {
		fileType := dify.FileTypeForName(pending.Name)
		files = append(files, dify.FileAttachment{
			Type:           fileType,
			TransferMethod: "local_file",
			UploadFileID:   pending.FileID,
		})
		state.Files = append(state.Files, domain.FileRef{ID: pending.FileID, Name: pending.Name, Type: fileType})
		slog.Info("attached pending file", "name", pending.Name, "type", fileType, "chat_id", chatID)
	}

	chatReq := dify.ChatRequest{
		Inputs: dify.Inputs{
			Model:         modelName,
			SystemMessage: systemMessage,
		},
		Query:           last.Content.Text,
		ParentMessageID: parentID,
		ConversationID:  state.ConversationID,
		User:            user,
		Files:           files,
	}

	if req.Stream {
		return s.streamExchange(ctx, chatReq, chatID, messageID, state)
	}
	return s.blockingExchange(ctx, chatReq, chatID, messageID, state)
}

func (s *Service) blockingExchange(ctx context.Context, chatReq dify.ChatRequest, chatID, messageID string, state *domain.ChatState) (*Reply, error) {
	resp, err := s.dify.ChatMessage(ctx, chatReq)
	if err != nil {
		slog.Error("dify chat", "error", err, "chat_id", chatID)
		return &Reply{Text: "Error: " + err.Error()}, nil
	}

	if err := s.commit(ctx, chatID, state, messageID, resp.ConversationID, resp.MessageID, &resp.Metadata.Usage); err != nil {
		return nil, err
	}

	return &Reply{Text: resp.Answer, Usage: &resp.Metadata.Usage}, nil
}

func (s *Service) streamExchange(ctx context.Context, chatReq dify.ChatRequest, chatID, messageID string, state *domain.ChatState) (*Reply, error) {
	events, err := s.dify.StreamChatMessage(ctx, chatReq)
	if err != nil {
		slog.Error("dify stream", "error", err, "chat_id", chatID)
		return &Reply{Text: "Error: " + err.Error()}, nil
	}

	out := make(chan string)
	go func() {
		defer close(out)
		for event := range events {
			switch event.Event {
			case dify.EventMessage:
				select {
				case out <- event.Answer:
				case <-ctx.Done():
					return
				}
			case dify.EventMessageFile, dify.EventPing:
				// nothing to surface
			case dify.EventMessageEnd:
				var usage *dify.Usage
				if event.Metadata != nil {
					usage = &event.Metadata.Usage
				}
				if err := s.commit(ctx, chatID, state, messageID, event.ConversationID, event.MessageID, usage); err != nil {
					slog.Error("commit exchange", "error", err, "chat_id", chatID)
				}
				return
			case dify.EventError:
				msg := fmt.Sprintf("Error: Error %d: %s (%s)", event.Status, event.Message, event.Code)
				select {
				case out <- msg:
				case <-ctx.Done():
				}
				return
			}
		}
	}()

	return &Reply{Stream: out}, nil
}

// uploadImage decodes a base64 data URL and uploads it to Dify.
func (s *Service) uploadImage(ctx context.Context, dataURL, user string) (*dify.FileInfo, error) {
	raw := dataURL
	if strings.HasPrefix(raw, "data:") {
		_, after, ok := strings.Cut(raw, ",")
		if !ok {
			return nil, fmt.Errorf("malformed data URL")
		}
		raw = after
	}

	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("decode image data: %w", err)
	}

	info, err := s.dify.UploadFile(ctx, "image.png", "image/png", bytes.NewReader(data), user)
	if err != nil {
		return nil, fmt.Errorf("upload image: %w", err)
	}
	return info, nil
}
