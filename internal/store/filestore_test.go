package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/stanwall/difybridge/internal/domain"
)

func TestFileStoreChatRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)
	ctx := context.Background()

	missing, err := s.Chat(ctx, "chat-1")
	require.NoError(t, err)
	require.Nil(t, missing)

	state := &domain.ChatState{
		ConversationID: "conv-1",
		Model:          "gpt-4o",
		History: []domain.MessageRef{
			{LocalID: "local-1", RemoteID: "remote-1"},
			{LocalID: "local-2", RemoteID: "remote-2"},
		},
		Files:     []domain.FileRef{{ID: "f-1", Name: "notes.pdf", Type: "document"}},
		TotalCost: decimal.RequireFromString("0.0042"),
		Currency:  "USD",
		UpdatedAt: time.Now(),
	}
	require.NoError(t, s.SaveChat(ctx, "chat-1", state))

	// Reopen from disk to prove persistence, not just the in-memory maps
	reopened, err := NewFileStore(dir)
	require.NoError(t, err)

	got, err := reopened.Chat(ctx, "chat-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "conv-1", got.ConversationID)
	require.Equal(t, "gpt-4o", got.Model)
	require.Equal(t, state.History, got.History)
	require.Equal(t, state.Files, got.Files)
	require.True(t, got.TotalCost.Equal(state.TotalCost))
	require.Equal(t, "USD", got.Currency)
}

func TestFileStoreLegacyLayout(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.SaveChat(ctx, "chat-1", &domain.ChatState{
		ConversationID: "conv-1",
		Model:          "gpt-4o",
		History:        []domain.MessageRef{{LocalID: "local-1", RemoteID: "remote-1"}},
	}))

	data, err := os.ReadFile(filepath.Join(dir, "chat_message_mapping.json"))
	require.NoError(t, err)

	var mapping map[string]struct {
		DifyConversationID string              `json:"dify_conversation_id"`
		Messages           []map[string]string `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(data, &mapping))
	require.Equal(t, "conv-1", mapping["chat-1"].DifyConversationID)
	require.Equal(t, []map[string]string{{"local-1": "remote-1"}}, mapping["chat-1"].Messages)

	models, err := os.ReadFile(filepath.Join(dir, "chat_model.json"))
	require.NoError(t, err)
	require.JSONEq(t, `{"chat-1":"gpt-4o"}`, string(models))
}

func TestFileStoreCorruptedFileIsAnError(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "chat_message_mapping.json"), []byte("{not json"), 0o644))

	_, err := NewFileStore(dir)
	require.Error(t, err)
}

func TestFileStorePendingUploadSingleSlot(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	empty, err := s.TakePendingUpload(ctx)
	require.NoError(t, err)
	require.Nil(t, empty)

	up := domain.PendingUpload{Name: "report.pdf", FileID: "f-1", UserID: "u-1", QueuedAt: time.Now()}
	require.NoError(t, s.QueuePendingUpload(ctx, up))

	// Second queue attempt must hit the occupied slot
	err = s.QueuePendingUpload(ctx, domain.PendingUpload{Name: "other.txt", FileID: "f-2", UserID: "u-1"})
	require.ErrorIs(t, err, domain.ErrUploadPending)

	taken, err := s.TakePendingUpload(ctx)
	require.NoError(t, err)
	require.NotNil(t, taken)
	require.Equal(t, "report.pdf", taken.Name)
	require.Equal(t, "f-1", taken.FileID)

	// Slot is free again
	again, err := s.TakePendingUpload(ctx)
	require.NoError(t, err)
	require.Nil(t, again)
	require.NoError(t, s.QueuePendingUpload(ctx, up))
}
