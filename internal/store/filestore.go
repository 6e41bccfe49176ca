package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stanwall/difybridge/internal/domain"
)

const (
	mappingFile  = "chat_message_mapping.json"
	modelFile    = "chat_model.json"
	fileListFile = "file_list.json"
	pendingFile  = "pending_upload.json"
)

// chatMapping is the on-disk shape of one chat in chat_message_mapping.json.
// Messages keeps the legacy singleton-map form {local_id: remote_id} so
// state files written by earlier deployments stay readable.
type chatMapping struct {
	DifyConversationID string              `json:"dify_conversation_id"`
	Messages           []map[string]string `json:"messages"`
	TotalCost          string              `json:"total_cost,omitempty"`
	Currency           string              `json:"currency,omitempty"`
	UpdatedAt          time.Time           `json:"updated_at,omitzero"`
}

type pendingRecord struct {
	Flag     bool      `json:"flag"`
	Name     string    `json:"name"`
	ID       string    `json:"id"`
	UserID   string    `json:"user_id"`
	QueuedAt time.Time `json:"queued_at,omitzero"`
}

// FileStore keeps all chat state in memory and flushes it to flat JSON
// files under dir after every mutation. A single RWMutex guards both the
// maps and the files, so overlapping requests cannot interleave writes.
type FileStore struct {
	dir string

	mu      sync.RWMutex
	mapping map[string]*chatMapping
	models  map[string]string
	files   map[string][]domain.FileRef
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	s := &FileStore{
		dir:     dir,
		mapping: map[string]*chatMapping{},
		models:  map[string]string{},
		files:   map[string][]domain.FileRef{},
	}

	// A missing file is a fresh install; a corrupted one is an error,
	// silently starting over would lose every recorded conversation.
	if err := readJSON(filepath.Join(dir, mappingFile), &s.mapping); err != nil {
		return nil, err
	}
	if err := readJSON(filepath.Join(dir, modelFile), &s.models); err != nil {
		return nil, err
	}
	if err := readJSON(filepath.Join(dir, fileListFile), &s.files); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *FileStore) Chat(_ context.Context, chatID string) (*domain.ChatState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.mapping[chatID]
	if !ok {
		return nil, nil
	}

	state := &domain.ChatState{
		ConversationID: m.DifyConversationID,
		Model:          s.models[chatID],
		Files:          append([]domain.FileRef(nil), s.files[chatID]...),
		Currency:       m.Currency,
		UpdatedAt:      m.UpdatedAt,
	}
	if m.TotalCost != "" {
		cost, err := decimal.NewFromString(m.TotalCost)
		if err != nil {
			return nil, fmt.Errorf("parse total cost for chat %s: %w", chatID, err)
		}
		state.TotalCost = cost
	}
	for _, entry := range m.Messages {
		for local, remote := range entry {
			state.History = append(state.History, domain.MessageRef{LocalID: local, RemoteID: remote})
		}
	}

	return state, nil
}

func (s *FileStore) SaveChat(_ context.Context, chatID string, state *domain.ChatState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := &chatMapping{
		DifyConversationID: state.ConversationID,
		Messages:           make([]map[string]string, 0, len(state.History)),
		Currency:           state.Currency,
		UpdatedAt:          state.UpdatedAt,
	}
	if !state.TotalCost.IsZero() {
		m.TotalCost = state.TotalCost.String()
	}
	for _, ref := range state.History {
		m.Messages = append(m.Messages, map[string]string{ref.LocalID: ref.RemoteID})
	}

	s.mapping[chatID] = m
	s.models[chatID] = state.Model
	s.files[chatID] = append([]domain.FileRef(nil), state.Files...)

	return s.flushLocked()
}

func (s *FileStore) QueuePendingUpload(_ context.Context, up domain.PendingUpload) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rec pendingRecord
	path := filepath.Join(s.dir, pendingFile)
	if err := readJSON(path, &rec); err != nil {
		return err
	}
	if rec.Flag {
		return domain.ErrUploadPending
	}

	rec = pendingRecord{
		Flag:     true,
		Name:     up.Name,
		ID:       up.FileID,
		UserID:   up.UserID,
		QueuedAt: up.QueuedAt,
	}
	return writeJSON(path, rec)
}

func (s *FileStore) TakePendingUpload(_ context.Context) (*domain.PendingUpload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rec pendingRecord
	path := filepath.Join(s.dir, pendingFile)
	if err := readJSON(path, &rec); err != nil {
		return nil, err
	}
	if !rec.Flag {
		return nil, nil
	}

	if err := writeJSON(path, pendingRecord{}); err != nil {
		return nil, err
	}
	return &domain.PendingUpload{
		Name:     rec.Name,
		FileID:   rec.ID,
		UserID:   rec.UserID,
		QueuedAt: rec.QueuedAt,
	}, nil
}

func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

func (s *FileStore) flushLocked() error {
	if err := writeJSON(filepath.Join(s.dir, mappingFile), s.mapping); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(s.dir, modelFile), s.models); err != nil {
		return err
	}
	return writeJSON(filepath.Join(s.dir, fileListFile), s.files)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return nil
}

// writeJSON writes via a temp file and rename so a crash mid-write
// cannot leave a truncated state file behind.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}
	return nil
}
