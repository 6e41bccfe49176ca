package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stanwall/difybridge/internal/domain"
)

// PostgresStore keeps one chat_state row per chat key with the history
// and file list as JSONB, and a single-row pending_upload table whose
// CHECK constraint enforces the one-slot invariant in the database.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Chat(ctx context.Context, chatID string) (*domain.ChatState, error) {
	var (
		state       domain.ChatState
		historyJSON []byte
		filesJSON   []byte
		costText    string
	)

	err := s.pool.QueryRow(ctx, `
		SELECT conversation_id, model, history, files, total_cost::text, currency, updated_at
		FROM chat_state
		WHERE chat_id = $1`, chatID,
	).Scan(&state.ConversationID, &state.Model, &historyJSON, &filesJSON, &costText, &state.Currency, &state.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select chat state: %w", err)
	}

	if err := json.Unmarshal(historyJSON, &state.History); err != nil {
		return nil, fmt.Errorf("parse history for chat %s: %w", chatID, err)
	}
	if err := json.Unmarshal(filesJSON, &state.Files); err != nil {
		return nil, fmt.Errorf("parse files for chat %s: %w", chatID, err)
	}
	state.TotalCost, err = decimal.NewFromString(costText)
	if err != nil {
		return nil, fmt.Errorf("parse total cost for chat %s: %w", chatID, err)
	}

	return &state, nil
}

func (s *PostgresStore) SaveChat(ctx context.Context, chatID string, state *domain.ChatState) error {
	history := state.History
	if history == nil {
		history = []domain.MessageRef{}
	}
	files := state.Files
	if files == nil {
		files = []domain.FileRef{}
	}

	historyJSON, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}
	filesJSON, err := json.Marshal(files)
	if err != nil {
		return fmt.Errorf("marshal files: %w", err)
	}

	updatedAt := state.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO chat_state (chat_id, conversation_id, model, history, files, total_cost, currency, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (chat_id) DO UPDATE SET
			conversation_id = EXCLUDED.conversation_id,
			model           = EXCLUDED.model,
			history         = EXCLUDED.history,
			files           = EXCLUDED.files,
			total_cost      = EXCLUDED.total_cost,
			currency        = EXCLUDED.currency,
			updated_at      = EXCLUDED.updated_at`,
		chatID, state.ConversationID, state.Model, historyJSON, filesJSON,
		state.TotalCost, state.Currency, updatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert chat state: %w", err)
	}
	return nil
}

func (s *PostgresStore) QueuePendingUpload(ctx context.Context, up domain.PendingUpload) error {
	queuedAt := up.QueuedAt
	if queuedAt.IsZero() {
		queuedAt = time.Now()
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO pending_upload (slot, name, file_id, user_id, queued_at)
		VALUES (TRUE, $1, $2, $3, $4)
		ON CONFLICT (slot) DO NOTHING`,
		up.Name, up.FileID, up.UserID, queuedAt,
	)
	if err != nil {
		return fmt.Errorf("queue pending upload: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrUploadPending
	}
	return nil
}

func (s *PostgresStore) TakePendingUpload(ctx context.Context) (*domain.PendingUpload, error) {
	var up domain.PendingUpload
	err := s.pool.QueryRow(ctx, `
		DELETE FROM pending_upload
		RETURNING name, file_id, user_id, queued_at`,
	).Scan(&up.Name, &up.FileID, &up.UserID, &up.QueuedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("take pending upload: %w", err)
	}
	return &up, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
