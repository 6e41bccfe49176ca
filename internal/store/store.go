// Package store persists the per-chat conversation mapping and the
// single-slot pending upload queue. Two implementations exist: a
// file-backed store mirroring the legacy JSON layout and a Postgres
// store used when DATABASE_URL is configured.
package store

import (
	"context"

	"github.com/stanwall/difybridge/internal/domain"
)

type Store interface {
	// Chat returns the state for a chat key, or nil when none exists.
	Chat(ctx context.Context, chatID string) (*domain.ChatState, error)
	// SaveChat replaces the state for a chat key.
	SaveChat(ctx context.Context, chatID string, state *domain.ChatState) error

	// QueuePendingUpload occupies the single pending-upload slot.
	// Returns domain.ErrUploadPending when the slot is already taken.
	QueuePendingUpload(ctx context.Context, up domain.PendingUpload) error
	// TakePendingUpload atomically empties the slot and returns its
	// content, or nil when the slot is empty.
	TakePendingUpload(ctx context.Context) (*domain.PendingUpload, error)

	Close() error
}
