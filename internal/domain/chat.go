package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ChatState is everything the bridge remembers about one local chat:
// the remote Dify conversation it is bound to, the model that opened it,
// the per-turn local-to-remote message id mapping and the files attached
// so far. History grows for the life of the chat and is never pruned.
type ChatState struct {
	ConversationID string
	Model          string
	History        []MessageRef
	Files          []FileRef
	TotalCost      decimal.Decimal
	Currency       string
	UpdatedAt      time.Time
}

// MessageRef maps one local message id to the remote id Dify assigned
// to the same turn.
type MessageRef struct {
	LocalID  string `json:"local_id"`
	RemoteID string `json:"remote_id"`
}

type FileRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// PendingUpload is the single system-wide slot for a file queued to be
// attached to the next exchange.
type PendingUpload struct {
	Name     string
	FileID   string
	UserID   string
	QueuedAt time.Time
}

// Identity describes the end user on whose behalf an exchange runs.
type Identity struct {
	ID    string
	Email string
	Name  string
}

// DifyUser returns the value sent as the Dify "user" field.
func (i Identity) DifyUser() string {
	if i.Email != "" {
		return i.Email
	}
	return i.ID
}
