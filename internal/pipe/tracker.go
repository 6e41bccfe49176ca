package pipe

import (
	"context"
	"fmt"
	"time"

	"github.com/stanwall/difybridge/internal/dify"
	"github.com/stanwall/difybridge/internal/domain"
)

// prepare resolves the chat state for this turn and the remote parent
// message id to send upstream.
//
// A message list of length 1 always starts a new conversation: the
// remote conversation id, history and file list are reset and the model
// is bound to the chat. Otherwise the bound model is enforced, and an
// edit of message k (history already holding k or more entries) takes
// the remote id at k-1 as parent and truncates history to k, discarding
// the remote ids of the replaced turns.
func (s *Service) prepare(ctx context.Context, chatID, model string, messageCount int) (*domain.ChatState, string, error) {
	if messageCount == 1 {
		state := &domain.ChatState{Model: model, UpdatedAt: time.Now()}
		if err := s.store.SaveChat(ctx, chatID, state); err != nil {
			return nil, "", fmt.Errorf("reset chat state: %w", err)
		}
		return state, "", nil
	}

	state, err := s.store.Chat(ctx, chatID)
	if err != nil {
		return nil, "", fmt.Errorf("load chat state: %w", err)
	}
	if state == nil {
		// Continuation of a chat the store has never seen, e.g. after a
		// wiped data dir. Start from empty state instead of failing.
		state = &domain.ChatState{}
	}

	switch state.Model {
	case model:
	case "":
		// The model was somehow never recorded; bind the current one.
		state.Model = model
	default:
		return nil, "", &domain.ModelSwitchError{BoundModel: state.Model}
	}

	parentID := ""
	idx := messageCount - 1
	if idx > 0 && len(state.History) >= idx {
		parentID = state.History[idx-1].RemoteID
		state.History = state.History[:idx]
		state.UpdatedAt = time.Now()
		if err := s.store.SaveChat(ctx, chatID, state); err != nil {
			return nil, "", fmt.Errorf("truncate chat history: %w", err)
		}
	}

	return state, parentID, nil
}

// commit records the outcome of a completed exchange: the remote
// conversation id, the local-to-remote mapping for this turn and the
// accumulated usage cost.
func (s *Service) commit(ctx context.Context, chatID string, state *domain.ChatState, localID, conversationID, remoteID string, usage *dify.Usage) error {
	state.ConversationID = conversationID
	state.History = append(state.History, domain.MessageRef{LocalID: localID, RemoteID: remoteID})
	if usage != nil {
		state.TotalCost = state.TotalCost.Add(usage.TotalPrice)
		if usage.Currency != "" {
			state.Currency = usage.Currency
		}
	}
	state.UpdatedAt = time.Now()

	if err := s.store.SaveChat(ctx, chatID, state); err != nil {
		return fmt.Errorf("save chat state: %w", err)
	}
	return nil
}
