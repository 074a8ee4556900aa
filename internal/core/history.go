package core

import (
	"context"
	"fmt"

	"gwi.com/chat-history/internal/store"
)

type messageLister interface {
	GetMessagesByChatID(ctx context.Context, chatID string) ([]store.Message, error)
}

// HistoryAssembler rebuilds the transcript sent to the provider as context.
// Ownership of the chat must be checked before calling it.
type HistoryAssembler struct {
	messages messageLister
	limit    int // most recent turns to keep, 0 keeps all
}

func NewHistoryAssembler(messages messageLister, limit int) *HistoryAssembler {
	return &HistoryAssembler{messages: messages, limit: limit}
}

// Assemble returns the chat's messages oldest first, without excludeID.
func (h *HistoryAssembler) Assemble(ctx context.Context, chatID, excludeID string) ([]Turn, error) {
	msgs, err := h.messages.GetMessagesByChatID(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to load history for chat %s: %w", chatID, err)
	}

	turns := make([]Turn, 0, len(msgs))
	for _, m := range msgs {
		if m.ID == excludeID {
			continue
		}
		role := RoleUser
		if m.IsAIResponse {
			role = RoleModel
		}
		turns = append(turns, Turn{Role: role, Content: m.Content})
	}

	if h.limit > 0 && len(turns) > h.limit {
		turns = turns[len(turns)-h.limit:]
		// Gemini rejects a history that opens with a model turn.
		for len(turns) > 0 && turns[0].Role == RoleModel {
			turns = turns[1:]
		}
	}
	return turns, nil
}
