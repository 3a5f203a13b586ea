package chat

import (
	"github.com/google/uuid"

	"github.com/temirov/ctxchat/internal/types"
)

// Exchange is the message history of one chat seeded by one context document.
type Exchange struct {
	ID       uuid.UUID           `json:"id"`
	Messages []types.ChatMessage `json:"messages"`
}

func newExchange(contextMarkdown string) *Exchange {
	return &Exchange{
		ID:       uuid.New(),
		Messages: []types.ChatMessage{{Role: types.ChatRoleSystem, Content: contextMarkdown}},
	}
}

func (exchange *Exchange) clone() Exchange {
	messages := make([]types.ChatMessage, len(exchange.Messages))
	copy(messages, exchange.Messages)
	return Exchange{ID: exchange.ID, Messages: messages}
}
