// Package memory exposes a tenant's durable conversation log to the chatbot
// as an append-only record with bounded-window retrieval. The full history
// stays in storage; generators only ever see the most recent window, which
// bounds prompt size and cost.
package memory

import (
	"fmt"

	"github.com/avelar/leasebot/internal/storage"
)

// MessageStore is the persistence interface the conversation memory needs.
// Implemented by storage.Store.
type MessageStore interface {
	AppendMessage(tenantID, role, content string) error
	GetMessages(tenantID string) ([]storage.ChatMessage, error)
	GetRecentMessages(tenantID string, n int) ([]storage.ChatMessage, error)
	ClearMessages(tenantID string) error
}

// Conversation is a handle on one tenant's message log.
type Conversation struct {
	store      MessageStore
	tenantID   string
	windowSize int
}

// NewConversation binds a conversation handle to a tenant. windowSize
// controls how many recent messages Window returns; <= 0 uses 10.
func NewConversation(store MessageStore, tenantID string, windowSize int) *Conversation {
	if windowSize <= 0 {
		windowSize = 10
	}
	return &Conversation{store: store, tenantID: tenantID, windowSize: windowSize}
}

// AppendHuman records a message the tenant sent.
func (c *Conversation) AppendHuman(content string) error {
	if err := c.store.AppendMessage(c.tenantID, storage.RoleHuman, content); err != nil {
		return fmt.Errorf("appending human message: %w", err)
	}
	return nil
}

// AppendAssistant records a reply the bot produced.
func (c *Conversation) AppendAssistant(content string) error {
	if err := c.store.AppendMessage(c.tenantID, storage.RoleAssistant, content); err != nil {
		return fmt.Errorf("appending assistant message: %w", err)
	}
	return nil
}

// Window returns the most recent messages in chronological order, bounded by
// the configured window size.
func (c *Conversation) Window() ([]storage.ChatMessage, error) {
	return c.store.GetRecentMessages(c.tenantID, c.windowSize)
}

// History returns the full conversation log in chronological order.
func (c *Conversation) History() ([]storage.ChatMessage, error) {
	return c.store.GetMessages(c.tenantID)
}

// Clear deletes the tenant's entire conversation log. This is the only
// operation that removes messages.
func (c *Conversation) Clear() error {
	return c.store.ClearMessages(c.tenantID)
}
