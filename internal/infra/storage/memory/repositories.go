// Package memory provides in-memory repository implementations, the dev
// default for crmsyncd and the backing store for tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"crmsync/internal/domain/chat"
)

// ConversationRepository keeps conversations in a mutex-guarded map.
type ConversationRepository struct {
	mu    sync.RWMutex
	seq   int64
	items map[int64]chat.Conversation
}

// NewConversationRepository builds an empty repository.
func NewConversationRepository() *ConversationRepository {
	return &ConversationRepository{items: make(map[int64]chat.Conversation)}
}

// List returns every conversation, most recently active first.
func (r *ConversationRepository) List(ctx context.Context) ([]chat.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]chat.Conversation, 0, len(r.items))
	for _, conv := range r.items {
		out = append(out, conv)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastActivity.Equal(out[j].LastActivity) {
			return out[i].ID > out[j].ID
		}
		return out[i].LastActivity.After(out[j].LastActivity)
	})
	return out, nil
}

// Get returns a conversation or chat.ErrConversationNotFound.
func (r *ConversationRepository) Get(ctx context.Context, id int64) (chat.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conv, ok := r.items[id]
	if !ok {
		return chat.Conversation{}, chat.ErrConversationNotFound
	}
	return conv, nil
}

// Create stores a conversation, assigning its id.
func (r *ConversationRepository) Create(ctx context.Context, conv chat.Conversation) (chat.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	conv.ID = r.seq
	if conv.StartedAt.IsZero() {
		conv.StartedAt = time.Now().UTC()
	}
	if conv.LastActivity.IsZero() {
		conv.LastActivity = conv.StartedAt
	}
	r.items[conv.ID] = conv
	return conv, nil
}

// FindByLead returns the lead's open conversation on one channel, nil when
// none exists. With several candidates the most recently started wins.
func (r *ConversationRepository) FindByLead(ctx context.Context, leadID int64, channel chat.Channel) (*chat.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var found *chat.Conversation
	for _, conv := range r.items {
		if conv.Lead.ID != leadID || conv.Channel != channel || conv.Status != chat.StatusOpen {
			continue
		}
		if found == nil || conv.StartedAt.After(found.StartedAt) {
			c := conv
			found = &c
		}
	}
	return found, nil
}

// Delete removes a conversation or returns chat.ErrConversationNotFound.
func (r *ConversationRepository) Delete(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[id]; !ok {
		return chat.ErrConversationNotFound
	}
	delete(r.items, id)
	return nil
}

// MarkRead zeroes the unread counter.
func (r *ConversationRepository) MarkRead(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.items[id]
	if !ok {
		return chat.ErrConversationNotFound
	}
	conv.UnreadCount = 0
	r.items[id] = conv
	return nil
}

// ApplyMessage folds a stored message into the conversation's preview,
// unread counter and last-activity timestamp.
func (r *ConversationRepository) ApplyMessage(ctx context.Context, msg chat.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.items[msg.ConversationID]
	if !ok {
		return chat.ErrConversationNotFound
	}
	body := msg.Body
	if body == "" && msg.Media != nil {
		if msg.Media.Caption != "" {
			body = msg.Media.Caption
		} else {
			body = msg.Media.Resolve().Label()
		}
	}
	conv.Preview = chat.Preview{Body: body, Direction: msg.Direction}
	conv.LastActivity = msg.SentAt
	if msg.Direction == chat.DirectionInbound {
		conv.UnreadCount++
	}
	r.items[msg.ConversationID] = conv
	return nil
}

// MessageRepository keeps messages per conversation in a mutex-guarded map.
type MessageRepository struct {
	mu     sync.RWMutex
	seq    int64
	byConv map[int64][]chat.Message
}

// NewMessageRepository builds an empty repository.
func NewMessageRepository() *MessageRepository {
	return &MessageRepository{byConv: make(map[int64][]chat.Message)}
}

// ListByConversation returns the stored messages in append order.
func (r *MessageRepository) ListByConversation(ctx context.Context, conversationID int64) ([]chat.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]chat.Message(nil), r.byConv[conversationID]...), nil
}

// Get returns one message or chat.ErrMessageNotFound.
func (r *MessageRepository) Get(ctx context.Context, conversationID, messageID int64) (chat.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, msg := range r.byConv[conversationID] {
		if msg.ID == messageID {
			return msg, nil
		}
	}
	return chat.Message{}, chat.ErrMessageNotFound
}

// Append stores a message, assigning id and sent timestamp when unset.
func (r *MessageRepository) Append(ctx context.Context, msg chat.Message) (chat.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	msg.ID = r.seq
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now().UTC()
	}
	r.byConv[msg.ConversationID] = append(r.byConv[msg.ConversationID], msg)
	return msg, nil
}

// DeleteByConversation drops every message of one conversation.
func (r *MessageRepository) DeleteByConversation(ctx context.Context, conversationID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byConv, conversationID)
	return nil
}
