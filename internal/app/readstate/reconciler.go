// Package readstate keeps unread counters correct under concurrent push
// events and user interaction, with optimistic local updates confirmed by
// the external mark-as-read call.
package readstate

import (
	"context"
	"log/slog"

	"crmsync/internal/domain/chat"
)

// Store is the external mark-as-read collaborator.
type Store interface {
	MarkRead(ctx context.Context, conversationID int64) error
}

// Counters is the slice of the conversation directory the reconciler
// mutates.
type Counters interface {
	ZeroUnread(conversationID int64)
}

// Reconciler applies the read-state policy. Safe for concurrent use.
type Reconciler struct {
	store    Store
	counters Counters
	logger   *slog.Logger
}

// New builds a reconciler over the given store and directory counters.
func New(store Store, counters Counters, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{store: store, counters: counters, logger: logger}
}

// ConversationOpened handles the user opening a conversation: when unread
// messages exist the local counter drops to zero immediately for instant UI
// feedback, then the external mark-as-read call confirms it. A failed call
// is logged but not rolled back; the next directory refresh reconverges.
func (r *Reconciler) ConversationOpened(ctx context.Context, conv chat.Conversation) {
	if conv.UnreadCount == 0 {
		return
	}
	r.counters.ZeroUnread(conv.ID)
	if err := r.store.MarkRead(ctx, conv.ID); err != nil {
		r.logger.Warn("mark-as-read failed, keeping optimistic zero", "conversation_id", conv.ID, "error", err)
	}
}

// MessageArrivedWhileOpen handles a push for a new message in the currently
// open conversation: the user is assumed to be looking at it, so it is
// marked read immediately. Conversations that are not open must never go
// through here.
func (r *Reconciler) MessageArrivedWhileOpen(ctx context.Context, conversationID int64) {
	r.counters.ZeroUnread(conversationID)
	if err := r.store.MarkRead(ctx, conversationID); err != nil {
		r.logger.Warn("mark-as-read failed for open conversation", "conversation_id", conversationID, "error", err)
	}
}
