// Package timeline holds the render-ready message list for the one open
// conversation. It is never patched from push payloads: every push about the
// open conversation triggers a full re-fetch, so the displayed state is
// eventually consistent no matter how events interleave.
package timeline

import (
	"context"
	"log/slog"
	"sync"

	"crmsync/internal/domain/chat"
)

// Store is the external message collaborator consumed by the timeline.
type Store interface {
	ListMessages(ctx context.Context, conversationID int64) ([]chat.Message, error)
}

// ReplyPreview is the compact quote rendered above a replying message. When
// the target message is inside the loaded window the preview resolves to its
// content; otherwise it degrades to type-only information taken from the
// reply reference's denormalized kind.
type ReplyPreview struct {
	MessageID int64
	Kind      chat.MediaKind
	Text      string
	Resolved  bool
}

// Entry is one render-ready timeline row.
type Entry struct {
	chat.Message
	RenderKind chat.MediaKind
	Reply      *ReplyPreview
}

// Timeline owns the open conversation's ordered messages. Loads are tagged
// with a generation so a late response for a conversation that is no longer
// the target is discarded instead of overwriting newer state. Safe for
// concurrent use.
type Timeline struct {
	store  Store
	logger *slog.Logger

	mu             sync.Mutex
	gen            uint64
	conversationID int64
	entries        []Entry
}

// New builds an empty timeline over the given store.
func New(store Store, logger *slog.Logger) *Timeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Timeline{store: store, logger: logger}
}

// Load replaces the entire timeline with a fresh fetch for the conversation.
// A Load that is superseded before its response lands is dropped silently.
// On fetch failure the previous entries stay untouched and the error
// surfaces to the caller.
func (t *Timeline) Load(ctx context.Context, conversationID int64) error {
	t.mu.Lock()
	t.gen++
	gen := t.gen
	t.mu.Unlock()

	msgs, err := t.store.ListMessages(ctx, conversationID)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.gen != gen {
		// A newer load or clear won the race; this response is stale.
		return nil
	}
	if err != nil {
		t.logger.Error("message list fetch failed", "conversation_id", conversationID, "error", err)
		return err
	}
	t.conversationID = conversationID
	t.entries = buildEntries(chat.SortMessages(msgs))
	return nil
}

// Clear empties the timeline, e.g. after the open conversation was deleted.
// In-flight loads started earlier are invalidated.
func (t *Timeline) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.gen++
	t.conversationID = 0
	t.entries = nil
}

// ConversationID returns the conversation the current entries belong to,
// zero when the timeline is empty.
func (t *Timeline) ConversationID() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conversationID
}

// Entries returns a copy of the current rows in display order.
func (t *Timeline) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Entry(nil), t.entries...)
}

// buildEntries derives render kinds and resolves reply references against
// the loaded window.
func buildEntries(msgs []chat.Message) []Entry {
	byID := make(map[int64]chat.Message, len(msgs))
	for _, m := range msgs {
		byID[m.ID] = m
	}
	entries := make([]Entry, 0, len(msgs))
	for _, m := range msgs {
		entry := Entry{Message: m, RenderKind: m.Kind()}
		if m.ReplyTo != nil {
			entry.Reply = resolveReply(*m.ReplyTo, byID)
		}
		entries = append(entries, entry)
	}
	return entries
}

func resolveReply(ref chat.ReplyRef, window map[int64]chat.Message) *ReplyPreview {
	if target, ok := window[ref.MessageID]; ok {
		return &ReplyPreview{
			MessageID: ref.MessageID,
			Kind:      target.Kind(),
			Text:      replyText(target),
			Resolved:  true,
		}
	}
	// Target outside the loaded window: degrade to the denormalized kind
	// carried by the reference itself, never fetch the target.
	text := ref.Preview
	if text == "" {
		text = ref.Kind.Label()
	}
	return &ReplyPreview{MessageID: ref.MessageID, Kind: ref.Kind, Text: text}
}

func replyText(m chat.Message) string {
	if m.Body != "" {
		return m.Body
	}
	if m.Media != nil {
		if m.Media.Caption != "" {
			return m.Media.Caption
		}
		return m.Media.Resolve().Label()
	}
	return m.Kind().Label()
}
