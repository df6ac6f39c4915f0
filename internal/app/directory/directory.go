// Package directory holds the authoritative-as-known conversation list for
// the inbox pane: ordering, filtering, selection and unread counters.
package directory

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"crmsync/internal/domain/chat"
)

// TabAll is the channel filter value matching every conversation. The other
// valid values are the chat.Channel constants.
const TabAll chat.Channel = ""

// Store is the external conversation collaborator consumed by the directory.
type Store interface {
	ListConversations(ctx context.Context) ([]chat.Conversation, error)
	DeleteConversation(ctx context.Context, id int64) error
}

// Directory owns the conversation list. The list is replaced wholesale on
// every refresh; server-provided order is preserved as given. Safe for
// concurrent use.
type Directory struct {
	store  Store
	logger *slog.Logger

	// OnSelect fires when a conversation becomes the open one, including
	// the once-per-session auto-select. Invoked without locks held.
	OnSelect func(chat.Conversation)
	// OnDeselect fires when the open conversation stops existing, so the
	// timeline can be cleared. Invoked without locks held.
	OnDeselect func()

	mu           sync.Mutex
	conversations []chat.Conversation
	openID       int64
	autoSelected bool
}

// New builds an empty directory over the given store.
func New(store Store, logger *slog.Logger) *Directory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Directory{store: store, logger: logger}
}

// Refresh fetches the full conversation list and replaces local state. When
// allowAutoSelect is set and nothing has ever been auto-selected this
// session, the first entry becomes the open conversation; auto-select fires
// at most once per session no matter how often Refresh runs. On fetch
// failure the previous list is retained.
func (d *Directory) Refresh(ctx context.Context, allowAutoSelect bool) error {
	convs, err := d.store.ListConversations(ctx)
	if err != nil {
		d.logger.Error("conversation list fetch failed", "error", err)
		return err
	}
	convs = chat.DedupConversations(convs)

	var selected *chat.Conversation
	d.mu.Lock()
	d.conversations = convs
	if allowAutoSelect && !d.autoSelected && len(convs) > 0 {
		d.autoSelected = true
		d.openID = convs[0].ID
		first := convs[0]
		selected = &first
	}
	onSelect := d.OnSelect
	d.mu.Unlock()

	if selected != nil && onSelect != nil {
		onSelect(*selected)
	}
	return nil
}

// Conversations returns a copy of the current list in server order.
func (d *Directory) Conversations() []chat.Conversation {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]chat.Conversation(nil), d.conversations...)
}

// Filter returns the conversations matching a channel tab and a free-text
// query. The query matches case-insensitively against the lead name and the
// last-message preview; both predicates are ANDed.
func (d *Directory) Filter(tab chat.Channel, query string) []chat.Conversation {
	q := strings.ToLower(strings.TrimSpace(query))
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]chat.Conversation, 0, len(d.conversations))
	for _, c := range d.conversations {
		if tab != TabAll && c.Channel != tab {
			continue
		}
		if q != "" &&
			!strings.Contains(strings.ToLower(c.Lead.Name), q) &&
			!strings.Contains(strings.ToLower(c.Preview.Body), q) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Select makes a conversation the open one and reports whether the id was
// found. OnSelect fires for found ids.
func (d *Directory) Select(id int64) (chat.Conversation, bool) {
	d.mu.Lock()
	var found *chat.Conversation
	for i := range d.conversations {
		if d.conversations[i].ID == id {
			found = &d.conversations[i]
			break
		}
	}
	if found == nil {
		d.mu.Unlock()
		return chat.Conversation{}, false
	}
	d.openID = id
	conv := *found
	onSelect := d.OnSelect
	d.mu.Unlock()

	if onSelect != nil {
		onSelect(conv)
	}
	return conv, true
}

// OpenID returns the id of the open conversation, zero when none is open.
func (d *Directory) OpenID() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.openID
}

// Get returns the conversation with the given id from the local list.
func (d *Directory) Get(id int64) (chat.Conversation, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range d.conversations {
		if c.ID == id {
			return c, true
		}
	}
	return chat.Conversation{}, false
}

// ZeroUnread optimistically clears the unread counter for one conversation,
// leaving order and every other entry untouched.
func (d *Directory) ZeroUnread(id int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.conversations {
		if d.conversations[i].ID == id {
			d.conversations[i].UnreadCount = 0
			return
		}
	}
}

// Delete removes a conversation locally and issues the external delete. A
// store report of an already-missing conversation is treated as success, so
// racing deletes stay idempotent. If the deleted conversation was open,
// OnDeselect fires and no conversation becomes open.
func (d *Directory) Delete(ctx context.Context, id int64) error {
	d.mu.Lock()
	kept := d.conversations[:0]
	for _, c := range d.conversations {
		if c.ID != id {
			kept = append(kept, c)
		}
	}
	d.conversations = kept
	wasOpen := d.openID == id
	if wasOpen {
		d.openID = 0
	}
	onDeselect := d.OnDeselect
	d.mu.Unlock()

	if wasOpen && onDeselect != nil {
		onDeselect()
	}

	if err := d.store.DeleteConversation(ctx, id); err != nil && !errors.Is(err, chat.ErrConversationNotFound) {
		d.logger.Error("conversation delete failed", "conversation_id", id, "error", err)
		return err
	}
	return nil
}
