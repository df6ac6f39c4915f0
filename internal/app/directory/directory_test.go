package directory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"crmsync/internal/domain/chat"
)

type fakeStore struct {
	mu      sync.Mutex
	list    []chat.Conversation
	listErr error
	deleted []int64
	delErr  error
}

func (s *fakeStore) ListConversations(context.Context) ([]chat.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	return append([]chat.Conversation(nil), s.list...), nil
}

func (s *fakeStore) DeleteConversation(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, id)
	return s.delErr
}

func conv(id int64, name string, channel chat.Channel, unread int) chat.Conversation {
	return chat.Conversation{
		ID:          id,
		Lead:        chat.Lead{ID: id * 10, Name: name},
		Channel:     channel,
		UnreadCount: unread,
		Preview:     chat.Preview{Body: "last from " + name, Direction: chat.DirectionInbound},
		StartedAt:   time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		Status:      chat.StatusOpen,
	}
}

func TestRefresh_ReplacesAndPreservesServerOrder(t *testing.T) {
	store := &fakeStore{list: []chat.Conversation{
		conv(3, "Carol", chat.ChannelEmail, 0),
		conv(1, "Alice", chat.ChannelWhatsApp, 2),
	}}
	dir := New(store, nil)

	require.NoError(t, dir.Refresh(context.Background(), false))
	got := dir.Conversations()
	require.Len(t, got, 2)
	require.EqualValues(t, 3, got[0].ID, "server order must be preserved")
	require.EqualValues(t, 1, got[1].ID)
}

func TestRefresh_FailureRetainsPreviousList(t *testing.T) {
	store := &fakeStore{list: []chat.Conversation{conv(1, "Alice", chat.ChannelWhatsApp, 0)}}
	dir := New(store, nil)
	require.NoError(t, dir.Refresh(context.Background(), false))

	store.mu.Lock()
	store.listErr = errors.New("upstream down")
	store.mu.Unlock()

	require.Error(t, dir.Refresh(context.Background(), false))
	require.Len(t, dir.Conversations(), 1, "failed refresh must not clear state")
}

func TestRefresh_AutoSelectFiresAtMostOncePerSession(t *testing.T) {
	store := &fakeStore{list: []chat.Conversation{
		conv(5, "Eve", chat.ChannelWhatsApp, 0),
		conv(6, "Frank", chat.ChannelEmail, 0),
	}}
	dir := New(store, nil)

	var selected []int64
	dir.OnSelect = func(c chat.Conversation) { selected = append(selected, c.ID) }

	require.NoError(t, dir.Refresh(context.Background(), true))
	require.EqualValues(t, 5, dir.OpenID())

	// Later refreshes never auto-select again, even with a new first entry.
	store.mu.Lock()
	store.list = []chat.Conversation{conv(6, "Frank", chat.ChannelEmail, 0)}
	store.mu.Unlock()
	require.NoError(t, dir.Refresh(context.Background(), true))

	require.Equal(t, []int64{5}, selected)
}

func TestFilter_ChannelAndQueryAreANDed(t *testing.T) {
	store := &fakeStore{list: []chat.Conversation{
		conv(1, "Alice Johnson", chat.ChannelWhatsApp, 0),
		conv(2, "Bob Smith", chat.ChannelEmail, 0),
		conv(3, "alice cooper", chat.ChannelEmail, 0),
	}}
	dir := New(store, nil)
	require.NoError(t, dir.Refresh(context.Background(), false))

	all := dir.Filter(TabAll, "")
	require.Len(t, all, 3)

	emails := dir.Filter(chat.ChannelEmail, "")
	require.Len(t, emails, 2)

	aliceEmails := dir.Filter(chat.ChannelEmail, "ALICE")
	require.Len(t, aliceEmails, 1)
	require.EqualValues(t, 3, aliceEmails[0].ID)

	// Query also matches the last-message preview.
	byPreview := dir.Filter(TabAll, "last from bob")
	require.Len(t, byPreview, 1)
	require.EqualValues(t, 2, byPreview[0].ID)
}

func TestZeroUnread_TouchesOnlyTheTarget(t *testing.T) {
	store := &fakeStore{list: []chat.Conversation{
		conv(1, "Alice", chat.ChannelWhatsApp, 3),
		conv(2, "Bob", chat.ChannelWhatsApp, 0),
	}}
	dir := New(store, nil)
	require.NoError(t, dir.Refresh(context.Background(), false))

	dir.ZeroUnread(1)
	got := dir.Conversations()
	require.EqualValues(t, 1, got[0].ID, "order must not change")
	require.Zero(t, got[0].UnreadCount)
	require.EqualValues(t, 2, got[1].ID)
	require.Zero(t, got[1].UnreadCount)
}

func TestDelete_IsIdempotentAndClearsOpenConversation(t *testing.T) {
	store := &fakeStore{list: []chat.Conversation{conv(1, "Alice", chat.ChannelWhatsApp, 0)}}
	dir := New(store, nil)
	require.NoError(t, dir.Refresh(context.Background(), false))

	deselected := 0
	dir.OnDeselect = func() { deselected++ }
	_, ok := dir.Select(1)
	require.True(t, ok)

	require.NoError(t, dir.Delete(context.Background(), 1))
	require.Zero(t, dir.OpenID(), "no conversation may become open after deleting the open one")
	require.Equal(t, 1, deselected)
	require.Empty(t, dir.Conversations())

	// Second delete races with the UI having removed it already; the store
	// reports not-found and Delete must stay silent.
	store.mu.Lock()
	store.delErr = chat.ErrConversationNotFound
	store.mu.Unlock()
	require.NoError(t, dir.Delete(context.Background(), 1))
}
