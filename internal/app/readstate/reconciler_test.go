package readstate

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"crmsync/internal/domain/chat"
)

type fakeStore struct {
	mu     sync.Mutex
	marked []int64
	err    error
}

func (s *fakeStore) MarkRead(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marked = append(s.marked, id)
	return s.err
}

type fakeCounters struct {
	mu     sync.Mutex
	zeroed []int64
}

func (c *fakeCounters) ZeroUnread(id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.zeroed = append(c.zeroed, id)
}

func TestConversationOpened_ZeroesBeforeNetworkCall(t *testing.T) {
	store := &fakeStore{}
	counters := &fakeCounters{}
	r := New(store, counters, nil)

	r.ConversationOpened(context.Background(), chat.Conversation{ID: 1, UnreadCount: 3})

	require.Equal(t, []int64{1}, counters.zeroed)
	require.Equal(t, []int64{1}, store.marked)
}

func TestConversationOpened_SkipsAlreadyRead(t *testing.T) {
	store := &fakeStore{}
	counters := &fakeCounters{}
	r := New(store, counters, nil)

	r.ConversationOpened(context.Background(), chat.Conversation{ID: 2, UnreadCount: 0})

	require.Empty(t, counters.zeroed)
	require.Empty(t, store.marked, "opening an already-read conversation must not call mark-read")
}

func TestConversationOpened_NoRollbackOnFailure(t *testing.T) {
	store := &fakeStore{err: errors.New("gateway timeout")}
	counters := &fakeCounters{}
	r := New(store, counters, nil)

	r.ConversationOpened(context.Background(), chat.Conversation{ID: 3, UnreadCount: 1})

	// The optimistic zero stands even though the confirmation failed.
	require.Equal(t, []int64{3}, counters.zeroed)
}

func TestMessageArrivedWhileOpen_MarksRead(t *testing.T) {
	store := &fakeStore{}
	counters := &fakeCounters{}
	r := New(store, counters, nil)

	r.MessageArrivedWhileOpen(context.Background(), 7)

	require.Equal(t, []int64{7}, store.marked)
	require.Equal(t, []int64{7}, counters.zeroed)
}
