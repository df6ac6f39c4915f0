package hub

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crmsync/internal/domain/chat"
	"crmsync/internal/infra/wire"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendControl(t *testing.T, conn *websocket.Conn, action, topic string) {
	t.Helper()
	frame, err := json.Marshal(wire.Control{Action: action, ID: "sub-1", Topic: topic})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))
}

// The control frame is processed by the reader goroutine; wait until the
// hub reflects the wanted subscription state before publishing.
func waitForTopic(t *testing.T, h *Hub, topic string, want bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		h.mu.RLock()
		got := false
		for c := range h.clients {
			if c.subscribed(topic) {
				got = true
				break
			}
		}
		h.mu.RUnlock()
		if got == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("subscription state for %q never became %v", topic, want)
}

func readPush(t *testing.T, conn *websocket.Conn) wire.Push {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var push wire.Push
	require.NoError(t, json.Unmarshal(data, &push))
	return push
}

func TestPublishReachesSubscriber(t *testing.T) {
	h := New(nil)
	defer h.Close()
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn := dial(t, srv)
	sendControl(t, conn, wire.ActionSubscribe, chat.GlobalTopic)
	waitForTopic(t, h, chat.GlobalTopic, true)

	h.Publish(chat.GlobalTopic, chat.Event{Type: chat.EventNewMessage, ConversationID: 12})
	push := readPush(t, conn)
	assert.Equal(t, chat.GlobalTopic, push.Topic)

	decoded, err := chat.DecodeEvent(push.Data)
	require.NoError(t, err)
	assert.Equal(t, chat.EventNewMessage, decoded.Type)
	assert.Equal(t, int64(12), decoded.ConversationID)
}

func TestPublishSkipsOtherTopics(t *testing.T) {
	h := New(nil)
	defer h.Close()
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn := dial(t, srv)
	sendControl(t, conn, wire.ActionSubscribe, chat.ConversationTopic(5))
	waitForTopic(t, h, chat.ConversationTopic(5), true)

	// Delivery is in order per client, so landing a frame on the
	// subscribed topic proves the off-topic one was skipped.
	h.Publish(chat.ConversationTopic(9), chat.Event{Type: chat.EventNewMessage, ConversationID: 9})
	h.Publish(chat.ConversationTopic(5), chat.Event{Type: chat.EventNewMessage, ConversationID: 5})
	push := readPush(t, conn)
	assert.Equal(t, chat.ConversationTopic(5), push.Topic)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	h := New(nil)
	defer h.Close()
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn := dial(t, srv)
	sendControl(t, conn, wire.ActionSubscribe, chat.GlobalTopic)
	waitForTopic(t, h, chat.GlobalTopic, true)

	sendControl(t, conn, wire.ActionUnsubscribe, chat.GlobalTopic)
	waitForTopic(t, h, chat.GlobalTopic, false)

	h.Publish(chat.GlobalTopic, chat.Event{Type: chat.EventNewMessage, ConversationID: 2})
	conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err, "no frame expected after unsubscribe")
}

func TestSlowClientIsDropped(t *testing.T) {
	h := New(nil)
	defer h.Close()
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn := dial(t, srv)
	sendControl(t, conn, wire.ActionSubscribe, chat.GlobalTopic)
	waitForTopic(t, h, chat.GlobalTopic, true)

	// The client never reads. Large frames fill the socket buffer, the
	// writer stalls, the queue overflows and the hub must evict the
	// client rather than block the fan-out.
	payload := json.RawMessage(`"` + strings.Repeat("x", 64<<10) + `"`)
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		h.Publish(chat.GlobalTopic, chat.Event{Type: chat.EventNewMessage, ConversationID: 1, Payload: payload})
		h.mu.RLock()
		n := len(h.clients)
		h.mu.RUnlock()
		if n == 0 {
			return
		}
	}
	t.Fatal("slow client was never dropped")
}

// A publish that picked its targets can race the reader's disconnect path
// closing the client. The send queue is only closed under the client mutex,
// so this must never panic.
func TestPublishDuringDisconnectDoesNotPanic(t *testing.T) {
	h := New(nil)
	defer h.Close()

	clients := make([]*client, 512)
	for i := range clients {
		c := &client{
			send:   make(chan []byte, 1),
			topics: map[string]struct{}{chat.GlobalTopic: {}},
		}
		clients[i] = c
		h.mu.Lock()
		h.clients[c] = struct{}{}
		h.mu.Unlock()
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 64; i++ {
			h.Publish(chat.GlobalTopic, chat.Event{Type: chat.EventNewMessage, ConversationID: int64(i)})
		}
	}()
	for _, c := range clients {
		h.remove(c)
	}
	wg.Wait()

	h.mu.RLock()
	defer h.mu.RUnlock()
	assert.Empty(t, h.clients)
}

func TestCloseDisconnectsClients(t *testing.T) {
	h := New(nil)
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn := dial(t, srv)
	sendControl(t, conn, wire.ActionSubscribe, chat.GlobalTopic)
	waitForTopic(t, h, chat.GlobalTopic, true)

	h.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
