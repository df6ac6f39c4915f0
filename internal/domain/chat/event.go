package chat

import (
	"encoding/json"
	"fmt"
)

// EventType tags a push event on the broker wire.
type EventType string

const (
	// EventNewMessage signals a message created by the counterpart or by
	// another internal user.
	EventNewMessage EventType = "new-message"
	// EventMessageSent confirms a message dispatched from this account,
	// e.g. after the provider assigned its external id.
	EventMessageSent EventType = "message-sent"
	// EventConversationUpdated signals metadata changes (assignee, status,
	// unread counters) without a new message.
	EventConversationUpdated EventType = "conversation-updated"
)

// Event is the wire shape pushed over broker topics. Payload is advisory
// only: consumers re-fetch authoritative state instead of merging it.
type Event struct {
	Type           EventType       `json:"type"`
	ConversationID int64           `json:"conversationId"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

// DecodeEvent parses a broker frame and validates its type tag.
func DecodeEvent(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("chat: decode event: %w", err)
	}
	switch ev.Type {
	case EventNewMessage, EventMessageSent, EventConversationUpdated:
		return ev, nil
	default:
		return Event{}, fmt.Errorf("chat: unknown event type %q", ev.Type)
	}
}

// GlobalTopic is the feed carrying events for every conversation of the
// account. Per-conversation feeds come from ConversationTopic.
const GlobalTopic = "inbox"

// ConversationTopic names the per-conversation broker feed.
func ConversationTopic(conversationID int64) string {
	return fmt.Sprintf("conversation/%d", conversationID)
}
