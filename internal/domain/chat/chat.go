package chat

import (
	"sort"
	"time"
)

// Channel identifies the wire channel a conversation runs over.
type Channel string

const (
	// ChannelWhatsApp is the synchronous chat-like channel.
	ChannelWhatsApp Channel = "whatsapp"
	// ChannelEmail is the email-like channel.
	ChannelEmail Channel = "email"
)

// Valid reports whether the channel is one of the two supported values.
func (c Channel) Valid() bool {
	return c == ChannelWhatsApp || c == ChannelEmail
}

// Direction tells whether a message travelled towards or from the lead.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Sender classifies who authored a message.
type Sender string

const (
	SenderUser   Sender = "user"
	SenderLead   Sender = "lead"
	SenderSystem Sender = "system"
)

// Status is the conversation lifecycle state.
type Status string

const (
	StatusOpen     Status = "open"
	StatusClosed   Status = "closed"
	StatusArchived Status = "archived"
)

// Lead is the counterpart entity a conversation belongs to.
type Lead struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
}

// Preview is the denormalized last-message snippet shown in the inbox pane.
type Preview struct {
	Body      string    `json:"body"`
	Direction Direction `json:"direction"`
}

// Conversation is one multi-channel thread with a lead.
type Conversation struct {
	ID           int64     `json:"id"`
	Lead         Lead      `json:"lead"`
	AssigneeID   *int64    `json:"assignee_id,omitempty"`
	Channel      Channel   `json:"channel"`
	Preview      Preview   `json:"preview"`
	UnreadCount  int       `json:"unread_count"`
	LastActivity time.Time `json:"last_activity"`
	Status       Status    `json:"status"`
	StartedAt    time.Time `json:"started_at"`
}

// MediaRef points at an uploaded attachment.
type MediaRef struct {
	URL      string    `json:"url"`
	MimeType string    `json:"mime_type"`
	Kind     MediaKind `json:"kind"`
	Filename string    `json:"filename,omitempty"`
	Caption  string    `json:"caption,omitempty"`
}

// ReplyRef references another message in the same conversation. The
// referenced message may not be loaded; Kind and Preview carry enough
// denormalized detail to render a degraded quote without fetching it.
type ReplyRef struct {
	MessageID int64     `json:"message_id"`
	Kind      MediaKind `json:"kind"`
	Preview   string    `json:"preview,omitempty"`
}

// Message is a single timeline entry.
type Message struct {
	ID             int64     `json:"id"`
	ConversationID int64     `json:"conversation_id"`
	Direction      Direction `json:"direction"`
	Sender         Sender    `json:"sender"`
	Body           string    `json:"body,omitempty"`
	Subject        string    `json:"subject,omitempty"`
	Media          *MediaRef `json:"media,omitempty"`
	ReplyTo        *ReplyRef `json:"reply_to,omitempty"`
	SentAt         time.Time `json:"sent_at"`
}

// Kind returns the renderable kind of the message: the media kind when an
// attachment is present, KindText otherwise.
func (m Message) Kind() MediaKind {
	if m.Media == nil {
		return KindText
	}
	return m.Media.Resolve()
}

// Outgoing is a message dispatch request: text, or a media reference with an
// optional caption, plus an optional reply target. Subject only applies to
// the email channel.
type Outgoing struct {
	ConversationID int64     `json:"conversation_id"`
	Body           string    `json:"body,omitempty"`
	Subject        string    `json:"subject,omitempty"`
	Media          *MediaRef `json:"media,omitempty"`
	ReplyToID      int64     `json:"reply_to_id,omitempty"`
}

// SortMessages orders messages by sent time ascending, ties broken by id
// ascending, and drops duplicate ids keeping the first occurrence.
func SortMessages(msgs []Message) []Message {
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].SentAt.Equal(msgs[j].SentAt) {
			return msgs[i].ID < msgs[j].ID
		}
		return msgs[i].SentAt.Before(msgs[j].SentAt)
	})
	seen := make(map[int64]struct{}, len(msgs))
	out := msgs[:0]
	for _, m := range msgs {
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		out = append(out, m)
	}
	return out
}

// DedupConversations removes duplicate conversation ids, keeping the entry
// that started most recently. The server is the source of truth for the
// one-open-conversation-per-(lead, channel) expectation; duplicates are
// tolerated here rather than rejected. Relative order of survivors follows
// the input order.
func DedupConversations(convs []Conversation) []Conversation {
	newest := make(map[int64]Conversation, len(convs))
	for _, c := range convs {
		if prev, ok := newest[c.ID]; ok && !c.StartedAt.After(prev.StartedAt) {
			continue
		}
		newest[c.ID] = c
	}
	seen := make(map[int64]struct{}, len(newest))
	out := convs[:0]
	for _, c := range convs {
		if _, done := seen[c.ID]; done {
			continue
		}
		seen[c.ID] = struct{}{}
		out = append(out, newest[c.ID])
	}
	return out
}
