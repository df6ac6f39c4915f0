// Package inboxsvc is the server-side application service behind the
// crmsyncd API: it persists conversations and messages, keeps the
// denormalized preview and unread counters in step, and publishes push
// events for the broker hub to fan out.
package inboxsvc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"crmsync/internal/domain/chat"
)

// ConversationRepository is the persistence contract for conversations.
type ConversationRepository interface {
	List(ctx context.Context) ([]chat.Conversation, error)
	Get(ctx context.Context, id int64) (chat.Conversation, error)
	Create(ctx context.Context, conv chat.Conversation) (chat.Conversation, error)
	FindByLead(ctx context.Context, leadID int64, channel chat.Channel) (*chat.Conversation, error)
	Delete(ctx context.Context, id int64) error
	MarkRead(ctx context.Context, id int64) error
	// ApplyMessage folds a stored message into the conversation's preview,
	// unread counter and last-activity timestamp. Inbound messages
	// increment unread; outbound ones reset nothing.
	ApplyMessage(ctx context.Context, msg chat.Message) error
}

// MessageRepository is the persistence contract for messages.
type MessageRepository interface {
	ListByConversation(ctx context.Context, conversationID int64) ([]chat.Message, error)
	Get(ctx context.Context, conversationID, messageID int64) (chat.Message, error)
	// Append stores the message, assigning its id and sent timestamp when
	// unset, and returns the stored value.
	Append(ctx context.Context, msg chat.Message) (chat.Message, error)
	DeleteByConversation(ctx context.Context, conversationID int64) error
}

// Publisher fans one event out to a broker topic.
type Publisher interface {
	Publish(topic string, ev chat.Event)
}

// Gateway relays a stored outgoing message toward the lead's channel
// provider. Delivery is best effort; the message is already persisted.
type Gateway interface {
	Deliver(ctx context.Context, conv chat.Conversation, msg chat.Message) error
}

// Inbound is a provider-originated message entering the CRM, e.g. from a
// channel gateway posting via Kafka.
type Inbound struct {
	Lead    chat.Lead
	Channel chat.Channel
	Body    string
	Media   *chat.MediaRef
	SentAt  time.Time
}

// Service wires the repositories and the event publisher.
type Service struct {
	convs   ConversationRepository
	msgs    MessageRepository
	pub     Publisher
	gateway Gateway
	logger  *slog.Logger
}

// New builds the service.
func New(convs ConversationRepository, msgs MessageRepository, pub Publisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{convs: convs, msgs: msgs, pub: pub, logger: logger}
}

// WithGateway enables relaying outgoing messages to the channel provider.
func (s *Service) WithGateway(g Gateway) *Service {
	s.gateway = g
	return s
}

// Conversations lists every conversation, most recently active first.
func (s *Service) Conversations(ctx context.Context) ([]chat.Conversation, error) {
	return s.convs.List(ctx)
}

// ConversationsByLead filters the list down to one lead's conversations.
func (s *Service) ConversationsByLead(ctx context.Context, leadID int64) ([]chat.Conversation, error) {
	all, err := s.convs.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]chat.Conversation, 0, 1)
	for _, c := range all {
		if c.Lead.ID == leadID {
			out = append(out, c)
		}
	}
	return out, nil
}

// CreateConversation opens a conversation with a lead on one channel.
func (s *Service) CreateConversation(ctx context.Context, lead chat.Lead, channel chat.Channel, assigneeID *int64) (chat.Conversation, error) {
	if !channel.Valid() {
		return chat.Conversation{}, fmt.Errorf("inboxsvc: unknown channel %q", channel)
	}
	now := time.Now().UTC()
	conv, err := s.convs.Create(ctx, chat.Conversation{
		Lead:         lead,
		AssigneeID:   assigneeID,
		Channel:      channel,
		Status:       chat.StatusOpen,
		StartedAt:    now,
		LastActivity: now,
	})
	if err != nil {
		return chat.Conversation{}, err
	}
	s.publish(conv.ID, chat.EventConversationUpdated)
	return conv, nil
}

// DeleteConversation removes a conversation and its messages. Deleting an
// already-missing conversation is not an error.
func (s *Service) DeleteConversation(ctx context.Context, id int64) error {
	if err := s.convs.Delete(ctx, id); err != nil {
		if errors.Is(err, chat.ErrConversationNotFound) {
			return nil
		}
		return err
	}
	if err := s.msgs.DeleteByConversation(ctx, id); err != nil {
		s.logger.Error("message cleanup after delete failed", "conversation_id", id, "error", err)
	}
	s.publish(id, chat.EventConversationUpdated)
	return nil
}

// MarkRead zeroes the unread counter.
func (s *Service) MarkRead(ctx context.Context, id int64) error {
	if err := s.convs.MarkRead(ctx, id); err != nil {
		return err
	}
	s.publish(id, chat.EventConversationUpdated)
	return nil
}

// Messages returns one conversation's messages in sent order.
func (s *Service) Messages(ctx context.Context, conversationID int64) ([]chat.Message, error) {
	if _, err := s.convs.Get(ctx, conversationID); err != nil {
		return nil, err
	}
	msgs, err := s.msgs.ListByConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return chat.SortMessages(msgs), nil
}

// Send stores an internal user's outgoing message and publishes the
// message-sent confirmation.
func (s *Service) Send(ctx context.Context, out chat.Outgoing) (chat.Message, error) {
	if strings.TrimSpace(out.Body) == "" && out.Media == nil {
		return chat.Message{}, errors.New("inboxsvc: message needs text or media")
	}
	conv, err := s.convs.Get(ctx, out.ConversationID)
	if err != nil {
		return chat.Message{}, err
	}

	msg := chat.Message{
		ConversationID: conv.ID,
		Direction:      chat.DirectionOutbound,
		Sender:         chat.SenderUser,
		Body:           strings.TrimSpace(out.Body),
		Subject:        out.Subject,
		Media:          out.Media,
	}
	if out.ReplyToID != 0 {
		ref, err := s.replyRef(ctx, conv.ID, out.ReplyToID)
		if err != nil {
			return chat.Message{}, err
		}
		msg.ReplyTo = ref
	}

	stored, err := s.msgs.Append(ctx, msg)
	if err != nil {
		return chat.Message{}, err
	}
	if err := s.convs.ApplyMessage(ctx, stored); err != nil {
		s.logger.Error("conversation preview update failed", "conversation_id", conv.ID, "error", err)
	}
	if s.gateway != nil {
		if err := s.gateway.Deliver(ctx, conv, stored); err != nil {
			s.logger.Error("provider delivery failed", "conversation_id", conv.ID, "message_id", stored.ID, "error", err)
		}
	}
	s.publish(conv.ID, chat.EventMessageSent)
	return stored, nil
}

// Ingest stores a provider-originated inbound message, creating the lead's
// conversation on first contact, and publishes new-message.
func (s *Service) Ingest(ctx context.Context, in Inbound) (chat.Message, error) {
	if !in.Channel.Valid() {
		return chat.Message{}, fmt.Errorf("inboxsvc: unknown channel %q", in.Channel)
	}
	conv, err := s.convs.FindByLead(ctx, in.Lead.ID, in.Channel)
	if err != nil {
		return chat.Message{}, err
	}
	if conv == nil {
		created, err := s.CreateConversation(ctx, in.Lead, in.Channel, nil)
		if err != nil {
			return chat.Message{}, err
		}
		conv = &created
	}

	sentAt := in.SentAt
	if sentAt.IsZero() {
		sentAt = time.Now().UTC()
	}
	stored, err := s.msgs.Append(ctx, chat.Message{
		ConversationID: conv.ID,
		Direction:      chat.DirectionInbound,
		Sender:         chat.SenderLead,
		Body:           in.Body,
		Media:          in.Media,
		SentAt:         sentAt,
	})
	if err != nil {
		return chat.Message{}, err
	}
	if err := s.convs.ApplyMessage(ctx, stored); err != nil {
		s.logger.Error("conversation preview update failed", "conversation_id", conv.ID, "error", err)
	}
	s.publish(conv.ID, chat.EventNewMessage)
	return stored, nil
}

// replyRef denormalizes the reply target's kind and a short preview into
// the reference, so clients can render a degraded quote without the target
// loaded.
func (s *Service) replyRef(ctx context.Context, conversationID, messageID int64) (*chat.ReplyRef, error) {
	target, err := s.msgs.Get(ctx, conversationID, messageID)
	if err != nil {
		if errors.Is(err, chat.ErrMessageNotFound) {
			return nil, fmt.Errorf("inboxsvc: reply target %d not in conversation %d", messageID, conversationID)
		}
		return nil, err
	}
	preview := target.Body
	if preview == "" && target.Media != nil {
		preview = target.Media.Caption
	}
	if len(preview) > 120 {
		// Back off to a rune boundary so the cut never yields invalid
		// UTF-8.
		cut := 120
		for cut > 0 && !utf8.RuneStart(preview[cut]) {
			cut--
		}
		preview = preview[:cut]
	}
	return &chat.ReplyRef{MessageID: target.ID, Kind: target.Kind(), Preview: preview}, nil
}

// publish fans the event out to the global feed and the conversation feed.
func (s *Service) publish(conversationID int64, typ chat.EventType) {
	if s.pub == nil {
		return
	}
	ev := chat.Event{Type: typ, ConversationID: conversationID}
	s.pub.Publish(chat.GlobalTopic, ev)
	s.pub.Publish(chat.ConversationTopic(conversationID), ev)
}
