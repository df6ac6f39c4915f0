package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"crmsync/internal/domain/chat"
)

// outboundEnvelope is the record shape channel gateways consume to deliver
// an agent's reply to the lead.
type outboundEnvelope struct {
	Channel   chat.Channel   `json:"channel"`
	Lead      chat.Lead      `json:"lead"`
	MessageID int64          `json:"message_id"`
	Body      string         `json:"body,omitempty"`
	Subject   string         `json:"subject,omitempty"`
	Media     *chat.MediaRef `json:"media,omitempty"`
	SentAt    time.Time      `json:"sent_at"`
}

// Gateway relays stored outgoing messages to the provider topic, keyed by
// conversation so one thread's messages stay ordered.
type Gateway struct {
	producer *Producer
	topic    string
}

func NewGateway(producer *Producer, topic string) *Gateway {
	return &Gateway{producer: producer, topic: topic}
}

func (g *Gateway) Deliver(ctx context.Context, conv chat.Conversation, msg chat.Message) error {
	payload, err := json.Marshal(outboundEnvelope{
		Channel:   conv.Channel,
		Lead:      conv.Lead,
		MessageID: msg.ID,
		Body:      msg.Body,
		Subject:   msg.Subject,
		Media:     msg.Media,
		SentAt:    msg.SentAt,
	})
	if err != nil {
		return fmt.Errorf("kafka: encode outbound record: %w", err)
	}
	key := strconv.FormatInt(conv.ID, 10)
	headers := map[string]string{"message_id": strconv.FormatInt(msg.ID, 10)}
	return g.producer.Publish(ctx, g.topic, key, payload, headers)
}
