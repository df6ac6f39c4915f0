package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	"crmsync/internal/app/inboxsvc"
	"crmsync/internal/domain/chat"
	"crmsync/internal/infra/inbox"
)

// inboundEnvelope is the record shape channel gateways produce for
// provider-originated messages.
type inboundEnvelope struct {
	EventID string         `json:"event_id"`
	Lead    chat.Lead      `json:"lead"`
	Channel chat.Channel   `json:"channel"`
	Body    string         `json:"body"`
	Media   *chat.MediaRef `json:"media,omitempty"`
	SentAt  time.Time      `json:"sent_at"`
}

// IngestBridge feeds consumed provider messages into the inbox service.
type IngestBridge struct {
	svc    *inboxsvc.Service
	dedupe inbox.Dedupe
	logger *slog.Logger
}

func NewIngestBridge(svc *inboxsvc.Service, dedupe inbox.Dedupe, logger *slog.Logger) *IngestBridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestBridge{svc: svc, dedupe: dedupe, logger: logger}
}

// Handle decodes one record and ingests it. Records that cannot decode are
// skipped rather than redelivered forever; ingest failures are returned so
// the record stays unmarked.
func (b *IngestBridge) Handle(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var env inboundEnvelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		b.logger.Warn("dropping undecodable inbound record",
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "error", err)
		return nil
	}

	eventID := env.EventID
	if eventID == "" {
		eventID = fmt.Sprintf("%s/%d/%d", msg.Topic, msg.Partition, msg.Offset)
	}
	if b.dedupe != nil {
		seen, err := b.dedupe.Seen(ctx, eventID)
		if err != nil {
			return fmt.Errorf("kafka: dedupe check: %w", err)
		}
		if seen {
			b.logger.Debug("skipping replayed inbound record", "event_id", eventID)
			return nil
		}
	}

	stored, err := b.svc.Ingest(ctx, inboxsvc.Inbound{
		Lead:    env.Lead,
		Channel: env.Channel,
		Body:    env.Body,
		Media:   env.Media,
		SentAt:  env.SentAt,
	})
	if err != nil {
		return fmt.Errorf("kafka: ingest inbound record: %w", err)
	}
	b.logger.Info("inbound message ingested",
		"event_id", eventID, "conversation_id", stored.ConversationID, "message_id", stored.ID)
	return nil
}

var _ MessageHandler = (*IngestBridge)(nil)
