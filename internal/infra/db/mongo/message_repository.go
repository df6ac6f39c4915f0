package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"crmsync/internal/domain/chat"
)

type MessageRepository struct {
	db  *mongo.Database
	col *mongo.Collection
}

func NewMessageRepository(db *mongo.Database) *MessageRepository {
	return &MessageRepository{db: db, col: db.Collection("messages")}
}

func (r *MessageRepository) ListByConversation(ctx context.Context, conversationID int64) ([]chat.Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "sent_at", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := r.col.Find(ctx, bson.M{"conversation_id": conversationID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []chat.Message
	for cur.Next(ctx) {
		var doc messageDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.toMessage())
	}
	return out, cur.Err()
}

func (r *MessageRepository) Get(ctx context.Context, conversationID, messageID int64) (chat.Message, error) {
	var doc messageDocument
	filter := bson.M{"_id": messageID, "conversation_id": conversationID}
	if err := r.col.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return chat.Message{}, chat.ErrMessageNotFound
		}
		return chat.Message{}, err
	}
	return doc.toMessage(), nil
}

func (r *MessageRepository) Append(ctx context.Context, msg chat.Message) (chat.Message, error) {
	id, err := nextID(ctx, r.db, "messages")
	if err != nil {
		return chat.Message{}, err
	}
	msg.ID = id
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now().UTC()
	}
	if _, err := r.col.InsertOne(ctx, newMessageDocument(msg)); err != nil {
		return chat.Message{}, err
	}
	return msg, nil
}

func (r *MessageRepository) DeleteByConversation(ctx context.Context, conversationID int64) error {
	_, err := r.col.DeleteMany(ctx, bson.M{"conversation_id": conversationID})
	return err
}

type messageDocument struct {
	ID             int64            `bson:"_id"`
	ConversationID int64            `bson:"conversation_id"`
	Direction      string           `bson:"direction"`
	Sender         string           `bson:"sender"`
	Body           string           `bson:"body,omitempty"`
	Subject        string           `bson:"subject,omitempty"`
	Media          *mediaDocument   `bson:"media,omitempty"`
	ReplyTo        *replyToDocument `bson:"reply_to,omitempty"`
	SentAt         int64            `bson:"sent_at"`
}

type mediaDocument struct {
	URL      string `bson:"url"`
	MimeType string `bson:"mime_type"`
	Kind     string `bson:"kind"`
	Filename string `bson:"filename,omitempty"`
	Caption  string `bson:"caption,omitempty"`
}

type replyToDocument struct {
	MessageID int64  `bson:"message_id"`
	Kind      string `bson:"kind"`
	Preview   string `bson:"preview,omitempty"`
}

func newMessageDocument(msg chat.Message) messageDocument {
	doc := messageDocument{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		Direction:      string(msg.Direction),
		Sender:         string(msg.Sender),
		Body:           msg.Body,
		Subject:        msg.Subject,
		SentAt:         msg.SentAt.UnixMilli(),
	}
	if msg.Media != nil {
		doc.Media = &mediaDocument{
			URL:      msg.Media.URL,
			MimeType: msg.Media.MimeType,
			Kind:     string(msg.Media.Kind),
			Filename: msg.Media.Filename,
			Caption:  msg.Media.Caption,
		}
	}
	if msg.ReplyTo != nil {
		doc.ReplyTo = &replyToDocument{
			MessageID: msg.ReplyTo.MessageID,
			Kind:      string(msg.ReplyTo.Kind),
			Preview:   msg.ReplyTo.Preview,
		}
	}
	return doc
}

func (d messageDocument) toMessage() chat.Message {
	msg := chat.Message{
		ID:             d.ID,
		ConversationID: d.ConversationID,
		Direction:      chat.Direction(d.Direction),
		Sender:         chat.Sender(d.Sender),
		Body:           d.Body,
		Subject:        d.Subject,
		SentAt:         timestampToTime(d.SentAt),
	}
	if d.Media != nil {
		msg.Media = &chat.MediaRef{
			URL:      d.Media.URL,
			MimeType: d.Media.MimeType,
			Kind:     chat.MediaKind(d.Media.Kind),
			Filename: d.Media.Filename,
			Caption:  d.Media.Caption,
		}
	}
	if d.ReplyTo != nil {
		msg.ReplyTo = &chat.ReplyRef{
			MessageID: d.ReplyTo.MessageID,
			Kind:      chat.MediaKind(d.ReplyTo.Kind),
			Preview:   d.ReplyTo.Preview,
		}
	}
	return msg
}
