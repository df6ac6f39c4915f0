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

// nextID allocates a monotonically increasing id from the counters
// collection. Ids survive restarts, which keeps conversation and message
// ids stable across the REST API and push topics.
func nextID(ctx context.Context, db *mongo.Database, name string) (int64, error) {
	var doc struct {
		Seq int64 `bson:"seq"`
	}
	err := db.Collection("counters").FindOneAndUpdate(
		ctx,
		bson.M{"_id": name},
		bson.M{"$inc": bson.M{"seq": int64(1)}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		return 0, err
	}
	return doc.Seq, nil
}

type ConversationRepository struct {
	db  *mongo.Database
	col *mongo.Collection
}

func NewConversationRepository(db *mongo.Database) *ConversationRepository {
	return &ConversationRepository{db: db, col: db.Collection("conversations")}
}

func (r *ConversationRepository) List(ctx context.Context) ([]chat.Conversation, error) {
	opts := options.Find().SetSort(bson.D{{Key: "last_activity", Value: -1}, {Key: "_id", Value: -1}})
	cur, err := r.col.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []chat.Conversation
	for cur.Next(ctx) {
		var doc conversationDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.toConversation())
	}
	return out, cur.Err()
}

func (r *ConversationRepository) Get(ctx context.Context, id int64) (chat.Conversation, error) {
	var doc conversationDocument
	if err := r.col.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return chat.Conversation{}, chat.ErrConversationNotFound
		}
		return chat.Conversation{}, err
	}
	return doc.toConversation(), nil
}

func (r *ConversationRepository) Create(ctx context.Context, conv chat.Conversation) (chat.Conversation, error) {
	id, err := nextID(ctx, r.db, "conversations")
	if err != nil {
		return chat.Conversation{}, err
	}
	conv.ID = id
	now := time.Now().UTC()
	if conv.StartedAt.IsZero() {
		conv.StartedAt = now
	}
	if conv.LastActivity.IsZero() {
		conv.LastActivity = conv.StartedAt
	}
	if _, err := r.col.InsertOne(ctx, newConversationDocument(conv)); err != nil {
		return chat.Conversation{}, err
	}
	return conv, nil
}

func (r *ConversationRepository) FindByLead(ctx context.Context, leadID int64, channel chat.Channel) (*chat.Conversation, error) {
	filter := bson.M{"lead._id": leadID, "channel": string(channel), "status": string(chat.StatusOpen)}
	opts := options.FindOne().SetSort(bson.D{{Key: "started_at", Value: -1}})
	var doc conversationDocument
	if err := r.col.FindOne(ctx, filter, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	conv := doc.toConversation()
	return &conv, nil
}

func (r *ConversationRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.col.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return chat.ErrConversationNotFound
	}
	return nil
}

func (r *ConversationRepository) MarkRead(ctx context.Context, id int64) error {
	res, err := r.col.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"unread_count": 0}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return chat.ErrConversationNotFound
	}
	return nil
}

func (r *ConversationRepository) ApplyMessage(ctx context.Context, msg chat.Message) error {
	body := msg.Body
	if body == "" && msg.Media != nil {
		if msg.Media.Caption != "" {
			body = msg.Media.Caption
		} else {
			body = msg.Media.Resolve().Label()
		}
	}
	update := bson.M{"$set": bson.M{
		"preview":       previewDocument{Body: body, Direction: string(msg.Direction)},
		"last_activity": msg.SentAt.UnixMilli(),
	}}
	if msg.Direction == chat.DirectionInbound {
		update["$inc"] = bson.M{"unread_count": 1}
	}
	res, err := r.col.UpdateOne(ctx, bson.M{"_id": msg.ConversationID}, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return chat.ErrConversationNotFound
	}
	return nil
}

type conversationDocument struct {
	ID           int64           `bson:"_id"`
	Lead         leadDocument    `bson:"lead"`
	AssigneeID   *int64          `bson:"assignee_id,omitempty"`
	Channel      string          `bson:"channel"`
	Preview      previewDocument `bson:"preview"`
	UnreadCount  int             `bson:"unread_count"`
	LastActivity int64           `bson:"last_activity"`
	Status       string          `bson:"status"`
	StartedAt    int64           `bson:"started_at"`
}

type leadDocument struct {
	ID    int64  `bson:"_id"`
	Name  string `bson:"name"`
	Phone string `bson:"phone,omitempty"`
	Email string `bson:"email,omitempty"`
}

type previewDocument struct {
	Body      string `bson:"body"`
	Direction string `bson:"direction"`
}

func newConversationDocument(conv chat.Conversation) conversationDocument {
	return conversationDocument{
		ID:           conv.ID,
		Lead:         leadDocument{ID: conv.Lead.ID, Name: conv.Lead.Name, Phone: conv.Lead.Phone, Email: conv.Lead.Email},
		AssigneeID:   conv.AssigneeID,
		Channel:      string(conv.Channel),
		Preview:      previewDocument{Body: conv.Preview.Body, Direction: string(conv.Preview.Direction)},
		UnreadCount:  conv.UnreadCount,
		LastActivity: conv.LastActivity.UnixMilli(),
		Status:       string(conv.Status),
		StartedAt:    conv.StartedAt.UnixMilli(),
	}
}

func (d conversationDocument) toConversation() chat.Conversation {
	return chat.Conversation{
		ID:           d.ID,
		Lead:         chat.Lead{ID: d.Lead.ID, Name: d.Lead.Name, Phone: d.Lead.Phone, Email: d.Lead.Email},
		AssigneeID:   d.AssigneeID,
		Channel:      chat.Channel(d.Channel),
		Preview:      chat.Preview{Body: d.Preview.Body, Direction: chat.Direction(d.Preview.Direction)},
		UnreadCount:  d.UnreadCount,
		LastActivity: timestampToTime(d.LastActivity),
		Status:       chat.Status(d.Status),
		StartedAt:    timestampToTime(d.StartedAt),
	}
}

func timestampToTime(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
