package storage

import (
	"context"
	"errors"
	"time"

	"PPRelay/data/database/mgo/mongoutil"
	"PPRelay/module/chat/model"
	"PPRelay/tools/errs"
	"PPRelay/tools/ids"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore conversations / messages 两个集合
type MongoStore struct {
	client        *mongoutil.Client
	conversations *mongo.Collection
	messages      *mongo.Collection
	idGen         *ids.Generator
}

var _ Store = (*MongoStore)(nil)

func NewMongoStore(ctx context.Context, cfg *mongoutil.Config, idGen *ids.Generator) (*MongoStore, error) {
	cli, err := mongoutil.NewMongoDB(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if idGen == nil {
		idGen = ids.NewGenerator(1)
	}
	db := cli.GetDB()
	return &MongoStore{
		client:        cli,
		conversations: db.Collection(model.ConversationTableName),
		messages:      db.Collection(model.MessageTableName),
		idGen:         idGen,
	}, nil
}

// EnsureIndexes participants 多键索引 + 会话内按时间
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	if _, err := s.conversations.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "participants", Value: 1}},
	}); err != nil {
		return errs.WrapMsg(err, "create conversations index")
	}
	if _, err := s.messages.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "created_at", Value: 1}},
	}); err != nil {
		return errs.WrapMsg(err, "create messages index")
	}
	return nil
}

func (s *MongoStore) GetConversationParticipants(ctx context.Context, conversationID string) ([]string, error) {
	var c model.Conversation
	err := s.conversations.FindOne(ctx, bson.M{"_id": conversationID},
		options.FindOne().SetProjection(bson.M{"participants": 1})).Decode(&c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errs.ErrNotFound.WrapMsg("conversation", "id", conversationID)
	}
	if err != nil {
		return nil, errs.ErrPersistence.WrapCause(err, "participants")
	}
	return c.Participants, nil
}

func (s *MongoStore) ListUserConversations(ctx context.Context, userID string) ([]model.Conversation, error) {
	cur, err := s.conversations.Find(ctx, bson.M{"participants": userID})
	if err != nil {
		return nil, errs.ErrPersistence.WrapCause(err, "list conversations")
	}
	var out []model.Conversation
	if err := cur.All(ctx, &out); err != nil {
		return nil, errs.ErrPersistence.WrapCause(err, "list conversations")
	}
	return out, nil
}

func (s *MongoStore) CreateMessage(ctx context.Context, in model.NewMessage) (model.Message, error) {
	n, err := s.conversations.CountDocuments(ctx, bson.M{"_id": in.ConversationID}, options.Count().SetLimit(1))
	if err != nil {
		return model.Message{}, errs.ErrPersistence.WrapCause(err, "create message")
	}
	if n == 0 {
		return model.Message{}, errs.ErrNotFound.WrapMsg("conversation", "id", in.ConversationID)
	}
	msg := model.Message{
		ID:             s.idGen.NextString(),
		ConversationID: in.ConversationID,
		SenderID:       in.Sender.ID,
		SenderName:     in.Sender.DisplayName,
		SenderUsername: in.Sender.Username,
		SenderAvatar:   in.Sender.AvatarURL,
		Text:           in.Text,
		ImageURL:       in.ImageURL,
		Status:         model.StatusSent,
		// mongo 只保存到毫秒
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
	if _, err := s.messages.InsertOne(ctx, msg); err != nil {
		return model.Message{}, errs.ErrPersistence.WrapCause(err, "create message")
	}
	return msg, nil
}

func (s *MongoStore) UpdateMessagesStatus(ctx context.Context, conversationID string, messageIDs []string, status model.MessageStatus) (int64, error) {
	if !status.Valid() {
		return 0, errs.ErrArgs.WrapMsg("invalid status", "status", status)
	}
	res, err := s.messages.UpdateMany(ctx,
		bson.M{"_id": bson.M{"$in": messageIDs}, "conversation_id": conversationID},
		bson.M{"$set": bson.M{"status": status}},
	)
	if err != nil {
		return 0, errs.ErrPersistence.WrapCause(err, "update status")
	}
	return res.MatchedCount, nil
}

func (s *MongoStore) GetMessage(ctx context.Context, id string) (model.Message, error) {
	var m model.Message
	err := s.messages.FindOne(ctx, bson.M{"_id": id}).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return model.Message{}, errs.ErrNotFound.WrapMsg("message", "id", id)
	}
	if err != nil {
		return model.Message{}, errs.ErrPersistence.WrapCause(err, "get message")
	}
	m.CreatedAt = m.CreatedAt.UTC()
	return m, nil
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Close(ctx)
}
