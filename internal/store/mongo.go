package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/capitalize-ai/canvas-chat/internal/model"
)

const (
	collConversations = "conversations"
	collMessages      = "messages"
	collArtifacts     = "artifacts"
	collVotes         = "votes"
)

// Mongo is a Store backed by MongoDB. Timestamps are stored with
// millisecond precision.
type Mongo struct {
	client *mongo.Client
	db     *mongo.Database
}

// OpenMongo connects to uri, verifies the connection and ensures indexes.
func OpenMongo(ctx context.Context, uri, database string) (*Mongo, error) {
	if uri == "" {
		return nil, errors.New("mongo uri is required")
	}
	if database == "" {
		database = "canvas_chat"
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	s := &Mongo{client: client, db: client.Database(database)}
	if err := s.ensureIndexes(connectCtx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ensure indexes: %w", err)
	}
	return s, nil
}

func (s *Mongo) ensureIndexes(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		collConversations: {
			{
				Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}},
				Options: options.Index().SetName("idx_user_created"),
			},
		},
		collMessages: {
			{
				Keys:    bson.D{{Key: "conversation_id", Value: 1}, {Key: "created_at", Value: 1}},
				Options: options.Index().SetName("idx_conversation_created"),
			},
		},
		collArtifacts: {
			{
				Keys:    bson.D{{Key: "id", Value: 1}, {Key: "created_at", Value: 1}},
				Options: options.Index().SetUnique(true).SetName("idx_id_created_unique"),
			},
		},
		collVotes: {
			{
				Keys:    bson.D{{Key: "conversation_id", Value: 1}, {Key: "message_id", Value: 1}},
				Options: options.Index().SetUnique(true).SetName("idx_conversation_message_unique"),
			},
		},
	}
	for coll, models := range indexes {
		if _, err := s.db.Collection(coll).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("%s: %w", coll, err)
		}
	}
	return nil
}

func (s *Mongo) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	var conv model.Conversation
	err := s.db.Collection(collConversations).FindOne(ctx, bson.M{"_id": id}).Decode(&conv)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find conversation: %w", err)
	}
	return &conv, nil
}

func (s *Mongo) CreateConversation(ctx context.Context, conv *model.Conversation) error {
	_, err := s.db.Collection(collConversations).InsertOne(ctx, conv)
	if mongo.IsDuplicateKeyError(err) {
		return ErrExists
	}
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	return nil
}

func (s *Mongo) SaveConversation(ctx context.Context, conv *model.Conversation) error {
	_, err := s.db.Collection(collConversations).ReplaceOne(ctx,
		bson.M{"_id": conv.ID}, conv, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("save conversation: %w", err)
	}
	return nil
}

func (s *Mongo) ListConversations(ctx context.Context, userID string, limit, offset int) ([]model.Conversation, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetSkip(int64(offset))
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := s.db.Collection(collConversations).Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer cursor.Close(ctx)

	var convs []model.Conversation
	if err := cursor.All(ctx, &convs); err != nil {
		return nil, fmt.Errorf("decode conversations: %w", err)
	}
	return convs, nil
}

func (s *Mongo) DeleteConversation(ctx context.Context, id string) error {
	res, err := s.db.Collection(collConversations).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	if _, err := s.db.Collection(collMessages).DeleteMany(ctx, bson.M{"conversation_id": id}); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	if _, err := s.db.Collection(collVotes).DeleteMany(ctx, bson.M{"conversation_id": id}); err != nil {
		return fmt.Errorf("delete votes: %w", err)
	}
	return nil
}

func (s *Mongo) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	var msg model.Message
	err := s.db.Collection(collMessages).FindOne(ctx, bson.M{"_id": id}).Decode(&msg)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find message: %w", err)
	}
	return &msg, nil
}

func (s *Mongo) SaveMessages(ctx context.Context, msgs []model.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	writes := make([]mongo.WriteModel, 0, len(msgs))
	for i := range msgs {
		writes = append(writes, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": msgs[i].ID}).
			SetReplacement(&msgs[i]).
			SetUpsert(true))
	}
	if _, err := s.db.Collection(collMessages).BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(true)); err != nil {
		return fmt.Errorf("save messages: %w", err)
	}
	return nil
}

func (s *Mongo) ListMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	cursor, err := s.db.Collection(collMessages).Find(ctx, bson.M{"conversation_id": conversationID}, opts)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer cursor.Close(ctx)

	var msgs []model.Message
	if err := cursor.All(ctx, &msgs); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	return msgs, nil
}

func (s *Mongo) DeleteMessage(ctx context.Context, conversationID, id string) error {
	res, err := s.db.Collection(collMessages).DeleteOne(ctx, bson.M{"_id": id, "conversation_id": conversationID})
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	_, err = s.db.Collection(collVotes).DeleteOne(ctx, bson.M{"conversation_id": conversationID, "message_id": id})
	return err
}

func (s *Mongo) DeleteMessagesAfter(ctx context.Context, conversationID string, ts time.Time) (int, error) {
	filter := bson.M{"conversation_id": conversationID, "created_at": bson.M{"$gt": ts}}

	cursor, err := s.db.Collection(collMessages).Find(ctx, filter,
		options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return 0, fmt.Errorf("find trailing messages: %w", err)
	}
	var ids []struct {
		ID string `bson:"_id"`
	}
	if err := cursor.All(ctx, &ids); err != nil {
		return 0, fmt.Errorf("decode trailing messages: %w", err)
	}

	res, err := s.db.Collection(collMessages).DeleteMany(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("delete trailing messages: %w", err)
	}

	if len(ids) > 0 {
		msgIDs := make([]string, len(ids))
		for i, doc := range ids {
			msgIDs[i] = doc.ID
		}
		_, err = s.db.Collection(collVotes).DeleteMany(ctx,
			bson.M{"conversation_id": conversationID, "message_id": bson.M{"$in": msgIDs}})
		if err != nil {
			return int(res.DeletedCount), fmt.Errorf("delete trailing votes: %w", err)
		}
	}
	return int(res.DeletedCount), nil
}

func (s *Mongo) SaveArtifact(ctx context.Context, a *model.Artifact) error {
	if _, err := s.db.Collection(collArtifacts).InsertOne(ctx, a); err != nil {
		return fmt.Errorf("save artifact: %w", err)
	}
	return nil
}

func (s *Mongo) GetArtifact(ctx context.Context, id string) (*model.Artifact, error) {
	var a model.Artifact
	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}})
	err := s.db.Collection(collArtifacts).FindOne(ctx, bson.M{"id": id}, opts).Decode(&a)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find artifact: %w", err)
	}
	return &a, nil
}

func (s *Mongo) ListArtifactVersions(ctx context.Context, id string) ([]model.Artifact, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	cursor, err := s.db.Collection(collArtifacts).Find(ctx, bson.M{"id": id}, opts)
	if err != nil {
		return nil, fmt.Errorf("list artifact versions: %w", err)
	}
	defer cursor.Close(ctx)

	var versions []model.Artifact
	if err := cursor.All(ctx, &versions); err != nil {
		return nil, fmt.Errorf("decode artifact versions: %w", err)
	}
	if len(versions) == 0 {
		return nil, ErrNotFound
	}
	return versions, nil
}

func (s *Mongo) DeleteArtifactVersionsAfter(ctx context.Context, id string, ts time.Time) (int, error) {
	res, err := s.db.Collection(collArtifacts).DeleteMany(ctx,
		bson.M{"id": id, "created_at": bson.M{"$gt": ts}})
	if err != nil {
		return 0, fmt.Errorf("delete artifact versions: %w", err)
	}
	return int(res.DeletedCount), nil
}

func (s *Mongo) SaveVote(ctx context.Context, v *model.Vote) error {
	_, err := s.db.Collection(collVotes).ReplaceOne(ctx,
		bson.M{"conversation_id": v.ConversationID, "message_id": v.MessageID},
		v, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("save vote: %w", err)
	}
	return nil
}

func (s *Mongo) ListVotes(ctx context.Context, conversationID string) ([]model.Vote, error) {
	cursor, err := s.db.Collection(collVotes).Find(ctx, bson.M{"conversation_id": conversationID})
	if err != nil {
		return nil, fmt.Errorf("list votes: %w", err)
	}
	defer cursor.Close(ctx)

	votes := []model.Vote{}
	if err := cursor.All(ctx, &votes); err != nil {
		return nil, fmt.Errorf("decode votes: %w", err)
	}
	return votes, nil
}

func (s *Mongo) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *Mongo) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
