package databases

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/lectura-app/ai-service/pkg/config"
	"github.com/lectura-app/ai-service/pkg/state"
)

// MongoConversationStore implements state.ConversationStore on a
// conversations collection keyed by thread ID.
type MongoConversationStore struct {
	coll *mongo.Collection
}

type conversationDoc struct {
	ThreadID     string          `bson:"_id"`
	UserID       string          `bson:"user_id"`
	CourseID     string          `bson:"course_id"`
	Messages     []state.Message `bson:"messages"`
	MessageCount int             `bson:"message_count"`
	CreatedAt    time.Time       `bson:"created_at,omitempty"`
	UpdatedAt    time.Time       `bson:"updated_at"`
}

func NewMongoConversationStore(client *mongo.Client, cfg *config.MongoConfig) *MongoConversationStore {
	return &MongoConversationStore{
		coll: client.Database(cfg.Database).Collection(cfg.ConversationsCollection),
	}
}

func (s *MongoConversationStore) GetMessages(ctx context.Context, threadID string) ([]state.Message, error) {
	var doc conversationDoc
	err := s.coll.FindOne(ctx, bson.M{"_id": threadID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read conversation %s: %w", threadID, err)
	}
	return doc.Messages, nil
}

func (s *MongoConversationStore) GetRecentMessages(ctx context.Context, threadID string, limit int) ([]state.Message, error) {
	opts := options.FindOne().SetProjection(bson.M{
		"messages": bson.M{"$slice": -limit},
	})

	var doc conversationDoc
	err := s.coll.FindOne(ctx, bson.M{"_id": threadID}, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read conversation %s: %w", threadID, err)
	}
	return doc.Messages, nil
}

func (s *MongoConversationStore) UpsertMessages(ctx context.Context, threadID string, messages []state.Message) error {
	now := time.Now().UTC()
	userID, courseID := state.SplitThreadID(threadID)
	update := bson.M{
		"$set": bson.M{
			"user_id":       userID,
			"course_id":     courseID,
			"messages":      messages,
			"message_count": len(messages),
			"updated_at":    now,
		},
		"$setOnInsert": bson.M{
			"created_at": now,
		},
	}

	_, err := s.coll.UpdateOne(ctx, bson.M{"_id": threadID}, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to upsert conversation %s: %w", threadID, err)
	}
	return nil
}

func (s *MongoConversationStore) Delete(ctx context.Context, threadID string) error {
	if _, err := s.coll.DeleteOne(ctx, bson.M{"_id": threadID}); err != nil {
		return fmt.Errorf("failed to delete conversation %s: %w", threadID, err)
	}
	return nil
}
