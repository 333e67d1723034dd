// Package mongostore implements the relay stores on MongoDB using the v2
// driver. Records are (de)serialised through their bson tags.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/logging"
)

// Collection names.
const (
	ColTasks         = "tasks"
	ColMessages      = "messages"
	ColConversations = "conversations"
)

// Options configures NewStore.
type Options struct {
	ConnectTimeout time.Duration
	Logger         logging.Logger
}

// Store implements core.TaskStore, core.MessageStore and core.ConversationStore.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	logger logging.Logger
}

var (
	_ core.TaskStore         = (*Store)(nil)
	_ core.MessageStore      = (*Store)(nil)
	_ core.ConversationStore = (*Store)(nil)
)

// NewStore connects to uri, pings the server and ensures the indexes.
func NewStore(uri, dbName string, optFns ...func(o *Options)) (*Store, error) {
	opts := Options{ConnectTimeout: 10 * time.Second, Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = logging.OrNop(opts.Logger)

	ctx, cancel := context.WithTimeout(context.Background(), opts.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongostore: connect failed: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongostore: ping failed: %w", err)
	}

	s := &Store{client: client, db: client.Database(dbName), logger: opts.Logger}
	if err := s.ensureIndexes(ctx); err != nil {
		s.logger.Warn("Ensuring mongo indexes failed", "error", err)
	}
	return s, nil
}

// Close disconnects the client.
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// Ping checks the connection to the primary.
func (s *Store) Ping(ctx context.Context) error { return s.client.Ping(ctx, nil) }

func (s *Store) col(name string) *mongo.Collection { return s.db.Collection(name) }

func (s *Store) ensureIndexes(ctx context.Context) error {
	models := map[string][]mongo.IndexModel{
		ColTasks: {
			{Keys: bson.D{{Key: "conversation_id", Value: 1}}},
		},
		ColMessages: {
			{Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "created_at", Value: 1}}},
		},
	}
	for col, idx := range models {
		if _, err := s.col(col).Indexes().CreateMany(ctx, idx); err != nil {
			return fmt.Errorf("create indexes on %s: %w", col, err)
		}
	}
	return nil
}

// wrapError maps driver errors to the core sentinels.
func wrapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("%w: %v", core.ErrNotFound, err)
	}
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %v", core.ErrDuplicate, err)
	}
	return err
}

// CreateTask inserts task. A conflicting id yields an error wrapping
// core.ErrDuplicate.
func (s *Store) CreateTask(ctx context.Context, task *core.Task) error {
	if _, err := s.col(ColTasks).InsertOne(ctx, task); err != nil {
		return fmt.Errorf("insert task: %w", wrapError(err))
	}
	return nil
}

// GetTask returns the task or an error wrapping core.ErrNotFound.
func (s *Store) GetTask(ctx context.Context, id string) (*core.Task, error) {
	var t core.Task
	if err := s.col(ColTasks).FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&t); err != nil {
		return nil, fmt.Errorf("get task %s: %w", id, wrapError(err))
	}
	if t.Metadata == nil {
		t.Metadata = map[string]any{}
	}
	return &t, nil
}

// UpdateTask sets the status and merges metadata key-wise in one update.
func (s *Store) UpdateTask(ctx context.Context, id string, update core.TaskUpdate) error {
	res, err := s.col(ColTasks).UpdateOne(ctx, bson.D{{Key: "_id", Value: id}},
		bson.D{{Key: "$set", Value: taskSetFields(update, time.Now().UTC())}})
	if err != nil {
		return fmt.Errorf("update task: %w", wrapError(err))
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("task %s: %w", id, core.ErrNotFound)
	}
	return nil
}

// taskSetFields addresses each metadata key with a dotted path so that
// concurrent updates of different keys never overwrite each other.
func taskSetFields(update core.TaskUpdate, now time.Time) bson.D {
	set := bson.D{{Key: "updated_at", Value: now}}
	if update.Status != "" {
		set = append(set, bson.E{Key: "status", Value: update.Status})
	}
	for k, v := range update.Metadata {
		set = append(set, bson.E{Key: "metadata." + k, Value: v})
	}
	return set
}

// CreateMessage inserts msg. A repeated id is ignored.
func (s *Store) CreateMessage(ctx context.Context, msg core.MessageRecord) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	_, err := s.col(ColMessages).InsertOne(ctx, msg)
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// ListMessages returns the conversation's messages in creation order.
func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]core.MessageRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := s.col(ColMessages).Find(ctx, bson.D{{Key: "conversation_id", Value: conversationID}}, opts)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer cursor.Close(ctx)

	var out []core.MessageRecord
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	return out, nil
}

type conversationDoc struct {
	ID            string    `bson:"_id"`
	ActiveAgentID string    `bson:"active_agent_id"`
	UpdatedAt     time.Time `bson:"updated_at"`
}

// ActiveAgent returns the conversation's active agent or "".
func (s *Store) ActiveAgent(ctx context.Context, conversationID string) (string, error) {
	var doc conversationDoc
	err := s.col(ColConversations).FindOne(ctx, bson.D{{Key: "_id", Value: conversationID}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get active agent: %w", err)
	}
	return doc.ActiveAgentID, nil
}

// SetActiveAgent moves the conversation's active-agent pointer.
func (s *Store) SetActiveAgent(ctx context.Context, conversationID, agentID string) error {
	_, err := s.col(ColConversations).UpdateOne(ctx,
		bson.D{{Key: "_id", Value: conversationID}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "active_agent_id", Value: agentID},
			{Key: "updated_at", Value: time.Now().UTC()},
		}}},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("set active agent: %w", err)
	}
	return nil
}
