// Package redisstore keeps the shared active-agent pointer in Redis and fans
// operations out to Redis Streams so that other services can follow a
// request.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/logging"
)

// DefaultMaxStreamLength caps every operation stream (approximate trimming).
const DefaultMaxStreamLength = 10000

// Options configures a Store.
type Options struct {
	// Prefix namespaces every key.
	Prefix string
	// PointerTTL expires idle active-agent pointers. Zero keeps them forever.
	PointerTTL time.Duration
	// MaxStreamLength caps each request's operation stream.
	MaxStreamLength int64
	Logger          logging.Logger
}

// Store implements core.ConversationStore and core.OperationPublisher.
type Store struct {
	client *redis.Client
	opts   Options
}

var (
	_ core.ConversationStore  = (*Store)(nil)
	_ core.OperationPublisher = (*Store)(nil)
)

// NewStore wraps an existing client.
func NewStore(client *redis.Client, optFns ...func(o *Options)) *Store {
	opts := Options{
		Prefix:          "agentrelay",
		MaxStreamLength: DefaultMaxStreamLength,
		Logger:          logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = logging.OrNop(opts.Logger)
	return &Store{client: client, opts: opts}
}

// NewStoreFromURL parses redisURL, connects and pings the server.
func NewStoreFromURL(redisURL string, optFns ...func(o *Options)) (*Store, error) {
	ropts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(ropts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	s := NewStore(client, optFns...)
	s.opts.Logger.Info("Connected to Redis", "addr", ropts.Addr)
	return s, nil
}

// Close closes the client.
func (s *Store) Close() error { return s.client.Close() }

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error { return s.client.Ping(ctx).Err() }

// Client returns the underlying client.
func (s *Store) Client() *redis.Client { return s.client }

func (s *Store) pointerKey(conversationID string) string {
	return fmt.Sprintf("%s:conversation:%s:active_agent", s.opts.Prefix, conversationID)
}

func (s *Store) streamKey(requestID string) string {
	return fmt.Sprintf("%s:operations:%s", s.opts.Prefix, requestID)
}

// ActiveAgent returns the conversation's active agent or "".
func (s *Store) ActiveAgent(ctx context.Context, conversationID string) (string, error) {
	agentID, err := s.client.Get(ctx, s.pointerKey(conversationID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get active agent: %w", err)
	}
	return agentID, nil
}

// SetActiveAgent moves the conversation's active-agent pointer.
func (s *Store) SetActiveAgent(ctx context.Context, conversationID, agentID string) error {
	if err := s.client.Set(ctx, s.pointerKey(conversationID), agentID, s.opts.PointerTTL).Err(); err != nil {
		return fmt.Errorf("set active agent: %w", err)
	}
	return nil
}

// PublishOperation appends op to the request's stream.
func (s *Store) PublishOperation(ctx context.Context, requestID string, op core.OperationEvent) error {
	values, err := operationValues(op)
	if err != nil {
		return err
	}
	id, err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.streamKey(requestID),
		MaxLen: s.opts.MaxStreamLength,
		Approx: true,
		Values: values,
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to publish operation: %w", err)
	}
	s.opts.Logger.Debug("Published operation", "request_id", requestID, "kind", string(op.Kind), "stream_id", id)
	return nil
}

// Operations reads the request's stream from the beginning.
func (s *Store) Operations(ctx context.Context, requestID string) ([]core.OperationEvent, error) {
	msgs, err := s.client.XRange(ctx, s.streamKey(requestID), "-", "+").Result()
	if err != nil {
		return nil, fmt.Errorf("read operations: %w", err)
	}
	out := make([]core.OperationEvent, 0, len(msgs))
	for _, m := range msgs {
		op, err := operationFromValues(m.Values)
		if err != nil {
			return nil, fmt.Errorf("decode operation %s: %w", m.ID, err)
		}
		out = append(out, op)
	}
	return out, nil
}

func operationValues(op core.OperationEvent) (map[string]any, error) {
	payload, err := json.Marshal(op.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode operation payload: %w", err)
	}
	return map[string]any{
		"id":        op.ID,
		"kind":      string(op.Kind),
		"payload":   string(payload),
		"timestamp": op.Timestamp.UTC().Format(time.RFC3339Nano),
	}, nil
}

func operationFromValues(values map[string]any) (core.OperationEvent, error) {
	str := func(k string) string {
		s, _ := values[k].(string)
		return s
	}
	op := core.OperationEvent{ID: str("id"), Kind: core.OperationKind(str("kind"))}
	if raw := str("payload"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &op.Payload); err != nil {
			return core.OperationEvent{}, err
		}
	}
	if ts := str("timestamp"); ts != "" {
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return core.OperationEvent{}, err
		}
		op.Timestamp = t
	}
	return op, nil
}
