// Package etcdstore keeps the shared active-agent pointer of each
// conversation in etcd.
package etcdstore

import (
	"context"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/logging"
)

// Config configures NewStore.
type Config struct {
	Endpoints   []string
	DialTimeout time.Duration
	Prefix      string
	// PointerTTL attaches a lease to every pointer write. Zero disables leases.
	PointerTTL time.Duration
	Logger     logging.Logger
}

// Store implements core.ConversationStore.
type Store struct {
	client *clientv3.Client
	prefix string
	ttl    time.Duration
	logger logging.Logger
}

var _ core.ConversationStore = (*Store)(nil)

// NewStore connects to the cluster and checks the first endpoint's health.
func NewStore(cfg Config) (*Store, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("etcdstore: no endpoints configured")
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if _, err := client.Status(ctx, cfg.Endpoints[0]); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("etcd health check failed: %w", err)
	}

	s := NewStoreFromClient(client, cfg)
	s.logger.Info("Connected to etcd", "endpoints", cfg.Endpoints)
	return s, nil
}

// NewStoreFromClient wraps an existing client; only Prefix, PointerTTL and
// Logger of cfg are used.
func NewStoreFromClient(client *clientv3.Client, cfg Config) *Store {
	if cfg.Prefix == "" {
		cfg.Prefix = "/agentrelay"
	}
	return &Store{
		client: client,
		prefix: cfg.Prefix,
		ttl:    cfg.PointerTTL,
		logger: logging.OrNop(cfg.Logger),
	}
}

// Close closes the client.
func (s *Store) Close() error { return s.client.Close() }

// Ping checks that the cluster answers a linearizable read.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.client.Get(ctx, s.prefix, clientv3.WithCountOnly())
	return err
}

func (s *Store) pointerKey(conversationID string) string {
	return fmt.Sprintf("%s/conversations/%s/active_agent", s.prefix, conversationID)
}

// ActiveAgent returns the conversation's active agent or "".
func (s *Store) ActiveAgent(ctx context.Context, conversationID string) (string, error) {
	resp, err := s.client.Get(ctx, s.pointerKey(conversationID))
	if err != nil {
		return "", fmt.Errorf("get active agent: %w", err)
	}
	if len(resp.Kvs) == 0 {
		return "", nil
	}
	return string(resp.Kvs[0].Value), nil
}

// SetActiveAgent moves the conversation's active-agent pointer.
func (s *Store) SetActiveAgent(ctx context.Context, conversationID, agentID string) error {
	var opts []clientv3.OpOption
	if s.ttl > 0 {
		lease, err := s.client.Grant(ctx, int64(s.ttl/time.Second))
		if err != nil {
			return fmt.Errorf("grant lease: %w", err)
		}
		opts = append(opts, clientv3.WithLease(lease.ID))
	}
	if _, err := s.client.Put(ctx, s.pointerKey(conversationID), agentID, opts...); err != nil {
		return fmt.Errorf("set active agent: %w", err)
	}
	return nil
}
