// Package sqlstore persists tasks, messages and active-agent pointers through
// database/sql. PostgreSQL runs on the pgx stdlib driver, SQLite on the pure
// Go modernc driver; a Dialect hides the differences.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/agentrelay/core"
)

// Store implements core.TaskStore, core.MessageStore and core.ConversationStore.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

var (
	_ core.TaskStore         = (*Store)(nil)
	_ core.MessageStore      = (*Store)(nil)
	_ core.ConversationStore = (*Store)(nil)
)

// NewStore wraps an open database.
func NewStore(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

// Open connects to dsn with the dialect's driver and pings it. SQLite is
// limited to one connection so that ":memory:" databases are shared and
// writers never contend.
func Open(ctx context.Context, dialect Dialect, dsn string) (*Store, error) {
	db, err := sql.Open(dialect.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect.DriverName(), err)
	}
	switch dialect.(type) {
	case SQLite:
		db.SetMaxOpenConns(1)
		for _, p := range []string{"PRAGMA foreign_keys=ON", "PRAGMA busy_timeout=5000"} {
			if _, err := db.ExecContext(ctx, p); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("set pragma %s: %w", p, err)
			}
		}
	default:
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect.DriverName(), err)
	}
	return NewStore(db, dialect), nil
}

// AutoMigrate creates the relay tables when they do not exist.
func (s *Store) AutoMigrate(ctx context.Context) error {
	for _, stmt := range s.dialect.Schema() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) rebind(query string) string { return s.dialect.Rebind(query) }

// CreateTask inserts task. A conflicting id yields an error wrapping
// core.ErrDuplicate.
func (s *Store) CreateTask(ctx context.Context, task *core.Task) error {
	meta, err := encodeJSON(task.Metadata)
	if err != nil {
		return fmt.Errorf("encode task metadata: %w", err)
	}
	if meta == nil {
		meta = "{}"
	}
	_, err = s.db.ExecContext(ctx, s.rebind(`
INSERT INTO relay_tasks (id, conversation_id, request_id, status, metadata, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`),
		task.ID, task.ConversationID, task.RequestID, string(task.Status), meta,
		task.CreatedAt.UTC(), task.UpdatedAt.UTC())
	if err != nil {
		if s.dialect.IsUniqueViolation(err) {
			return fmt.Errorf("task %s: %w", task.ID, core.ErrDuplicate)
		}
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*core.Task, error) {
	var (
		t      core.Task
		status string
		meta   []byte
	)
	if err := row.Scan(&t.ID, &t.ConversationID, &t.RequestID, &status, &meta, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.Status = core.TaskStatus(status)
	if err := decodeJSON(meta, &t.Metadata); err != nil {
		return nil, fmt.Errorf("decode task metadata: %w", err)
	}
	if t.Metadata == nil {
		t.Metadata = map[string]any{}
	}
	return &t, nil
}

const selectTask = `SELECT id, conversation_id, request_id, status, metadata, created_at, updated_at FROM relay_tasks WHERE id = $1`

// GetTask returns the task or an error wrapping core.ErrNotFound.
func (s *Store) GetTask(ctx context.Context, id string) (*core.Task, error) {
	t, err := scanTask(s.db.QueryRowContext(ctx, s.rebind(selectTask), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// UpdateTask applies update in one transaction; metadata is merged key-wise.
func (s *Store) UpdateTask(ctx context.Context, id string, update core.TaskUpdate) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	t, err := scanTask(tx.QueryRowContext(ctx, s.rebind(selectTask+s.dialect.ForUpdate()), id))
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("task %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("get task: %w", err)
	}
	update.Apply(t)

	meta, err := encodeJSON(t.Metadata)
	if err != nil {
		return fmt.Errorf("encode task metadata: %w", err)
	}
	res, err := tx.ExecContext(ctx, s.rebind(`
UPDATE relay_tasks SET status = $2, metadata = $3, updated_at = $4 WHERE id = $1`),
		id, string(t.Status), meta, t.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("task %s: %w", id, core.ErrNotFound)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// CreateMessage inserts msg. A repeated id is ignored.
func (s *Store) CreateMessage(ctx context.Context, msg core.MessageRecord) error {
	parts, err := encodeJSON(msg.Parts)
	if err != nil {
		return fmt.Errorf("encode message parts: %w", err)
	}
	meta, err := encodeJSON(msg.Metadata)
	if err != nil {
		return fmt.Errorf("encode message metadata: %w", err)
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	_, err = s.db.ExecContext(ctx, s.rebind(`
INSERT INTO relay_messages (id, conversation_id, task_id, role, agent_id, content, parts, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (id) DO NOTHING`),
		msg.ID, msg.ConversationID, msg.TaskID, msg.Role, msg.AgentID, msg.Content,
		parts, meta, msg.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// ListMessages returns the conversation's messages in creation order.
func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]core.MessageRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
SELECT id, conversation_id, task_id, role, agent_id, content, parts, metadata, created_at
FROM relay_messages WHERE conversation_id = $1 ORDER BY created_at, id`), conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []core.MessageRecord
	for rows.Next() {
		var (
			m           core.MessageRecord
			parts, meta []byte
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.TaskID, &m.Role, &m.AgentID, &m.Content,
			&parts, &meta, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if err := decodeJSON(parts, &m.Parts); err != nil {
			return nil, fmt.Errorf("decode message parts: %w", err)
		}
		if err := decodeJSON(meta, &m.Metadata); err != nil {
			return nil, fmt.Errorf("decode message metadata: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return out, nil
}

// ActiveAgent returns the conversation's active agent or "".
func (s *Store) ActiveAgent(ctx context.Context, conversationID string) (string, error) {
	var agentID string
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT active_agent_id FROM relay_conversations WHERE id = $1`), conversationID).Scan(&agentID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get active agent: %w", err)
	}
	return agentID, nil
}

// SetActiveAgent moves the conversation's active-agent pointer.
func (s *Store) SetActiveAgent(ctx context.Context, conversationID, agentID string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
INSERT INTO relay_conversations (id, active_agent_id, updated_at) VALUES ($1, $2, $3)
ON CONFLICT (id) DO UPDATE SET active_agent_id = EXCLUDED.active_agent_id, updated_at = EXCLUDED.updated_at`),
		conversationID, agentID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set active agent: %w", err)
	}
	return nil
}

// encodeJSON returns nil for nil input so that optional columns stay NULL.
func encodeJSON(v any) (any, error) {
	switch x := v.(type) {
	case map[string]any:
		if x == nil {
			return nil, nil
		}
	case []core.MessagePart:
		if x == nil {
			return nil, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func decodeJSON(b []byte, dst any) error {
	if len(b) == 0 {
		return nil
	}
	return json.Unmarshal(b, dst)
}
