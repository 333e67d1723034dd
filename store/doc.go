// Package store groups the persistence backends of the relay. Each
// sub-package implements some of core.TaskStore, core.MessageStore,
// core.ConversationStore and core.OperationPublisher:
//
//   - memory: in-process maps, the default for tests and the CLI
//   - sqlstore: database/sql with PostgreSQL (pgx) or SQLite (modernc)
//   - mongostore: MongoDB tasks, messages and conversations
//   - redisstore: active-agent pointer and Redis Streams operation fan-out
//   - etcdstore: active-agent pointer in etcd
//
// Every backend maps unique key conflicts to core.ErrDuplicate and missing
// rows to core.ErrNotFound.
package store
