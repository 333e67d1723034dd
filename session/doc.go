// Package session houses the in-memory core.SessionRegistry. A session is
// the per-request bookkeeping (artifact cache, status-update policy,
// emit-operations flag) and never outlives one orchestrator execution.
//
// The registry is an explicit object handed to the orchestrator; there is no
// package level state.
package session
