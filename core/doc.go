// Package core provides the foundational domain types and collaborator
// contracts used by agentrelay. It defines:
//
//   - ExecutionRequest / ExecutionResult (one orchestration attempt and its outcome)
//   - Task and MessageRecord (what the orchestrator persists)
//   - Session (per-request bookkeeping scoped to one execution)
//   - Unit and Signal (closed sum types for streamed content and out-of-band events)
//   - ErrorBudget (consecutive failure accounting)
//   - Store, directory and registry interfaces implemented by backend packages
//
// The package keeps implementation concerns (persistence drivers, transports,
// orchestration) out of scope so that backends can be swapped without touching
// calling code.
package core
