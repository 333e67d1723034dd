// Package orchestrator drives one conversation turn across cooperating
// agents.
//
// Execute registers the request's stream adapter, opens a session, creates
// (or adopts) the turn's Task and then loops: send the turn to the active
// agent, classify the answer, and either hand off, retry, or complete. The
// loop is bounded by the request's transfer limit and by a cap on
// consecutive no-response iterations. Every outcome is reported as a
// core.ExecutionResult; failures run one cleanup path that marks the Task
// failed, completes the adapter, ends the session and unregisters the
// adapter.
//
// Streamed agent output is fed through a parser.IncrementalParser into the
// adapter while the call is in flight, so the client sees text before the
// agent's answer is classified.
package orchestrator
