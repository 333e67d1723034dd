// Package a2a is the agent RPC boundary of the relay.
//
// A Client sends one turn to an agent endpoint and classifies the answer as
// NoResponse, Handoff or Terminal. Streamed content is forwarded to an
// Observer while the call is in flight.
//
// Two clients are provided: HTTPClient speaks newline delimited JSON frames
// over HTTP, and ModelClient runs in-process agents backed by a model.Model
// that hand off through the transfer_to_agent tool. Router dispatches by
// endpoint scheme, and NewHandler serves any Client over the HTTP protocol.
package a2a
