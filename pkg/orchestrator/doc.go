// Package orchestrator applies the session engine to every session of a workflow checkpoint.
//
// It batches sends, exposes in-order received events, routes inbound events to the right
// session (creating responder sessions on first contact) and collects outbound envelopes.
// It performs no I/O; loading and saving the checkpoint is the caller's job.
package orchestrator
