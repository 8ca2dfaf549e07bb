/*
Package domain contains the core data model of the session protocol.

It defines the wire-level SessionEvent and its closed set of payloads, the per-session
SessionState with its send and receive sequencing state, and the Checkpoint that holds
every session of one workflow instance. This package is kept pure and free of I/O.

# Key Entities

  - SessionEvent: one wire message (Init, Data, Close, Error or Ack payload).
  - SessionState: lifecycle status plus send queue and out-of-order receive buffer.
  - Checkpoint: all sessions of a workflow instance, persisted as a unit.
  - Result: tagged outcome (ok, protocol error, caller error) of engine operations.
*/
package domain
