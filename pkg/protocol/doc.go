/*
Package protocol implements the session protocol engine.

The Engine is a pure transformer: given a prior domain.SessionState and an outgoing
payload or inbound event, it returns a new state. It performs no I/O and keeps no state
of its own, so replaying the same inputs against a restored checkpoint reproduces the
same result.

# Guarantees

  - Sequence numbers are assigned per session and direction, starting at 1.
  - Inbound events are deduplicated by sequence number and handed to the application
    strictly in order (GetNextReceivedEvent gates on LastProcessed+1).
  - Sent events stay queued until the counterparty acknowledges them; GetMessagesToSend
    is both the first-send and the resend path.
  - Protocol violations drive the session to ERROR and are reported as a
    domain.Result, never as a panic or Go error.
*/
package protocol
