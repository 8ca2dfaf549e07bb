/*
Package ports defines the driven ports (interfaces) around the session protocol core.

These interfaces decouple the pure protocol logic from external implementations, allowing
it to work with various checkpoint stores, transports and lockers.

# Key Interfaces

  - SessionEngine: the pure per-session protocol operations (implemented by pkg/protocol).
  - CheckpointStore: persists whole workflow checkpoints.
  - Transport: at-least-once publication and delivery of session envelopes.
  - DistributedLocker: keeps a single writer per checkpoint across replicas.
*/
package ports
