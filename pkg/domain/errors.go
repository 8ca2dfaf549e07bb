package domain

import "errors"

// ErrCheckpointNotFound is returned when a workflow checkpoint cannot be found in the store.
var ErrCheckpointNotFound = errors.New("checkpoint not found")

// ErrSessionNotFound is returned when an operation names a session absent from the checkpoint.
var ErrSessionNotFound = errors.New("session not found")

// ErrSessionExists is returned when initiating a session whose id is already in use.
var ErrSessionExists = errors.New("session already exists")

// ErrNotInOrder is returned when acknowledging an event that is not the in-order head.
var ErrNotInOrder = errors.New("event is not the next in-order event")

// ErrUnknownPayload is returned when decoding an event with an unknown payload tag.
var ErrUnknownPayload = errors.New("unknown payload type")

// ErrInvalidOperation is returned when a send or acknowledgement is not allowed in the session's current state.
var ErrInvalidOperation = errors.New("invalid session operation")
