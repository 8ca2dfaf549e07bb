package domain

import (
	"sort"
	"time"
)

// Tombstone remembers a garbage-collected session so late redeliveries can still be
// acknowledged instead of recreating the session.
type Tombstone struct {
	Counterparty               string `json:"counterparty"`
	LastReceivedSequenceNumber uint64 `json:"last_received_sequence_number"`

	// AckPending is set when a redelivery arrived after removal and must be acknowledged again.
	AckPending bool `json:"ack_pending,omitempty"`
}

// Checkpoint is the persisted state of one workflow instance.
// A checkpoint is owned by exactly one processing pass at a time.
type Checkpoint struct {
	WorkflowID string                   `json:"workflow_id"`
	FlowName   string                   `json:"flow_name,omitempty"`
	Sessions   map[string]*SessionState `json:"sessions"`
	Tombstones map[string]Tombstone     `json:"tombstones,omitempty"`

	// Metadata is free-form and reserved for adapters (e.g. sealed envelopes).
	Metadata map[string]string `json:"metadata,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// NewCheckpoint creates an empty checkpoint for a workflow instance.
func NewCheckpoint(workflowID, flowName string) *Checkpoint {
	return &Checkpoint{
		WorkflowID: workflowID,
		FlowName:   flowName,
		Sessions:   make(map[string]*SessionState),
		Tombstones: make(map[string]Tombstone),
	}
}

// Session returns the session with the given local id.
func (c *Checkpoint) Session(sessionID string) (*SessionState, bool) {
	s, ok := c.Sessions[sessionID]
	return s, ok
}

// Put stores a session, replacing any previous version.
func (c *Checkpoint) Put(s *SessionState) {
	if c.Sessions == nil {
		c.Sessions = make(map[string]*SessionState)
	}
	c.Sessions[s.SessionID] = s
}

// SessionIDs returns the ids of all live sessions in sorted order.
func (c *Checkpoint) SessionIDs() []string {
	ids := make([]string, 0, len(c.Sessions))
	for id := range c.Sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Clone returns a deep copy.
func (c *Checkpoint) Clone() *Checkpoint {
	if c == nil {
		return nil
	}
	out := *c
	out.Sessions = make(map[string]*SessionState, len(c.Sessions))
	for id, s := range c.Sessions {
		out.Sessions[id] = s.Clone()
	}
	out.Tombstones = make(map[string]Tombstone, len(c.Tombstones))
	for id, t := range c.Tombstones {
		out.Tombstones[id] = t
	}
	if c.Metadata != nil {
		out.Metadata = make(map[string]string, len(c.Metadata))
		for k, v := range c.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

// Envelope routes a session event between workflow instances.
type Envelope struct {
	From  string       `json:"from"`
	To    string       `json:"to"`
	Event SessionEvent `json:"event"`
}
