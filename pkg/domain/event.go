package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ResponderSuffix is appended to a session id on the responder side so that both
// perspectives of the same conversation have distinct local ids.
const ResponderSuffix = "-INITIATED"

// CounterpartySessionID maps a session id to the id the counterparty uses for the
// same session. Applying it twice returns the original id.
func CounterpartySessionID(sessionID string) string {
	if IsResponderSessionID(sessionID) {
		return strings.TrimSuffix(sessionID, ResponderSuffix)
	}
	return sessionID + ResponderSuffix
}

// IsResponderSessionID reports whether the id belongs to the responder side.
func IsResponderSessionID(sessionID string) bool {
	return strings.HasSuffix(sessionID, ResponderSuffix)
}

// Direction tells whether an event was queued locally or received from the transport.
type Direction string

const (
	DirectionOutbound Direction = "OUTBOUND"
	DirectionInbound  Direction = "INBOUND"
)

// PayloadKind is the wire tag of a payload variant.
type PayloadKind string

const (
	KindInit  PayloadKind = "INIT"
	KindData  PayloadKind = "DATA"
	KindClose PayloadKind = "CLOSE"
	KindError PayloadKind = "ERROR"
	KindAck   PayloadKind = "ACK"
)

// Payload is the closed set of session event bodies.
// Only the types in this package implement it.
type Payload interface {
	Kind() PayloadKind
	sealed()
}

// Init opens a session. It is always the first event (sequence number 1) sent by the initiator.
type Init struct {
	FlowName           string `json:"flow_name"`
	OriginatingContext []byte `json:"originating_context,omitempty"`
	ResponderContext   []byte `json:"responder_context,omitempty"`
}

// Data carries an application message.
type Data struct {
	Bytes []byte `json:"bytes"`
}

// Close ends the sender's direction of the session.
type Close struct{}

// Error tells the counterparty the session failed.
type Error struct {
	Message string `json:"message"`
}

// Ack acknowledges every sequence number up to and including SequenceNumber.
// Events carrying an Ack have no sequence number of their own.
type Ack struct {
	SequenceNumber uint64 `json:"sequence_number"`
}

func (Init) Kind() PayloadKind  { return KindInit }
func (Data) Kind() PayloadKind  { return KindData }
func (Close) Kind() PayloadKind { return KindClose }
func (Error) Kind() PayloadKind { return KindError }
func (Ack) Kind() PayloadKind   { return KindAck }

func (Init) sealed()  {}
func (Data) sealed()  {}
func (Close) sealed() {}
func (Error) sealed() {}
func (Ack) sealed()   {}

// SessionEvent is the wire envelope exchanged between two parties for one session.
type SessionEvent struct {
	SessionID      string
	Direction      Direction
	Timestamp      time.Time
	SequenceNumber *uint64
	Payload        Payload
}

// Seq returns the sequence number, or 0 when the event has none.
func (e SessionEvent) Seq() uint64 {
	if e.SequenceNumber == nil {
		return 0
	}
	return *e.SequenceNumber
}

// HasSequence reports whether the event carries a sequence number.
func (e SessionEvent) HasSequence() bool {
	return e.SequenceNumber != nil
}

// Kind returns the payload tag, or "" for an event without payload.
func (e SessionEvent) Kind() PayloadKind {
	if e.Payload == nil {
		return ""
	}
	return e.Payload.Kind()
}

// WithDirection returns a copy of the event stamped with d.
func (e SessionEvent) WithDirection(d Direction) SessionEvent {
	e.Direction = d
	return e
}

// WithSessionID returns a copy of the event addressed to another local session id.
func (e SessionEvent) WithSessionID(id string) SessionEvent {
	e.SessionID = id
	return e
}

// Clone returns a copy that shares no memory with e.
func (e SessionEvent) Clone() SessionEvent {
	if e.SequenceNumber != nil {
		seq := *e.SequenceNumber
		e.SequenceNumber = &seq
	}
	switch p := e.Payload.(type) {
	case Init:
		p.OriginatingContext = cloneBytes(p.OriginatingContext)
		p.ResponderContext = cloneBytes(p.ResponderContext)
		e.Payload = p
	case Data:
		p.Bytes = cloneBytes(p.Bytes)
		e.Payload = p
	}
	return e
}

// Equal reports structural equality.
func (e SessionEvent) Equal(o SessionEvent) bool {
	if e.SessionID != o.SessionID || e.Direction != o.Direction || !e.Timestamp.Equal(o.Timestamp) {
		return false
	}
	if e.HasSequence() != o.HasSequence() || e.Seq() != o.Seq() {
		return false
	}
	return PayloadEqual(e.Payload, o.Payload)
}

// PayloadEqual compares two payloads by value.
func PayloadEqual(a, b Payload) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch pa := a.(type) {
	case Init:
		pb, ok := b.(Init)
		return ok && pa.FlowName == pb.FlowName &&
			bytes.Equal(pa.OriginatingContext, pb.OriginatingContext) &&
			bytes.Equal(pa.ResponderContext, pb.ResponderContext)
	case Data:
		pb, ok := b.(Data)
		return ok && bytes.Equal(pa.Bytes, pb.Bytes)
	case Close:
		_, ok := b.(Close)
		return ok
	case Error:
		pb, ok := b.(Error)
		return ok && pa.Message == pb.Message
	case Ack:
		pb, ok := b.(Ack)
		return ok && pa.SequenceNumber == pb.SequenceNumber
	}
	return false
}

func (e SessionEvent) String() string {
	if e.HasSequence() {
		return fmt.Sprintf("%s[%s #%d %s]", e.Kind(), e.SessionID, e.Seq(), e.Direction)
	}
	return fmt.Sprintf("%s[%s %s]", e.Kind(), e.SessionID, e.Direction)
}

// wireEvent is the JSON shape of a SessionEvent.
type wireEvent struct {
	SessionID      string          `json:"session_id"`
	Direction      Direction       `json:"direction"`
	Timestamp      time.Time       `json:"timestamp"`
	SequenceNumber *uint64         `json:"sequence_number,omitempty"`
	Type           PayloadKind     `json:"type"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

// MarshalJSON encodes the event with an explicit payload type tag.
func (e SessionEvent) MarshalJSON() ([]byte, error) {
	w := wireEvent{
		SessionID:      e.SessionID,
		Direction:      e.Direction,
		Timestamp:      e.Timestamp,
		SequenceNumber: e.SequenceNumber,
	}
	if e.Payload != nil {
		raw, err := json.Marshal(e.Payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s payload: %w", e.Payload.Kind(), err)
		}
		w.Type = e.Payload.Kind()
		w.Payload = raw
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes the tagged wire form produced by MarshalJSON.
func (e *SessionEvent) UnmarshalJSON(data []byte) error {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	payload, err := decodePayload(w.Type, w.Payload)
	if err != nil {
		return err
	}

	*e = SessionEvent{
		SessionID:      w.SessionID,
		Direction:      w.Direction,
		Timestamp:      w.Timestamp,
		SequenceNumber: w.SequenceNumber,
		Payload:        payload,
	}
	return nil
}

func decodePayload(kind PayloadKind, raw json.RawMessage) (Payload, error) {
	if kind == "" {
		return nil, nil
	}
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}

	var (
		p   Payload
		err error
	)
	switch kind {
	case KindInit:
		var v Init
		err = json.Unmarshal(raw, &v)
		p = v
	case KindData:
		var v Data
		err = json.Unmarshal(raw, &v)
		p = v
	case KindClose:
		p = Close{}
	case KindError:
		var v Error
		err = json.Unmarshal(raw, &v)
		p = v
	case KindAck:
		var v Ack
		err = json.Unmarshal(raw, &v)
		p = v
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPayload, kind)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s payload: %w", kind, err)
	}
	return p, nil
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
